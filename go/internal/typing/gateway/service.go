// Package gateway relays room channels to websocket clients. Each
// connection is authenticated by a capability token and can only attach,
// read and publish where the token allows.
package gateway

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/mcdev12/typingblocks/go/internal/typing/realtime"
	"github.com/rs/zerolog/log"
)

// Service is the realtime gateway: websocket connections plus the
// broker fan-out behind them.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

func NewService(config Config, broker realtime.Broker, verifier TokenVerifier) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig, broker)
	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, verifier),
	}
}

// Start runs the fan-out loop until ctx is done.
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting realtime gateway")
	s.connectionManager.Start(ctx)
	log.Info().Msg("realtime gateway stopped")
}

func (s *Service) RegisterRoutes(r chi.Router) {
	s.wsHandler.RegisterRoutes(r)
	log.Info().Msg("realtime gateway routes registered")
}
