package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/typingblocks/go/internal/config"
	"github.com/mcdev12/typingblocks/go/internal/typing/api"
	"github.com/mcdev12/typingblocks/go/internal/typing/gateway"
	"github.com/mcdev12/typingblocks/go/internal/typing/realtime"
	"github.com/rs/zerolog/log"
)

type broker interface {
	realtime.Broker
	Close() error
}

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	config.SetupLogging(cfg.LogLevel)

	if cfg.SigningSecret == "" {
		log.Warn().Msg("ROOM_SIGNING_SECRET is not set, room creation will fail")
	}
	if cfg.TokenSecret == "" {
		log.Fatal().Msg("REALTIME_TOKEN_SECRET environment variable is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := setupBroker(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up broker")
	}
	defer b.Close()

	srv := api.NewServer(api.Config{
		SigningSecret:  cfg.SigningSecret,
		TokenSecret:    cfg.TokenSecret,
		TicketTTL:      cfg.TicketTTL,
		TokenTTL:       cfg.TokenTTL,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	gw := gateway.NewService(gateway.DefaultConfig(), b, srv.TokenIssuer())
	gw.RegisterRoutes(srv.Router())
	go gw.Start(ctx)

	server := srv.HTTPServer(cfg.Port)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("broker", cfg.Broker).
			Msg("typing api server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop the gateway first so websocket clients get a close frame
	cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	log.Info().Msg("typing api shutdown complete")
}

func setupBroker(ctx context.Context, cfg *config.Config) (broker, error) {
	if cfg.Broker != config.BrokerNATS {
		log.Info().Msg("using in-memory broker")
		return realtime.NewMemoryBroker(), nil
	}

	natsCfg := realtime.DefaultNATSConfig()
	natsCfg.URL = cfg.NATSURL
	return realtime.NewNATSBroker(ctx, natsCfg)
}
