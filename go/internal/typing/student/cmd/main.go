package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/mcdev12/typingblocks/go/internal/config"
	"github.com/mcdev12/typingblocks/go/internal/typing/api"
	"github.com/mcdev12/typingblocks/go/internal/typing/events"
	"github.com/mcdev12/typingblocks/go/internal/typing/gateway"
	"github.com/mcdev12/typingblocks/go/internal/typing/realtime"
	"github.com/mcdev12/typingblocks/go/internal/typing/roomcode"
	"github.com/mcdev12/typingblocks/go/internal/typing/student"
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

	code := roomcode.Normalize(os.Getenv("ROOM_CODE"))
	if !roomcode.IsValid(code) {
		log.Fatal().Msg("ROOM_CODE environment variable must be a 6 character room code")
	}
	name := config.GetEnv("PLAYER_NAME", "Bot")
	delay := config.GetEnvAsDuration("BOT_TYPE_DELAY", 800*time.Millisecond)
	accuracy := config.GetEnvAsFloat("BOT_ACCURACY", 0.9)
	playerID := student.NewPlayerID()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	details, err := api.NewClient(cfg.APIURL).RequestToken(ctx, api.TokenRequest{
		RoomCode: code,
		Role:     string(realtime.RoleStudent),
		ClientID: playerID,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to obtain student token")
	}

	b, err := setupBroker(ctx, cfg, details.Token)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up broker")
	}
	defer b.Close()

	conn, err := realtime.Dial(ctx, b, realtime.StaticTokenSource(details.Token))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open realtime connection")
	}
	defer conn.Close()

	client := student.NewClient(code, playerID, name, conn.Channel(events.EventsChannel(code)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := client.Run(ctx, conn.Channel(events.StateChannel(code))); err != nil {
			log.Error().Err(err).Msg("student client stopped")
			cancel()
		}
	}()
	go play(ctx, clockwork.NewRealClock(), client, newTypist(playerID, accuracy), delay)

	log.Info().
		Str("room_code", code).
		Str("player_id", playerID).
		Str("name", name).
		Dur("delay", delay).
		Float64("accuracy", accuracy).
		Msg("student bot started")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-ctx.Done():
	}

	// Run sends the leave notice on its way out
	cancel()
	<-done
	log.Info().Int("score", client.Score()).Msg("student bot shutdown complete")
}

func setupBroker(ctx context.Context, cfg *config.Config, token string) (broker, error) {
	if cfg.Broker == config.BrokerNATS {
		natsCfg := realtime.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		return realtime.NewNATSBroker(ctx, natsCfg)
	}
	return gateway.DialBroker(ctx, gateway.URLFromAPI(cfg.APIURL), token)
}
