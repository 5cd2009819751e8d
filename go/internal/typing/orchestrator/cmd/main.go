package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mcdev12/typingblocks/go/internal/config"
	"github.com/mcdev12/typingblocks/go/internal/typing/api"
	"github.com/mcdev12/typingblocks/go/internal/typing/events"
	"github.com/mcdev12/typingblocks/go/internal/typing/gateway"
	"github.com/mcdev12/typingblocks/go/internal/typing/orchestrator"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := api.NewClient(cfg.APIURL)

	// Reuse a room handed over by env, otherwise create a fresh one
	room := &api.CreateRoomResponse{
		RoomCode:        os.Getenv("ROOM_CODE"),
		TeacherTicket:   os.Getenv("TEACHER_TICKET"),
		TeacherClientID: os.Getenv("TEACHER_CLIENT_ID"),
	}
	if room.RoomCode == "" || room.TeacherTicket == "" || room.TeacherClientID == "" {
		room, err = client.CreateRoom(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create room")
		}
	}

	details, err := client.RequestToken(ctx, api.TokenRequest{
		RoomCode:      room.RoomCode,
		Role:          string(realtime.RoleTeacher),
		ClientID:      room.TeacherClientID,
		TeacherTicket: room.TeacherTicket,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to obtain teacher token")
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

	r := orchestrator.NewRoom(
		room.RoomCode,
		room.TeacherClientID,
		conn.Channel(events.StateChannel(room.RoomCode)),
		roomConfig(cfg.Room),
	)

	go func() {
		if err := r.Run(ctx, conn.Channel(events.EventsChannel(room.RoomCode))); err != nil {
			log.Error().Err(err).Msg("room stopped")
			cancel()
		}
	}()

	log.Info().
		Str("room_code", room.RoomCode).
		Str("client_id", room.TeacherClientID).
		Str("broker", cfg.Broker).
		Msg("room open, type 'help' for commands")

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if err := runCommand(ctx, r, scanner.Text(), os.Stdout); err != nil {
				fmt.Fprintln(os.Stdout, err)
			}
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-ctx.Done():
	}

	cancel()
	log.Info().Str("room_code", room.RoomCode).Msg("teacher shutdown complete")
}

func setupBroker(ctx context.Context, cfg *config.Config, token string) (broker, error) {
	if cfg.Broker == config.BrokerNATS {
		natsCfg := realtime.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		return realtime.NewNATSBroker(ctx, natsCfg)
	}
	return gateway.DialBroker(ctx, gateway.URLFromAPI(cfg.APIURL), token)
}

func roomConfig(d config.RoomDefaults) orchestrator.Config {
	return orchestrator.Config{
		Throttle:         d.Throttle,
		StartLead:        d.StartLead,
		DefaultWords:     d.Words,
		WordCount:        d.WordCount,
		MaxPlayers:       d.MaxPlayers,
		RoundDurationSec: d.RoundDurationSec,
		SpeedLevel:       events.SpeedLevel(d.SpeedLevel),
	}
}
