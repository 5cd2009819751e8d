package orchestrator

import (
	"context"
	"fmt"

	"github.com/mcdev12/typingblocks/go/internal/typing/events"
	"github.com/mcdev12/typingblocks/go/internal/typing/realtime"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EventSource defines what the room needs from the events channel
type EventSource interface {
	Subscribe(ctx context.Context, name events.Name, handler realtime.Handler) error
}

var inboundEvents = []events.Name{
	events.EventJoinRequest,
	events.EventScoreReport,
	events.EventPlayerGameOver,
	events.EventLeaveNotice,
}

// Run subscribes the room to student events, opens it and blocks until ctx
// is done.
func (r *Room) Run(ctx context.Context, source EventSource) error {
	r.mu.Lock()
	r.baseCtx = ctx
	r.mu.Unlock()

	for _, name := range inboundEvents {
		if err := source.Subscribe(ctx, name, func(msg realtime.Message) {
			r.HandleMessage(ctx, msg)
		}); err != nil {
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
	}

	r.Open(ctx)
	<-ctx.Done()
	r.Close()
	return nil
}

// HandleMessage routes one events-channel message. Malformed payloads,
// unknown names and payloads naming a player other than the publishing
// client are dropped.
func (r *Room) HandleMessage(ctx context.Context, msg realtime.Message) {
	logger := log.With().
		Str("room_code", r.roomCode()).
		Str("event_type", string(msg.Name)).
		Str("client_id", msg.ClientID).
		Logger()

	switch msg.Name {
	case events.EventJoinRequest:
		var p events.JoinRequestPayload
		if accept(msg, &p, func() string { return p.PlayerID }, logger) {
			r.Join(ctx, p.PlayerID, p.Name)
		}
	case events.EventScoreReport:
		var p events.ScoreReportPayload
		if accept(msg, &p, func() string { return p.PlayerID }, logger) {
			r.ReportScore(ctx, p.PlayerID, p.Score)
		}
	case events.EventPlayerGameOver:
		var p events.PlayerGameOverPayload
		if accept(msg, &p, func() string { return p.PlayerID }, logger) {
			r.PlayerGameOver(ctx, p.PlayerID)
		}
	case events.EventLeaveNotice:
		var p events.LeaveNoticePayload
		if accept(msg, &p, func() string { return p.PlayerID }, logger) {
			r.Leave(ctx, p.PlayerID)
		}
	default:
		logger.Debug().Msg("ignoring unknown event")
	}
}

// accept decodes msg into out and checks that the payload's player is the
// client that published it.
func accept(msg realtime.Message, out any, playerID func() string, logger zerolog.Logger) bool {
	if err := events.Decode(msg.Data, msg.Name, out); err != nil {
		logger.Debug().Err(err).Msg("dropping malformed event")
		return false
	}
	if msg.ClientID != "" && msg.ClientID != playerID() {
		logger.Debug().Str("player_id", playerID()).Msg("dropping event for another player")
		return false
	}
	return true
}

func (r *Room) roomCode() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.RoomCode
}
