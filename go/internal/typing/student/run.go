package student

import (
	"context"
	"fmt"
	"time"

	"github.com/mcdev12/typingblocks/go/internal/typing/events"
	"github.com/mcdev12/typingblocks/go/internal/typing/realtime"
	"github.com/rs/zerolog/log"
)

// FrameInterval paces the engine loop.
const FrameInterval = 16 * time.Millisecond

const leaveTimeout = 2 * time.Second

// StateSource defines what the client needs from the state channel
type StateSource interface {
	Subscribe(ctx context.Context, name events.Name, handler realtime.Handler) error
}

var stateEvents = []events.Name{
	events.EventRoomState,
	events.EventGameStart,
	events.EventGameEnd,
}

// Run subscribes to the room, sends the join request and ticks the engine
// until ctx is done. Subscription failures are returned as is; there is no
// automatic retry. A LEAVE_NOTICE is sent on the way out.
func (c *Client) Run(ctx context.Context, source StateSource) error {
	for _, name := range stateEvents {
		if err := source.Subscribe(ctx, name, c.HandleMessage); err != nil {
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
	}
	if err := c.Join(ctx); err != nil {
		return fmt.Errorf("join room %s: %w", c.roomCode, err)
	}
	log.Info().Str("room_code", c.roomCode).Str("player_id", c.playerID).Msg("join requested")

	ticker := c.clock.NewTicker(FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			leaveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), leaveTimeout)
			defer cancel()
			if err := c.Leave(leaveCtx); err != nil {
				log.Warn().Err(err).Str("player_id", c.playerID).Msg("failed to send leave notice")
			}
			return nil
		case now := <-ticker.Chan():
			if _, err := c.Tick(ctx, now); err != nil {
				log.Error().Err(err).Str("player_id", c.playerID).Msg("failed to report game over")
			}
		}
	}
}
