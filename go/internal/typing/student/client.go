// Package student is the player side of a typing room. A Client mirrors the
// teacher's snapshots, runs the local engine during a round and reports
// scores back on the events channel.
package student

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typingblocks/go/internal/typing/engine"
	"github.com/mcdev12/typingblocks/go/internal/typing/events"
	"github.com/mcdev12/typingblocks/go/internal/typing/realtime"
	"github.com/rs/zerolog/log"
)

const (
	DefaultWidth  = 960.0
	DefaultHeight = 640.0
)

// Phase summarizes what the player should be shown.
type Phase int

const (
	PhasePending     Phase = iota // join sent, not yet in the player list
	PhaseAccepted                 // in the lobby
	PhaseBlocked                  // a round is running without us
	PhaseInterrupted              // we were in the room and dropped out of it
	PhasePlaying
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseAccepted:
		return "accepted"
	case PhaseBlocked:
		return "blocked"
	case PhaseInterrupted:
		return "interrupted"
	case PhasePlaying:
		return "playing"
	case PhaseEnded:
		return "ended"
	}
	return "unknown"
}

// EventPublisher defines what the client needs from the events channel
type EventPublisher interface {
	Publish(ctx context.Context, name events.Name, payload any) error
}

type Option func(*Client)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithViewport sets the playfield size used for new rounds.
func WithViewport(width, height float64) Option {
	return func(c *Client) {
		if width > 0 && height > 0 {
			c.width, c.height = width, height
		}
	}
}

// NewPlayerID returns a fresh player id.
func NewPlayerID() string {
	return "player-" + uuid.NewString()
}

// Client is safe for concurrent use: state messages, the tick loop and
// typed input may arrive from different goroutines.
type Client struct {
	mu        sync.Mutex
	roomCode  string
	playerID  string
	name      string
	publisher EventPublisher
	clock     clockwork.Clock
	width     float64
	height    float64

	state   *events.RoomState
	start   *events.GameStartPayload
	endedAt *int64

	accepted    bool
	wasAccepted bool
	joinBlocked bool
	interrupted bool

	engine       *engine.Engine
	engineSeed   string
	gameOverSent bool
	score        int
}

func NewClient(roomCode, playerID, name string, publisher EventPublisher, opts ...Option) *Client {
	c := &Client{
		roomCode:  roomCode,
		playerID:  playerID,
		name:      name,
		publisher: publisher,
		clock:     clockwork.NewRealClock(),
		width:     DefaultWidth,
		height:    DefaultHeight,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) PlayerID() string { return c.playerID }

// HandleRoomState applies a teacher snapshot. Snapshots are taken in
// arrival order; revisions are not compared.
func (c *Client) HandleRoomState(state events.RoomState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := state.Clone()
	c.state = &s

	_, accepted := s.Player(c.playerID)
	if c.wasAccepted && !accepted {
		c.interrupted = true
		log.Warn().Str("room_code", c.roomCode).Str("player_id", c.playerID).Msg("dropped from room")
	}
	if accepted {
		c.interrupted = false
	}
	c.wasAccepted = accepted
	c.accepted = accepted
	c.joinBlocked = s.Status == events.RoomStatusRunning && !accepted

	// A snapshot of a running round stands in for a GAME_START we missed.
	if s.Status == events.RoomStatusRunning && s.Seed != nil && s.StartAt != nil &&
		(c.start == nil || c.start.Seed != *s.Seed) {
		c.beginRoundLocked(events.GameStartPayload{
			Seed:     *s.Seed,
			StartAt:  *s.StartAt,
			Settings: s.Settings,
			Words:    s.Words,
		})
	}
	c.syncEngineLocked()
}

// HandleGameStart resets the local round.
func (c *Client) HandleGameStart(p events.GameStartPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.start != nil && c.start.Seed == p.Seed {
		return
	}
	c.beginRoundLocked(p)
	c.syncEngineLocked()
}

func (c *Client) HandleGameEnd(p events.GameEndPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	endedAt := p.EndedAt
	c.endedAt = &endedAt
}

// HandleMessage routes one state-channel message.
func (c *Client) HandleMessage(msg realtime.Message) {
	switch msg.Name {
	case events.EventRoomState:
		var s events.RoomState
		if err := events.Decode(msg.Data, msg.Name, &s); err != nil {
			log.Debug().Err(err).Msg("dropping malformed room state")
			return
		}
		c.HandleRoomState(s)
	case events.EventGameStart:
		var p events.GameStartPayload
		if err := events.Decode(msg.Data, msg.Name, &p); err != nil {
			log.Debug().Err(err).Msg("dropping malformed game start")
			return
		}
		c.HandleGameStart(p)
	case events.EventGameEnd:
		var p events.GameEndPayload
		if err := events.Decode(msg.Data, msg.Name, &p); err != nil {
			log.Debug().Err(err).Msg("dropping malformed game end")
			return
		}
		c.HandleGameEnd(p)
	}
}

func (c *Client) beginRoundLocked(p events.GameStartPayload) {
	p.Words = append([]string(nil), p.Words...)
	c.start = &p
	c.endedAt = nil
	c.score = 0
	c.gameOverSent = false
	c.interrupted = false
	c.engine = nil
	c.engineSeed = ""
}

// syncEngineLocked runs an engine exactly while we are accepted into a
// running round we know the parameters of.
func (c *Client) syncEngineLocked() {
	running := c.state != nil && c.state.Status == events.RoomStatusRunning
	if !running || c.start == nil || !c.accepted || c.joinBlocked {
		c.engine = nil
		c.engineSeed = ""
		return
	}
	if c.engine != nil && c.engineSeed == c.start.Seed {
		return
	}

	c.engine = engine.New(engine.Options{
		Words:      c.start.Words,
		SpeedLevel: c.start.Settings.SpeedLevel,
		Seed:       c.start.Seed,
		Width:      c.width,
		Height:     c.height,
		Lanes:      engine.LaneCount(c.width),
		StartAt:    msTime(c.start.StartAt),
	})
	c.engineSeed = c.start.Seed
	log.Info().
		Str("room_code", c.roomCode).
		Str("player_id", c.playerID).
		Int("words", len(c.start.Words)).
		Msg("round engine started")
}

// Phase reports the current view state.
func (c *Client) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.joinBlocked:
		return PhaseBlocked
	case c.interrupted:
		return PhaseInterrupted
	case !c.accepted:
		return PhasePending
	case c.engine != nil:
		return PhasePlaying
	case c.endedAt != nil || (c.state != nil && c.state.Status == events.RoomStatusFinished):
		return PhaseEnded
	}
	return PhaseAccepted
}

func (c *Client) Accepted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepted
}

func (c *Client) JoinBlocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joinBlocked
}

func (c *Client) Interrupted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interrupted
}

// RoomState returns the last snapshot received.
func (c *Client) RoomState() (events.RoomState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return events.RoomState{}, false
	}
	return c.state.Clone(), true
}

// Board returns the local engine snapshot while playing.
func (c *Client) Board() (engine.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil {
		return engine.Snapshot{}, false
	}
	return c.engine.Snapshot(), true
}

// Score is the local score of the current round.
func (c *Client) Score() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.score
}

// Join asks the teacher to admit us. Calling it again after an
// interruption is the manual rejoin.
func (c *Client) Join(ctx context.Context) error {
	c.mu.Lock()
	c.interrupted = false
	c.mu.Unlock()
	return c.publisher.Publish(ctx, events.EventJoinRequest, events.JoinRequestPayload{
		PlayerID: c.playerID,
		Name:     c.name,
	})
}

// Tick advances the engine. The first time it ends our round we report
// PLAYER_GAME_OVER; later ticks never report it again.
func (c *Client) Tick(ctx context.Context, now time.Time) (bool, error) {
	c.mu.Lock()
	if c.engine == nil {
		c.mu.Unlock()
		return false, nil
	}
	changed := c.engine.Update(now)
	report := c.engine.IsGameOver() && !c.gameOverSent
	if report {
		c.gameOverSent = true
	}
	c.mu.Unlock()

	if !report {
		return changed, nil
	}
	log.Info().Str("room_code", c.roomCode).Str("player_id", c.playerID).Msg("board overflowed")
	return changed, c.publisher.Publish(ctx, events.EventPlayerGameOver, events.PlayerGameOverPayload{
		PlayerID: c.playerID,
	})
}

// Submit types a word. Hits are reported with the new total.
func (c *Client) Submit(ctx context.Context, text string) (engine.SubmitResult, error) {
	c.mu.Lock()
	if c.engine == nil || c.engine.IsGameOver() {
		c.mu.Unlock()
		return engine.SubmitResult{}, nil
	}
	res := c.engine.SubmitInput(text)
	if res.Hit {
		c.score = res.Score
	}
	c.mu.Unlock()

	if !res.Hit {
		return res, nil
	}
	return res, c.publisher.Publish(ctx, events.EventScoreReport, events.ScoreReportPayload{
		PlayerID: c.playerID,
		Score:    res.Score,
	})
}

// Leave tells the teacher we are gone.
func (c *Client) Leave(ctx context.Context) error {
	return c.publisher.Publish(ctx, events.EventLeaveNotice, events.LeaveNoticePayload{
		PlayerID: c.playerID,
	})
}

func msTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
