// Package orchestrator is the teacher-side authority for a typing room. It
// owns the canonical RoomState, applies student events, and drives the
// round lifecycle and its timers.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typingblocks/go/internal/typing/events"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoWords      = errors.New("add at least one word before starting")
	ErrNoPlayers    = errors.New("wait for at least one player before starting")
	ErrRoundRunning = errors.New("a round is already running")
)

// StatePublisher defines what the room needs from the state channel
type StatePublisher interface {
	Publish(ctx context.Context, name events.Name, payload any) error
}

type Option func(*Room)

// WithClock replaces the real clock, mainly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Room) { r.clock = clock }
}

// WithSeedFunc replaces the per-round seed generator.
func WithSeedFunc(f func() string) Option {
	return func(r *Room) { r.newSeed = f }
}

// Room is safe for concurrent use. Every mutation bumps revision and
// updatedAt together and schedules a ROOM_STATE broadcast.
type Room struct {
	mu        sync.Mutex
	state     events.RoomState
	cfg       Config
	clock     clockwork.Clock
	publisher StatePublisher
	newSeed   func() string
	baseCtx   context.Context
	wordSlots int // word count chosen before play; a round shrinks Settings.WordCount to the non-blank words

	throttleTimer clockwork.Timer
	flushSeq      uint64
	autoEndTimer  clockwork.Timer
	round         uint64
	closed        bool
}

// NewRoom creates a room in setup status seeded from cfg.
func NewRoom(roomCode, teacherClientID string, publisher StatePublisher, cfg Config, opts ...Option) *Room {
	r := &Room{
		cfg:       cfg.normalized(),
		clock:     clockwork.NewRealClock(),
		publisher: publisher,
		newSeed:   uuid.NewString,
		baseCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.wordSlots = r.cfg.WordCount

	r.state = events.RoomState{
		RoomCode: roomCode,
		Status:   events.RoomStatusSetup,
		Settings: events.RoomSettings{
			WordCount:        r.cfg.WordCount,
			SpeedLevel:       r.cfg.SpeedLevel,
			MaxPlayers:       r.cfg.MaxPlayers,
			RoundDurationSec: r.cfg.RoundDurationSec,
		},
		Words:           resizeWords(r.cfg.DefaultWords, r.cfg.WordCount),
		TeacherClientID: teacherClientID,
		Revision:        1,
		UpdatedAt:       r.clock.Now().UnixMilli(),
		Players:         []events.Player{},
	}
	return r
}

// Snapshot returns a copy of the current state.
func (r *Room) Snapshot() events.RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Leaderboard ranks the current players.
func (r *Room) Leaderboard(limit int) []events.Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Leaderboard(limit)
}

// Open announces the room. A room still in setup moves to lobby.
func (r *Room) Open(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Status == events.RoomStatusSetup {
		r.state.Status = events.RoomStatusLobby
	}
	r.commitLocked(ctx, true)
	log.Info().Str("room_code", r.state.RoomCode).Msg("room opened")
}

// Join admits a new player or refreshes a returning one. Joins are refused
// while a round runs or when the room is full, rejoins included.
func (r *Room) Join(ctx context.Context, playerID, name string) bool {
	playerID = strings.TrimSpace(playerID)
	name = cleanName(name)
	if playerID == "" || len(playerID) > MaxPlayerIDLength || name == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Status == events.RoomStatusRunning {
		log.Debug().Str("room_code", r.state.RoomCode).Str("player_id", playerID).Msg("join refused: round running")
		return false
	}

	if len(r.state.Players) >= r.state.Settings.MaxPlayers {
		log.Debug().Str("room_code", r.state.RoomCode).Str("player_id", playerID).Msg("join refused: room full")
		return false
	}

	now := r.nowMs()
	if i := r.state.PlayerIndex(playerID); i >= 0 {
		p := &r.state.Players[i]
		p.Name = name
		p.LastSeenAt = now
	} else {
		r.state.Players = append(r.state.Players, events.Player{
			ID:         playerID,
			Name:       name,
			JoinedAt:   now,
			LastSeenAt: now,
		})
	}
	if r.state.Status == events.RoomStatusSetup {
		r.state.Status = events.RoomStatusLobby
	}

	r.commitLocked(ctx, true)
	return true
}

// ReportScore merges a reported score with max so late reports never lower it.
func (r *Room) ReportScore(ctx context.Context, playerID string, score int) bool {
	if score < 0 {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Status != events.RoomStatusRunning {
		return false
	}
	i := r.state.PlayerIndex(playerID)
	if i < 0 {
		return false
	}

	p := &r.state.Players[i]
	p.Score = max(p.Score, score)
	p.LastSeenAt = r.nowMs()

	r.commitLocked(ctx, false)
	return true
}

// PlayerGameOver marks a player out for the round. When every player is
// out the round ends.
func (r *Room) PlayerGameOver(ctx context.Context, playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Status != events.RoomStatusRunning {
		return false
	}
	i := r.state.PlayerIndex(playerID)
	if i < 0 || r.state.Players[i].IsGameOver {
		return false
	}

	p := &r.state.Players[i]
	p.IsGameOver = true
	p.LastSeenAt = r.nowMs()
	r.commitLocked(ctx, true)

	if r.state.AllPlayersGameOver() {
		log.Info().Str("room_code", r.state.RoomCode).Msg("all players out, ending round")
		r.endLocked(ctx)
	}
	return true
}

// Leave keeps the player for the scoreboard but marks them out.
func (r *Room) Leave(ctx context.Context, playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.state.PlayerIndex(playerID)
	if i < 0 || r.state.Players[i].IsGameOver {
		return false
	}

	p := &r.state.Players[i]
	p.IsGameOver = true
	p.LastSeenAt = r.nowMs()
	r.commitLocked(ctx, false)
	return true
}

// UpdateSettings applies clamped settings before the first round. The word
// list is resized to the new word count.
func (r *Room) UpdateSettings(ctx context.Context, s events.RoomSettings) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.editableLocked() {
		return false
	}

	wordCount := clamp(s.WordCount, MinWordCount, MaxWordCount)
	r.state.Settings = events.RoomSettings{
		WordCount:        wordCount,
		SpeedLevel:       s.SpeedLevel.Clamp(),
		MaxPlayers:       max(s.MaxPlayers, 1, len(r.state.Players)),
		RoundDurationSec: clamp(s.RoundDurationSec, MinRoundDurationSec, MaxRoundDurationSec),
	}
	r.state.Words = resizeWords(r.state.Words, wordCount)
	r.wordSlots = wordCount

	r.commitLocked(ctx, false)
	return true
}

// SetWord edits one entry of the word list. Words are frozen while a round
// runs.
func (r *Room) SetWord(ctx context.Context, index int, value string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Status == events.RoomStatusRunning || index < 0 || index >= len(r.state.Words) {
		return false
	}
	r.state.Words[index] = value
	r.commitLocked(ctx, false)
	return true
}

// SetWords replaces the word list, keeping the configured word count.
func (r *Room) SetWords(ctx context.Context, words []string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Status == events.RoomStatusRunning {
		return false
	}
	r.state.Words = resizeWords(words, r.state.Settings.WordCount)
	r.commitLocked(ctx, false)
	return true
}

// StartGame begins a round. Rejections leave the state untouched and
// publish nothing.
func (r *Room) StartGame(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Status == events.RoomStatusRunning {
		return ErrRoundRunning
	}

	words := make([]string, 0, len(r.state.Words))
	for _, w := range r.state.Words {
		if w = strings.TrimSpace(w); w != "" {
			words = append(words, w)
		}
	}
	if len(words) > r.state.Settings.WordCount {
		words = words[:r.state.Settings.WordCount]
	}
	if len(words) == 0 {
		return ErrNoWords
	}
	if len(r.state.Players) == 0 {
		return ErrNoPlayers
	}

	now := r.clock.Now()
	seed := r.newSeed()
	startAt := now.Add(r.cfg.StartLead)
	startAtMs := startAt.UnixMilli()

	r.state.Words = words
	r.state.Settings.WordCount = len(words)
	for i := range r.state.Players {
		r.state.Players[i].Score = 0
		r.state.Players[i].IsGameOver = false
	}
	r.state.Seed = &seed
	r.state.StartAt = &startAtMs
	r.state.Status = events.RoomStatusRunning
	r.commitLocked(ctx, true)

	start := events.GameStartPayload{
		Seed:     seed,
		StartAt:  startAtMs,
		Settings: r.state.Settings,
		Words:    append([]string(nil), words...),
	}
	if err := r.publisher.Publish(ctx, events.EventGameStart, start); err != nil {
		log.Error().Err(err).Str("room_code", r.state.RoomCode).Msg("failed to publish GAME_START")
	}

	endAt := startAt.Add(time.Duration(r.state.Settings.RoundDurationSec) * time.Second)
	r.replaceAutoEndLocked(func(round uint64) clockwork.Timer {
		return r.clock.AfterFunc(endAt.Sub(now), func() { r.autoEnd(round) })
	})

	log.Info().
		Str("room_code", r.state.RoomCode).
		Int("players", len(r.state.Players)).
		Int("words", len(words)).
		Time("start_at", startAt).
		Time("end_at", endAt).
		Msg("round started")
	return nil
}

// EndGame finishes a running round. It reports false when nothing was
// running.
func (r *Room) EndGame(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endLocked(ctx)
}

func (r *Room) autoEnd(round uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || round != r.round {
		return
	}
	r.autoEndTimer = nil
	log.Info().Str("room_code", r.state.RoomCode).Msg("round duration elapsed")
	r.endLocked(r.baseCtx)
}

func (r *Room) endLocked(ctx context.Context) bool {
	if r.state.Status != events.RoomStatusRunning {
		return false
	}
	r.cancelAutoEndLocked()

	r.state.Status = events.RoomStatusFinished
	r.state.Settings.WordCount = r.wordSlots
	r.state.Words = resizeWords(r.state.Words, r.wordSlots)
	r.commitLocked(ctx, true)

	end := events.GameEndPayload{EndedAt: r.nowMs()}
	if err := r.publisher.Publish(ctx, events.EventGameEnd, end); err != nil {
		log.Error().Err(err).Str("room_code", r.state.RoomCode).Msg("failed to publish GAME_END")
	}

	log.Info().Str("room_code", r.state.RoomCode).Int64("revision", r.state.Revision).Msg("round finished")
	return true
}

// Close stops the timers. The room ignores timer fires afterwards.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.cancelAutoEndLocked()
	r.cancelThrottleLocked()
}

func (r *Room) editableLocked() bool {
	return r.state.Status == events.RoomStatusSetup || r.state.Status == events.RoomStatusLobby
}

func (r *Room) nowMs() int64 {
	return r.clock.Now().UnixMilli()
}

// commitLocked records a mutation and broadcasts it, now or coalesced.
func (r *Room) commitLocked(ctx context.Context, immediate bool) {
	r.state.Revision++
	r.state.UpdatedAt = max(r.nowMs(), r.state.UpdatedAt)

	if immediate {
		r.cancelThrottleLocked()
		r.publishStateLocked(ctx)
		return
	}
	if r.throttleTimer != nil || r.closed {
		return
	}
	seq := r.flushSeq
	r.throttleTimer = r.clock.AfterFunc(r.cfg.Throttle, func() { r.flushThrottled(seq) })
}

func (r *Room) flushThrottled(seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || seq != r.flushSeq {
		return
	}
	r.throttleTimer = nil
	r.flushSeq++
	r.publishStateLocked(r.baseCtx)
}

func (r *Room) publishStateLocked(ctx context.Context) {
	if err := r.publisher.Publish(ctx, events.EventRoomState, r.state.Clone()); err != nil {
		log.Error().
			Err(err).
			Str("room_code", r.state.RoomCode).
			Int64("revision", r.state.Revision).
			Msg("failed to publish room state")
		return
	}
	log.Debug().
		Str("room_code", r.state.RoomCode).
		Int64("revision", r.state.Revision).
		Str("status", string(r.state.Status)).
		Msg("room state published")
}

func cleanName(name string) string {
	name = strings.TrimSpace(name)
	if runes := []rune(name); len(runes) > MaxNameLength {
		name = strings.TrimSpace(string(runes[:MaxNameLength]))
	}
	return name
}
