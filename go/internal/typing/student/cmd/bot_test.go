package main

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typingblocks/go/internal/typing/engine"
	"github.com/mcdev12/typingblocks/go/internal/typing/events"
	"github.com/mcdev12/typingblocks/go/internal/typing/student"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, events.Name, any) error { return nil }

func TestTypistPicksLowestBlock(t *testing.T) {
	board := engine.Snapshot{Blocks: []engine.Block{
		{ID: "a", Word: "貓", Y: 10},
		{ID: "b", Word: "狗", Y: 200, IsSettled: true},
		{ID: "c", Word: "魚", Y: 90},
	}}

	word, ok := newTypist("player-1", 1).next(board)
	require.True(t, ok)
	assert.Equal(t, "狗", word)

	word, ok = newTypist("player-1", 0).next(board)
	require.True(t, ok)
	assert.Equal(t, "狗?", word)

	_, ok = newTypist("player-1", 1).next(engine.Snapshot{})
	assert.False(t, ok)
}

func TestPlayTypesDuringRound(t *testing.T) {
	startAt := time.UnixMilli(1_700_000_000_000)
	clock := clockwork.NewFakeClockAt(startAt)
	client := student.NewClient("ABC234", "player-1", "Bot", nopPublisher{}, student.WithClock(clock))

	seed := "seed-1"
	ms := startAt.UnixMilli()
	client.HandleRoomState(events.RoomState{
		RoomCode: "ABC234",
		Status:   events.RoomStatusRunning,
		Settings: events.RoomSettings{WordCount: 1, SpeedLevel: 1, MaxPlayers: 10, RoundDurationSec: 60},
		Words:    []string{"貓"},
		Seed:     &seed,
		StartAt:  &ms,
		Players:  []events.Player{{ID: "player-1", Name: "Bot"}},
	})
	_, err := client.Tick(context.Background(), startAt)
	require.NoError(t, err)
	_, err = client.Tick(context.Background(), startAt.Add(50*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go play(ctx, clock, client, newTypist("player-1", 1), time.Second)

	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		return client.Score() == 10
	}, 2*time.Second, 10*time.Millisecond)
}
