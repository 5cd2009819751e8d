package realtime_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mcdev12/typingblocks/go/internal/typing/events"
	"github.com/mcdev12/typingblocks/go/internal/typing/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	msgs []realtime.Message
}

func (r *recorder) handle(msg realtime.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) all() []realtime.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]realtime.Message(nil), r.msgs...)
}

func TestMemoryBrokerDeliversInOrder(t *testing.T) {
	b := realtime.NewMemoryBroker()
	defer b.Close()

	var rec recorder
	unsub, err := b.Subscribe("chan-a", rec.handle)
	require.NoError(t, err)
	defer unsub()

	var other recorder
	_, err = b.Subscribe("chan-b", other.handle)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		require.NoError(t, b.Publish(ctx, realtime.Message{Channel: "chan-a", Name: events.EventScoreReport, Data: []byte{byte('0' + i%10)}}))
	}

	require.Eventually(t, func() bool { return rec.len() == 50 }, time.Second, 5*time.Millisecond)
	for i, msg := range rec.all() {
		assert.Equal(t, byte('0'+i%10), msg.Data[0])
	}
	assert.Equal(t, 0, other.len())
}

func TestMemoryBrokerUnsubscribe(t *testing.T) {
	b := realtime.NewMemoryBroker()
	defer b.Close()

	var rec recorder
	unsub, err := b.Subscribe("c", rec.handle)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), realtime.Message{Channel: "c", Name: events.EventGameEnd}))
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)

	unsub()
	unsub()
	require.NoError(t, b.Publish(context.Background(), realtime.Message{Channel: "c", Name: events.EventGameEnd}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.len())
}

func TestMemoryBrokerSnapshot(t *testing.T) {
	b := realtime.NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()
	state := events.StateChannel("ABC234")

	_, ok, err := b.Snapshot(ctx, state, events.EventRoomState)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Publish(ctx, realtime.Message{Channel: state, Name: events.EventRoomState, Data: []byte(`1`)}))
	require.NoError(t, b.Publish(ctx, realtime.Message{Channel: state, Name: events.EventRoomState, Data: []byte(`2`)}))
	require.NoError(t, b.Publish(ctx, realtime.Message{Channel: events.EventsChannel("ABC234"), Name: events.EventJoinRequest, Data: []byte(`3`)}))

	msg, ok, err := b.Snapshot(ctx, state, events.EventRoomState)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `2`, string(msg.Data))

	_, ok, _ = b.Snapshot(ctx, events.EventsChannel("ABC234"), events.EventJoinRequest)
	assert.False(t, ok, "events channel messages are not retained")
}

func TestMemoryBrokerClosed(t *testing.T) {
	b := realtime.NewMemoryBroker()
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err := b.Subscribe("c", func(realtime.Message) {})
	assert.ErrorIs(t, err, realtime.ErrBrokerClosed)
	assert.ErrorIs(t, b.Publish(context.Background(), realtime.Message{Channel: "c"}), realtime.ErrBrokerClosed)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "typing-room.ABC234.state.ROOM_STATE", realtime.Subject(events.StateChannel("ABC234"), events.EventRoomState))
	assert.Equal(t, "typing-room.ABC234.events.JOIN_REQUEST", realtime.Subject(events.EventsChannel("ABC234"), events.EventJoinRequest))
}
