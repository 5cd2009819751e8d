package realtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typingblocks/go/internal/typing/events"
	"github.com/mcdev12/typingblocks/go/internal/typing/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const room = "ABC234"

func dial(t *testing.T, b realtime.Broker, role realtime.Role, clientID string) *realtime.Connection {
	t.Helper()
	issuer := realtime.NewTokenIssuer("secret", time.Hour, clockwork.NewRealClock())
	details, err := issuer.Issue(clientID, realtime.CapabilityFor(role, room))
	require.NoError(t, err)

	conn, err := realtime.Dial(context.Background(), b, realtime.StaticTokenSource(details.Token))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStudentToTeacherRoundTrip(t *testing.T) {
	b := realtime.NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	teacher := dial(t, b, realtime.RoleTeacher, "teacher-ABC234-aaaaaa")
	student := dial(t, b, realtime.RoleStudent, "player-1")

	var joins recorder
	require.NoError(t, teacher.Channel(events.EventsChannel(room)).Subscribe(ctx, events.EventJoinRequest, joins.handle))

	var states recorder
	require.NoError(t, student.Channel(events.StateChannel(room)).Subscribe(ctx, events.EventRoomState, states.handle))

	evts := student.Channel(events.EventsChannel(room))
	require.NoError(t, evts.Attach(ctx))
	require.NoError(t, evts.Publish(ctx, events.EventJoinRequest, events.JoinRequestPayload{PlayerID: "player-1", Name: "Mei"}))
	require.NoError(t, evts.Publish(ctx, events.EventScoreReport, events.ScoreReportPayload{PlayerID: "player-1", Score: 10}))

	require.Eventually(t, func() bool { return joins.len() == 1 }, time.Second, 5*time.Millisecond)
	got := joins.all()[0]
	assert.Equal(t, "player-1", got.ClientID)
	var join events.JoinRequestPayload
	require.NoError(t, events.Decode(got.Data, events.EventJoinRequest, &join))
	assert.Equal(t, "Mei", join.Name)

	require.NoError(t, teacher.Channel(events.StateChannel(room)).Publish(ctx, events.EventRoomState, events.RoomState{RoomCode: room}))
	require.Eventually(t, func() bool { return states.len() == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, joins.len(), "SCORE_REPORT has no handler on the teacher side here")
}

func TestStudentCapabilityEnforced(t *testing.T) {
	b := realtime.NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	student := dial(t, b, realtime.RoleStudent, "player-1")

	err := student.Channel(events.StateChannel(room)).Publish(ctx, events.EventRoomState, events.RoomState{})
	assert.ErrorIs(t, err, realtime.ErrCapabilityDenied)

	err = student.Channel(events.EventsChannel(room)).Subscribe(ctx, events.EventJoinRequest, func(realtime.Message) {})
	assert.ErrorIs(t, err, realtime.ErrCapabilityDenied)

	err = student.Channel(events.StateChannel("ZZZ999")).Attach(ctx)
	assert.ErrorIs(t, err, realtime.ErrCapabilityDenied)
}

func TestSubscribeReplaysSnapshot(t *testing.T) {
	b := realtime.NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	teacher := dial(t, b, realtime.RoleTeacher, "teacher")
	require.NoError(t, teacher.Channel(events.StateChannel(room)).Publish(ctx, events.EventRoomState, events.RoomState{RoomCode: room, Revision: 7}))

	late := dial(t, b, realtime.RoleStudent, "player-late")
	var states recorder
	require.NoError(t, late.Channel(events.StateChannel(room)).Subscribe(ctx, events.EventRoomState, states.handle))

	require.Equal(t, 1, states.len(), "snapshot is delivered before Subscribe returns")
	var state events.RoomState
	require.NoError(t, events.Decode(states.all()[0].Data, events.EventRoomState, &state))
	assert.Equal(t, int64(7), state.Revision)
}

// laggingSnapshots runs before between reading the retained snapshot and
// returning it.
type laggingSnapshots struct {
	*realtime.MemoryBroker
	before func()
}

func (b laggingSnapshots) Snapshot(ctx context.Context, channel string, name events.Name) (realtime.Message, bool, error) {
	msg, ok, err := b.MemoryBroker.Snapshot(ctx, channel, name)
	b.before()
	return msg, ok, err
}

func TestSubscribeSkipsSnapshotOlderThanLiveState(t *testing.T) {
	mem := realtime.NewMemoryBroker()
	defer mem.Close()
	ctx := context.Background()

	teacher := dial(t, mem, realtime.RoleTeacher, "teacher")
	state := teacher.Channel(events.StateChannel(room))
	require.NoError(t, state.Publish(ctx, events.EventRoomState, events.RoomState{RoomCode: room, Revision: 7}))

	var states recorder
	b := laggingSnapshots{MemoryBroker: mem}
	b.before = func() {
		require.NoError(t, state.Publish(ctx, events.EventRoomState, events.RoomState{RoomCode: room, Revision: 8}))
		require.Eventually(t, func() bool { return states.len() == 1 }, time.Second, 5*time.Millisecond)
	}

	late := dial(t, b, realtime.RoleStudent, "player-late")
	require.NoError(t, late.Channel(events.StateChannel(room)).Subscribe(ctx, events.EventRoomState, states.handle))

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, states.len(), "revision 7 must not follow revision 8")
	var got events.RoomState
	require.NoError(t, events.Decode(states.all()[0].Data, events.EventRoomState, &got))
	assert.Equal(t, int64(8), got.Revision)
}

func TestClosedConnection(t *testing.T) {
	b := realtime.NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	conn := dial(t, b, realtime.RoleTeacher, "teacher")
	var rec recorder
	ch := conn.Channel(events.StateChannel(room))
	require.NoError(t, ch.Subscribe(ctx, events.EventGameEnd, rec.handle))
	require.NoError(t, conn.Close())

	assert.ErrorIs(t, ch.Publish(ctx, events.EventGameEnd, events.GameEndPayload{}), realtime.ErrConnectionClosed)
	assert.ErrorIs(t, ch.Attach(ctx), realtime.ErrConnectionClosed)
}

func TestDialRejectsBadToken(t *testing.T) {
	b := realtime.NewMemoryBroker()
	defer b.Close()

	_, err := realtime.Dial(context.Background(), b, realtime.StaticTokenSource("not-a-jwt"))
	assert.ErrorIs(t, err, realtime.ErrInvalidToken)

	_, err = realtime.Dial(context.Background(), b, realtime.StaticTokenSource(""))
	assert.ErrorIs(t, err, realtime.ErrInvalidToken)
}
