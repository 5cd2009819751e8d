package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typingblocks/go/internal/typing/api"
	"github.com/mcdev12/typingblocks/go/internal/typing/events"
	"github.com/mcdev12/typingblocks/go/internal/typing/realtime"
	"github.com/mcdev12/typingblocks/go/internal/typing/roomcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	signingSecret = "signing-secret"
	tokenSecret   = "token-secret"
)

func newTestServer(t *testing.T, cfg api.Config) (*api.Server, *api.Client) {
	t.Helper()
	srv := api.NewServer(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, api.NewClient(ts.URL)
}

func defaultConfig(clock clockwork.Clock) api.Config {
	return api.Config{
		SigningSecret: signingSecret,
		TokenSecret:   tokenSecret,
		TicketTTL:     12 * time.Hour,
		TokenTTL:      time.Hour,
		Clock:         clock,
	}
}

func statusOf(t *testing.T, err error) *api.StatusError {
	t.Helper()
	var se *api.StatusError
	require.True(t, errors.As(err, &se), "expected StatusError, got %v", err)
	return se
}

func TestHealth(t *testing.T) {
	srv := api.NewServer(api.Config{})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestNotFoundIsJSON(t *testing.T) {
	srv := api.NewServer(api.Config{})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)
}

func TestCreateRoom(t *testing.T) {
	_, client := newTestServer(t, defaultConfig(nil))

	resp, err := client.CreateRoom(context.Background())
	require.NoError(t, err)

	assert.True(t, roomcode.IsValid(resp.RoomCode))
	prefix := "teacher-" + resp.RoomCode + "-"
	require.True(t, strings.HasPrefix(resp.TeacherClientID, prefix))
	assert.Regexp(t, `^[a-z0-9]{6}$`, strings.TrimPrefix(resp.TeacherClientID, prefix))
	assert.NotEmpty(t, resp.TeacherTicket)

	// the ticket is usable straight away
	details, err := client.RequestToken(context.Background(), api.TokenRequest{
		RoomCode:      resp.RoomCode,
		Role:          "teacher",
		ClientID:      resp.TeacherClientID,
		TeacherTicket: resp.TeacherTicket,
	})
	require.NoError(t, err)
	assert.Equal(t, resp.TeacherClientID, details.ClientID)
}

func TestCreateRoomMissingSecret(t *testing.T) {
	cfg := defaultConfig(nil)
	cfg.SigningSecret = ""
	_, client := newTestServer(t, cfg)

	_, err := client.CreateRoom(context.Background())
	se := statusOf(t, err)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Equal(t, "Missing ROOM_SIGNING_SECRET environment variable.", se.Message)
}

func TestTokenValidation(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	_, client := newTestServer(t, defaultConfig(clock))

	room, err := client.CreateRoom(context.Background())
	require.NoError(t, err)

	testCases := []struct {
		name    string
		req     api.TokenRequest
		status  int
		message string
	}{
		{
			name:    "short room code",
			req:     api.TokenRequest{RoomCode: "AB", Role: "student", ClientID: "player-1"},
			status:  http.StatusBadRequest,
			message: "Invalid room code.",
		},
		{
			name:    "unknown role",
			req:     api.TokenRequest{RoomCode: room.RoomCode, Role: "admin", ClientID: "player-1"},
			status:  http.StatusBadRequest,
			message: "Invalid role.",
		},
		{
			name:    "blank client id",
			req:     api.TokenRequest{RoomCode: room.RoomCode, Role: "student", ClientID: "   "},
			status:  http.StatusBadRequest,
			message: "Invalid clientId.",
		},
		{
			name:    "client id too long",
			req:     api.TokenRequest{RoomCode: room.RoomCode, Role: "student", ClientID: strings.Repeat("x", 65)},
			status:  http.StatusBadRequest,
			message: "Invalid clientId.",
		},
		{
			name:    "room checked before role",
			req:     api.TokenRequest{RoomCode: "", Role: "admin", ClientID: ""},
			status:  http.StatusBadRequest,
			message: "Invalid room code.",
		},
		{
			name: "teacher without ticket",
			req: api.TokenRequest{
				RoomCode: room.RoomCode, Role: "teacher", ClientID: room.TeacherClientID,
			},
			status:  http.StatusUnauthorized,
			message: "Teacher ticket rejected: Malformed ticket",
		},
		{
			name: "teacher with another client id",
			req: api.TokenRequest{
				RoomCode: room.RoomCode, Role: "teacher", ClientID: "teacher-someone",
				TeacherTicket: room.TeacherTicket,
			},
			status:  http.StatusUnauthorized,
			message: "Teacher ticket rejected: Ticket client mismatch",
		},
		{
			name: "tampered ticket",
			req: api.TokenRequest{
				RoomCode: room.RoomCode, Role: "teacher", ClientID: room.TeacherClientID,
				TeacherTicket: room.TeacherTicket + "x",
			},
			status:  http.StatusUnauthorized,
			message: "Teacher ticket rejected: Invalid ticket signature",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.RequestToken(context.Background(), tc.req)
			se := statusOf(t, err)
			assert.Equal(t, tc.status, se.StatusCode)
			assert.Equal(t, tc.message, se.Message)
		})
	}
}

func TestTokenInvalidBody(t *testing.T) {
	srv, _ := newTestServer(t, defaultConfig(nil))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/realtime/token", strings.NewReader("{not json"))
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid request body."}`, rec.Body.String())
}

func TestTokenMissingSecret(t *testing.T) {
	cfg := defaultConfig(nil)
	cfg.TokenSecret = ""
	_, client := newTestServer(t, cfg)

	_, err := client.RequestToken(context.Background(), api.TokenRequest{
		RoomCode: "ABC234", Role: "student", ClientID: "player-1",
	})
	assert.Equal(t, http.StatusInternalServerError, statusOf(t, err).StatusCode)
}

func TestTeacherTicketExpires(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	_, client := newTestServer(t, defaultConfig(clock))

	room, err := client.CreateRoom(context.Background())
	require.NoError(t, err)

	clock.Advance(12*time.Hour + time.Second)

	_, err = client.RequestToken(context.Background(), api.TokenRequest{
		RoomCode:      room.RoomCode,
		Role:          "teacher",
		ClientID:      room.TeacherClientID,
		TeacherTicket: room.TeacherTicket,
	})
	se := statusOf(t, err)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, "Teacher ticket rejected: Ticket expired", se.Message)
}

func TestStudentToken(t *testing.T) {
	srv, client := newTestServer(t, defaultConfig(nil))

	// codes are normalized and client ids trimmed before issuing
	details, err := client.RequestToken(context.Background(), api.TokenRequest{
		RoomCode: " abc-234 ",
		Role:     "student",
		ClientID: "  player-1 ",
	})
	require.NoError(t, err)

	assert.Equal(t, "player-1", details.ClientID)
	assert.Equal(t, realtime.CapabilityFor(realtime.RoleStudent, "ABC234"), details.Capability)

	claims, err := srv.TokenIssuer().Verify(details.Token)
	require.NoError(t, err)
	assert.Equal(t, "player-1", claims.ClientID)
	assert.True(t, claims.Capability.Allows(events.EventsChannel("ABC234"), realtime.OpPublish))
	assert.False(t, claims.Capability.Allows(events.StateChannel("ABC234"), realtime.OpPublish))
}

func TestTokenSource(t *testing.T) {
	srv, client := newTestServer(t, defaultConfig(nil))

	source := client.TokenSource(api.TokenRequest{RoomCode: "ABC234", Role: "student", ClientID: "player-2"})
	token, err := source.Token(context.Background())
	require.NoError(t, err)

	claims, err := srv.TokenIssuer().Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "player-2", claims.ClientID)
}

func TestCORSPreflight(t *testing.T) {
	cfg := defaultConfig(nil)
	cfg.AllowedOrigins = []string{"http://class.test"}
	srv := api.NewServer(cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/realtime/token", nil)
	req.Header.Set("Origin", "http://class.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "http://class.test", rec.Header().Get("Access-Control-Allow-Origin"))
}
