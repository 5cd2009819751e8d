package ticket_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typingblocks/go/internal/typing/ticket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "classroom-signing-secret"

func newIssuer(clock clockwork.Clock) *ticket.Issuer {
	return ticket.NewIssuer(secret, ticket.DefaultTTL, clock)
}

func TestCreateVerifyRoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	issuer := newIssuer(clock)

	tk, err := issuer.Create("ABC234", "teacher-ABC234-x1y2z3")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(tk, "."))

	payload, err := issuer.Verify(tk, "ABC234", "teacher-ABC234-x1y2z3")
	require.NoError(t, err)
	assert.Equal(t, "ABC234", payload.RoomCode)
	assert.Equal(t, "teacher-ABC234-x1y2z3", payload.TeacherClientID)
	assert.Equal(t, int64(1_700_000_000_000), payload.IssuedAt)
	assert.Equal(t, ticket.Version, payload.Version)
	assert.NotEmpty(t, payload.Nonce)
}

func TestPackageHelpers(t *testing.T) {
	tk, err := ticket.CreateTicket("ROOM22", "teacher-1", secret)
	require.NoError(t, err)

	_, err = ticket.VerifyTicket(tk, "ROOM22", "teacher-1", secret, time.Hour)
	assert.NoError(t, err)

	_, err = ticket.VerifyTicket(tk, "ROOM22", "teacher-1", "other-secret", time.Hour)
	assert.ErrorIs(t, err, ticket.ErrInvalidSignature)
}

func TestVerifyMismatches(t *testing.T) {
	issuer := newIssuer(clockwork.NewFakeClock())
	tk, err := issuer.Create("ABC234", "teacher-a")
	require.NoError(t, err)

	_, err = issuer.Verify(tk, "XYZ789", "teacher-a")
	assert.ErrorIs(t, err, ticket.ErrRoomMismatch)

	_, err = issuer.Verify(tk, "ABC234", "teacher-b")
	assert.ErrorIs(t, err, ticket.ErrClientMismatch)

	other := ticket.NewIssuer("a-different-secret", ticket.DefaultTTL, clockwork.NewFakeClock())
	_, err = other.Verify(tk, "ABC234", "teacher-a")
	assert.ErrorIs(t, err, ticket.ErrInvalidSignature)
}

func TestVerifyMalformed(t *testing.T) {
	issuer := newIssuer(clockwork.NewFakeClock())

	for _, tk := range []string{"", "nodot", ".sig", "payload."} {
		_, err := issuer.Verify(tk, "ABC234", "teacher-a")
		assert.ErrorIs(t, err, ticket.ErrMalformed, "ticket %q", tk)
	}
}

func TestVerifyTampered(t *testing.T) {
	issuer := newIssuer(clockwork.NewFakeClock())
	tk, err := issuer.Create("ABC234", "teacher-a")
	require.NoError(t, err)

	payloadPart, sig, _ := strings.Cut(tk, ".")

	forged := base64.RawURLEncoding.EncodeToString([]byte(`{"roomCode":"ABC234","teacherClientId":"teacher-a","issuedAt":0,"nonce":"n","version":1}`))
	_, err = issuer.Verify(forged+"."+sig, "ABC234", "teacher-a")
	assert.ErrorIs(t, err, ticket.ErrInvalidSignature)

	_, err = issuer.Verify(payloadPart+"."+sig[:len(sig)-2], "ABC234", "teacher-a")
	assert.ErrorIs(t, err, ticket.ErrInvalidSignature)
}

// sign computes the signature part the same way Issuer does, so tests can
// reach the payload checks that sit behind the signature check.
func sign(payloadPart string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payloadPart))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyPayloadErrors(t *testing.T) {
	// A valid signature over garbage JSON.
	garbage := base64.RawURLEncoding.EncodeToString([]byte("not json"))
	tk := garbage + "." + sign(garbage)
	_, err := newIssuer(clockwork.NewFakeClock()).Verify(tk, "ABC234", "teacher-a")
	assert.ErrorIs(t, err, ticket.ErrInvalidPayload)

	v2 := base64.RawURLEncoding.EncodeToString([]byte(`{"roomCode":"ABC234","teacherClientId":"teacher-a","issuedAt":0,"nonce":"n","version":2}`))
	_, err = newIssuer(clockwork.NewFakeClock()).Verify(v2+"."+sign(v2), "ABC234", "teacher-a")
	assert.ErrorIs(t, err, ticket.ErrUnsupportedVersion)
}

func TestVerifyExpiryBoundary(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	maxAge := 10 * time.Minute
	issuer := ticket.NewIssuer(secret, maxAge, clock)

	tk, err := issuer.Create("ABC234", "teacher-a")
	require.NoError(t, err)

	clock.Advance(maxAge - time.Millisecond)
	_, err = issuer.Verify(tk, "ABC234", "teacher-a")
	assert.NoError(t, err)

	clock.Advance(time.Millisecond)
	_, err = issuer.Verify(tk, "ABC234", "teacher-a")
	assert.NoError(t, err, "exactly maxAge is still valid")

	clock.Advance(time.Millisecond)
	_, err = issuer.Verify(tk, "ABC234", "teacher-a")
	assert.ErrorIs(t, err, ticket.ErrExpired)
}

func TestReasonStrings(t *testing.T) {
	assert.Equal(t, "Ticket expired", ticket.ErrExpired.Error())
	assert.Equal(t, "Malformed ticket", ticket.ErrMalformed.Error())
	assert.Equal(t, "Invalid ticket signature", ticket.ErrInvalidSignature.Error())
}
