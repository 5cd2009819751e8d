package realtime_test

import (
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typingblocks/go/internal/typing/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	issuer := realtime.NewTokenIssuer("token-secret", 0, clock)
	capability := realtime.CapabilityFor(realtime.RoleStudent, "ABC234")

	details, err := issuer.Issue("player-1", capability)
	require.NoError(t, err)
	assert.Equal(t, "player-1", details.ClientID)
	assert.Equal(t, clock.Now().Add(time.Hour).UnixMilli(), details.ExpiresAt)

	claims, err := issuer.Verify(details.Token)
	require.NoError(t, err)
	assert.Equal(t, "player-1", claims.ClientID)
	assert.Equal(t, capability, claims.Capability)

	unverified, err := realtime.ParseClaimsUnverified(details.Token)
	require.NoError(t, err)
	assert.Equal(t, capability, unverified.Capability)
}

func TestTTLIsCapped(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	issuer := realtime.NewTokenIssuer("token-secret", 24*time.Hour, clock)

	details, err := issuer.Issue("c", realtime.Capability{})
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(realtime.MaxTokenTTL).UnixMilli(), details.ExpiresAt)
}

func TestVerifyExpired(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	issuer := realtime.NewTokenIssuer("token-secret", 10*time.Minute, clock)

	details, err := issuer.Issue("c", realtime.Capability{})
	require.NoError(t, err)

	clock.Advance(11 * time.Minute)
	_, err = issuer.Verify(details.Token)
	assert.ErrorIs(t, err, realtime.ErrTokenExpired)
}

func TestVerifyRejectsForeignAndTampered(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	issuer := realtime.NewTokenIssuer("token-secret", time.Hour, clock)
	other := realtime.NewTokenIssuer("other-secret", time.Hour, clock)

	details, err := other.Issue("c", realtime.Capability{})
	require.NoError(t, err)
	_, err = issuer.Verify(details.Token)
	assert.ErrorIs(t, err, realtime.ErrInvalidToken)

	_, err = issuer.Verify(details.Token + "x")
	assert.ErrorIs(t, err, realtime.ErrInvalidToken)

	parts := strings.Split(details.Token, ".")
	noneAlg := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0." + parts[1] + "."
	_, err = issuer.Verify(noneAlg)
	assert.ErrorIs(t, err, realtime.ErrInvalidToken)

	_, err = issuer.Verify("garbage")
	assert.ErrorIs(t, err, realtime.ErrInvalidToken)
}
