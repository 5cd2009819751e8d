package realtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

// MaxTokenTTL caps every capability token.
const MaxTokenTTL = time.Hour

var (
	ErrInvalidToken = errors.New("invalid realtime token")
	ErrTokenExpired = errors.New("realtime token expired")
)

// Claims are carried inside a capability token.
type Claims struct {
	ClientID   string     `json:"clientId"`
	Capability Capability `json:"capability"`
	jwt.RegisteredClaims
}

// TokenDetails is what the token endpoint hands to a client.
type TokenDetails struct {
	Token      string     `json:"token"`
	ClientID   string     `json:"clientId"`
	Capability Capability `json:"capability"`
	ExpiresAt  int64      `json:"expiresAt"`
}

// TokenIssuer signs and verifies HS256 capability tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
}

// NewTokenIssuer returns an issuer. ttl is capped at MaxTokenTTL.
func NewTokenIssuer(secret string, ttl time.Duration, clock clockwork.Clock) *TokenIssuer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ttl <= 0 || ttl > MaxTokenTTL {
		ttl = MaxTokenTTL
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, clock: clock}
}

// Issue signs a token for clientID limited to capability.
func (i *TokenIssuer) Issue(clientID string, capability Capability) (TokenDetails, error) {
	now := i.clock.Now()
	expiresAt := now.Add(i.ttl)

	claims := Claims{
		ClientID:   clientID,
		Capability: capability,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return TokenDetails{}, fmt.Errorf("sign realtime token: %w", err)
	}

	return TokenDetails{
		Token:      signed,
		ClientID:   clientID,
		Capability: capability,
		ExpiresAt:  expiresAt.UnixMilli(),
	}, nil
}

// Verify checks signature, algorithm and expiry.
func (i *TokenIssuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ClientID == "" {
		return nil, fmt.Errorf("%w: missing clientId", ErrInvalidToken)
	}
	return claims, nil
}

// ParseClaimsUnverified reads the claims a client was granted. Only the
// gateway holding the secret can trust them.
func ParseClaimsUnverified(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}
