// Package ticket signs and verifies the short-lived credential that binds a
// teacher client id to a room. Tickets are stateless: verification only
// recomputes the HMAC.
package ticket

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	// Version is the only payload version Verify accepts.
	Version = 1

	// DefaultTTL is how long a teacher ticket stays valid.
	DefaultTTL = 12 * time.Hour
)

var (
	ErrMalformed          = errors.New("Malformed ticket")
	ErrInvalidSignature   = errors.New("Invalid ticket signature")
	ErrInvalidPayload     = errors.New("Invalid ticket payload")
	ErrUnsupportedVersion = errors.New("Unsupported ticket version")
	ErrRoomMismatch       = errors.New("Ticket room mismatch")
	ErrClientMismatch     = errors.New("Ticket client mismatch")
	ErrExpired            = errors.New("Ticket expired")
)

// Payload is the signed body of a ticket.
type Payload struct {
	RoomCode        string `json:"roomCode"`
	TeacherClientID string `json:"teacherClientId"`
	IssuedAt        int64  `json:"issuedAt"`
	Nonce           string `json:"nonce"`
	Version         int    `json:"version"`
}

// Issuer creates and verifies tickets with one secret.
type Issuer struct {
	secret []byte
	maxAge time.Duration
	clock  clockwork.Clock
}

// NewIssuer returns an Issuer. A nil clock means the real clock and a
// non-positive maxAge means DefaultTTL.
func NewIssuer(secret string, maxAge time.Duration, clock clockwork.Clock) *Issuer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if maxAge <= 0 {
		maxAge = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), maxAge: maxAge, clock: clock}
}

// Create signs a new ticket for roomCode and teacherClientID.
func (i *Issuer) Create(roomCode, teacherClientID string) (string, error) {
	payload := Payload{
		RoomCode:        roomCode,
		TeacherClientID: teacherClientID,
		IssuedAt:        i.clock.Now().UnixMilli(),
		Nonce:           uuid.NewString(),
		Version:         Version,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal ticket payload: %w", err)
	}

	payloadPart := base64.RawURLEncoding.EncodeToString(data)
	return payloadPart + "." + i.sign(payloadPart), nil
}

// Verify checks the signature first, then the payload fields, then age.
func (i *Issuer) Verify(ticket, roomCode, teacherClientID string) (*Payload, error) {
	payloadPart, sigPart, ok := strings.Cut(ticket, ".")
	if !ok || payloadPart == "" || sigPart == "" {
		return nil, ErrMalformed
	}

	if !hmac.Equal([]byte(sigPart), []byte(i.sign(payloadPart))) {
		return nil, ErrInvalidSignature
	}

	raw, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, ErrInvalidPayload
	}

	if payload.Version != Version {
		return nil, ErrUnsupportedVersion
	}
	if payload.RoomCode != roomCode {
		return nil, ErrRoomMismatch
	}
	if payload.TeacherClientID != teacherClientID {
		return nil, ErrClientMismatch
	}
	if i.clock.Now().UnixMilli()-payload.IssuedAt > i.maxAge.Milliseconds() {
		return nil, ErrExpired
	}

	return &payload, nil
}

func (i *Issuer) sign(payloadPart string) string {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(payloadPart))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// CreateTicket signs a ticket with the real clock.
func CreateTicket(roomCode, teacherClientID, secret string) (string, error) {
	return NewIssuer(secret, DefaultTTL, nil).Create(roomCode, teacherClientID)
}

// VerifyTicket verifies a ticket with the real clock.
func VerifyTicket(ticket, roomCode, teacherClientID, secret string, maxAge time.Duration) (*Payload, error) {
	return NewIssuer(secret, maxAge, nil).Verify(ticket, roomCode, teacherClientID)
}
