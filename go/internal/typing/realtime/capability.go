package realtime

import (
	"errors"
	"slices"

	"github.com/mcdev12/typingblocks/go/internal/typing/events"
)

// Role is who a token is issued to.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

var ErrInvalidRole = errors.New("invalid role")

// ParseRole accepts exactly "teacher" or "student".
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleTeacher, RoleStudent:
		return Role(s), nil
	}
	return "", ErrInvalidRole
}

// Operation is an action a token may perform on a channel.
type Operation string

const (
	OpPublish   Operation = "publish"
	OpSubscribe Operation = "subscribe"
)

// Capability maps channel names to allowed operations.
type Capability map[string][]Operation

// CapabilityFor scopes a role to one room. Teachers own both channels.
// Students read the state channel and write the events channel.
func CapabilityFor(role Role, roomCode string) Capability {
	state := events.StateChannel(roomCode)
	evts := events.EventsChannel(roomCode)

	if role == RoleTeacher {
		return Capability{
			state: {OpPublish, OpSubscribe},
			evts:  {OpPublish, OpSubscribe},
		}
	}
	return Capability{
		state: {OpSubscribe},
		evts:  {OpPublish},
	}
}

// Allows reports whether op is granted on channel.
func (c Capability) Allows(channel string, op Operation) bool {
	return slices.Contains(c[channel], op)
}

// Has reports whether any operation is granted on channel.
func (c Capability) Has(channel string) bool {
	return len(c[channel]) > 0
}
