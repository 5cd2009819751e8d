// Package events is the wire contract between the teacher authority and the
// students: room snapshots, named events and the channel names they travel on.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Name identifies a message on a channel.
type Name string

const (
	// state channel, published by the teacher
	EventRoomState Name = "ROOM_STATE"
	EventGameStart Name = "GAME_START"
	EventGameEnd   Name = "GAME_END"

	// events channel, published by students
	EventJoinRequest    Name = "JOIN_REQUEST"
	EventScoreReport    Name = "SCORE_REPORT"
	EventPlayerGameOver Name = "PLAYER_GAME_OVER"
	EventLeaveNotice    Name = "LEAVE_NOTICE"
)

// ChannelKind is the logical channel an event belongs to.
type ChannelKind string

const (
	KindState  ChannelKind = "state"
	KindEvents ChannelKind = "events"
)

// Kind returns the channel kind a name is published on, or "" for unknown
// names.
func (n Name) Kind() ChannelKind {
	switch n {
	case EventRoomState, EventGameStart, EventGameEnd:
		return KindState
	case EventJoinRequest, EventScoreReport, EventPlayerGameOver, EventLeaveNotice:
		return KindEvents
	}
	return ""
}

// StateChannel is where the teacher publishes snapshots and round events.
func StateChannel(roomCode string) string {
	return Channel(roomCode, KindState)
}

// EventsChannel is where students publish requests and reports.
func EventsChannel(roomCode string) string {
	return Channel(roomCode, KindEvents)
}

// Channel builds the namespaced channel name for a room.
func Channel(roomCode string, kind ChannelKind) string {
	return fmt.Sprintf("%s:%s:%s", channelPrefix, roomCode, kind)
}

const channelPrefix = "typing-room"

// ParseChannel splits a name built by Channel.
func ParseChannel(channel string) (roomCode string, kind ChannelKind, ok bool) {
	parts := strings.Split(channel, ":")
	if len(parts) != 3 || parts[0] != channelPrefix || parts[1] == "" {
		return "", "", false
	}
	kind = ChannelKind(parts[2])
	if kind != KindState && kind != KindEvents {
		return "", "", false
	}
	return parts[1], kind, true
}

// Envelope is the message body: {type, payload}.
type Envelope struct {
	Type    Name            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps payload in an envelope for name.
func Encode(name Name, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	data, err := json.Marshal(Envelope{Type: name, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", name, err)
	}
	return data, nil
}

// Decode unmarshals an envelope and its payload into out, checking that the
// envelope type is want.
func Decode(data []byte, want Name, out any) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Type != want {
		return fmt.Errorf("envelope type %q, want %q", env.Type, want)
	}
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", want)
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", want, err)
	}
	return nil
}
