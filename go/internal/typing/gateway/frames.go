package gateway

import (
	"encoding/json"
	"time"

	"github.com/mcdev12/typingblocks/go/internal/typing/events"
	"github.com/mcdev12/typingblocks/go/internal/typing/realtime"
)

// Action is the verb of a websocket frame.
type Action string

const (
	// client to server
	ActionAttach  Action = "attach"
	ActionDetach  Action = "detach"
	ActionPublish Action = "publish"

	// server to client
	ActionAttached Action = "attached"
	ActionDetached Action = "detached"
	ActionMessage  Action = "message"
	ActionError    Action = "error"
)

// ClientFrame is sent by a connected client.
type ClientFrame struct {
	Action  Action          `json:"action"`
	Channel string          `json:"channel"`
	Name    events.Name     `json:"name,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ServerFrame is sent to a connected client. Ref names the client action an
// attached, detached or error frame answers.
type ServerFrame struct {
	Action    Action          `json:"action"`
	Ref       Action          `json:"ref,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	Name      events.Name     `json:"name,omitempty"`
	ClientID  string          `json:"clientId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func messageFrame(msg realtime.Message) ServerFrame {
	return ServerFrame{
		Action:    ActionMessage,
		Channel:   msg.Channel,
		Name:      msg.Name,
		ClientID:  msg.ClientID,
		Data:      msg.Data,
		Timestamp: msg.Timestamp.UnixMilli(),
	}
}

func (f ServerFrame) message() realtime.Message {
	return realtime.Message{
		Channel:   f.Channel,
		Name:      f.Name,
		ClientID:  f.ClientID,
		Data:      f.Data,
		Timestamp: time.UnixMilli(f.Timestamp),
	}
}

func errorFrame(ref Action, channel string, err error) ServerFrame {
	return ServerFrame{Action: ActionError, Ref: ref, Channel: channel, Error: err.Error()}
}
