// Package realtime is the pub/sub layer rooms talk over: capability tokens,
// brokers that move messages, and the client-side connection that enforces
// what a token allows.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mcdev12/typingblocks/go/internal/typing/events"
)

var ErrBrokerClosed = errors.New("broker closed")

// Message is one named message on a channel. Data holds the encoded
// {type, payload} envelope.
type Message struct {
	Channel   string          `json:"channel"`
	Name      events.Name     `json:"name"`
	ClientID  string          `json:"clientId"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler receives messages for a subscription. Calls for one subscription
// never overlap and arrive in publish order.
type Handler func(Message)

// Broker moves messages between publishers and channel subscribers.
type Broker interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(channel string, handler Handler) (unsubscribe func(), err error)
}

// SnapshotProvider is implemented by brokers that can replay the latest
// message of a name on a channel.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, channel string, name events.Name) (Message, bool, error)
}
