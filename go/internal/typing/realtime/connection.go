package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typingblocks/go/internal/typing/events"
	"github.com/rs/zerolog/log"
)

var (
	ErrCapabilityDenied = errors.New("capability denied")
	ErrConnectionClosed = errors.New("connection closed")
)

// TokenSource obtains a capability token for a connection.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource hands out a token that was obtained elsewhere.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrInvalidToken
	}
	return string(s), nil
}

// Connection is one client's session on a broker. Every channel operation
// is checked against the capability granted by the token.
type Connection struct {
	broker   Broker
	claims   *Claims
	clock    clockwork.Clock
	mu       sync.Mutex
	channels map[string]*Channel
	closed   bool
}

// Dial fetches a token from source and opens a connection over broker.
func Dial(ctx context.Context, broker Broker, source TokenSource) (*Connection, error) {
	token, err := source.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtain token: %w", err)
	}

	claims, err := ParseClaimsUnverified(token)
	if err != nil {
		return nil, err
	}
	if claims.ClientID == "" {
		return nil, fmt.Errorf("%w: missing clientId", ErrInvalidToken)
	}

	return &Connection{
		broker:   broker,
		claims:   claims,
		clock:    clockwork.NewRealClock(),
		channels: make(map[string]*Channel),
	}, nil
}

func (c *Connection) ClientID() string { return c.claims.ClientID }

func (c *Connection) Capability() Capability { return c.claims.Capability }

// Channel returns the handle for name, creating it on first use.
func (c *Connection) Channel(name string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[name]
	if !ok {
		ch = &Channel{conn: c, name: name, handlers: make(map[events.Name][]Handler)}
		c.channels[name] = ch
	}
	return ch
}

// Close detaches every channel. Further operations fail with
// ErrConnectionClosed.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	channels := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	for _, ch := range channels {
		ch.Detach()
	}
	return nil
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Channel is a named channel on a connection.
type Channel struct {
	conn        *Connection
	name        string
	mu          sync.Mutex
	attached    bool
	unsubscribe func()
	handlers    map[events.Name][]Handler

	// deliverMu serializes handler calls, live and replayed.
	deliverMu sync.Mutex
	stateSeq  uint64 // ROOM_STATE messages dispatched; guarded by deliverMu
}

func (ch *Channel) Name() string { return ch.name }

// Attach joins the channel. Channels the token may read are subscribed on
// the broker; publish-only channels attach without a subscription.
func (ch *Channel) Attach(ctx context.Context) error {
	if ch.conn.isClosed() {
		return ErrConnectionClosed
	}
	caps := ch.conn.claims.Capability
	if !caps.Has(ch.name) {
		return fmt.Errorf("%w: attach %s", ErrCapabilityDenied, ch.name)
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.attached {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if caps.Allows(ch.name, OpSubscribe) {
		unsub, err := ch.conn.broker.Subscribe(ch.name, ch.dispatch)
		if err != nil {
			return fmt.Errorf("attach %s: %w", ch.name, err)
		}
		ch.unsubscribe = unsub
	}
	ch.attached = true

	log.Debug().Str("channel", ch.name).Str("client_id", ch.conn.ClientID()).Msg("channel attached")
	return nil
}

// Subscribe registers handler for one event name, attaching first if
// needed. A ROOM_STATE subscription is primed with the broker's retained
// snapshot when the broker keeps one. The replay is dropped if a live
// ROOM_STATE reached the handler first.
func (ch *Channel) Subscribe(ctx context.Context, name events.Name, handler Handler) error {
	if !ch.conn.claims.Capability.Allows(ch.name, OpSubscribe) {
		return fmt.Errorf("%w: subscribe %s", ErrCapabilityDenied, ch.name)
	}
	// Registered before attaching so a snapshot pushed on attach is not lost.
	ch.deliverMu.Lock()
	seq := ch.stateSeq
	ch.mu.Lock()
	ch.handlers[name] = append(ch.handlers[name], handler)
	n := len(ch.handlers[name])
	ch.mu.Unlock()
	ch.deliverMu.Unlock()

	if err := ch.Attach(ctx); err != nil {
		ch.mu.Lock()
		if hs := ch.handlers[name]; len(hs) == n {
			ch.handlers[name] = hs[:n-1]
		}
		ch.mu.Unlock()
		return err
	}

	if name != events.EventRoomState {
		return nil
	}
	sp, ok := ch.conn.broker.(SnapshotProvider)
	if !ok {
		return nil
	}
	msg, found, err := sp.Snapshot(ctx, ch.name, name)
	if err != nil {
		log.Warn().Err(err).Str("channel", ch.name).Msg("snapshot replay failed")
		return nil
	}
	if !found {
		return nil
	}

	ch.deliverMu.Lock()
	defer ch.deliverMu.Unlock()
	if ch.stateSeq != seq {
		log.Debug().Str("channel", ch.name).Msg("skipping stale snapshot replay")
		return nil
	}
	handler(msg)
	return nil
}

// Publish encodes payload in the {type, payload} envelope and sends it as
// name on this channel.
func (ch *Channel) Publish(ctx context.Context, name events.Name, payload any) error {
	if ch.conn.isClosed() {
		return ErrConnectionClosed
	}
	if !ch.conn.claims.Capability.Allows(ch.name, OpPublish) {
		return fmt.Errorf("%w: publish %s", ErrCapabilityDenied, ch.name)
	}

	data, err := events.Encode(name, payload)
	if err != nil {
		return err
	}

	err = ch.conn.broker.Publish(ctx, Message{
		Channel:   ch.name,
		Name:      name,
		ClientID:  ch.conn.ClientID(),
		Data:      data,
		Timestamp: ch.conn.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("publish %s on %s: %w", name, ch.name, err)
	}
	return nil
}

// Detach drops the broker subscription and every handler.
func (ch *Channel) Detach() {
	ch.mu.Lock()
	unsub := ch.unsubscribe
	ch.unsubscribe = nil
	ch.attached = false
	ch.handlers = make(map[events.Name][]Handler)
	ch.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

func (ch *Channel) dispatch(msg Message) {
	ch.deliverMu.Lock()
	defer ch.deliverMu.Unlock()
	if msg.Name == events.EventRoomState {
		ch.stateSeq++
	}

	ch.mu.Lock()
	handlers := append([]Handler(nil), ch.handlers[msg.Name]...)
	ch.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}
