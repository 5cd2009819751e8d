package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/typingblocks/go/internal/typing/realtime"
	"github.com/rs/zerolog/log"
)

const clientTimeout = 10 * time.Second

// RemoteBroker is a realtime.Broker backed by a gateway websocket, so a
// realtime.Connection can run on a machine without broker access. The
// gateway enforces the token; Message.ClientID set by the caller is
// ignored.
type RemoteBroker struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]map[uint64]realtime.Handler
	pending  map[string]chan error
	nextID   uint64

	done chan struct{}
	err  error
}

// DialBroker connects to the gateway at url (ws:// or wss://) with token.
func DialBroker(ctx context.Context, url, token string) (*RemoteBroker, error) {
	header := http.Header{"Authorization": {"Bearer " + token}}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial gateway: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	b := &RemoteBroker{
		conn:     conn,
		handlers: make(map[string]map[uint64]realtime.Handler),
		pending:  make(map[string]chan error),
		done:     make(chan struct{}),
	}
	go b.readLoop()
	return b, nil
}

// Publish sends msg. Rejections arrive asynchronously and are logged.
func (b *RemoteBroker) Publish(ctx context.Context, msg realtime.Message) error {
	return b.write(ctx, ClientFrame{
		Action:  ActionPublish,
		Channel: msg.Channel,
		Name:    msg.Name,
		Data:    msg.Data,
	})
}

// Subscribe attaches to channel on the first handler and waits for the
// gateway to confirm.
func (b *RemoteBroker) Subscribe(channel string, handler realtime.Handler) (func(), error) {
	b.mu.Lock()
	if b.err != nil {
		b.mu.Unlock()
		return nil, b.err
	}
	b.nextID++
	id := b.nextID
	first := len(b.handlers[channel]) == 0
	if first {
		b.handlers[channel] = make(map[uint64]realtime.Handler)
	}
	b.handlers[channel][id] = handler
	var ack chan error
	if first {
		ack = make(chan error, 1)
		b.pending[channel] = ack
	}
	b.mu.Unlock()

	unsubscribe := func() { b.unsubscribe(channel, id) }
	if !first {
		return unsubscribe, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
	defer cancel()

	err := b.write(ctx, ClientFrame{Action: ActionAttach, Channel: channel})
	if err == nil {
		select {
		case err = <-ack:
		case <-ctx.Done():
			err = fmt.Errorf("attach %s: %w", channel, ctx.Err())
		}
	}
	if err != nil {
		b.mu.Lock()
		delete(b.handlers[channel], id)
		if len(b.handlers[channel]) == 0 {
			delete(b.handlers, channel)
		}
		delete(b.pending, channel)
		b.mu.Unlock()
		return nil, err
	}
	return unsubscribe, nil
}

func (b *RemoteBroker) unsubscribe(channel string, id uint64) {
	b.mu.Lock()
	delete(b.handlers[channel], id)
	last := len(b.handlers[channel]) == 0
	if last {
		delete(b.handlers, channel)
	}
	b.mu.Unlock()

	if last {
		ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
		defer cancel()
		if err := b.write(ctx, ClientFrame{Action: ActionDetach, Channel: channel}); err != nil {
			log.Debug().Err(err).Str("channel", channel).Msg("detach not sent")
		}
	}
}

// Close ends the websocket session.
func (b *RemoteBroker) Close() error {
	b.writeMu.Lock()
	b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	b.writeMu.Unlock()

	err := b.conn.Close()
	<-b.done
	return err
}

func (b *RemoteBroker) write(ctx context.Context, frame ClientFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(clientTimeout)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	select {
	case <-b.done:
		return realtime.ErrConnectionClosed
	default:
	}
	b.conn.SetWriteDeadline(deadline)
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s frame: %w", frame.Action, err)
	}
	return nil
}

func (b *RemoteBroker) readLoop() {
	defer close(b.done)

	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			b.fail(err)
			return
		}

		var frame ServerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Warn().Err(err).Msg("dropping malformed gateway frame")
			continue
		}

		switch frame.Action {
		case ActionMessage:
			b.dispatch(frame.message())
		case ActionAttached:
			b.resolve(frame.Channel, nil)
		case ActionError:
			if frame.Ref == ActionAttach {
				b.resolve(frame.Channel, gatewayError(frame))
				continue
			}
			log.Warn().
				Str("ref", string(frame.Ref)).
				Str("channel", frame.Channel).
				Str("error", frame.Error).
				Msg("gateway rejected frame")
		}
	}
}

func (b *RemoteBroker) dispatch(msg realtime.Message) {
	b.mu.Lock()
	handlers := make([]realtime.Handler, 0, len(b.handlers[msg.Channel]))
	for _, h := range b.handlers[msg.Channel] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

func (b *RemoteBroker) resolve(channel string, err error) {
	b.mu.Lock()
	ack, ok := b.pending[channel]
	delete(b.pending, channel)
	b.mu.Unlock()
	if ok {
		ack <- err
	}
}

func (b *RemoteBroker) fail(err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, net.ErrClosed) {
		err = realtime.ErrConnectionClosed
	} else {
		err = fmt.Errorf("gateway connection lost: %w", err)
	}

	b.mu.Lock()
	b.err = err
	pending := b.pending
	b.pending = make(map[string]chan error)
	b.mu.Unlock()

	for _, ack := range pending {
		ack <- err
	}
}

// gatewayError maps an error frame back to the sentinel it was built from.
func gatewayError(frame ServerFrame) error {
	for _, sentinel := range []error{realtime.ErrCapabilityDenied, realtime.ErrInvalidToken, ErrRateLimited, ErrWrongChannel} {
		if strings.Contains(frame.Error, sentinel.Error()) {
			return fmt.Errorf("%w: %s", sentinel, frame.Error)
		}
	}
	return fmt.Errorf("gateway: %s", frame.Error)
}

// URLFromAPI maps an http(s) API base URL to the gateway websocket
// endpoint it serves.
func URLFromAPI(apiURL string) string {
	u := strings.TrimRight(apiURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws/realtime"
}
