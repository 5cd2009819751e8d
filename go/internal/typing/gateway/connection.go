package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/typingblocks/go/internal/typing/events"
	"github.com/mcdev12/typingblocks/go/internal/typing/realtime"
	"github.com/rs/zerolog/log"
)

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.mu.Lock()
			c.LastPing = time.Now()
			c.mu.Unlock()
		}
	}
}

// readPump handles reading frames from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.mu.Lock()
		c.LastPing = time.Now()
		c.mu.Unlock()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage processes one frame received from the client. Every
// failure is answered with an error frame; the connection stays open.
func (c *Connection) handleClientMessage(message []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.enqueue(errorFrame("", "", ErrMalformedFrame))
		return
	}

	logger := log.With().
		Str("connection_id", c.ID).
		Str("client_id", c.ClientID).
		Str("action", string(frame.Action)).
		Str("channel", frame.Channel).
		Logger()

	var err error
	switch frame.Action {
	case ActionAttach:
		err = c.attach(frame.Channel)
	case ActionDetach:
		c.detach(frame.Channel)
	case ActionPublish:
		err = c.publish(frame)
	default:
		err = ErrUnknownAction
	}
	if err != nil {
		logger.Debug().Err(err).Msg("client frame rejected")
		c.enqueue(errorFrame(frame.Action, frame.Channel, err))
	}
}

func (c *Connection) attach(channel string) error {
	if !c.Capability.Has(channel) {
		return fmt.Errorf("%w: attach %s", realtime.ErrCapabilityDenied, channel)
	}

	c.mu.Lock()
	already := c.attached[channel]
	c.attached[channel] = true
	c.mu.Unlock()
	if already {
		c.enqueue(ServerFrame{Action: ActionAttached, Ref: ActionAttach, Channel: channel})
		return nil
	}

	// Publish-only channels attach without a broker subscription.
	if !c.Capability.Allows(channel, realtime.OpSubscribe) {
		c.enqueue(ServerFrame{Action: ActionAttached, Ref: ActionAttach, Channel: channel})
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Manager.config.WriteTimeout)
	defer cancel()
	if err := c.Manager.joinChannel(ctx, channel, c); err != nil {
		c.mu.Lock()
		delete(c.attached, channel)
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Connection) detach(channel string) {
	c.mu.Lock()
	was := c.attached[channel]
	delete(c.attached, channel)
	c.mu.Unlock()

	if was && c.Capability.Allows(channel, realtime.OpSubscribe) {
		c.Manager.leaveChannel(channel, c)
	}
	c.enqueue(ServerFrame{Action: ActionDetached, Ref: ActionDetach, Channel: channel})
}

// publish relays a frame to the broker under the token's client id.
func (c *Connection) publish(frame ClientFrame) error {
	if !c.Capability.Allows(frame.Channel, realtime.OpPublish) {
		return fmt.Errorf("%w: publish %s", realtime.ErrCapabilityDenied, frame.Channel)
	}
	if _, kind, _ := events.ParseChannel(frame.Channel); frame.Name.Kind() != kind {
		return fmt.Errorf("%w: %s", ErrWrongChannel, frame.Name)
	}

	var env events.Envelope
	if err := json.Unmarshal(frame.Data, &env); err != nil || env.Type != frame.Name {
		return ErrMalformedFrame
	}
	if !c.limiter.Allow() {
		return ErrRateLimited
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Manager.config.WriteTimeout)
	defer cancel()
	return c.Manager.broker.Publish(ctx, realtime.Message{
		Channel:   frame.Channel,
		Name:      frame.Name,
		ClientID:  c.ClientID,
		Data:      frame.Data,
		Timestamp: time.Now(),
	})
}

// enqueue marshals and queues a frame. A full buffer closes the connection.
func (c *Connection) enqueue(frame ServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal frame")
		return
	}
	if !c.sendRaw(data) {
		log.Warn().Str("connection_id", c.ID).Msg("connection send buffer full, closing connection")
		go func() {
			c.Manager.unregisterConnection(c)
			c.Conn.Close()
		}()
	}
}

// sendRaw queues data without blocking. It reports false only when the
// buffer is full; frames for a closed connection are dropped.
func (c *Connection) sendRaw(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Connection) attachedChannels() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.attached))
	for ch := range c.attached {
		out[ch] = true
	}
	return out
}

// close stops further sends and lets writePump finish.
func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}
