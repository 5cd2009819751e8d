package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/typingblocks/go/internal/typing/events"
	"github.com/mcdev12/typingblocks/go/internal/typing/realtime"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	ErrRateLimited    = errors.New("publish rate exceeded")
	ErrWrongChannel   = errors.New("event does not belong on this channel")
	ErrUnknownAction  = errors.New("unknown action")
	ErrMalformedFrame = errors.New("malformed frame")
)

// ConnectionManager manages WebSocket connections for typing rooms
type ConnectionManager struct {
	// Connection pools organized by room code
	roomConnections map[string]map[*Connection]bool
	// Broker subscriptions shared by every connection attached to a channel
	channels map[string]*channelSub
	mu       sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	broker   realtime.Broker

	broadcastCh chan realtime.Message
}

type channelSub struct {
	unsubscribe func()
	members     map[*Connection]bool
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID         string
	ClientID   string
	RoomCode   string
	Capability realtime.Capability
	Conn       *websocket.Conn
	Send       chan []byte
	Manager    *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time

	limiter  *rate.Limiter
	mu       sync.Mutex
	attached map[string]bool
	closed   bool
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	PublishRate     rate.Limit
	PublishBurst    int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024, // a full ROOM_STATE fits comfortably
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		PublishRate:     20,
		PublishBurst:    40,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, broker realtime.Broker) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		channels:        make(map[string]*channelSub),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broker:      broker,
		broadcastCh: make(chan realtime.Message, 1000),
	}
}

// Start fans broker messages out to attached connections until ctx is done.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case msg := <-cm.broadcastCh:
			cm.handleBroadcast(msg)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection for a verified token.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, claims *realtime.Claims) error {
	roomCode, ok := roomOf(claims.Capability)
	if !ok {
		return fmt.Errorf("%w: token grants no room channel", realtime.ErrInvalidToken)
	}

	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := time.Now()
	connection := &Connection{
		ID:          uuid.New().String(),
		ClientID:    claims.ClientID,
		RoomCode:    roomCode,
		Capability:  claims.Capability,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: now,
		LastPing:    now,
		limiter:     rate.NewLimiter(cm.config.PublishRate, cm.config.PublishBurst),
		attached:    make(map[string]bool),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("client_id", connection.ClientID).
		Str("room_code", roomCode).
		Msg("WebSocket connection established")

	return nil
}

// roomOf finds the room a capability is scoped to.
func roomOf(c realtime.Capability) (string, bool) {
	for channel := range c {
		if code, _, ok := events.ParseChannel(channel); ok {
			return code, true
		}
	}
	return "", false
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.roomConnections[conn.RoomCode] == nil {
		cm.roomConnections[conn.RoomCode] = make(map[*Connection]bool)
	}
	cm.roomConnections[conn.RoomCode][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_code", conn.RoomCode).
		Int("total_connections", len(cm.roomConnections[conn.RoomCode])).
		Msg("connection registered")
}

// unregisterConnection removes a connection and everything it attached to.
// Safe to call more than once.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	connections, exists := cm.roomConnections[conn.RoomCode]
	if !exists || !connections[conn] {
		cm.mu.Unlock()
		return
	}
	delete(connections, conn)
	if len(connections) == 0 {
		delete(cm.roomConnections, conn.RoomCode)
	}
	var unsubs []func()
	for channel := range conn.attachedChannels() {
		if unsub := cm.leaveChannelLocked(channel, conn); unsub != nil {
			unsubs = append(unsubs, unsub)
		}
	}
	cm.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	conn.close()

	log.Info().
		Str("connection_id", conn.ID).
		Str("client_id", conn.ClientID).
		Str("room_code", conn.RoomCode).
		Msg("connection unregistered")
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, connections := range cm.roomConnections {
		for conn := range connections {
			all = append(all, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range all {
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}
}

// joinChannel attaches conn to channel, subscribing on the broker for the
// first member. The retained ROOM_STATE is queued before any live message
// can reach the new member.
func (cm *ConnectionManager) joinChannel(ctx context.Context, channel string, conn *Connection) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.roomConnections[conn.RoomCode][conn] {
		return realtime.ErrConnectionClosed
	}

	sub, ok := cm.channels[channel]
	if !ok {
		unsub, err := cm.broker.Subscribe(channel, cm.enqueueBroadcast)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", channel, err)
		}
		sub = &channelSub{unsubscribe: unsub, members: make(map[*Connection]bool)}
		cm.channels[channel] = sub
	}

	conn.enqueue(ServerFrame{Action: ActionAttached, Ref: ActionAttach, Channel: channel})

	if sp, ok := cm.broker.(realtime.SnapshotProvider); ok {
		msg, found, err := sp.Snapshot(ctx, channel, events.EventRoomState)
		if err != nil {
			log.Warn().Err(err).Str("channel", channel).Msg("snapshot replay failed")
		} else if found {
			conn.enqueue(messageFrame(msg))
		}
	}

	sub.members[conn] = true
	return nil
}

// leaveChannelLocked drops conn from channel and returns the broker
// unsubscribe to run once the last member is gone.
func (cm *ConnectionManager) leaveChannelLocked(channel string, conn *Connection) func() {
	sub, ok := cm.channels[channel]
	if !ok {
		return nil
	}
	delete(sub.members, conn)
	if len(sub.members) > 0 {
		return nil
	}
	delete(cm.channels, channel)
	return sub.unsubscribe
}

func (cm *ConnectionManager) leaveChannel(channel string, conn *Connection) {
	cm.mu.Lock()
	unsub := cm.leaveChannelLocked(channel, conn)
	cm.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (cm *ConnectionManager) enqueueBroadcast(msg realtime.Message) {
	select {
	case cm.broadcastCh <- msg:
	default:
		log.Warn().Str("channel", msg.Channel).Msg("broadcast channel full, dropping message")
	}
}

// handleBroadcast forwards one broker message to the channel's members
func (cm *ConnectionManager) handleBroadcast(msg realtime.Message) {
	data, err := json.Marshal(messageFrame(msg))
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal message for broadcast")
		return
	}

	var slow []*Connection
	cm.mu.RLock()
	sub, ok := cm.channels[msg.Channel]
	members := 0
	if ok {
		members = len(sub.members)
		for conn := range sub.members {
			if !conn.sendRaw(data) {
				slow = append(slow, conn)
			}
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("client_id", conn.ClientID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	if ok {
		log.Debug().
			Str("event_type", string(msg.Name)).
			Str("channel", msg.Channel).
			Int("connections", members).
			Msg("event broadcasted")
	}
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		ActiveRooms:     len(cm.roomConnections),
		ActiveChannels:  len(cm.channels),
		RoomConnections: make(map[string]int, len(cm.roomConnections)),
	}
	for roomCode, connections := range cm.roomConnections {
		stats.TotalConnections += len(connections)
		stats.RoomConnections[roomCode] = len(connections)
	}
	return stats
}

// ConnectionStats is served on /ws/stats.
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	ActiveChannels   int            `json:"active_channels"`
	RoomConnections  map[string]int `json:"room_connections"`
}
