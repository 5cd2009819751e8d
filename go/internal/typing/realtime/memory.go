package realtime

import (
	"context"
	"sync"

	"github.com/mcdev12/typingblocks/go/internal/typing/events"
	"github.com/rs/zerolog/log"
)

const memoryQueueSize = 256

// MemoryBroker is an in-process broker for single-node deployments and
// tests. Each subscriber gets its own ordered queue.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*memorySub
	last   map[snapshotKey]Message
	nextID uint64
	closed bool
}

type snapshotKey struct {
	channel string
	name    events.Name
}

type memorySub struct {
	queue chan Message
	done  chan struct{}
	once  sync.Once
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subs: make(map[string]map[uint64]*memorySub),
		last: make(map[snapshotKey]Message),
	}
}

// Publish queues msg for every current subscriber of msg.Channel. It blocks
// while a subscriber queue is full, until ctx is done.
func (b *MemoryBroker) Publish(ctx context.Context, msg Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBrokerClosed
	}
	if msg.Name.Kind() == events.KindState {
		b.last[snapshotKey{msg.Channel, msg.Name}] = msg
	}
	targets := make([]*memorySub, 0, len(b.subs[msg.Channel]))
	for _, s := range b.subs[msg.Channel] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		select {
		case s.queue <- msg:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe starts delivering channel messages to handler on a dedicated
// goroutine.
func (b *MemoryBroker) Subscribe(channel string, handler Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}

	b.nextID++
	id := b.nextID
	s := &memorySub{
		queue: make(chan Message, memoryQueueSize),
		done:  make(chan struct{}),
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[uint64]*memorySub)
	}
	b.subs[channel][id] = s

	go func() {
		for {
			select {
			case msg := <-s.queue:
				handler(msg)
			case <-s.done:
				return
			}
		}
	}()

	log.Debug().Str("channel", channel).Uint64("subscription", id).Msg("memory subscription added")

	return func() { b.unsubscribe(channel, id) }, nil
}

func (b *MemoryBroker) unsubscribe(channel string, id uint64) {
	b.mu.Lock()
	s, ok := b.subs[channel][id]
	if ok {
		delete(b.subs[channel], id)
		if len(b.subs[channel]) == 0 {
			delete(b.subs, channel)
		}
	}
	b.mu.Unlock()

	if ok {
		s.stop()
	}
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.done) })
}

// Snapshot returns the last state-channel message published under name.
func (b *MemoryBroker) Snapshot(_ context.Context, channel string, name events.Name) (Message, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	msg, ok := b.last[snapshotKey{channel, name}]
	return msg, ok, nil
}

// Close stops every subscription. Later calls fail with ErrBrokerClosed.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, s := range subs {
			s.stop()
		}
	}
	b.subs = nil
	return nil
}
