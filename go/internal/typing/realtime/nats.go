package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mcdev12/typingblocks/go/internal/typing/events"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const (
	headerEventName   = "Event-Name"
	headerClientID    = "Client-ID"
	headerPublishedAt = "Published-At"
)

type NATSConfig struct {
	URL            string
	StreamName     string        // keeps the latest state message per subject
	SnapshotMaxAge time.Duration // how long an idle room's last snapshot survives
	MaxReconnects  int
	ReconnectWait  time.Duration
	Replicas       int
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		StreamName:     "TYPING_ROOM_STATE",
		SnapshotMaxAge: 24 * time.Hour,
		MaxReconnects:  -1, // Infinite
		ReconnectWait:  2 * time.Second,
		Replicas:       1,
	}
}

// NATSBroker carries room channels over core NATS subjects. State channel
// subjects are also captured by a JetStream stream that retains one message
// per subject, which backs Snapshot.
type NATSBroker struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config NATSConfig
}

func NewNATSBroker(ctx context.Context, cfg NATSConfig) (*NATSBroker, error) {
	opts := []nats.Option{
		nats.Name("typing-blocks"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	b := &NATSBroker{nc: nc, js: js, config: cfg}
	if err := b.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return b, nil
}

func (b *NATSBroker) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:              b.config.StreamName,
		Description:       "Latest typing room state per room",
		Subjects:          []string{"typing-room.*.state.*"},
		Retention:         jetstream.LimitsPolicy,
		MaxMsgsPerSubject: 1,
		MaxAge:            b.config.SnapshotMaxAge,
		Storage:           jetstream.MemoryStorage,
		Replicas:          b.config.Replicas,
		Discard:           jetstream.DiscardOld,
	}

	stream, err := b.js.Stream(ctx, b.config.StreamName)
	if err != nil {
		if _, err = b.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", b.config.StreamName).Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !isStreamConfigEqual(info.Config, sc) {
		if _, err = b.js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().Str("stream", b.config.StreamName).Msg("updated JetStream stream")
	}
	return nil
}

// Subject maps "typing-room:CODE:kind" plus an event name to
// "typing-room.CODE.kind.NAME".
func Subject(channel string, name events.Name) string {
	return channelSubject(channel) + "." + string(name)
}

func channelSubject(channel string) string {
	return strings.ReplaceAll(channel, ":", ".")
}

func (b *NATSBroker) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	subject := Subject(msg.Channel, msg.Name)
	err := b.nc.PublishMsg(&nats.Msg{
		Subject: subject,
		Data:    msg.Data,
		Header: nats.Header{
			headerEventName:   []string{string(msg.Name)},
			headerClientID:    []string{msg.ClientID},
			headerPublishedAt: []string{msg.Timestamp.UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish to NATS: %w", err)
	}

	log.Debug().Str("subject", subject).Str("client_id", msg.ClientID).Msg("published")
	return nil
}

// Subscribe listens to every event name on channel. nats.go invokes the
// callback for one subscription sequentially.
func (b *NATSBroker) Subscribe(channel string, handler Handler) (func(), error) {
	wildcard := channelSubject(channel) + ".*"
	sub, err := b.nc.Subscribe(wildcard, func(m *nats.Msg) {
		handler(messageFromNATS(channel, m.Subject, m.Header, m.Data))
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", wildcard, err)
	}

	return func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			log.Warn().Err(err).Str("subject", wildcard).Msg("unsubscribe failed")
		}
	}, nil
}

// Snapshot reads the retained message for name on a state channel.
func (b *NATSBroker) Snapshot(ctx context.Context, channel string, name events.Name) (Message, bool, error) {
	if name.Kind() != events.KindState {
		return Message{}, false, nil
	}

	stream, err := b.js.Stream(ctx, b.config.StreamName)
	if err != nil {
		return Message{}, false, fmt.Errorf("get stream: %w", err)
	}

	subject := Subject(channel, name)
	raw, err := stream.GetLastMsgForSubject(ctx, subject)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return Message{}, false, nil
		}
		return Message{}, false, fmt.Errorf("get last message for %s: %w", subject, err)
	}

	return messageFromNATS(channel, raw.Subject, raw.Header, raw.Data), true, nil
}

func (b *NATSBroker) Close() error {
	if b.nc != nil {
		if err := b.nc.Drain(); err != nil {
			b.nc.Close()
		}
	}
	return nil
}

func messageFromNATS(channel, subject string, header nats.Header, data []byte) Message {
	name := events.Name(header.Get(headerEventName))
	if name == "" {
		if i := strings.LastIndexByte(subject, '.'); i >= 0 {
			name = events.Name(subject[i+1:])
		}
	}

	ts, err := time.Parse(time.RFC3339Nano, header.Get(headerPublishedAt))
	if err != nil {
		ts = time.Now()
	}

	return Message{
		Channel:   channel,
		Name:      name,
		ClientID:  header.Get(headerClientID),
		Data:      data,
		Timestamp: ts,
	}
}

func isStreamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.MaxMsgsPerSubject == b.MaxMsgsPerSubject &&
		a.Replicas == b.Replicas &&
		a.Storage == b.Storage
}
