// Package jetstream backs the event log with a NATS JetStream stream.
//
// One file-storage stream captures every events.> subject. Durable
// consumers carry the projection cursors; short-lived consumers serve
// loads and replays. Duplicate suppression rides on the stream's
// message-id dedup window keyed by content id.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/eventweave/eventweave/internal/eventlog"
)

const (
	defaultStream    = "EVENTS"
	defaultAckWait   = 30 * time.Second
	defaultMaxWait   = 2 * time.Second
	defaultDedupeWin = 2 * time.Minute
)

// Config tunes the backing stream.
type Config struct {
	// Stream is the JetStream stream name. Defaults to EVENTS.
	Stream string
	// MaxAge bounds event retention by age. Zero keeps events forever.
	MaxAge time.Duration
	// MaxBytes bounds event retention by total size. Zero is unlimited.
	MaxBytes int64
	// Duplicates is the message-id dedup window. Defaults to two minutes.
	Duplicates time.Duration
}

// Log is the JetStream-backed event log.
type Log struct {
	js     jetstream.JetStream
	stream jetstream.Stream
	name   string
}

// New connects the log to a NATS connection, creating or updating the
// backing stream.
func New(ctx context.Context, nc *nats.Conn, cfg Config) (*Log, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	name := cfg.Stream
	if name == "" {
		name = defaultStream
	}
	dupes := cfg.Duplicates
	if dupes <= 0 {
		dupes = defaultDedupeWin
	}
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       name,
		Subjects:   []string{eventlog.AllEvents},
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
		MaxAge:     cfg.MaxAge,
		MaxBytes:   cfg.MaxBytes,
		Duplicates: dupes,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: ensure stream %s: %v", eventlog.ErrConnection, name, err)
	}
	return &Log{js: js, stream: stream, name: name}, nil
}

// Publish appends one message with msgID as the dedup key.
func (l *Log) Publish(ctx context.Context, subject string, data []byte, msgID string) error {
	var opts []jetstream.PublishOpt
	if msgID != "" {
		opts = append(opts, jetstream.WithMsgID(msgID))
	}
	if _, err := l.js.Publish(ctx, subject, data, opts...); err != nil {
		return fmt.Errorf("%w: publish %s: %v", eventlog.ErrConnection, subject, err)
	}
	return nil
}

// CreateConsumer attaches or creates a consumer on the backing stream.
func (l *Log) CreateConsumer(ctx context.Context, cfg eventlog.ConsumerConfig) (eventlog.Consumer, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("consumer name is required")
	}
	jcfg := jetstream.ConsumerConfig{
		Name:          cfg.Name,
		FilterSubject: cfg.FilterSubject,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
	}
	if jcfg.AckWait <= 0 {
		jcfg.AckWait = defaultAckWait
	}
	if cfg.Durable {
		jcfg.Durable = cfg.Name
	}
	if cfg.StartSequence > 0 {
		jcfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		jcfg.OptStartSeq = cfg.StartSequence
	}
	if cfg.NoAck {
		jcfg.AckPolicy = jetstream.AckNonePolicy
		jcfg.AckWait = 0
	}
	cons, err := l.stream.CreateOrUpdateConsumer(ctx, jcfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create consumer %s: %v", eventlog.ErrConnection, cfg.Name, err)
	}
	return &consumer{cons: cons, name: cfg.Name}, nil
}

// DeleteConsumer removes a consumer and its server-side state. Deleting a
// consumer that is already gone is not an error.
func (l *Log) DeleteConsumer(ctx context.Context, name string) error {
	err := l.stream.DeleteConsumer(ctx, name)
	if err == nil || errors.Is(err, jetstream.ErrConsumerNotFound) {
		return nil
	}
	return fmt.Errorf("%w: delete consumer %s: %v", eventlog.ErrConnection, name, err)
}

// Stats reports stream totals.
func (l *Log) Stats(ctx context.Context) (eventlog.Stats, error) {
	info, err := l.stream.Info(ctx)
	if err != nil {
		return eventlog.Stats{}, fmt.Errorf("%w: stream info: %v", eventlog.ErrConnection, err)
	}
	return eventlog.Stats{
		Messages:      info.State.Msgs,
		Bytes:         info.State.Bytes,
		FirstSequence: info.State.FirstSeq,
		LastSequence:  info.State.LastSeq,
	}, nil
}

type consumer struct {
	cons jetstream.Consumer
	name string
}

func (c *consumer) Name() string { return c.name }

// Fetch pulls up to max messages, waiting at most the fetch window before
// returning whatever arrived.
func (c *consumer) Fetch(ctx context.Context, max int) ([]eventlog.Msg, error) {
	batch, err := c.cons.Fetch(max, jetstream.FetchMaxWait(defaultMaxWait))
	if err != nil {
		return nil, fmt.Errorf("%w: fetch: %v", eventlog.ErrConnection, err)
	}
	var out []eventlog.Msg
	for m := range batch.Messages() {
		meta, err := m.Metadata()
		if err != nil {
			return nil, fmt.Errorf("%w: message metadata: %v", eventlog.ErrSerialization, err)
		}
		out = append(out, &msg{m: m, seq: meta.Sequence.Stream})
		if err := ctx.Err(); err != nil {
			return out, err
		}
	}
	if err := batch.Error(); err != nil {
		return out, fmt.Errorf("%w: fetch batch: %v", eventlog.ErrConnection, err)
	}
	return out, nil
}

type msg struct {
	m   jetstream.Msg
	seq uint64
}

func (m *msg) Subject() string  { return m.m.Subject() }
func (m *msg) Data() []byte     { return m.m.Data() }
func (m *msg) Sequence() uint64 { return m.seq }
func (m *msg) Ack() error       { return m.m.Ack() }
