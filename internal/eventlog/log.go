// Package eventlog defines the durable publish-subscribe log the event
// store and projection runner are built on.
//
// The log delivers at-least-once: a durable, named consumer's cursor is
// tracked server-side across restarts, messages must be explicitly
// acknowledged, and unacknowledged messages are redelivered after the
// visibility timeout. Consumers must therefore be idempotent.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors backends wrap so callers can classify failures with
// errors.Is.
var (
	// ErrConnection indicates the backend is unreachable. Retryable with
	// backoff.
	ErrConnection = errors.New("event log unreachable")
	// ErrSerialization indicates a payload that cannot be encoded or
	// decoded. Non-retryable; candidate for dead-lettering.
	ErrSerialization = errors.New("event payload serialization failed")
)

// AllEvents matches every event subject in the log.
const AllEvents = "events.>"

// Subject returns the publish subject for one event:
// events.<aggregate_id>.<kind>.
func Subject(aggregateID, kind string) string {
	return fmt.Sprintf("events.%s.%s", aggregateID, kind)
}

// AggregateSubjects returns the wildcard filter covering every kind for one
// aggregate.
func AggregateSubjects(aggregateID string) string {
	return fmt.Sprintf("events.%s.>", aggregateID)
}

// Msg is one delivered log message.
type Msg interface {
	// Subject the message was published under.
	Subject() string
	// Data is the raw payload.
	Data() []byte
	// Sequence is the log-wide sequence number assigned by the backend.
	Sequence() uint64
	// Ack marks the message processed. A no-op on non-acknowledging
	// consumers.
	Ack() error
}

// Consumer is a positioned read cursor over the log.
type Consumer interface {
	// Fetch returns up to max messages. It returns an empty slice when the
	// cursor has caught up with the log; it never blocks past the backend's
	// fetch window.
	Fetch(ctx context.Context, max int) ([]Msg, error)
	// Name identifies the consumer for deletion and observability.
	Name() string
}

// ConsumerConfig describes a consumer to attach or create.
type ConsumerConfig struct {
	// Name of the consumer. Durable consumers reuse the same name across
	// restarts to resume from the last acknowledged position.
	Name string
	// Durable marks the cursor server-persisted. Non-durable consumers are
	// discarded once deleted or idle.
	Durable bool
	// FilterSubject bounds delivery, e.g. events.<id>.> or events.>.
	// Empty means all events.
	FilterSubject string
	// StartSequence positions the cursor at a log sequence. Zero starts
	// from the beginning.
	StartSequence uint64
	// NoAck disables acknowledgement tracking, for replay consumers that
	// must not disturb durable cursors.
	NoAck bool
	// AckWait is the visibility timeout before an unacknowledged message is
	// redelivered. Zero uses the backend default.
	AckWait time.Duration
}

// Stats summarizes the backing stream.
type Stats struct {
	Messages      uint64
	Bytes         uint64
	FirstSequence uint64
	LastSequence  uint64
}

// Log is the durable append-only log backend.
type Log interface {
	// Publish appends one message. msgID is the duplicate-suppression key:
	// within the backend's dedup window a repeated id is dropped rather
	// than appended, making mid-batch append retries safe.
	Publish(ctx context.Context, subject string, data []byte, msgID string) error
	// CreateConsumer attaches or creates a consumer per cfg.
	CreateConsumer(ctx context.Context, cfg ConsumerConfig) (Consumer, error)
	// DeleteConsumer removes a named consumer and its server-side state.
	DeleteConsumer(ctx context.Context, name string) error
	// Stats reports stream totals.
	Stats(ctx context.Context) (Stats, error)
}
