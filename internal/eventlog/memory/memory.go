// Package memory implements an in-process event log for tests and local
// development. It mirrors the durable backend's semantics: log-wide
// sequence numbers, duplicate suppression by message id, subject wildcard
// filtering, durable consumer cursors, and redelivery of unacknowledged
// messages after the visibility timeout.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/eventweave/eventweave/internal/eventlog"
)

const defaultAckWait = 30 * time.Second

type stored struct {
	subject string
	data    []byte
	seq     uint64
}

// Log is a mutex-guarded in-memory event log.
type Log struct {
	mu        sync.Mutex
	messages  []stored
	nextSeq   uint64
	msgIDs    map[string]bool
	consumers map[string]*consumer
	now       func() time.Time
}

// NewLog returns an empty in-memory log.
func NewLog() *Log {
	return &Log{
		nextSeq:   1,
		msgIDs:    make(map[string]bool),
		consumers: make(map[string]*consumer),
		now:       time.Now,
	}
}

// Publish appends one message, dropping duplicates by msgID.
func (l *Log) Publish(_ context.Context, subject string, data []byte, msgID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if msgID != "" {
		if l.msgIDs[msgID] {
			return nil
		}
		l.msgIDs[msgID] = true
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	l.messages = append(l.messages, stored{subject: subject, data: cp, seq: l.nextSeq})
	l.nextSeq++
	return nil
}

// CreateConsumer attaches or creates a consumer. A durable consumer with an
// existing name resumes its server-side cursor; recreating it with a
// different filter is an error.
func (l *Log) CreateConsumer(_ context.Context, cfg eventlog.ConsumerConfig) (eventlog.Consumer, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("consumer name is required")
	}
	filter := cfg.FilterSubject
	if filter == "" {
		filter = eventlog.AllEvents
	}
	ackWait := cfg.AckWait
	if ackWait <= 0 {
		ackWait = defaultAckWait
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.consumers[cfg.Name]; ok {
		if c.filter != filter {
			return nil, fmt.Errorf("consumer %s exists with filter %s", cfg.Name, c.filter)
		}
		return c, nil
	}
	c := &consumer{
		log:     l,
		name:    cfg.Name,
		filter:  filter,
		noAck:   cfg.NoAck,
		ackWait: ackWait,
		pending: make(map[uint64]time.Time),
	}
	if cfg.StartSequence > 0 {
		c.cursor = cfg.StartSequence - 1
	}
	l.consumers[cfg.Name] = c
	return c, nil
}

// DeleteConsumer removes a consumer and its cursor state.
func (l *Log) DeleteConsumer(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.consumers, name)
	return nil
}

// Stats reports totals over the retained messages.
func (l *Log) Stats(_ context.Context) (eventlog.Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := eventlog.Stats{Messages: uint64(len(l.messages))}
	for _, m := range l.messages {
		s.Bytes += uint64(len(m.data))
	}
	if len(l.messages) > 0 {
		s.FirstSequence = l.messages[0].seq
		s.LastSequence = l.messages[len(l.messages)-1].seq
	}
	return s, nil
}

// SetClock overrides the redelivery clock. Test hook.
func (l *Log) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

type consumer struct {
	log     *Log
	name    string
	filter  string
	cursor  uint64
	noAck   bool
	ackWait time.Duration
	pending map[uint64]time.Time
}

func (c *consumer) Name() string { return c.name }

// Fetch returns up to max messages: first any pending messages whose
// visibility timeout expired, then new messages past the cursor.
func (c *consumer) Fetch(ctx context.Context, max int) ([]eventlog.Msg, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.log.mu.Lock()
	defer c.log.mu.Unlock()
	now := c.log.now()
	var out []eventlog.Msg
	for _, m := range c.log.messages {
		if len(out) >= max {
			break
		}
		if !subjectMatches(c.filter, m.subject) {
			continue
		}
		if deadline, ok := c.pending[m.seq]; ok {
			if now.Before(deadline) {
				continue
			}
		} else if m.seq <= c.cursor {
			continue
		}
		if !c.noAck {
			c.pending[m.seq] = now.Add(c.ackWait)
		}
		if m.seq > c.cursor {
			c.cursor = m.seq
		}
		out = append(out, &msg{consumer: c, stored: m})
	}
	return out, nil
}

func (c *consumer) ack(seq uint64) {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()
	delete(c.pending, seq)
}

type msg struct {
	consumer *consumer
	stored   stored
}

func (m *msg) Subject() string  { return m.stored.subject }
func (m *msg) Data() []byte     { return m.stored.data }
func (m *msg) Sequence() uint64 { return m.stored.seq }

func (m *msg) Ack() error {
	if m.consumer.noAck {
		return nil
	}
	m.consumer.ack(m.stored.seq)
	return nil
}

// subjectMatches applies token wildcard semantics: * matches one token, >
// matches one or more trailing tokens.
func subjectMatches(filter, subject string) bool {
	ft := strings.Split(filter, ".")
	st := strings.Split(subject, ".")
	for i, f := range ft {
		if f == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if f != "*" && f != st[i] {
			return false
		}
	}
	return len(ft) == len(st)
}
