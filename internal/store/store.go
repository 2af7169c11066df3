// Package store is the event store: it appends domain events onto
// per-aggregate integrity chains and publishes them to the durable log.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eventweave/eventweave/internal/chain"
	"github.com/eventweave/eventweave/internal/event"
	"github.com/eventweave/eventweave/internal/eventlog"
)

const defaultBatchSize = 100

// Store appends and loads chained events over a durable log.
//
// Appends to the same aggregate are serialized by an in-process chainer;
// the store does not arbitrate writers across processes.
type Store struct {
	log       eventlog.Log
	batchSize int
	now       func() time.Time

	mu    sync.Mutex // guards heads map access only
	heads map[string]*aggregateHead
}

// aggregateHead serializes appenders to one aggregate and caches its chain
// head. A nil chainer means the head must be rehydrated from the log.
// Hydration and publishes run under the per-aggregate lock, never under
// the store-wide one, so unrelated aggregates never block each other.
type aggregateHead struct {
	mu      sync.Mutex
	chainer *chain.Chainer
}

// Option configures a Store.
type Option func(*Store)

// WithBatchSize sets the page size for loads.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithClock overrides the append timestamp source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a store over the given log.
func New(log eventlog.Log, opts ...Option) *Store {
	s := &Store{
		log:       log,
		batchSize: defaultBatchSize,
		now:       time.Now,
		heads:     make(map[string]*aggregateHead),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append chains and publishes events for one aggregate, in order. The
// aggregate's chain head is hydrated from the log on first touch. Events
// are published one at a time with the content id as the dedup key, so a
// retried batch after a mid-batch failure does not double-append.
func (s *Store) Append(ctx context.Context, aggregateID string, payloads ...event.Payload) ([]chain.ChainedEvent, error) {
	if aggregateID == "" {
		return nil, fmt.Errorf("aggregate id is required")
	}
	for _, p := range payloads {
		if p == nil {
			return nil, fmt.Errorf("append %s: nil payload", aggregateID)
		}
		if p.AggregateID() != aggregateID {
			return nil, fmt.Errorf("append %s: payload belongs to aggregate %s", aggregateID, p.AggregateID())
		}
	}

	h := s.head(aggregateID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.chainer == nil {
		c, err := s.hydrate(ctx, aggregateID)
		if err != nil {
			return nil, err
		}
		h.chainer = c
	}

	out := make([]chain.ChainedEvent, 0, len(payloads))
	for _, p := range payloads {
		evt, err := h.chainer.Add(p, s.now())
		if err != nil {
			return out, fmt.Errorf("append %s: %w", aggregateID, err)
		}
		data, err := chain.Marshal(evt)
		if err != nil {
			return out, fmt.Errorf("%w: append %s seq %d: %v", eventlog.ErrSerialization, aggregateID, evt.Sequence, err)
		}
		subject := eventlog.Subject(aggregateID, string(p.Kind()))
		if err := s.log.Publish(ctx, subject, data, evt.ContentID); err != nil {
			// Drop the cached chainer so the next append re-reads the log
			// instead of trusting an unconfirmed head.
			h.chainer = nil
			return out, fmt.Errorf("append %s seq %d: %w", aggregateID, evt.Sequence, err)
		}
		out = append(out, evt)
	}
	return out, nil
}

// head returns the aggregate's head slot, creating it on first touch.
func (s *Store) head(aggregateID string) *aggregateHead {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.heads[aggregateID]
	if !ok {
		h = &aggregateHead{}
		s.heads[aggregateID] = h
	}
	return h
}

// hydrate rebuilds an aggregate's chain head from its stream.
func (s *Store) hydrate(ctx context.Context, aggregateID string) (*chain.Chainer, error) {
	events, err := s.load(ctx, eventlog.AggregateSubjects(aggregateID))
	if err != nil {
		return nil, fmt.Errorf("hydrate %s: %w", aggregateID, err)
	}
	if len(events) == 0 {
		return chain.NewChainer(), nil
	}
	last := events[len(events)-1]
	return chain.Resume(last.ContentID, last.Sequence), nil
}

// Load returns one aggregate's events ordered by sequence.
func (s *Store) Load(ctx context.Context, aggregateID string) ([]chain.ChainedEvent, error) {
	if aggregateID == "" {
		return nil, fmt.Errorf("aggregate id is required")
	}
	return s.load(ctx, eventlog.AggregateSubjects(aggregateID))
}

// LoadAll returns every event in the log, grouped by aggregate and ordered
// by sequence within each group.
func (s *Store) LoadAll(ctx context.Context) (map[string][]chain.ChainedEvent, error) {
	events, err := s.load(ctx, eventlog.AllEvents)
	if err != nil {
		return nil, err
	}
	byAggregate := make(map[string][]chain.ChainedEvent)
	for _, evt := range events {
		id := evt.Payload.AggregateID()
		byAggregate[id] = append(byAggregate[id], evt)
	}
	for _, evts := range byAggregate {
		sort.Slice(evts, func(i, j int) bool { return evts[i].Sequence < evts[j].Sequence })
	}
	return byAggregate, nil
}

// Verify loads one aggregate's stream and validates its integrity chain.
// A *chain.BreakError reports every divergence found.
func (s *Store) Verify(ctx context.Context, aggregateID string) error {
	events, err := s.Load(ctx, aggregateID)
	if err != nil {
		return err
	}
	return chain.ValidateChain(events)
}

// Stats reports log totals.
func (s *Store) Stats(ctx context.Context) (eventlog.Stats, error) {
	return s.log.Stats(ctx)
}

// load reads every message matching filter through a throwaway consumer and
// returns the decoded events sorted by sequence.
func (s *Store) load(ctx context.Context, filter string) ([]chain.ChainedEvent, error) {
	name := "load-" + uuid.NewString()
	cons, err := s.log.CreateConsumer(ctx, eventlog.ConsumerConfig{
		Name:          name,
		FilterSubject: filter,
		NoAck:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", filter, err)
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = s.log.DeleteConsumer(dctx, name)
	}()

	var out []chain.ChainedEvent
	for {
		msgs, err := cons.Fetch(ctx, s.batchSize)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", filter, err)
		}
		if len(msgs) == 0 {
			break
		}
		for _, m := range msgs {
			evt, err := chain.Unmarshal(m.Data())
			if err != nil {
				return nil, fmt.Errorf("%w: load %s at log seq %d: %v", eventlog.ErrSerialization, filter, m.Sequence(), err)
			}
			out = append(out, evt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}
