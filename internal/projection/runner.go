package projection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/eventweave/eventweave/internal/chain"
	"github.com/eventweave/eventweave/internal/eventlog"
	"github.com/eventweave/eventweave/internal/storage"
)

// State is the runner lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateReplaying
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateReplaying:
		return "replaying"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	defaultConsumerName = "projector"
	defaultBatchSize    = 50
	defaultPollInterval = 250 * time.Millisecond
	maxFetchBackoff     = 5 * time.Second
)

// Runner pulls events from the durable log and folds them into a set of
// projections. One batch is in flight at a time.
//
// Delivery is at-least-once. A message whose payload does not decode is
// acknowledged and counted rather than retried, since redelivery cannot fix
// it. A projection error is logged and the message acknowledged; projections
// are idempotent, so a replay can repair the model later.
type Runner struct {
	log         eventlog.Log
	projections []Projection
	checkpoints storage.CheckpointStore
	consumer    string
	batchSize   int
	poll        time.Duration

	state       atomic.Int32
	decodeErrs  atomic.Uint64
	projectErrs atomic.Uint64

	// batchMu serializes live batch application with replay's
	// reset-and-refold, so a fetch already in flight when a replay starts
	// cannot fold into the reset model.
	batchMu sync.Mutex

	mu     sync.Mutex
	stop   context.CancelFunc
	doneCh chan struct{}
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithConsumerName overrides the durable consumer name.
func WithConsumerName(name string) RunnerOption {
	return func(r *Runner) {
		if name != "" {
			r.consumer = name
		}
	}
}

// WithRunnerBatchSize sets the pull batch size.
func WithRunnerBatchSize(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithPollInterval sets the idle delay between empty fetches.
func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.poll = d
		}
	}
}

// WithCheckpoints persists an advisory checkpoint after each batch. The
// log's durable consumer cursor remains authoritative.
func WithCheckpoints(cs storage.CheckpointStore) RunnerOption {
	return func(r *Runner) { r.checkpoints = cs }
}

// NewRunner returns a stopped runner over the given log and projections.
func NewRunner(log eventlog.Log, projections []Projection, opts ...RunnerOption) *Runner {
	r := &Runner{
		log:         log,
		projections: projections,
		consumer:    defaultConsumerName,
		batchSize:   defaultBatchSize,
		poll:        defaultPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current lifecycle state.
func (r *Runner) State() State { return State(r.state.Load()) }

// DecodeErrors returns how many undecodable messages were skipped.
func (r *Runner) DecodeErrors() uint64 { return r.decodeErrs.Load() }

// ProjectionErrors returns how many events a projection failed to apply.
func (r *Runner) ProjectionErrors() uint64 { return r.projectErrs.Load() }

// ConsumerName returns the durable consumer name the runner pulls from.
func (r *Runner) ConsumerName() string { return r.consumer }

// Checkpoint returns the last advisory checkpoint saved for this runner.
func (r *Runner) Checkpoint(ctx context.Context) (storage.Checkpoint, error) {
	if r.checkpoints == nil {
		return storage.Checkpoint{}, fmt.Errorf("checkpoint %s: %w", r.consumer, storage.ErrNotFound)
	}
	return r.checkpoints.Get(ctx, r.consumer)
}

// Start attaches the durable consumer and begins the pull loop. It returns
// once the loop is running; the loop exits when ctx is done or Stop is
// called.
func (r *Runner) Start(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("runner is %s, not stopped", r.State())
	}
	cons, err := r.log.CreateConsumer(ctx, eventlog.ConsumerConfig{
		Name:          r.consumer,
		Durable:       true,
		FilterSubject: eventlog.AllEvents,
	})
	if err != nil {
		r.state.Store(int32(StateFailed))
		return fmt.Errorf("attach consumer %s: %w", r.consumer, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.mu.Lock()
	r.stop = cancel
	r.doneCh = done
	r.mu.Unlock()

	r.state.Store(int32(StateRunning))
	go func() {
		defer close(done)
		r.pullLoop(loopCtx, cons)
	}()
	return nil
}

// Stop cancels the pull loop and waits for it to drain.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.stop, r.doneCh
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	if r.State() != StateFailed {
		r.state.Store(int32(StateStopped))
	}
}

func (r *Runner) pullLoop(ctx context.Context, cons eventlog.Consumer) {
	backoff := r.poll
	for {
		if ctx.Err() != nil {
			return
		}
		if r.State() == StateReplaying {
			if !sleep(ctx, r.poll) {
				return
			}
			continue
		}
		msgs, err := cons.Fetch(ctx, r.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, eventlog.ErrConnection) {
				log.Printf("fetch %s: %v (retrying in %s)", r.consumer, err, backoff)
				if !sleep(ctx, backoff) {
					return
				}
				backoff = min(backoff*2, maxFetchBackoff)
				continue
			}
			log.Printf("fetch %s: unrecoverable: %v", r.consumer, err)
			r.state.Store(int32(StateFailed))
			return
		}
		backoff = r.poll
		if len(msgs) == 0 {
			if !sleep(ctx, r.poll) {
				return
			}
			continue
		}
		r.batchMu.Lock()
		last := r.applyBatch(msgs)
		if r.checkpoints != nil && last > 0 {
			cp := storage.Checkpoint{ConsumerName: r.consumer, LastSequence: last, UpdatedAt: time.Now()}
			if err := r.checkpoints.Save(ctx, cp); err != nil {
				log.Printf("save checkpoint %s: %v", r.consumer, err)
			}
		}
		r.batchMu.Unlock()
	}
}

// applyBatch folds one batch and returns the highest log sequence
// acknowledged.
func (r *Runner) applyBatch(msgs []eventlog.Msg) uint64 {
	var last uint64
	for _, m := range msgs {
		evt, err := chain.Unmarshal(m.Data())
		if err != nil {
			r.decodeErrs.Add(1)
			log.Printf("skip undecodable message at log seq %d (%s): %v", m.Sequence(), m.Subject(), err)
		} else {
			r.apply(evt)
		}
		if err := m.Ack(); err != nil {
			log.Printf("ack log seq %d: %v", m.Sequence(), err)
			continue
		}
		if m.Sequence() > last {
			last = m.Sequence()
		}
	}
	return last
}

func (r *Runner) apply(evt chain.ChainedEvent) {
	for _, p := range r.projections {
		if err := p.Apply(evt); err != nil {
			r.projectErrs.Add(1)
			log.Printf("projection %s: apply %s seq %d: %v", p.Name(), evt.Payload.Kind(), evt.Sequence, err)
		}
	}
}

// ReplayFrom resets every projection and refolds the log from the given
// log sequence through a throwaway non-acknowledging consumer, leaving the
// durable cursor untouched. The live pull loop pauses for the duration.
// Replaying from sequence zero rebuilds from the start of the log.
func (r *Runner) ReplayFrom(ctx context.Context, fromSequence uint64) error {
	if !r.state.CompareAndSwap(int32(StateRunning), int32(StateReplaying)) {
		return fmt.Errorf("runner is %s, not running", r.State())
	}
	defer r.state.CompareAndSwap(int32(StateReplaying), int32(StateRunning))

	// Wait out any batch the live loop already fetched, and hold the lock
	// so none is applied between the reset and the refold.
	r.batchMu.Lock()
	defer r.batchMu.Unlock()

	name := "replay-" + uuid.NewString()
	cons, err := r.log.CreateConsumer(ctx, eventlog.ConsumerConfig{
		Name:          name,
		FilterSubject: eventlog.AllEvents,
		StartSequence: fromSequence,
		NoAck:         true,
	})
	if err != nil {
		return fmt.Errorf("replay consumer: %w", err)
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = r.log.DeleteConsumer(dctx, name)
	}()

	for _, p := range r.projections {
		p.Reset()
	}

	var replayed int
	for {
		msgs, err := cons.Fetch(ctx, r.batchSize)
		if err != nil {
			return fmt.Errorf("replay fetch: %w", err)
		}
		if len(msgs) == 0 {
			break
		}
		for _, m := range msgs {
			evt, err := chain.Unmarshal(m.Data())
			if err != nil {
				r.decodeErrs.Add(1)
				log.Printf("replay: skip undecodable message at log seq %d: %v", m.Sequence(), err)
				continue
			}
			r.apply(evt)
			replayed++
		}
	}
	log.Printf("replay complete: %d events refolded from log seq %d", replayed, fromSequence)
	return nil
}

// sleep waits d or until ctx is done, reporting whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
