package projection

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eventweave/eventweave/internal/chain"
	"github.com/eventweave/eventweave/internal/event"
	"github.com/eventweave/eventweave/internal/eventlog"
	"github.com/eventweave/eventweave/internal/eventlog/memory"
	"github.com/eventweave/eventweave/internal/storage"
	"github.com/eventweave/eventweave/internal/store"
)

// memCheckpoints is an in-memory CheckpointStore for runner tests.
type memCheckpoints struct {
	mu  sync.Mutex
	cps map[string]storage.Checkpoint
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{cps: make(map[string]storage.Checkpoint)}
}

func (m *memCheckpoints) Save(_ context.Context, cp storage.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cps[cp.ConsumerName] = cp
	return nil
}

func (m *memCheckpoints) Get(_ context.Context, name string) (storage.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.cps[name]
	if !ok {
		return storage.Checkpoint{}, storage.ErrNotFound
	}
	return cp, nil
}

func (m *memCheckpoints) List(_ context.Context) ([]storage.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.Checkpoint, 0, len(m.cps))
	for _, cp := range m.cps {
		out = append(out, cp)
	}
	return out, nil
}

func (m *memCheckpoints) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cps, name)
	return nil
}

// failingProjection rejects every event.
type failingProjection struct{}

func (failingProjection) Name() string { return "failing" }
func (failingProjection) Reset()       {}

func (failingProjection) Apply(chain.ChainedEvent) error { return errors.New("boom") }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func appendScenario(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := context.Background()
	_, err := s.Append(ctx, "graph-1",
		event.GraphCreated{GraphID: "graph-1", Metadata: event.GraphMetadata{Name: "Workflow"}},
		event.NodeAdded{GraphID: "graph-1", NodeID: "n1"},
		event.NodeAdded{GraphID: "graph-1", NodeID: "n2"},
		event.EdgeConnected{GraphID: "graph-1", EdgeID: "e1", SourceID: "n1", TargetID: "n2"},
	)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestRunnerAppliesLiveEvents(t *testing.T) {
	ctx := context.Background()
	log := memory.NewLog()
	appendScenario(t, store.New(log))

	summary := NewGraphSummary()
	checkpoints := newMemCheckpoints()
	runner := NewRunner(log, []Projection{summary},
		WithPollInterval(10*time.Millisecond),
		WithCheckpoints(checkpoints),
	)
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer runner.Stop()

	waitFor(t, func() bool {
		s, ok := summary.Summary("graph-1")
		return ok && s.NodeCount == 2 && s.EdgeCount == 1
	})

	if got := runner.State(); got != StateRunning {
		t.Fatalf("state = %s, want running", got)
	}
	waitFor(t, func() bool {
		cp, err := checkpoints.Get(ctx, runner.ConsumerName())
		return err == nil && cp.LastSequence == 4
	})

	runner.Stop()
	if got := runner.State(); got != StateStopped {
		t.Fatalf("state after stop = %s, want stopped", got)
	}
}

func TestRunnerAppliesEventsPublishedAfterStart(t *testing.T) {
	ctx := context.Background()
	log := memory.NewLog()
	s := store.New(log)

	summary := NewGraphSummary()
	runner := NewRunner(log, []Projection{summary}, WithPollInterval(10*time.Millisecond))
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer runner.Stop()

	appendScenario(t, s)
	waitFor(t, func() bool {
		got, ok := summary.Summary("graph-1")
		return ok && got.NodeCount == 2
	})
}

func TestRunnerSkipsUndecodableMessages(t *testing.T) {
	ctx := context.Background()
	log := memory.NewLog()

	if err := log.Publish(ctx, eventlog.Subject("graph-1", "node_added"), []byte("garbage"), ""); err != nil {
		t.Fatalf("publish garbage: %v", err)
	}
	appendScenario(t, store.New(log))

	summary := NewGraphSummary()
	runner := NewRunner(log, []Projection{summary}, WithPollInterval(10*time.Millisecond))
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer runner.Stop()

	waitFor(t, func() bool {
		s, ok := summary.Summary("graph-1")
		return ok && s.NodeCount == 2
	})
	if got := runner.DecodeErrors(); got != 1 {
		t.Fatalf("decode errors = %d, want 1", got)
	}
	// The malformed message was acknowledged, not retried forever: the
	// runner reached the events behind it.
	if got := runner.State(); got != StateRunning {
		t.Fatalf("state = %s, want running", got)
	}
}

func TestRunnerIsolatesProjectionErrors(t *testing.T) {
	ctx := context.Background()
	log := memory.NewLog()
	appendScenario(t, store.New(log))

	summary := NewGraphSummary()
	runner := NewRunner(log, []Projection{failingProjection{}, summary},
		WithPollInterval(10*time.Millisecond),
	)
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer runner.Stop()

	waitFor(t, func() bool {
		s, ok := summary.Summary("graph-1")
		return ok && s.NodeCount == 2
	})
	if got := runner.ProjectionErrors(); got != 4 {
		t.Fatalf("projection errors = %d, want 4", got)
	}
}

func TestRunnerReplayRebuildsIdenticalState(t *testing.T) {
	ctx := context.Background()
	log := memory.NewLog()
	appendScenario(t, store.New(log))

	summary := NewGraphSummary()
	runner := NewRunner(log, []Projection{summary}, WithPollInterval(10*time.Millisecond))
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer runner.Stop()

	waitFor(t, func() bool {
		s, ok := summary.Summary("graph-1")
		return ok && s.EdgeCount == 1
	})
	before, _ := summary.Summary("graph-1")

	if err := runner.ReplayFrom(ctx, 0); err != nil {
		t.Fatalf("replay: %v", err)
	}
	after, ok := summary.Summary("graph-1")
	if !ok {
		t.Fatal("summary missing after replay")
	}
	if after.NodeCount != before.NodeCount || after.EdgeCount != before.EdgeCount ||
		after.Name != before.Name || after.LastEventSequence != before.LastEventSequence {
		t.Fatalf("replayed state %+v differs from live state %+v", after, before)
	}
	if got := runner.State(); got != StateRunning {
		t.Fatalf("state after replay = %s, want running", got)
	}
}

// gatedLog wraps the memory log so the durable consumer's and the replay
// consumer's fetches only proceed when fed a token, letting tests pin a
// live fetch in flight while a replay runs.
type gatedLog struct {
	*memory.Log
	durable    string
	liveGate   chan struct{}
	replayGate chan struct{}
}

func (g *gatedLog) CreateConsumer(ctx context.Context, cfg eventlog.ConsumerConfig) (eventlog.Consumer, error) {
	cons, err := g.Log.CreateConsumer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	switch {
	case cfg.Name == g.durable:
		return &gatedConsumer{Consumer: cons, gate: g.liveGate}, nil
	case strings.HasPrefix(cfg.Name, "replay-"):
		return &gatedConsumer{Consumer: cons, gate: g.replayGate}, nil
	}
	return cons, nil
}

type gatedConsumer struct {
	eventlog.Consumer
	gate chan struct{}
}

func (c *gatedConsumer) Fetch(ctx context.Context, max int) ([]eventlog.Msg, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.gate:
	}
	return c.Consumer.Fetch(ctx, max)
}

func TestReplayNotCorruptedByInFlightLiveBatch(t *testing.T) {
	ctx := context.Background()
	base := memory.NewLog()
	s := store.New(base)
	if _, err := s.Append(ctx, "graph-1",
		event.GraphCreated{GraphID: "graph-1", Metadata: event.GraphMetadata{Name: "Workflow"}},
		event.NodeAdded{GraphID: "graph-1", NodeID: "n1"},
		event.NodeAdded{GraphID: "graph-1", NodeID: "n2"},
	); err != nil {
		t.Fatalf("append: %v", err)
	}

	glog := &gatedLog{
		Log:        base,
		durable:    "projector",
		liveGate:   make(chan struct{}, 16),
		replayGate: make(chan struct{}, 16),
	}
	summary := NewGraphSummary()
	runner := NewRunner(glog, []Projection{summary}, WithPollInterval(5*time.Millisecond))
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer runner.Stop()

	// Let the live loop fold the first three events, then leave its next
	// fetch pinned in flight.
	glog.liveGate <- struct{}{}
	waitFor(t, func() bool {
		got, ok := summary.Summary("graph-1")
		return ok && got.NodeCount == 2
	})

	// A fourth event lands while that fetch is in flight.
	if _, err := s.Append(ctx, "graph-1", event.NodeAdded{GraphID: "graph-1", NodeID: "n3"}); err != nil {
		t.Fatalf("append n3: %v", err)
	}

	replayDone := make(chan error, 1)
	go func() { replayDone <- runner.ReplayFrom(ctx, 0) }()
	waitFor(t, func() bool { return runner.State() == StateReplaying })

	// Release the in-flight live fetch: it returns the fourth event while
	// the replay holds the reset model. The live fold must wait for the
	// replay rather than race it.
	glog.liveGate <- struct{}{}
	time.Sleep(50 * time.Millisecond)

	glog.replayGate <- struct{}{}
	glog.replayGate <- struct{}{}
	if err := <-replayDone; err != nil {
		t.Fatalf("replay: %v", err)
	}

	waitFor(t, func() bool { return runner.State() == StateRunning })
	got, ok := summary.Summary("graph-1")
	if !ok {
		t.Fatal("summary missing after replay")
	}
	if got.NodeCount != 3 || got.LastEventSequence != 4 {
		t.Fatalf("summary after replay = %d nodes through seq %d, want 3 nodes through seq 4",
			got.NodeCount, got.LastEventSequence)
	}
}

func TestRunnerReplayRequiresRunning(t *testing.T) {
	runner := NewRunner(memory.NewLog(), nil)
	if err := runner.ReplayFrom(context.Background(), 0); err == nil {
		t.Fatal("expected error replaying a stopped runner")
	}
}

func TestRunnerStartTwiceFails(t *testing.T) {
	runner := NewRunner(memory.NewLog(), nil, WithPollInterval(10*time.Millisecond))
	if err := runner.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer runner.Stop()
	if err := runner.Start(context.Background()); err == nil {
		t.Fatal("expected error starting a running runner")
	}
}

func TestRunnerStopIsIdempotent(t *testing.T) {
	runner := NewRunner(memory.NewLog(), nil, WithPollInterval(10*time.Millisecond))
	runner.Stop()
	if err := runner.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	runner.Stop()
	runner.Stop()
	if got := runner.State(); got != StateStopped {
		t.Fatalf("state = %s, want stopped", got)
	}
}
