package maintenance

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"strings"
	"testing"

	"github.com/eventweave/eventweave/internal/chain"
	"github.com/eventweave/eventweave/internal/event"
	"github.com/eventweave/eventweave/internal/eventlog"
	"github.com/eventweave/eventweave/internal/eventlog/memory"
	"github.com/eventweave/eventweave/internal/store"
)

func seedStore(t *testing.T, log *memory.Log) *store.Store {
	t.Helper()
	ctx := context.Background()
	s := store.New(log)
	_, err := s.Append(ctx, "graph-1",
		event.GraphCreated{GraphID: "graph-1", Metadata: event.GraphMetadata{Name: "Workflow"}},
		event.NodeAdded{GraphID: "graph-1", NodeID: "n1"},
		event.NodeAdded{GraphID: "graph-1", NodeID: "n2"},
		event.EdgeConnected{GraphID: "graph-1", EdgeID: "e1", SourceID: "n1", TargetID: "n2"},
	)
	if err != nil {
		t.Fatalf("append graph-1: %v", err)
	}
	if _, err := s.Append(ctx, "graph-2", event.GraphCreated{GraphID: "graph-2"}); err != nil {
		t.Fatalf("append graph-2: %v", err)
	}
	return s
}

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("maintenance", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-verify", "-graph-id", "graph-1"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if !cfg.Verify {
		t.Fatal("expected -verify to be set")
	}
	if cfg.GraphID != "graph-1" {
		t.Fatalf("graph id = %q, want graph-1", cfg.GraphID)
	}
	if cfg.Stream != "EVENTS" {
		t.Fatalf("stream = %q, want default EVENTS", cfg.Stream)
	}
}

func TestVerifyChainsIntact(t *testing.T) {
	ctx := context.Background()
	log := memory.NewLog()
	s := seedStore(t, log)

	var out, errOut bytes.Buffer
	if err := verifyChains(ctx, Config{}, s, &out, &errOut); err != nil {
		t.Fatalf("verify intact chains: %v", err)
	}
	if !strings.Contains(out.String(), "graph-1: 4 events, chain intact") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
	if errOut.Len() != 0 {
		t.Fatalf("unexpected error output:\n%s", errOut.String())
	}
}

func TestVerifyChainsReportsBreaks(t *testing.T) {
	ctx := context.Background()
	log := memory.NewLog()
	s := seedStore(t, log)

	forged := chain.ChainedEvent{
		ContentID:  "0000000000000000000000000000dead",
		PreviousID: "0000000000000000000000000000beef",
		Sequence:   5,
		Payload:    event.NodeAdded{GraphID: "graph-1", NodeID: "evil"},
	}
	data, err := chain.Marshal(forged)
	if err != nil {
		t.Fatalf("marshal forged: %v", err)
	}
	if err := log.Publish(ctx, eventlog.Subject("graph-1", "node_added"), data, ""); err != nil {
		t.Fatalf("publish forged: %v", err)
	}

	var out, errOut bytes.Buffer
	err = verifyChains(ctx, Config{}, s, &out, &errOut)
	if !errors.Is(err, chain.ErrChainBroken) {
		t.Fatalf("expected ErrChainBroken, got %v", err)
	}
	if !strings.Contains(errOut.String(), "graph-1") {
		t.Fatalf("break report missing graph-1:\n%s", errOut.String())
	}
	// The intact graph still verifies in the same run.
	if !strings.Contains(out.String(), "graph-2: 1 events, chain intact") {
		t.Fatalf("intact graph missing from report:\n%s", out.String())
	}
}

func TestRebuildSummaries(t *testing.T) {
	ctx := context.Background()
	log := memory.NewLog()
	s := seedStore(t, log)

	var out bytes.Buffer
	if err := rebuildSummaries(ctx, Config{}, s, &out); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "2 graphs, 2 nodes, 1 edges") {
		t.Fatalf("unexpected totals:\n%s", got)
	}
	if !strings.Contains(got, `graph-1 "Workflow" nodes=2 edges=1 last_seq=4`) {
		t.Fatalf("unexpected summary line:\n%s", got)
	}
}

func TestRebuildSummariesFromSequence(t *testing.T) {
	ctx := context.Background()
	log := memory.NewLog()
	s := seedStore(t, log)

	// Skipping the creation events leaves nothing to fold into summaries.
	var out bytes.Buffer
	if err := rebuildSummaries(ctx, Config{FromSeq: 2}, s, &out); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if !strings.Contains(out.String(), "0 graphs") {
		t.Fatalf("expected no graphs without creation events:\n%s", out.String())
	}
}

func TestRunRequiresAnOperation(t *testing.T) {
	err := Run(context.Background(), Config{}, nil, nil)
	if err == nil {
		t.Fatal("expected error when no operation is selected")
	}
}
