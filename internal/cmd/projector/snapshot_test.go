package projector

import (
	"context"
	"testing"
	"time"

	"github.com/eventweave/eventweave/internal/chain"
	"github.com/eventweave/eventweave/internal/content"
	"github.com/eventweave/eventweave/internal/event"
	"github.com/eventweave/eventweave/internal/projection"
)

func foldEvents(t *testing.T, summary *projection.GraphSummary, payloads ...event.Payload) {
	t.Helper()
	c := chain.NewChainer()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, p := range payloads {
		evt, err := c.Add(p, now)
		if err != nil {
			t.Fatalf("chain %s: %v", p.Kind(), err)
		}
		if err := summary.Apply(evt); err != nil {
			t.Fatalf("apply %s: %v", p.Kind(), err)
		}
	}
}

func TestSnapshotSkipsEmptyModel(t *testing.T) {
	backend := content.NewMemBlobStore()
	snap := &snapshotter{
		summary: projection.NewGraphSummary(),
		blobs:   content.NewService(backend),
	}
	if err := snap.snapshot(context.Background()); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if backend.Puts() != 0 {
		t.Fatalf("backend writes = %d, want 0 for empty model", backend.Puts())
	}
}

func TestSnapshotDeduplicatesUnchangedModel(t *testing.T) {
	ctx := context.Background()
	backend := content.NewMemBlobStore()
	summary := projection.NewGraphSummary()
	snap := &snapshotter{summary: summary, blobs: content.NewService(backend)}

	foldEvents(t, summary,
		event.GraphCreated{GraphID: "graph-1", Metadata: event.GraphMetadata{Name: "Workflow"}},
		event.NodeAdded{GraphID: "graph-1", NodeID: "n1"},
	)

	if err := snap.snapshot(ctx); err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	if err := snap.snapshot(ctx); err != nil {
		t.Fatalf("second snapshot: %v", err)
	}
	// The model did not change between snapshots, so the second store
	// short-circuits on the same content id.
	if backend.Puts() != 1 {
		t.Fatalf("backend writes = %d, want 1", backend.Puts())
	}
}
