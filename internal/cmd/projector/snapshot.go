package projector

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/eventweave/eventweave/internal/content"
	"github.com/eventweave/eventweave/internal/projection"
)

// snapshotter periodically persists the graph summary read model as a
// content-addressed blob. Identical snapshots deduplicate to the same id,
// so an idle projector writes nothing.
type snapshotter struct {
	summary *projection.GraphSummary
	blobs   *content.Service
	lastID  string
}

func (s *snapshotter) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.snapshot(ctx); err != nil {
				log.Printf("snapshot: %v", err)
			}
		}
	}
}

func (s *snapshotter) snapshot(ctx context.Context) error {
	summaries := s.summary.AllSummaries()
	if len(summaries) == 0 {
		return nil
	}
	data, err := json.Marshal(summaries)
	if err != nil {
		return fmt.Errorf("marshal summaries: %w", err)
	}
	id, err := s.blobs.Store(ctx, data)
	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	if id != s.lastID {
		log.Printf("snapshot stored: %s (%d graphs, %d bytes)", id, len(summaries), len(data))
		s.lastID = id
	}
	return nil
}
