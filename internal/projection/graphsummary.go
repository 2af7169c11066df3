package projection

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eventweave/eventweave/internal/chain"
	"github.com/eventweave/eventweave/internal/event"
)

// Summary is the per-graph read model row.
type Summary struct {
	GraphID           string
	Name              string
	Description       string
	Tags              []string
	NodeCount         int
	EdgeCount         int
	LastEventSequence uint64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TotalStats aggregates across every live graph.
type TotalStats struct {
	Graphs int
	Nodes  int
	Edges  int
}

// GraphSummary maintains one Summary per live graph. Events are folded in
// per-aggregate sequence order; an event at or below a graph's last applied
// sequence is skipped, which makes redelivery a no-op.
type GraphSummary struct {
	mu        sync.RWMutex
	summaries map[string]*Summary
}

// NewGraphSummary returns an empty read model.
func NewGraphSummary() *GraphSummary {
	return &GraphSummary{summaries: make(map[string]*Summary)}
}

// Name implements Projection.
func (g *GraphSummary) Name() string { return "graph-summary" }

// Reset implements Projection.
func (g *GraphSummary) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.summaries = make(map[string]*Summary)
}

// Apply folds one event into the model.
func (g *GraphSummary) Apply(evt chain.ChainedEvent) error {
	if evt.Payload == nil {
		return fmt.Errorf("apply: nil payload")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	graphID := evt.Payload.AggregateID()
	s := g.summaries[graphID]
	if s != nil && evt.Sequence <= s.LastEventSequence {
		return nil
	}

	switch p := evt.Payload.(type) {
	case event.GraphCreated:
		if s != nil {
			break
		}
		g.summaries[graphID] = &Summary{
			GraphID:     graphID,
			Name:        p.Metadata.Name,
			Description: p.Metadata.Description,
			Tags:        append([]string(nil), p.Metadata.Tags...),
			CreatedAt:   evt.Timestamp,
		}
		s = g.summaries[graphID]
	case event.GraphDeleted:
		delete(g.summaries, graphID)
		return nil
	case event.GraphRenamed:
		if s == nil {
			return nil
		}
		s.Name = p.NewName
	case event.GraphTagged:
		if s == nil {
			return nil
		}
		if !containsTag(s.Tags, p.Tag) {
			s.Tags = append(s.Tags, p.Tag)
		}
	case event.GraphUntagged:
		if s == nil {
			return nil
		}
		s.Tags = removeTag(s.Tags, p.Tag)
	case event.NodeAdded:
		if s == nil {
			return nil
		}
		s.NodeCount++
	case event.NodeRemoved:
		if s == nil {
			return nil
		}
		if s.NodeCount > 0 {
			s.NodeCount--
		}
	case event.NodeMoved:
		if s == nil {
			return nil
		}
	case event.EdgeConnected:
		if s == nil {
			return nil
		}
		s.EdgeCount++
	case event.EdgeDisconnected:
		if s == nil {
			return nil
		}
		if s.EdgeCount > 0 {
			s.EdgeCount--
		}
	default:
		return fmt.Errorf("apply: unhandled event kind %s", evt.Payload.Kind())
	}

	s.LastEventSequence = evt.Sequence
	s.UpdatedAt = evt.Timestamp
	return nil
}

// Summary returns one graph's row.
func (g *GraphSummary) Summary(graphID string) (Summary, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.summaries[graphID]
	if !ok {
		return Summary{}, false
	}
	return cloneSummary(s), true
}

// AllSummaries returns every row ordered by graph id.
func (g *GraphSummary) AllSummaries() []Summary {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Summary, 0, len(g.summaries))
	for _, s := range g.summaries {
		out = append(out, cloneSummary(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GraphID < out[j].GraphID })
	return out
}

// Recent returns up to n rows ordered by most recent update, graph id
// breaking ties.
func (g *GraphSummary) Recent(n int) []Summary {
	out := g.AllSummaries()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].GraphID < out[j].GraphID
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Totals aggregates counts across live graphs.
func (g *GraphSummary) Totals() TotalStats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t := TotalStats{Graphs: len(g.summaries)}
	for _, s := range g.summaries {
		t.Nodes += s.NodeCount
		t.Edges += s.EdgeCount
	}
	return t
}

func cloneSummary(s *Summary) Summary {
	cp := *s
	cp.Tags = append([]string(nil), s.Tags...)
	return cp
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func removeTag(tags []string, tag string) []string {
	out := tags[:0]
	for _, t := range tags {
		if t != tag {
			out = append(out, t)
		}
	}
	return out
}
