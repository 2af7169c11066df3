// Package maintenance implements operator tooling over the event log:
// integrity verification, read-model rebuilds, and stream reporting.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/nats-io/nats.go"

	"github.com/eventweave/eventweave/internal/chain"
	"github.com/eventweave/eventweave/internal/eventlog"
	"github.com/eventweave/eventweave/internal/eventlog/jetstream"
	"github.com/eventweave/eventweave/internal/projection"
	"github.com/eventweave/eventweave/internal/storage"
	"github.com/eventweave/eventweave/internal/storage/sqlite"
	"github.com/eventweave/eventweave/internal/store"
)

// Config holds maintenance command configuration.
type Config struct {
	NATSURL string        `env:"EVENTWEAVE_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	Stream  string        `env:"EVENTWEAVE_STREAM" envDefault:"EVENTS"`
	DBPath  string        `env:"EVENTWEAVE_PROJECTOR_DB_PATH" envDefault:"data/projector.db"`
	Timeout time.Duration `env:"EVENTWEAVE_MAINTENANCE_TIMEOUT" envDefault:"10m"`

	GraphID         string
	Verify          bool
	Rebuild         bool
	FromSeq         uint64
	Stats           bool
	ResetCheckpoint string
	JSONOutput      bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	fs.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "NATS server URL")
	fs.StringVar(&cfg.Stream, "stream", cfg.Stream, "event stream name")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "checkpoint sqlite database path")
	fs.StringVar(&cfg.GraphID, "graph-id", "", "restrict -verify or -rebuild to one graph")
	fs.BoolVar(&cfg.Verify, "verify", false, "verify integrity chains and report every break")
	fs.BoolVar(&cfg.Rebuild, "rebuild", false, "refold the graph summary read model from the log")
	fs.Uint64Var(&cfg.FromSeq, "from", 0, "per-graph sequence to rebuild from (0 = start)")
	fs.BoolVar(&cfg.Stats, "stats", false, "report stream totals and stored checkpoints")
	fs.StringVar(&cfg.ResetCheckpoint, "reset-checkpoint", "", "delete the named consumer checkpoint")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON reports")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the maintenance command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if !cfg.Verify && !cfg.Rebuild && !cfg.Stats && cfg.ResetCheckpoint == "" {
		return errors.New("nothing to do: pass -verify, -rebuild, -stats, or -reset-checkpoint")
	}

	nc, err := nats.Connect(cfg.NATSURL, nats.Name("eventweave-maintenance"))
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", cfg.NATSURL, err)
	}
	defer nc.Drain()

	eventLog, err := jetstream.New(ctx, nc, jetstream.Config{Stream: cfg.Stream})
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	eventStore := store.New(eventLog)

	if cfg.ResetCheckpoint != "" {
		if err := resetCheckpoint(ctx, cfg, out); err != nil {
			return err
		}
	}
	if cfg.Stats {
		if err := reportStats(ctx, cfg, eventLog, out); err != nil {
			return err
		}
	}
	if cfg.Verify {
		if err := verifyChains(ctx, cfg, eventStore, out, errOut); err != nil {
			return err
		}
	}
	if cfg.Rebuild {
		if err := rebuildSummaries(ctx, cfg, eventStore, out); err != nil {
			return err
		}
	}
	return nil
}

// VerifyReport describes the outcome of one graph's chain validation.
type VerifyReport struct {
	GraphID string        `json:"graph_id"`
	Events  int           `json:"events"`
	Breaks  []chain.Break `json:"breaks,omitempty"`
}

// verifyChains validates every graph's chain and reports all breaks found.
// The scan continues past broken graphs so one run shows the full extent of
// the damage.
func verifyChains(ctx context.Context, cfg Config, eventStore *store.Store, out, errOut io.Writer) error {
	streams, err := loadStreams(ctx, cfg, eventStore)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(streams))
	for id := range streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	reports := make([]VerifyReport, 0, len(ids))
	var broken int
	for _, id := range ids {
		report := VerifyReport{GraphID: id, Events: len(streams[id])}
		if err := chain.ValidateChain(streams[id]); err != nil {
			var breakErr *chain.BreakError
			if !errors.As(err, &breakErr) {
				return fmt.Errorf("verify %s: %w", id, err)
			}
			report.Breaks = breakErr.Breaks
			broken++
		}
		reports = append(reports, report)
	}

	if cfg.JSONOutput {
		if err := json.NewEncoder(out).Encode(reports); err != nil {
			return fmt.Errorf("encode verify report: %w", err)
		}
	} else {
		for _, r := range reports {
			if len(r.Breaks) == 0 {
				fmt.Fprintf(out, "graph %s: %d events, chain intact\n", r.GraphID, r.Events)
				continue
			}
			fmt.Fprintf(errOut, "graph %s: %d events, %d breaks\n", r.GraphID, r.Events, len(r.Breaks))
			for _, b := range r.Breaks {
				fmt.Fprintf(errOut, "  index %d: %s\n", b.Index, b.Reason)
			}
		}
	}
	if broken > 0 {
		return fmt.Errorf("%w: %d of %d graphs failed verification", chain.ErrChainBroken, broken, len(reports))
	}
	return nil
}

// rebuildSummaries refolds the graph summary read model from the log and
// prints the result. The projector's durable cursor is untouched.
func rebuildSummaries(ctx context.Context, cfg Config, eventStore *store.Store, out io.Writer) error {
	streams, err := loadStreams(ctx, cfg, eventStore)
	if err != nil {
		return err
	}

	summary := projection.NewGraphSummary()
	var folded int
	for _, events := range streams {
		for _, evt := range events {
			if evt.Sequence < cfg.FromSeq {
				continue
			}
			if err := summary.Apply(evt); err != nil {
				return fmt.Errorf("rebuild: apply %s seq %d: %w", evt.Payload.AggregateID(), evt.Sequence, err)
			}
			folded++
		}
	}

	if cfg.JSONOutput {
		if err := json.NewEncoder(out).Encode(summary.AllSummaries()); err != nil {
			return fmt.Errorf("encode rebuild report: %w", err)
		}
		return nil
	}
	totals := summary.Totals()
	fmt.Fprintf(out, "rebuilt from %d events: %d graphs, %d nodes, %d edges\n",
		folded, totals.Graphs, totals.Nodes, totals.Edges)
	for _, s := range summary.AllSummaries() {
		fmt.Fprintf(out, "  %s %q nodes=%d edges=%d last_seq=%d\n",
			s.GraphID, s.Name, s.NodeCount, s.EdgeCount, s.LastEventSequence)
	}
	return nil
}

func reportStats(ctx context.Context, cfg Config, eventLog eventlog.Log, out io.Writer) error {
	stats, err := eventLog.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stream stats: %w", err)
	}
	checkpoints, err := listCheckpoints(ctx, cfg)
	if err != nil {
		return err
	}
	if cfg.JSONOutput {
		report := struct {
			Stream      eventlog.Stats       `json:"stream"`
			Checkpoints []storage.Checkpoint `json:"checkpoints,omitempty"`
		}{Stream: stats, Checkpoints: checkpoints}
		if err := json.NewEncoder(out).Encode(report); err != nil {
			return fmt.Errorf("encode stats report: %w", err)
		}
		return nil
	}
	fmt.Fprintf(out, "stream: %d messages, %d bytes, seq %d..%d\n",
		stats.Messages, stats.Bytes, stats.FirstSequence, stats.LastSequence)
	for _, cp := range checkpoints {
		fmt.Fprintf(out, "checkpoint %s: log seq %d at %s\n",
			cp.ConsumerName, cp.LastSequence, cp.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func resetCheckpoint(ctx context.Context, cfg Config, out io.Writer) error {
	checkpoints, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer checkpoints.Close()
	if err := checkpoints.Delete(ctx, cfg.ResetCheckpoint); err != nil {
		return err
	}
	fmt.Fprintf(out, "checkpoint %s deleted\n", cfg.ResetCheckpoint)
	return nil
}

// listCheckpoints is best-effort: stats should still report the stream when
// no local checkpoint database exists.
func listCheckpoints(ctx context.Context, cfg Config) ([]storage.Checkpoint, error) {
	checkpoints, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, nil
	}
	defer checkpoints.Close()
	return checkpoints.List(ctx)
}

func loadStreams(ctx context.Context, cfg Config, eventStore *store.Store) (map[string][]chain.ChainedEvent, error) {
	if cfg.GraphID != "" {
		events, err := eventStore.Load(ctx, cfg.GraphID)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", cfg.GraphID, err)
		}
		return map[string][]chain.ChainedEvent{cfg.GraphID: events}, nil
	}
	streams, err := eventStore.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load all: %w", err)
	}
	return streams, nil
}
