// Package projector parses projector command flags and launches the
// projection runtime.
package projector

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/eventweave/eventweave/internal/content"
	"github.com/eventweave/eventweave/internal/content/natsobj"
	"github.com/eventweave/eventweave/internal/eventlog/jetstream"
	entrypoint "github.com/eventweave/eventweave/internal/platform/cmd"
	"github.com/eventweave/eventweave/internal/projection"
	"github.com/eventweave/eventweave/internal/storage"
	"github.com/eventweave/eventweave/internal/storage/sqlite"
)

// Config holds projector command configuration.
type Config struct {
	NATSURL       string        `env:"EVENTWEAVE_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	Stream        string        `env:"EVENTWEAVE_STREAM" envDefault:"EVENTS"`
	Consumer      string        `env:"EVENTWEAVE_PROJECTOR_CONSUMER" envDefault:"projector"`
	DBPath        string        `env:"EVENTWEAVE_PROJECTOR_DB_PATH" envDefault:"data/projector.db"`
	BatchSize     int           `env:"EVENTWEAVE_PROJECTOR_BATCH_SIZE" envDefault:"50"`
	PollInterval  time.Duration `env:"EVENTWEAVE_PROJECTOR_POLL_INTERVAL" envDefault:"250ms"`
	RetainMaxAge  time.Duration `env:"EVENTWEAVE_RETAIN_MAX_AGE"`
	RetainMaxSize int64         `env:"EVENTWEAVE_RETAIN_MAX_BYTES"`

	ContentBucket    string        `env:"EVENTWEAVE_CONTENT_BUCKET" envDefault:"content"`
	CacheMaxBytes    int64         `env:"EVENTWEAVE_CACHE_MAX_BYTES" envDefault:"67108864"`
	CacheTTL         time.Duration `env:"EVENTWEAVE_CACHE_TTL" envDefault:"15m"`
	SweepInterval    time.Duration `env:"EVENTWEAVE_CACHE_SWEEP_INTERVAL" envDefault:"1m"`
	SnapshotInterval time.Duration `env:"EVENTWEAVE_SNAPSHOT_INTERVAL" envDefault:"30s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "The NATS server URL")
	fs.StringVar(&cfg.Stream, "stream", cfg.Stream, "The event stream name")
	fs.StringVar(&cfg.Consumer, "consumer", cfg.Consumer, "Durable projection consumer name")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The checkpoint SQLite database path")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Projection pull batch size")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Idle delay between empty fetches")
	fs.DurationVar(&cfg.RetainMaxAge, "retain-max-age", cfg.RetainMaxAge, "Event retention by age (0 = forever)")
	fs.Int64Var(&cfg.RetainMaxSize, "retain-max-bytes", cfg.RetainMaxSize, "Event retention by size (0 = unlimited)")
	fs.StringVar(&cfg.ContentBucket, "content-bucket", cfg.ContentBucket, "Object store bucket for read-model snapshots")
	fs.Int64Var(&cfg.CacheMaxBytes, "cache-max-bytes", cfg.CacheMaxBytes, "Content cache size ceiling")
	fs.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "Content cache entry lifetime")
	fs.DurationVar(&cfg.SweepInterval, "cache-sweep-interval", cfg.SweepInterval, "Content cache TTL sweep interval")
	fs.DurationVar(&cfg.SnapshotInterval, "snapshot-interval", cfg.SnapshotInterval, "Read-model snapshot interval")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the projector runtime and blocks until ctx is done.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceProjector, func(ctx context.Context) error {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("eventweave-projector"))
		if err != nil {
			return fmt.Errorf("connect nats %s: %w", cfg.NATSURL, err)
		}
		defer nc.Drain()

		eventLog, err := jetstream.New(ctx, nc, jetstream.Config{
			Stream:   cfg.Stream,
			MaxAge:   cfg.RetainMaxAge,
			MaxBytes: cfg.RetainMaxSize,
		})
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}

		checkpoints, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open checkpoint store: %w", err)
		}
		defer checkpoints.Close()

		blobStore, err := natsobj.New(ctx, nc, cfg.ContentBucket)
		if err != nil {
			return fmt.Errorf("open content bucket: %w", err)
		}
		blobs := content.NewService(blobStore,
			content.WithMaxCacheBytes(cfg.CacheMaxBytes),
			content.WithTTL(cfg.CacheTTL),
		)
		blobs.StartSweeper(ctx, cfg.SweepInterval)

		summary := projection.NewGraphSummary()
		runner := projection.NewRunner(eventLog, []projection.Projection{summary},
			projection.WithConsumerName(cfg.Consumer),
			projection.WithRunnerBatchSize(cfg.BatchSize),
			projection.WithPollInterval(cfg.PollInterval),
			projection.WithCheckpoints(checkpoints),
		)

		cp, err := checkpoints.Get(ctx, cfg.Consumer)
		switch {
		case err == nil:
			log.Printf("resuming consumer %s, last checkpoint at log seq %d", cfg.Consumer, cp.LastSequence)
		case errors.Is(err, storage.ErrNotFound):
			log.Printf("no checkpoint for consumer %s, starting from the log head position", cfg.Consumer)
		default:
			return fmt.Errorf("read checkpoint: %w", err)
		}

		if err := runner.Start(ctx); err != nil {
			return fmt.Errorf("start runner: %w", err)
		}
		snap := &snapshotter{summary: summary, blobs: blobs}
		go snap.run(ctx, cfg.SnapshotInterval)

		<-ctx.Done()
		runner.Stop()

		totals := summary.Totals()
		log.Printf("projector stopped: %d graphs, %d nodes, %d edges, %d decode errors, %d projection errors",
			totals.Graphs, totals.Nodes, totals.Edges, runner.DecodeErrors(), runner.ProjectionErrors())
		cache := blobs.Stats()
		log.Printf("content cache: %d entries, %d/%d bytes, %d hits, %d misses",
			cache.Entries, cache.SizeBytes, cache.MaxSizeBytes, cache.Hits, cache.Misses)
		return nil
	})
}
