// Package expand drives breadth-first pack growth off the article work
// queue until a target size is reached.
package expand

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"knowpack/ingest"
	"knowpack/source"
	"knowpack/store"
)

// Config tunes the expansion loop.
type Config struct {
	MaxDepth        int
	BatchSize       int
	ClaimTimeoutSec int
	TargetCount     int
	MaxIterations   int
	MaxRetries      int
	Workers         int           // parallel pipeline workers; <=1 runs sequentially
	IdleSleep       time.Duration // wait when the queue is empty but work is in flight
}

// DefaultConfig returns expansion defaults sized for a small pack build.
func DefaultConfig() Config {
	return Config{
		MaxDepth:        2,
		BatchSize:       10,
		ClaimTimeoutSec: 300,
		TargetCount:     100,
		MaxIterations:   1000,
		MaxRetries:      3,
		Workers:         1,
		IdleSleep:       2 * time.Second,
	}
}

// Driver grows the graph by repeatedly claiming queued articles and
// running them through the ingestion pipeline.
type Driver struct {
	store    *store.Store
	pipeline *ingest.Pipeline
	cfg      Config
}

// NewDriver wires an expansion driver.
func NewDriver(st *store.Store, p *ingest.Pipeline, cfg Config) *Driver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = 2 * time.Second
	}
	return &Driver{store: st, pipeline: p, cfg: cfg}
}

// Seed enqueues starting titles at depth 0. Titles already present in
// the graph are left untouched.
func (d *Driver) Seed(ctx context.Context, titles []string) error {
	states, err := d.store.GetArticleStates(ctx, titles)
	if err != nil {
		return err
	}
	for _, title := range titles {
		if _, exists := states[title]; exists {
			continue
		}
		if err := d.store.InsertDiscovered(ctx, title, 0); err != nil {
			slog.Debug("expand: seed already present", "title", title, "error", err)
		}
	}
	return nil
}

// Run loops until the target count is reached, the queue stalls, or the
// iteration budget runs out. Returns the number of articles processed.
func (d *Driver) Run(ctx context.Context) (int, error) {
	processed := 0
	for iteration := 1; d.cfg.MaxIterations <= 0 || iteration <= d.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		loaded, err := d.store.LoadedArticleCount(ctx)
		if err != nil {
			return processed, err
		}
		if d.cfg.TargetCount > 0 && loaded >= d.cfg.TargetCount {
			slog.Info("expand: target reached", "loaded", loaded, "target", d.cfg.TargetCount)
			return processed, nil
		}

		// Crashed workers surface as stale claims; sweep periodically.
		if iteration%5 == 0 {
			if _, err := d.store.ReclaimStale(ctx, d.cfg.ClaimTimeoutSec); err != nil {
				slog.Warn("expand: reclaim failed", "error", err)
			}
		}

		claimed, err := d.store.ClaimWork(ctx, d.cfg.BatchSize)
		if err != nil {
			return processed, err
		}
		if len(claimed) == 0 {
			remaining, err := d.store.DiscoveredCount(ctx)
			if err != nil {
				return processed, err
			}
			if remaining == 0 {
				slog.Info("expand: queue drained", "loaded", loaded, "processed", processed)
				return processed, nil
			}
			// Another builder holds the remaining claims; wait it out.
			select {
			case <-time.After(d.cfg.IdleSleep):
			case <-ctx.Done():
				return processed, ctx.Err()
			}
			continue
		}

		var n int
		if d.cfg.Workers > 1 {
			n, err = d.runBatchParallel(ctx, claimed)
		} else {
			n, err = d.runBatch(ctx, claimed)
		}
		processed += n
		if err != nil {
			return processed, err
		}
	}
	slog.Info("expand: iteration budget exhausted", "processed", processed)
	return processed, nil
}

func (d *Driver) runBatch(ctx context.Context, claimed []store.ClaimedArticle) (int, error) {
	processed := 0
	for _, item := range claimed {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		// Refresh the claim before the slow fetch+LLM stretch so a long
		// article does not look abandoned.
		if err := d.store.UpdateHeartbeat(ctx, item.Title); err != nil {
			slog.Warn("expand: heartbeat failed", "title", item.Title, "error", err)
		}

		links, err := d.pipeline.ProcessArticle(ctx, item.Title, "", item.Depth)
		if err := d.finishArticle(ctx, item, links, err); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

// finishArticle applies the post-pipeline queue transitions for one
// claimed article.
func (d *Driver) finishArticle(ctx context.Context, item store.ClaimedArticle, links []string, pipelineErr error) error {
	if pipelineErr != nil {
		if errors.Is(pipelineErr, context.Canceled) {
			return pipelineErr
		}
		// A missing article never materializes on a refetch.
		if errors.Is(pipelineErr, source.ErrArticleNotFound) {
			return d.store.FailTerminal(ctx, item.Title, pipelineErr.Error())
		}
		return d.store.MarkFailed(ctx, item.Title, pipelineErr.Error(), d.cfg.MaxRetries)
	}

	if err := d.store.AdvanceState(ctx, item.Title, store.StateLoaded); err != nil {
		return err
	}
	if item.Depth < d.cfg.MaxDepth {
		discovered, err := ingest.DiscoverLinks(ctx, d.store, item.Title, links, item.Depth, d.cfg.MaxDepth)
		if err != nil {
			slog.Warn("expand: link discovery failed", "title", item.Title, "error", err)
		} else if discovered > 0 {
			slog.Debug("expand: discovered links", "title", item.Title, "count", discovered)
		}
	}
	return d.store.AdvanceState(ctx, item.Title, store.StateProcessed)
}
