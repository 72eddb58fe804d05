package expand

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"knowpack/store"
)

// pipelineResult carries one article's pipeline outcome back to the
// driver goroutine.
type pipelineResult struct {
	item  store.ClaimedArticle
	links []string
	err   error
}

// runBatchParallel fans the I/O-heavy pipeline stages (HTTP fetch, LLM
// extraction, embedding) across workers while the driver goroutine
// alone drains results and issues every queue transition and graph
// write that follows. The store itself holds a single writer
// connection, so pipeline inserts from workers serialize there.
func (d *Driver) runBatchParallel(ctx context.Context, claimed []store.ClaimedArticle) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)

	results := make(chan pipelineResult, len(claimed))
	for _, item := range claimed {
		item := item
		g.Go(func() error {
			if err := d.store.UpdateHeartbeat(gctx, item.Title); err != nil {
				slog.Warn("expand: heartbeat failed", "title", item.Title, "error", err)
			}
			links, err := d.pipeline.ProcessArticle(gctx, item.Title, "", item.Depth)
			results <- pipelineResult{item: item, links: links, err: err}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
		close(results)
	}()

	processed := 0
	for res := range results {
		if err := d.finishArticle(ctx, res.item, res.links, res.err); err != nil {
			// Drain remaining workers before reporting; their claims are
			// reclaimed by a later stale sweep.
			for range results {
			}
			<-done
			return processed, err
		}
		processed++
	}
	if err := <-done; err != nil {
		return processed, err
	}
	return processed, nil
}
