package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"knowpack/sanitize"
)

// ClaimedArticle is one unit of work handed to an expansion worker.
type ClaimedArticle struct {
	Title     string `json:"title"`
	Depth     int    `json:"depth"`
	ClaimedAt int64  `json:"claimed_at"`
}

// legalPredecessors maps each target state to the states a transition
// may come from. Conditional updates guard every transition so racing
// workers cannot double-apply one.
var legalPredecessors = map[string][]string{
	StateClaimed:    {StateDiscovered},
	StateLoaded:     {StateClaimed},
	StateProcessed:  {StateLoaded, StateClaimed},
	StateFailed:     {StateClaimed, StateDiscovered},
	StateDiscovered: {StateClaimed, StateFailed},
}

// ClaimWork atomically transitions up to batchSize articles from
// discovered to claimed, seeds (lowest depth) first. Each claim is a
// conditional update on the predecessor state; articles lost to a racing
// worker are silently dropped from the returned batch.
func (s *Store) ClaimWork(ctx context.Context, batchSize int) ([]ClaimedArticle, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("store: invalid claim batch size %d", batchSize)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT title, expansion_depth FROM articles
		WHERE expansion_state = 'discovered'
		ORDER BY expansion_depth ASC
		LIMIT ?
	`, batchSize)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		title string
		depth int
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.title, &c.depth); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	now := time.Now().Unix()
	var claimed []ClaimedArticle
	for _, c := range candidates {
		res, err := s.db.ExecContext(ctx, `
			UPDATE articles SET expansion_state = 'claimed', claimed_at = ?
			WHERE title = ? AND expansion_state = 'discovered'
		`, now, c.title)
		if err != nil {
			// Per-item failure must not abort the batch.
			slog.Warn("queue: claim failed", "title", c.title, "error", err)
			continue
		}
		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			continue // lost the race
		}
		claimed = append(claimed, ClaimedArticle{Title: c.title, Depth: c.depth, ClaimedAt: now})
	}
	return claimed, nil
}

// UpdateHeartbeat resets the claim timestamp while an article is still
// claimed; a no-op in any other state.
func (s *Store) UpdateHeartbeat(ctx context.Context, title string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE articles SET claimed_at = ?
		WHERE title = ? AND expansion_state = 'claimed'
	`, time.Now().Unix(), title)
	return err
}

// ReclaimStale returns every article whose claim heartbeat is older than
// timeoutSec back to discovered. Returns the number reclaimed.
func (s *Store) ReclaimStale(ctx context.Context, timeoutSec int) (int, error) {
	cutoff := time.Now().Unix() - int64(timeoutSec)
	res, err := s.db.ExecContext(ctx, `
		UPDATE articles SET expansion_state = 'discovered', claimed_at = NULL
		WHERE expansion_state = 'claimed' AND claimed_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("queue: reclaimed stale claims", "count", n, "timeout_sec", timeoutSec)
	}
	return int(n), nil
}

// AdvanceState transitions an article to newState, guarded by the legal
// predecessor set. Unknown states are a validation error. Moving to
// processed stamps processed_at; leaving claimed nulls claimed_at so the
// claimed_at/state invariant holds.
func (s *Store) AdvanceState(ctx context.Context, title, newState string) error {
	preds, ok := legalPredecessors[newState]
	if !ok {
		return fmt.Errorf("store: invalid expansion state %q", newState)
	}

	placeholders := "?"
	args := []any{title}
	for i, p := range preds {
		if i > 0 {
			placeholders += ", ?"
		}
		args = append(args, p)
	}

	var set string
	switch newState {
	case StateClaimed:
		set = "expansion_state = 'claimed', claimed_at = " +
			fmt.Sprintf("%d", time.Now().Unix())
	case StateProcessed:
		set = "expansion_state = 'processed', claimed_at = NULL, processed_at = " +
			fmt.Sprintf("%d", time.Now().Unix())
	default:
		set = fmt.Sprintf("expansion_state = '%s', claimed_at = NULL", newState)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE articles SET "+set+" WHERE title = ? AND expansion_state IN ("+placeholders+")",
		args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("store: illegal transition to %q for %q", newState, title)
	}
	return nil
}

// MarkFailed records a processing failure. The article returns to
// discovered until maxRetries is exhausted, then lands in the terminal
// failed state. The error text is logged (credential-redacted), never
// persisted.
func (s *Store) MarkFailed(ctx context.Context, title, errMsg string, maxRetries int) error {
	slog.Warn("queue: article failed",
		"title", title, "max_retries", maxRetries,
		"error", sanitize.Redact(errMsg))

	// Increment and decide the next state in one statement so concurrent
	// failures never lose an increment.
	_, err := s.db.ExecContext(ctx, `
		UPDATE articles SET
			retry_count = retry_count + 1,
			expansion_state = CASE WHEN retry_count + 1 >= ? THEN 'failed' ELSE 'discovered' END,
			claimed_at = NULL
		WHERE title = ?
	`, maxRetries, title)
	return err
}

// FailTerminal moves an article straight to the terminal failed state
// with no further attempts, for errors where a retry cannot succeed.
func (s *Store) FailTerminal(ctx context.Context, title, errMsg string) error {
	slog.Warn("queue: article failed terminally",
		"title", title, "error", sanitize.Redact(errMsg))

	_, err := s.db.ExecContext(ctx, `
		UPDATE articles SET expansion_state = 'failed', claimed_at = NULL
		WHERE title = ?
	`, title)
	return err
}

// BackdateClaim rewrites an article's claim timestamp. Intended for
// tests and operational tooling exercising reclamation.
func (s *Store) BackdateClaim(ctx context.Context, title string, claimedAt int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE articles SET claimed_at = ? WHERE title = ?", claimedAt, title)
	return err
}

// DiscoveredCount counts articles waiting in the queue.
func (s *Store) DiscoveredCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM articles WHERE expansion_state = 'discovered'").Scan(&n)
	return n, err
}

// QueueStats returns the per-state article counts. Unlike the worker
// paths, database errors here propagate: monitoring is not best-effort.
func (s *Store) QueueStats(ctx context.Context) (*QueueStats, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT expansion_state, COUNT(*) FROM articles GROUP BY expansion_state")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats QueueStats
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		switch state {
		case StateDiscovered:
			stats.Discovered = n
		case StateClaimed:
			stats.Claimed = n
		case StateLoaded:
			stats.Loaded = n
		case StateProcessed:
			stats.Processed = n
		case StateFailed:
			stats.Failed = n
		}
		stats.Total += n
	}
	return &stats, rows.Err()
}
