package store

import (
	"context"
	"sync"
	"testing"
	"time"
)

func seedDiscovered(t *testing.T, s *Store, titles ...string) {
	t.Helper()
	ctx := context.Background()
	for i, title := range titles {
		if err := s.InsertDiscovered(ctx, title, i); err != nil {
			t.Fatalf("InsertDiscovered(%q): %v", title, err)
		}
	}
}

func TestClaimWorkDepthOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Inserted with depths 0, 1, 2; claims must come back seeds-first.
	seedDiscovered(t, s, "Seed", "Child", "Grandchild")

	claimed, err := s.ClaimWork(ctx, 2)
	if err != nil {
		t.Fatalf("ClaimWork: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed %d, want 2", len(claimed))
	}
	if claimed[0].Title != "Seed" || claimed[1].Title != "Child" {
		t.Errorf("claim order = %q, %q; want Seed, Child", claimed[0].Title, claimed[1].Title)
	}
	if claimed[0].ClaimedAt == 0 {
		t.Error("claimed_at not stamped")
	}

	a, err := s.GetArticle(ctx, "Seed")
	if err != nil {
		t.Fatal(err)
	}
	if a.ExpansionState != StateClaimed {
		t.Errorf("state = %q, want claimed", a.ExpansionState)
	}
	if a.ClaimedAt == nil {
		t.Error("claimed_at is NULL for a claimed article")
	}
}

func TestClaimWorkNoDoubleClaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedDiscovered(t, s, "Only")

	first, err := s.ClaimWork(ctx, 1)
	if err != nil || len(first) != 1 {
		t.Fatalf("first claim = %v, %v", first, err)
	}
	// A second claimer sees an empty queue, not the same article.
	second, err := s.ClaimWork(ctx, 1)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("article claimed twice: %v", second)
	}
}

func TestClaimWorkInvalidBatch(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.ClaimWork(context.Background(), 0); err == nil {
		t.Fatal("expected error for batch size 0")
	}
}

func TestAdvanceStateLegalChain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedDiscovered(t, s, "A")
	if _, err := s.ClaimWork(ctx, 1); err != nil {
		t.Fatal(err)
	}

	if err := s.AdvanceState(ctx, "A", StateLoaded); err != nil {
		t.Fatalf("claimed -> loaded: %v", err)
	}
	a, _ := s.GetArticle(ctx, "A")
	if a.ClaimedAt != nil {
		t.Error("claimed_at should be NULL once out of claimed")
	}

	if err := s.AdvanceState(ctx, "A", StateProcessed); err != nil {
		t.Fatalf("loaded -> processed: %v", err)
	}
	a, _ = s.GetArticle(ctx, "A")
	if a.ExpansionState != StateProcessed {
		t.Errorf("state = %q, want processed", a.ExpansionState)
	}
	if a.ProcessedAt == nil {
		t.Error("processed_at not stamped")
	}
}

func TestAdvanceStateIllegalTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedDiscovered(t, s, "A")

	// discovered -> processed skips claiming entirely.
	if err := s.AdvanceState(ctx, "A", StateProcessed); err == nil {
		t.Fatal("expected illegal-transition error")
	}
	a, _ := s.GetArticle(ctx, "A")
	if a.ExpansionState != StateDiscovered {
		t.Errorf("state mutated by rejected transition: %q", a.ExpansionState)
	}
}

func TestAdvanceStateUnknownState(t *testing.T) {
	s := newTestStore(t)
	seedDiscovered(t, s, "A")
	if err := s.AdvanceState(context.Background(), "A", "exploded"); err == nil {
		t.Fatal("expected validation error for unknown state")
	}
}

func TestHeartbeatOnlyWhileClaimed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedDiscovered(t, s, "A")
	if _, err := s.ClaimWork(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.BackdateClaim(ctx, "A", time.Now().Unix()-1000); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateHeartbeat(ctx, "A"); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}
	a, _ := s.GetArticle(ctx, "A")
	if a.ClaimedAt == nil || time.Now().Unix()-*a.ClaimedAt > 5 {
		t.Errorf("heartbeat did not refresh claimed_at: %v", a.ClaimedAt)
	}

	// Once processed, heartbeats are a no-op.
	if err := s.AdvanceState(ctx, "A", StateProcessed); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateHeartbeat(ctx, "A"); err != nil {
		t.Fatalf("heartbeat after processing: %v", err)
	}
	a, _ = s.GetArticle(ctx, "A")
	if a.ClaimedAt != nil {
		t.Error("heartbeat resurrected claimed_at on a processed article")
	}
}

func TestReclaimStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedDiscovered(t, s, "Stale", "Fresh")
	if _, err := s.ClaimWork(ctx, 2); err != nil {
		t.Fatal(err)
	}
	// Simulate a worker that died 400s ago.
	if err := s.BackdateClaim(ctx, "Stale", time.Now().Unix()-400); err != nil {
		t.Fatal(err)
	}

	n, err := s.ReclaimStale(ctx, 300)
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed %d, want 1", n)
	}

	stale, _ := s.GetArticle(ctx, "Stale")
	if stale.ExpansionState != StateDiscovered {
		t.Errorf("stale state = %q, want discovered", stale.ExpansionState)
	}
	if stale.ClaimedAt != nil {
		t.Error("reclaimed article kept its claimed_at")
	}

	fresh, _ := s.GetArticle(ctx, "Fresh")
	if fresh.ExpansionState != StateClaimed {
		t.Errorf("fresh claim disturbed: %q", fresh.ExpansionState)
	}
}

func TestMarkFailedRetriesThenTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	const maxRetries = 3

	seedDiscovered(t, s, "Flaky")

	// First two failures go back to discovered for another attempt.
	for attempt := 1; attempt < maxRetries; attempt++ {
		if _, err := s.ClaimWork(ctx, 1); err != nil {
			t.Fatal(err)
		}
		if err := s.MarkFailed(ctx, "Flaky", "fetch timeout", maxRetries); err != nil {
			t.Fatalf("MarkFailed #%d: %v", attempt, err)
		}
		a, _ := s.GetArticle(ctx, "Flaky")
		if a.ExpansionState != StateDiscovered {
			t.Fatalf("attempt %d: state = %q, want discovered", attempt, a.ExpansionState)
		}
		if a.RetryCount != attempt {
			t.Fatalf("attempt %d: retry_count = %d", attempt, a.RetryCount)
		}
		if a.ClaimedAt != nil {
			t.Fatalf("attempt %d: claimed_at not cleared", attempt)
		}
	}

	// The final failure is terminal.
	if _, err := s.ClaimWork(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkFailed(ctx, "Flaky", "fetch timeout", maxRetries); err != nil {
		t.Fatal(err)
	}
	a, _ := s.GetArticle(ctx, "Flaky")
	if a.ExpansionState != StateFailed {
		t.Errorf("state = %q, want failed", a.ExpansionState)
	}
	if a.RetryCount != maxRetries {
		t.Errorf("retry_count = %d, want %d", a.RetryCount, maxRetries)
	}

	// Failed articles never reappear in the queue.
	claimed, err := s.ClaimWork(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 0 {
		t.Errorf("terminal article reclaimed: %v", claimed)
	}
}

func TestMarkFailedConcurrentIncrements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedDiscovered(t, s, "Flaky")

	// Every failure report must land, even when they race.
	const failures = 5
	var wg sync.WaitGroup
	errs := make(chan error, failures)
	for i := 0; i < failures; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.MarkFailed(ctx, "Flaky", "fetch timeout", 100)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	a, err := s.GetArticle(ctx, "Flaky")
	if err != nil {
		t.Fatal(err)
	}
	if a.RetryCount != failures {
		t.Errorf("retry_count = %d, want %d", a.RetryCount, failures)
	}
	if a.ExpansionState != StateDiscovered {
		t.Errorf("state = %q, want discovered", a.ExpansionState)
	}
}

func TestFailTerminalSkipsRetries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedDiscovered(t, s, "Ghost")
	if _, err := s.ClaimWork(ctx, 1); err != nil {
		t.Fatal(err)
	}

	if err := s.FailTerminal(ctx, "Ghost", "article not found"); err != nil {
		t.Fatal(err)
	}

	a, err := s.GetArticle(ctx, "Ghost")
	if err != nil {
		t.Fatal(err)
	}
	if a.ExpansionState != StateFailed {
		t.Errorf("state = %q, want failed", a.ExpansionState)
	}
	if a.RetryCount != 0 {
		t.Errorf("retry_count = %d, want 0", a.RetryCount)
	}
	if a.ClaimedAt != nil {
		t.Error("claimed_at not cleared")
	}

	claimed, err := s.ClaimWork(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 0 {
		t.Errorf("terminal article reclaimed: %v", claimed)
	}
}

func TestQueueStatsCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedDiscovered(t, s, "A", "B", "C")
	if _, err := s.ClaimWork(ctx, 1); err != nil {
		t.Fatal(err)
	}

	stats, err := s.QueueStats(ctx)
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	if stats.Discovered != 2 || stats.Claimed != 1 || stats.Total != 3 {
		t.Errorf("stats = %+v, want 2 discovered / 1 claimed / 3 total", stats)
	}

	n, err := s.DiscoveredCount(ctx)
	if err != nil || n != 2 {
		t.Errorf("DiscoveredCount = %d, %v; want 2", n, err)
	}
}
