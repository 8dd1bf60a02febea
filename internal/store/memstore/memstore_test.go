package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/lexicondev/browsercrawl-core/internal/crawltypes"
	"github.com/lexicondev/browsercrawl-core/internal/store"
)

func TestAddToQueueDedupesAndOrdersByDepth(t *testing.T) {
	ctx := context.Background()
	s := New()

	res, err := s.AddToQueue(ctx, crawltypes.QueueEntry{URL: "https://a.example/1", Depth: 1}, 0)
	if err != nil || res != crawltypes.Added {
		t.Fatalf("got %v, %v, want ADDED", res, err)
	}

	res, err = s.AddToQueue(ctx, crawltypes.QueueEntry{URL: "https://a.example/0", Depth: 0}, 0)
	if err != nil || res != crawltypes.Added {
		t.Fatalf("got %v, %v, want ADDED", res, err)
	}

	res, err = s.AddToQueue(ctx, crawltypes.QueueEntry{URL: "https://a.example/1", Depth: 1}, 0)
	if err != nil || res != crawltypes.DupeURL {
		t.Fatalf("got %v, %v, want DUPE_URL", res, err)
	}

	entry, ok, err := s.NextFromQueue(ctx, "worker-1", 30)
	if err != nil || !ok {
		t.Fatalf("NextFromQueue: %v %v %v", entry, ok, err)
	}
	if entry.URL != "https://a.example/0" {
		t.Fatalf("expected lowest-depth entry first, got %s", entry.URL)
	}
}

func TestAddToQueueStickyLimit(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.AddToQueue(ctx, crawltypes.QueueEntry{URL: "https://a.example/1"}, 1); err != nil {
		t.Fatal(err)
	}
	res, err := s.AddToQueue(ctx, crawltypes.QueueEntry{URL: "https://a.example/2"}, 1)
	if err != nil || res != crawltypes.LimitHit {
		t.Fatalf("got %v, %v, want LIMIT_HIT", res, err)
	}

	if err := s.MarkFinished(ctx, "https://a.example/1"); err != nil {
		t.Fatal(err)
	}
	res, err = s.AddToQueue(ctx, crawltypes.QueueEntry{URL: "https://a.example/3"}, 1)
	if err != nil || res != crawltypes.LimitHit {
		t.Fatalf("LIMIT_HIT must stay sticky after a slot frees up, got %v, %v", res, err)
	}
}

func TestStaleLockReclaimedByAnotherWorker(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.AddToQueue(ctx, crawltypes.QueueEntry{URL: "https://a.example/x"}, 0); err != nil {
		t.Fatal(err)
	}
	entry, ok, err := s.NextFromQueue(ctx, "worker-a", -1) // already-expired deadline
	if err != nil || !ok {
		t.Fatalf("NextFromQueue: %v %v", ok, err)
	}
	if entry.URL != "https://a.example/x" {
		t.Fatalf("unexpected entry %s", entry.URL)
	}

	time.Sleep(time.Millisecond)

	reclaimed, ok, err := s.NextFromQueue(ctx, "worker-b", 30)
	if err != nil || !ok {
		t.Fatalf("expected reclaim by worker-b: %v %v", ok, err)
	}
	if reclaimed.URL != "https://a.example/x" {
		t.Fatalf("unexpected reclaimed entry %s", reclaimed.URL)
	}

	if err := s.MarkFinished(ctx, "https://a.example/x"); err != nil {
		t.Fatal(err)
	}
	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.NumDone != 1 {
		t.Fatalf("expected the reclaiming worker's finish to count, got NumDone=%d", stats.NumDone)
	}
	if stats.ReclaimCount != 1 {
		t.Fatalf("expected ReclaimCount=1, got %d", stats.ReclaimCount)
	}
}

// TestAddExtraSeedNumberingIsDeterministic pins that replaying the same
// sequence of redirects must assign the same seed IDs, since NewSeedID is
// derived purely from call order, and that the first extra seed continues
// the original seed table (baseSeedCount+0), not a fixed offset.
func TestAddExtraSeedNumberingIsDeterministic(t *testing.T) {
	ctx := context.Background()
	const baseSeedCount = 2
	replay := func() []int {
		s := New()
		var ids []int
		redirects := []struct {
			origSeedID int
			respURL    string
		}{
			{0, "https://t.example/welcome"},
			{1, "https://u.example/landing"},
		}
		for _, r := range redirects {
			id, err := s.AddExtraSeed(ctx, r.origSeedID, r.respURL, baseSeedCount)
			if err != nil {
				t.Fatalf("AddExtraSeed: %v", err)
			}
			ids = append(ids, id)
		}
		return ids
	}

	first := replay()
	second := replay()
	if len(first) != len(second) {
		t.Fatalf("mismatched lengths: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("seed id at position %d not deterministic: %d vs %d", i, first[i], second[i])
		}
	}
	if first[0] != baseSeedCount {
		t.Errorf("first extra seed id = %d, want %d (contiguous with original seed table)", first[0], baseSeedCount)
	}
	if first[1] != baseSeedCount+1 {
		t.Errorf("second extra seed id = %d, want %d", first[1], baseSeedCount+1)
	}
}

// TestSerializeThenLoadRoundTrips pins that the queue, seen-set, terminal
// sets, extra-seeds, and sitemap-done flag must survive a Serialize/Load
// round trip unchanged.
func TestSerializeThenLoadRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.AddToQueue(ctx, crawltypes.QueueEntry{URL: "https://a.example/queued", Depth: 0}, 0); err != nil {
		t.Fatal(err)
	}
	entry, ok, err := s.NextFromQueue(ctx, "worker-1", 30)
	if err != nil || !ok {
		t.Fatalf("NextFromQueue: %v %v", ok, err)
	}
	_ = entry
	if err := s.MarkFinished(ctx, "https://a.example/queued"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddToQueue(ctx, crawltypes.QueueEntry{URL: "https://a.example/pending", Depth: 1}, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddExtraSeed(ctx, 0, "https://t.example/welcome", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkSitemapDone(ctx, 3); err != nil {
		t.Fatal(err)
	}

	blob, err := s.Serialize(ctx)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	restored := New()
	if err := restored.Load(ctx, blob, true); err != nil {
		t.Fatalf("Load: %v", err)
	}
	reblob, err := restored.Serialize(ctx)
	if err != nil {
		t.Fatalf("Serialize after load: %v", err)
	}

	if !sameStringSet(blob.Seen, reblob.Seen) {
		t.Errorf("Seen mismatch: %v vs %v", blob.Seen, reblob.Seen)
	}
	if !sameStringSet(blob.Done, reblob.Done) {
		t.Errorf("Done mismatch: %v vs %v", blob.Done, reblob.Done)
	}
	if len(blob.QueueByDepth[1]) != len(reblob.QueueByDepth[1]) {
		t.Errorf("QueueByDepth[1] mismatch: %v vs %v", blob.QueueByDepth[1], reblob.QueueByDepth[1])
	}
	if len(blob.ExtraSeeds) != len(reblob.ExtraSeeds) || blob.ExtraSeeds[0].NewURL != reblob.ExtraSeeds[0].NewURL {
		t.Errorf("ExtraSeeds mismatch: %v vs %v", blob.ExtraSeeds, reblob.ExtraSeeds)
	}
	if reblob.SitemapDone[3] != true {
		t.Errorf("expected sitemap-done flag for seed 3 to survive the round trip")
	}
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		if !set[v] {
			return false
		}
	}
	return true
}

// TestClearOwnPendingLocksMatchesExactWorkerID pins the crash-recovery
// path: releasing worker-3's locks must not also release worker-30's,
// which a naive prefix match would.
func TestClearOwnPendingLocksMatchesExactWorkerID(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.AddToQueue(ctx, crawltypes.QueueEntry{URL: "https://a.example/mine"}, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddToQueue(ctx, crawltypes.QueueEntry{URL: "https://a.example/theirs"}, 0); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.NextFromQueue(ctx, "worker-3", 30); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.NextFromQueue(ctx, "worker-30", 30); err != nil {
		t.Fatal(err)
	}

	n, err := s.ClearOwnPendingLocks(ctx, "worker-3")
	if err != nil {
		t.Fatalf("ClearOwnPendingLocks: %v", err)
	}
	if n != 1 {
		t.Fatalf("ClearOwnPendingLocks() = %d, want 1 (must not also match worker-30)", n)
	}

	pending, err := s.NumPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if pending != 1 {
		t.Errorf("expected worker-30's lock to remain held, NumPending() = %d", pending)
	}
}

func TestControlMessageExclusion(t *testing.T) {
	ctx := context.Background()
	s := New()

	msg := store.ControlMessage{Command: "addExclusion", Pattern: "^https://a.example/private"}
	if err := s.PublishControl(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ProcessMessage(ctx); err != nil {
		t.Fatal(err)
	}

	excluded, err := s.IsExcluded(ctx, "https://a.example/private/1")
	if err != nil || !excluded {
		t.Fatalf("expected exclusion to match, got %v %v", excluded, err)
	}
}
