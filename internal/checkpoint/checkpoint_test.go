package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lexicondev/browsercrawl-core/internal/crawltypes"
)

func TestSaveThenLatestRoundTrips(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "coll", "crawl-1", 5)

	doc := Document{
		Config: map[string]any{"url": "https://example.com"},
		State:  crawltypes.StateBlob{SavedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
	}
	path, err := w.Save(doc)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if path == "" {
		t.Fatal("expected non-empty path")
	}

	got, ok, err := w.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if !ok {
		t.Fatal("expected a checkpoint to be found")
	}
	if got.Config["url"] != "https://example.com" {
		t.Errorf("unexpected config roundtrip: %+v", got.Config)
	}
}

func TestLatestReturnsFalseWhenDirMissing(t *testing.T) {
	dir := t.TempDir() + "/does-not-exist"
	w := NewWriter(dir, "coll", "crawl-1", 5)
	_, ok, err := w.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if ok {
		t.Error("expected no checkpoint to be found in a nonexistent dir")
	}
}

func TestSaveRotatesBeyondHistory(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "coll", "crawl-1", 2)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		doc := Document{State: crawltypes.StateBlob{SavedAt: base.Add(time.Duration(i) * time.Minute)}}
		if _, err := w.Save(doc); err != nil {
			t.Fatalf("Save #%d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(filepath.Join(dir, "coll", "collections"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected rotation to leave exactly 2 files, got %d", len(entries))
	}
}

func TestLatestIgnoresOtherCrawlIDs(t *testing.T) {
	dir := t.TempDir()
	w1 := NewWriter(dir, "coll", "crawl-1", 5)
	w2 := NewWriter(dir, "coll", "crawl-2", 5)

	if _, err := w1.Save(Document{State: crawltypes.StateBlob{SavedAt: time.Now().UTC()}}); err != nil {
		t.Fatalf("Save w1: %v", err)
	}

	_, ok, err := w2.Latest()
	if err != nil {
		t.Fatalf("Latest w2: %v", err)
	}
	if ok {
		t.Error("expected crawl-2's writer not to see crawl-1's checkpoint")
	}
}

func TestNewWriterDefaultsHistoryToOne(t *testing.T) {
	w := NewWriter(t.TempDir(), "coll", "crawl-1", 0)
	if w.history != 1 {
		t.Errorf("expected history to default to 1, got %d", w.history)
	}
}
