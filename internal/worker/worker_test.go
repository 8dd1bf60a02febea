package worker

import (
	"context"
	"testing"
	"time"

	"github.com/lexicondev/browsercrawl-core/internal/crawltypes"
	"github.com/lexicondev/browsercrawl-core/internal/store/memstore"
)

func TestAllowsOOS(t *testing.T) {
	if allowsOOS(crawltypes.Seed{MaxExtraHops: 0}) {
		t.Error("MaxExtraHops=0 should not allow out-of-scope hops")
	}
	if !allowsOOS(crawltypes.Seed{MaxExtraHops: 1}) {
		t.Error("MaxExtraHops=1 should allow out-of-scope hops")
	}
}

func TestIsHTML(t *testing.T) {
	cases := map[string]bool{
		"":                        true,
		"text/html":               true,
		"application/xhtml+xml":   true,
		"application/pdf":         false,
		"image/png":               false,
		"text/html; charset=utf-8": false, // exact match only, params not stripped
	}
	for mime, want := range cases {
		if got := isHTML(mime); got != want {
			t.Errorf("isHTML(%q) = %v, want %v", mime, got, want)
		}
	}
}

func TestOriginOf(t *testing.T) {
	cases := map[string]string{
		"https://example.com/a/b?x=1": "https://example.com",
		"http://example.com":          "http://example.com",
		"https://example.com/":        "https://example.com",
	}
	for url, want := range cases {
		if got := originOf(url); got != want {
			t.Errorf("originOf(%q) = %q, want %q", url, got, want)
		}
	}
}

func TestArchiveHooksAreNoOpsWithoutArchive(t *testing.T) {
	w := New(Config{ID: 1})
	if w.archiveAlreadyOnDisk("https://example.com/") {
		t.Error("expected false with no archive configured")
	}
	// Must not panic.
	w.archiveWrite("https://example.com/", "text/html", []byte("<html></html>"))
}

func TestRunIdlesWithoutDequeuingWhileStatusIsDebug(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	if err := st.SetStatus(ctx, crawltypes.StatusDebug); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	w := New(Config{ID: 1, Store: st})

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give Run a couple of poll cycles to prove it neither dequeues nor
	// exits while paused.
	time.Sleep(1200 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("Run returned early while status was debug: %v", err)
	default:
	}

	if err := st.SetStatus(ctx, crawltypes.StatusDoneAll); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to exit once status left the running set")
	}
}
