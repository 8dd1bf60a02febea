package sitemap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/mo"

	"github.com/lexicondev/browsercrawl-core/internal/crawltypes"
	"github.com/lexicondev/browsercrawl-core/internal/scope"
	"github.com/lexicondev/browsercrawl-core/internal/store/memstore"
)

const sampleSitemap = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/a</loc><lastmod>2026-01-01T00:00:00Z</lastmod></url>
  <url><loc>https://example.com/b</loc><lastmod>2026-06-01T00:00:00Z</lastmod></url>
</urlset>`

func TestRunEnqueuesAllURLsWithinDateWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleSitemap))
	}))
	defer srv.Close()

	st := memstore.New()
	engine, err := scope.New(crawltypes.Seed{ID: 1, URL: "https://example.com/", ScopeType: crawltypes.ScopeAny, MaxDepth: -1})
	if err != nil {
		t.Fatalf("scope.New: %v", err)
	}
	seed := crawltypes.Seed{ID: 1, URL: "https://example.com/", Sitemap: mo.Some(crawltypes.SitemapSpec{URL: srv.URL})}

	ing, err := New(Config{Store: st, Engine: engine, Seed: seed, PageLimit: 100, Workers: 2, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := ing.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		size, err := st.QueueSize(ctx)
		if err != nil {
			t.Fatalf("QueueSize: %v", err)
		}
		if size >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for sitemap URLs to enqueue, got %d", size)
		case <-time.After(10 * time.Millisecond):
		}
	}

	done, err := st.IsSitemapDone(ctx, 1)
	if err != nil {
		t.Fatalf("IsSitemapDone: %v", err)
	}
	if !done {
		t.Error("expected sitemap to be marked done")
	}
}

func TestRunFiltersByDateWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleSitemap))
	}))
	defer srv.Close()

	st := memstore.New()
	engine, err := scope.New(crawltypes.Seed{ID: 1, URL: "https://example.com/", ScopeType: crawltypes.ScopeAny, MaxDepth: -1})
	if err != nil {
		t.Fatalf("scope.New: %v", err)
	}
	seed := crawltypes.Seed{ID: 1, URL: "https://example.com/", Sitemap: mo.Some(crawltypes.SitemapSpec{URL: srv.URL})}

	ing, err := New(Config{
		Store: st, Engine: engine, Seed: seed, PageLimit: 100, Workers: 2, Logger: zerolog.Nop(),
		FromDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := ing.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		done, err := st.IsSitemapDone(ctx, 1)
		if err != nil {
			t.Fatalf("IsSitemapDone: %v", err)
		}
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for sitemap to finish")
		case <-time.After(10 * time.Millisecond):
		}
	}

	size, err := st.QueueSize(ctx)
	if err != nil {
		t.Fatalf("QueueSize: %v", err)
	}
	if size != 1 {
		t.Errorf("expected only the post-cutoff URL to be queued, got %d", size)
	}
}

func TestDetectSitemapURL(t *testing.T) {
	cases := map[string]string{
		"https://example.com/docs/index.html": "https://example.com/sitemap.xml",
		"https://example.com":                 "https://example.com/sitemap.xml",
		"https://example.com/":                "https://example.com/sitemap.xml",
	}
	for in, want := range cases {
		if got := detectSitemapURL(in); got != want {
			t.Errorf("detectSitemapURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWithinDateWindow(t *testing.T) {
	ing := &Ingester{
		fromDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		toDate:   time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	if !ing.withinDateWindow("2026-06-01T00:00:00Z") {
		t.Error("expected a date inside the window to pass")
	}
	if ing.withinDateWindow("2025-01-01T00:00:00Z") {
		t.Error("expected a date before fromDate to be filtered out")
	}
	if !ing.withinDateWindow("") {
		t.Error("expected a missing lastmod to pass through unfiltered")
	}
	if !ing.withinDateWindow("not-a-date") {
		t.Error("expected an unparseable lastmod to pass through unfiltered")
	}
}
