// Package sitemap streams URLs out of a sitemap (and any nested sitemaps),
// scoping and enqueuing each one, and lets the coordinator proceed once
// either 100 URLs have been emitted or the sitemap ends, whichever comes
// first, while the rest keeps draining through internal/pool's bounded
// fan-out.
package sitemap

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexicondev/browsercrawl-core/internal/crawltypes"
	"github.com/lexicondev/browsercrawl-core/internal/pool"
	"github.com/lexicondev/browsercrawl-core/internal/scope"
	"github.com/lexicondev/browsercrawl-core/internal/store"
)

const earlyReturnThreshold = 100

// urlset / sitemapindex mirror the two sitemap XML shapes.
type urlEntry struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

type urlset struct {
	XMLName xml.Name   `xml:"urlset"`
	URLs    []urlEntry `xml:"url"`
}

type sitemapIndex struct {
	XMLName  xml.Name   `xml:"sitemapindex"`
	Sitemaps []urlEntry `xml:"sitemap"`
}

// Progress mirrors the per-seed counters behind RecordSitemapProgress.
// The ingester itself passes emitted and queued to RecordSitemapProgress
// as plain ints, after every URL and on completion, and does not build a
// Progress value.
type Progress struct {
	Emitted int
	Queued  int
	Done    bool
}

// Ingester drains one seed's sitemap tree into st via the given scope
// engine, respecting the seed's page limit and optional lastmod window.
type Ingester struct {
	client   *http.Client
	st       store.CrawlStore
	engine   *scope.Engine
	seed     crawltypes.Seed
	fromDate time.Time
	toDate   time.Time
	pageLimit int
	log      zerolog.Logger
	fanout   *pool.Pool[struct{}]
}

// Config bundles Ingester construction parameters.
type Config struct {
	Store     store.CrawlStore
	Engine    *scope.Engine
	Seed      crawltypes.Seed
	FromDate  time.Time // zero value = no lower bound
	ToDate    time.Time // zero value = no upper bound
	PageLimit int
	Workers   int // bounded fan-out concurrency
	Logger    zerolog.Logger
}

func New(cfg Config) (*Ingester, error) {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	p, err := pool.New[struct{}](pool.Config{
		NumWorkers:      workers,
		TaskChannelSize: workers * 4,
		TaskTimeout:     30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		Logger:          cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("sitemap: building fan-out pool: %w", err)
	}
	return &Ingester{
		client:    &http.Client{Timeout: 30 * time.Second},
		st:        cfg.Store,
		engine:    cfg.Engine,
		seed:      cfg.Seed,
		fromDate:  cfg.FromDate,
		toDate:    cfg.ToDate,
		pageLimit: cfg.PageLimit,
		log:       cfg.Logger,
		fanout:    p,
	}, nil
}

// Run resolves once at least earlyReturnThreshold URLs have been emitted
// or the sitemap tree ends, whichever is first; remaining URLs continue
// draining through the background fan-out pool. Sets markSitemapDone
// exactly once, even on early return.
func (ing *Ingester) Run(ctx context.Context) error {
	sitemapURL := ing.seed.Sitemap.MustGet().URL
	if sitemapURL == "detect" {
		sitemapURL = detectSitemapURL(ing.seed.URL)
	}

	ing.fanout.Start(ctx, "sitemap-"+fmt.Sprint(ing.seed.ID))

	emitted := 0
	queued := 0
	early := make(chan struct{})
	var earlyClosed bool
	closeEarly := func() {
		if !earlyClosed {
			earlyClosed = true
			close(early)
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- ing.walk(ctx, sitemapURL, func(loc, lastmod string) {
			emitted++
			if ing.withinDateWindow(lastmod) {
				queued++
				entry := crawltypes.QueueEntry{URL: loc, SeedID: ing.seed.ID, Depth: 0, ExtraHops: 0}
				ing.enqueue(ctx, entry)
			}
			_ = ing.st.RecordSitemapProgress(ctx, ing.seed.ID, emitted, queued)
			if emitted >= earlyReturnThreshold {
				closeEarly()
			}
		})
	}()

	select {
	case err := <-done:
		closeEarly()
		if err != nil {
			ing.log.Warn().Err(err).Int("seedId", ing.seed.ID).Msg("sitemap parse error, skipping")
		}
		_ = ing.st.MarkSitemapDone(ctx, ing.seed.ID)
		_ = ing.st.RecordSitemapProgress(ctx, ing.seed.ID, emitted, queued)
		ing.fanout.Stop()
		return nil
	case <-early:
		go func() {
			if err := <-done; err != nil {
				ing.log.Warn().Err(err).Int("seedId", ing.seed.ID).Msg("sitemap parse error in background drain")
			}
			_ = ing.st.MarkSitemapDone(ctx, ing.seed.ID)
			_ = ing.st.RecordSitemapProgress(ctx, ing.seed.ID, emitted, queued)
			ing.fanout.Stop()
		}()
		return nil
	}
}

func (ing *Ingester) enqueue(ctx context.Context, entry crawltypes.QueueEntry) {
	task := pool.NewTask("", func(ctx context.Context) (struct{}, error) {
		verdict, err := ing.engine.IsIncluded(entry.URL, entry.Depth, entry.ExtraHops, true)
		if err != nil {
			return struct{}{}, nil // rejected, not an error condition
		}
		entry.URL = verdict.URL
		res, err := withRetry(ctx, func() (crawltypes.AddResult, error) {
			return ing.st.AddToQueue(ctx, entry, ing.pageLimit)
		})
		if err != nil {
			ing.log.Warn().Err(err).Str("url", entry.URL).Msg("sitemap addToQueue failed")
		} else if res == crawltypes.LimitHit {
			ing.log.Debug().Str("url", entry.URL).Msg("sitemap enqueue skipped, page limit hit")
		}
		return struct{}{}, nil
	})
	if err := ing.fanout.AddTask(ctx, task); err != nil {
		ing.log.Warn().Err(err).Str("url", entry.URL).Msg("sitemap fan-out saturated, dropping enqueue")
	}
}

func (ing *Ingester) withinDateWindow(lastmod string) bool {
	if ing.fromDate.IsZero() && ing.toDate.IsZero() {
		return true
	}
	if lastmod == "" {
		return true // no lastmod given, don't filter it out
	}
	t, err := time.Parse(time.RFC3339, lastmod)
	if err != nil {
		return true
	}
	if !ing.fromDate.IsZero() && t.Before(ing.fromDate) {
		return false
	}
	if !ing.toDate.IsZero() && t.After(ing.toDate) {
		return false
	}
	return true
}

// walk fetches sitemapURL, recursing into nested sitemaps, calling emit
// for each leaf <url><loc>. A fetch that hits a transient error (network
// error or 5xx) is tried up to 3 times in all, with exponential backoff
// between attempts; a permanent failure is logged and skipped without
// aborting the crawl.
func (ing *Ingester) walk(ctx context.Context, sitemapURL string, emit func(loc, lastmod string)) error {
	body, err := ing.fetchWithRetry(ctx, sitemapURL)
	if err != nil {
		ing.log.Warn().Err(err).Str("url", sitemapURL).Msg("sitemap fetch failed permanently, skipping")
		return nil
	}
	defer body.Close()

	raw, err := io.ReadAll(io.LimitReader(body, 64<<20))
	if err != nil {
		return fmt.Errorf("sitemap: reading %s: %w", sitemapURL, err)
	}

	var idx sitemapIndex
	if err := xml.Unmarshal(raw, &idx); err == nil && len(idx.Sitemaps) > 0 {
		for _, s := range idx.Sitemaps {
			if err := ing.walk(ctx, s.Loc, emit); err != nil {
				return err
			}
		}
		return nil
	}

	var set urlset
	if err := xml.Unmarshal(raw, &set); err != nil {
		return fmt.Errorf("sitemap: unmarshal %s: %w", sitemapURL, err)
	}
	for _, u := range set.URLs {
		emit(u.Loc, u.LastMod)
	}
	return nil
}

func (ing *Ingester) fetchWithRetry(ctx context.Context, url string) (io.ReadCloser, error) {
	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := ing.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, fmt.Errorf("status %d", resp.StatusCode) // permanent
		}
		return resp.Body, nil
	}
	return nil, lastErr
}

func withRetry(ctx context.Context, fn func() (crawltypes.AddResult, error)) (crawltypes.AddResult, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		res, err := fn()
		if err == nil {
			return res, nil
		}
		lastErr = err
		select {
		case <-time.After(time.Duration(attempt+1) * 200 * time.Millisecond):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

func detectSitemapURL(seedURL string) string {
	trimmed := strings.TrimSuffix(seedURL, "/")
	if idx := strings.Index(trimmed, "://"); idx >= 0 {
		if slash := strings.Index(trimmed[idx+3:], "/"); slash >= 0 {
			trimmed = trimmed[:idx+3+slash]
		}
	}
	return trimmed + "/sitemap.xml"
}
