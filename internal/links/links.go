// Package links implements LinkExtractor: it evaluates a seed's selector
// list in every eligible frame of a loaded page, resolves each match to an
// absolute URL, and funnels it through ScopeEngine and CrawlStore. The
// link-discovery step is generalized to per-frame DOM evaluation, rather
// than a goquery pass over fetched HTML, since crawl-core drives a live
// browser window rather than a fetched HTML string.
package links

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog"

	"github.com/lexicondev/browsercrawl-core/internal/crawltypes"
	"github.com/lexicondev/browsercrawl-core/internal/scope"
	"github.com/lexicondev/browsercrawl-core/internal/store"
)

// Config bundles what one page's extraction pass needs.
type Config struct {
	Selectors    []crawltypes.LinkSelector
	Engine       *scope.Engine
	Store        store.CrawlStore
	SeedID       int
	Depth        int
	ExtraHops    int
	MaxDepth     int // -1 means unbounded
	PageLimit    int
	FrameTimeout time.Duration // PAGE_OP_TIMEOUT_SECS
	Logger       zerolog.Logger
}

// Result tallies what one extraction pass discovered, used for logging
// under the "links" context.
type Result struct {
	Found    int
	Queued   int
	OOS      int
	Rejected int
}

// Extract evaluates cfg.Selectors in every frame of frames, resolving and
// scoping each match, and enqueues in-scope or allowed-OOS URLs into
// cfg.Store. It never returns an error: a frame that fails or times out
// simply contributes nothing, matching "timing out one frame does not
// affect others".
func Extract(ctx context.Context, frames []*rod.Page, cfg Config) Result {
	if cfg.MaxDepth >= 0 && cfg.Depth >= cfg.MaxDepth {
		return Result{}
	}
	selectors := cfg.Selectors
	if len(selectors) == 0 {
		selectors = crawltypes.DefaultLinkSelectors()
	}

	var (
		mu  sync.Mutex
		res Result
	)

	var wg sync.WaitGroup
	for _, frame := range frames {
		frame := frame
		wg.Add(1)
		go func() {
			defer wg.Done()
			urls := extractFrame(ctx, frame, selectors, cfg.FrameTimeout, cfg.Logger)
			for _, raw := range urls {
				absolute, ok := resolve(frame, raw)
				if !ok {
					continue
				}
				mu.Lock()
				res.Found++
				mu.Unlock()

				queueOne(ctx, absolute, cfg, &mu, &res)
			}
		}()
	}
	wg.Wait()

	return res
}

func queueOne(ctx context.Context, absolute string, cfg Config, mu *sync.Mutex, res *Result) {
	verdict, err := cfg.Engine.IsIncluded(absolute, cfg.Depth+1, cfg.ExtraHops+1, false)
	if err != nil {
		mu.Lock()
		res.Rejected++
		mu.Unlock()
		return
	}

	extraHops := cfg.ExtraHops
	if verdict.IsOOS {
		extraHops++
	}

	entry := crawltypes.QueueEntry{
		URL:       verdict.URL,
		SeedID:    cfg.SeedID,
		Depth:     cfg.Depth + 1,
		ExtraHops: extraHops,
	}

	added, err := cfg.Store.AddToQueue(ctx, entry, cfg.PageLimit)
	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		cfg.Logger.Warn().Err(err).Str("url", absolute).Msg("addToQueue failed")
		return
	}
	if verdict.IsOOS {
		res.OOS++
	}
	if added == crawltypes.Added {
		res.Queued++
	}
}

// extractFrame runs cfg's selectors inside one frame under FrameTimeout,
// returning raw (possibly relative) URL strings.
func extractFrame(ctx context.Context, frame *rod.Page, selectors []crawltypes.LinkSelector, timeout time.Duration, log zerolog.Logger) []string {
	frameCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		urls []string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("links: frame panic: %v", r)}
			}
		}()
		var urls []string
		p := frame.Context(frameCtx)
		for _, sel := range selectors {
			elems, err := p.Elements(sel.CSSSelector)
			if err != nil {
				continue
			}
			for _, el := range elems {
				var value string
				if sel.IsAttribute {
					attr, err := el.Attribute(sel.Attribute)
					if err != nil || attr == nil {
						continue
					}
					value = *attr
				} else {
					prop, err := el.Property(sel.Attribute)
					if err != nil {
						continue
					}
					value = prop.String()
				}
				if value != "" {
					urls = append(urls, value)
				}
			}
		}
		done <- result{urls: urls}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			log.Debug().Err(r.err).Msg("frame extraction failed, skipping frame")
			return nil
		}
		return r.urls
	case <-frameCtx.Done():
		log.Debug().Msg("frame extraction timed out, skipping frame")
		return nil
	}
}

// resolve turns a possibly-relative href into an absolute URL against
// frame's current location.
func resolve(frame *rod.Page, raw string) (string, bool) {
	info, err := frame.Info()
	if err != nil {
		return "", false
	}
	base, err := url.Parse(info.URL)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	return resolved.String(), true
}
