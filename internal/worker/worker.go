// Package worker implements PageWorker: one goroutine that owns a single
// browser window at a time and drains CrawlStore serially, driving each
// page through PageDriver and LinkExtractor. The loop is queue-driven and
// recover()-wrapped, following the usual worker-per-goroutine shape,
// generalized here to own a rod window instead of a generic task
// payload.
package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexicondev/browsercrawl-core/internal/archive"
	"github.com/lexicondev/browsercrawl-core/internal/browser"
	"github.com/lexicondev/browsercrawl-core/internal/config"
	"github.com/lexicondev/browsercrawl-core/internal/crawltypes"
	"github.com/lexicondev/browsercrawl-core/internal/links"
	"github.com/lexicondev/browsercrawl-core/internal/scope"
	"github.com/lexicondev/browsercrawl-core/internal/store"
)

// SeedView is what a worker needs to know about the seed a queue entry
// belongs to: its scope engine, selectors, auth and failure policy.
type SeedView struct {
	Seed   crawltypes.Seed
	Engine *scope.Engine
}

// SeedLookup resolves a seed (including extra seeds discovered mid-crawl
// via redirects) by ID.
type SeedLookup func(seedID int) (SeedView, bool)

// ExtraSeedHook mints and registers the seed a depth-0 redirect
// discovers: it stores the new seed record, compiles its scope engine
// against respURL, and makes it visible to SeedLookup before the caller
// proceeds to extract links off the redirected page.
type ExtraSeedHook func(ctx context.Context, origSeedID int, respURL string) (newSeedID int, err error)

// FinishHook runs after every page reaches a terminal state, letting the
// coordinator checkpoint and check limits without PageWorker needing to
// know about either concern.
type FinishHook func(ctx context.Context, entry crawltypes.QueueEntry, outcome crawltypes.PageOutcome)

// Worker drains st serially under one browser window.
type Worker struct {
	ID          int
	browser     *browser.Browser
	store       store.CrawlStore
	archive     *archive.Store
	lookup      SeedLookup
	onExtraSeed ExtraSeedHook
	cfg         config.Config
	log         zerolog.Logger
	onFinish    FinishHook

	window       *browser.Window
	windowOrigin string
	reuseCount   int
	crashStreak  int
}

// Config bundles what New needs beyond the identity fields.
type Config struct {
	ID          int
	Browser     *browser.Browser
	Store       store.CrawlStore
	Archive     *archive.Store // nil disables on-disk archiving
	Lookup      SeedLookup
	OnExtraSeed ExtraSeedHook
	Crawl       config.Config
	Logger      zerolog.Logger
	OnFinish    FinishHook
}

func New(cfg Config) *Worker {
	return &Worker{
		ID:          cfg.ID,
		browser:     cfg.Browser,
		store:       cfg.Store,
		archive:     cfg.Archive,
		lookup:      cfg.Lookup,
		onExtraSeed: cfg.OnExtraSeed,
		cfg:         cfg.Crawl,
		log:         cfg.Logger,
		onFinish:    cfg.OnFinish,
	}
}

func (w *Worker) workerID() string { return fmt.Sprintf("worker-%d", w.ID) }

// Run is the worker's loop: dequeue, recheck scope, drive the page,
// extract links, finish. Returns when the crawl is no longer running or
// the queue is permanently empty.
func (w *Worker) Run(ctx context.Context) error {
	defer w.closeWindow()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		status, err := w.store.GetStatus(ctx)
		if err != nil {
			return fmt.Errorf("worker %d: checking crawl status: %w", w.ID, err)
		}
		switch status {
		case crawltypes.StatusRunning, crawltypes.StatusFailing:
			// proceed to dequeue
		case crawltypes.StatusDebug:
			// operator-paused: idle without dequeuing until resumed
			select {
			case <-time.After(500 * time.Millisecond):
				continue
			case <-ctx.Done():
				return nil
			}
		default:
			return nil
		}

		entry, ok, err := w.store.NextFromQueue(ctx, w.workerID(), int64(w.cfg.Timing.PerPageDeadline()/time.Second))
		if err != nil {
			return fmt.Errorf("worker %d: nextFromQueue: %w", w.ID, err)
		}
		if !ok {
			pending, err := w.store.NumPending(ctx)
			if err != nil {
				return fmt.Errorf("worker %d: numPending: %w", w.ID, err)
			}
			if pending > 0 {
				select {
				case <-time.After(500 * time.Millisecond):
					continue
				case <-ctx.Done():
					return nil
				}
			}
			size, err := w.store.QueueSize(ctx)
			if err != nil {
				return fmt.Errorf("worker %d: queueSize: %w", w.ID, err)
			}
			if size == 0 {
				return nil
			}
			continue
		}

		w.processPage(ctx, entry)
	}
}

// processPage runs one queue entry through the whole per-page pipeline,
// under the fixed per-page deadline. It never propagates errors up to
// Run: every failure mode ends in markFinished/markFailed/markExcluded.
func (w *Worker) processPage(ctx context.Context, entry crawltypes.QueueEntry) {
	pageCtx, cancel := context.WithTimeout(ctx, w.cfg.Timing.PerPageDeadline())
	defer cancel()

	sv, ok := w.lookup(entry.SeedID)
	if !ok {
		w.log.Warn().Int("seedId", entry.SeedID).Str("url", entry.URL).Msg("unknown seed, failing page")
		_ = w.store.MarkFailed(ctx, entry.URL)
		w.notify(ctx, entry, crawltypes.OutcomeLoadFailed)
		return
	}

	excluded, err := w.store.IsExcluded(ctx, entry.URL)
	if err != nil {
		w.log.Warn().Err(err).Str("url", entry.URL).Msg("isExcluded check failed, proceeding")
	}
	if excluded {
		_ = w.store.MarkExcluded(ctx, entry.URL)
		return
	}

	verdict, err := sv.Engine.IsIncluded(entry.URL, entry.Depth, entry.ExtraHops, false)
	if err != nil || verdict.IsOOS && !allowsOOS(sv.Seed) {
		_ = w.store.MarkExcluded(ctx, entry.URL)
		return
	}

	outcome, state := w.drivePage(pageCtx, entry, sv)

	switch outcome {
	case crawltypes.OutcomeOK, crawltypes.OutcomeSlowPage, crawltypes.OutcomeDownloadDetected:
		_ = w.store.MarkFinished(ctx, entry.URL)
	default:
		_ = w.store.MarkFailed(ctx, entry.URL)
		if entry.Depth == 0 && sv.Seed.FailOnFailed {
			w.log.Error().Str("url", entry.URL).Str("outcome", string(outcome)).Msg("depth-0 seed failed with failOnFailedSeed, escalating")
			_ = w.store.SetStatus(ctx, crawltypes.StatusFailed)
		}
	}

	if state.IsHTMLPage && outcome != crawltypes.OutcomeDownloadDetected {
		w.extractLinks(pageCtx, entry, sv, state)
	}

	w.notify(ctx, entry, outcome)
}

// archiveAlreadyOnDisk and archiveWrite are the on-disk archive hooks
// PrepareOpts wires into the interception policy; both are no-ops when
// this worker was built without an archive.Store (e.g. a dry run).
func (w *Worker) archiveAlreadyOnDisk(url string) bool {
	if w.archive == nil {
		return false
	}
	return w.archive.AlreadyOnDisk(url)
}

func (w *Worker) archiveWrite(url, contentType string, body []byte) {
	if w.archive == nil {
		return
	}
	if err := w.archive.Write(context.Background(), url, body, contentType); err != nil && err != archive.ErrAlreadyWritten {
		w.log.Warn().Err(err).Str("url", url).Msg("archive write failed")
	}
}

func (w *Worker) notify(ctx context.Context, entry crawltypes.QueueEntry, outcome crawltypes.PageOutcome) {
	if w.onFinish != nil {
		w.onFinish(ctx, entry, outcome)
	}
}

func allowsOOS(seed crawltypes.Seed) bool {
	return seed.MaxExtraHops > 0
}

// drivePage navigates the worker's window to entry.URL and waits for the
// page to settle, obtaining or reusing the window per the page-reuse
// contract first. Link extraction happens afterwards in processPage.
func (w *Worker) drivePage(ctx context.Context, entry crawltypes.QueueEntry, sv SeedView) (crawltypes.PageOutcome, crawltypes.PageState) {
	state := crawltypes.PageState{Entry: entry}

	if err := w.ensureWindow(entry.URL); err != nil {
		w.log.Warn().Err(err).Str("url", entry.URL).Msg("obtaining window failed")
		return crawltypes.OutcomeChromeError, state
	}

	if err := w.window.Prepare(ctx, browser.PrepareOpts{
		Auth:              sv.Seed.Auth.ToPointer(),
		RecrawlUpdateData: w.cfg.Misc.RecrawlUpdateData,
		BlockAds:          w.cfg.Rules.BlockAds,
		BlockRules:        w.cfg.Rules.BlockRules,
		AlreadyOnDisk:     w.archiveAlreadyOnDisk,
		OnResponse:        w.archiveWrite,
	}); err != nil {
		return w.handleWindowError(err)
	}

	nav, err := w.window.Navigate(ctx, entry.URL, browser.GotoOpts{
		WaitUntil: w.cfg.Timing.WaitUntil,
		Timeout:   w.cfg.Timing.PageLoadTimeout,
	})
	if err != nil {
		return w.handleWindowError(err)
	}
	state.Nav = nav
	state.MimeType = nav.MimeType
	state.IsHTMLPage = isHTML(nav.MimeType)

	if entry.Depth == 0 && w.onExtraSeed != nil {
		if newSeedID, changed, err := browser.AddExtraSeedOnRedirect(ctx, w.onExtraSeed, entry.SeedID, entry.URL, nav.RespURL); err == nil && changed {
			if newSv, ok := w.lookup(newSeedID); ok {
				sv = newSv
			} else {
				w.log.Warn().Int("newSeedId", newSeedID).Str("respUrl", nav.RespURL).Msg("extra seed registered but not resolvable, keeping original scope")
			}
		}
	}

	if nav.Outcome == crawltypes.OutcomeLoadFailed || nav.Outcome == crawltypes.OutcomeChromeError {
		if w.cfg.Failure.FailOnInvalidStatus && nav.StatusCode >= 400 {
			return crawltypes.OutcomeHTTPError, state
		}
		return nav.Outcome, state
	}
	if w.cfg.Failure.FailOnInvalidStatus && nav.StatusCode >= 400 {
		state.LoadState = crawltypes.LoadContentLoaded
		return crawltypes.OutcomeHTTPError, state
	}

	state.LoadState = crawltypes.LoadFullPageLoaded
	if nav.Outcome == crawltypes.OutcomeSlowPage {
		w.reuseCount++
		return nav.Outcome, state
	}

	_ = w.window.CheckAntiBot(ctx, "", 10*time.Second, time.Second)
	w.window.AwaitNetIdle(ctx, w.cfg.Timing.NetIdleWait)

	if w.cfg.Behaviors.EnableBehaviors {
		w.window.AwaitCustomPageLoad(ctx, w.cfg.Timing.PostLoadDelay)
	}
	state.LoadState = crawltypes.LoadBehaviorsDone

	w.reuseCount++
	return crawltypes.OutcomeOK, state
}

func (w *Worker) extractLinks(ctx context.Context, entry crawltypes.QueueEntry, sv SeedView, state crawltypes.PageState) {
	frames, err := w.window.FilterFrames(w.cfg.Rules.BlockAds)
	if err != nil {
		return
	}
	res := links.Extract(ctx, frames, links.Config{
		Selectors:    sv.Seed.SelectLinks,
		Engine:       sv.Engine,
		Store:        w.store,
		SeedID:       sv.Seed.ID,
		Depth:        entry.Depth,
		ExtraHops:    entry.ExtraHops,
		MaxDepth:     sv.Seed.MaxDepth,
		PageLimit:    w.cfg.Limits.PageLimit,
		FrameTimeout: w.cfg.Timing.PageOpTimeout,
		Logger:       w.log,
	})
	w.log.Debug().Str("url", entry.URL).Int("found", res.Found).Int("queued", res.Queued).Int("oos", res.OOS).Msg("link extraction complete")
	state.LoadState = crawltypes.LoadExtractionDone
}

// ensureWindow implements the page-reuse contract: reuse the current
// window unless the reuse cap is hit, the origin changed, or the window
// previously crashed.
func (w *Worker) ensureWindow(nextURL string) error {
	origin := originOf(nextURL)

	needsFresh := w.window == nil ||
		w.window.Crashed() ||
		w.reuseCount >= w.cfg.Workers.MaxReuse ||
		(w.windowOrigin != "" && w.windowOrigin != origin)

	if !needsFresh {
		return nil
	}

	w.closeWindow()

	win, err := w.browser.NewWindow()
	if err != nil {
		return fmt.Errorf("worker %d: opening window: %w", w.ID, err)
	}
	w.window = win
	w.windowOrigin = origin
	w.reuseCount = 0
	return nil
}

func (w *Worker) handleWindowError(err error) (crawltypes.PageOutcome, crawltypes.PageState) {
	if w.window != nil && w.window.Crashed() {
		w.crashStreak++
		w.log.Warn().Err(err).Int("crashStreak", w.crashStreak).Msg("window crashed, will reopen next page")
		if w.crashStreak >= w.cfg.Workers.MaxReuse {
			w.log.Error().Int("crashStreak", w.crashStreak).Msg("consecutive window crashes exceeded MAX_REUSE, escalating to fatal")
			_ = w.store.SetStatus(context.Background(), crawltypes.StatusFailed)
		}
	} else {
		w.crashStreak = 0
	}
	return crawltypes.OutcomeChromeError, crawltypes.PageState{}
}

func (w *Worker) closeWindow() {
	if w.window != nil {
		_ = w.window.Close()
		w.window = nil
	}
}

func isHTML(mimeType string) bool {
	return mimeType == "" || mimeType == "text/html" || mimeType == "application/xhtml+xml"
}

func originOf(rawURL string) string {
	scheme := ""
	rest := rawURL
	if i := strings.Index(rawURL, "://"); i >= 0 {
		scheme = rawURL[:i]
		rest = rawURL[i+3:]
	}
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return scheme + "://" + rest
}
