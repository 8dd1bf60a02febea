// Package coordinator implements CrawlCoordinator: the top-level
// lifecycle that loads or initializes crawl state, seeds the queue,
// launches the worker pool, checkpoints and limit-checks on every page
// finish, and handles shutdown signals. Follows the usual top-level
// main.go/server.go lifecycle shape: setup, run, then a signal-driven
// shutdown that listens for SIGINT/SIGTERM, drains, and exits with a
// code.
package coordinator

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexicondev/browsercrawl-core/internal/archive"
	"github.com/lexicondev/browsercrawl-core/internal/checkpoint"
	"github.com/lexicondev/browsercrawl-core/internal/config"
	"github.com/lexicondev/browsercrawl-core/internal/crawltypes"
	"github.com/lexicondev/browsercrawl-core/internal/limits"
	"github.com/lexicondev/browsercrawl-core/internal/scope"
	"github.com/lexicondev/browsercrawl-core/internal/sitemap"
	"github.com/lexicondev/browsercrawl-core/internal/store"
	"github.com/lexicondev/browsercrawl-core/internal/worker"
	"github.com/lexicondev/browsercrawl-core/internal/workerpool"
)

// ExitCode is the process exit status.
type ExitCode int

const (
	ExitNormal              ExitCode = 0
	ExitCrawlError          ExitCode = 9
	ExitBrowserCrashOnIntr  ExitCode = 10
	ExitInterrupted         ExitCode = 11
	ExitInterruptedSerialize ExitCode = 13
	ExitFatal               ExitCode = 17
)

// Coordinator owns one crawl's full lifecycle.
type Coordinator struct {
	cfg     config.Config
	crawlID string
	store   store.CrawlStore
	archive *archive.Store
	ckpt    *checkpoint.Writer
	limits  *limits.Checker
	log     zerolog.Logger

	seeds         map[int]worker.SeedView
	baseSeedCount int
	mu            sync.RWMutex

	startedAt      time.Time
	lastCheckpoint time.Time

	interrupted   bool
	abortArmed    bool
	windowCrashed bool
}

// New builds a Coordinator from already-connected dependencies; wiring
// them (config, Redis/memstore, browser) is cmd/crawlcore/main.go's job.
func New(cfg config.Config, crawlID string, st store.CrawlStore, arc *archive.Store, ckpt *checkpoint.Writer, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		crawlID: crawlID,
		store:   st,
		archive: arc,
		ckpt:    ckpt,
		limits:  limits.NewChecker(cfg.Limits, cfg.Misc.Cwd),
		log:     log,
		seeds:   make(map[int]worker.SeedView),
	}
}

// AddSeed registers a seed (original or discovered mid-crawl via
// redirect) and compiles its scope engine, making it visible to
// PageWorker's SeedLookup.
func (c *Coordinator) AddSeed(seed crawltypes.Seed) error {
	engine, err := scope.New(seed)
	if err != nil {
		return fmt.Errorf("coordinator: compiling scope for seed %d: %w", seed.ID, err)
	}
	c.mu.Lock()
	c.seeds[seed.ID] = worker.SeedView{Seed: seed, Engine: engine}
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) lookupSeed(seedID int) (worker.SeedView, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sv, ok := c.seeds[seedID]
	return sv, ok
}

// registerExtraSeed is worker.ExtraSeedHook: it mints the new seed id
// (contiguous with the original seed table), derives the extra seed's
// scope from the redirect's origin seed but with URL=respURL, and
// registers it so SeedLookup resolves it before the worker extracts
// links off the redirected page.
func (c *Coordinator) registerExtraSeed(ctx context.Context, origSeedID int, respURL string) (int, error) {
	orig, ok := c.lookupSeed(origSeedID)
	if !ok {
		return 0, fmt.Errorf("coordinator: unknown origin seed %d for extra seed", origSeedID)
	}
	newSeedID, err := c.store.AddExtraSeed(ctx, origSeedID, respURL, c.baseSeedCount)
	if err != nil {
		return 0, fmt.Errorf("coordinator: minting extra seed for origin %d: %w", origSeedID, err)
	}
	extra := orig.Seed
	extra.ID = newSeedID
	extra.URL = respURL
	extra.IsExtra = true
	extra.OrigSeedID = origSeedID
	if err := c.AddSeed(extra); err != nil {
		return 0, fmt.Errorf("coordinator: registering extra seed %d: %w", newSeedID, err)
	}
	c.log.Info().Int("origSeedId", origSeedID).Int("newSeedId", newSeedID).Str("url", respURL).Msg("registered extra seed from redirect")
	return newSeedID, nil
}

// Run executes the full lifecycle and returns the process exit code to
// use.
func (c *Coordinator) Run(ctx context.Context, seeds []crawltypes.Seed) (ExitCode, error) {
	c.startedAt = time.Now()
	c.baseSeedCount = len(seeds)

	// Step 1: load persisted state if present, else initialize.
	resumed, err := c.loadOrInit(ctx, seeds)
	if err != nil {
		return ExitCrawlError, fmt.Errorf("coordinator: init: %w", err)
	}

	// Step 2: debug poll.
	if err := c.waitWhileDebug(ctx); err != nil {
		return ExitInterrupted, err
	}

	// Step 3: already done.
	status, err := c.store.GetStatus(ctx)
	if err != nil {
		return ExitCrawlError, fmt.Errorf("coordinator: getStatus: %w", err)
	}
	if status == crawltypes.StatusDoneAll {
		if c.cfg.Failure.WaitOnDone {
			c.log.Info().Msg("crawl already done, parking (waitOnDone)")
			<-ctx.Done()
			return ExitNormal, nil
		}
		return ExitNormal, nil
	}

	if !resumed {
		if err := c.store.SetStatus(ctx, crawltypes.StatusRunning); err != nil {
			return ExitCrawlError, fmt.Errorf("coordinator: setStatus: %w", err)
		}
		// Step 4: seed the queue and launch sitemap ingesters.
		if err := c.seedQueue(ctx, seeds); err != nil {
			return ExitCrawlError, fmt.Errorf("coordinator: seeding: %w", err)
		}
	}

	if err := c.clearOwnStaleLocks(ctx); err != nil {
		c.log.Warn().Err(err).Msg("clearing own stale locks failed")
	}

	// Signal handling wraps the worker pool run (step 8).
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigDone := c.installSignalHandler(cancel)
	defer close(sigDone)

	// Step 1 (repeated for the life of the run): drain operator control
	// messages, acting on cancel/stop-gracefully/pause/resume. addExclusion
	// and removeExclusion are already applied inside ProcessMessage itself.
	ctrlDone := c.runControlLoop(runCtx, cancel)
	defer close(ctrlDone)

	// Step 5: launch browser + WorkerPool; blocks until the pool exits.
	poolErr := workerpool.Run(runCtx, workerpool.Config{
		Crawl:       c.cfg,
		Store:       c.store,
		Archive:     c.archive,
		Lookup:      c.lookupSeed,
		OnExtraSeed: c.registerExtraSeed,
		OnFinish:    c.onPageFinish,
		Logger:      c.log,
	})

	final := c.finalStatus(ctx)
	_ = c.flushCheckpoint(ctx, true)

	if poolErr != nil {
		return ExitCrawlError, poolErr
	}
	return c.exitCodeFor(final), nil
}

// clearOwnStaleLocks releases any in-progress lock this host's worker IDs
// still hold from a previous crash, rather than waiting out each lock's
// TTL before the URL becomes claimable again.
func (c *Coordinator) clearOwnStaleLocks(ctx context.Context) error {
	hostname, _ := os.Hostname()
	offset := workerpool.OffsetFromHostname(hostname, c.cfg.Workers.Count)
	numWorkers := c.cfg.Workers.Count
	if numWorkers < 1 {
		numWorkers = 1
	}
	for id := offset; id < offset+numWorkers; id++ {
		n, err := c.store.ClearOwnPendingLocks(ctx, fmt.Sprintf("worker-%d", id))
		if err != nil {
			return err
		}
		if n > 0 {
			c.log.Info().Int("worker", id).Int("released", n).Msg("released stale in-progress lock from a previous run")
		}
	}
	return nil
}

// loadOrInit implements step 1: try the most recent checkpoint first.
func (c *Coordinator) loadOrInit(ctx context.Context, seeds []crawltypes.Seed) (resumed bool, err error) {
	for _, s := range seeds {
		if err := c.AddSeed(s); err != nil {
			return false, err
		}
	}

	doc, ok, err := c.ckpt.Latest()
	if err != nil {
		return false, fmt.Errorf("loading checkpoint: %w", err)
	}
	if !ok {
		return false, nil
	}

	if err := c.store.Load(ctx, doc.State, true); err != nil {
		return false, fmt.Errorf("replaying checkpoint into store: %w", err)
	}
	for _, es := range doc.State.ExtraSeeds {
		if orig, ok := c.lookupSeed(es.OrigSeedID); ok {
			extra := orig.Seed
			extra.ID = es.NewSeedID
			extra.URL = es.NewURL
			extra.IsExtra = true
			extra.OrigSeedID = es.OrigSeedID
			if err := c.AddSeed(extra); err != nil {
				return false, err
			}
		}
	}
	c.log.Info().Str("crawlId", c.crawlID).Msg("resumed from checkpoint")
	return true, nil
}

// waitWhileDebug polls GetStatus at the configured interval, so the
// operator-inspection pause is testable without sleeping a hardcoded
// period.
func (c *Coordinator) waitWhileDebug(ctx context.Context) error {
	wait := c.cfg.Timing.DebugPollWait
	if wait <= 0 {
		wait = time.Second
	}
	for {
		status, err := c.store.GetStatus(ctx)
		if err != nil {
			return err
		}
		if status != crawltypes.StatusDebug {
			return nil
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// seedQueue implements step 4.
func (c *Coordinator) seedQueue(ctx context.Context, seeds []crawltypes.Seed) error {
	for _, s := range seeds {
		entry := crawltypes.QueueEntry{URL: s.URL, SeedID: s.ID, Depth: 0, ExtraHops: 0}
		if _, err := c.store.AddToQueue(ctx, entry, c.cfg.Limits.PageLimit); err != nil {
			return fmt.Errorf("enqueuing seed %d: %w", s.ID, err)
		}

		if s.Sitemap.IsPresent() {
			sv, _ := c.lookupSeed(s.ID)
			ing, err := sitemap.New(sitemap.Config{
				Store:     c.store,
				Engine:    sv.Engine,
				Seed:      s,
				PageLimit: c.cfg.Limits.PageLimit,
				Workers:   4,
				Logger:    c.log.With().Int("seedId", s.ID).Logger(),
			})
			if err != nil {
				return fmt.Errorf("building sitemap ingester for seed %d: %w", s.ID, err)
			}
			initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := ing.Run(initCtx); err != nil {
				c.log.Warn().Err(err).Int("seedId", s.ID).Msg("sitemap initial fetch failed")
			}
			cancel()
		}
	}
	return nil
}

// onPageFinish is worker.FinishHook: step 6 (checkpoint) and step 7
// (limits), run after every page a PageWorker settles.
func (c *Coordinator) onPageFinish(ctx context.Context, entry crawltypes.QueueEntry, outcome crawltypes.PageOutcome) {
	shouldCheckpoint := c.cfg.Persistence.SaveState == config.SaveStateAlways &&
		time.Since(c.lastCheckpoint) >= c.cfg.Persistence.SaveStateInterval
	if shouldCheckpoint {
		if err := c.flushCheckpoint(ctx, false); err != nil {
			c.log.Warn().Err(err).Msg("checkpoint write failed")
		}
	}

	stats, err := c.store.GetStats(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("getStats failed, skipping limit check")
		return
	}
	snap := limits.Snapshot{
		ElapsedSecs: int64(time.Since(c.startedAt).Seconds()),
		FailedCount: stats.NumFailed,
		PageLimit:   c.cfg.Limits.PageLimit,
	}
	if c.archive != nil {
		snap.ArchiveBytes = c.archive.BytesWritten()
	}

	breach, err := c.limits.Check(ctx, snap)
	if err != nil {
		c.log.Warn().Err(err).Msg("limit check failed")
		return
	}
	if breach == nil {
		return
	}

	c.log.Warn().Str("kind", string(breach.Kind)).Str("detail", breach.Detail).Msg("limit breached")
	if breach.Fatal {
		_ = c.store.SetStatus(ctx, crawltypes.StatusFailed)
		return
	}
	_ = c.store.SetStatus(ctx, crawltypes.StatusFailing)
}

func (c *Coordinator) flushCheckpoint(ctx context.Context, final bool) error {
	blob, err := c.store.Serialize(ctx)
	if err != nil {
		return err
	}
	blob.SavedAt = time.Now()
	path, err := c.ckpt.Save(checkpoint.Document{
		Config: map[string]any{"crawlId": c.crawlID},
		State:  blob,
	})
	if err != nil {
		return err
	}
	c.lastCheckpoint = time.Now()
	if final {
		c.log.Info().Str("path", path).Msg("wrote final checkpoint")
	}
	return nil
}

// runControlLoop polls ProcessMessage and acts on the operator commands
// it returns: cancel and stop-gracefully end the run (mirroring the
// signal handler's hard/graceful stop), pause parks every worker in the
// debug status until resume flips it back to running. addExclusion and
// removeExclusion need no action here since ProcessMessage already
// applies them to the store's own exclusion set.
func (c *Coordinator) runControlLoop(ctx context.Context, cancel context.CancelFunc) chan struct{} {
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				msg, err := c.store.ProcessMessage(ctx)
				if err != nil {
					c.log.Warn().Err(err).Msg("processMessage failed")
					continue
				}
				if msg == nil {
					continue
				}
				switch msg.Command {
				case "cancel":
					c.log.Warn().Msg("operator canceled the crawl")
					_ = c.store.SetStatus(context.Background(), crawltypes.StatusCanceled)
					cancel()
				case "stop-gracefully":
					c.log.Warn().Msg("operator requested a graceful stop")
					_ = c.store.SetStatus(context.Background(), crawltypes.StatusInterrupted)
					cancel()
				case "pause":
					c.log.Info().Msg("operator paused the crawl")
					_ = c.store.SetStatus(context.Background(), crawltypes.StatusDebug)
				case "resume":
					c.log.Info().Msg("operator resumed the crawl")
					_ = c.store.SetStatus(context.Background(), crawltypes.StatusRunning)
				case "addExclusion", "removeExclusion":
					// applied inside ProcessMessage already
				default:
					c.log.Warn().Str("command", msg.Command).Msg("unrecognized control command")
				}
			}
		}
	}()

	return done
}

// installSignalHandler implements step 8: first SIGINT/SIGTERM flips
// interrupted and cancels runCtx so workers finish their current page
// and stop; a second signal within 200ms, or any signal after SIGABRT
// was seen, forces status=canceled and returns immediately.
func (c *Coordinator) installSignalHandler(cancel context.CancelFunc) chan struct{} {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)
	done := make(chan struct{})

	go func() {
		var lastGraceful time.Time
		for {
			select {
			case <-done:
				signal.Stop(sigCh)
				return
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGABRT:
					c.abortArmed = true
					c.log.Warn().Msg("SIGABRT received, force-terminate armed")
				case syscall.SIGINT, syscall.SIGTERM:
					hard := c.abortArmed || (c.interrupted && time.Since(lastGraceful) < 200*time.Millisecond)
					if hard {
						c.log.Warn().Msg("interrupt after SIGABRT or second interrupt, forcing hard stop")
						_ = c.store.SetStatus(context.Background(), crawltypes.StatusCanceled)
						cancel()
						return
					} else if !c.interrupted {
						c.interrupted = true
						lastGraceful = time.Now()
						_ = c.store.SetStatus(context.Background(), crawltypes.StatusInterrupted)
						c.log.Warn().Msg("interrupt received, finishing current pages then stopping")
						cancel()
					}
				}
			}
		}
	}()

	return done
}

func (c *Coordinator) finalStatus(ctx context.Context) crawltypes.CrawlStatus {
	status, err := c.store.GetStatus(ctx)
	if err != nil {
		return crawltypes.StatusFailed
	}
	if status == crawltypes.StatusRunning {
		size, _ := c.store.QueueSize(ctx)
		pending, _ := c.store.NumPending(ctx)
		if size == 0 && pending == 0 {
			_ = c.store.SetStatus(ctx, crawltypes.StatusDoneAll)
			return crawltypes.StatusDoneAll
		}
	}
	return status
}

// exitCodeFor maps a final status to the process exit code table.
func (c *Coordinator) exitCodeFor(status crawltypes.CrawlStatus) ExitCode {
	switch status {
	case crawltypes.StatusDoneAll, crawltypes.StatusCanceled:
		return ExitNormal
	case crawltypes.StatusInterrupted:
		if c.windowCrashed {
			return ExitBrowserCrashOnIntr
		}
		return ExitInterrupted
	case crawltypes.StatusFailed, crawltypes.StatusFailing:
		if c.cfg.Failure.RestartsOnError {
			return ExitNormal
		}
		return ExitFatal
	default:
		return ExitCrawlError
	}
}
