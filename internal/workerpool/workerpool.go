// Package workerpool spawns the configured count of PageWorkers, IDs offset
// by this host's ordinal in a stateful replica set, waits for all of them to
// exit, then closes the shared browser. Built on internal/pool, the same
// generic substrate the sitemap ingester's fan-out uses, with a negative
// task timeout since a PageWorker's Run loop is long-lived and cancels only
// via context.
package workerpool

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/lexicondev/browsercrawl-core/internal/archive"
	"github.com/lexicondev/browsercrawl-core/internal/browser"
	"github.com/lexicondev/browsercrawl-core/internal/config"
	"github.com/lexicondev/browsercrawl-core/internal/pool"
	"github.com/lexicondev/browsercrawl-core/internal/store"
	"github.com/lexicondev/browsercrawl-core/internal/worker"
)

var ordinalSuffix = regexp.MustCompile(`-(\d+)$`)

// OffsetFromHostname derives the worker-ID offset from a StatefulSet-style
// hostname (e.g. "crawl-core-3"): the trailing "-N" times the configured
// worker count per pod gives a stable, non-overlapping ID range across
// replicas sharing one crawlId.
func OffsetFromHostname(hostname string, workersPerPod int) int {
	m := ordinalSuffix.FindStringSubmatch(hostname)
	if m == nil {
		return 0
	}
	ordinal, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return ordinal * workersPerPod
}

// Pool runs Config.Workers.Count PageWorkers with IDs [offset, offset+N).
type Pool struct {
	browser *browser.Browser
	inner   *pool.Pool[struct{}]
	log     zerolog.Logger
}

// Config bundles what the pool needs to construct and run its workers.
type Config struct {
	Crawl       config.Config
	Store       store.CrawlStore
	Archive     *archive.Store
	Lookup      worker.SeedLookup
	OnExtraSeed worker.ExtraSeedHook
	OnFinish    worker.FinishHook
	Logger      zerolog.Logger
}

// Run launches the browser and the configured worker count, blocking
// until every worker's loop exits (queue drained or crawl stopped), then
// closes the browser.
func Run(ctx context.Context, cfg Config) error {
	br, err := browser.Launch(cfg.Crawl.Workers, cfg.Logger)
	if err != nil {
		return fmt.Errorf("workerpool: launching browser: %w", err)
	}
	defer br.Close()

	hostname, _ := os.Hostname()
	offset := OffsetFromHostname(hostname, cfg.Crawl.Workers.Count)

	numWorkers := cfg.Crawl.Workers.Count
	if numWorkers < 1 {
		numWorkers = 1
	}

	p, err := pool.New[struct{}](pool.Config{
		NumWorkers:      numWorkers,
		TaskChannelSize: numWorkers,
		ShutdownTimeout: cfg.Crawl.Timing.PerPageDeadline(),
		Logger:          cfg.Logger,
	})
	if err != nil {
		return fmt.Errorf("workerpool: building pool: %w", err)
	}
	p.Start(ctx, "workerpool")

	for i := 0; i < numWorkers; i++ {
		id := offset + i
		w := worker.New(worker.Config{
			ID:       id,
			Browser:  br,
			Store:       cfg.Store,
			Archive:     cfg.Archive,
			Lookup:      cfg.Lookup,
			OnExtraSeed: cfg.OnExtraSeed,
			Crawl:       cfg.Crawl,
			Logger:      cfg.Logger.With().Int("worker", id).Logger(),
			OnFinish:    cfg.OnFinish,
		})
		task := pool.NewTask("", func(taskCtx context.Context) (struct{}, error) {
			return struct{}{}, w.Run(taskCtx)
		}, pool.WithID[struct{}](fmt.Sprintf("pageworker-%d", id)), pool.WithTimeout[struct{}](-1))
		if err := p.AddTask(ctx, task); err != nil {
			return fmt.Errorf("workerpool: scheduling worker %d: %w", id, err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		exited := 0
		for res := range p.Results() {
			if !res.IsSuccess() {
				cfg.Logger.Error().Err(res.Error).Str("taskId", res.TaskID).Msg("page worker exited with error")
			}
			exited++
			if exited >= numWorkers {
				return
			}
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	p.Stop()
	return nil
}
