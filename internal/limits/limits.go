// Package limits implements the checks CrawlCoordinator runs after every
// page finish: archive size, wall-clock time, filesystem utilization, and
// failed-page count. Built on gopsutil, generalized from a memory/CPU
// tab-budget style of check to a disk-utilization percentage check.
package limits

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/lexicondev/browsercrawl-core/internal/config"
)

// Kind names which configured limit tripped, used for the fatal-vs-warn
// decision in the coordinator and for log records.
type Kind string

const (
	KindSize     Kind = "sizeLimit"
	KindTime     Kind = "timeLimit"
	KindDisk     Kind = "diskUtilization"
	KindFailed   Kind = "failOnFailedLimit"
	KindMaxPages Kind = "maxPageLimit"
)

// Breach is returned by Check when a configured limit has been reached.
type Breach struct {
	Kind    Kind
	Detail  string
	Fatal   bool // failOnFailedLimit and maxPageLimit are fatal; the rest initiate graceful finish
}

func (b Breach) Error() string { return fmt.Sprintf("limits: %s breached: %s", b.Kind, b.Detail) }

// Checker evaluates the configured limits against live counters.
type Checker struct {
	cfg config.LimitsConfig
	cwd string
}

// Snapshot is the set of live counters Check needs; the coordinator
// gathers these from CrawlStore.GetStats and the archive store.
type Snapshot struct {
	ArchiveBytes int64
	ElapsedSecs  int64
	FailedCount  int
	PageLimit    int
	TotalTracked int // queued + inProgress + done + failed + excluded
}

func NewChecker(cfg config.LimitsConfig, cwd string) *Checker {
	return &Checker{cfg: cfg, cwd: cwd}
}

// Check evaluates every configured limit against snap, returning the
// first breach found.
func (c *Checker) Check(ctx context.Context, snap Snapshot) (*Breach, error) {
	if c.cfg.SizeLimitBytes > 0 && snap.ArchiveBytes >= c.cfg.SizeLimitBytes {
		return &Breach{Kind: KindSize, Detail: fmt.Sprintf("%d/%d bytes", snap.ArchiveBytes, c.cfg.SizeLimitBytes)}, nil
	}
	if c.cfg.TimeLimitSecs > 0 && snap.ElapsedSecs >= int64(c.cfg.TimeLimitSecs) {
		return &Breach{Kind: KindTime, Detail: fmt.Sprintf("%ds/%ds", snap.ElapsedSecs, c.cfg.TimeLimitSecs)}, nil
	}
	if c.cfg.DiskUtilizationPc > 0 {
		usage, err := disk.UsageWithContext(ctx, c.cwd)
		if err != nil {
			return nil, fmt.Errorf("limits: disk usage: %w", err)
		}
		pct := int(usage.UsedPercent)
		if pct >= c.cfg.DiskUtilizationPc {
			return &Breach{Kind: KindDisk, Detail: fmt.Sprintf("%d%%/%d%%", pct, c.cfg.DiskUtilizationPc)}, nil
		}
	}
	if c.cfg.FailOnFailedLimit > 0 && snap.FailedCount >= c.cfg.FailOnFailedLimit {
		return &Breach{Kind: KindFailed, Detail: fmt.Sprintf("%d/%d failed", snap.FailedCount, c.cfg.FailOnFailedLimit), Fatal: true}, nil
	}
	if c.cfg.MaxPageLimit > 0 && snap.PageLimit > c.cfg.MaxPageLimit {
		return &Breach{Kind: KindMaxPages, Detail: fmt.Sprintf("pageLimit %d exceeds maxPageLimit %d", snap.PageLimit, c.cfg.MaxPageLimit), Fatal: true}, nil
	}
	return nil, nil
}
