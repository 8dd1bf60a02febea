// Package store defines the CrawlStore contract: a shared, durable
// key-value store keyed by crawlId offering atomic queue, lock, dedup and
// pub/sub semantics. Two backends implement it: redisstore (the
// canonical remote backend) and memstore (an in-process fake for tests).
package store

import (
	"context"
	"errors"

	"github.com/lexicondev/browsercrawl-core/internal/crawltypes"
)

var (
	// ErrNotFound names the "nothing stored for this crawlId" case,
	// distinct from a transport-level error. Neither backend in this
	// module returns it: GetExtraSeeds returns an empty list instead.
	ErrNotFound = errors.New("store: crawl not found")
)

// ControlMessage is one operator command delivered over the control
// channel that ProcessMessage polls.
type ControlMessage struct {
	Command string // addExclusion, removeExclusion, cancel, pause, resume, stop-gracefully
	Pattern string // argument for addExclusion/removeExclusion
}

// Stats is the aggregate counters exposed for operator/admin consumption.
// ReclaimCount and the sitemap progress fields are additional
// observability points beyond the base counters.
type Stats struct {
	QueueSize      int
	NumPending     int
	NumDone        int
	NumFailed      int
	NumExcluded    int
	ReclaimCount   int
	Status         crawltypes.CrawlStatus
	SitemapEmitted map[int]int  // seedId -> urlsEmitted
	SitemapQueued  map[int]int  // seedId -> urlsQueued
	SitemapDone    map[int]bool // seedId -> done
}

// CrawlStore is the full contract every backend implements. Every
// operation must be safe under concurrent callers across process
// boundaries (the canonical backend enforces this with Redis; memstore
// enforces it with a mutex for single-process tests).
type CrawlStore interface {
	// AddToQueue inserts entry if its URL is unseen and the page limit
	// (0 means unlimited) has not been reached. LIMIT_HIT is sticky:
	// once observed for this crawlId it is returned for every subsequent
	// call, even after entries are later removed from the queue.
	AddToQueue(ctx context.Context, entry crawltypes.QueueEntry, pageLimit int) (crawltypes.AddResult, error)

	// NextFromQueue atomically moves one entry from the lowest non-empty
	// depth bucket into an in-progress lock owned by workerID with the
	// given deadline. Returns ok=false when the queue is empty.
	NextFromQueue(ctx context.Context, workerID string, lockFor int64) (entry crawltypes.QueueEntry, ok bool, err error)

	MarkFinished(ctx context.Context, url string) error
	MarkFailed(ctx context.Context, url string) error
	MarkExcluded(ctx context.Context, url string) error

	// ClearOwnPendingLocks returns to the queue every entry locked under
	// workerID, called once per worker ID this host is about to reuse
	// before it starts claiming work.
	ClearOwnPendingLocks(ctx context.Context, workerID string) (int, error)

	// AddExtraSeed mints a new seed discovered mid-crawl via a depth-0
	// redirect. baseSeedCount is the size of the original seed table (the
	// first extra seed's id must equal baseSeedCount+0, contiguous with
	// the original seeds), and the caller passes it since only the
	// coordinator knows the original count.
	AddExtraSeed(ctx context.Context, origSeedID int, respURL string, baseSeedCount int) (newSeedID int, err error)
	GetExtraSeeds(ctx context.Context) ([]crawltypes.ExtraSeedRecord, error)

	MarkSitemapDone(ctx context.Context, seedID int) error
	IsSitemapDone(ctx context.Context, seedID int) (bool, error)
	// RecordSitemapProgress is an additional observability hook: tracks
	// emitted/queued counters per seed, which GetStats reports as
	// SitemapEmitted/SitemapQueued next to SitemapDone.
	RecordSitemapProgress(ctx context.Context, seedID int, emitted, queued int) error

	SetStatus(ctx context.Context, status crawltypes.CrawlStatus) error
	GetStatus(ctx context.Context) (crawltypes.CrawlStatus, error)
	IsCrawlCanceled(ctx context.Context) (bool, error)
	IsCrawlStopped(ctx context.Context) (bool, error)

	QueueSize(ctx context.Context) (int, error)
	NumPending(ctx context.Context) (int, error)
	NumDone(ctx context.Context) (int, error)
	NumFailed(ctx context.Context) (int, error)
	GetPendingList(ctx context.Context) ([]crawltypes.QueueEntry, error)
	GetStats(ctx context.Context) (Stats, error)

	Serialize(ctx context.Context) (crawltypes.StateBlob, error)
	Load(ctx context.Context, blob crawltypes.StateBlob, resume bool) error

	// ProcessMessage drains at most one pending control message, applying
	// addExclusion/removeExclusion to the exclusion pattern set it keeps,
	// and returning the message so the coordinator can act on
	// cancel/pause/resume/stop-gracefully.
	ProcessMessage(ctx context.Context) (*ControlMessage, error)
	// PublishControl is used by the operator-facing side (internal/control)
	// to enqueue a command for ProcessMessage to observe.
	PublishControl(ctx context.Context, msg ControlMessage) error

	// IsExcluded reports whether url matches a runtime exclusion pattern
	// added via processMessage's addExclusion command.
	IsExcluded(ctx context.Context, url string) (bool, error)

	Close() error
}
