// Package crawltypes holds the data model shared by every crawl-core
// component: seeds, queue entries, page state, and the checkpoint blob.
// Seeds are built by internal/seedconfig (the initial seed table) and by
// the coordinator (extra seeds), and no component other than CrawlStore
// mutates persisted state directly.
package crawltypes

import (
	"time"

	"github.com/samber/mo"
)

// ScopeType selects how a seed's include regex is derived when the seed
// does not supply a custom list.
type ScopeType string

const (
	ScopePage    ScopeType = "page"
	ScopePageSPA ScopeType = "page-spa"
	ScopePrefix  ScopeType = "prefix"
	ScopeHost    ScopeType = "host"
	ScopeDomain  ScopeType = "domain"
	ScopeAny     ScopeType = "any"
	ScopeCustom  ScopeType = "custom"
)

// BasicAuth carries optional HTTP basic-auth credentials for a seed.
type BasicAuth struct {
	Username string
	Password string
}

// SitemapSpec configures sitemap ingestion for a seed. URL == "detect"
// means the ingester should probe /sitemap.xml before giving up.
type SitemapSpec struct {
	URL string
}

// Seed is the identity and scope configuration a crawl starts one or
// more branches from. Seeds are append-only and addressed by SeedID;
// no component ever hands out a reference to a live Seed value that
// could later change out from under it.
type Seed struct {
	ID           int
	URL          string
	ScopeType    ScopeType
	Include      []string
	Exclude      []string
	MaxDepth     int // -1 means unbounded
	MaxExtraHops int
	AllowHash    bool
	Auth         mo.Option[BasicAuth]
	Sitemap      mo.Option[SitemapSpec]
	SelectLinks  []LinkSelector
	FailOnFailed bool // failOnFailedSeed, only meaningful for depth-0 seeds
	IsExtra      bool
	OrigSeedID   int // valid when IsExtra
	CreatedAt    time.Time
}

// LinkSelector names one (cssSelector, attribute-or-property) pair the
// LinkExtractor evaluates in every eligible frame.
type LinkSelector struct {
	CSSSelector string
	Attribute   string
	IsAttribute bool // true: read via getAttribute; false: read a DOM property
}

// DefaultLinkSelectors is used when a seed supplies none.
func DefaultLinkSelectors() []LinkSelector {
	return []LinkSelector{{CSSSelector: "a[href]", Attribute: "href", IsAttribute: true}}
}

// QueueEntry is one unit of crawl work.
type QueueEntry struct {
	URL        string
	SeedID     int
	Depth      int
	ExtraHops  int
	EnqueuedAt time.Time
	PageID     string // set once a worker starts processing it
}

// LoadState is the ordered lifecycle a page moves through. Comparisons
// rely on the numeric ordering below; never reorder these constants.
type LoadState int

const (
	LoadNone LoadState = iota
	LoadContentLoaded
	LoadFullPageLoaded
	LoadExtractionDone
	LoadBehaviorsDone
)

func (s LoadState) String() string {
	switch s {
	case LoadNone:
		return "NONE"
	case LoadContentLoaded:
		return "CONTENT_LOADED"
	case LoadFullPageLoaded:
		return "FULL_PAGE_LOADED"
	case LoadExtractionDone:
		return "EXTRACTION_DONE"
	case LoadBehaviorsDone:
		return "BEHAVIORS_DONE"
	default:
		return "UNKNOWN"
	}
}

// PageOutcome is the terminal disposition PageDriver.navigate (and the
// worker loop around it) settles on for one page.
type PageOutcome string

const (
	OutcomeOK               PageOutcome = "ok"
	OutcomeDownloadDetected PageOutcome = "downloadDetected"
	OutcomeSlowPage         PageOutcome = "slowPage"
	OutcomeLoadFailed       PageOutcome = "loadFailed"
	OutcomeChromeError      PageOutcome = "chromeError"
	OutcomeHTTPError        PageOutcome = "httpError"
)

// NavResult is the tagged variant navigate() settles on, replacing the
// source's race between three promise listeners (see spec design notes).
type NavResult struct {
	Outcome    PageOutcome
	StatusCode int
	MimeType   string
	RespURL    string
	Err        error
}

// PageState is the transient record a worker carries from dequeue to
// finish; it is discarded at page end and never persisted.
type PageState struct {
	Entry           QueueEntry
	LoadState       LoadState
	Nav             NavResult
	MimeType        string
	IsHTMLPage      bool
	Title           string
	FilteredFrameID []string
	LogDetails      map[string]any
}

// Finished reports whether the page reached at least FULL_PAGE_LOADED,
// the bar for "finished successfully".
func (p *PageState) Finished() bool {
	return p.LoadState >= LoadFullPageLoaded
}

// CrawlStatus is the top-level lifecycle status stored in CrawlStore.
type CrawlStatus string

const (
	StatusRunning     CrawlStatus = "running"
	StatusDoneAll     CrawlStatus = "done"
	StatusFailing     CrawlStatus = "failing"
	StatusFailed      CrawlStatus = "failed"
	StatusCanceled    CrawlStatus = "canceled"
	StatusInterrupted CrawlStatus = "interrupted"
	StatusDebug       CrawlStatus = "debug"
)

// ExtraSeedRecord is one (origSeedId, newUrl) row in the persisted
// extra-seeds ledger; replaying the same redirect sequence must derive
// the same NewSeedID.
type ExtraSeedRecord struct {
	OrigSeedID int
	NewURL     string
	NewSeedID  int
}

// StateBlob is the full snapshot CrawlStore.serialize/load round-trips.
type StateBlob struct {
	CrawlID       string                    `yaml:"crawlId"`
	Status        CrawlStatus               `yaml:"status"`
	QueueByDepth  map[int][]QueueEntry      `yaml:"queueByDepth"`
	Seen          []string                  `yaml:"seen"`
	Done          []string                  `yaml:"done"`
	Failed        []string                  `yaml:"failed"`
	Excluded      []string                  `yaml:"excluded"`
	InProgress    map[string]InProgressLock `yaml:"inProgress"`
	ExtraSeeds    []ExtraSeedRecord         `yaml:"extraSeeds"`
	SitemapDone   map[int]bool              `yaml:"sitemapDone"` // keyed by seed id
	LimitHit      bool                      `yaml:"limitHit"`
	ReclaimCount  int                       `yaml:"reclaimCount"`
	SavedAt       time.Time                 `yaml:"savedAt"`
}

// InProgressLock records which worker owns a URL and until when.
type InProgressLock struct {
	WorkerID string    `yaml:"workerId"`
	Deadline time.Time `yaml:"deadline"`
}

// AddResult is the outcome of CrawlStore.addToQueue.
type AddResult string

const (
	Added     AddResult = "ADDED"
	DupeURL   AddResult = "DUPE_URL"
	LimitHit  AddResult = "LIMIT_HIT"
)


// Known log contexts, a closed set.
const (
	CtxWorker      = "worker"
	CtxState       = "state"
	CtxLinks       = "links"
	CtxBehavior    = "behavior"
	CtxSitemap     = "sitemap"
	CtxPageStatus  = "pageStatus"
	CtxCrawlStatus = "crawlStatus"
)
