// Package memstore is an in-process CrawlStore used by tests and by
// end-to-end scenarios that need to run without a live Redis. It
// implements the exact same locking/dedup/limit semantics as redisstore,
// just guarded by a mutex instead of Lua scripts.
package memstore

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lexicondev/browsercrawl-core/internal/crawltypes"
	"github.com/lexicondev/browsercrawl-core/internal/store"
)

type lock struct {
	workerID string
	deadline time.Time
	entry    crawltypes.QueueEntry
}

// Store is a mutex-guarded in-memory CrawlStore.
type Store struct {
	mu sync.Mutex

	queueByDepth map[int][]crawltypes.QueueEntry
	seen         map[string]bool
	done         map[string]bool
	failed       map[string]bool
	excluded     map[string]bool
	inProgress   map[string]lock

	extraSeeds   []crawltypes.ExtraSeedRecord
	sitemapDone  map[int]bool
	sitemapEmit  map[int]int
	sitemapQueue map[int]int

	status       crawltypes.CrawlStatus
	limitHit     bool
	reclaimCount int

	exclusionPatterns []*regexp.Regexp
	controlQueue      []store.ControlMessage
}

// New returns an empty Store with status "running".
func New() *Store {
	return &Store{
		queueByDepth: make(map[int][]crawltypes.QueueEntry),
		seen:         make(map[string]bool),
		done:         make(map[string]bool),
		failed:       make(map[string]bool),
		excluded:     make(map[string]bool),
		inProgress:   make(map[string]lock),
		sitemapDone:  make(map[int]bool),
		sitemapEmit:  make(map[int]int),
		sitemapQueue: make(map[int]int),
		status:       crawltypes.StatusRunning,
	}
}

func (s *Store) AddToQueue(_ context.Context, entry crawltypes.QueueEntry, pageLimit int) (crawltypes.AddResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limitHit {
		return crawltypes.LimitHit, nil
	}
	if s.seen[entry.URL] {
		return crawltypes.DupeURL, nil
	}
	if pageLimit > 0 && s.totalSeenLocked() >= pageLimit {
		s.limitHit = true
		return crawltypes.LimitHit, nil
	}

	entry.EnqueuedAt = time.Now()
	s.queueByDepth[entry.Depth] = append(s.queueByDepth[entry.Depth], entry)
	s.seen[entry.URL] = true
	return crawltypes.Added, nil
}

func (s *Store) totalSeenLocked() int {
	return len(s.seen)
}

func (s *Store) NextFromQueue(_ context.Context, workerID string, lockFor int64) (crawltypes.QueueEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reclaimStaleLocked()

	depths := make([]int, 0, len(s.queueByDepth))
	for d, bucket := range s.queueByDepth {
		if len(bucket) > 0 {
			depths = append(depths, d)
		}
	}
	if len(depths) == 0 {
		return crawltypes.QueueEntry{}, false, nil
	}
	sort.Ints(depths)
	lowest := depths[0]

	entry := s.queueByDepth[lowest][0]
	s.queueByDepth[lowest] = s.queueByDepth[lowest][1:]
	entry.PageID = uuid.NewString()

	s.inProgress[entry.URL] = lock{
		workerID: workerID,
		deadline: time.Now().Add(time.Duration(lockFor) * time.Second),
		entry:    entry,
	}
	return entry, true, nil
}

// reclaimStaleLocked returns any in-progress lock past its deadline to
// its original depth bucket. Caller must hold s.mu.
func (s *Store) reclaimStaleLocked() {
	now := time.Now()
	for url, l := range s.inProgress {
		if now.After(l.deadline) {
			delete(s.inProgress, url)
			s.queueByDepth[l.entry.Depth] = append([]crawltypes.QueueEntry{l.entry}, s.queueByDepth[l.entry.Depth]...)
			s.reclaimCount++
		}
	}
}

func (s *Store) MarkFinished(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inProgress[url]; !ok {
		return nil // stale owner's late call, ignored
	}
	delete(s.inProgress, url)
	s.done[url] = true
	return nil
}

func (s *Store) MarkFailed(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inProgress[url]; !ok {
		return nil
	}
	delete(s.inProgress, url)
	s.failed[url] = true
	return nil
}

func (s *Store) MarkExcluded(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inProgress, url)
	s.excluded[url] = true
	return nil
}

func (s *Store) ClearOwnPendingLocks(_ context.Context, workerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for url, l := range s.inProgress {
		if l.workerID == workerID {
			delete(s.inProgress, url)
			s.queueByDepth[l.entry.Depth] = append([]crawltypes.QueueEntry{l.entry}, s.queueByDepth[l.entry.Depth]...)
			n++
		}
	}
	return n, nil
}

func (s *Store) AddExtraSeed(_ context.Context, origSeedID int, respURL string, baseSeedCount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	newID := baseSeedCount + len(s.extraSeeds) // contiguous with the original seed table, deterministic given a stable replay order
	s.extraSeeds = append(s.extraSeeds, crawltypes.ExtraSeedRecord{
		OrigSeedID: origSeedID,
		NewURL:     respURL,
		NewSeedID:  newID,
	})
	return newID, nil
}

func (s *Store) GetExtraSeeds(_ context.Context) ([]crawltypes.ExtraSeedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]crawltypes.ExtraSeedRecord, len(s.extraSeeds))
	copy(out, s.extraSeeds)
	return out, nil
}

func (s *Store) MarkSitemapDone(_ context.Context, seedID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sitemapDone[seedID] = true
	return nil
}

func (s *Store) IsSitemapDone(_ context.Context, seedID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sitemapDone[seedID], nil
}

func (s *Store) RecordSitemapProgress(_ context.Context, seedID int, emitted, queued int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sitemapEmit[seedID] = emitted
	s.sitemapQueue[seedID] = queued
	return nil
}

func (s *Store) SetStatus(_ context.Context, status crawltypes.CrawlStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	return nil
}

func (s *Store) GetStatus(_ context.Context) (crawltypes.CrawlStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, nil
}

func (s *Store) IsCrawlCanceled(ctx context.Context) (bool, error) {
	status, err := s.GetStatus(ctx)
	return status == crawltypes.StatusCanceled, err
}

func (s *Store) IsCrawlStopped(ctx context.Context) (bool, error) {
	status, err := s.GetStatus(ctx)
	if err != nil {
		return false, err
	}
	switch status {
	case crawltypes.StatusDoneAll, crawltypes.StatusFailed, crawltypes.StatusCanceled, crawltypes.StatusInterrupted:
		return true, nil
	default:
		return false, nil
	}
}

func (s *Store) QueueSize(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, bucket := range s.queueByDepth {
		n += len(bucket)
	}
	return n, nil
}

func (s *Store) NumPending(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inProgress), nil
}

func (s *Store) NumDone(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.done), nil
}

func (s *Store) NumFailed(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failed), nil
}

func (s *Store) GetPendingList(_ context.Context) ([]crawltypes.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]crawltypes.QueueEntry, 0, len(s.inProgress))
	for _, l := range s.inProgress {
		out = append(out, l.entry)
	}
	return out, nil
}

func (s *Store) GetStats(_ context.Context) (store.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queueSize := 0
	for _, bucket := range s.queueByDepth {
		queueSize += len(bucket)
	}
	return store.Stats{
		QueueSize:      queueSize,
		NumPending:     len(s.inProgress),
		NumDone:        len(s.done),
		NumFailed:      len(s.failed),
		NumExcluded:    len(s.excluded),
		ReclaimCount:   s.reclaimCount,
		Status:         s.status,
		SitemapEmitted: cloneIntMap(s.sitemapEmit),
		SitemapQueued:  cloneIntMap(s.sitemapQueue),
		SitemapDone:    cloneBoolMap(s.sitemapDone),
	}, nil
}

func cloneIntMap(m map[int]int) map[int]int {
	out := make(map[int]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneBoolMap(m map[int]bool) map[int]bool {
	out := make(map[int]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Store) Serialize(_ context.Context) (crawltypes.StateBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queueByDepth := make(map[int][]crawltypes.QueueEntry, len(s.queueByDepth))
	for d, bucket := range s.queueByDepth {
		copied := make([]crawltypes.QueueEntry, len(bucket))
		copy(copied, bucket)
		queueByDepth[d] = copied
	}
	inProgress := make(map[string]crawltypes.InProgressLock, len(s.inProgress))
	for url, l := range s.inProgress {
		inProgress[url] = crawltypes.InProgressLock{WorkerID: l.workerID, Deadline: l.deadline}
	}

	return crawltypes.StateBlob{
		Status:       s.status,
		QueueByDepth: queueByDepth,
		Seen:         keys(s.seen),
		Done:         keys(s.done),
		Failed:       keys(s.failed),
		Excluded:     keys(s.excluded),
		InProgress:   inProgress,
		ExtraSeeds:   append([]crawltypes.ExtraSeedRecord{}, s.extraSeeds...),
		SitemapDone:  cloneBoolMap(s.sitemapDone),
		LimitHit:     s.limitHit,
		ReclaimCount: s.reclaimCount,
		SavedAt:      time.Now(),
	}, nil
}

func (s *Store) Load(_ context.Context, blob crawltypes.StateBlob, resume bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !resume {
		return nil
	}

	s.status = blob.Status
	s.queueByDepth = make(map[int][]crawltypes.QueueEntry, len(blob.QueueByDepth))
	for d, bucket := range blob.QueueByDepth {
		copied := make([]crawltypes.QueueEntry, len(bucket))
		copy(copied, bucket)
		s.queueByDepth[d] = copied
	}
	s.seen = toSet(blob.Seen)
	s.done = toSet(blob.Done)
	s.failed = toSet(blob.Failed)
	s.excluded = toSet(blob.Excluded)
	s.inProgress = make(map[string]lock, len(blob.InProgress))
	for url, l := range blob.InProgress {
		s.inProgress[url] = lock{workerID: l.WorkerID, deadline: l.Deadline}
	}
	s.extraSeeds = append([]crawltypes.ExtraSeedRecord{}, blob.ExtraSeeds...)
	s.sitemapDone = cloneBoolMap(blob.SitemapDone)
	s.limitHit = blob.LimitHit
	s.reclaimCount = blob.ReclaimCount
	return nil
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func toSet(keys []string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

func (s *Store) ProcessMessage(_ context.Context) (*store.ControlMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.controlQueue) == 0 {
		return nil, nil
	}
	msg := s.controlQueue[0]
	s.controlQueue = s.controlQueue[1:]

	switch msg.Command {
	case "addExclusion":
		if re, err := regexp.Compile(msg.Pattern); err == nil {
			s.exclusionPatterns = append(s.exclusionPatterns, re)
		}
	case "removeExclusion":
		filtered := s.exclusionPatterns[:0]
		for _, re := range s.exclusionPatterns {
			if re.String() != msg.Pattern {
				filtered = append(filtered, re)
			}
		}
		s.exclusionPatterns = filtered
	}
	return &msg, nil
}

func (s *Store) PublishControl(_ context.Context, msg store.ControlMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controlQueue = append(s.controlQueue, msg)
	return nil
}

func (s *Store) IsExcluded(_ context.Context, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, re := range s.exclusionPatterns {
		if re.MatchString(url) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) Close() error { return nil }
