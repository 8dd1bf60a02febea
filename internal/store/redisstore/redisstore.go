// Package redisstore is the canonical CrawlStore backend, built on
// github.com/redis/go-redis/v9 with SETNX-with-deadline locks and Lua
// scripts where an operation must be atomic across more than one key.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/lexicondev/browsercrawl-core/internal/crawltypes"
	"github.com/lexicondev/browsercrawl-core/internal/store"
)

func matchPattern(pattern, s string) (bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(s), nil
}

// keyPrefix namespaces every key under one crawlId, following the usual
// workStateKeyPrefix convention.
func keyPrefix(crawlID string) string { return "crawl:" + crawlID + ":" }

type keys struct {
	prefix string
}

func newKeys(crawlID string) keys { return keys{prefix: keyPrefix(crawlID)} }

func (k keys) queueDepth(depth int) string { return k.prefix + "queue:" + strconv.Itoa(depth) }
func (k keys) seen() string                { return k.prefix + "seen" }
func (k keys) done() string                { return k.prefix + "done" }
func (k keys) failed() string              { return k.prefix + "failed" }
func (k keys) excluded() string            { return k.prefix + "excluded" }
func (k keys) inProgress() string          { return k.prefix + "inprogress" } // hash: url -> json(lock)
func (k keys) extraSeeds() string          { return k.prefix + "extraseeds" }
func (k keys) sitemapDone() string         { return k.prefix + "sitemapdone" } // set of seed ids
func (k keys) sitemapEmit() string         { return k.prefix + "sitemap:emit" }
func (k keys) sitemapQueue() string        { return k.prefix + "sitemap:queue" }
func (k keys) status() string              { return k.prefix + "status" }
func (k keys) limitHit() string            { return k.prefix + "limithit" }
func (k keys) reclaimCount() string        { return k.prefix + "reclaims" }
func (k keys) control() string             { return k.prefix + "control" } // list, LPUSH/BRPOP
func (k keys) exclusionPatterns() string   { return k.prefix + "exclusions" }

type lockRecord struct {
	WorkerID string          `json:"workerId"`
	Deadline int64           `json:"deadline"` // unix seconds
	Entry    json.RawMessage `json:"entry"`
}

// addToQueueScript checks the seen-set, checks/sets the sticky limit
// flag, then inserts atomically. KEYS: seen, limithit, queue:<depth>.
// ARGV: url, entryJSON, pageLimit.
var addToQueueScript = redis.NewScript(`
local seen = KEYS[1]
local limithit = KEYS[2]
local queue = KEYS[3]
local url = ARGV[1]
local entry = ARGV[2]
local pageLimit = tonumber(ARGV[3])

if redis.call("GET", limithit) == "1" then
  return "LIMIT_HIT"
end
if redis.call("SISMEMBER", seen, url) == 1 then
  return "DUPE_URL"
end
if pageLimit > 0 and redis.call("SCARD", seen) >= pageLimit then
  redis.call("SET", limithit, "1")
  return "LIMIT_HIT"
end

redis.call("RPUSH", queue, entry)
redis.call("SADD", seen, url)
return "ADDED"
`)

// nextFromQueueScript pops the head of the given depth queue and writes
// an in-progress lock for it, but only while the head is still the raw
// entry the caller peeked. KEYS: queue:<depth>, inprogress.
// ARGV: workerId, deadline(unix), the entry JSON with its pageId already
// set by the caller, and the peeked raw head.
var nextFromQueueScript = redis.NewScript(`
local queue = KEYS[1]
local inprogress = KEYS[2]
local workerId = ARGV[1]
local deadline = ARGV[2]
local entryWithPageID = ARGV[3]
local expected = ARGV[4]

if redis.call("LINDEX", queue, 0) ~= expected then
  return false
end
local raw = redis.call("LPOP", queue)

local lockRecord = cjson.encode({workerId = workerId, deadline = tonumber(deadline), entry = cjson.decode(entryWithPageID)})
redis.call("HSET", inprogress, cjson.decode(entryWithPageID)["url"], lockRecord)
return raw
`)

// Store implements store.CrawlStore against a single crawlId namespace.
type Store struct {
	rdb     *redis.Client
	crawlID string
	k       keys
}

// New wraps an existing *redis.Client; connection setup lives in
// cmd/crawlcore/main.go, not inside the store constructor.
func New(rdb *redis.Client, crawlID string) *Store {
	return &Store{rdb: rdb, crawlID: crawlID, k: newKeys(crawlID)}
}

func (s *Store) AddToQueue(ctx context.Context, entry crawltypes.QueueEntry, pageLimit int) (crawltypes.AddResult, error) {
	entry.EnqueuedAt = time.Now()
	payload, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("redisstore: marshal entry: %w", err)
	}

	res, err := addToQueueScript.Run(ctx, s.rdb,
		[]string{s.k.seen(), s.k.limitHit(), s.k.queueDepth(entry.Depth)},
		entry.URL, string(payload), pageLimit,
	).Text()
	if err != nil {
		return "", fmt.Errorf("redisstore: addToQueue: %w", err)
	}
	return crawltypes.AddResult(res), nil
}

func (s *Store) NextFromQueue(ctx context.Context, workerID string, lockFor int64) (crawltypes.QueueEntry, bool, error) {
	if err := s.reclaimStale(ctx); err != nil {
		log.Warn().Err(err).Str("crawlId", s.crawlID).Msg("reclaim pass failed, continuing")
	}

	depths, err := s.nonEmptyDepthsAscending(ctx)
	if err != nil {
		return crawltypes.QueueEntry{}, false, err
	}
	for _, depth := range depths {
		raw, err := s.rdb.LIndex(ctx, s.k.queueDepth(depth), 0).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return crawltypes.QueueEntry{}, false, fmt.Errorf("redisstore: peek queue: %w", err)
		}

		var entry crawltypes.QueueEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return crawltypes.QueueEntry{}, false, fmt.Errorf("redisstore: unmarshal entry: %w", err)
		}
		entry.PageID = fmt.Sprintf("%s-%d", workerID, time.Now().UnixNano())
		withPageID, err := json.Marshal(entry)
		if err != nil {
			return crawltypes.QueueEntry{}, false, err
		}

		deadline := time.Now().Add(time.Duration(lockFor) * time.Second).Unix()
		popped, err := nextFromQueueScript.Run(ctx, s.rdb,
			[]string{s.k.queueDepth(depth), s.k.inProgress()},
			workerID, deadline, string(withPageID), raw,
		).Result()
		if err != nil {
			return crawltypes.QueueEntry{}, false, fmt.Errorf("redisstore: nextFromQueue: %w", err)
		}
		if popped == nil || popped == false {
			continue // another worker raced us for the head; try next depth/retry
		}
		return entry, true, nil
	}
	return crawltypes.QueueEntry{}, false, nil
}

func (s *Store) nonEmptyDepthsAscending(ctx context.Context) ([]int, error) {
	// Depths are bounded (the scope engine caps maxDepth per seed);
	// scanning a small fixed range avoids maintaining a separate
	// sorted-set index.
	const maxProbeDepth = 64
	var depths []int
	for d := 0; d <= maxProbeDepth; d++ {
		n, err := s.rdb.LLen(ctx, s.k.queueDepth(d)).Result()
		if err != nil {
			return nil, fmt.Errorf("redisstore: LLen depth %d: %w", d, err)
		}
		if n > 0 {
			depths = append(depths, d)
		}
	}
	return depths, nil
}

// reclaimStale scans the in-progress hash for locks past their deadline
// and pushes them back onto their depth queue.
func (s *Store) reclaimStale(ctx context.Context) error {
	all, err := s.rdb.HGetAll(ctx, s.k.inProgress()).Result()
	if err != nil {
		return fmt.Errorf("redisstore: HGetAll inprogress: %w", err)
	}
	now := time.Now().Unix()
	for url, raw := range all {
		var rec lockRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		if rec.Deadline >= now {
			continue
		}
		var entry crawltypes.QueueEntry
		if err := json.Unmarshal(rec.Entry, &entry); err != nil {
			continue
		}
		pipe := s.rdb.TxPipeline()
		pipe.HDel(ctx, s.k.inProgress(), url)
		pipe.LPush(ctx, s.k.queueDepth(entry.Depth), rec.Entry)
		pipe.Incr(ctx, s.k.reclaimCount())
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redisstore: reclaim %s: %w", url, err)
		}
	}
	return nil
}

func (s *Store) MarkFinished(ctx context.Context, url string) error {
	return s.markTerminal(ctx, url, s.k.done())
}
func (s *Store) MarkFailed(ctx context.Context, url string) error {
	return s.markTerminal(ctx, url, s.k.failed())
}
func (s *Store) MarkExcluded(ctx context.Context, url string) error {
	return s.markTerminal(ctx, url, s.k.excluded())
}

// markTerminal removes url's in-progress lock and adds url to the given
// terminal set. A done/failed call that finds no lock (a stale owner's
// late call after its lock was reclaimed) is ignored; MarkExcluded
// records url either way, as memstore does. Lock ownership is not
// checked: once another worker has locked url again, a late call from
// the old owner ends that lock.
func (s *Store) markTerminal(ctx context.Context, url, terminalSet string) error {
	removed, err := s.rdb.HDel(ctx, s.k.inProgress(), url).Result()
	if err != nil {
		return fmt.Errorf("redisstore: markTerminal %s: %w", url, err)
	}
	if removed == 0 && terminalSet != s.k.excluded() {
		return nil
	}
	if err := s.rdb.SAdd(ctx, terminalSet, url).Err(); err != nil {
		return fmt.Errorf("redisstore: markTerminal %s: %w", url, err)
	}
	return nil
}

func (s *Store) ClearOwnPendingLocks(ctx context.Context, workerID string) (int, error) {
	all, err := s.rdb.HGetAll(ctx, s.k.inProgress()).Result()
	if err != nil {
		return 0, fmt.Errorf("redisstore: HGetAll inprogress: %w", err)
	}
	n := 0
	for url, raw := range all {
		var rec lockRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		if rec.WorkerID != workerID {
			continue
		}
		var entry crawltypes.QueueEntry
		if err := json.Unmarshal(rec.Entry, &entry); err != nil {
			continue
		}
		pipe := s.rdb.TxPipeline()
		pipe.HDel(ctx, s.k.inProgress(), url)
		pipe.LPush(ctx, s.k.queueDepth(entry.Depth), rec.Entry)
		if _, err := pipe.Exec(ctx); err != nil {
			return n, fmt.Errorf("redisstore: clear lock %s: %w", url, err)
		}
		n++
	}
	return n, nil
}

func (s *Store) AddExtraSeed(ctx context.Context, origSeedID int, respURL string, baseSeedCount int) (int, error) {
	newID, err := s.rdb.HLen(ctx, s.k.extraSeeds()).Result()
	if err != nil {
		return 0, fmt.Errorf("redisstore: HLen extraseeds: %w", err)
	}
	newSeedID := baseSeedCount + int(newID) // contiguous with the original seed table
	rec := crawltypes.ExtraSeedRecord{OrigSeedID: origSeedID, NewURL: respURL, NewSeedID: newSeedID}
	payload, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}
	if err := s.rdb.HSet(ctx, s.k.extraSeeds(), strconv.Itoa(newSeedID), payload).Err(); err != nil {
		return 0, fmt.Errorf("redisstore: HSet extraseeds: %w", err)
	}
	return newSeedID, nil
}

func (s *Store) GetExtraSeeds(ctx context.Context) ([]crawltypes.ExtraSeedRecord, error) {
	all, err := s.rdb.HGetAll(ctx, s.k.extraSeeds()).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: HGetAll extraseeds: %w", err)
	}
	out := make([]crawltypes.ExtraSeedRecord, 0, len(all))
	for _, raw := range all {
		var rec crawltypes.ExtraSeedRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) MarkSitemapDone(ctx context.Context, seedID int) error {
	return s.rdb.SAdd(ctx, s.k.sitemapDone(), seedID).Err()
}

func (s *Store) IsSitemapDone(ctx context.Context, seedID int) (bool, error) {
	return s.rdb.SIsMember(ctx, s.k.sitemapDone(), seedID).Result()
}

func (s *Store) RecordSitemapProgress(ctx context.Context, seedID int, emitted, queued int) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.k.sitemapEmit(), strconv.Itoa(seedID), emitted)
	pipe.HSet(ctx, s.k.sitemapQueue(), strconv.Itoa(seedID), queued)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) SetStatus(ctx context.Context, status crawltypes.CrawlStatus) error {
	return s.rdb.Set(ctx, s.k.status(), string(status), 0).Err()
}

func (s *Store) GetStatus(ctx context.Context) (crawltypes.CrawlStatus, error) {
	v, err := s.rdb.Get(ctx, s.k.status()).Result()
	if err == redis.Nil {
		return crawltypes.StatusRunning, nil
	}
	if err != nil {
		return "", fmt.Errorf("redisstore: GetStatus: %w", err)
	}
	return crawltypes.CrawlStatus(v), nil
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

func (s *Store) QueueSize(ctx context.Context) (int, error) {
	depths, err := s.nonEmptyDepthsAscending(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, d := range depths {
		n, err := s.rdb.LLen(ctx, s.k.queueDepth(d)).Result()
		if err != nil {
			return 0, err
		}
		total += int(n)
	}
	return total, nil
}

func (s *Store) NumPending(ctx context.Context) (int, error) {
	n, err := s.rdb.HLen(ctx, s.k.inProgress()).Result()
	return int(n), err
}

func (s *Store) NumDone(ctx context.Context) (int, error) {
	n, err := s.rdb.SCard(ctx, s.k.done()).Result()
	return int(n), err
}

func (s *Store) NumFailed(ctx context.Context) (int, error) {
	n, err := s.rdb.SCard(ctx, s.k.failed()).Result()
	return int(n), err
}

func (s *Store) GetPendingList(ctx context.Context) ([]crawltypes.QueueEntry, error) {
	all, err := s.rdb.HGetAll(ctx, s.k.inProgress()).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: HGetAll inprogress: %w", err)
	}
	out := make([]crawltypes.QueueEntry, 0, len(all))
	for _, raw := range all {
		var rec lockRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		var entry crawltypes.QueueEntry
		if err := json.Unmarshal(rec.Entry, &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Store) GetStats(ctx context.Context) (store.Stats, error) {
	stats := store.Stats{}
	var err error
	if stats.QueueSize, err = s.QueueSize(ctx); err != nil {
		return stats, err
	}
	if stats.NumPending, err = s.NumPending(ctx); err != nil {
		return stats, err
	}
	if stats.NumDone, err = s.NumDone(ctx); err != nil {
		return stats, err
	}
	if stats.NumFailed, err = s.NumFailed(ctx); err != nil {
		return stats, err
	}
	if n, err := s.rdb.SCard(ctx, s.k.excluded()).Result(); err == nil {
		stats.NumExcluded = int(n)
	}
	if n, err := s.rdb.Get(ctx, s.k.reclaimCount()).Int(); err == nil {
		stats.ReclaimCount = n
	}
	if stats.Status, err = s.GetStatus(ctx); err != nil {
		return stats, err
	}

	stats.SitemapEmitted = s.intHash(ctx, s.k.sitemapEmit())
	stats.SitemapQueued = s.intHash(ctx, s.k.sitemapQueue())
	stats.SitemapDone = map[int]bool{}
	if ids, err := s.rdb.SMembers(ctx, s.k.sitemapDone()).Result(); err == nil {
		for _, idStr := range ids {
			if id, err := strconv.Atoi(idStr); err == nil {
				stats.SitemapDone[id] = true
			}
		}
	}
	return stats, nil
}

func (s *Store) intHash(ctx context.Context, key string) map[int]int {
	out := map[int]int{}
	all, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return out
	}
	for k, v := range all {
		id, err1 := strconv.Atoi(k)
		n, err2 := strconv.Atoi(v)
		if err1 == nil && err2 == nil {
			out[id] = n
		}
	}
	return out
}

func (s *Store) Serialize(ctx context.Context) (crawltypes.StateBlob, error) {
	blob := crawltypes.StateBlob{CrawlID: s.crawlID, SavedAt: time.Now()}

	status, err := s.GetStatus(ctx)
	if err != nil {
		return blob, err
	}
	blob.Status = status

	depths, err := s.nonEmptyDepthsAscending(ctx)
	if err != nil {
		return blob, err
	}
	blob.QueueByDepth = map[int][]crawltypes.QueueEntry{}
	for _, d := range depths {
		raws, err := s.rdb.LRange(ctx, s.k.queueDepth(d), 0, -1).Result()
		if err != nil {
			return blob, err
		}
		entries := make([]crawltypes.QueueEntry, 0, len(raws))
		for _, raw := range raws {
			var e crawltypes.QueueEntry
			if json.Unmarshal([]byte(raw), &e) == nil {
				entries = append(entries, e)
			}
		}
		blob.QueueByDepth[d] = entries
	}

	blob.Seen, err = s.rdb.SMembers(ctx, s.k.seen()).Result()
	if err != nil {
		return blob, err
	}
	blob.Done, _ = s.rdb.SMembers(ctx, s.k.done()).Result()
	blob.Failed, _ = s.rdb.SMembers(ctx, s.k.failed()).Result()
	blob.Excluded, _ = s.rdb.SMembers(ctx, s.k.excluded()).Result()

	blob.InProgress = map[string]crawltypes.InProgressLock{}
	all, err := s.rdb.HGetAll(ctx, s.k.inProgress()).Result()
	if err != nil {
		return blob, err
	}
	for url, raw := range all {
		var rec lockRecord
		if json.Unmarshal([]byte(raw), &rec) == nil {
			blob.InProgress[url] = crawltypes.InProgressLock{
				WorkerID: rec.WorkerID,
				Deadline: time.Unix(rec.Deadline, 0),
			}
		}
	}

	blob.ExtraSeeds, err = s.GetExtraSeeds(ctx)
	if err != nil {
		return blob, err
	}

	blob.SitemapDone = map[int]bool{}
	if ids, err := s.rdb.SMembers(ctx, s.k.sitemapDone()).Result(); err == nil {
		for _, idStr := range ids {
			if id, err := strconv.Atoi(idStr); err == nil {
				blob.SitemapDone[id] = true
			}
		}
	}

	limitHit, _ := s.rdb.Get(ctx, s.k.limitHit()).Result()
	blob.LimitHit = limitHit == "1"
	blob.ReclaimCount, _ = s.rdb.Get(ctx, s.k.reclaimCount()).Int()

	return blob, nil
}

// Load restores state into Redis when resume is true; a fresh (non-resume)
// load writes nothing and leaves the queue empty, matching the
// coordinator's "seed enqueue happens next" step (§4.8).
func (s *Store) Load(ctx context.Context, blob crawltypes.StateBlob, resume bool) error {
	if !resume {
		return nil
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.k.status(), string(blob.Status), 0)
	for depth, entries := range blob.QueueByDepth {
		for _, e := range entries {
			payload, err := json.Marshal(e)
			if err != nil {
				return err
			}
			pipe.RPush(ctx, s.k.queueDepth(depth), payload)
		}
	}
	if len(blob.Seen) > 0 {
		pipe.SAdd(ctx, s.k.seen(), toAnySlice(blob.Seen)...)
	}
	if len(blob.Done) > 0 {
		pipe.SAdd(ctx, s.k.done(), toAnySlice(blob.Done)...)
	}
	if len(blob.Failed) > 0 {
		pipe.SAdd(ctx, s.k.failed(), toAnySlice(blob.Failed)...)
	}
	if len(blob.Excluded) > 0 {
		pipe.SAdd(ctx, s.k.excluded(), toAnySlice(blob.Excluded)...)
	}
	for url, l := range blob.InProgress {
		entry := findEntryForURL(blob, url)
		entryJSON, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		rec := lockRecord{WorkerID: l.WorkerID, Deadline: l.Deadline.Unix(), Entry: entryJSON}
		recJSON, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, s.k.inProgress(), url, recJSON)
	}
	for seedID, done := range blob.SitemapDone {
		if done {
			pipe.SAdd(ctx, s.k.sitemapDone(), seedID)
		}
	}
	if blob.LimitHit {
		pipe.Set(ctx, s.k.limitHit(), "1", 0)
	}
	if blob.ReclaimCount > 0 {
		pipe.Set(ctx, s.k.reclaimCount(), blob.ReclaimCount, 0)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redisstore: load: %w", err)
	}
	return nil
}

func findEntryForURL(blob crawltypes.StateBlob, url string) crawltypes.QueueEntry {
	for _, entries := range blob.QueueByDepth {
		for _, e := range entries {
			if e.URL == url {
				return e
			}
		}
	}
	return crawltypes.QueueEntry{URL: url}
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func (s *Store) ProcessMessage(ctx context.Context) (*store.ControlMessage, error) {
	raw, err := s.rdb.LPop(ctx, s.k.control()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: LPop control: %w", err)
	}
	var msg store.ControlMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("redisstore: unmarshal control message: %w", err)
	}

	switch msg.Command {
	case "addExclusion":
		if err := s.rdb.SAdd(ctx, s.k.exclusionPatterns(), msg.Pattern).Err(); err != nil {
			return &msg, err
		}
	case "removeExclusion":
		if err := s.rdb.SRem(ctx, s.k.exclusionPatterns(), msg.Pattern).Err(); err != nil {
			return &msg, err
		}
	}
	return &msg, nil
}

func (s *Store) PublishControl(ctx context.Context, msg store.ControlMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.rdb.RPush(ctx, s.k.control(), payload).Err()
}

// IsExcluded compiles the pattern set on every call. Exclusion sets are
// small and change rarely relative to link volume; a cached compiled
// list lives in the coordinator, which polls ProcessMessage anyway.
func (s *Store) IsExcluded(ctx context.Context, url string) (bool, error) {
	patterns, err := s.rdb.SMembers(ctx, s.k.exclusionPatterns()).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore: SMembers exclusions: %w", err)
	}
	for _, p := range patterns {
		matched, err := matchPattern(p, url)
		if err == nil && matched {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
