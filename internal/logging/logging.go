// Package logging sets up the crawl core's structured logger: zerolog
// writing NDJSON records through a rotating lumberjack file, filtered by
// a context allow/deny list that Root.For applies per context (the
// ContextFilterHook type satisfies zerolog.Hook but is not attached to
// the logger). Keeps the usual
// hook-based logging approach (elsewhere a similar hook persists events
// to Postgres) but repurposes the sink and the filtering criterion to
// match the crawl log's own record schema instead.
package logging

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options configures where and how the crawl log is written.
type Options struct {
	// Dir is <cwd>/collections/<collection>/logs.
	Dir string
	// Console mirrors output to stderr as well, for interactive runs.
	Console bool
	// AllowContexts, if non-empty, is the only set of "context" field
	// values that pass the hook. ExcludeContexts always wins over it.
	AllowContexts   []string
	ExcludeContexts []string
	Level           zerolog.Level
}

// ContextFilterHook decides which "context" values pass: one that is
// excluded, or, when an allow-list is configured, not present in it, is
// rejected. zerolog.Event does
// not expose already-added fields for inspection, so the context is
// threaded in separately by New's returned per-context loggers rather
// than sniffed back out of the event.
type ContextFilterHook struct {
	allow   map[string]bool
	exclude map[string]bool
}

func newContextFilterHook(allow, exclude []string) *ContextFilterHook {
	h := &ContextFilterHook{allow: toSet(allow), exclude: toSet(exclude)}
	return h
}

func toSet(ss []string) map[string]bool {
	if len(ss) == 0 {
		return nil
	}
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

// Allowed reports whether a record with the given context passes the
// configured filters. Exposed so New's per-context loggers can decide
// whether to bother formatting an event at all.
func (h *ContextFilterHook) Allowed(context string) bool {
	if h.exclude[context] {
		return false
	}
	if h.allow != nil && !h.allow[context] {
		return false
	}
	return true
}

// Run implements zerolog.Hook. Filtering by context can't happen here
// (the field isn't readable back off the event), so this hook only
// exists to satisfy the interface contract; the real filtering happens
// in Root.For.
func (h *ContextFilterHook) Run(_ *zerolog.Event, _ zerolog.Level, _ string) {}

// Root wraps the base zerolog.Logger plus the filter used to derive
// per-context child loggers.
type Root struct {
	base   zerolog.Logger
	filter *ContextFilterHook
	closer func() error
}

// New builds the root logger: an NDJSON writer over a rotating
// lumberjack file, optionally tee'd to stderr.
func New(opts Options) (*Root, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, err
	}

	lj := &lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, "crawl-"+time.Now().UTC().Format("20060102T150405Z")+".log"),
		MaxSize:    100, // megabytes
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
	}

	var writer zerolog.LevelWriter
	if opts.Console {
		writer = zerolog.MultiLevelWriter(lj, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		writer = zerolog.MultiLevelWriter(lj)
	}

	level := opts.Level
	if level == 0 {
		level = zerolog.InfoLevel
	}

	base := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	filter := newContextFilterHook(opts.AllowContexts, opts.ExcludeContexts)

	return &Root{base: base, filter: filter, closer: lj.Close}, nil
}

// For returns a child logger bound to context, or a fully disabled
// logger if the filter excludes that context, matching the
// logging/logContext/logExcludeContext configuration.
func (r *Root) For(context string) zerolog.Logger {
	l := r.base.With().Str("context", context).Logger()
	if !r.filter.Allowed(context) {
		return l.Level(zerolog.Disabled)
	}
	return l
}

func (r *Root) Close() error {
	if r.closer != nil {
		return r.closer()
	}
	return nil
}
