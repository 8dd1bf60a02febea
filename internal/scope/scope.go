// Package scope implements the crawl core's ScopeEngine: the pure decision
// function that turns a candidate URL plus a seed's scope configuration
// into an accept/reject verdict, with an out-of-scope ("extra hop") escape
// hatch bounded per seed.
package scope

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/lexicondev/browsercrawl-core/internal/crawltypes"
)

// Verdict is the accepted outcome of isIncluded; a rejection is reported
// as an error instead of a zero Verdict so callers cannot mistake a
// rejected URL for an in-scope one.
type Verdict struct {
	URL   string
	IsOOS bool
}

// Engine derives and evaluates scope regexes for a single seed. It holds
// no crawl-wide state and is safe for concurrent use by any number of
// workers, since every derived regex is fixed at construction time.
type Engine struct {
	seed    crawltypes.Seed
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// New compiles the include/exclude regex sets for seed, deriving the
// include set from seed.ScopeType when seed.Include is empty.
func New(seed crawltypes.Seed) (*Engine, error) {
	include := seed.Include
	if len(include) == 0 && seed.ScopeType != crawltypes.ScopeCustom {
		derived, err := deriveInclude(seed)
		if err != nil {
			return nil, fmt.Errorf("scope: deriving include pattern for seed %d: %w", seed.ID, err)
		}
		include = []string{derived}
	}

	compiledInclude, err := compileAll(include)
	if err != nil {
		return nil, fmt.Errorf("scope: compiling include patterns for seed %d: %w", seed.ID, err)
	}
	compiledExclude, err := compileAll(seed.Exclude)
	if err != nil {
		return nil, fmt.Errorf("scope: compiling exclude patterns for seed %d: %w", seed.ID, err)
	}

	return &Engine{seed: seed, include: compiledInclude, exclude: compiledExclude}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(rewriteScheme(p))
		if err != nil {
			return nil, err
		}
		out[i] = re
	}
	return out, nil
}

// rewriteScheme forces the scheme portion of a derived pattern to match
// both http and https, so a seed crawled over https still accepts links
// its own pages emit as http (or vice versa).
func rewriteScheme(pattern string) string {
	pattern = strings.Replace(pattern, "^http://", "^https?://", 1)
	pattern = strings.Replace(pattern, "^https://", "^https?://", 1)
	return pattern
}

func deriveInclude(seed crawltypes.Seed) (string, error) {
	u, err := url.Parse(seed.URL)
	if err != nil {
		return "", err
	}
	origin := u.Scheme + "://" + u.Host

	switch seed.ScopeType {
	case crawltypes.ScopePage, "":
		return "^" + regexp.QuoteMeta(normalizeNoFragment(seed.URL)) + "$", nil
	case crawltypes.ScopePageSPA:
		return "^" + regexp.QuoteMeta(seed.URL) + "#.+", nil
	case crawltypes.ScopePrefix:
		dir := u.Path
		if idx := strings.LastIndex(dir, "/"); idx >= 0 {
			dir = dir[:idx+1]
		} else {
			dir = "/"
		}
		return "^" + regexp.QuoteMeta(origin+dir), nil
	case crawltypes.ScopeHost:
		return "^" + regexp.QuoteMeta(origin) + "/", nil
	case crawltypes.ScopeDomain:
		registered := registeredDomain(u.Hostname())
		return "^" + regexp.QuoteMeta(u.Scheme) + `://([^/]+\.)*` + regexp.QuoteMeta(registered) + "/", nil
	case crawltypes.ScopeAny:
		return ".*", nil
	default:
		return "", fmt.Errorf("unknown scope type %q", seed.ScopeType)
	}
}

// registeredDomain takes the last two labels of a hostname. It is a
// deliberately simple approximation (no public-suffix list), adequate
// for the "domain" scope's intent of matching subdomains of one site.
func registeredDomain(host string) string {
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

func normalizeNoFragment(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	return u.String()
}

// IsIncluded decides whether candidate is in scope for e.seed at the
// given depth/extraHops, returning the (possibly fragment-stripped) URL
// and whether accepting it consumed an out-of-scope hop. noOOS suppresses
// the extra-hop escape hatch entirely (used by sitemap ingestion).
func (e *Engine) IsIncluded(candidate string, depth, extraHops int, noOOS bool) (Verdict, error) {
	parsed, err := url.Parse(candidate)
	if err != nil {
		return Verdict{}, fmt.Errorf("scope: unparseable url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Verdict{}, fmt.Errorf("scope: unsupported scheme %q", parsed.Scheme)
	}

	if !e.seed.AllowHash {
		parsed.Fragment = ""
	}
	normalized := parsed.String()

	if seedNormalized := normalizeNoFragment(e.seed.URL); !e.seed.AllowHash && normalized == seedNormalized {
		return Verdict{URL: normalized, IsOOS: false}, nil
	}
	if normalized == e.seed.URL {
		return Verdict{URL: normalized, IsOOS: false}, nil
	}

	isOOS := false
	if e.withinMaxDepth(depth) && e.matchesAny(e.include, normalized) {
		isOOS = false
	} else {
		if noOOS || extraHops > e.seed.MaxExtraHops {
			return Verdict{}, fmt.Errorf("scope: %q out of scope for seed %d", normalized, e.seed.ID)
		}
		isOOS = true
	}

	if e.matchesAny(e.exclude, normalized) {
		return Verdict{}, fmt.Errorf("scope: %q excluded for seed %d", normalized, e.seed.ID)
	}

	return Verdict{URL: normalized, IsOOS: isOOS}, nil
}

func (e *Engine) withinMaxDepth(depth int) bool {
	if e.seed.MaxDepth < 0 {
		return true
	}
	return depth <= e.seed.MaxDepth
}

func (e *Engine) matchesAny(patterns []*regexp.Regexp, s string) bool {
	return lo.SomeBy(patterns, func(re *regexp.Regexp) bool { return re.MatchString(s) })
}

// IsAtMaxDepth reports whether no child of a page at (depth, extraHops)
// could ever be accepted, letting a worker skip link extraction outright.
func (e *Engine) IsAtMaxDepth(depth, extraHops int) bool {
	nextInScope := e.seed.MaxDepth < 0 || depth+1 <= e.seed.MaxDepth
	nextOOS := extraHops+1 <= e.seed.MaxExtraHops
	return !nextInScope && !nextOOS
}
