package scope

import (
	"testing"

	"github.com/lexicondev/browsercrawl-core/internal/crawltypes"
)

func mustEngine(t *testing.T, seed crawltypes.Seed) *Engine {
	t.Helper()
	e, err := New(seed)
	if err != nil {
		t.Fatalf("New(%+v): %v", seed, err)
	}
	return e
}

func TestIsIncludedPrefixScope(t *testing.T) {
	seed := crawltypes.Seed{ID: 1, URL: "https://example.com/docs/index.html", ScopeType: crawltypes.ScopePrefix, MaxDepth: -1}
	e := mustEngine(t, seed)

	v, err := e.IsIncluded("https://example.com/docs/page2.html", 1, 0, false)
	if err != nil {
		t.Fatalf("expected in-scope, got error: %v", err)
	}
	if v.IsOOS {
		t.Error("expected non-OOS verdict for a prefix match")
	}

	if _, err := e.IsIncluded("https://example.com/other/page.html", 1, 1, false); err == nil {
		t.Error("expected out-of-prefix URL to be rejected")
	}
}

func TestIsIncludedHostScope(t *testing.T) {
	seed := crawltypes.Seed{ID: 1, URL: "https://example.com/", ScopeType: crawltypes.ScopeHost, MaxDepth: -1}
	e := mustEngine(t, seed)

	if _, err := e.IsIncluded("https://example.com/anything/deep/path", 3, 0, false); err != nil {
		t.Errorf("expected any path on the same host to be in scope: %v", err)
	}
	if _, err := e.IsIncluded("https://other.com/", 1, 1, false); err == nil {
		t.Error("expected a different host to be rejected")
	}
}

func TestIsIncludedDomainScopeAllowsSubdomains(t *testing.T) {
	seed := crawltypes.Seed{ID: 1, URL: "https://www.example.com/", ScopeType: crawltypes.ScopeDomain, MaxDepth: -1}
	e := mustEngine(t, seed)

	if _, err := e.IsIncluded("https://blog.example.com/post", 1, 0, false); err != nil {
		t.Errorf("expected subdomain to be in scope: %v", err)
	}
	if _, err := e.IsIncluded("https://example.org/", 1, 1, false); err == nil {
		t.Error("expected a different registered domain to be rejected")
	}
}

func TestIsIncludedPageScopeMatchesOnlySelf(t *testing.T) {
	seed := crawltypes.Seed{ID: 1, URL: "https://example.com/one", ScopeType: crawltypes.ScopePage, MaxDepth: -1}
	e := mustEngine(t, seed)

	if _, err := e.IsIncluded("https://example.com/one", 0, 0, false); err != nil {
		t.Errorf("seed URL itself should always be in scope: %v", err)
	}
	if _, err := e.IsIncluded("https://example.com/two", 1, 1, false); err == nil {
		t.Error("expected a distinct page under page scope to be rejected")
	}
}

func TestIsIncludedAnyScope(t *testing.T) {
	seed := crawltypes.Seed{ID: 1, URL: "https://example.com/", ScopeType: crawltypes.ScopeAny, MaxDepth: -1}
	e := mustEngine(t, seed)
	if _, err := e.IsIncluded("https://totally-unrelated.example.org/x", 5, 0, false); err != nil {
		t.Errorf("any scope should accept every http(s) URL: %v", err)
	}
}

func TestIsIncludedRejectsNonHTTPScheme(t *testing.T) {
	seed := crawltypes.Seed{ID: 1, URL: "https://example.com/", ScopeType: crawltypes.ScopeAny, MaxDepth: -1}
	e := mustEngine(t, seed)
	if _, err := e.IsIncluded("mailto:someone@example.com", 1, 0, false); err == nil {
		t.Error("expected non-http(s) scheme to be rejected")
	}
}

func TestIsIncludedOutOfScopeConsumesExtraHop(t *testing.T) {
	seed := crawltypes.Seed{ID: 1, URL: "https://example.com/docs/index.html", ScopeType: crawltypes.ScopePrefix, MaxDepth: -1, MaxExtraHops: 1}
	e := mustEngine(t, seed)

	v, err := e.IsIncluded("https://other.com/page", 1, 0, false)
	if err != nil {
		t.Fatalf("expected out-of-scope hop within budget to be accepted: %v", err)
	}
	if !v.IsOOS {
		t.Error("expected verdict to be marked out-of-scope")
	}

	if _, err := e.IsIncluded("https://other.com/page2", 1, 2, false); err == nil {
		t.Error("expected out-of-scope hop beyond MaxExtraHops to be rejected")
	}
}

func TestIsIncludedNoOOSSuppressesEscapeHatch(t *testing.T) {
	seed := crawltypes.Seed{ID: 1, URL: "https://example.com/docs/index.html", ScopeType: crawltypes.ScopePrefix, MaxDepth: -1, MaxExtraHops: 5}
	e := mustEngine(t, seed)
	if _, err := e.IsIncluded("https://other.com/page", 1, 0, true); err == nil {
		t.Error("expected noOOS=true to reject an out-of-scope URL regardless of budget")
	}
}

func TestIsIncludedExcludeOverridesInclude(t *testing.T) {
	seed := crawltypes.Seed{
		ID: 1, URL: "https://example.com/", ScopeType: crawltypes.ScopeHost, MaxDepth: -1,
		Exclude: []string{`^https?://example\.com/private/`},
	}
	e := mustEngine(t, seed)
	if _, err := e.IsIncluded("https://example.com/private/secret", 1, 0, false); err == nil {
		t.Error("expected excluded path to be rejected even though it matches include")
	}
}

func TestIsIncludedRespectsMaxDepth(t *testing.T) {
	seed := crawltypes.Seed{ID: 1, URL: "https://example.com/", ScopeType: crawltypes.ScopeHost, MaxDepth: 2}
	e := mustEngine(t, seed)
	if _, err := e.IsIncluded("https://example.com/deep", 2, 0, false); err != nil {
		t.Errorf("depth within MaxDepth should be accepted: %v", err)
	}
	if _, err := e.IsIncluded("https://example.com/deeper", 3, 1, false); err == nil {
		t.Error("expected depth beyond MaxDepth to be rejected (no OOS budget configured)")
	}
}

func TestIsAtMaxDepth(t *testing.T) {
	seed := crawltypes.Seed{ID: 1, URL: "https://example.com/", ScopeType: crawltypes.ScopeHost, MaxDepth: 2, MaxExtraHops: 0}
	e := mustEngine(t, seed)
	if e.IsAtMaxDepth(1, 0) {
		t.Error("depth 1 with MaxDepth 2 should not be at max depth")
	}
	if !e.IsAtMaxDepth(2, 0) {
		t.Error("depth 2 with MaxDepth 2 and no extra-hop budget should be at max depth")
	}
}

func TestIsAtMaxDepthUnbounded(t *testing.T) {
	seed := crawltypes.Seed{ID: 1, URL: "https://example.com/", ScopeType: crawltypes.ScopeHost, MaxDepth: -1}
	e := mustEngine(t, seed)
	if e.IsAtMaxDepth(1000, 0) {
		t.Error("unbounded MaxDepth should never report max depth reached")
	}
}

func TestNewRejectsUnknownScopeType(t *testing.T) {
	seed := crawltypes.Seed{ID: 1, URL: "https://example.com/", ScopeType: "bogus"}
	if _, err := New(seed); err == nil {
		t.Error("expected an unknown scope type to fail compilation")
	}
}

func TestNewCustomScopeUsesProvidedIncludePatterns(t *testing.T) {
	seed := crawltypes.Seed{
		ID: 1, URL: "https://example.com/", ScopeType: crawltypes.ScopeCustom, MaxDepth: -1,
		Include: []string{`^https?://example\.com/allowed/`},
	}
	e := mustEngine(t, seed)
	if _, err := e.IsIncluded("https://example.com/allowed/x", 1, 0, false); err != nil {
		t.Errorf("expected custom include pattern to match: %v", err)
	}
	if _, err := e.IsIncluded("https://example.com/blocked/x", 1, 1, false); err == nil {
		t.Error("expected path outside custom include pattern to be rejected")
	}
}

func TestIsIncludedHashHandling(t *testing.T) {
	seed := crawltypes.Seed{ID: 1, URL: "https://example.com/spa#/home", ScopeType: crawltypes.ScopePageSPA, MaxDepth: -1, AllowHash: true}
	e := mustEngine(t, seed)
	v, err := e.IsIncluded("https://example.com/spa#/about", 1, 0, false)
	if err != nil {
		t.Fatalf("expected SPA hash route to be in scope: %v", err)
	}
	if v.URL != "https://example.com/spa#/about" {
		t.Errorf("expected fragment preserved with AllowHash, got %q", v.URL)
	}
}
