package redisstore

import (
	"testing"

	"github.com/lexicondev/browsercrawl-core/internal/crawltypes"
)

func TestKeyPrefixNamespacesPerCrawl(t *testing.T) {
	if got := keyPrefix("abc"); got != "crawl:abc:" {
		t.Errorf("keyPrefix() = %q", got)
	}
}

func TestKeysDeriveFromPrefix(t *testing.T) {
	k := newKeys("c1")
	cases := map[string]string{
		k.queueDepth(2):     "crawl:c1:queue:2",
		k.seen():            "crawl:c1:seen",
		k.done():            "crawl:c1:done",
		k.failed():          "crawl:c1:failed",
		k.excluded():        "crawl:c1:excluded",
		k.inProgress():      "crawl:c1:inprogress",
		k.extraSeeds():      "crawl:c1:extraseeds",
		k.sitemapDone():     "crawl:c1:sitemapdone",
		k.status():          "crawl:c1:status",
		k.limitHit():        "crawl:c1:limithit",
		k.control():         "crawl:c1:control",
		k.exclusionPatterns(): "crawl:c1:exclusions",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

func TestMatchPattern(t *testing.T) {
	ok, err := matchPattern(`^https://example\.com/private/`, "https://example.com/private/x")
	if err != nil || !ok {
		t.Errorf("expected pattern to match, err=%v ok=%v", err, ok)
	}
	ok, err = matchPattern(`^https://example\.com/private/`, "https://example.com/public/x")
	if err != nil || ok {
		t.Errorf("expected pattern not to match, err=%v ok=%v", err, ok)
	}
	if _, err := matchPattern("(unclosed", "x"); err == nil {
		t.Error("expected an invalid regex to error")
	}
}

func TestToAnySlice(t *testing.T) {
	out := toAnySlice([]string{"a", "b"})
	if len(out) != 2 || out[0] != "a" || out[1] != "b" {
		t.Errorf("unexpected result: %v", out)
	}
}

func TestFindEntryForURL(t *testing.T) {
	blob := crawltypes.StateBlob{
		QueueByDepth: map[int][]crawltypes.QueueEntry{
			0: {{URL: "https://example.com/a"}},
			1: {{URL: "https://example.com/b", Depth: 1}},
		},
	}
	got := findEntryForURL(blob, "https://example.com/b")
	if got.Depth != 1 {
		t.Errorf("expected the matching entry, got %+v", got)
	}
	missing := findEntryForURL(blob, "https://example.com/missing")
	if missing.URL != "https://example.com/missing" {
		t.Errorf("expected a synthetic entry for an unknown URL, got %+v", missing)
	}
}
