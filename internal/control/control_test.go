package control

import (
	"encoding/json"
	"testing"
)

func TestSubjectForIsScopedPerCrawl(t *testing.T) {
	a := subjectFor("crawl-1")
	b := subjectFor("crawl-2")
	if a == b {
		t.Fatalf("expected distinct subjects, got %q for both", a)
	}
	if a != "crawlcore.control.crawl-1" {
		t.Errorf("subjectFor(crawl-1) = %s", a)
	}
}

func TestWireMessageRoundTrip(t *testing.T) {
	original := wireMessage{Command: "addExclusion", Pattern: "^https://ads\\."}
	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded wireMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("got %+v, want %+v", decoded, original)
	}
}

func TestWireMessageOmitsEmptyPattern(t *testing.T) {
	raw, err := json.Marshal(wireMessage{Command: "cancel"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"command":"cancel"}` {
		t.Errorf("got %s, want pattern omitted", raw)
	}
}
