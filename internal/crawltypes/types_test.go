package crawltypes

import "testing"

func TestDefaultLinkSelectors(t *testing.T) {
	sels := DefaultLinkSelectors()
	if len(sels) != 1 {
		t.Fatalf("expected exactly one default selector, got %d", len(sels))
	}
	if sels[0].CSSSelector != "a[href]" || !sels[0].IsAttribute {
		t.Errorf("unexpected default selector: %+v", sels[0])
	}
}

func TestLoadStateString(t *testing.T) {
	cases := map[LoadState]string{
		LoadNone:           "NONE",
		LoadContentLoaded:  "CONTENT_LOADED",
		LoadFullPageLoaded: "FULL_PAGE_LOADED",
		LoadExtractionDone: "EXTRACTION_DONE",
		LoadBehaviorsDone:  "BEHAVIORS_DONE",
		LoadState(99):      "UNKNOWN",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("LoadState(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestPageStateFinished(t *testing.T) {
	cases := []struct {
		state LoadState
		want  bool
	}{
		{LoadNone, false},
		{LoadContentLoaded, false},
		{LoadFullPageLoaded, true},
		{LoadExtractionDone, true},
		{LoadBehaviorsDone, true},
	}
	for _, c := range cases {
		p := &PageState{LoadState: c.state}
		if got := p.Finished(); got != c.want {
			t.Errorf("PageState{LoadState: %v}.Finished() = %v, want %v", c.state, got, c.want)
		}
	}
}
