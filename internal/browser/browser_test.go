package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/go-rod/rod/lib/proto"
)

func TestIsAllowedResourceType(t *testing.T) {
	allowed := []proto.NetworkResourceType{
		proto.NetworkResourceTypeDocument,
		proto.NetworkResourceTypeScript,
		proto.NetworkResourceTypeStylesheet,
		proto.NetworkResourceTypeImage,
	}
	for _, rt := range allowed {
		if !isAllowedResourceType(rt) {
			t.Errorf("expected %v to be allowed", rt)
		}
	}
	if isAllowedResourceType(proto.NetworkResourceTypeMedia) {
		t.Error("expected media resource type to be disallowed")
	}
}

func TestLooksLikeAd(t *testing.T) {
	cases := map[string]bool{
		"https://doubleclick.net/x":     true,
		"https://example.com/ads/thing": true,
		"https://adservice.google.com":  true,
		"https://example.com/content":   false,
	}
	for url, want := range cases {
		if got := looksLikeAd(url); got != want {
			t.Errorf("looksLikeAd(%q) = %v, want %v", url, got, want)
		}
	}
}

func TestIsDownloadAbort(t *testing.T) {
	if !isDownloadAbort(errors.New("net::ERR_ABORTED")) {
		t.Error("expected ERR_ABORTED to be detected as a download abort")
	}
	if isDownloadAbort(errors.New("net::ERR_CONNECTION_RESET")) {
		t.Error("expected an unrelated network error not to be treated as a download abort")
	}
}

func TestBasicAuthHeader(t *testing.T) {
	got := basicAuthHeader("alice", "secret")
	if got != "Basic YWxpY2U6c2VjcmV0" {
		t.Errorf("basicAuthHeader() = %q", got)
	}
}

func TestOriginOf(t *testing.T) {
	cases := map[string]string{
		"https://example.com/a/b?x=1": "https://example.com",
		"https://example.com":         "https://example.com",
		"not-a-url":                   "not-a-url",
	}
	for in, want := range cases {
		if got := originOf(in); got != want {
			t.Errorf("originOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSameOriginURL(t *testing.T) {
	if !sameOriginURL("https://example.com", "https://example.com/page") {
		t.Error("expected same-origin URL to match")
	}
	if sameOriginURL("https://example.com", "https://other.com/page") {
		t.Error("expected different origin not to match")
	}
}

func TestAddExtraSeedOnRedirectNoChange(t *testing.T) {
	called := false
	add := func(ctx context.Context, origSeedID int, respURL string) (int, error) {
		called = true
		return 99, nil
	}
	id, changed, err := AddExtraSeedOnRedirect(context.Background(), add, 1, "https://example.com/a", "https://example.com/a")
	if err != nil || changed || id != 1 {
		t.Errorf("expected no-op redirect handling, got id=%d changed=%v err=%v", id, changed, err)
	}
	if called {
		t.Error("expected add not to be called when respURL matches requestedURL")
	}
}

func TestAddExtraSeedOnRedirectCreatesExtraSeed(t *testing.T) {
	add := func(ctx context.Context, origSeedID int, respURL string) (int, error) {
		if origSeedID != 1 || respURL != "https://example.com/b" {
			t.Errorf("unexpected add args: %d %q", origSeedID, respURL)
		}
		return 42, nil
	}
	id, changed, err := AddExtraSeedOnRedirect(context.Background(), add, 1, "https://example.com/a", "https://example.com/b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed || id != 42 {
		t.Errorf("expected new seed 42 and changed=true, got id=%d changed=%v", id, changed)
	}
}

func TestAddExtraSeedOnRedirectPropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	add := func(ctx context.Context, origSeedID int, respURL string) (int, error) {
		return 0, wantErr
	}
	id, changed, err := AddExtraSeedOnRedirect(context.Background(), add, 7, "https://example.com/a", "https://example.com/b")
	if !errors.Is(err, wantErr) {
		t.Errorf("expected the add error to propagate, got %v", err)
	}
	if changed || id != 7 {
		t.Errorf("expected original seed to be reported on error, got id=%d changed=%v", id, changed)
	}
}
