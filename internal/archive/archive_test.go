package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestPathForDerivesHostAndPathname(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://example.com/", filepath.Join("example.com", "index.html")},
		{"https://example.com", filepath.Join("example.com", "index.html")},
		{"https://example.com/about", filepath.Join("example.com", "about")},
		{"https://example.com/docs/", filepath.Join("example.com", "docs", "index.html")},
	}
	for _, c := range cases {
		got, err := PathFor(c.url)
		if err != nil {
			t.Fatalf("PathFor(%s): %v", c.url, err)
		}
		if got != c.want {
			t.Errorf("PathFor(%s) = %s, want %s", c.url, got, c.want)
		}
	}
}

func TestWriteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "coll", "", nil, zerolog.Nop())

	url := "https://example.com/page"
	if err := s.Write(context.Background(), url, []byte("hello"), "text/html"); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if got := s.BytesWritten(); got != 5 {
		t.Errorf("BytesWritten() = %d, want 5", got)
	}

	if err := s.Write(context.Background(), url, []byte("hello again"), "text/html"); err != ErrAlreadyWritten {
		t.Errorf("second write err = %v, want ErrAlreadyWritten", err)
	}
	if got := s.BytesWritten(); got != 5 {
		t.Errorf("BytesWritten() after dupe write = %d, want unchanged 5", got)
	}
}

func TestAlreadyOnDisk(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "coll", "", nil, zerolog.Nop())
	url := "https://example.com/page"

	if s.AlreadyOnDisk(url) {
		t.Fatal("expected AlreadyOnDisk false before any write")
	}
	if err := s.Write(context.Background(), url, []byte("x"), "text/html"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !s.AlreadyOnDisk(url) {
		t.Fatal("expected AlreadyOnDisk true after write")
	}
}

func TestWriteMirrorsToGCSOnSuccess(t *testing.T) {
	dir := t.TempDir()
	m := &fakeMirror{}
	s := NewStore(dir, "coll", "bucket", m, zerolog.Nop())

	if err := s.Write(context.Background(), "https://example.com/x", []byte("data"), "text/plain"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(m.uploaded) != 1 {
		t.Fatalf("expected 1 mirror upload, got %d", len(m.uploaded))
	}
	if m.uploaded[0] != "example.com/x" {
		t.Errorf("uploaded object name = %s, want example.com/x", m.uploaded[0])
	}
}

func TestWriteSurvivesMirrorFailure(t *testing.T) {
	dir := t.TempDir()
	m := &fakeMirror{failWith: os.ErrPermission}
	s := NewStore(dir, "coll", "bucket", m, zerolog.Nop())

	if err := s.Write(context.Background(), "https://example.com/y", []byte("data"), "text/plain"); err != nil {
		t.Fatalf("write should succeed even when the mirror fails: %v", err)
	}
	if !s.AlreadyOnDisk("https://example.com/y") {
		t.Fatal("expected local write to have landed despite mirror failure")
	}
}

type fakeMirror struct {
	uploaded []string
	failWith error
}

func (m *fakeMirror) Upload(_ context.Context, _, objectName string, _ []byte, _ string) (string, error) {
	if m.failWith != nil {
		return "", m.failWith
	}
	m.uploaded = append(m.uploaded, objectName)
	return objectName, nil
}
