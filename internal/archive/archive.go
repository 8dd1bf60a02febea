// Package archive lays out the on-disk archive at
// <cwd>/collections/<collection>/archive/<host>/<pathname-or-index.html>,
// with idempotent per-URL writes PageDriver's interception policy relies
// on to decide whether a same-origin resource is "already on disk", and
// an optional GCS mirror upload. Uses the same StorageService interface
// and GCS implementation as the rest of the stack, generalized from a
// bucket/object-name upload API to a local-file-first archive with GCS as
// a secondary mirror rather than the only backend.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/lexicondev/browsercrawl-core/internal/config"
)

var ErrAlreadyWritten = errors.New("archive: file already written")

// Mirror is the subset of common/storage.StorageService the archive
// actually exercises: a fire-and-forget upload of what was just written
// to disk.
type Mirror interface {
	Upload(ctx context.Context, bucket, objectName string, content []byte, contentType string) (string, error)
}

// GCSMirror implements Mirror against Google Cloud Storage.
type GCSMirror struct {
	client *storage.Client
	bucket string
}

// NewGCSMirror connects to GCS the way common/storage.NewGCSStorage does,
// returning (nil, nil) when GCS isn't configured so callers can treat a
// nil Mirror as "no mirroring" without a type switch.
func NewGCSMirror(ctx context.Context, cfg config.GCSConfig) (*GCSMirror, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: connecting to gcs: %w", err)
	}
	return &GCSMirror{client: client, bucket: cfg.Bucket}, nil
}

func (m *GCSMirror) Upload(ctx context.Context, bucket, objectName string, content []byte, contentType string) (string, error) {
	if bucket == "" {
		bucket = m.bucket
	}
	wc := m.client.Bucket(bucket).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := io.Copy(wc, bytes.NewReader(content)); err != nil {
		return "", fmt.Errorf("archive: uploading %s: %w", objectName, err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("archive: closing writer for %s: %w", objectName, err)
	}
	return objectName, nil
}

// Store roots the archive directory for one crawl and tracks bytes
// written, feeding CrawlCoordinator's size-limit check.
type Store struct {
	dir         string
	bucket      string
	mirror      Mirror
	log         zerolog.Logger
	bytesWritten int64
}

func NewStore(cwd, collection, bucket string, mirror Mirror, log zerolog.Logger) *Store {
	return &Store{
		dir:    filepath.Join(cwd, "collections", collection, "archive"),
		bucket: bucket,
		mirror: mirror,
		log:    log,
	}
}

// PathFor derives <host>/<pathname-or-index.html> for rawURL.
func PathFor(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("archive: parsing url %s: %w", rawURL, err)
	}
	pathname := strings.TrimPrefix(u.Path, "/")
	if pathname == "" || strings.HasSuffix(pathname, "/") {
		pathname += "index.html"
	}
	return filepath.Join(u.Hostname(), filepath.FromSlash(pathname)), nil
}

// AlreadyOnDisk reports whether rawURL's archive file already exists,
// the predicate PageDriver's interception policy consults for
// recrawlUpdateData=false skipped-resource handling.
func (s *Store) AlreadyOnDisk(rawURL string) bool {
	rel, err := PathFor(rawURL)
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(s.dir, rel))
	return err == nil
}

// Write persists content for rawURL idempotently: if the file already
// exists this returns ErrAlreadyWritten without overwriting it.
func (s *Store) Write(ctx context.Context, rawURL string, content []byte, contentType string) error {
	rel, err := PathFor(rawURL)
	if err != nil {
		return err
	}
	full := filepath.Join(s.dir, rel)
	if _, err := os.Stat(full); err == nil {
		return ErrAlreadyWritten
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("archive: mkdir: %w", err)
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		return fmt.Errorf("archive: write %s: %w", full, err)
	}
	atomic.AddInt64(&s.bytesWritten, int64(len(content)))

	if s.mirror != nil {
		objectName := filepath.ToSlash(rel)
		if _, err := s.mirror.Upload(ctx, s.bucket, objectName, content, contentType); err != nil {
			s.log.Warn().Err(err).Str("url", rawURL).Msg("gcs mirror upload failed")
		}
	}
	return nil
}

// BytesWritten reports the archive's total size for CrawlCoordinator's
// sizeLimit check.
func (s *Store) BytesWritten() int64 {
	return atomic.LoadInt64(&s.bytesWritten)
}
