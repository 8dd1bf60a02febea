// Package checkpoint writes and loads YAML state snapshots under
// collections/<collection>/collections/, rotating through a bounded
// history.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lexicondev/browsercrawl-core/internal/crawltypes"
)

// Document is what actually gets written to disk: the original launch
// config alongside the CrawlStore snapshot.
type Document struct {
	Config map[string]any     `yaml:"config"`
	State  crawltypes.StateBlob `yaml:"state"`
}

// Writer manages one crawl's checkpoint directory.
type Writer struct {
	dir     string
	crawlID string
	history int
}

// NewWriter returns a Writer rooted at
// <cwd>/collections/<collection>/collections/.
func NewWriter(cwd, collection, crawlID string, history int) *Writer {
	if history < 1 {
		history = 1
	}
	return &Writer{
		dir:     filepath.Join(cwd, "collections", collection, "collections"),
		crawlID: crawlID,
		history: history,
	}
}

func (w *Writer) filename(at time.Time) string {
	return fmt.Sprintf("crawl-%s-%s.yaml", at.UTC().Format("20060102T150405Z"), w.crawlID)
}

// Save writes doc to a new timestamped file and prunes older files for
// this crawlId beyond the configured history.
func (w *Writer) Save(doc Document) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("checkpoint: mkdir: %w", err)
	}

	payload, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("checkpoint: marshal: %w", err)
	}

	path := filepath.Join(w.dir, w.filename(doc.State.SavedAt))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return "", fmt.Errorf("checkpoint: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("checkpoint: rename: %w", err)
	}

	if err := w.rotate(); err != nil {
		return path, fmt.Errorf("checkpoint: rotate: %w", err)
	}
	return path, nil
}

// rotate keeps only the most recent w.history checkpoint files belonging
// to w.crawlID.
func (w *Writer) rotate() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}

	suffix := "-" + w.crawlID + ".yaml"
	var mine []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) == ".yaml" && len(e.Name()) > len(suffix) &&
			e.Name()[len(e.Name())-len(suffix):] == suffix {
			mine = append(mine, e.Name())
		}
	}
	sort.Strings(mine) // filenames embed a sortable UTC timestamp prefix

	if len(mine) <= w.history {
		return nil
	}
	toRemove := mine[:len(mine)-w.history]
	for _, name := range toRemove {
		if err := os.Remove(filepath.Join(w.dir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Latest returns the most recently written checkpoint document for
// crawlID, if one exists, used by the coordinator to load a persisted
// state blob if present before starting a run.
func (w *Writer) Latest() (Document, bool, error) {
	entries, err := os.ReadDir(w.dir)
	if os.IsNotExist(err) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("checkpoint: readdir: %w", err)
	}

	suffix := "-" + w.crawlID + ".yaml"
	var mine []string
	for _, e := range entries {
		if !e.IsDir() && len(e.Name()) > len(suffix) && e.Name()[len(e.Name())-len(suffix):] == suffix {
			mine = append(mine, e.Name())
		}
	}
	if len(mine) == 0 {
		return Document{}, false, nil
	}
	sort.Strings(mine)
	latest := mine[len(mine)-1]

	raw, err := os.ReadFile(filepath.Join(w.dir, latest))
	if err != nil {
		return Document{}, false, fmt.Errorf("checkpoint: read %s: %w", latest, err)
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Document{}, false, fmt.Errorf("checkpoint: unmarshal %s: %w", latest, err)
	}
	return doc, true, nil
}
