// Package seedconfig loads the seed table CrawlCoordinator starts from:
// either a single URL (CRAWL_URL) or a structured file of per-seed
// records (CRAWL_SEED_FILE, "-" meaning stdin) supporting arrays,
// scalars, and nested seed records. Uses yaml.v3, the same choice
// internal/checkpoint makes for its own structured-config document.
package seedconfig

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/samber/mo"
	"gopkg.in/yaml.v3"

	"github.com/lexicondev/browsercrawl-core/internal/config"
	"github.com/lexicondev/browsercrawl-core/internal/crawltypes"
)

type fileAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type fileSitemap struct {
	URL string `yaml:"url"`
}

type fileSelector struct {
	CSSSelector string `yaml:"cssSelector"`
	Attribute   string `yaml:"attribute"`
	IsAttribute bool   `yaml:"isAttribute"`
}

type fileSeed struct {
	URL          string         `yaml:"url"`
	ScopeType    string         `yaml:"scopeType"`
	Include      []string       `yaml:"include"`
	Exclude      []string       `yaml:"exclude"`
	MaxDepth     *int           `yaml:"depth"`
	MaxExtraHops int            `yaml:"extraHops"`
	AllowHash    bool           `yaml:"allowHash"`
	Auth         *fileAuth      `yaml:"auth"`
	Sitemap      *fileSitemap   `yaml:"sitemap"`
	SelectLinks  []fileSelector `yaml:"selectLinks"`
	FailOnFailed bool           `yaml:"failOnFailed"`
}

// document is the top-level shape of a seed file: a global URL/scope
// default plus a list of seed records overriding it.
type document struct {
	URL       string     `yaml:"url"`
	ScopeType string     `yaml:"scopeType"`
	Seeds     []fileSeed `yaml:"seeds"`
}

// Load builds the initial seed table from cfg: a seed file if
// cfg.SeedFile is set, otherwise a single seed derived from cfg.URL.
func Load(cfg config.SeedingConfig) ([]crawltypes.Seed, error) {
	if cfg.SeedFile != "" {
		return loadFile(cfg.SeedFile)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("seedconfig: neither CRAWL_URL nor CRAWL_SEED_FILE is set")
	}
	return []crawltypes.Seed{
		{
			ID:        0,
			URL:       cfg.URL,
			ScopeType: crawltypes.ScopePrefix,
			MaxDepth:  -1,
			CreatedAt: nowStamp(),
		},
	}, nil
}

func loadFile(path string) ([]crawltypes.Seed, error) {
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("seedconfig: reading %s: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("seedconfig: parsing %s: %w", path, err)
	}
	if len(doc.Seeds) == 0 {
		return nil, fmt.Errorf("seedconfig: %s declares no seeds", path)
	}

	seeds := make([]crawltypes.Seed, 0, len(doc.Seeds))
	for i, fs := range doc.Seeds {
		seed := crawltypes.Seed{
			ID:           i,
			URL:          fs.URL,
			ScopeType:    resolveScopeType(fs.ScopeType, doc.ScopeType),
			Include:      fs.Include,
			Exclude:      fs.Exclude,
			MaxExtraHops: fs.MaxExtraHops,
			AllowHash:    fs.AllowHash,
			FailOnFailed: fs.FailOnFailed,
			CreatedAt:    nowStamp(),
		}
		if fs.MaxDepth != nil {
			seed.MaxDepth = *fs.MaxDepth
		} else {
			seed.MaxDepth = -1
		}
		if fs.Auth != nil {
			seed.Auth = mo.Some(crawltypes.BasicAuth{Username: fs.Auth.Username, Password: fs.Auth.Password})
		}
		if fs.Sitemap != nil {
			seed.Sitemap = mo.Some(crawltypes.SitemapSpec{URL: fs.Sitemap.URL})
		}
		for _, sel := range fs.SelectLinks {
			seed.SelectLinks = append(seed.SelectLinks, crawltypes.LinkSelector{
				CSSSelector: sel.CSSSelector,
				Attribute:   sel.Attribute,
				IsAttribute: sel.IsAttribute,
			})
		}
		if seed.URL == "" {
			return nil, fmt.Errorf("seedconfig: seed at index %d has no url", i)
		}
		seeds = append(seeds, seed)
	}
	return seeds, nil
}

func resolveScopeType(seedLevel, docLevel string) crawltypes.ScopeType {
	if seedLevel != "" {
		return crawltypes.ScopeType(seedLevel)
	}
	if docLevel != "" {
		return crawltypes.ScopeType(docLevel)
	}
	return crawltypes.ScopePrefix
}

// nowStamp is a var so tests can override it; production code never
// calls time.Now() anywhere else in this package.
var nowStamp = func() time.Time { return time.Now().UTC() }
