// Package pgregistry is the durable seed/extra-seed/crawl-run registry
// that survives a Redis flush, built on a pgxpool + tracelog setup. Its
// generated `repository` package isn't part of this build, so this
// package hand-writes its SQL instead of assuming sqlc codegen is
// available.
package pgregistry

import (
	"context"
	"fmt"
	"time"

	pgxzerolog "github.com/jackc/pgx-zerolog"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog/log"

	"github.com/lexicondev/browsercrawl-core/internal/config"
	"github.com/lexicondev/browsercrawl-core/internal/crawltypes"
)

// Registry persists what CrawlStore's in-memory/Redis view cannot survive
// on its own: the seed table (including extra seeds discovered mid-crawl)
// and one row per crawl run for status history across full-infra resets.
type Registry struct {
	pool *pgxpool.Pool
}

// Connect opens a pool the same way common/db.SetupDatabase does:
// bounded pool size, a health-check period, and pgx's tracelog wired to
// zerolog via jackc/pgx-zerolog instead of pgx's default stdlib logger.
func Connect(ctx context.Context, cfg config.PgSqlConfig) (*Registry, error) {
	pgCfg, err := pgxpool.ParseConfig(cfg.ConnStr())
	if err != nil {
		return nil, fmt.Errorf("pgregistry: parsing config: %w", err)
	}

	pgCfg.MaxConns = 10
	pgCfg.MinConns = 2
	pgCfg.MaxConnLifetime = 30 * time.Minute
	pgCfg.MaxConnIdleTime = 5 * time.Minute
	pgCfg.HealthCheckPeriod = time.Minute

	pgCfg.ConnConfig.Tracer = &tracelog.TraceLog{
		Logger:   pgxzerolog.NewLogger(log.Logger),
		LogLevel: tracelog.LogLevelWarn,
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("pgregistry: connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgregistry: ping: %w", err)
	}
	return &Registry{pool: pool}, nil
}

func (r *Registry) Close() {
	r.pool.Close()
}

// Migrate creates the registry's tables if absent. Migrations normally
// run out-of-process as a separate step; crawl-core keeps that split but
// exposes this so cmd/crawlcore can call it in dev/test without a
// separate tool.
func (r *Registry) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS crawl_seeds (
	id            SERIAL PRIMARY KEY,
	crawl_id      TEXT NOT NULL,
	url           TEXT NOT NULL,
	scope_type    TEXT NOT NULL,
	is_extra      BOOLEAN NOT NULL DEFAULT FALSE,
	orig_seed_id  INTEGER,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS crawl_seeds_crawl_id_idx ON crawl_seeds (crawl_id);

CREATE TABLE IF NOT EXISTS crawl_runs (
	crawl_id    TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	pages_done  INTEGER NOT NULL DEFAULT 0,
	pages_failed INTEGER NOT NULL DEFAULT 0
);
`)
	if err != nil {
		return fmt.Errorf("pgregistry: migrate: %w", err)
	}
	return nil
}

// InsertSeed persists a seed row (original or extra) for crawlID.
func (r *Registry) InsertSeed(ctx context.Context, crawlID string, seed crawltypes.Seed) (int, error) {
	var id int
	var origSeedID *int
	if seed.IsExtra {
		origSeedID = &seed.OrigSeedID
	}
	err := r.pool.QueryRow(ctx, `
INSERT INTO crawl_seeds (crawl_id, url, scope_type, is_extra, orig_seed_id)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`,
		crawlID, seed.URL, string(seed.ScopeType), seed.IsExtra, origSeedID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("pgregistry: insert seed: %w", err)
	}
	return id, nil
}

// ListSeeds reconstructs the seed table for crawlID in insertion order,
// used on a full-infra restart where Redis's extra-seeds list is gone.
func (r *Registry) ListSeeds(ctx context.Context, crawlID string) ([]crawltypes.ExtraSeedRecord, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, url, orig_seed_id FROM crawl_seeds
WHERE crawl_id = $1 AND is_extra = TRUE
ORDER BY id ASC`, crawlID)
	if err != nil {
		return nil, fmt.Errorf("pgregistry: list seeds: %w", err)
	}
	defer rows.Close()

	var out []crawltypes.ExtraSeedRecord
	for rows.Next() {
		var rec crawltypes.ExtraSeedRecord
		var origSeedID *int
		if err := rows.Scan(&rec.NewSeedID, &rec.NewURL, &origSeedID); err != nil {
			return nil, fmt.Errorf("pgregistry: scan seed: %w", err)
		}
		if origSeedID != nil {
			rec.OrigSeedID = *origSeedID
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpsertRunStatus records a crawl's current lifecycle status, insert on
// first observation, update thereafter.
func (r *Registry) UpsertRunStatus(ctx context.Context, crawlID string, status crawltypes.CrawlStatus, pagesDone, pagesFailed int) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO crawl_runs (crawl_id, status, pages_done, pages_failed)
VALUES ($1, $2, $3, $4)
ON CONFLICT (crawl_id) DO UPDATE SET
	status = EXCLUDED.status,
	pages_done = EXCLUDED.pages_done,
	pages_failed = EXCLUDED.pages_failed,
	updated_at = now()`,
		crawlID, string(status), pagesDone, pagesFailed,
	)
	if err != nil {
		return fmt.Errorf("pgregistry: upsert run status: %w", err)
	}
	return nil
}

// RunStatus is one crawl_runs row.
type RunStatus struct {
	CrawlID     string
	Status      crawltypes.CrawlStatus
	StartedAt   time.Time
	UpdatedAt   time.Time
	PagesDone   int
	PagesFailed int
}

func (r *Registry) GetRunStatus(ctx context.Context, crawlID string) (RunStatus, error) {
	var rs RunStatus
	var status string
	err := r.pool.QueryRow(ctx, `
SELECT crawl_id, status, started_at, updated_at, pages_done, pages_failed
FROM crawl_runs WHERE crawl_id = $1`, crawlID,
	).Scan(&rs.CrawlID, &status, &rs.StartedAt, &rs.UpdatedAt, &rs.PagesDone, &rs.PagesFailed)
	if err != nil {
		return RunStatus{}, fmt.Errorf("pgregistry: get run status: %w", err)
	}
	rs.Status = crawltypes.CrawlStatus(status)
	return rs, nil
}
