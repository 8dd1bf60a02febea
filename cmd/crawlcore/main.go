// Command crawlcore is the crawl core's entrypoint: it loads
// configuration and the seed table, wires the store/archive/checkpoint/
// limits/control dependencies, then hands off to CrawlCoordinator and
// exits with the code it reports. Bootstraps with the usual
// godotenv/config/signal-context shape, pointed at a crawl run instead of
// an HTTP service.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/lexicondev/browsercrawl-core/internal/adminapi"
	"github.com/lexicondev/browsercrawl-core/internal/archive"
	"github.com/lexicondev/browsercrawl-core/internal/checkpoint"
	"github.com/lexicondev/browsercrawl-core/internal/config"
	"github.com/lexicondev/browsercrawl-core/internal/control"
	"github.com/lexicondev/browsercrawl-core/internal/coordinator"
	"github.com/lexicondev/browsercrawl-core/internal/crawltypes"
	"github.com/lexicondev/browsercrawl-core/internal/logging"
	"github.com/lexicondev/browsercrawl-core/internal/seedconfig"
	"github.com/lexicondev/browsercrawl-core/internal/store"
	"github.com/lexicondev/browsercrawl-core/internal/store/memstore"
	"github.com/lexicondev/browsercrawl-core/internal/store/pgregistry"
	"github.com/lexicondev/browsercrawl-core/internal/store/redisstore"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("no .env file found, using environment variables")
	}

	cfg := config.DefaultConfig()
	cfg.LoadFromEnv()

	crawlID := cfg.Misc.CrawlID
	if crawlID == "" {
		crawlID = uuid.NewString()
	}

	logRoot, err := logging.New(logging.Options{
		Dir:     filepath.Join(cfg.Misc.Cwd, "collections", cfg.Misc.Collection, "logs"),
		Console: true,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to set up crawl logging")
		return int(coordinator.ExitCrawlError)
	}
	defer logRoot.Close()
	crawlLog := logRoot.For(crawltypes.CtxCrawlStatus)

	seeds, err := seedconfig.Load(cfg.Seeding)
	if err != nil {
		crawlLog.Error().Err(err).Msg("failed to load seed configuration")
		return int(coordinator.ExitCrawlError)
	}

	ctx := context.Background()

	st, closeStore, err := buildStore(ctx, cfg, crawlID)
	if err != nil {
		crawlLog.Error().Err(err).Msg("failed to set up crawl store")
		return int(coordinator.ExitCrawlError)
	}
	defer closeStore()

	if cfg.PgSql.Enabled {
		registry, err := pgregistry.Connect(ctx, cfg.PgSql)
		if err != nil {
			crawlLog.Warn().Err(err).Msg("postgres registry unavailable, continuing without durable seed history")
		} else {
			defer registry.Close()
			if err := registry.Migrate(ctx); err != nil {
				crawlLog.Warn().Err(err).Msg("postgres registry migration failed")
			} else {
				for _, s := range seeds {
					if _, err := registry.InsertSeed(ctx, crawlID, s); err != nil {
						crawlLog.Warn().Err(err).Int("seedId", s.ID).Msg("failed to persist seed to registry")
					}
				}
			}
		}
	}

	var mirror archive.Mirror
	if cfg.GCS.Enabled() {
		gcsMirror, err := archive.NewGCSMirror(ctx, cfg.GCS)
		if err != nil {
			crawlLog.Warn().Err(err).Msg("gcs mirror unavailable, archiving to disk only")
		} else {
			mirror = gcsMirror
		}
	}
	arc := archive.NewStore(cfg.Misc.Cwd, cfg.Misc.Collection, cfg.GCS.Bucket, mirror, crawlLog)

	ckptWriter := checkpoint.NewWriter(cfg.Misc.Cwd, cfg.Misc.Collection, crawlID, cfg.Persistence.SaveStateHistory)

	var ctrlClient *control.Client
	if cfg.Nats.Enabled {
		c, err := control.Connect(cfg.Nats, crawlID, crawlLog)
		if err != nil {
			crawlLog.Warn().Err(err).Msg("nats control channel unavailable, falling back to store-only control")
		} else {
			defer c.Close()
			ctrlClient = c
			if unsub, err := c.Bridge(st); err != nil {
				crawlLog.Warn().Err(err).Msg("failed to bridge nats control channel into store")
			} else {
				defer unsub()
			}
		}
	}

	admin := adminapi.New(st, ctrlClient, crawlID, crawlLog)
	adminSrv := admin.Serve(cfg.Listen)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = adminSrv.Shutdown(shutdownCtx)
	}()

	coord := coordinator.New(cfg, crawlID, st, arc, ckptWriter, crawlLog)

	exitCode, err := coord.Run(ctx, seeds)
	if err != nil {
		crawlLog.Error().Err(err).Msg("crawl coordinator returned an error")
	}
	crawlLog.Info().Int("exitCode", int(exitCode)).Str("crawlId", crawlID).Msg("crawl finished")
	return int(exitCode)
}

// buildStore prefers Redis when configured, falling back to an
// in-process memstore for local/dry-run use. memstore is otherwise only
// exercised from tests, but a bare CRAWL_URL invocation with no Redis
// available should still be able to run a small crawl end to end.
func buildStore(ctx context.Context, cfg config.Config, crawlID string) (store.CrawlStore, func(), error) {
	if cfg.Redis.URL != "" || cfg.Redis.Host != "" {
		opts := &redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		if cfg.Redis.URL != "" {
			parsed, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				return nil, nil, fmt.Errorf("main: parsing redis url: %w", err)
			}
			opts = parsed
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, falling back to in-process memstore")
			ms := memstore.New()
			return ms, func() { _ = ms.Close() }, nil
		}
		rs := redisstore.New(rdb, crawlID)
		return rs, func() { _ = rs.Close() }, nil
	}

	ms := memstore.New()
	return ms, func() { _ = ms.Close() }, nil
}
