// Package config loads the crawl core's environment-driven configuration
// using a grouped-struct-plus-loadFromEnv shape for its Postgres/Redis/
// NATS/GCS settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

func getEnv(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultValue
}

func loadEnvString(key string, result *string) {
	if s, ok := os.LookupEnv(key); ok {
		*result = s
	}
}

func loadEnvInt(key string, result *int) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return
	}
	*result = n
}

func loadEnvUint(key string, result *uint) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return
	}
	*result = uint(n)
}

func loadEnvBool(key string, result *bool) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return
	}
	*result = b
}

func loadEnvDurationSecs(key string, result *time.Duration) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return
	}
	*result = time.Duration(n) * time.Second
}

/* Redis (canonical CrawlStore backend) */

type RedisConfig struct {
	Host     string
	Port     uint
	Password string
	DB       int
	// URL, when set, overrides Host/Port/DB entirely (REDIS_URL / REDIS_URL_DOCKER).
	URL string
}

func defaultRedisConfig() RedisConfig {
	return RedisConfig{Host: "localhost", Port: 6379, DB: 0}
}

func (r *RedisConfig) loadFromEnv() {
	loadEnvString("REDIS_HOST", &r.Host)
	loadEnvUint("REDIS_PORT", &r.Port)
	loadEnvString("REDIS_PASSWORD", &r.Password)
	if dbStr := getEnv("REDIS_DB", ""); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			r.DB = db
		}
	}
	if url := getEnv("REDIS_URL_DOCKER", getEnv("REDIS_URL", "")); url != "" {
		r.URL = url
	}
}

/* Postgres (durable seed/run registry, common/db style) */

type PgSqlConfig struct {
	Host     string
	Port     uint
	Database string
	SslMode  string
	User     string
	Password string
	Enabled  bool
}

func defaultPgSqlConfig() PgSqlConfig {
	return PgSqlConfig{Host: "localhost", Port: 5432, Database: "crawlcore", SslMode: "disable"}
}

func (p *PgSqlConfig) loadFromEnv() {
	loadEnvString("POSTGRES_HOST", &p.Host)
	loadEnvUint("POSTGRES_PORT", &p.Port)
	loadEnvString("POSTGRES_DB_NAME", &p.Database)
	loadEnvString("POSTGRES_SSLMODE", &p.SslMode)
	loadEnvString("POSTGRES_USERNAME", &p.User)
	loadEnvString("POSTGRES_PASSWORD", &p.Password)
	loadEnvBool("POSTGRES_ENABLED", &p.Enabled)
}

func (p PgSqlConfig) ConnStr() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SslMode)
}

/* NATS (operator control channel) */

type NatsConfig struct {
	Host             string
	Port             uint
	Username         string
	Password         string
	JetStreamEnabled bool
	Enabled          bool
}

func defaultNatsConfig() NatsConfig {
	return NatsConfig{Host: "localhost", Port: 4222, JetStreamEnabled: true}
}

func (c *NatsConfig) loadFromEnv() {
	loadEnvString("NATS_HOST", &c.Host)
	loadEnvUint("NATS_PORT", &c.Port)
	loadEnvString("NATS_USER", &c.Username)
	loadEnvString("NATS_PASSWORD", &c.Password)
	loadEnvBool("NATS_JETSTREAM_ENABLED", &c.JetStreamEnabled)
	loadEnvBool("NATS_ENABLED", &c.Enabled)
}

func (c NatsConfig) URL() string {
	return fmt.Sprintf("nats://%s:%d", c.Host, c.Port)
}

/* GCS (optional archive mirror) */

type GCSConfig struct {
	ProjectID       string
	CredentialsFile string
	Bucket          string
	EndpointURL     string
	AccessKey       string
	SecretKey       string
}

func (g *GCSConfig) loadFromEnv() {
	loadEnvString("GCS_PROJECT_ID", &g.ProjectID)
	loadEnvString("GCS_CREDENTIALS_FILE", &g.CredentialsFile)
	loadEnvString("STORE_PATH", &g.Bucket)
	loadEnvString("STORE_ENDPOINT_URL", &g.EndpointURL)
	loadEnvString("STORE_ACCESS_KEY", &g.AccessKey)
	loadEnvString("STORE_SECRET_KEY", &g.SecretKey)
}

func (g GCSConfig) Enabled() bool { return g.Bucket != "" }

/* Seeding */

type SeedingConfig struct {
	URL      string
	SeedFile string
}

func (s *SeedingConfig) loadFromEnv() {
	loadEnvString("CRAWL_URL", &s.URL)
	loadEnvString("CRAWL_SEED_FILE", &s.SeedFile)
}

/* Limits */

type LimitsConfig struct {
	PageLimit         int
	MaxPageLimit      int
	SizeLimitBytes    int64
	TimeLimitSecs     int
	DiskUtilizationPc int
	FailOnFailedLimit int
}

func defaultLimitsConfig() LimitsConfig {
	return LimitsConfig{MaxPageLimit: 0, DiskUtilizationPc: 90}
}

func (l *LimitsConfig) loadFromEnv() {
	loadEnvInt("CRAWL_PAGE_LIMIT", &l.PageLimit)
	loadEnvInt("CRAWL_MAX_PAGE_LIMIT", &l.MaxPageLimit)
	if s := getEnv("CRAWL_SIZE_LIMIT", ""); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			l.SizeLimitBytes = n
		}
	}
	loadEnvInt("CRAWL_TIME_LIMIT", &l.TimeLimitSecs)
	loadEnvInt("CRAWL_DISK_UTILIZATION", &l.DiskUtilizationPc)
	loadEnvInt("CRAWL_FAIL_ON_FAILED_LIMIT", &l.FailOnFailedLimit)
}

/* Timing */

type TimingConfig struct {
	PageLoadTimeout time.Duration
	BehaviorTimeout time.Duration
	PageExtraDelay  time.Duration
	PostLoadDelay   time.Duration
	NetIdleWait     time.Duration
	WaitUntil       string
	PageOpTimeout   time.Duration
	DebugPollWait   time.Duration
}

func defaultTimingConfig() TimingConfig {
	return TimingConfig{
		PageLoadTimeout: 90 * time.Second,
		BehaviorTimeout: 90 * time.Second,
		PageExtraDelay:  0,
		PostLoadDelay:   0,
		NetIdleWait:     15 * time.Second,
		WaitUntil:       "load",
		PageOpTimeout:   5 * time.Second,
		DebugPollWait:   time.Second,
	}
}

func (t *TimingConfig) loadFromEnv() {
	loadEnvDurationSecs("CRAWL_PAGE_LOAD_TIMEOUT", &t.PageLoadTimeout)
	loadEnvDurationSecs("CRAWL_BEHAVIOR_TIMEOUT", &t.BehaviorTimeout)
	loadEnvDurationSecs("CRAWL_PAGE_EXTRA_DELAY", &t.PageExtraDelay)
	loadEnvDurationSecs("CRAWL_POST_LOAD_DELAY", &t.PostLoadDelay)
	loadEnvDurationSecs("CRAWL_NET_IDLE_WAIT", &t.NetIdleWait)
	loadEnvString("CRAWL_WAIT_UNTIL", &t.WaitUntil)
	loadEnvDurationSecs("CRAWL_PAGE_OP_TIMEOUT", &t.PageOpTimeout)
	loadEnvDurationSecs("CRAWL_DEBUG_POLL_WAIT", &t.DebugPollWait)
}

// PerPageDeadline is the single deadline assigned to one page:
// pageLoadTimeout + behaviorTimeout + 2*PAGE_OP_TIMEOUT_SECS + pageExtraDelay.
func (t TimingConfig) PerPageDeadline() time.Duration {
	return t.PageLoadTimeout + t.BehaviorTimeout + 2*t.PageOpTimeout + t.PageExtraDelay
}

/* Workers */

type WorkersConfig struct {
	Count           int
	Headless        bool
	Profile         string
	UserAgent       string
	UserAgentSuffix string
	Lang            string
	MobileDevice    string
	MaxReuse        int
}

func defaultWorkersConfig() WorkersConfig {
	return WorkersConfig{
		Count:    1,
		Headless: true,
		MaxReuse: 5,
	}
}

func (w *WorkersConfig) loadFromEnv() {
	loadEnvInt("CRAWL_WORKERS", &w.Count)
	loadEnvBool("CRAWL_HEADLESS", &w.Headless)
	loadEnvString("CRAWL_PROFILE", &w.Profile)
	loadEnvString("CRAWL_USER_AGENT", &w.UserAgent)
	loadEnvString("CRAWL_USER_AGENT_SUFFIX", &w.UserAgentSuffix)
	loadEnvString("CRAWL_LANG", &w.Lang)
	loadEnvString("CRAWL_MOBILE_DEVICE", &w.MobileDevice)
	loadEnvInt("CRAWL_MAX_REUSE", &w.MaxReuse)
}

/* Rules */

type RulesConfig struct {
	BlockAds       bool
	AdBlockMessage string
	BlockRules     []string
	BlockMessage   string
	OriginOverride []string
}

func (r *RulesConfig) loadFromEnv() {
	loadEnvBool("CRAWL_BLOCK_ADS", &r.BlockAds)
	loadEnvString("CRAWL_AD_BLOCK_MESSAGE", &r.AdBlockMessage)
	loadEnvString("CRAWL_BLOCK_MESSAGE", &r.BlockMessage)
}

/* Behaviors */

type BehaviorsConfig struct {
	EnableBehaviors bool
	CustomBehaviors []string // not loaded from the environment and not forwarded to internal/browser, whose PrepareOpts.CustomBehaviors takes script sources and joins them into one script
}

func (b *BehaviorsConfig) loadFromEnv() {
	loadEnvBool("CRAWL_ENABLE_BEHAVIORS", &b.EnableBehaviors)
}

/* Failure policy */

type FailurePolicyConfig struct {
	FailOnFailedSeed   bool
	FailOnInvalidStatus bool
	RestartsOnError    bool
	WaitOnDone         bool
	ExitOnRedisError   bool
}

func (f *FailurePolicyConfig) loadFromEnv() {
	loadEnvBool("CRAWL_FAIL_ON_FAILED_SEED", &f.FailOnFailedSeed)
	loadEnvBool("CRAWL_FAIL_ON_INVALID_STATUS", &f.FailOnInvalidStatus)
	loadEnvBool("CRAWL_RESTARTS_ON_ERROR", &f.RestartsOnError)
	loadEnvBool("CRAWL_WAIT_ON_DONE", &f.WaitOnDone)
	loadEnvBool("CRAWL_EXIT_ON_REDIS_ERROR", &f.ExitOnRedisError)
}

/* Persistence */

type SaveStateMode string

const (
	SaveStateNever   SaveStateMode = "never"
	SaveStatePartial SaveStateMode = "partial"
	SaveStateAlways  SaveStateMode = "always"
)

type PersistenceConfig struct {
	SaveState         SaveStateMode
	SaveStateInterval time.Duration
	SaveStateHistory  int
}

func defaultPersistenceConfig() PersistenceConfig {
	return PersistenceConfig{
		SaveState:         SaveStateAlways,
		SaveStateInterval: 60 * time.Second,
		SaveStateHistory:  5,
	}
}

func (p *PersistenceConfig) loadFromEnv() {
	if v := getEnv("CRAWL_SAVE_STATE", ""); v != "" {
		p.SaveState = SaveStateMode(v)
	}
	loadEnvDurationSecs("CRAWL_SAVE_STATE_INTERVAL", &p.SaveStateInterval)
	loadEnvInt("CRAWL_SAVE_STATE_HISTORY", &p.SaveStateHistory)
}

/* Sitemap */

type SitemapConfig struct {
	FromDate string
	ToDate   string
}

func (s *SitemapConfig) loadFromEnv() {
	loadEnvString("CRAWL_SITEMAP_FROM_DATE", &s.FromDate)
	loadEnvString("CRAWL_SITEMAP_TO_DATE", &s.ToDate)
}

/* Misc */

type MiscConfig struct {
	Collection        string
	Cwd               string
	Overwrite         bool
	DryRun            bool
	RecrawlUpdateData bool
	CrawlID           string // CRAWL_ID env override
	WebhookURL        string
	Geometry          string
	NoXvfb            bool
}

func defaultMiscConfig() MiscConfig {
	return MiscConfig{Collection: "crawl", Cwd: "."}
}

func (m *MiscConfig) loadFromEnv() {
	loadEnvString("CRAWL_COLLECTION", &m.Collection)
	loadEnvString("CRAWL_CWD", &m.Cwd)
	loadEnvBool("CRAWL_OVERWRITE", &m.Overwrite)
	loadEnvBool("CRAWL_DRY_RUN", &m.DryRun)
	loadEnvBool("CRAWL_RECRAWL_UPDATE_DATA", &m.RecrawlUpdateData)
	loadEnvString("CRAWL_ID", &m.CrawlID)
	loadEnvString("WEBHOOK_URL", &m.WebhookURL)
	loadEnvString("GEOMETRY", &m.Geometry)
	loadEnvBool("NO_XVFB", &m.NoXvfb)
}

/* Admin HTTP surface */

type ListenConfig struct {
	Host string
	Port uint
}

func defaultListenConfig() ListenConfig {
	return ListenConfig{Host: "127.0.0.1", Port: 9871}
}

func (l *ListenConfig) loadFromEnv() {
	loadEnvString("ADMIN_LISTEN_HOST", &l.Host)
	loadEnvUint("ADMIN_LISTEN_PORT", &l.Port)
}

func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

/* Config aggregates every group. */

type Config struct {
	Listen      ListenConfig
	Redis       RedisConfig
	PgSql       PgSqlConfig
	Nats        NatsConfig
	GCS         GCSConfig
	Seeding     SeedingConfig
	Limits      LimitsConfig
	Timing      TimingConfig
	Workers     WorkersConfig
	Rules       RulesConfig
	Behaviors   BehaviorsConfig
	Failure     FailurePolicyConfig
	Persistence PersistenceConfig
	Sitemap     SitemapConfig
	Misc        MiscConfig
}

func DefaultConfig() Config {
	return Config{
		Listen:      defaultListenConfig(),
		Redis:       defaultRedisConfig(),
		PgSql:       defaultPgSqlConfig(),
		Nats:        defaultNatsConfig(),
		Limits:      defaultLimitsConfig(),
		Timing:      defaultTimingConfig(),
		Workers:     defaultWorkersConfig(),
		Persistence: defaultPersistenceConfig(),
		Misc:        defaultMiscConfig(),
	}
}

func (c *Config) LoadFromEnv() {
	c.Listen.loadFromEnv()
	c.Redis.loadFromEnv()
	c.PgSql.loadFromEnv()
	c.Nats.loadFromEnv()
	c.GCS.loadFromEnv()
	c.Seeding.loadFromEnv()
	c.Limits.loadFromEnv()
	c.Timing.loadFromEnv()
	c.Workers.loadFromEnv()
	c.Rules.loadFromEnv()
	c.Behaviors.loadFromEnv()
	c.Failure.loadFromEnv()
	c.Persistence.loadFromEnv()
	c.Sitemap.loadFromEnv()
	c.Misc.loadFromEnv()

	if c.Workers.Count < 1 {
		c.Workers.Count = 1
	}

	log.Info().
		Int("workers", c.Workers.Count).
		Str("collection", c.Misc.Collection).
		Msg("configuration loaded")
}
