// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. HARVEST_STORE_URI.
const EnvPrefix = "HARVEST"

// DefaultURLTemplate targets the newest-questions listing.
const DefaultURLTemplate = "https://stackoverflow.com/questions?tab=newest&pagesize={page_size}&page={page}"

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Source   SourceConfig   `mapstructure:"source"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Progress ProgressConfig `mapstructure:"progress"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// SourceConfig describes the paginated listing being harvested.
type SourceConfig struct {
	BaseURLTemplate string `mapstructure:"base_url_template"`
	PageSize        int    `mapstructure:"page_size"`
	PageCount       int    `mapstructure:"page_count"`
	UserAgent       string `mapstructure:"user_agent"`
	RespectRobots   bool   `mapstructure:"respect_robots"`
}

// CrawlerConfig governs the dispatcher pool.
type CrawlerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	// RequestsPerSecond paces requests to the listing host; 0 is unpaced.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// HTTPConfig configures the page fetcher transport.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// Store providers.
const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Upsert strategies.
const (
	StrategyAtomic  = "atomic"
	StrategyTwoStep = "two_step"
)

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	Provider       string `mapstructure:"provider"`
	URI            string `mapstructure:"uri"`
	Database       string `mapstructure:"database"`
	Collection     string `mapstructure:"collection"`
	Strategy       string `mapstructure:"strategy"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxConns       int32  `mapstructure:"max_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ProgressConfig selects progress sinks.
type ProgressConfig struct {
	Bar       bool `mapstructure:"bar"`
	LogEvents bool `mapstructure:"log_events"`
	// RunLog records each run in a Postgres ledger table. Postgres only.
	RunLog      bool   `mapstructure:"run_log"`
	RunLogTable string `mapstructure:"run_log_table"`
}

// MetricsConfig controls pushing run metrics to a Prometheus Pushgateway.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	JobName        string `mapstructure:"job_name"`
	// ListenAddr serves /healthz, /metrics and /v1/status during the run.
	// Empty disables the server.
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load builds a Config from disk/environment. An empty path skips the file.
func Load(path string) (Config, error) {
	v := viper.New()
	return LoadWith(v, path)
}

// LoadWith is Load against a caller-supplied Viper instance, so CLI flags
// bound to v take precedence over file and environment values.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.base_url_template", DefaultURLTemplate)
	v.SetDefault("source.page_size", 50)
	v.SetDefault("source.page_count", 5)
	v.SetDefault("source.user_agent", "forumharvest/0.1")
	v.SetDefault("source.respect_robots", false)
	v.SetDefault("crawler.concurrency", 5)
	v.SetDefault("crawler.requests_per_second", 0)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("store.provider", StoreMongo)
	v.SetDefault("store.uri", "mongodb://localhost:27017")
	v.SetDefault("store.database", "stackoverflow")
	v.SetDefault("store.collection", "questions")
	v.SetDefault("store.strategy", StrategyAtomic)
	v.SetDefault("store.timeout_seconds", 10)
	v.SetDefault("store.max_conns", 0)
	v.SetDefault("logging.development", false)
	v.SetDefault("progress.bar", true)
	v.SetDefault("progress.log_events", false)
	v.SetDefault("progress.run_log", false)
	v.SetDefault("progress.run_log_table", "harvest_runs")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job_name", "forumharvest")
	v.SetDefault("metrics.listen_addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if !strings.Contains(c.Source.BaseURLTemplate, "{page}") {
		return fmt.Errorf("source.base_url_template must contain a {page} placeholder")
	}
	if c.Source.PageSize <= 0 {
		return fmt.Errorf("source.page_size must be > 0")
	}
	if c.Source.PageCount <= 0 {
		return fmt.Errorf("source.page_count must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.RequestsPerSecond < 0 {
		return fmt.Errorf("crawler.requests_per_second must be >= 0")
	}
	if c.Crawler.Burst < 0 {
		return fmt.Errorf("crawler.burst must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	switch c.Store.Provider {
	case StoreMongo, StorePostgres:
		if c.Store.URI == "" {
			return fmt.Errorf("store.uri must be set for provider %q", c.Store.Provider)
		}
		if !uriMatchesProvider(c.Store.Provider, c.Store.URI) {
			return fmt.Errorf("store.uri %q is not a %s connection string", redactURI(c.Store.URI), c.Store.Provider)
		}
		if c.Store.Collection == "" {
			return fmt.Errorf("store.collection must be set")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("store.provider %q is not one of mongo, postgres, memory", c.Store.Provider)
	}
	if c.Store.Provider == StoreMongo && c.Store.Database == "" {
		return fmt.Errorf("store.database must be set for provider mongo")
	}
	switch c.Store.Strategy {
	case StrategyAtomic, StrategyTwoStep:
	default:
		return fmt.Errorf("store.strategy %q is not one of atomic, two_step", c.Store.Strategy)
	}
	if c.Store.TimeoutSeconds <= 0 {
		return fmt.Errorf("store.timeout_seconds must be > 0")
	}
	if c.Progress.RunLog && c.Store.Provider != StorePostgres {
		return fmt.Errorf("progress.run_log requires store.provider %q", StorePostgres)
	}
	return nil
}

// uriMatchesProvider checks the connection string scheme. Postgres also
// accepts libpq key=value DSNs.
func uriMatchesProvider(provider, uri string) bool {
	lower := strings.ToLower(uri)
	switch provider {
	case StoreMongo:
		return strings.HasPrefix(lower, "mongodb://") || strings.HasPrefix(lower, "mongodb+srv://")
	case StorePostgres:
		if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
			return true
		}
		return !strings.Contains(lower, "://") && strings.Contains(lower, "=")
	default:
		return true
	}
}

// redactURI keeps the scheme of uri so errors never echo credentials.
func redactURI(uri string) string {
	if scheme, _, ok := strings.Cut(uri, "://"); ok {
		return scheme + "://..."
	}
	return "..."
}

// RequestTimeout is the per-page HTTP timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// StoreTimeout bounds connecting to and pinging the record store.
func (c Config) StoreTimeout() time.Duration {
	return time.Duration(c.Store.TimeoutSeconds) * time.Second
}
