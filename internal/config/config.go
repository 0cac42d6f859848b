// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/JakeFAU/layered-crawler/internal/crawler"
)

// AppName names the per-user data directory.
const AppName = "layered-crawler"

// Fetcher kinds.
const (
	FetcherColly    = "colly"
	FetcherHeadless = "headless"
)

// Archive backends.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config captures every knob the CLI and the service read.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// EngineConfig sizes the crawl engine.
type EngineConfig struct {
	FetchWorkers   int      `mapstructure:"fetch_workers"`
	ExtractWorkers int      `mapstructure:"extract_workers"`
	PerHost        int      `mapstructure:"per_host"`
	DefaultDepth   int      `mapstructure:"default_depth"`
	StateScope     string   `mapstructure:"state_scope"`
	ZeroDepth      string   `mapstructure:"zero_depth"`
	Excludes       []string `mapstructure:"excludes"`
}

// FetcherConfig selects and tunes the downloader.
type FetcherConfig struct {
	Kind           string         `mapstructure:"kind"`
	UserAgent      string         `mapstructure:"user_agent"`
	TimeoutSeconds int            `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int            `mapstructure:"max_body_bytes"`
	Headless       HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig configures the chromedp downloader.
type HeadlessConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
}

// ArchiveConfig controls document archiving.
type ArchiveConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Backend     string `mapstructure:"backend"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig selects where runs are stored. A Postgres DSN wins over a SQLite
// path; with neither, runs live in memory and are not recorded.
type DBConfig struct {
	DSN        string `mapstructure:"dsn"`
	Table      string `mapstructure:"table"`
	MaxConns   int32  `mapstructure:"max_conns"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// PubSubConfig holds where run summaries are published. An empty project
// keeps summaries in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// QueueConfig bounds the queue of submitted runs.
type QueueConfig struct {
	Depth int `mapstructure:"depth"`
}

// RunnerConfig sizes the pool that executes runs.
type RunnerConfig struct {
	Workers int `mapstructure:"workers"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int  `mapstructure:"buffer_size"`
	MaxBatchEvents int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int  `mapstructure:"max_batch_wait_ms"`
	LogEvents      bool `mapstructure:"log_events"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from defaults, an optional file and CRAWLER_*
// environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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

// Default returns the configuration Load produces with no file and no
// environment overrides.
func Default() Config {
	cfg, err := Load("")
	if err != nil {
		// Only reachable if the defaults themselves are invalid.
		panic(fmt.Sprintf("invalid default config: %v", err))
	}
	return cfg
}

// DataDir is the XDG data directory for archived pages and the SQLite run
// store, e.g. ~/.local/share/layered-crawler on Linux.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.fetch_workers", 8)
	v.SetDefault("engine.extract_workers", 4)
	v.SetDefault("engine.per_host", 2)
	v.SetDefault("engine.default_depth", 2)
	v.SetDefault("engine.state_scope", string(crawler.ScopeEngine))
	v.SetDefault("engine.zero_depth", string(crawler.ZeroDepthNothing))
	v.SetDefault("engine.excludes", []string{})
	v.SetDefault("fetcher.kind", FetcherColly)
	v.SetDefault("fetcher.user_agent", "layered-crawler/0.1")
	v.SetDefault("fetcher.timeout_seconds", 15)
	v.SetDefault("fetcher.max_body_bytes", 10<<20)
	v.SetDefault("fetcher.headless.max_parallel", 2)
	v.SetDefault("fetcher.headless.nav_timeout_seconds", 45)
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.backend", BackendLocal)
	v.SetDefault("archive.base_dir", filepath.Join(DataDir(), "archive"))
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("db.table", "crawl_outcomes")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.topic_name", "crawl-runs")
	v.SetDefault("server.port", 8080)
	v.SetDefault("queue.depth", 64)
	v.SetDefault("runner.workers", 2)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait_ms", 250)
	v.SetDefault("progress.log_events", false)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.EngineOptions().Validate(); err != nil {
		return err
	}
	if c.Engine.DefaultDepth < 0 {
		return fmt.Errorf("engine.default_depth must be >= 0")
	}
	switch c.Fetcher.Kind {
	case FetcherColly:
	case FetcherHeadless:
		if c.Fetcher.Headless.MaxParallel <= 0 {
			return fmt.Errorf("fetcher.headless.max_parallel must be > 0 when fetcher.kind is headless")
		}
	default:
		return fmt.Errorf("fetcher.kind %q must be %q or %q", c.Fetcher.Kind, FetcherColly, FetcherHeadless)
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if c.Archive.Enabled {
		switch c.Archive.Backend {
		case BackendMemory:
		case BackendLocal:
			if c.Archive.BaseDir == "" {
				return fmt.Errorf("archive.base_dir must be set for the local backend")
			}
		case BackendGCS:
			if c.Archive.GCSBucket == "" {
				return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
			}
		default:
			return fmt.Errorf("archive.backend %q must be one of memory, local, gcs", c.Archive.Backend)
		}
	}
	if c.DB.DSN != "" && c.DB.MaxConns <= 0 {
		return fmt.Errorf("db.max_conns must be > 0")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Queue.Depth <= 0 {
		return fmt.Errorf("queue.depth must be > 0")
	}
	if c.Runner.Workers <= 0 {
		return fmt.Errorf("runner.workers must be > 0")
	}
	return nil
}

// EngineOptions converts the engine section into crawler.Options.
func (c Config) EngineOptions() crawler.Options {
	return crawler.Options{
		FetchWorkers:   c.Engine.FetchWorkers,
		ExtractWorkers: c.Engine.ExtractWorkers,
		PerHost:        c.Engine.PerHost,
		Scope:          crawler.StateScope(c.Engine.StateScope),
		ZeroDepth:      crawler.ZeroDepthPolicy(c.Engine.ZeroDepth),
	}
}

// FetchTimeout returns the per-request download budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}

// NavigationTimeout returns the headless navigation budget.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Fetcher.Headless.NavTimeoutSec) * time.Second
}

// BatchWait returns how long the progress hub holds a partial batch.
func (c Config) BatchWait() time.Duration {
	return time.Duration(c.Progress.MaxBatchWaitMs) * time.Millisecond
}
