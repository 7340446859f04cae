// Package config centralizes how Notely reads its settings and exposes them as
// strongly typed Go values. Values come from an optional YAML file, then from
// environment variables (a .env file is honoured), then from defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the CLI, the worker and the mock
// pipeline.
type Config struct {
	APIURL             string        `yaml:"api_url"`
	UserID             string        `yaml:"user_id"`
	HTTPTimeout        time.Duration `yaml:"http_timeout"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	MaxPollFailures    int           `yaml:"max_poll_failures"`
	MaxVideoBytes      int64         `yaml:"max_video_bytes"`
	MaxDocumentBytes   int64         `yaml:"max_document_bytes"`
	ScreenshotInterval int           `yaml:"screenshot_interval"`
	DashboardTTL       time.Duration `yaml:"dashboard_ttl"`

	Log     LogConfig     `yaml:"log"`
	Redis   RedisConfig   `yaml:"redis"`
	Archive ArchiveConfig `yaml:"archive"`
	Worker  WorkerConfig  `yaml:"worker"`
	Mock    MockConfig    `yaml:"mock"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// RedisConfig locates the asynq broker used for completion tasks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether completion tasks should be enqueued.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// ArchiveConfig points at the MinIO/S3 bucket that receives downloaded
// artifacts.
type ArchiveConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	Bucket    string        `yaml:"bucket"`
	Region    string        `yaml:"region"`
	UseSSL    bool          `yaml:"use_ssl"`
	URLTTL    time.Duration `yaml:"url_ttl"`
}

// Enabled reports whether an archive bucket is configured.
func (a ArchiveConfig) Enabled() bool { return a.Endpoint != "" && a.Bucket != "" }

// WorkerConfig sizes the asynq worker.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// MockConfig configures the simulated pipeline.
type MockConfig struct {
	Address string        `yaml:"address"`
	Step    time.Duration `yaml:"step"`
	Workers int           `yaml:"workers"`
}

const (
	// 500 << 20 equals 500 MiB.
	defaultAPIURL             = "http://localhost:8000"
	defaultUserID             = "demo-user"
	defaultHTTPTimeout        = 60 * time.Second
	defaultPollInterval       = 2 * time.Second
	defaultMaxPollFailures    = 3
	defaultMaxVideoBytes      = 500 << 20
	defaultMaxDocumentBytes   = 50 << 20
	defaultScreenshotInterval = 5
	defaultDashboardTTL       = 30 * time.Second
	defaultArchiveURLTTL      = 24 * time.Hour
	defaultWorkerCount        = 2
	defaultMockAddress        = ":8000"
	defaultMockStep           = 1500 * time.Millisecond
)

// Load reads configuration. path may be empty, in which case only the
// environment and defaults are used.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := &Config{}
	if path == "" {
		path = os.Getenv("NOTELY_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.APIURL = readEnv("NOTELY_API_URL", cfg.APIURL)
	cfg.UserID = readEnv("NOTELY_USER_ID", cfg.UserID)
	cfg.HTTPTimeout = parseDuration("NOTELY_HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.PollInterval = parseDuration("NOTELY_POLL_INTERVAL", cfg.PollInterval)
	cfg.MaxPollFailures = parseInt("NOTELY_MAX_POLL_FAILURES", cfg.MaxPollFailures)
	cfg.MaxVideoBytes = parseInt64("NOTELY_MAX_VIDEO_BYTES", cfg.MaxVideoBytes)
	cfg.MaxDocumentBytes = parseInt64("NOTELY_MAX_DOCUMENT_BYTES", cfg.MaxDocumentBytes)
	cfg.ScreenshotInterval = parseInt("NOTELY_SCREENSHOT_INTERVAL", cfg.ScreenshotInterval)
	cfg.DashboardTTL = parseDuration("NOTELY_DASHBOARD_TTL", cfg.DashboardTTL)

	cfg.Log.Level = readEnv("NOTELY_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = readEnv("NOTELY_LOG_FORMAT", cfg.Log.Format)

	cfg.Redis.Addr = readEnv("NOTELY_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = readEnv("NOTELY_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = parseInt("NOTELY_REDIS_DB", cfg.Redis.DB)

	cfg.Archive.Endpoint = readEnv("NOTELY_S3_ENDPOINT", cfg.Archive.Endpoint)
	cfg.Archive.AccessKey = readEnv("NOTELY_S3_ACCESS_KEY", cfg.Archive.AccessKey)
	cfg.Archive.SecretKey = readEnv("NOTELY_S3_SECRET_KEY", cfg.Archive.SecretKey)
	cfg.Archive.Bucket = readEnv("NOTELY_S3_BUCKET", cfg.Archive.Bucket)
	cfg.Archive.Region = readEnv("NOTELY_S3_REGION", cfg.Archive.Region)
	cfg.Archive.UseSSL = parseBool("NOTELY_S3_USE_SSL", cfg.Archive.UseSSL)
	cfg.Archive.URLTTL = parseDuration("NOTELY_ARCHIVE_URL_TTL", cfg.Archive.URLTTL)

	cfg.Worker.Concurrency = parseInt("NOTELY_WORKERS", cfg.Worker.Concurrency)

	cfg.Mock.Address = readEnv("NOTELY_MOCK_ADDRESS", cfg.Mock.Address)
	cfg.Mock.Step = parseDuration("NOTELY_MOCK_STEP", cfg.Mock.Step)
	cfg.Mock.Workers = parseInt("NOTELY_MOCK_WORKERS", cfg.Mock.Workers)
}

func applyDefaults(cfg *Config) {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.UserID == "" {
		cfg.UserID = defaultUserID
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxPollFailures == 0 {
		cfg.MaxPollFailures = defaultMaxPollFailures
	}
	if cfg.MaxVideoBytes <= 0 {
		cfg.MaxVideoBytes = defaultMaxVideoBytes
	}
	if cfg.MaxDocumentBytes <= 0 {
		cfg.MaxDocumentBytes = defaultMaxDocumentBytes
	}
	if cfg.ScreenshotInterval <= 0 {
		cfg.ScreenshotInterval = defaultScreenshotInterval
	}
	if cfg.DashboardTTL <= 0 {
		cfg.DashboardTTL = defaultDashboardTTL
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Archive.URLTTL <= 0 {
		cfg.Archive.URLTTL = defaultArchiveURLTTL
	}
	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = defaultWorkerCount
	}
	if cfg.Mock.Address == "" {
		cfg.Mock.Address = defaultMockAddress
	}
	if cfg.Mock.Step <= 0 {
		cfg.Mock.Step = defaultMockStep
	}
	if cfg.Mock.Workers <= 0 {
		cfg.Mock.Workers = defaultWorkerCount
	}
}

// Validate rejects settings the client cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: api url %q must be an absolute http(s) URL", c.APIURL)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: poll interval must be positive, got %s", c.PollInterval)
	}
	if c.MaxPollFailures < 1 {
		return fmt.Errorf("config: max poll failures must be at least 1, got %d", c.MaxPollFailures)
	}
	return nil
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	// time.ParseDuration understands inputs like "5m" or "30s".
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
