package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

type RedisConfig struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"` // key prefix for queue structures
}

type StorageConfig struct {
	Backend string `yaml:"backend"` // gcs | memory
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
}

type ExtractorConfig struct {
	Provider        string `yaml:"provider"` // gemini | openai | noop
	GeminiKey       string `yaml:"gemini_key"`
	GeminiURL       string `yaml:"gemini_url"`
	OpenAIKey       string `yaml:"openai_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	DefaultModel    string `yaml:"default_model"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
}

type PipelineConfig struct {
	Workers           int           `yaml:"workers"`
	PollInterval      time.Duration `yaml:"poll_interval"`      // dispatcher tick
	DequeueTimeout    time.Duration `yaml:"dequeue_timeout"`    // blocking dequeue wait
	LeaseTTL          time.Duration `yaml:"lease_ttl"`          // visibility timeout
	SweepInterval     time.Duration `yaml:"sweep_interval"`     // reconcile cadence
	MaxAttempts       int           `yaml:"max_attempts"`       // per-task retry cap
	FailureThreshold  float64       `yaml:"failure_threshold"`  // fraction 0..1
	RetryBackoff      time.Duration `yaml:"retry_backoff"`      // base, doubles per attempt
	StalePendingAfter time.Duration `yaml:"stale_pending_after"`
	SplitUploadLimit  int           `yaml:"split_upload_limit"`
	DedupeSources     bool          `yaml:"dedupe_sources"`
}

type WebConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type CallbackConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Extract  ExtractorConfig `yaml:"extractor"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Web      WebConfig      `yaml:"web"`
	Callback CallbackConfig `yaml:"callback"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Redis.Namespace == "" {
		cfg.Redis.Namespace = "pdf2md"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "gcs"
	}
	if cfg.Extract.DefaultModel == "" {
		cfg.Extract.DefaultModel = "gemini-2.0-flash"
	}
	if cfg.Extract.MaxOutputTokens <= 0 {
		cfg.Extract.MaxOutputTokens = 8192
	}
	if cfg.Pipeline.Workers <= 0 {
		cfg.Pipeline.Workers = 8
	}
	if cfg.Pipeline.PollInterval <= 0 {
		cfg.Pipeline.PollInterval = 500 * time.Millisecond
	}
	if cfg.Pipeline.DequeueTimeout <= 0 {
		cfg.Pipeline.DequeueTimeout = 5 * time.Second
	}
	if cfg.Pipeline.LeaseTTL <= 0 {
		cfg.Pipeline.LeaseTTL = 2 * time.Minute
	}
	if cfg.Pipeline.SweepInterval <= 0 {
		cfg.Pipeline.SweepInterval = 15 * time.Second
	}
	if cfg.Pipeline.MaxAttempts <= 0 {
		cfg.Pipeline.MaxAttempts = 3
	}
	if cfg.Pipeline.FailureThreshold <= 0 || cfg.Pipeline.FailureThreshold > 1 {
		cfg.Pipeline.FailureThreshold = 0.5
	}
	if cfg.Pipeline.RetryBackoff <= 0 {
		cfg.Pipeline.RetryBackoff = 10 * time.Second
	}
	if cfg.Pipeline.StalePendingAfter <= 0 {
		cfg.Pipeline.StalePendingAfter = 5 * time.Minute
	}
	if cfg.Pipeline.SplitUploadLimit <= 0 {
		cfg.Pipeline.SplitUploadLimit = 10
	}
	if cfg.Web.Port <= 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Callback.Timeout <= 0 {
		cfg.Callback.Timeout = 10 * time.Second
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Storage.Backend == "gcs" && cfg.Storage.Bucket == "" {
		return nil, errors.New("storage.bucket is required for the gcs backend")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
