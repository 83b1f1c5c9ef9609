package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrOutOfRange      = errors.New("configuration value out of range")
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"stratum"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"stratum"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	EnableAPI         bool   `envconfig:"ENABLE_API" default:"true"`
	EnableEmbedWorker bool   `envconfig:"ENABLE_EMBED_WORKER" default:"false"`
	MigrationPath     string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	GeminiAPIKey      string `envconfig:"GEMINI_API_KEY"`

	// Embedding queue & worker
	BatchSize              int     `envconfig:"BATCH_SIZE" default:"10"`
	PollIntervalSeconds    int     `envconfig:"POLL_INTERVAL_SECONDS" default:"30"`
	DailyBudgetCap         float64 `envconfig:"DAILY_BUDGET_CAP" default:"5.0"`
	EmbedConcurrency       int     `envconfig:"EMBED_CONCURRENCY" default:"4"`
	EmbedTimeoutSeconds    int     `envconfig:"EMBED_TIMEOUT_SECONDS" default:"60"`
	ProcessingGraceMinutes int     `envconfig:"PROCESSING_GRACE_MINUTES" default:"15"`
	QueueAgingMinutes      int     `envconfig:"QUEUE_AGING_MINUTES" default:"60"`

	// Relationship builder
	SimilarityThreshold float64 `envconfig:"SIMILARITY_THRESHOLD" default:"0.75"`
	TopKPerEntity       int     `envconfig:"TOP_K_PER_ENTITY" default:"5"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root.
	// Ignore errors, as env vars might be set in the shell.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects out-of-range values at startup rather than silently clamping.
func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.BatchSize < 1 || c.BatchSize > 100 {
		return fmt.Errorf("%w: BATCH_SIZE must be in [1, 100], got %d", ErrOutOfRange, c.BatchSize)
	}
	if c.PollIntervalSeconds < 1 || c.PollIntervalSeconds > 3600 {
		return fmt.Errorf("%w: POLL_INTERVAL_SECONDS must be in [1, 3600], got %d", ErrOutOfRange, c.PollIntervalSeconds)
	}
	if c.DailyBudgetCap <= 0 || c.DailyBudgetCap > 1000 {
		return fmt.Errorf("%w: DAILY_BUDGET_CAP must be in (0, 1000], got %g", ErrOutOfRange, c.DailyBudgetCap)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: SIMILARITY_THRESHOLD must be in [0, 1], got %g", ErrOutOfRange, c.SimilarityThreshold)
	}
	if c.TopKPerEntity < 1 || c.TopKPerEntity > 50 {
		return fmt.Errorf("%w: TOP_K_PER_ENTITY must be in [1, 50], got %d", ErrOutOfRange, c.TopKPerEntity)
	}
	if c.EmbedConcurrency < 1 || c.EmbedConcurrency > 64 {
		return fmt.Errorf("%w: EMBED_CONCURRENCY must be in [1, 64], got %d", ErrOutOfRange, c.EmbedConcurrency)
	}
	return nil
}
