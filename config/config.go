package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	minFetchTimeout = 10
	maxFetchTimeout = 30
)

type Config struct {
	Passphrase     string
	DBDriver       string
	DBDSN          string
	DataDir        string
	Port           int
	MaxConcurrent  int
	FetchTimeout   int
	RequestDelayMS int
	TotalsTTL      int
	TotalsSchedule string
	DevMode        bool

	Blob BlobConfig
}

// BlobConfig configures the optional object store for raw response bodies.
type BlobConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	MinBytes  int
}

func Load() (*Config, error) {
	cfg := &Config{
		Passphrase:     os.Getenv("CATALOG_INGEST_PASSPHRASE"),
		DBDriver:       getEnvOrDefault("CATALOG_INGEST_DB_DRIVER", "sqlite"),
		DBDSN:          os.Getenv("CATALOG_INGEST_DB_DSN"),
		DataDir:        getEnvOrDefault("CATALOG_INGEST_DATA_DIR", "./data"),
		Port:           getEnvIntOrDefault("CATALOG_INGEST_PORT", 8080),
		MaxConcurrent:  getEnvIntOrDefault("CATALOG_INGEST_MAX_CONCURRENT", 3),
		FetchTimeout:   getEnvIntOrDefault("CATALOG_INGEST_FETCH_TIMEOUT", 20),
		RequestDelayMS: getEnvIntOrDefault("CATALOG_INGEST_REQUEST_DELAY_MS", 1000),
		TotalsTTL:      getEnvIntOrDefault("CATALOG_INGEST_TOTALS_TTL", 3600),
		TotalsSchedule: getEnvOrDefault("CATALOG_INGEST_TOTALS_SCHEDULE", "@hourly"),
		DevMode:        os.Getenv("CATALOG_INGEST_DEV_MODE") == "true",
		Blob: BlobConfig{
			Enabled:   os.Getenv("CATALOG_INGEST_BLOB_ENABLED") == "true",
			Endpoint:  getEnvOrDefault("CATALOG_INGEST_BLOB_ENDPOINT", "localhost:9000"),
			AccessKey: os.Getenv("CATALOG_INGEST_BLOB_ACCESS_KEY"),
			SecretKey: os.Getenv("CATALOG_INGEST_BLOB_SECRET_KEY"),
			Bucket:    getEnvOrDefault("CATALOG_INGEST_BLOB_BUCKET", "raw-responses"),
			UseSSL:    os.Getenv("CATALOG_INGEST_BLOB_USE_SSL") == "true",
			MinBytes:  getEnvIntOrDefault("CATALOG_INGEST_BLOB_MIN_BYTES", 0),
		},
	}

	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	cfg.FetchTimeout = clamp(cfg.FetchTimeout, minFetchTimeout, maxFetchTimeout)
	if cfg.RequestDelayMS < 0 {
		cfg.RequestDelayMS = 0
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	return cfg, nil
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "catalog-ingest.db")
}

// FetchTimeoutDuration is the per-request timeout applied to every external fetch.
func (c *Config) FetchTimeoutDuration() time.Duration {
	return time.Duration(c.FetchTimeout) * time.Second
}

// RequestDelay is the pause between two requests to the same source.
func (c *Config) RequestDelay() time.Duration {
	return time.Duration(c.RequestDelayMS) * time.Millisecond
}

func (c *Config) TotalsTTLDuration() time.Duration {
	return time.Duration(c.TotalsTTL) * time.Second
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
