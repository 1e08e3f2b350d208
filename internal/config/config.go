// Package config loads application configuration from environment variables
// with defaults. A .env file, when present, is loaded by main before this
// package is consulted.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Default backfill origins: Find a Tender launched in 2021, Contracts Finder
// OCDS data is available from late 2016.
const (
	defaultFatBackfillStart = "2021-01-01T00:00:00Z"
	defaultCfBackfillStart  = "2016-11-01T00:00:00Z"
)

// Config holds all configuration for the application.
type Config struct {
	Storage StorageConfig
	Sync    SyncConfig
	Server  ServerConfig
	Log     LogConfig
}

// StorageConfig holds storage-related configuration.
type StorageConfig struct {
	Type        string // "mongodb", "postgresql", "dynamodb", "memory"
	MongoURI    string
	MongoDB     string // database name
	PostgresURI string
	Region      string // for AWS DynamoDB
	TablePrefix string
	Endpoint    string // custom endpoint for local DynamoDB
}

// SyncConfig holds ingestion-related configuration.
type SyncConfig struct {
	FindATenderBaseURL     string
	ContractsFinderBaseURL string

	FatBackfillStart time.Time
	CfBackfillStart  time.Time

	// Per-invocation item budgets, split ~60/40 in favour of Find a Tender.
	FatMaxItems int
	CfMaxItems  int

	Interval          time.Duration // how often the scheduler fires
	HTTPTimeout       time.Duration
	RetryCount        int
	RequestsPerSecond float64 // client-side pacing toward the upstream APIs
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string // debug|info|warn|error
	Pretty bool   // console writer for local development
}

// Load loads configuration from environment variables with defaults.
func Load() (*Config, error) {
	fatStart, err := getEnvTime("FAT_BACKFILL_START", defaultFatBackfillStart)
	if err != nil {
		return nil, err
	}
	cfStart, err := getEnvTime("CF_BACKFILL_START", defaultCfBackfillStart)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Storage: StorageConfig{
			Type:        getEnv("STORAGE_TYPE", "mongodb"),
			MongoURI:    getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			MongoDB:     getEnv("MONGODB_DATABASE", "tendhunt"),
			PostgresURI: getEnv("POSTGRES_URI", ""),
			Region:      getEnv("AWS_REGION", "eu-west-2"),
			TablePrefix: getEnv("TABLE_PREFIX", "tendhunt"),
			Endpoint:    getEnv("DYNAMODB_ENDPOINT", ""),
		},
		Sync: SyncConfig{
			FindATenderBaseURL:     getEnv("FAT_BASE_URL", "https://www.find-tender.service.gov.uk/api/1.0/ocdsReleasePackages"),
			ContractsFinderBaseURL: getEnv("CF_BASE_URL", "https://www.contractsfinder.service.gov.uk/Published/OCDS/Search"),
			FatBackfillStart:       fatStart,
			CfBackfillStart:        cfStart,
			FatMaxItems:            getEnvInt("FAT_MAX_ITEMS", 900),
			CfMaxItems:             getEnvInt("CF_MAX_ITEMS", 600),
			Interval:               getEnvDuration("SYNC_INTERVAL", 10*time.Minute),
			HTTPTimeout:            getEnvDuration("API_TIMEOUT", 60*time.Second),
			RetryCount:             getEnvInt("RETRY_COUNT", 5),
			RequestsPerSecond:      getEnvFloat("REQUESTS_PER_SECOND", 0.5),
		},
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: getEnvBool("LOG_PRETTY", false),
		},
	}

	return cfg, nil
}

// MaxItems returns the per-invocation item budget for a source identified by
// its canonical name; unknown sources fall back to the smaller budget.
func (c SyncConfig) MaxItems(source string) int {
	if source == "FIND_A_TENDER" {
		return c.FatMaxItems
	}
	return c.CfMaxItems
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvTime(key, defaultValue string) (time.Time, error) {
	raw := getEnv(key, defaultValue)
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return t, nil
}
