package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"neurodiff/domain/stats"
	"neurodiff/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Pipeline   PipelineConfig
	Enrichment EnrichmentConfig
	Store      StoreConfig
	Server     ServerConfig
}

// PipelineConfig holds the analysis parameters of a run
type PipelineConfig struct {
	Seed        int64
	HVGCount    int
	Components  int
	Alpha       float64
	Workers     int
	Exclusions  []string // sample ids removed before any stage
	Group       string
	Reference   string
	Test        string
	Covariates  []string
	Factors     []string
	CodeVersion string
}

// EnrichmentConfig holds enrichment service and retry settings
type EnrichmentConfig struct {
	Enabled           bool
	Backend           string // "enrichr" or "local"
	BaseURL           string
	GeneSetDir        string
	Databases         []string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	Cutoff            float64
	Concurrency       int
}

// StoreConfig holds result store connection settings
type StoreConfig struct {
	Enabled bool
	Driver  string // "postgres" or "sqlite"
	DSN     string
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port    string
	GinMode string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Pipeline:   loadPipelineConfig(),
		Enrichment: loadEnrichmentConfig(),
		Store:      loadStoreConfig(),
		Server:     loadServerConfig(),
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func loadPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Seed:        int64(getEnvIntOrDefault("NEURODIFF_SEED", 42)),
		HVGCount:    getEnvIntOrDefault("HVG_COUNT", 500),
		Components:  getEnvIntOrDefault("PCA_COMPONENTS", 5),
		Alpha:       getEnvFloatOrDefault("DE_ALPHA", stats.DefaultAlpha),
		Workers:     getEnvIntOrDefault("WORKERS", runtime.NumCPU()),
		Exclusions:  getEnvListOrDefault("EXCLUDE_SAMPLES", nil),
		Group:       getEnvOrDefault("DESIGN_GROUP", "group"),
		Reference:   getEnvOrDefault("DESIGN_REFERENCE", ""),
		Test:        getEnvOrDefault("DESIGN_TEST", ""),
		Covariates:  getEnvListOrDefault("DESIGN_COVARIATES", nil),
		Factors:     getEnvListOrDefault("DESIGN_FACTORS", nil),
		CodeVersion: getEnvOrDefault("CODE_VERSION", "dev"),
	}
}

func loadEnrichmentConfig() EnrichmentConfig {
	return EnrichmentConfig{
		Enabled:           getEnvBoolOrDefault("ENRICHMENT_ENABLED", true),
		Backend:           getEnvOrDefault("ENRICHMENT_BACKEND", "enrichr"),
		BaseURL:           getEnvOrDefault("ENRICHR_URL", "https://maayanlab.cloud/Enrichr"),
		GeneSetDir:        getEnvOrDefault("GENESET_DIR", ""),
		Databases:         getEnvListOrDefault("ENRICHMENT_DATABASES", stats.DefaultDatabases),
		Timeout:           getEnvDurationOrDefault("ENRICHMENT_TIMEOUT", 30*time.Second),
		RequestsPerSecond: getEnvFloatOrDefault("ENRICHMENT_RPS", 2),
		Burst:             getEnvIntOrDefault("ENRICHMENT_BURST", 2),
		MaxAttempts:       getEnvIntOrDefault("ENRICHMENT_MAX_ATTEMPTS", 3),
		InitialBackoff:    getEnvDurationOrDefault("ENRICHMENT_BACKOFF", 500*time.Millisecond),
		MaxBackoff:        getEnvDurationOrDefault("ENRICHMENT_MAX_BACKOFF", 8*time.Second),
		Cutoff:            getEnvFloatOrDefault("ENRICHMENT_CUTOFF", stats.DefaultEnrichmentCutoff),
		Concurrency:       getEnvIntOrDefault("ENRICHMENT_CONCURRENCY", 4),
	}
}

func loadStoreConfig() StoreConfig {
	driver := getEnvOrDefault("STORE_DRIVER", "sqlite")
	dsn := getEnvOrDefault("STORE_DSN", "")
	if dsn == "" {
		if driver == "postgres" {
			dsn = os.Getenv("DATABASE_URL")
		} else {
			dsn = "neurodiff.db"
		}
	}
	return StoreConfig{
		Enabled: getEnvBoolOrDefault("STORE_ENABLED", true),
		Driver:  driver,
		DSN:     dsn,
	}
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),
	}
}

func validateConfig(config *Config) error {
	p := config.Pipeline
	if p.HVGCount < 1 {
		return errors.ConfigInvalid("HVG_COUNT must be at least 1")
	}
	if p.Components < 1 {
		return errors.ConfigInvalid("PCA_COMPONENTS must be at least 1")
	}
	if p.Alpha <= 0 || p.Alpha >= 1 {
		return errors.ConfigInvalid("DE_ALPHA must be in (0,1)")
	}
	if p.Workers < 1 {
		return errors.ConfigInvalid("WORKERS must be at least 1")
	}
	if p.Group == "" {
		return errors.ConfigInvalid("DESIGN_GROUP cannot be empty")
	}

	e := config.Enrichment
	if e.Enabled {
		switch e.Backend {
		case "enrichr":
			if e.BaseURL == "" {
				return errors.ConfigInvalid("ENRICHR_URL is required for the enrichr backend")
			}
		case "local":
			if e.GeneSetDir == "" {
				return errors.ConfigInvalid("GENESET_DIR is required for the local backend")
			}
		default:
			return errors.ConfigInvalid(fmt.Sprintf("unknown ENRICHMENT_BACKEND %q", e.Backend))
		}
		if len(e.Databases) == 0 {
			return errors.ConfigInvalid("ENRICHMENT_DATABASES cannot be empty")
		}
		seen := make(map[string]bool)
		for _, db := range e.Databases {
			if seen[db] {
				return errors.ConfigInvalid(fmt.Sprintf("database %s listed twice", db))
			}
			seen[db] = true
		}
	}
	if e.MaxAttempts < 1 || e.Concurrency < 1 {
		return errors.ConfigInvalid("ENRICHMENT_MAX_ATTEMPTS and ENRICHMENT_CONCURRENCY must be at least 1")
	}
	if e.Cutoff <= 0 || e.Cutoff > 1 {
		return errors.ConfigInvalid("ENRICHMENT_CUTOFF must be in (0,1]")
	}
	if e.RequestsPerSecond <= 0 {
		return errors.ConfigInvalid("ENRICHMENT_RPS must be positive")
	}

	s := config.Store
	if s.Enabled {
		if s.Driver != "postgres" && s.Driver != "sqlite" {
			return errors.ConfigInvalid(fmt.Sprintf("unknown STORE_DRIVER %q", s.Driver))
		}
		if s.DSN == "" {
			return errors.ConfigInvalid("STORE_DSN or DATABASE_URL is required")
		}
	}
	if _, err := strconv.Atoi(config.Server.Port); err != nil {
		return errors.ConfigInvalid("PORT must be numeric")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvListOrDefault splits a comma separated value, dropping blanks.
func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
