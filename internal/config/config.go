package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the correlation search
// service. Precedence: CLI flags > env vars > defaults.
type Config struct {
	PostgresDSN              string
	HTTPPort                 int
	LogLevel                 string
	LogFormat                string
	CORSOrigins              string
	UseXCorrelationHeader    bool
	MaxLegs                  int
	AggregationTimeoutMs     int64
	TerminationTimeoutMs     int64
	CatalogRefreshInterval   time.Duration
	RateLimitRPS             float64
}

// defaults
const (
	defaultHTTPPort               = 8080
	defaultLogLevel               = "info"
	defaultLogFormat              = "text"
	defaultMaxLegs                = 10
	defaultAggregationTimeoutMs   = 60000
	defaultTerminationTimeoutMs   = 10000
	defaultCatalogRefreshInterval = 5 * time.Minute
	defaultRateLimitRPS           = 20
)

// envPrefix is the prefix for all environment variables this service reads.
const envPrefix = "CALLSEARCH_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("callsearch", flag.ContinueOnError)

	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", "", "PostgreSQL connection string for the document store")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.BoolVar(&cfg.UseXCorrelationHeader, "use-x-correlation-header", true, "honor X-Call-ID as a cross-call correlation hint")
	fs.IntVar(&cfg.MaxLegs, "max-legs", defaultMaxLegs, "maximum legs a single correlated call may accumulate")
	fs.Int64Var(&cfg.AggregationTimeoutMs, "aggregation-timeout-ms", defaultAggregationTimeoutMs, "milliseconds a call stays open for further correlation")
	fs.Int64Var(&cfg.TerminationTimeoutMs, "termination-timeout-ms", defaultTerminationTimeoutMs, "milliseconds of created_at tolerance used to match two legs when either has no termination time")
	fs.DurationVar(&cfg.CatalogRefreshInterval, "catalog-refresh-interval", defaultCatalogRefreshInterval, "how often the attribute catalog is refreshed from the store")
	fs.Float64Var(&cfg.RateLimitRPS, "rate-limit-rps", defaultRateLimitRPS, "search requests allowed per second per client IP")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"postgres-dsn":             envPrefix + "POSTGRES_DSN",
		"http-port":                envPrefix + "HTTP_PORT",
		"log-level":                envPrefix + "LOG_LEVEL",
		"log-format":               envPrefix + "LOG_FORMAT",
		"cors-origins":             envPrefix + "CORS_ORIGINS",
		"use-x-correlation-header": envPrefix + "USE_X_CORRELATION_HEADER",
		"max-legs":                 envPrefix + "MAX_LEGS",
		"aggregation-timeout-ms":   envPrefix + "AGGREGATION_TIMEOUT_MS",
		"termination-timeout-ms":   envPrefix + "TERMINATION_TIMEOUT_MS",
		"catalog-refresh-interval": envPrefix + "CATALOG_REFRESH_INTERVAL",
		"rate-limit-rps":           envPrefix + "RATE_LIMIT_RPS",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "postgres-dsn":
			cfg.PostgresDSN = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "cors-origins":
			cfg.CORSOrigins = val
		case "use-x-correlation-header":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.UseXCorrelationHeader = v
			}
		case "max-legs":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.MaxLegs = v
			}
		case "aggregation-timeout-ms":
			if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				cfg.AggregationTimeoutMs = v
			}
		case "termination-timeout-ms":
			if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				cfg.TerminationTimeoutMs = v
			}
		case "catalog-refresh-interval":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.CatalogRefreshInterval = v
			}
		case "rate-limit-rps":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.RateLimitRPS = v
			}
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres-dsn must be set")
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.MaxLegs < 1 {
		return fmt.Errorf("max-legs must be at least 1, got %d", c.MaxLegs)
	}
	if c.AggregationTimeoutMs < 0 {
		return fmt.Errorf("aggregation-timeout-ms must not be negative, got %d", c.AggregationTimeoutMs)
	}
	if c.TerminationTimeoutMs < 0 {
		return fmt.Errorf("termination-timeout-ms must not be negative, got %d", c.TerminationTimeoutMs)
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("rate-limit-rps must be positive, got %f", c.RateLimitRPS)
	}

	return nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
