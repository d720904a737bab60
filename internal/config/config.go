// Package config provides environment-aware configuration management for the
// gateway and worker processes.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config holds all application configuration, loaded from the environment.
type Config struct {
	Env Environment

	// Database
	DatabaseURL      string
	DBMaxConnections int
	DBIdleTimeout    time.Duration

	// HTTP
	GatewayPort       int
	MetricsPort       int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxRequestBytes   int64
	CORSOrigins       []string
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Auth
	JWTSigningKey string
	JWTExpiry     time.Duration

	// Worker loop cadences
	IngestPollInterval    time.Duration
	OrchestratorIdle      time.Duration
	WatchdogSweepInterval time.Duration
	ScheduleSweepInterval time.Duration
	DLQSweepInterval      time.Duration
	TenancyReloadInterval time.Duration

	// Features
	MetricsEnabled       bool
	EnableDebugEndpoints bool

	// Source ingestion
	SourceKind            string // "relational" or "distributedlog"
	SourceTable           string
	SourceCheckpointKey   string
	SourceWebsocketURL    string
	SourceWebsocketToken  string
}

// Load loads configuration based on the GATEWAY_ENV environment variable,
// optionally overlaying a .env file for local development.
func Load() (*Config, error) {
	envStr := os.Getenv("GATEWAY_ENV")
	if envStr == "" {
		envStr = string(Development)
	}
	env := Environment(envStr)
	switch env {
	case Development, Testing, Production:
	default:
		return nil, fmt.Errorf("invalid GATEWAY_ENV: %s (must be development, testing, or production)", envStr)
	}

	if err := godotenv.Load(fmt.Sprintf("config/%s.env", env)); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("warning: could not load env file for %s: %v\n", env, err)
		}
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	c.DatabaseURL = getEnv("DATABASE_URL", "postgres://localhost:5432/gateway?sslmode=disable")
	c.DBMaxConnections = getIntEnv("DB_MAX_CONNECTIONS", 20)

	var err error
	if c.DBIdleTimeout, err = getDurationEnv("DB_IDLE_TIMEOUT", "5m"); err != nil {
		return err
	}

	c.GatewayPort = getIntEnv("GATEWAY_PORT", 8080)
	c.MetricsPort = getIntEnv("METRICS_PORT", 9090)
	if c.ReadTimeout, err = getDurationEnv("HTTP_READ_TIMEOUT", "15s"); err != nil {
		return err
	}
	if c.WriteTimeout, err = getDurationEnv("HTTP_WRITE_TIMEOUT", "30s"); err != nil {
		return err
	}
	if c.IdleTimeout, err = getDurationEnv("HTTP_IDLE_TIMEOUT", "60s"); err != nil {
		return err
	}
	if c.ShutdownTimeout, err = getDurationEnv("HTTP_SHUTDOWN_TIMEOUT", "30s"); err != nil {
		return err
	}
	c.MaxRequestBytes = int64(getIntEnv("HTTP_MAX_BODY_BYTES", 1<<20))
	c.CORSOrigins = strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "*"), ",")
	c.RateLimitEnabled = getBoolEnv("RATE_LIMIT_ENABLED", true)
	c.RateLimitRequests = getIntEnv("RATE_LIMIT_REQUESTS", 100)
	if c.RateLimitWindow, err = getDurationEnv("RATE_LIMIT_WINDOW", "1m"); err != nil {
		return err
	}

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")

	c.JWTSigningKey = getEnv("JWT_SIGNING_KEY", "")
	if c.JWTExpiry, err = getDurationEnv("JWT_EXPIRY", "15m"); err != nil {
		return err
	}

	if c.IngestPollInterval, err = getDurationEnv("INGEST_POLL_INTERVAL", "2s"); err != nil {
		return err
	}
	if c.OrchestratorIdle, err = getDurationEnv("ORCHESTRATOR_IDLE_INTERVAL", "500ms"); err != nil {
		return err
	}
	if c.WatchdogSweepInterval, err = getDurationEnv("WATCHDOG_SWEEP_INTERVAL", "30s"); err != nil {
		return err
	}
	if c.ScheduleSweepInterval, err = getDurationEnv("SCHEDULE_SWEEP_INTERVAL", "5s"); err != nil {
		return err
	}
	if c.DLQSweepInterval, err = getDurationEnv("DLQ_SWEEP_INTERVAL", "10s"); err != nil {
		return err
	}
	if c.TenancyReloadInterval, err = getDurationEnv("TENANCY_RELOAD_INTERVAL", "60s"); err != nil {
		return err
	}

	c.MetricsEnabled = getBoolEnv("METRICS_ENABLED", c.Env == Production || c.Env == Development)
	c.EnableDebugEndpoints = getBoolEnv("ENABLE_DEBUG_ENDPOINTS", c.Env != Production)

	c.SourceKind = getEnv("SOURCE_KIND", "relational")
	c.SourceTable = getEnv("SOURCE_TABLE", "source_events")
	c.SourceCheckpointKey = getEnv("SOURCE_CHECKPOINT_KEY", "default")
	c.SourceWebsocketURL = getEnv("SOURCE_WEBSOCKET_URL", "")
	c.SourceWebsocketToken = getEnv("SOURCE_WEBSOCKET_TOKEN", "")
	return nil
}

// IsProduction reports whether the configured environment is production.
func (c *Config) IsProduction() bool { return c.Env == Production }

// Validate enforces production-safety invariants.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.JWTSigningKey == "" {
			return fmt.Errorf("JWT_SIGNING_KEY must be set in production")
		}
		if c.EnableDebugEndpoints {
			return fmt.Errorf("ENABLE_DEBUG_ENDPOINTS must be false in production")
		}
		if !c.RateLimitEnabled {
			return fmt.Errorf("RATE_LIMIT_ENABLED must be true in production")
		}
	}
	if c.GatewayPort < 1 || c.GatewayPort > 65535 {
		return fmt.Errorf("invalid GATEWAY_PORT: %d", c.GatewayPort)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key, defaultValue string) (time.Duration, error) {
	v := getEnv(key, defaultValue)
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
