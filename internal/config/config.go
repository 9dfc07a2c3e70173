package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Autosave modes select where settled bookings are persisted.
const (
	AutosaveOff      = "off"
	AutosaveRedis    = "redis"
	AutosavePostgres = "postgres"
	AutosaveQueue    = "queue"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	PricingDebounce    time.Duration
	OracleURL          string
	OracleTimeout      time.Duration
	OracleCacheTTL     time.Duration
	OracleTariffFile   string
	VoucherURL         string
	VoucherRulesFile   string
	VoucherTimeout     time.Duration
	BreakerMinRequests int
	BreakerFailRatio   float64
	BreakerOpenFor     time.Duration

	SessionIdleTTL      time.Duration
	SessionSweepEvery   time.Duration
	SessionMaxOpen      int
	AutosaveMode        string
	AutosaveDelay       time.Duration
	AutosaveSnapshotTTL time.Duration
	LockTTL             time.Duration

	QueueName        string
	QueueConcurrency int
	QueueMaxRetry    int

	RateLimitWindow   time.Duration
	RateLimitMax      int
	RateLimitWriteMax int
	BodyLimitBytes    int64
	IdempotencyTTL    time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		PricingDebounce:    parseDuration(k.String("PRICING_DEBOUNCE"), "800ms"),
		OracleURL:          strings.TrimRight(strings.TrimSpace(k.String("ORACLE_URL")), "/"),
		OracleTimeout:      parseDuration(k.String("ORACLE_TIMEOUT"), "5s"),
		OracleCacheTTL:     parseDuration(k.String("ORACLE_CACHE_TTL"), "5m"),
		OracleTariffFile:   strings.TrimSpace(k.String("ORACLE_TARIFF_FILE")),
		VoucherURL:         strings.TrimRight(strings.TrimSpace(k.String("VOUCHER_URL")), "/"),
		VoucherRulesFile:   strings.TrimSpace(k.String("VOUCHER_RULES_FILE")),
		VoucherTimeout:     parseDuration(k.String("VOUCHER_TIMEOUT"), "3s"),
		BreakerMinRequests: parseInt(k.String("BREAKER_MIN_REQUESTS"), 10),
		BreakerFailRatio:   parseFloat(k.String("BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:     parseDuration(k.String("BREAKER_OPEN_FOR"), "30s"),

		SessionIdleTTL:      parseDuration(k.String("SESSION_IDLE_TTL"), "30m"),
		SessionSweepEvery:   parseDuration(k.String("SESSION_SWEEP_INTERVAL"), "1m"),
		SessionMaxOpen:      parseInt(k.String("SESSION_MAX_OPEN"), 10000),
		AutosaveMode:        strings.ToLower(valueOrDefault(k.String("AUTOSAVE_MODE"), AutosaveRedis)),
		AutosaveDelay:       parseDuration(k.String("AUTOSAVE_DELAY"), "2s"),
		AutosaveSnapshotTTL: parseDuration(k.String("AUTOSAVE_SNAPSHOT_TTL"), "168h"),
		LockTTL:             parseDuration(k.String("LOCK_TTL"), "10s"),

		QueueName:        valueOrDefault(k.String("QUEUE_NAME"), "autosave"),
		QueueConcurrency: parseInt(k.String("QUEUE_CONCURRENCY"), 10),
		QueueMaxRetry:    parseInt(k.String("QUEUE_MAX_RETRY"), 5),

		RateLimitWindow:   parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:      parseInt(k.String("RATE_LIMIT_MAX"), 600),
		RateLimitWriteMax: parseInt(k.String("RATE_LIMIT_WRITE_MAX"), 120),
		BodyLimitBytes:    int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.OracleURL == "" && cfg.OracleTariffFile == "" {
		return nil, errors.New("ORACLE_URL or ORACLE_TARIFF_FILE is required")
	}
	switch cfg.AutosaveMode {
	case AutosaveOff, AutosaveRedis, AutosaveQueue:
	case AutosavePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required when AUTOSAVE_MODE=postgres")
		}
	default:
		return nil, fmt.Errorf("unknown AUTOSAVE_MODE %q", cfg.AutosaveMode)
	}
	if cfg.BreakerFailRatio <= 0 || cfg.BreakerFailRatio > 1 {
		return nil, errors.New("BREAKER_FAILURE_RATIO must be in (0, 1]")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
