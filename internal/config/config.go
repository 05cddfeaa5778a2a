package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/ledger-sync/internal/infra/resilience"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port       int
	LogLevel   string
	InstanceID string // origin stamped on cache notifications; generated when empty

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Local cache
	LocalDBPath string // empty keeps the cache in memory
	ReportsTTL  time.Duration

	// Currency rates
	FxProviderURL   string
	FxCacheWindow   time.Duration
	FxFetchTimeout  time.Duration
	FxQuoteTTL      time.Duration
	FxMaxRetries    int
	FxRateOverrides map[string]float64

	// Observability
	OTLPEndpoint string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	SupabaseJWTSecret  string
	UseSupabase        bool

	// Change fan-out
	AMQPURL      string
	AMQPExchange string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	overrides, err := ParseRateOverrides(getEnv("FX_RATE_OVERRIDES", ""))
	if err != nil {
		// Bad overrides are ignored.
		overrides = map[string]float64{}
	}

	return &Config{
		Port:       getEnvInt("PORT", 8080),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		InstanceID: getEnv("INSTANCE_ID", ""),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		LocalDBPath: getEnv("LOCAL_DB_PATH", "data/ledger.db"),
		ReportsTTL:  getEnvDuration("REPORTS_TTL", 5*time.Minute),

		FxProviderURL:   getEnv("FX_PROVIDER_URL", "https://api.frankfurter.app"),
		FxCacheWindow:   getEnvDuration("FX_CACHE_WINDOW", 12*time.Hour),
		FxFetchTimeout:  getEnvDuration("FX_FETCH_TIMEOUT", 5*time.Second),
		FxQuoteTTL:      getEnvDuration("FX_QUOTE_TTL", 30*time.Minute),
		FxMaxRetries:    getEnvInt("FX_MAX_RETRIES", 2),
		FxRateOverrides: overrides,

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		SupabaseJWTSecret:  getEnv("SUPABASE_JWT_SECRET", "ledger-default-dev-secret-change-me"),
		UseSupabase:        getEnv("USE_SUPABASE", "false") == "true",

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "ledger.changes"),
	}
}

// Resilience returns the retry and bulkhead settings for outbound calls.
func (c *Config) Resilience() resilience.Config {
	return resilience.Config{
		MaxRetries:     c.MaxRetries,
		InitialBackoff: c.InitialBackoff,
		MaxConcurrency: c.MaxConcurrency,
	}
}

// FxResilience returns the retry settings for rate fetches.
func (c *Config) FxResilience() resilience.Config {
	rc := c.Resilience()
	rc.MaxRetries = c.FxMaxRetries
	return rc
}

// ParseRateOverrides parses "SYP=0.000077,IRR=0.0000238" into unit->USD rates.
func ParseRateOverrides(s string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, raw, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("rate override %q: expected CODE=rate", part)
		}
		code = strings.ToUpper(strings.TrimSpace(code))
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || v <= 0 || code == "" {
			return nil, fmt.Errorf("rate override %q: invalid rate", part)
		}
		out[code] = v
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
