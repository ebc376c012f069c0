package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Store backends selectable with STORE_BACKEND.
const (
	BackendSupabase = "supabase"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Storage
	StoreBackend string
	DatabaseURL  string

	// HTTP client (Supabase)
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache (Redis when RedisAddr is set, in-memory otherwise)
	CacheTTL      time.Duration
	RedisAddr     string
	RedisPassword string

	// Observability
	OTLPEndpoint string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string

	// Auth: Supabase JWT secret (HS256)
	JWTSecret string
	DevAuth   bool // DEV_AUTH=true trusts the X-Owner-ID header

	// Metrics thresholds
	CPMExcellentBelow decimal.Decimal
	CPMHighAbove      decimal.Decimal
	CPVExcellentAbove decimal.Decimal
	CPVWeakBelow      decimal.Decimal
	TaxAlertThreshold decimal.Decimal
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StoreBackend: getEnv("STORE_BACKEND", BackendSupabase),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		CacheTTL:      getEnvDuration("CACHE_TTL", 30*time.Second),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),
		DevAuth:   getEnv("DEV_AUTH", "false") == "true",

		CPMExcellentBelow: getEnvDecimal("CPM_EXCELLENT_BELOW", decimal.NewFromInt(18)),
		CPMHighAbove:      getEnvDecimal("CPM_HIGH_ABOVE", decimal.NewFromInt(25)),
		CPVExcellentAbove: getEnvDecimal("CPV_EXCELLENT_ABOVE", decimal.NewFromInt(28)),
		CPVWeakBelow:      getEnvDecimal("CPV_WEAK_BELOW", decimal.NewFromInt(22)),
		TaxAlertThreshold: getEnvDecimal("TAX_ALERT_THRESHOLD", decimal.NewFromInt(35000)),
	}
}

// Validate checks the settings the selected backend needs.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendSupabase:
		if c.SupabaseURL == "" {
			return fmt.Errorf("SUPABASE_URL is required for the %s backend", c.StoreBackend)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s backend", c.StoreBackend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.JWTSecret == "" && !c.DevAuth {
		return fmt.Errorf("JWT_SECRET is required unless DEV_AUTH=true")
	}
	if c.CPMHighAbove.LessThan(c.CPMExcellentBelow) {
		return fmt.Errorf("CPM_HIGH_ABOVE must not be below CPM_EXCELLENT_BELOW")
	}
	if c.CPVExcellentAbove.LessThan(c.CPVWeakBelow) {
		return fmt.Errorf("CPV_EXCELLENT_ABOVE must not be below CPV_WEAK_BELOW")
	}
	return nil
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

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return fallback
}
