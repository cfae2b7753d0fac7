package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds runtime configuration.
type Config struct {
	Port         string
	DatabasePath string
	JWTSecret    string

	// Exchange credentials; when BaseURL is empty the server runs against
	// the in-memory mock exchange.
	ExchangeBaseURL   string
	ExchangeAPIKey    string
	ExchangeAPISecret string

	// Demo API credentials registered at startup.
	APIKey    string
	APISecret string

	// Engine bounds
	SubmitTTL            time.Duration
	ReconcileMaxAttempts int
	NotFoundGrace        time.Duration

	// Schedulers
	SweepInterval    time.Duration
	SweepStaleAge    time.Duration
	GovernorInterval time.Duration
}

// Load populates Config using environment variables.
func Load() Config {
	return Config{
		Port:              getenv("PORT", "8080"),
		DatabasePath:      getenv("DATABASE_PATH", "tradewarden.db"),
		JWTSecret:         getenv("JWT_SECRET", "tradewarden-secret-key"),
		ExchangeBaseURL:   os.Getenv("EXCHANGE_BASE_URL"),
		ExchangeAPIKey:    os.Getenv("EXCHANGE_API_KEY"),
		ExchangeAPISecret: os.Getenv("EXCHANGE_API_SECRET"),
		APIKey:            getenv("API_KEY", "test-api-key"),
		APISecret:         getenv("API_SECRET", "test-api-secret"),

		SubmitTTL:            parseDurationEnv("SUBMIT_TTL", 30*time.Second),
		ReconcileMaxAttempts: parseIntEnv("RECONCILE_MAX_ATTEMPTS", 12),
		NotFoundGrace:        parseDurationEnv("NOT_FOUND_GRACE", 2*time.Minute),

		SweepInterval:    parseDurationEnv("SWEEP_INTERVAL", 2*time.Minute),
		SweepStaleAge:    parseDurationEnv("SWEEP_STALE_AGE", 5*time.Minute),
		GovernorInterval: parseDurationEnv("GOVERNOR_INTERVAL", time.Hour),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseIntEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
