// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Storage: empty path selects the in-memory store (development only).
	DatabasePath string

	// NATS settings (empty URL disables notifications and the courier)
	NATSURL   string
	NATSToken string

	// Auth
	CronSecret     string
	StaffJWTSecret string

	// CRM settings
	CRMBaseURL string
	CRMAPIKey  string
	CRMTimeout time.Duration

	// Assistant settings
	AnthropicAPIKey string
	OpenAIAPIKey    string

	// Lifecycle timing
	IdleTimeout     time.Duration // T1: active -> paused
	AbandonTimeout  time.Duration // T2: paused -> abandoned, from the pause
	ReconcileWindow time.Duration
	HighValuePhase  int

	// Notification cooldown
	NotifyCooldown time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from the environment (and .env when present).
// Defaults live here and only here.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),

		// Storage
		DatabasePath: getEnv("DATABASE_PATH", "data/funnel.db"),

		// NATS
		NATSURL:   getEnv("NATS_URL", "nats://localhost:4222"),
		NATSToken: getEnv("NATS_TOKEN", ""),

		// Auth
		CronSecret:     getEnv("CRON_SECRET", ""),
		StaffJWTSecret: getEnv("STAFF_JWT_SECRET", "development-secret-change-in-production"),

		// CRM
		CRMBaseURL: getEnv("CRM_BASE_URL", ""),
		CRMAPIKey:  getEnv("CRM_API_KEY", ""),
		CRMTimeout: getDurationEnv("CRM_TIMEOUT", 30*time.Second),

		// Assistant
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),

		// Lifecycle
		IdleTimeout:     getDurationEnv("IDLE_TIMEOUT", 30*time.Minute),
		AbandonTimeout:  getDurationEnv("ABANDON_TIMEOUT", 72*time.Hour),
		ReconcileWindow: getDurationEnv("RECONCILE_WINDOW", 7*24*time.Hour),
		HighValuePhase:  getIntEnv("HIGH_VALUE_PHASE", 2),

		// Notifications
		NotifyCooldown: getDurationEnv("NOTIFY_COOLDOWN", 30*time.Second),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
