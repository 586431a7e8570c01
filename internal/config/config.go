package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	ServerPort string
	GinMode    string
	LogLevel   string
	LogFormat  string
	// UpstreamURL is the admissions API base, e.g. http://localhost:8000/api.
	UpstreamURL     string
	UpstreamTimeout time.Duration
	RedisURL        string
	SnapshotTTL     time.Duration
	// JWTSecret verifies bearer tokens (HS256). The server refuses to start without it.
	JWTSecret string
	// SubmitRatePerMinute bounds answer submissions per user.
	SubmitRatePerMinute int
	// AllowedOrigins controls HTTP CORS and WebSocket origin validation.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // .env is optional

	return &Config{
		ServerPort:          getEnv("SERVER_PORT", "8080"),
		GinMode:             getEnv("GIN_MODE", "debug"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "pretty"),
		UpstreamURL:         strings.TrimRight(getEnv("UPSTREAM_API_URL", "http://localhost:8000/api"), "/"),
		UpstreamTimeout:     time.Duration(getEnvInt("UPSTREAM_TIMEOUT_SECONDS", 15)) * time.Second,
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SnapshotTTL:         time.Duration(getEnvInt("SNAPSHOT_TTL_HOURS", 6)) * time.Hour,
		JWTSecret:           getEnv("JWT_SECRET", ""),
		SubmitRatePerMinute: getEnvInt("SUBMIT_RATE_PER_MINUTE", 120),
		AllowedOrigins:      parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
