package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config aggregates chat sync daemon configuration loaded from environment variables.
type Config struct {
	Env          string
	HTTPAddr     string
	UserID       string
	AuthToken    string
	APIBaseURL   string
	WSBaseURL    string
	PollInterval time.Duration
	MongoURI     string
	MongoDB      string
	KafkaBrokers []string
	KafkaTopic   string
	MarkerMode   string
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:        getEnv("APP_ENV", "dev"),
		HTTPAddr:   getEnv("HTTP_ADDR", ":8090"),
		UserID:     strings.TrimSpace(os.Getenv("CHAT_USER_ID")),
		AuthToken:  strings.TrimSpace(os.Getenv("CHAT_AUTH_TOKEN")),
		APIBaseURL: getEnv("CHAT_API_URL", "http://localhost:8000/api"),
		WSBaseURL:  getEnv("CHAT_WS_URL", "ws://localhost:8000/ws"),
		MongoURI:   os.Getenv("MONGO_URI"),
		MongoDB:    getEnv("MONGO_DB", "househunter"),
		KafkaTopic: getEnv("KAFKA_NOTIFICATIONS_TOPIC", "chat.notifications"),
		MarkerMode: strings.ToLower(getEnv("MARKER_MODE", "mongo")),
	}
	brokers := getEnv("KAFKA_BROKERS", "")
	if brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}

	poll, err := parseDurationEnv("CHAT_POLL_INTERVAL", 15*time.Second)
	if err != nil {
		return Config{}, err
	}
	// Polling frequency is a staleness/resource tradeoff, not a failure-responsive knob.
	if poll < 5*time.Second || poll > 30*time.Second {
		return Config{}, fmt.Errorf("CHAT_POLL_INTERVAL must be between 5s and 30s, got %s", poll)
	}
	cfg.PollInterval = poll

	if cfg.UserID == "" {
		return Config{}, fmt.Errorf("CHAT_USER_ID is required")
	}
	if cfg.AuthToken == "" {
		return Config{}, fmt.Errorf("CHAT_AUTH_TOKEN is required")
	}
	if cfg.MarkerMode != "mongo" && cfg.MarkerMode != "memory" {
		return Config{}, fmt.Errorf("invalid MARKER_MODE %q (mongo or memory)", cfg.MarkerMode)
	}
	if cfg.MarkerMode == "mongo" && cfg.MongoURI == "" {
		return Config{}, fmt.Errorf("MONGO_URI is required when MARKER_MODE=mongo")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
