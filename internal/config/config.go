package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// #region config

// Config aggregates the environment-driven settings for the agent daemon.
// Package defaults for the learning subsystems live next to their packages;
// this covers wiring and paths.
type Config struct {
	ListenAddr string

	// RegistryDB holds model versions; ArchiveDB holds the durable
	// experience archive. Empty ArchiveDB disables archiving.
	RegistryDB string
	ArchiveDB  string

	// RedisAddr enables the redis profile store and event channel when set.
	RedisAddr     string
	RedisPassword string
	EventChannel  string

	// OpenAIKey enables the hosted generator and encoder. Empty key runs
	// the deterministic in-process fake, which keeps tests and local dev
	// hermetic.
	OpenAIKey     string
	OpenAIBaseURL string
	ChatModel     string
	EmbedModel    string

	FeedbackWindow time.Duration
	SweepInterval  time.Duration

	Seed int64
}

// Load reads .env when present then assembles config from the environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		ListenAddr:     envOr("LISTEN_ADDR", ":8085"),
		RegistryDB:     envOr("REGISTRY_DB", "adaptive_response.db"),
		ArchiveDB:      envOr("ARCHIVE_DB", ""),
		RedisAddr:      envOr("REDIS_ADDR", ""),
		RedisPassword:  envOr("REDIS_PASSWORD", ""),
		EventChannel:   envOr("EVENT_CHANNEL", "adaptive-response-events"),
		OpenAIKey:      envOr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  envOr("OPENAI_BASE_URL", ""),
		ChatModel:      envOr("CHAT_MODEL", ""),
		EmbedModel:     envOr("EMBED_MODEL", ""),
		FeedbackWindow: envDuration("FEEDBACK_WINDOW", 24*time.Hour),
		SweepInterval:  envDuration("SWEEP_INTERVAL", 5*time.Minute),
		Seed:           envInt64("MODEL_SEED", 1),
	}
}

// #endregion config

// #region helpers

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// #endregion helpers
