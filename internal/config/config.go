package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Server
	Port string

	// Matchmaking
	EloStartRating int
	EloKFactor     int
	EloRange       int
	QueueTTL       time.Duration

	// Match runtime
	TurnTimeout      time.Duration
	IdempotencyMax   int
	EventBufferMax   int
	SSEWriteTimeout  time.Duration
	FeaturedCacheTTL time.Duration
	LongPollDefault  time.Duration
	TimeoutPollSecs  int
	TestMode         bool

	// Rate limiting (move submissions per agent per window)
	MoveRateLimit  int
	MoveRateWindow time.Duration

	// Security
	AdminKey  string
	RunnerKey string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		Environment: getEnv("APP_ENV", "development"),

		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/fightclaw?sslmode=disable"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		Port: getEnv("APP_PORT", "8080"),

		EloStartRating: getEnvInt("ELO_START_RATING", 1500),
		EloKFactor:     getEnvInt("ELO_K_FACTOR", 32),
		EloRange:       getEnvInt("ELO_RANGE", 200),
		QueueTTL:       getEnvDuration("QUEUE_TTL_SECONDS", 600),

		TurnTimeout:      getEnvDuration("TURN_TIMEOUT_SECONDS", 60),
		IdempotencyMax:   getEnvInt("IDEMPOTENCY_MAX", 200),
		EventBufferMax:   getEnvInt("EVENT_BUFFER_MAX", 25),
		SSEWriteTimeout:  getEnvDuration("SSE_WRITE_TIMEOUT_SECONDS", 5),
		FeaturedCacheTTL: getEnvDuration("FEATURED_CACHE_TTL_SECONDS", 10),
		LongPollDefault:  getEnvDuration("LONG_POLL_DEFAULT_SECONDS", 30),
		TimeoutPollSecs:  getEnvInt("TIMEOUT_POLL_SECONDS", 1),
		TestMode:         getEnv("TEST_MODE", "") == "true",

		MoveRateLimit:  getEnvInt("MOVE_RATE_LIMIT", 30),
		MoveRateWindow: getEnvDuration("MOVE_RATE_WINDOW_SECONDS", 10),

		AdminKey:  getEnv("ADMIN_KEY", ""),
		RunnerKey: getEnv("RUNNER_KEY", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}
