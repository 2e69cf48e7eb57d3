package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr        string
	DatabaseURL string
	RedisURL    string
	CORSOrigin  string
	SaveDelay   time.Duration
}

func Load() Config {
	return Config{
		Addr: getenv("SYNC_ADDR", ":8989"),
		// Empty DATABASE_URL runs the server on the in-memory store,
		// for local development without Postgres.
		DatabaseURL: getenv("DATABASE_URL", ""),
		// Empty REDIS_URL disables the cross-instance bridge.
		RedisURL:   getenv("REDIS_URL", ""),
		CORSOrigin: getenv("SYNC_CORS_ORIGIN", "*"),
		SaveDelay:  time.Duration(getenvInt("SYNC_SAVE_DEBOUNCE_MS", 2000)) * time.Millisecond,
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
