package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr        string
	DatabaseURL string // empty runs in-memory only
	JWTSecret   string

	HeartbeatTimeout time.Duration // app-level liveness window
	SweepInterval    time.Duration
	AutoLockInterval time.Duration
}

func Load() Config {
	return Config{
		Addr:             getString("ADDR", ":8080"),
		DatabaseURL:      getString("DATABASE_URL", ""),
		JWTSecret:        getString("JWT_SECRET", "dev-secret"),
		HeartbeatTimeout: getDuration("HEARTBEAT_TIMEOUT", 75*time.Second),
		SweepInterval:    getDuration("SWEEP_INTERVAL", 15*time.Second),
		AutoLockInterval: getDuration("AUTOLOCK_INTERVAL", 30*time.Second),
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
