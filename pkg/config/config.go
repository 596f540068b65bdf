// Package config loads service configuration from the environment and
// governance profiles from YAML.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds service configuration.
type Config struct {
	Port         string
	LogLevel     string
	DatabasePath string
	RedisAddr    string
	RedisDB      int
	ProfilesDir  string
	PolicyDir    string

	CacheTTL       time.Duration
	ApprovalWindow time.Duration
	PollInterval   time.Duration
	SweepInterval  time.Duration
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbPath := os.Getenv("WARDEN_DB_PATH")
	if dbPath == "" {
		dbPath = "warden.db"
	}

	redisDB := 0
	if v := os.Getenv("WARDEN_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			redisDB = n
		}
	}

	return &Config{
		Port:           port,
		LogLevel:       logLevel,
		DatabasePath:   dbPath,
		RedisAddr:      os.Getenv("WARDEN_REDIS_ADDR"),
		RedisDB:        redisDB,
		ProfilesDir:    envDefault("WARDEN_PROFILES_DIR", "profiles"),
		PolicyDir:      os.Getenv("WARDEN_POLICY_DIR"),
		CacheTTL:       envDuration("WARDEN_CACHE_TTL", 30*time.Second),
		ApprovalWindow: envDuration("WARDEN_APPROVAL_WINDOW", 10*time.Minute),
		PollInterval:   envDuration("WARDEN_POLL_INTERVAL", 5*time.Second),
		SweepInterval:  envDuration("WARDEN_SWEEP_INTERVAL", time.Minute),
	}
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
