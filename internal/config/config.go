// Package config collects a meshsync node's environment-driven
// settings, following the getEnv-with-fallback idiom of the reference
// server's cmd/*-service/internal/config packages. internal/db reads
// DATABASE_URL and REDIS_URL itself; this package covers everything
// those two packages don't.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is a single node's full runtime configuration.
type Config struct {
	// ListenAddr is the address the websocket transport and metrics
	// endpoint are served from.
	ListenAddr string
	// WSPath is the mux route prefix peer websocket connections join
	// under, e.g. "/ws" for "/ws/{peer_id}".
	WSPath string

	MigrationsPath string

	// DBMaxOpenConns and DBMaxIdleConns size the Postgres connection
	// pool; DBConnMaxLifetime bounds how long a pooled connection is
	// reused before it's recycled.
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// ArchiveEnabled toggles the object-storage snapshot exporter.
	ArchiveEnabled   bool
	ArchiveEndpoint  string
	ArchiveBucket    string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveUseSSL    bool
	ArchiveRegion    string

	RateLimitEnabled bool
	PresenceEnabled  bool
}

// Load reads configuration from the environment, applying the same
// fallback defaults the reference server's config packages use for
// local development.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		WSPath:            getEnv("WS_PATH", "/ws"),
		MigrationsPath:    getEnv("MIGRATIONS_PATH", "migrations"),
		DBMaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		ArchiveEnabled:    getBool("ARCHIVE_ENABLED", false),
		ArchiveEndpoint:   getEnv("ARCHIVE_ENDPOINT", "localhost:9000"),
		ArchiveBucket:     getEnv("ARCHIVE_BUCKET", "meshsync-snapshots"),
		ArchiveAccessKey:  os.Getenv("ARCHIVE_ACCESS_KEY"),
		ArchiveSecretKey:  os.Getenv("ARCHIVE_SECRET_KEY"),
		ArchiveUseSSL:     getBool("ARCHIVE_USE_SSL", true),
		ArchiveRegion:     getEnv("ARCHIVE_REGION", "us-east-1"),
		RateLimitEnabled:  getBool("RATE_LIMIT_ENABLED", true),
		PresenceEnabled:   getBool("PRESENCE_ENABLED", false),
	}
	if cfg.ArchiveEnabled && (cfg.ArchiveAccessKey == "" || cfg.ArchiveSecretKey == "") {
		return nil, fmt.Errorf("config: ARCHIVE_ENABLED requires ARCHIVE_ACCESS_KEY and ARCHIVE_SECRET_KEY")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
