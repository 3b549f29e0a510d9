// Package db owns the two durable backing stores every meshsync node
// depends on: Postgres for the Record Store and the operator/admin
// user table, Redis for rate-limit counters and the optional presence
// signal. Pool sizing and migration discovery are driven by
// internal/config rather than hardcoded, so a node operator can tune
// them per deployment without a rebuild.
package db

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/kindlyrobotics/meshsync/internal/config"
)

// DB bundles a node's Postgres and Redis handles. Redis is optional:
// NewDB logs a warning and leaves Redis nil rather than failing node
// startup, since rate limiting and presence both degrade gracefully
// without it.
type DB struct {
	Postgres *sql.DB
	Redis    *redis.Client
}

// NewDB opens the Postgres connection pool (sized from cfg) and, best
// effort, the Redis client.
func NewDB(cfg *config.Config) (*DB, error) {
	postgresURL := os.Getenv("DATABASE_URL")
	if postgresURL == "" {
		return nil, fmt.Errorf("db: DATABASE_URL environment variable is required")
	}

	pg, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("db: open postgres: %w", err)
	}

	pg.SetMaxOpenConns(cfg.DBMaxOpenConns)
	pg.SetMaxIdleConns(cfg.DBMaxIdleConns)
	pg.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pg.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("db: ping postgres: %w", err)
	}

	log.Printf("[db] postgres connection pool ready (max_open=%d max_idle=%d lifetime=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)

	// Redis supports both "host:port" and "redis://..." URL formats.
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "localhost:6379"
	}

	redisOpts := &redis.Options{
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DB:           0,
	}

	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		parsedURL, err := url.Parse(redisURL)
		if err != nil {
			log.Printf("[db] parse REDIS_URL: %v (continuing without redis)", err)
		} else {
			redisOpts.Addr = parsedURL.Host
			if parsedURL.User != nil {
				redisOpts.Username = parsedURL.User.Username()
				if password, ok := parsedURL.User.Password(); ok {
					redisOpts.Password = password
				}
			}
			if parsedURL.Scheme == "rediss" {
				redisOpts.TLSConfig = &tls.Config{
					MinVersion: tls.VersionTLS12,
				}
			}
		}
	} else {
		redisOpts.Addr = redisURL
		redisOpts.Password = os.Getenv("REDIS_PASSWORD")
	}

	rdb := redis.NewClient(redisOpts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("[db] connect redis: %v (rate limiting and presence will fail open)", err)
		rdb = nil
	} else {
		log.Println("[db] redis connection ready")
	}

	return &DB{
		Postgres: pg,
		Redis:    rdb,
	}, nil
}

// Close closes both connections, returning a combined error if either
// fails.
func (db *DB) Close() error {
	var errs []error

	if db.Postgres != nil {
		if err := db.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close postgres: %w", err))
		}
	}

	if db.Redis != nil {
		if err := db.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("db: %v", errs)
	}

	return nil
}

// RunMigrations applies every *.sql file under migrationsPath, in
// sorted order, recording each in schema_migrations so restarts don't
// reapply it.
func (db *DB) RunMigrations(migrationsPath string) error {
	log.Println("[db] running migrations")

	_, err := db.Postgres.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("db: create schema_migrations table: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(migrationsPath, "*.sql"))
	if err != nil {
		return fmt.Errorf("db: glob migration files: %w", err)
	}

	sort.Strings(files)

	for _, file := range files {
		version := filepath.Base(file)

		var exists bool
		err := db.Postgres.QueryRow(
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
			version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("db: check migration %s: %w", version, err)
		}

		if exists {
			log.Printf("[db] migration %s already applied, skipping", version)
			continue
		}

		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("db: read migration %s: %w", version, err)
		}

		tx, err := db.Postgres.Begin()
		if err != nil {
			return fmt.Errorf("db: begin transaction for migration %s: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("db: apply migration %s: %w", version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version) VALUES ($1)",
			version,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("db: record migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("db: commit migration %s: %w", version, err)
		}

		log.Printf("[db] applied migration %s", version)
	}

	log.Println("[db] migrations up to date")
	return nil
}

// Health pings Postgres (required) and Redis (best effort).
func (db *DB) Health(ctx context.Context) error {
	if err := db.Postgres.PingContext(ctx); err != nil {
		return fmt.Errorf("db: postgres health check: %w", err)
	}

	if db.Redis != nil {
		if err := db.Redis.Ping(ctx).Err(); err != nil {
			log.Printf("[db] redis health check: %v", err)
		}
	}

	return nil
}
