package recordstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kindlyrobotics/meshsync/internal/record"

	// Registers the "postgres" driver with database/sql, exactly as
	// internal/db does in the reference server.
	_ "github.com/lib/pq"
)

// PostgresStore persists records in a single "records" table keyed by
// uuid, matching the node's durable persistence layout.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-connected *sql.DB. Schema
// management (CREATE TABLE IF NOT EXISTS) is left to migrations run at
// startup by cmd/meshsyncd, following internal/db.RunMigrations in the
// teacher repo.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// PutBatch inserts every record in a single transaction. Records are
// immutable once stored, so a uuid already present is left untouched
// (ON CONFLICT DO NOTHING) rather than treated as an error.
func (s *PostgresStore) PutBatch(ctx context.Context, records map[string]record.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("recordstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (uuid, content_hash, bucket, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (uuid) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("recordstore: prepare insert: %w", err)
	}
	defer stmt.Close()

	for id, rec := range records {
		body, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("recordstore: marshal record %s: %w", id, err)
		}
		if _, err := stmt.ExecContext(ctx, id, rec.Integrity.Hash, rec.Bucket, body); err != nil {
			return fmt.Errorf("recordstore: insert record %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("recordstore: commit batch: %w", err)
	}
	return nil
}

// GetAll enumerates every stored record.
func (s *PostgresStore) GetAll(ctx context.Context) (map[string]record.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uuid, body FROM records`)
	if err != nil {
		return nil, fmt.Errorf("recordstore: query all: %w", err)
	}
	defer rows.Close()

	out := make(map[string]record.Record)
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("recordstore: scan row: %w", err)
		}
		var rec record.Record
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("recordstore: unmarshal record %s: %w", id, err)
		}
		out[id] = rec
	}
	return out, rows.Err()
}

// Delete removes a single record by uuid.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE uuid = $1`, id)
	if err != nil {
		return fmt.Errorf("recordstore: delete %s: %w", id, err)
	}
	return nil
}

// Clear removes every record.
func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("recordstore: clear: %w", err)
	}
	return nil
}
