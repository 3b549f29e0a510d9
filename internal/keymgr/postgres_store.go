package keymgr

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Registers the "postgres" driver with database/sql, the same
	// side-effect import internal/recordstore and internal/db carry.
	_ "github.com/lib/pq"
)

// loginTokenKey is the single row the session table holds, matching
// the durable persistence layout's single-key "loginToken" session
// entry.
const loginTokenKey = "loginToken"

// PostgresStore persists the current login Token in a single-row
// "session" table keyed by loginTokenKey, grounded on
// internal/recordstore.PostgresStore's insert-then-query shape; unlike
// that store, Save overwrites an existing row (ON CONFLICT DO UPDATE).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-connected *sql.DB. Schema
// management is left to migrations run at startup by cmd/meshsyncd.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(t Token) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session (key, v, public_key, timestamp, signature)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET
			v = EXCLUDED.v,
			public_key = EXCLUDED.public_key,
			timestamp = EXCLUDED.timestamp,
			signature = EXCLUDED.signature
	`, loginTokenKey, t.V, t.PublicKey, t.Timestamp, t.Signature)
	if err != nil {
		return fmt.Errorf("keymgr: save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load() (Token, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var t Token
	err := s.db.QueryRowContext(ctx, `
		SELECT v, public_key, timestamp, signature FROM session WHERE key = $1
	`, loginTokenKey).Scan(&t.V, &t.PublicKey, &t.Timestamp, &t.Signature)
	if err == sql.ErrNoRows {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, fmt.Errorf("keymgr: load session: %w", err)
	}
	return t, true, nil
}

func (s *PostgresStore) Delete() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE key = $1`, loginTokenKey); err != nil {
		return fmt.Errorf("keymgr: delete session: %w", err)
	}
	return nil
}
