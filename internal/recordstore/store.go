// Package recordstore is the durable uuid -> record mapping the sync
// engine reconciles against. The core only ever talks to the narrow
// Store interface; Postgres is the concrete backend, grounded on
// internal/db and internal/messaging's query shape from the reference
// server.
package recordstore

import (
	"context"

	"github.com/kindlyrobotics/meshsync/internal/record"
)

// Store is the narrow interface the core depends on.
type Store interface {
	// PutBatch persists the given records atomically: the whole batch
	// commits or none of it does.
	PutBatch(ctx context.Context, records map[string]record.Record) error
	// GetAll returns every stored record.
	GetAll(ctx context.Context) (map[string]record.Record, error)
	// Delete removes a single record by uuid.
	Delete(ctx context.Context, id string) error
	// Clear removes every record.
	Clear(ctx context.Context) error
}
