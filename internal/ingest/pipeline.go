// Package ingest implements the record half of the ingestion
// pipeline: moderation, persistence, and hash-index update.
// It exclusively writes the Record Store and Hash Index, a narrower
// ownership boundary than internal/orchestrator, which owns the
// surrounding per-peer bookkeeping (activity timers, arrival history,
// debounce, completion checks) and calls Pipeline.Ingest for the
// parts that actually mutate durable state.
package ingest

import (
	"context"
	"fmt"

	"github.com/kindlyrobotics/meshsync/internal/hashindex"
	"github.com/kindlyrobotics/meshsync/internal/merkle"
	"github.com/kindlyrobotics/meshsync/internal/moderation"
	"github.com/kindlyrobotics/meshsync/internal/record"
	"github.com/kindlyrobotics/meshsync/internal/recordstore"
)

// Pipeline runs moderation over an incoming record batch, persists the
// approved subset, and keeps the hash index coherent with the store.
type Pipeline struct {
	store     recordstore.Store
	index     *hashindex.Index
	moderator moderation.Moderator
}

// New builds a Pipeline. A nil moderator defaults to moderation.AllowAll.
func New(store recordstore.Store, index *hashindex.Index, moderator moderation.Moderator) *Pipeline {
	if moderator == nil {
		moderator = moderation.AllowAll{}
	}
	return &Pipeline{store: store, index: index, moderator: moderator}
}

// Ingest moderates the batch, persists the approved subset, and folds
// their hashes into the hash index. A
// record whose hex integrity hash doesn't parse is dropped rather than
// aborting the batch, the same "one bad record doesn't abort the
// batch" rule moderation rejection follows.
//
// It returns the approved subset (for traffic counters/metrics) and an
// error only when the whole-batch persistence write fails; a
// persistence failure leaves the hash index untouched, since the
// store and index must agree on what exists.
func (p *Pipeline) Ingest(ctx context.Context, batch map[string]record.Record) (map[string]record.Record, error) {
	decisions := p.moderator.Moderate(batch)
	approved := make(map[string]record.Record, len(batch))
	hashes := make(map[string]merkle.Hash, len(batch))
	for id, rec := range batch {
		if !decisions[id] {
			continue
		}
		h, ok := merkle.HashHex(rec.Integrity.Hash)
		if !ok {
			continue
		}
		approved[id] = rec
		hashes[id] = h
	}
	if len(approved) == 0 {
		return approved, nil
	}

	if err := p.store.PutBatch(ctx, approved); err != nil {
		return approved, fmt.Errorf("ingest: persist batch: %w", err)
	}

	p.index.Put(hashes)
	return approved, nil
}
