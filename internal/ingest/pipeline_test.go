package ingest_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kindlyrobotics/meshsync/internal/hashindex"
	"github.com/kindlyrobotics/meshsync/internal/ingest"
	"github.com/kindlyrobotics/meshsync/internal/moderation"
	"github.com/kindlyrobotics/meshsync/internal/record"
	"github.com/kindlyrobotics/meshsync/internal/recordstore"
)

func makeRecord(t *testing.T, n int, bucket string) record.Record {
	t.Helper()
	r := record.Record{
		UUID:      uuid.Must(uuid.NewRandom()),
		CreatedAt: 1700000000000,
		Bucket:    bucket,
		Author:    record.Author{Npub: "abc123"},
		Content:   record.Content{Text: "hello"},
	}
	_ = n
	h, err := r.ComputeHash()
	require.NoError(t, err)
	r.Integrity = record.Integrity{Hash: h, Signature: "deadbeef"}
	return r
}

func TestIngestPersistsApprovedAndUpdatesIndex(t *testing.T) {
	store := recordstore.NewMemoryStore()
	index := hashindex.New()
	p := ingest.New(store, index, moderation.AllowAll{})

	r1 := makeRecord(t, 1, "default")
	r2 := makeRecord(t, 2, "default")
	batch := map[string]record.Record{r1.ID(): r1, r2.ID(): r2}

	approved, err := p.Ingest(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, approved, 2)

	all, err := store.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.True(t, index.Has(r1.ID()))
	require.True(t, index.Has(r2.ID()))
}

func TestIngestDropsRejectedRecords(t *testing.T) {
	store := recordstore.NewMemoryStore()
	index := hashindex.New()
	p := ingest.New(store, index, moderation.Blocklist{Buckets: map[string]bool{"blocked": true}})

	ok := makeRecord(t, 1, "default")
	bad := makeRecord(t, 2, "blocked")
	batch := map[string]record.Record{ok.ID(): ok, bad.ID(): bad}

	approved, err := p.Ingest(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	require.Contains(t, approved, ok.ID())

	require.True(t, index.Has(ok.ID()))
	require.False(t, index.Has(bad.ID()))
}

func TestIngestEmptyBatchIsNoop(t *testing.T) {
	store := recordstore.NewMemoryStore()
	index := hashindex.New()
	p := ingest.New(store, index, moderation.AllowAll{})

	approved, err := p.Ingest(context.Background(), map[string]record.Record{})
	require.NoError(t, err)
	require.Empty(t, approved)
	require.Equal(t, 0, index.Len())
}

func TestIngestSkipsRecordsWithUnparseableHash(t *testing.T) {
	store := recordstore.NewMemoryStore()
	index := hashindex.New()
	p := ingest.New(store, index, moderation.AllowAll{})

	r := makeRecord(t, 1, "default")
	r.Integrity.Hash = "not-hex"
	batch := map[string]record.Record{r.ID(): r}

	approved, err := p.Ingest(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, approved, 0, "moderation approves it, but a record without a usable hash is dropped")

	all, err := store.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 0, "the dropped record is not persisted")
	require.False(t, index.Has(r.ID()))
}
