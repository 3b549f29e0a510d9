package recordstore

import (
	"context"
	"testing"

	"github.com/kindlyrobotics/meshsync/internal/record"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutAndGetAll(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	batch := map[string]record.Record{
		"u1": {Bucket: "b"},
		"u2": {Bucket: "b"},
	}
	require.NoError(t, s.PutBatch(ctx, batch))

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestMemoryStoreDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.PutBatch(ctx, map[string]record.Record{"u1": {}, "u2": {}}))

	require.NoError(t, s.Delete(ctx, "u1"))
	all, _ := s.GetAll(ctx)
	require.Len(t, all, 1)

	require.NoError(t, s.Clear(ctx))
	all, _ = s.GetAll(ctx)
	require.Len(t, all, 0)
}
