package hashindex

import (
	"testing"

	"github.com/kindlyrobotics/meshsync/internal/merkle"
	"github.com/stretchr/testify/require"
)

func TestPutIsVisibleOnReturn(t *testing.T) {
	idx := New()
	defer idx.Close()

	idx.Put(map[string]merkle.Hash{"u1": {1}})
	require.True(t, idx.Has("u1"))
	require.Equal(t, 1, idx.Len())
}

func TestSnapshotVersionIncrementsOnMutation(t *testing.T) {
	idx := New()
	defer idx.Close()

	_, v0 := idx.Snapshot()
	idx.Put(map[string]merkle.Hash{"u1": {1}})
	_, v1 := idx.Snapshot()
	require.Greater(t, v1, v0)
}

func TestRemoveDeletesEntry(t *testing.T) {
	idx := New()
	defer idx.Close()

	idx.Put(map[string]merkle.Hash{"u1": {1}})
	idx.Remove("u1")
	require.False(t, idx.Has("u1"))
	require.Equal(t, 0, idx.Len())
}

func TestSnapshotIsADefensiveCopy(t *testing.T) {
	idx := New()
	defer idx.Close()

	idx.Put(map[string]merkle.Hash{"u1": {1}})
	entries, _ := idx.Snapshot()
	entries["u2"] = merkle.Hash{2}

	require.False(t, idx.Has("u2"))
}

func TestEmptyPutAndRemoveAreNoops(t *testing.T) {
	idx := New()
	defer idx.Close()

	_, v0 := idx.Snapshot()
	idx.Put(nil)
	idx.Remove()
	_, v1 := idx.Snapshot()
	require.Equal(t, v0, v1)
}
