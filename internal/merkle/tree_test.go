package merkle

import (
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func hashOf(s string) Hash {
	return Hash(sha256.Sum256([]byte(s)))
}

func TestBuildEmptyTree(t *testing.T) {
	root := Build(map[string]Hash{})
	require.True(t, root.IsLeaf)
	require.Equal(t, 0, root.UUIDs.Len())
	require.Equal(t, emptyHash, root.Hash)
}

func TestBuildDeterministic(t *testing.T) {
	entries := map[string]Hash{
		"u1": hashOf("u1"),
		"u2": hashOf("u2"),
		"u3": hashOf("u3"),
	}
	r1 := Build(entries)
	r2 := Build(entries)
	require.Equal(t, r1.Hash, r2.Hash)
}

func TestBuildSensitiveToChange(t *testing.T) {
	entries := map[string]Hash{
		"u1": hashOf("u1"),
		"u2": hashOf("u2"),
	}
	base := Build(entries).Hash

	changed := map[string]Hash{
		"u1": hashOf("u1"),
		"u2": hashOf("different"),
	}
	require.NotEqual(t, base, Build(changed).Hash)
}

func TestSingleLeafTree(t *testing.T) {
	entries := map[string]Hash{"only": hashOf("only")}
	root := Build(entries)
	require.True(t, root.IsLeaf)
	require.Nil(t, root.Left)
	require.Nil(t, root.Right)
	require.Equal(t, entries["only"], root.Hash)
}

func TestOddLeafPromotion(t *testing.T) {
	// Three leaves: (u1,u2) pair, u3 promotes unchanged through to the
	// final pairing, so its hash must survive unrehashed.
	entries := map[string]Hash{
		"u1": hashOf("u1"),
		"u2": hashOf("u2"),
		"u3": hashOf("u3"),
	}
	root := Build(entries)
	require.False(t, root.IsLeaf)

	// One of the root's children must be the untouched u3 leaf.
	var sawPromoted bool
	for _, child := range []*Node{root.Left, root.Right} {
		if child != nil && child.IsLeaf && child.Hash == entries["u3"] {
			sawPromoted = true
		}
	}
	require.True(t, sawPromoted, "expected u3 to be promoted unchanged")
}

func TestSubtreeSoundness(t *testing.T) {
	entries := map[string]Hash{
		"u1": hashOf("u1"),
		"u2": hashOf("u2"),
		"u3": hashOf("u3"),
		"u4": hashOf("u4"),
		"u5": hashOf("u5"),
	}
	root := Build(entries)

	for _, s := range Expose(root, nil, 2) {
		n, ok := SubtreeAt(root, ParsePath(s.Path))
		require.True(t, ok)
		require.Equal(t, s.Hash, n.Hash.String())

		sub := map[string]Hash{}
		for _, id := range n.UUIDs.Slice() {
			sub[id] = entries[id]
		}
		rebuilt := Build(sub)
		require.Equal(t, n.Hash, rebuilt.Hash)
	}
}

func TestExposeDepthZeroReturnsSingleton(t *testing.T) {
	root := Build(map[string]Hash{"u1": hashOf("u1"), "u2": hashOf("u2")})
	got := Expose(root, nil, 0)
	require.Len(t, got, 1)
	require.Equal(t, "", got[0].Path)
	require.Equal(t, root.Hash.String(), got[0].Hash)
	require.True(t, got[0].HasChildren)
}

func TestExposeLeafHasNoChildren(t *testing.T) {
	root := Build(map[string]Hash{"u1": hashOf("u1")})
	got := Expose(root, nil, 0)
	require.False(t, got[0].HasChildren)
}

func TestPathOneLevelPastLeaf(t *testing.T) {
	root := Build(map[string]Hash{"only": hashOf("only")})
	_, ok := SubtreeAt(root, ParsePath("left"))
	require.False(t, ok)
}

func TestEmptyTreesCompareEqual(t *testing.T) {
	require.Equal(t, Build(map[string]Hash{}).Hash, Build(nil).Hash)
}

func TestCacheInvalidatesOnVersionChange(t *testing.T) {
	entries := map[string]Hash{"u1": hashOf("u1")}
	version := uint64(1)
	c := NewCache(func() (map[string]Hash, uint64) { return entries, version })

	first := c.Get()
	require.Equal(t, first, c.Get())

	entries = map[string]Hash{"u1": hashOf("u1"), "u2": hashOf("u2")}
	version++
	second := c.Get()
	require.NotEqual(t, first.Hash, second.Hash)
}

func TestCacheRespectsTTL(t *testing.T) {
	entries := map[string]Hash{"u1": hashOf("u1")}
	calls := 0
	c := NewCache(func() (map[string]Hash, uint64) {
		calls++
		return entries, 1
	})
	first := c.Get()
	c.Get()
	require.Equal(t, 2, calls, "same version still re-checks the source each call")

	c.builtAt = time.Now().Add(-2 * TTL)
	rebuilt := c.Get()
	require.Equal(t, 3, calls)
	require.NotSame(t, first, rebuilt, "an expired build is rebuilt even at the same version")
}
