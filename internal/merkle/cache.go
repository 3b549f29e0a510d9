package merkle

import (
	"sync"
	"time"
)

// TTL bounds how long a built tree may be served; the first Get after
// it has elapsed rebuilds the tree even if the version is unchanged.
const TTL = 1 * time.Second

// SnapshotSource returns the current hash-index snapshot along with a
// version counter that increments on every mutation. Cache uses the
// version, not map identity, to detect staleness.
type SnapshotSource func() (entries map[string]Hash, version uint64)

// Cache memoizes the most recent tree build. It is derived state: no
// caller may mutate the returned *Node; a rebuild produces a new tree
// and atomically replaces the cached one.
type Cache struct {
	source SnapshotSource

	mu      sync.Mutex
	built   *Node
	version uint64
	builtAt time.Time
}

// NewCache wraps source with a TTL-bounded, version-checked cache.
func NewCache(source SnapshotSource) *Cache {
	return &Cache{source: source}
}

// Get returns the current tree, rebuilding it if the snapshot version
// changed or the cached build is older than TTL.
func (c *Cache) Get() *Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, version := c.source()
	if c.built != nil && version == c.version && time.Since(c.builtAt) < TTL {
		return c.built
	}

	c.built = Build(entries)
	c.version = version
	c.builtAt = time.Now()
	return c.built
}

// Invalidate forces the next Get to rebuild unconditionally.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.built = nil
}
