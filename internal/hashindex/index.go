// Package hashindex maintains the in-memory uuid -> content_hash
// mapping that the Merkle tree is built from, kept coherent with the
// Record Store.
//
// Writes are serialized through a single-worker FIFO queue — the
// hash-map store update queue — grounded on
// cmd/messaging-service/internal/models/hub.go's channel-select run
// loop, rather than a plain mutex-guarded map, so that callers never
// interleave partial updates even when several ingestion batches for
// different peers complete concurrently.
package hashindex

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kindlyrobotics/meshsync/internal/merkle"
)

// presenceTTL bounds how long a published version survives in Redis
// between updates, so a crashed node's last-known version eventually
// expires rather than lingering forever.
const presenceTTL = 30 * time.Second

type update struct {
	puts    map[string]merkle.Hash
	removes []string
	done    chan struct{}
}

// Index is the in-memory hash index. The zero value is not usable;
// construct with New.
type Index struct {
	mu      sync.RWMutex
	entries map[string]merkle.Hash
	version uint64

	queue chan update
	stop  chan struct{}
	once  sync.Once

	redis       *redis.Client
	presenceKey string
}

// New starts the index's update worker and returns a ready Index.
func New() *Index {
	idx := &Index{
		entries: make(map[string]merkle.Hash),
		queue:   make(chan update, 256),
		stop:    make(chan struct{}),
	}
	go idx.run()
	return idx
}

// EnableRedisPresence configures the index to publish its current
// version number to Redis under key after every applied update, with
// presenceTTL expiry. Other processes sharing the same node's Redis
// (e.g. a standby instance, or an operator dashboard) can read the key
// to tell how fresh this index is without querying the node directly.
// It is a presence signal only — the index never reads the key back,
// so no cross-process coordination depends on it being up to date.
func (idx *Index) EnableRedisPresence(client *redis.Client, key string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.redis = client
	idx.presenceKey = key
}

func (idx *Index) publishVersion(version uint64) {
	idx.mu.RLock()
	client, key := idx.redis, idx.presenceKey
	idx.mu.RUnlock()
	if client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Set(ctx, key, version, presenceTTL).Err(); err != nil {
		log.Printf("[HashIndex] publish version to redis: %v", err)
	}
}

func (idx *Index) run() {
	for {
		select {
		case u := <-idx.queue:
			idx.apply(u)
		case <-idx.stop:
			return
		}
	}
}

func (idx *Index) apply(u update) {
	idx.mu.Lock()
	for id, h := range u.puts {
		idx.entries[id] = h
	}
	for _, id := range u.removes {
		delete(idx.entries, id)
	}
	idx.version++
	version := idx.version
	idx.mu.Unlock()
	idx.publishVersion(version)
	if u.done != nil {
		close(u.done)
	}
}

// Put enqueues the given uuid -> hash entries and blocks until the
// worker has applied them, so that by the time Put returns the entry
// appears in every subsequent Snapshot — the atomicity required
// between a batch write and the hash index update.
func (idx *Index) Put(entries map[string]merkle.Hash) {
	if len(entries) == 0 {
		return
	}
	done := make(chan struct{})
	idx.queue <- update{puts: entries, done: done}
	<-done
}

// Remove enqueues deletion of the given uuids (used by the optional
// age-based prune hook) and blocks until applied.
func (idx *Index) Remove(ids ...string) {
	if len(ids) == 0 {
		return
	}
	done := make(chan struct{})
	idx.queue <- update{removes: ids, done: done}
	<-done
}

// Has reports whether id currently has a hash index entry.
func (idx *Index) Has(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.entries[id]
	return ok
}

// Len returns the number of entries currently indexed.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Snapshot returns a defensive copy of the current entries along with
// the version they were read at. merkle.Cache uses the version to
// decide whether a rebuild is necessary.
func (idx *Index) Snapshot() (map[string]merkle.Hash, uint64) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[string]merkle.Hash, len(idx.entries))
	for k, v := range idx.entries {
		out[k] = v
	}
	return out, idx.version
}

// Source adapts Snapshot to merkle.SnapshotSource for use with
// merkle.NewCache.
func (idx *Index) Source() merkle.SnapshotSource {
	return idx.Snapshot
}

// Close stops the update worker. Safe to call more than once.
func (idx *Index) Close() {
	idx.once.Do(func() { close(idx.stop) })
}
