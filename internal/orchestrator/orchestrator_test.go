package orchestrator_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kindlyrobotics/meshsync/internal/hashindex"
	"github.com/kindlyrobotics/meshsync/internal/merkle"
	"github.com/kindlyrobotics/meshsync/internal/moderation"
	"github.com/kindlyrobotics/meshsync/internal/orchestrator"
	"github.com/kindlyrobotics/meshsync/internal/record"
	"github.com/kindlyrobotics/meshsync/internal/recordstore"
	"github.com/kindlyrobotics/meshsync/internal/transport"
)

// node bundles everything one simulated peer needs so tests can build
// two of them, Link their transports, and watch sync converge.
type node struct {
	id    transport.PeerID
	tr    *transport.MemTransport
	store *recordstore.MemoryStore
	index *hashindex.Index
	cache *merkle.Cache
	orch  *orchestrator.Orchestrator
}

func newNode(id string, mod moderation.Moderator) *node {
	tr := transport.NewMemTransport(transport.PeerID(id))
	store := recordstore.NewMemoryStore()
	index := hashindex.New()
	cache := merkle.NewCache(index.Source())
	orch := orchestrator.New(context.Background(), tr, store, index, mod, cache, nil)
	return &node{id: transport.PeerID(id), tr: tr, store: store, index: index, cache: cache, orch: orch}
}

// seed admits records directly into the store and index, bypassing the
// sync protocol, to set up each side's starting hash map.
func (n *node) seed(t *testing.T, records ...record.Record) {
	t.Helper()
	batch := make(map[string]record.Record, len(records))
	hashes := make(map[string]merkle.Hash, len(records))
	for _, r := range records {
		batch[r.ID()] = r
		h, ok := merkle.HashHex(r.Integrity.Hash)
		require.True(t, ok)
		hashes[r.ID()] = h
	}
	require.NoError(t, n.store.PutBatch(context.Background(), batch))
	n.index.Put(hashes)
}

func makeRecord(t *testing.T, uuidStr, bucket, text string) record.Record {
	t.Helper()
	r := record.Record{
		UUID:      uuid.MustParse(uuidStr),
		CreatedAt: 1700000000000,
		Bucket:    bucket,
		Author:    record.Author{Npub: "abc123"},
		Content:   record.Content{Text: text},
		Geo:       record.Geo{Latitude: 1, Longitude: 2},
	}
	h, err := r.ComputeHash()
	require.NoError(t, err)
	r.Integrity = record.Integrity{Hash: h, Signature: "deadbeef"}
	return r
}

// stableUUID builds a deterministic, valid UUID string from a small
// integer so test cases can name records by number.
func stableUUID(n int) string {
	return uuid.Must(uuid.Parse(fmt.Sprintf("00000000-0000-4000-8000-%012d", n))).String()
}

func linked(a, b *node) {
	transport.Link(a.tr, b.tr)
	a.tr.Announce()
	b.tr.Announce()
}

func TestEmptyVsEmptyConvergesWithNoTraffic(t *testing.T) {
	a := newNode("A", moderation.AllowAll{})
	b := newNode("B", moderation.AllowAll{})
	linked(a, b)

	time.Sleep(200 * time.Millisecond)

	require.Equal(t, uint64(1), a.orch.Traffic("B").RootHashSent)
	require.Equal(t, uint64(1), b.orch.Traffic("A").RootHashSent)
	require.Equal(t, uint64(0), a.orch.Traffic("B").SubtreeRequestsSent)
	require.Equal(t, uint64(0), b.orch.Traffic("A").SubtreeRequestsSent)
}

func TestOneWaySyncThreeRecords(t *testing.T) {
	a := newNode("A", moderation.AllowAll{})
	b := newNode("B", moderation.AllowAll{})

	a.seed(t,
		makeRecord(t, stableUUID(1), "default", "one"),
		makeRecord(t, stableUUID(2), "default", "two"),
		makeRecord(t, stableUUID(3), "default", "three"),
	)

	linked(a, b)

	require.Eventually(t, func() bool {
		all, _ := b.store.GetAll(context.Background())
		return len(all) == 3
	}, 10*time.Second, 20*time.Millisecond)

	allA, _ := a.store.GetAll(context.Background())
	require.Len(t, allA, 3, "A's own records must be untouched")
}

func TestSymmetricDifferenceConverges(t *testing.T) {
	a := newNode("A", moderation.AllowAll{})
	b := newNode("B", moderation.AllowAll{})

	shared := makeRecord(t, stableUUID(2), "default", "shared")
	onlyA := makeRecord(t, stableUUID(1), "default", "only-a")
	onlyB := makeRecord(t, stableUUID(3), "default", "only-b")

	a.seed(t, onlyA, shared)
	b.seed(t, shared, onlyB)

	linked(a, b)

	require.Eventually(t, func() bool {
		allA, _ := a.store.GetAll(context.Background())
		allB, _ := b.store.GetAll(context.Background())
		return len(allA) == 3 && len(allB) == 3
	}, 10*time.Second, 20*time.Millisecond)

	allA, _ := a.store.GetAll(context.Background())
	allB, _ := b.store.GetAll(context.Background())
	require.Equal(t, allA[onlyA.ID()].Content.Text, allB[onlyA.ID()].Content.Text)
	require.Equal(t, allA[onlyB.ID()].Content.Text, allB[onlyB.ID()].Content.Text)
}

func TestPeerLeaveMidSyncDestroysState(t *testing.T) {
	a := newNode("A", moderation.AllowAll{})
	b := newNode("B", moderation.AllowAll{})

	a.seed(t,
		makeRecord(t, stableUUID(1), "default", "one"),
		makeRecord(t, stableUUID(2), "default", "two"),
		makeRecord(t, stableUUID(3), "default", "three"),
	)

	linked(a, b)

	// Give the root-hash mismatch time to kick off a descent on B's
	// side before A leaves mid-sync.
	require.Eventually(t, func() bool {
		return b.orch.Traffic("A").SubtreeRequestsSent > 0
	}, 10*time.Second, 20*time.Millisecond)

	a.tr.Depart()

	require.Eventually(t, func() bool {
		return b.orch.Traffic("A") == orchestrator.Traffic{}
	}, 2*time.Second, 10*time.Millisecond, "peer state must be freed entirely on leave, not just reset")

	// A reconnect after a mid-sync leave must start clean rather than
	// resuming whatever the cancelled sync had in flight.
	a.tr.Announce()
	require.Eventually(t, func() bool {
		all, _ := b.store.GetAll(context.Background())
		return len(all) == 3
	}, 10*time.Second, 20*time.Millisecond)
}

func TestModerationRejectionIsStable(t *testing.T) {
	a := newNode("A", moderation.AllowAll{})
	b := newNode("B", moderation.Blocklist{Buckets: map[string]bool{"blocked": true}})

	accepted := makeRecord(t, stableUUID(1), "default", "ok-1")
	accepted2 := makeRecord(t, stableUUID(2), "default", "ok-2")
	accepted3 := makeRecord(t, stableUUID(3), "default", "ok-3")
	rejected := makeRecord(t, stableUUID(4), "blocked", "nope")

	a.seed(t, accepted, accepted2, accepted3, rejected)

	linked(a, b)

	require.Eventually(t, func() bool {
		all, _ := b.store.GetAll(context.Background())
		return len(all) == 3
	}, 10*time.Second, 20*time.Millisecond)

	// Give the stable divergence a further window: B must never grow
	// past 3 records, even after further root exchanges.
	time.Sleep(500 * time.Millisecond)
	all, _ := b.store.GetAll(context.Background())
	require.Len(t, all, 3)
	_, hasRejected := all[rejected.ID()]
	require.False(t, hasRejected)
}
