// Package orchestrator implements the per-peer sync state machine: it
// owns all per-peer mutable state exclusively, dispatches inbound
// protocol messages to the progressive-sync handlers, and drives the
// ingestion pipeline on RECORDS.
//
// Grounded on the reference server's cmd/room-service/internal/models/Hub.go
// pattern of a single owning struct fanning out per-connection state
// behind a map and a mutex, with log.Printf bracket-tagged
// diagnostics in the same style as internal/transparency/service.go.
package orchestrator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kindlyrobotics/meshsync/internal/hashindex"
	"github.com/kindlyrobotics/meshsync/internal/ingest"
	"github.com/kindlyrobotics/meshsync/internal/merkle"
	"github.com/kindlyrobotics/meshsync/internal/metrics"
	"github.com/kindlyrobotics/meshsync/internal/moderation"
	"github.com/kindlyrobotics/meshsync/internal/ratelimit"
	"github.com/kindlyrobotics/meshsync/internal/recordstore"
	"github.com/kindlyrobotics/meshsync/internal/syncproto"
	"github.com/kindlyrobotics/meshsync/internal/transport"
)

// Timing constants governing the per-peer sync state machine.
const (
	SyncTimeout          = 120 * time.Second
	CompletionCheckDelay = 2 * time.Second
	MinMerkleDelay       = 500 * time.Millisecond
	MaxMerkleDelay       = 5 * time.Second
	BatchTimingHistory   = 5
)

// Traffic holds the per-peer counters ResetStats zeroes.
type Traffic struct {
	RootHashSent        uint64
	RootHashReceived    uint64
	SubtreeRequestsSent uint64
	SubtreeRequestsRecv uint64
	RecordsSent         uint64
	RecordsReceived     uint64
}

// Orchestrator owns every peer's sync state and wires the progressive
// sync protocol and the ingestion pipeline together over a Transport.
// It is the only writer of peer state; the ingestion pipeline it
// drives is the only writer of the Record Store and Hash Index.
type Orchestrator struct {
	ctx context.Context

	transport transport.Transport
	store     recordstore.Store
	index     *hashindex.Index
	pipeline  *ingest.Pipeline
	cache     *merkle.Cache
	metrics   *metrics.Metrics

	limiter     *ratelimit.Limiter
	limits      ratelimit.PeerSyncLimits
	presence    *redis.Client
	presenceTTL time.Duration

	mu    sync.Mutex
	peers map[transport.PeerID]*peerState
}

// Option configures optional Orchestrator collaborators.
type Option func(*Orchestrator)

// WithRateLimiter guards OnRequestSubtree/OnRequestRecords with limiter
// using limits. A nil limiter leaves the handlers unguarded.
func WithRateLimiter(limiter *ratelimit.Limiter, limits ratelimit.PeerSyncLimits) Option {
	return func(o *Orchestrator) {
		o.limiter = limiter
		o.limits = limits
	}
}

// WithPresence makes the Orchestrator refresh a Redis key per peer
// (meshsync:presence:<peer>, TTL SyncTimeout) on join and on every
// inbound ROOT_HASH, and delete it on leave. Other processes — an
// operator dashboard, a standby node sharing the same Redis — can read
// the key to see which peers this node currently considers live,
// without querying the node itself.
func WithPresence(client *redis.Client) Option {
	return func(o *Orchestrator) {
		o.presence = client
		o.presenceTTL = SyncTimeout
	}
}

// New builds an Orchestrator and registers its handlers against t.
// ctx bounds the lifetime of background persistence/moderation calls
// made while ingesting; cancel it to stop the node.
func New(ctx context.Context, t transport.Transport, store recordstore.Store, index *hashindex.Index, moderator moderation.Moderator, cache *merkle.Cache, m *metrics.Metrics, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		ctx:       ctx,
		transport: t,
		store:     store,
		index:     index,
		pipeline:  ingest.New(store, index, moderator),
		cache:     cache,
		metrics:   m,
		peers:     make(map[transport.PeerID]*peerState),
	}
	for _, opt := range opts {
		opt(o)
	}
	t.OnPeerJoin(o.OnPeerJoin)
	t.OnPeerLeave(o.OnPeerLeave)
	t.OnRootHash(o.OnRootHash)
	t.OnRequestSubtree(o.OnRequestSubtree)
	t.OnSubtreeHashes(o.OnSubtreeHashes)
	t.OnRequestRecords(o.OnRequestRecords)
	t.OnRecords(o.OnRecords)
	return o
}

func (o *Orchestrator) presenceKey(peer transport.PeerID) string {
	return "meshsync:presence:" + string(peer)
}

// refreshPresence extends the peer's presence TTL, fire-and-forget.
func (o *Orchestrator) refreshPresence(peer transport.PeerID) {
	if o.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.presence.Set(ctx, o.presenceKey(peer), time.Now().Unix(), o.presenceTTL).Err(); err != nil {
		log.Printf("[Orchestrator] refresh presence for %s: %v", peer, err)
	}
}

func (o *Orchestrator) clearPresence(peer transport.PeerID) {
	if o.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.presence.Del(ctx, o.presenceKey(peer)).Err(); err != nil {
		log.Printf("[Orchestrator] clear presence for %s: %v", peer, err)
	}
}

func (o *Orchestrator) localRoot() *merkle.Node {
	return o.cache.Get()
}

// ensurePeer returns the existing state for peer or creates it.
func (o *Orchestrator) ensurePeer(peer transport.PeerID) *peerState {
	o.mu.Lock()
	defer o.mu.Unlock()
	ps, ok := o.peers[peer]
	if !ok {
		ps = newPeerState(peer)
		o.peers[peer] = ps
		if o.metrics != nil {
			o.metrics.SetActivePeers(len(o.peers))
		}
	}
	return ps
}

func (o *Orchestrator) peer(peer transport.PeerID) (*peerState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ps, ok := o.peers[peer]
	return ps, ok
}

// OnPeerJoin initializes state for a newly connected peer and sends it
// the local root so the protocol can begin in either direction.
func (o *Orchestrator) OnPeerJoin(peer transport.PeerID) {
	ps := o.ensurePeer(peer)
	ps.mu.Lock()
	ps.touch()
	ps.mu.Unlock()
	o.refreshPresence(peer)
	o.sendRootHash(peer)
}

// OnPeerLeave cancels every timer owned by peer's state, discards any
// pending record-request batch, and frees the state entirely.
func (o *Orchestrator) OnPeerLeave(peer transport.PeerID) {
	o.mu.Lock()
	ps, ok := o.peers[peer]
	delete(o.peers, peer)
	if o.metrics != nil {
		o.metrics.SetActivePeers(len(o.peers))
	}
	o.mu.Unlock()
	if !ok {
		return
	}
	ps.mu.Lock()
	ps.clearTimersLocked()
	ps.mu.Unlock()
	o.clearPresence(peer)
}

// ResetStats zeroes every peer's traffic counters without touching
// sync state.
func (o *Orchestrator) ResetStats() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ps := range o.peers {
		ps.mu.Lock()
		ps.traffic = Traffic{}
		ps.mu.Unlock()
	}
}

// Traffic returns a copy of peer's traffic counters, or the zero value
// if peer is unknown.
func (o *Orchestrator) Traffic(peer transport.PeerID) Traffic {
	ps, ok := o.peer(peer)
	if !ok {
		return Traffic{}
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.traffic
}

// --- Progressive sync protocol -----------------------------------

// OnRootHash handles an inbound ROOT_HASH: if it matches the local
// root, nothing changes; if a sync or record-ingestion pass is already
// under way for this peer, only activity is extended; otherwise a
// descent begins with a REQUEST_SUBTREE at the root.
func (o *Orchestrator) OnRootHash(peer transport.PeerID, payload syncproto.RootHash) {
	ps := o.ensurePeer(peer)
	o.refreshPresence(peer)

	ps.mu.Lock()
	ps.traffic.RootHashReceived++
	ps.touch()

	local := o.localRoot()
	if payload.MerkleRoot == local.Hash.String() {
		ps.mu.Unlock()
		return
	}
	if ps.processingRecords || ps.syncInProgress {
		// Activity already extended above; a sync is already under
		// way (or records are still draining), so let it finish
		// rather than starting a second concurrent descent.
		ps.mu.Unlock()
		return
	}
	ps.syncInProgress = true
	ps.syncStartedAt = time.Now()
	ps.armSyncTimeoutLocked(o, peer)
	ps.mu.Unlock()

	if err := o.transport.SendRequestSubtree(peer, syncproto.RequestSubtree{Path: "", Depth: 1}); err != nil {
		log.Printf("[Orchestrator] send REQUEST_SUBTREE to %s: %v", peer, err)
	}
}

// OnRequestSubtree replies with the summaries expose() produces for
// the requested path and depth, or an empty list if the path is
// undefined.
func (o *Orchestrator) OnRequestSubtree(peer transport.PeerID, payload syncproto.RequestSubtree) {
	if err := o.limiter.CheckRequestSubtree(o.ctx, string(peer), o.limits); err != nil {
		return
	}

	ps := o.ensurePeer(peer)
	ps.mu.Lock()
	ps.traffic.SubtreeRequestsRecv++
	ps.touch()
	ps.mu.Unlock()

	root := o.localRoot()
	path := merkle.ParsePath(payload.Path)
	node, ok := merkle.SubtreeAt(root, path)

	var items syncproto.SubtreeHashes
	if ok {
		for _, s := range merkle.Expose(node, path, payload.Depth) {
			items = append(items, syncproto.SubtreeHashesItem{
				Path:        s.Path,
				Hash:        s.Hash,
				UUIDs:       s.UUIDs,
				HasChildren: s.HasChildren,
			})
		}
	}
	if err := o.transport.SendSubtreeHashes(peer, items); err != nil {
		log.Printf("[Orchestrator] send SUBTREE_HASHES to %s: %v", peer, err)
	}
}

// OnSubtreeHashes descends into mismatched, non-leaf subtrees and
// batches record requests for mismatched leaves.
func (o *Orchestrator) OnSubtreeHashes(peer transport.PeerID, items syncproto.SubtreeHashes) {
	ps := o.ensurePeer(peer)
	ps.mu.Lock()
	ps.touch()
	batcher := ps.batcherLocked(o, peer)
	ps.mu.Unlock()

	root := o.localRoot()
	for _, item := range items {
		path := merkle.ParsePath(item.Path)
		local, ok := merkle.SubtreeAt(root, path)
		if ok && local.Hash.String() == item.Hash {
			continue
		}
		if item.HasChildren {
			ps.mu.Lock()
			ps.traffic.SubtreeRequestsSent++
			ps.mu.Unlock()
			if err := o.transport.SendRequestSubtree(peer, syncproto.RequestSubtree{Path: item.Path, Depth: 1}); err != nil {
				log.Printf("[Orchestrator] send REQUEST_SUBTREE to %s: %v", peer, err)
			}
			continue
		}
		for _, id := range item.UUIDs {
			if !o.index.Has(id) {
				batcher.Add(id)
			}
		}
	}
}

// OnRequestRecords replies with every record the store holds for the
// requested uuids.
func (o *Orchestrator) OnRequestRecords(peer transport.PeerID, ids syncproto.RequestRecords) {
	if err := o.limiter.CheckRequestRecords(o.ctx, string(peer), o.limits); err != nil {
		return
	}

	ps := o.ensurePeer(peer)
	ps.mu.Lock()
	ps.touch()
	ps.mu.Unlock()

	all, err := o.store.GetAll(o.ctx)
	if err != nil {
		log.Printf("[Orchestrator] GetAll for REQUEST_RECORDS from %s: %v", peer, err)
		return
	}
	out := make(syncproto.Records, len(ids))
	for _, id := range ids {
		if rec, ok := all[id]; ok {
			out[id] = rec
		}
	}
	ps.mu.Lock()
	ps.traffic.RecordsSent += uint64(len(out))
	ps.mu.Unlock()
	if o.metrics != nil {
		o.metrics.RecordsSentBy(len(out))
	}
	if err := o.transport.SendRecords(peer, out); err != nil {
		log.Printf("[Orchestrator] send RECORDS to %s: %v", peer, err)
	}
}

// OnRecords runs the ingestion pipeline for a batch of records
// received from peer.
func (o *Orchestrator) OnRecords(peer transport.PeerID, batch syncproto.Records) {
	ps := o.ensurePeer(peer)

	ps.mu.Lock()
	ps.processingRecords = true
	ps.touch()
	ps.armSyncTimeoutLocked(o, peer)
	ps.recordArrivalLocked()
	ps.mu.Unlock()

	approved, err := o.pipeline.Ingest(o.ctx, batch)
	if err != nil {
		log.Printf("[Orchestrator] ingest batch from %s failed, abandoning sync: %v", peer, err)
		ps.mu.Lock()
		ps.processingRecords = false
		ps.clearTimersLocked()
		ps.mu.Unlock()
		return
	}

	if o.metrics != nil {
		o.metrics.RecordsReceivedFrom(string(peer), len(approved))
	}
	ps.mu.Lock()
	ps.traffic.RecordsReceived += uint64(len(approved))
	ps.scheduleDebounceLocked(o, peer)
	ps.scheduleCompletionCheckLocked(o, peer)
	ps.processingRecords = false
	ps.mu.Unlock()
}

// sendRootHash emits the current root to peer and remembers it as the
// last root sent, used to suppress a redundant reverse sync.
func (o *Orchestrator) sendRootHash(peer transport.PeerID) {
	root := o.localRoot()
	hash := root.Hash.String()

	ps := o.ensurePeer(peer)
	ps.mu.Lock()
	ps.lastRootSent = hash
	ps.traffic.RootHashSent++
	ps.mu.Unlock()

	if err := o.transport.SendRootHash(peer, syncproto.RootHash{MerkleRoot: hash}); err != nil {
		log.Printf("[Orchestrator] send ROOT_HASH to %s: %v", peer, err)
	}
}
