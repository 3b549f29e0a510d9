package orchestrator

import (
	"log"
	"sync"
	"time"

	"github.com/kindlyrobotics/meshsync/internal/syncproto"
	"github.com/kindlyrobotics/meshsync/internal/transport"
)

// peerState is the full set of mutable state the Orchestrator tracks
// for one peer. Every field is guarded by mu; every armed timer has a
// single owning handle here so that clearTimersLocked cancels all of
// them at once.
type peerState struct {
	id transport.PeerID

	mu                sync.Mutex
	syncInProgress    bool
	processingRecords bool
	lastActivity      time.Time
	lastRootSent      string
	syncStartedAt     time.Time
	traffic           Traffic
	batchArrivalTimes []time.Time
	batcher           *syncproto.Batcher
	syncTimeoutTimer  *time.Timer
	completionTimer   *time.Timer
	debounceTimer     *time.Timer
}

func newPeerState(id transport.PeerID) *peerState {
	return &peerState{id: id, lastActivity: time.Now()}
}

// touch extends last_activity_ms. Callers hold mu.
func (ps *peerState) touch() {
	ps.lastActivity = time.Now()
}

// batcherLocked returns the peer's record-request batcher, creating it
// on first use. Callers hold mu.
func (ps *peerState) batcherLocked(o *Orchestrator, peer transport.PeerID) *syncproto.Batcher {
	if ps.batcher == nil {
		ps.batcher = syncproto.NewBatcher(func(ids []string) {
			if o.metrics != nil {
				o.metrics.ObserveBatchSize(len(ids))
			}
			if err := o.transport.SendRequestRecords(peer, syncproto.RequestRecords(ids)); err != nil {
				log.Printf("[Orchestrator] send REQUEST_RECORDS to %s: %v", peer, err)
			}
		})
	}
	return ps.batcher
}

// clearTimersLocked cancels every timer owned by this peer state and
// discards its pending record-request batch without flushing it.
// Used on peer leave and on the sync-timeout branch of the state
// machine. Callers hold mu.
func (ps *peerState) clearTimersLocked() {
	if ps.syncTimeoutTimer != nil {
		ps.syncTimeoutTimer.Stop()
		ps.syncTimeoutTimer = nil
	}
	if ps.completionTimer != nil {
		ps.completionTimer.Stop()
		ps.completionTimer = nil
	}
	if ps.debounceTimer != nil {
		ps.debounceTimer.Stop()
		ps.debounceTimer = nil
	}
	if ps.batcher != nil {
		ps.batcher.Cancel()
	}
	ps.syncInProgress = false
	ps.syncStartedAt = time.Time{}
}

// armSyncTimeoutLocked (re)arms the 120s inactivity timeout, replacing
// any previously armed one. Callers hold mu.
func (ps *peerState) armSyncTimeoutLocked(o *Orchestrator, peer transport.PeerID) {
	if ps.syncTimeoutTimer != nil {
		ps.syncTimeoutTimer.Stop()
	}
	ps.syncTimeoutTimer = time.AfterFunc(SyncTimeout, func() {
		o.onSyncTimeout(peer)
	})
}

// onSyncTimeout forces the peer back to Idle as if it had left,
// without destroying its state or counters.
func (o *Orchestrator) onSyncTimeout(peer transport.PeerID) {
	ps, ok := o.peer(peer)
	if !ok {
		return
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if !ps.syncInProgress && !ps.processingRecords {
		return
	}
	log.Printf("[Orchestrator] sync timeout for %s, resetting to Idle", peer)
	started := ps.syncStartedAt
	ps.clearTimersLocked()
	ps.processingRecords = false
	if o.metrics != nil && !started.IsZero() {
		o.metrics.ObserveSyncDuration(time.Since(started).Seconds())
	}
}

// recordArrivalLocked appends now to batch_arrival_times, truncated to
// the last BatchTimingHistory entries. Callers hold mu.
func (ps *peerState) recordArrivalLocked() {
	ps.batchArrivalTimes = append(ps.batchArrivalTimes, time.Now())
	if len(ps.batchArrivalTimes) > BatchTimingHistory {
		ps.batchArrivalTimes = ps.batchArrivalTimes[len(ps.batchArrivalTimes)-BatchTimingHistory:]
	}
}

// adaptiveDelayLocked computes the debounce delay for root
// recomputation from the peer's recent batch arrival times. Callers
// hold mu.
func (ps *peerState) adaptiveDelayLocked() time.Duration {
	if len(ps.batchArrivalTimes) < 2 {
		return MinMerkleDelay
	}
	var total time.Duration
	for i := 1; i < len(ps.batchArrivalTimes); i++ {
		total += ps.batchArrivalTimes[i].Sub(ps.batchArrivalTimes[i-1])
	}
	avg := total / time.Duration(len(ps.batchArrivalTimes)-1)
	delay := 2 * avg
	if delay < MinMerkleDelay {
		return MinMerkleDelay
	}
	if delay > MaxMerkleDelay {
		return MaxMerkleDelay
	}
	return delay
}

// scheduleDebounceLocked (re)arms the debounced root-recomputation
// timer, cancelling and replacing any previously pending one. Callers
// hold mu.
func (ps *peerState) scheduleDebounceLocked(o *Orchestrator, peer transport.PeerID) {
	if ps.debounceTimer != nil {
		ps.debounceTimer.Stop()
	}
	delay := ps.adaptiveDelayLocked()
	ps.debounceTimer = time.AfterFunc(delay, func() {
		o.recomputeRoot(peer)
	})
}

// recomputeRoot rebuilds the tree from the current hash index,
// publishes the new root, and triggers reverse sync if it differs from
// the last root sent to peer.
func (o *Orchestrator) recomputeRoot(peer transport.PeerID) {
	ps, ok := o.peer(peer)
	if !ok {
		return
	}
	ps.mu.Lock()
	ps.debounceTimer = nil
	last := ps.lastRootSent
	ps.mu.Unlock()

	o.cache.Invalidate()
	root := o.localRoot()
	if o.metrics != nil {
		o.metrics.IncRootRecompute()
	}
	if root.Hash.String() != last {
		o.sendRootHash(peer)
	}
}

// scheduleCompletionCheckLocked arms the 2s completion check,
// replacing any previously pending one. Callers hold mu.
func (ps *peerState) scheduleCompletionCheckLocked(o *Orchestrator, peer transport.PeerID) {
	if ps.completionTimer != nil {
		ps.completionTimer.Stop()
	}
	ps.completionTimer = time.AfterFunc(CompletionCheckDelay, func() {
		o.checkCompletion(peer)
	})
}

// checkCompletion runs the sync-completion check: if no record-request
// batch is pending and no debounce timer is armed, the peer
// transitions back to Idle and reverse sync fires; otherwise the
// check is rescheduled.
func (o *Orchestrator) checkCompletion(peer transport.PeerID) {
	ps, ok := o.peer(peer)
	if !ok {
		return
	}
	ps.mu.Lock()
	ps.completionTimer = nil

	batchPending := ps.batcher != nil && ps.batcher.Len() > 0
	debouncePending := ps.debounceTimer != nil
	if batchPending || debouncePending {
		ps.scheduleCompletionCheckLocked(o, peer)
		ps.mu.Unlock()
		return
	}
	ps.syncInProgress = false
	started := ps.syncStartedAt
	ps.syncStartedAt = time.Time{}
	ps.mu.Unlock()

	if o.metrics != nil && !started.IsZero() {
		o.metrics.ObserveSyncDuration(time.Since(started).Seconds())
	}
	o.sendRootHash(peer)
}
