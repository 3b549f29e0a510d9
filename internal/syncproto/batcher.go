package syncproto

import (
	"sync"
	"time"
)

// BatchDelay is the debounce window before a non-full batch flushes.
const BatchDelay = 100 * time.Millisecond

// MaxBatchSize is the largest a single REQUEST_RECORDS batch may grow
// to before it flushes immediately.
const MaxBatchSize = 50

// Batcher accumulates uuids a peer's records are needed for and flushes
// them as bounded-size RequestRecords batches. One Batcher exists per
// peer; it is never touched by another peer's handler.
//
// Grounded on the timer-and-channel idiom of
// cmd/messaging-service/internal/models/hub.go, adapted from a
// broadcast hub to a single-peer debounced accumulator.
type Batcher struct {
	delay   time.Duration
	maxSize int
	onFlush func(ids []string)

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
}

// NewBatcher creates a Batcher that invokes onFlush with the
// accumulated uuids whenever a flush condition is met. onFlush is
// called synchronously with the internal lock held, so it must not
// call back into the Batcher.
func NewBatcher(onFlush func(ids []string)) *Batcher {
	return &Batcher{
		delay:   BatchDelay,
		maxSize: MaxBatchSize,
		onFlush: onFlush,
		pending: make(map[string]struct{}),
	}
}

// Add records that id's record is needed. It arms (or re-arms) the
// debounce timer, flushing immediately if the accumulator has reached
// maxSize.
func (b *Batcher) Add(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending[id] = struct{}{}
	if len(b.pending) >= b.maxSize {
		b.flushLocked()
		return
	}
	b.armLocked()
}

func (b *Batcher) armLocked() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.delay, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.flushLocked()
	})
}

func (b *Batcher) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		return
	}
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	b.pending = make(map[string]struct{})
	if b.onFlush != nil {
		b.onFlush(ids)
	}
}

// Flush forces an immediate flush of whatever is pending. A no-op if
// the accumulator is empty.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// Cancel clears the timer and discards whatever is pending without
// invoking onFlush. Used on peer leave and sync cancellation: the
// Orchestrator's contract is explicit that leaving discards pending
// batches rather than sending a final request to a peer that is no
// longer there.
func (b *Batcher) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.pending = make(map[string]struct{})
}

// Len reports how many uuids are currently pending.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
