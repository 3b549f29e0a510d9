package transport

import (
	"fmt"
	"sync"

	"github.com/kindlyrobotics/meshsync/internal/syncproto"
)

// MemTransport is an in-process Transport used to exercise the
// orchestrator and sync protocol against each other without a real
// network, following the same role the reference server's in-memory
// signaling.Room plays for its WebRTC handshake tests. Two
// MemTransports are wired together with Link and each delivers what it
// Sends onto the other's inbox goroutine, so messages from one peer
// are processed strictly in arrival order.
type MemTransport struct {
	self PeerID

	mu   sync.Mutex
	peer *MemTransport

	onJoin           []func(PeerID)
	onLeave          []func(PeerID)
	onRootHash       []func(PeerID, syncproto.RootHash)
	onRequestSubtree []func(PeerID, syncproto.RequestSubtree)
	onSubtreeHashes  []func(PeerID, syncproto.SubtreeHashes)
	onRequestRecords []func(PeerID, syncproto.RequestRecords)
	onRecords        []func(PeerID, syncproto.Records)

	inbox chan func()
	done  chan struct{}
}

// NewMemTransport starts a MemTransport identified as self.
func NewMemTransport(self PeerID) *MemTransport {
	t := &MemTransport{
		self:  self,
		inbox: make(chan func(), 256),
		done:  make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *MemTransport) run() {
	for {
		select {
		case fn := <-t.inbox:
			fn()
		case <-t.done:
			return
		}
	}
}

// Close stops the delivery goroutine.
func (t *MemTransport) Close() {
	close(t.done)
}

// Link connects two MemTransports as each other's sole remote peer.
func Link(a, b *MemTransport) {
	a.mu.Lock()
	a.peer = b
	a.mu.Unlock()
	b.mu.Lock()
	b.peer = a
	b.mu.Unlock()
}

// Announce delivers a peer-join notification for t to its linked peer,
// simulating the transport's own join detection (a transport-layer
// concern, not something the sync core itself handles).
func (t *MemTransport) Announce() {
	t.deliverToPeer(func(p *MemTransport) {
		for _, h := range snapshotJoin(p) {
			h(t.self)
		}
	})
}

// Depart delivers a peer-leave notification for t to its linked peer.
func (t *MemTransport) Depart() {
	t.deliverToPeer(func(p *MemTransport) {
		for _, h := range snapshotLeave(p) {
			h(t.self)
		}
	})
}

func (t *MemTransport) deliverToPeer(fn func(p *MemTransport)) {
	t.mu.Lock()
	p := t.peer
	t.mu.Unlock()
	if p == nil {
		return
	}
	p.inbox <- func() { fn(p) }
}

func snapshotJoin(t *MemTransport) []func(PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]func(PeerID){}, t.onJoin...)
}

func snapshotLeave(t *MemTransport) []func(PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]func(PeerID){}, t.onLeave...)
}

func (t *MemTransport) addressedToPeer(peer PeerID, remote *MemTransport) bool {
	return peer == "" || peer == remote.self
}

func (t *MemTransport) OnPeerJoin(handler func(peer PeerID)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onJoin = append(t.onJoin, handler)
}

func (t *MemTransport) OnPeerLeave(handler func(peer PeerID)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onLeave = append(t.onLeave, handler)
}

func (t *MemTransport) SendRootHash(peer PeerID, payload syncproto.RootHash) error {
	t.mu.Lock()
	p := t.peer
	t.mu.Unlock()
	if p == nil || !t.addressedToPeer(peer, p) {
		return fmt.Errorf("transport: no route to peer %q", peer)
	}
	p.inbox <- func() {
		p.mu.Lock()
		handlers := append([]func(PeerID, syncproto.RootHash){}, p.onRootHash...)
		p.mu.Unlock()
		for _, h := range handlers {
			h(t.self, payload)
		}
	}
	return nil
}

func (t *MemTransport) OnRootHash(handler func(peer PeerID, payload syncproto.RootHash)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRootHash = append(t.onRootHash, handler)
}

func (t *MemTransport) SendRequestSubtree(peer PeerID, payload syncproto.RequestSubtree) error {
	t.mu.Lock()
	p := t.peer
	t.mu.Unlock()
	if p == nil || !t.addressedToPeer(peer, p) {
		return fmt.Errorf("transport: no route to peer %q", peer)
	}
	p.inbox <- func() {
		p.mu.Lock()
		handlers := append([]func(PeerID, syncproto.RequestSubtree){}, p.onRequestSubtree...)
		p.mu.Unlock()
		for _, h := range handlers {
			h(t.self, payload)
		}
	}
	return nil
}

func (t *MemTransport) OnRequestSubtree(handler func(peer PeerID, payload syncproto.RequestSubtree)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRequestSubtree = append(t.onRequestSubtree, handler)
}

func (t *MemTransport) SendSubtreeHashes(peer PeerID, payload syncproto.SubtreeHashes) error {
	t.mu.Lock()
	p := t.peer
	t.mu.Unlock()
	if p == nil || !t.addressedToPeer(peer, p) {
		return fmt.Errorf("transport: no route to peer %q", peer)
	}
	p.inbox <- func() {
		p.mu.Lock()
		handlers := append([]func(PeerID, syncproto.SubtreeHashes){}, p.onSubtreeHashes...)
		p.mu.Unlock()
		for _, h := range handlers {
			h(t.self, payload)
		}
	}
	return nil
}

func (t *MemTransport) OnSubtreeHashes(handler func(peer PeerID, payload syncproto.SubtreeHashes)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSubtreeHashes = append(t.onSubtreeHashes, handler)
}

func (t *MemTransport) SendRequestRecords(peer PeerID, payload syncproto.RequestRecords) error {
	t.mu.Lock()
	p := t.peer
	t.mu.Unlock()
	if p == nil || !t.addressedToPeer(peer, p) {
		return fmt.Errorf("transport: no route to peer %q", peer)
	}
	p.inbox <- func() {
		p.mu.Lock()
		handlers := append([]func(PeerID, syncproto.RequestRecords){}, p.onRequestRecords...)
		p.mu.Unlock()
		for _, h := range handlers {
			h(t.self, payload)
		}
	}
	return nil
}

func (t *MemTransport) OnRequestRecords(handler func(peer PeerID, payload syncproto.RequestRecords)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRequestRecords = append(t.onRequestRecords, handler)
}

func (t *MemTransport) SendRecords(peer PeerID, payload syncproto.Records) error {
	t.mu.Lock()
	p := t.peer
	t.mu.Unlock()
	if p == nil || !t.addressedToPeer(peer, p) {
		return fmt.Errorf("transport: no route to peer %q", peer)
	}
	p.inbox <- func() {
		p.mu.Lock()
		handlers := append([]func(PeerID, syncproto.Records){}, p.onRecords...)
		p.mu.Unlock()
		for _, h := range handlers {
			h(t.self, payload)
		}
	}
	return nil
}

func (t *MemTransport) OnRecords(handler func(peer PeerID, payload syncproto.Records)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRecords = append(t.onRecords, handler)
}

var _ Transport = (*MemTransport)(nil)
