package wsroom

import (
	"github.com/kindlyrobotics/meshsync/internal/syncproto"
	"github.com/kindlyrobotics/meshsync/internal/transport"
)

// OnPeerJoin implements transport.Transport.
func (h *Hub) OnPeerJoin(handler func(peer transport.PeerID)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onJoin = append(h.onJoin, handler)
}

// OnPeerLeave implements transport.Transport.
func (h *Hub) OnPeerLeave(handler func(peer transport.PeerID)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onLeave = append(h.onLeave, handler)
}

// SendRootHash implements transport.Transport.
func (h *Hub) SendRootHash(peer transport.PeerID, payload syncproto.RootHash) error {
	return h.send(peer, kindRootHash, payload)
}

// OnRootHash implements transport.Transport.
func (h *Hub) OnRootHash(handler func(peer transport.PeerID, payload syncproto.RootHash)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRootHash = append(h.onRootHash, handler)
}

func (h *Hub) copyRootHashHandlers() []func(transport.PeerID, syncproto.RootHash) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]func(transport.PeerID, syncproto.RootHash){}, h.onRootHash...)
}

// SendRequestSubtree implements transport.Transport.
func (h *Hub) SendRequestSubtree(peer transport.PeerID, payload syncproto.RequestSubtree) error {
	return h.send(peer, kindRequestSubtree, payload)
}

// OnRequestSubtree implements transport.Transport.
func (h *Hub) OnRequestSubtree(handler func(peer transport.PeerID, payload syncproto.RequestSubtree)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRequestSubtree = append(h.onRequestSubtree, handler)
}

func (h *Hub) copyRequestSubtreeHandlers() []func(transport.PeerID, syncproto.RequestSubtree) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]func(transport.PeerID, syncproto.RequestSubtree){}, h.onRequestSubtree...)
}

// SendSubtreeHashes implements transport.Transport.
func (h *Hub) SendSubtreeHashes(peer transport.PeerID, payload syncproto.SubtreeHashes) error {
	return h.send(peer, kindSubtreeHashes, payload)
}

// OnSubtreeHashes implements transport.Transport.
func (h *Hub) OnSubtreeHashes(handler func(peer transport.PeerID, payload syncproto.SubtreeHashes)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSubtreeHashes = append(h.onSubtreeHashes, handler)
}

func (h *Hub) copySubtreeHashesHandlers() []func(transport.PeerID, syncproto.SubtreeHashes) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]func(transport.PeerID, syncproto.SubtreeHashes){}, h.onSubtreeHashes...)
}

// SendRequestRecords implements transport.Transport.
func (h *Hub) SendRequestRecords(peer transport.PeerID, payload syncproto.RequestRecords) error {
	return h.send(peer, kindRequestRecords, payload)
}

// OnRequestRecords implements transport.Transport.
func (h *Hub) OnRequestRecords(handler func(peer transport.PeerID, payload syncproto.RequestRecords)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRequestRecords = append(h.onRequestRecords, handler)
}

func (h *Hub) copyRequestRecordsHandlers() []func(transport.PeerID, syncproto.RequestRecords) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]func(transport.PeerID, syncproto.RequestRecords){}, h.onRequestRecords...)
}

// SendRecords implements transport.Transport.
func (h *Hub) SendRecords(peer transport.PeerID, payload syncproto.Records) error {
	return h.send(peer, kindRecords, payload)
}

// OnRecords implements transport.Transport.
func (h *Hub) OnRecords(handler func(peer transport.PeerID, payload syncproto.Records)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRecords = append(h.onRecords, handler)
}

func (h *Hub) copyRecordsHandlers() []func(transport.PeerID, syncproto.Records) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]func(transport.PeerID, syncproto.Records){}, h.onRecords...)
}
