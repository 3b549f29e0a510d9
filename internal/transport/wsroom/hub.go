// Package wsroom is the one concrete Transport adapter this module
// ships: a websocket room that frames the five sync message kinds over
// gorilla/websocket connections and routes HTTP upgrades through
// gorilla/mux, grounded on the reference server's
// cmd/room-service/internal/handlers/Websocket.go upgrader and its
// internal/signaling Client/Room ReadPump/WritePump pair, shrunk from a
// WebRTC-signaling-plus-chat room to a typed sync-message bus.
package wsroom

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/kindlyrobotics/meshsync/internal/syncproto"
	"github.com/kindlyrobotics/meshsync/internal/transport"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // peers authenticate at the sync-protocol layer, not at the transport
	},
}

// envelope is the wire wrapper every frame carries: a kind tag
// dispatching to one of the five syncproto payload types.
type envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

const (
	kindRootHash       = "root_hash"
	kindRequestSubtree = "request_subtree"
	kindSubtreeHashes  = "subtree_hashes"
	kindRequestRecords = "request_records"
	kindRecords        = "records"
)

type peerConn struct {
	id   transport.PeerID
	conn *websocket.Conn
	send chan []byte
}

// Hub is a websocket-backed transport.Transport: every connected peer
// is identified by a path variable on the upgrade route and framed
// messages are dispatched to the registered On* handlers by kind.
type Hub struct {
	mu    sync.RWMutex
	peers map[transport.PeerID]*peerConn

	onJoin           []func(transport.PeerID)
	onLeave          []func(transport.PeerID)
	onRootHash       []func(transport.PeerID, syncproto.RootHash)
	onRequestSubtree []func(transport.PeerID, syncproto.RequestSubtree)
	onSubtreeHashes  []func(transport.PeerID, syncproto.SubtreeHashes)
	onRequestRecords []func(transport.PeerID, syncproto.RequestRecords)
	onRecords        []func(transport.PeerID, syncproto.Records)
}

// NewHub returns an empty Hub ready to register with an HTTP router.
func NewHub() *Hub {
	return &Hub{peers: make(map[transport.PeerID]*peerConn)}
}

// RegisterRoutes mounts the websocket upgrade endpoint on r. Peers
// connect to "{prefix}/{peer_id}"; peer_id becomes their transport.PeerID.
func (h *Hub) RegisterRoutes(r *mux.Router, prefix string) {
	r.HandleFunc(prefix+"/{peer_id}", h.serveWS)
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	peerID := transport.PeerID(mux.Vars(r)["peer_id"])
	if peerID == "" {
		http.Error(w, "missing peer_id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[wsroom] upgrade for %s: %v", peerID, err)
		return
	}

	pc := &peerConn{id: peerID, conn: conn, send: make(chan []byte, 64)}

	h.mu.Lock()
	if old, exists := h.peers[peerID]; exists {
		old.conn.Close()
	}
	h.peers[peerID] = pc
	h.mu.Unlock()

	for _, handler := range h.snapshotJoinHandlers() {
		handler(peerID)
	}

	go h.writePump(pc)
	go h.readPump(pc)
}

func (h *Hub) snapshotJoinHandlers() []func(transport.PeerID) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]func(transport.PeerID){}, h.onJoin...)
}

func (h *Hub) snapshotLeaveHandlers() []func(transport.PeerID) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]func(transport.PeerID){}, h.onLeave...)
}

func (h *Hub) removePeer(pc *peerConn) {
	h.mu.Lock()
	current, ok := h.peers[pc.id]
	if ok && current == pc {
		delete(h.peers, pc.id)
	}
	h.mu.Unlock()
	if !ok || current != pc {
		return
	}
	close(pc.send)
	for _, handler := range h.snapshotLeaveHandlers() {
		handler(pc.id)
	}
}

// writePump drains pc.send onto the websocket connection, with a
// periodic ping to detect dead peers, same idiom as the reference server's
// WritePump.
func (h *Hub) writePump(pc *peerConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		pc.conn.Close()
	}()

	for {
		select {
		case message, ok := <-pc.send:
			pc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				pc.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := pc.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			pc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := pc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames off the connection and dispatches them until
// the peer disconnects.
func (h *Hub) readPump(pc *peerConn) {
	defer func() {
		h.removePeer(pc)
		pc.conn.Close()
	}()

	pc.conn.SetReadLimit(maxMessageSize)
	pc.conn.SetReadDeadline(time.Now().Add(pongWait))
	pc.conn.SetPongHandler(func(string) error {
		pc.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := pc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[wsroom] read from %s: %v", pc.id, err)
			}
			return
		}
		h.dispatch(pc.id, raw)
	}
}

func (h *Hub) dispatch(from transport.PeerID, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("[wsroom] malformed envelope from %s: %v", from, err)
		return
	}

	switch env.Kind {
	case kindRootHash:
		var p syncproto.RootHash
		if !h.decode(from, env.Payload, &p) {
			return
		}
		for _, handler := range h.copyRootHashHandlers() {
			handler(from, p)
		}
	case kindRequestSubtree:
		var p syncproto.RequestSubtree
		if !h.decode(from, env.Payload, &p) {
			return
		}
		for _, handler := range h.copyRequestSubtreeHandlers() {
			handler(from, p)
		}
	case kindSubtreeHashes:
		var p syncproto.SubtreeHashes
		if !h.decode(from, env.Payload, &p) {
			return
		}
		for _, handler := range h.copySubtreeHashesHandlers() {
			handler(from, p)
		}
	case kindRequestRecords:
		var p syncproto.RequestRecords
		if !h.decode(from, env.Payload, &p) {
			return
		}
		for _, handler := range h.copyRequestRecordsHandlers() {
			handler(from, p)
		}
	case kindRecords:
		var p syncproto.Records
		if !h.decode(from, env.Payload, &p) {
			return
		}
		for _, handler := range h.copyRecordsHandlers() {
			handler(from, p)
		}
	default:
		log.Printf("[wsroom] unknown message kind %q from %s", env.Kind, from)
	}
}

func (h *Hub) decode(from transport.PeerID, raw json.RawMessage, out interface{}) bool {
	if err := json.Unmarshal(raw, out); err != nil {
		log.Printf("[wsroom] malformed payload from %s: %v", from, err)
		return false
	}
	return true
}

// send frames payload under kind and delivers it to peer, or to every
// connected peer if peer is empty.
func (h *Hub) send(peer transport.PeerID, kind string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("wsroom: marshal %s payload: %w", kind, err)
	}
	frame, err := json.Marshal(envelope{Kind: kind, Payload: body})
	if err != nil {
		return fmt.Errorf("wsroom: marshal envelope: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if peer != "" {
		pc, ok := h.peers[peer]
		if !ok {
			return fmt.Errorf("wsroom: no connected peer %q", peer)
		}
		return deliver(pc, frame)
	}
	for _, pc := range h.peers {
		if err := deliver(pc, frame); err != nil {
			log.Printf("[wsroom] broadcast to %s: %v", pc.id, err)
		}
	}
	return nil
}

func deliver(pc *peerConn, frame []byte) error {
	select {
	case pc.send <- frame:
		return nil
	default:
		return fmt.Errorf("wsroom: send buffer full for %s", pc.id)
	}
}

var _ transport.Transport = (*Hub)(nil)
