// Package transport is the thin, out-of-core messaging abstraction:
// a peer-addressed channel that delivers framed messages between
// identified peers and notifies on join/leave. The
// core only ever programs against the Transport interface; wsroom is
// the one concrete adapter this module ships.
package transport

import "github.com/kindlyrobotics/meshsync/internal/syncproto"

// PeerID identifies a connected peer. Its concrete form (a websocket
// connection id, a room participant id, ...) is transport-specific.
type PeerID string

// Transport is a multi-peer messaging channel exposing, for each of
// the five sync message kinds, a send/receive pair, plus join/leave
// notifications. Send with an empty PeerID broadcasts.
type Transport interface {
	OnPeerJoin(handler func(peer PeerID))
	OnPeerLeave(handler func(peer PeerID))

	SendRootHash(peer PeerID, payload syncproto.RootHash) error
	OnRootHash(handler func(peer PeerID, payload syncproto.RootHash))

	SendRequestSubtree(peer PeerID, payload syncproto.RequestSubtree) error
	OnRequestSubtree(handler func(peer PeerID, payload syncproto.RequestSubtree))

	SendSubtreeHashes(peer PeerID, payload syncproto.SubtreeHashes) error
	OnSubtreeHashes(handler func(peer PeerID, payload syncproto.SubtreeHashes))

	SendRequestRecords(peer PeerID, payload syncproto.RequestRecords) error
	OnRequestRecords(handler func(peer PeerID, payload syncproto.RequestRecords))

	SendRecords(peer PeerID, payload syncproto.Records) error
	OnRecords(handler func(peer PeerID, payload syncproto.Records))
}
