// Package syncproto defines the five message kinds of the progressive
// Merkle sync protocol and the per-peer record-request batcher. It has
// no notion of a peer's state machine — that lives in
// internal/orchestrator — only the wire shapes and the batching rule.
package syncproto

import "github.com/kindlyrobotics/meshsync/internal/record"

// RootHash announces a node's current Merkle root.
type RootHash struct {
	MerkleRoot string `json:"merkle_root"`
}

// RequestSubtree asks a peer for the summaries at depth below path.
type RequestSubtree struct {
	Path  string `json:"path"`
	Depth int    `json:"depth"`
}

// SubtreeHashesItem is one entry of a SubtreeHashes response.
type SubtreeHashesItem struct {
	Path        string   `json:"path"`
	Hash        string   `json:"hash"`
	UUIDs       []string `json:"uuids"`
	HasChildren bool     `json:"has_children"`
}

// SubtreeHashes is the response to RequestSubtree.
type SubtreeHashes []SubtreeHashesItem

// RequestRecords asks a peer for the full records behind a list of
// uuids, assembled by the batcher.
type RequestRecords []string

// Records is the response to RequestRecords: the full record for each
// requested uuid the peer actually has.
type Records map[string]record.Record
