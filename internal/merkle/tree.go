// Package merkle implements the deterministic, content-addressed
// Merkle tree that the sync protocol reconciles over.
//
// The tree is a pure function of a sorted (uuid, content_hash) mapping:
// two builds from the same mapping always produce the same root hash.
// Internal-node uuid sets are kept as ordered sets backed by
// github.com/google/btree, so union during tree construction keeps
// members ordered without a sort-after-concat. The tree is always
// rebuilt in full from a snapshot; there is no incremental update.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Hash is a 32-byte SHA-256 digest.
type Hash [32]byte

// String returns the hex-lowercase encoding of h.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// HashHex parses a hex-encoded hash. It is the inverse of String.
func HashHex(s string) (Hash, bool) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(h) {
		return Hash{}, false
	}
	copy(h[:], b)
	return h, true
}

// emptyHash is SHA-256 of the empty byte string, the canonical root of
// an empty tree.
var emptyHash = Hash(sha256.Sum256(nil))

// Node is a node of the Merkle tree. Leaves carry exactly one uuid;
// internal nodes carry the sorted union of their descendants' uuids.
type Node struct {
	Hash   Hash
	UUIDs  *UUIDSet
	Left   *Node
	Right  *Node
	IsLeaf bool
}

// HashInternal computes the hash of an internal node from its
// children's hex-encoded hashes: SHA-256(hex(left) || hex(right)).
func HashInternal(left, right Hash) Hash {
	h := sha256.New()
	h.Write([]byte(left.String()))
	h.Write([]byte(right.String()))
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Build constructs the canonical Merkle tree from a hash index
// snapshot (uuid -> content hash). It never fails: malformed entries
// still participate deterministically, since entries arrive as already
// hex-decoded Hash values.
func Build(entries map[string]Hash) *Node {
	if len(entries) == 0 {
		return &Node{Hash: emptyHash, UUIDs: NewUUIDSet(), IsLeaf: true}
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	level := make([]*Node, len(keys))
	for i, k := range keys {
		level[i] = &Node{
			Hash:   entries[k],
			UUIDs:  NewUUIDSet(k),
			IsLeaf: true,
		}
	}

	for len(level) > 1 {
		next := make([]*Node, 0, (len(level)+1)/2)
		for j := 0; j+1 < len(level); j += 2 {
			left, right := level[j], level[j+1]
			next = append(next, &Node{
				Hash:  HashInternal(left.Hash, right.Hash),
				UUIDs: left.UUIDs.Union(right.UUIDs),
				Left:  left,
				Right: right,
			})
		}
		if len(level)%2 == 1 {
			// Promote the last, unpaired node unchanged.
			next = append(next, level[len(level)-1])
		}
		level = next
	}
	return level[0]
}
