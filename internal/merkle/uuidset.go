package merkle

import "github.com/google/btree"

// btreeDegree matches the degree trillian's indices use for in-memory
// ordered sets of this size (a handful to a few thousand uuids per
// node near the root).
const btreeDegree = 32

type uuidItem string

func (a uuidItem) Less(than btree.Item) bool {
	return a < than.(uuidItem)
}

// UUIDSet is a sorted set of uuid strings backed by a B-tree, used to
// represent the uuids reachable under a Merkle node without resorting
// the whole set on every union.
type UUIDSet struct {
	tree *btree.BTree
}

// NewUUIDSet builds a UUIDSet containing the given ids.
func NewUUIDSet(ids ...string) *UUIDSet {
	s := &UUIDSet{tree: btree.New(btreeDegree)}
	for _, id := range ids {
		s.tree.ReplaceOrInsert(uuidItem(id))
	}
	return s
}

// Len returns the number of ids in the set.
func (s *UUIDSet) Len() int {
	if s == nil || s.tree == nil {
		return 0
	}
	return s.tree.Len()
}

// Has reports whether id is a member of the set.
func (s *UUIDSet) Has(id string) bool {
	if s == nil || s.tree == nil {
		return false
	}
	return s.tree.Has(uuidItem(id))
}

// Slice returns the set's members in ascending order.
func (s *UUIDSet) Slice() []string {
	if s == nil || s.tree == nil {
		return nil
	}
	out := make([]string, 0, s.tree.Len())
	s.tree.Ascend(func(it btree.Item) bool {
		out = append(out, string(it.(uuidItem)))
		return true
	})
	return out
}

// Union returns a new set containing the members of s and other. Every
// member of both inputs is inserted into a fresh B-tree, so the result
// is ordered without sorting a concatenation.
func (s *UUIDSet) Union(other *UUIDSet) *UUIDSet {
	out := btree.New(btreeDegree)
	if s != nil && s.tree != nil {
		s.tree.Ascend(func(it btree.Item) bool {
			out.ReplaceOrInsert(it)
			return true
		})
	}
	if other != nil && other.tree != nil {
		other.tree.Ascend(func(it btree.Item) bool {
			out.ReplaceOrInsert(it)
			return true
		})
	}
	return &UUIDSet{tree: out}
}
