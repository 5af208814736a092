package smt

import "github.com/exochain/statedelta/digest"

// node is one of: nil (an empty subtree), *leafNode (a resident key/value
// pair), *stubLeaf (a key/value pair known only by hash, materialized from a
// proof but never read again), *stubTree (a subtree known only by its root
// hash), or *branch (an internal fork with up to two non-nil children).
//
// Persistence comes from never mutating a node in place: every update
// allocates new nodes only along the path being changed and reuses the
// untouched sibling pointers, so a tree built from an existing one shares
// every subtree it didn't touch.
type node interface {
	hash(h digest.Hasher) digest.Hash
}

// leafPrefix/branchPrefix domain-separate leaf hashes from internal-node
// hashes so a leaf can never be mistaken for a branch during verification.
var (
	leafPrefix   = []byte{0x00}
	branchPrefix = []byte{0x01}
)

type leafNode struct {
	key   digest.Hash
	value []byte
}

func (n *leafNode) hash(h digest.Hasher) digest.Hash {
	return h.Hash(leafPrefix, n.key[:], n.value)
}

// stubLeaf is a leaf materialized from a proof: its value hash is known
// (enough to fold into the tree's root hash) but its raw bytes are not, so
// it must not be read. Encountering one during a lookup is a caller error,
// not a storage-format violation.
type stubLeaf struct {
	key       digest.Hash
	valueHash digest.Hash
}

func (n *stubLeaf) hash(digest.Hasher) digest.Hash {
	return n.valueHash
}

// stubTree is an opaque subtree reached only through its root hash. It is
// resolved into real nodes the first time an update's key path descends
// into it, via the proof reader.
type stubTree struct {
	h digest.Hash
}

func (n *stubTree) hash(digest.Hasher) digest.Hash {
	return n.h
}

type branch struct {
	left, right node
}

func (n *branch) hash(h digest.Hasher) digest.Hash {
	return h.Hash(branchPrefix, childHash(h, n.left).Bytes(), childHash(h, n.right).Bytes())
}

// childHash returns the well-known empty-subtree hash for a nil child.
func childHash(h digest.Hasher, n node) digest.Hash {
	if n == nil {
		return emptySubtreeHash
	}
	return n.hash(h)
}

// emptySubtreeHash is the hash attributed to a nil child at any depth. Using
// one sentinel for every depth (rather than a depth-indexed family of
// defaults) is a simplification: it is sound because an empty subtree never
// needs to be distinguished from another empty subtree at a different depth
// within a single tree.
var emptySubtreeHash = digest.Hash{}

// getBit returns bit `depth` of h, MSB-first (bit 0 is the top bit of h[0]).
func getBit(h digest.Hash, depth int) int {
	byteIdx := depth / 8
	bitIdx := 7 - uint(depth%8)
	return int((h[byteIdx] >> bitIdx) & 1)
}
