// Package smt implements a persistent, structurally-shared sparse Merkle
// tree keyed by a 32-byte digest. It is the authenticated map underlying
// StateDelta's checkpoint and current trees: every batch_update call
// returns a new tree that shares every node it did not touch with its
// parent, so many in-flight trees can reference a common ancestor without
// copying it.
//
// Design is grounded in this repository's prior binary Merkle trie
// (announce binary tree: leaf/branch nodes keyed by a hashed key, walked
// bit-by-bit MSB-first) generalized to support structural sharing across
// updates, a frozen/pinning handle, and proof-reader-driven materialization
// of subtrees the caller has not loaded.
package smt

import (
	"sync"

	"github.com/exochain/statedelta/digest"
	"github.com/exochain/statedelta/statetypes"
)

// Update is one key/value write to apply in a single batch_update call.
// A nil Value deletes the key.
type Update struct {
	KeyHash digest.Hash
	Value   []byte
}

// SparseMerkleTree is an immutable snapshot of the authenticated map: a root
// node plus the storage-usage counters attributed to it. Trees are never
// mutated after construction; BatchUpdate returns a new tree.
type SparseMerkleTree struct {
	root  node
	usage statetypes.StateStorageUsage
	arena *Arena
}

// RootHash returns the Merkle root hash of the tree.
func (t *SparseMerkleTree) RootHash(h digest.Hasher) digest.Hash {
	if t == nil || t.root == nil {
		return emptySubtreeHash
	}
	return t.root.hash(h)
}

// Usage returns the storage-usage counters carried by this tree.
func (t *SparseMerkleTree) Usage() statetypes.StateStorageUsage {
	if t == nil {
		return statetypes.UntrackedStateStorageUsage()
	}
	return t.usage
}

// IsTheSame reports whether t and other are the identical tree snapshot
// (same root node, not merely an equal root hash). The orchestrator uses
// this to assert that the state cache's frozen_base really is the parent's
// current tree before applying any updates.
func (t *SparseMerkleTree) IsTheSame(other *SparseMerkleTree) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.root == other.root
}

// FrozenSparseMerkleTree pins a SparseMerkleTree's node arena against
// eviction for the duration of a computation that shares structure with it.
// Freeze/Release are reference-counted per arena via Arena.Pin.
type FrozenSparseMerkleTree struct {
	Tree *SparseMerkleTree
	pin  func()
}

// Freeze pins base's arena (if any) and returns a handle wrapping base. h is
// the hasher used to identify base's nodes in the arena; it need not be the
// same hasher the caller later uses for RootHash, but should be for the
// pin to actually line up with what mirror later stores.
func Freeze(base *SparseMerkleTree, h digest.Hasher) *FrozenSparseMerkleTree {
	f := &FrozenSparseMerkleTree{Tree: base}
	if base != nil && base.arena != nil {
		f.pin = base.arena.Pin(base.root, h)
	}
	return f
}

// Release unpins the frozen tree's arena reference, if any.
func (f *FrozenSparseMerkleTree) Release() {
	if f != nil && f.pin != nil {
		f.pin()
		f.pin = nil
	}
}

// New creates an empty tree backed by arena (may be nil for an
// arena-less/ephemeral tree, e.g. in tests).
func New(arena *Arena) *SparseMerkleTree {
	return &SparseMerkleTree{arena: arena}
}

var updateMu sync.Mutex // serializes arena mirroring writes across concurrent BatchUpdate callers using the same arena

// BatchUpdate applies updates to the frozen tree, producing a new tree that
// carries usage and shares structure with base wherever a path was not
// touched. proofReader materializes any stub subtree an update's key path
// must descend into; a missing proof fails the whole call with ErrProof, per
// the "all errors abort the calculation" rule. h is used to mirror the
// resulting tree's nodes into the arena, if any.
func BatchUpdate(base *FrozenSparseMerkleTree, updates []Update, usage statetypes.StateStorageUsage, proofReader ProofReader, h digest.Hasher) (*SparseMerkleTree, error) {
	var root node
	var arena *Arena
	if base != nil && base.Tree != nil {
		root = base.Tree.root
		arena = base.Tree.arena
	}

	for _, u := range updates {
		var err error
		root, err = insert(root, u.KeyHash, 0, u.Value, proofReader)
		if err != nil {
			return nil, err
		}
	}

	newTree := &SparseMerkleTree{root: root, usage: usage, arena: arena}
	if arena != nil {
		updateMu.Lock()
		arena.mirror(root, h)
		updateMu.Unlock()
	}
	return newTree, nil
}

// insert walks n along key's bit path starting at depth, applying value
// (nil deletes), and returns the replacement node. Only nodes on the path
// are reallocated; everything else in n is reused by reference.
func insert(n node, key digest.Hash, depth int, value []byte, pr ProofReader) (node, error) {
	switch cur := n.(type) {
	case nil:
		if value == nil {
			return nil, nil
		}
		return &leafNode{key: key, value: value}, nil

	case *leafNode:
		if cur.key == key {
			if value == nil {
				return nil, nil
			}
			return &leafNode{key: key, value: value}, nil
		}
		return splitAgainstOccupant(cur.key, cur, key, value, depth)

	case *stubLeaf:
		if cur.key == key {
			if value == nil {
				return nil, nil
			}
			return &leafNode{key: key, value: value}, nil
		}
		return splitAgainstOccupant(cur.key, cur, key, value, depth)

	case *stubTree:
		if pr == nil {
			return nil, ErrProof
		}
		occupant, ok := pr.Get(key)
		if !ok {
			return nil, ErrProof
		}
		if occupant == nil {
			// The proof attests the stub subtree holds nothing that
			// conflicts with key; treat it as empty and insert fresh.
			if value == nil {
				return nil, nil
			}
			return &leafNode{key: key, value: value}, nil
		}
		if occupant.KeyHash == key {
			if value == nil {
				return nil, nil
			}
			return &leafNode{key: key, value: value}, nil
		}
		occ := &stubLeaf{key: occupant.KeyHash, valueHash: occupant.ValueHash}
		return splitAgainstOccupant(occ.key, occ, key, value, depth)

	case *branch:
		var err error
		next := &branch{left: cur.left, right: cur.right}
		if getBit(key, depth) == 0 {
			next.left, err = insert(cur.left, key, depth+1, value, pr)
		} else {
			next.right, err = insert(cur.right, key, depth+1, value, pr)
		}
		if err != nil {
			return nil, err
		}
		if next.left == nil && next.right == nil {
			return nil, nil
		}
		return next, nil

	default:
		return nil, ErrProof
	}
}

// splitAgainstOccupant builds the branch chain needed to place a new
// key/value next to an existing occupant node whose key differs, starting
// at depth. It walks both keys' bits until they diverge, chaining
// single-child branches above the divergence point and a two-child branch
// at it. A nil value for the new key with a differing occupant is a no-op
// delete, so the occupant subtree is returned unchanged.
func splitAgainstOccupant(occupantKey digest.Hash, occupant node, newKey digest.Hash, value []byte, depth int) (node, error) {
	if value == nil {
		return occupant, nil
	}
	newLeaf := node(&leafNode{key: newKey, value: value})

	d := depth
	for getBit(occupantKey, d) == getBit(newKey, d) {
		d++
	}

	var merged *branch
	if getBit(newKey, d) == 0 {
		merged = &branch{left: newLeaf, right: occupant}
	} else {
		merged = &branch{left: occupant, right: newLeaf}
	}

	cur := node(merged)
	for d > depth {
		d--
		if getBit(newKey, d) == 0 {
			cur = &branch{left: cur, right: nil}
		} else {
			cur = &branch{left: nil, right: cur}
		}
	}
	return cur, nil
}
