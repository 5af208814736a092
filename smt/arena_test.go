package smt

import (
	"testing"

	"github.com/exochain/statedelta/crypto"
	"github.com/exochain/statedelta/statetypes"
)

func TestArenaMirrorCachesNodes(t *testing.T) {
	h := crypto.KeccakHasher{}
	arena := NewArena(1 << 20)
	base := New(arena)
	frozen := Freeze(base, h)

	tree, err := BatchUpdate(frozen, []Update{{KeyHash: key("a"), Value: []byte("1")}}, statetypes.NewStateStorageUsage(1, 1), nil, h)
	if err != nil {
		t.Fatalf("BatchUpdate: %v", err)
	}

	if _, ok := arena.Get(tree.RootHash(h)); !ok {
		t.Fatal("expected root node to be mirrored into the arena cache")
	}
}

func TestArenaPinAndUnpinRoundTrip(t *testing.T) {
	h := crypto.KeccakHasher{}
	arena := NewArena(1 << 20)
	leaf := &leafNode{key: key("a"), value: []byte("1")}

	unpin := arena.Pin(leaf, h)
	if arena.RefCount(leaf.hash(h)) != 1 {
		t.Fatalf("expected refcount 1 after Pin, got %d", arena.RefCount(leaf.hash(h)))
	}
	unpin()
	if arena.RefCount(leaf.hash(h)) != 0 {
		t.Fatalf("expected refcount 0 after unpin, got %d", arena.RefCount(leaf.hash(h)))
	}
}

func TestArenaPinSharedAcrossTwoTrees(t *testing.T) {
	h := crypto.KeccakHasher{}
	leaf := &leafNode{key: key("a"), value: []byte("1")}
	arena := NewArena(1 << 20)

	unpinA := arena.Pin(leaf, h)
	unpinB := arena.Pin(leaf, h)
	if arena.RefCount(leaf.hash(h)) != 2 {
		t.Fatalf("expected refcount 2 when pinned twice, got %d", arena.RefCount(leaf.hash(h)))
	}
	unpinA()
	if arena.RefCount(leaf.hash(h)) != 1 {
		t.Fatalf("expected refcount 1 after one unpin, got %d", arena.RefCount(leaf.hash(h)))
	}
	unpinB()
	if arena.RefCount(leaf.hash(h)) != 0 {
		t.Fatalf("expected refcount 0 after both unpin, got %d", arena.RefCount(leaf.hash(h)))
	}
}
