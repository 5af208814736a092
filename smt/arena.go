package smt

import (
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/exochain/statedelta/digest"
)

// Arena is the node-encoding cache shared by every tree built from a common
// ancestor. It plays the role this repository's trie package split across
// two collaborators: a byte-cache of node encodings keyed by hash (there,
// TrieCache; here, fastcache.Cache, since an off-the-shelf concurrent
// cache with its own eviction policy covers the same job without a
// hand-rolled LRU list), and a reference count per hash (there, RefCountDB)
// that keeps a tree's nodes from being treated as cold while a computation
// still holds a FrozenSparseMerkleTree over them.
//
// Unlike RefCountDB, Arena's refcounts are advisory: Go's GC is what
// actually keeps a node alive. The count is bookkeeping only: fastcache
// evicts entries by its own policy without consulting it, and RefCount is
// its only reader. Cache entries hold an empty placeholder rather than a
// serialized node, so the cache records which node hashes are resident.
type Arena struct {
	cache *fastcache.Cache

	mu   sync.Mutex
	refs map[digest.Hash]int64
}

// NewArena creates a node-encoding arena with the given approximate cache
// size in bytes.
func NewArena(maxBytes int) *Arena {
	return &Arena{
		cache: fastcache.New(maxBytes),
		refs:  make(map[digest.Hash]int64),
	}
}

// Pin increments the reference count of every node reachable from root,
// identified by its hash under h, and returns a function that undoes it. A
// FrozenSparseMerkleTree calls this once at Freeze and the returned func at
// Release.
func (a *Arena) Pin(root node, h digest.Hasher) func() {
	hashes := a.reachableHashes(root, h)

	a.mu.Lock()
	for _, key := range hashes {
		a.refs[key]++
	}
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			for _, key := range hashes {
				if a.refs[key] > 0 {
					a.refs[key]--
				}
				if a.refs[key] == 0 {
					delete(a.refs, key)
				}
			}
		})
	}
}

// mirror records every node reachable from root that is not already cached,
// storing walk's empty placeholder under the node's hash. It is called after each BatchUpdate so the next
// computation built on top of the returned tree finds its nodes warm.
func (a *Arena) mirror(root node, h digest.Hasher) {
	a.walk(root, h, func(key digest.Hash, encoded []byte) {
		if a.cache.Has(key[:]) {
			return
		}
		a.cache.Set(key[:], encoded)
	})
}

// Get reports whether a node hash is resident, returning the stored
// (empty placeholder) value.
func (a *Arena) Get(key digest.Hash) ([]byte, bool) {
	buf, ok := a.cache.HasGet(nil, key[:])
	return buf, ok
}

// RefCount returns the current pin count for a node hash, for tests and
// diagnostics.
func (a *Arena) RefCount(key digest.Hash) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refs[key]
}

func (a *Arena) reachableHashes(n node, h digest.Hasher) []digest.Hash {
	var out []digest.Hash
	a.walk(n, h, func(key digest.Hash, _ []byte) {
		out = append(out, key)
	})
	return out
}

// walk visits every node in the subtree rooted at n, calling visit with each
// node's hash and a placeholder encoding. branch children are visited
// depth-first; stub nodes are leaves of the walk since nothing lies beneath
// them in memory yet.
func (a *Arena) walk(n node, h digest.Hasher, visit func(digest.Hash, []byte)) {
	switch cur := n.(type) {
	case nil:
		return
	case *branch:
		visit(cur.hash(h), nil)
		a.walk(cur.left, h, visit)
		a.walk(cur.right, h, visit)
	default:
		visit(cur.hash(h), nil)
	}
}
