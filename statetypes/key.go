// Package statetypes defines the value types the state-delta calculator
// operates on: opaque storage keys and values, per-transaction write sets,
// the fixed 16-way sharded update map, and storage-usage accounting.
package statetypes

import (
	"github.com/cespare/xxhash/v2"
	"github.com/exochain/statedelta/digest"
)

// ShardCount is the fixed fan-out used to bucket keys for data-parallel
// processing. Fixed at 16 to bound fork-join fan-out; see ShardedStateUpdates.
const ShardCount = 16

// StateKey is an opaque, content-addressed identifier of a storage slot.
// Two StateKeys are equal iff their raw bytes are equal; the zero value is
// not a valid key. StateKey is comparable and safe to use as a map key.
type StateKey struct {
	raw    string
	digest digest.Hash
	shard  uint8
}

// NewStateKey builds a StateKey from raw key bytes, hashing them with h to
// obtain the cryptographic digest used for SMT addressing. Shard placement
// uses a separate, non-cryptographic hash (xxhash) of the same bytes, since
// the partition only needs to be stable and well-distributed, not secure.
func NewStateKey(raw []byte, h digest.Hasher) StateKey {
	return StateKey{
		raw:    string(raw),
		digest: h.Hash(raw),
		shard:  uint8(xxhash.Sum64(raw) % ShardCount),
	}
}

// Bytes returns the raw key bytes.
func (k StateKey) Bytes() []byte { return []byte(k.raw) }

// Size returns the encoded size of the key in bytes, used by usage
// accounting.
func (k StateKey) Size() int { return len(k.raw) }

// Hash returns the cryptographic digest of the key, used to address the
// key's slot in the sparse Merkle tree.
func (k StateKey) Hash() digest.Hash { return k.digest }

// ShardID returns the stable shard partition in [0, ShardCount) this key
// belongs to.
func (k StateKey) ShardID() int {
	return int(k.shard)
}

// IsZero reports whether this is the unset StateKey value.
func (k StateKey) IsZero() bool {
	return k.raw == "" && k.digest.IsZero()
}
