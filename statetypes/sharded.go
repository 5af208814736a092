package statetypes

import "github.com/bits-and-blooms/bitset"

// ShardedStateUpdates is a fixed 16-way partition of key -> Option<value>
// updates. Within a shard, the last write to a key wins; nil marks deletion.
type ShardedStateUpdates [ShardCount]map[StateKey]*StateValue

// NewShardedStateUpdates returns an empty sharded update map with every
// shard bucket initialized.
func NewShardedStateUpdates() ShardedStateUpdates {
	var u ShardedStateUpdates
	for i := range u {
		u[i] = make(map[StateKey]*StateValue)
	}
	return u
}

// Put records the final write for key in its shard, overwriting any
// previous entry for the same key.
func (u *ShardedStateUpdates) Put(key StateKey, value *StateValue) {
	u[key.ShardID()][key] = value
}

// IsEmpty reports whether every shard is empty.
func (u ShardedStateUpdates) IsEmpty() bool {
	for i := range u {
		if len(u[i]) != 0 {
			return false
		}
	}
	return true
}

// Len returns the total number of keys across all shards.
func (u ShardedStateUpdates) Len() int {
	n := 0
	for i := range u {
		n += len(u[i])
	}
	return n
}

// ExtendFrom merges src into u per-shard: entries in src overwrite entries
// in u for the same key. Used when folding a batch's post-checkpoint writes
// into a parent's pending updates.
func (u *ShardedStateUpdates) ExtendFrom(src ShardedStateUpdates) {
	for i := range u {
		if u[i] == nil {
			u[i] = make(map[StateKey]*StateValue, len(src[i]))
		}
		for k, v := range src[i] {
			u[i][k] = v
		}
	}
}

// Clone returns a deep (per-shard-map) copy of u.
func (u ShardedStateUpdates) Clone() ShardedStateUpdates {
	out := NewShardedStateUpdates()
	out.ExtendFrom(u)
	return out
}

// TouchedShards returns a 16-bit set marking which shards hold at least one
// update. Callers that fan out per-shard work (the range-merger) use this to
// skip launching a goroutine for a shard nobody wrote to.
func (u ShardedStateUpdates) TouchedShards() *bitset.BitSet {
	bs := bitset.New(ShardCount)
	for i := range u {
		if len(u[i]) != 0 {
			bs.Set(uint(i))
		}
	}
	return bs
}
