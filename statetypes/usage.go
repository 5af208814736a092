package statetypes

// StateStorageUsage is the aggregate (items, bytes) counters attributed to a
// tree, or the distinguished untracked state. Operations on an untracked
// usage short-circuit rather than paying to recompute a number nobody reads.
type StateStorageUsage struct {
	items     uint64
	bytes     uint64
	untracked bool
}

// NewStateStorageUsage builds a tracked usage value. Negative deltas applied
// on top of this value that would drive items or bytes below zero indicate a
// calculator bug; ApplyDelta panics in that case rather than wrap.
func NewStateStorageUsage(items, bytes uint64) StateStorageUsage {
	return StateStorageUsage{items: items, bytes: bytes}
}

// UntrackedStateStorageUsage returns the distinguished untracked value.
func UntrackedStateStorageUsage() StateStorageUsage {
	return StateStorageUsage{untracked: true}
}

// IsUntracked reports whether usage tracking is disabled for this tree.
func (u StateStorageUsage) IsUntracked() bool { return u.untracked }

// Items returns the item count. Meaningless if IsUntracked.
func (u StateStorageUsage) Items() uint64 { return u.items }

// Bytes returns the byte count. Meaningless if IsUntracked.
func (u StateStorageUsage) Bytes() uint64 { return u.bytes }

// ApplyDelta adds the given signed item/byte deltas to u with exact signed
// arithmetic; nothing is clamped. Panics if the result would be negative,
// since that can only happen if the calculator mis-accounted a write.
func (u StateStorageUsage) ApplyDelta(itemsDelta, bytesDelta int64) StateStorageUsage {
	if u.untracked {
		return u
	}
	newItems := int64(u.items) + itemsDelta
	newBytes := int64(u.bytes) + bytesDelta
	if newItems < 0 || newBytes < 0 {
		panic("statetypes: storage usage delta drove items or bytes negative")
	}
	return StateStorageUsage{items: uint64(newItems), bytes: uint64(newBytes)}
}
