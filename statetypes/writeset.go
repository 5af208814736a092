package statetypes

// WriteSetEntry is a single (key, write) pair produced by executing a
// transaction, in the order the write occurred.
type WriteSetEntry struct {
	Key StateKey
	Op  WriteOp
}

// WriteSet is the ordered sequence of writes one transaction produced.
// When a key is written more than once, the later entry wins; WriteSet
// preserves every entry so callers can see the full history, but
// ShardedStateUpdates (built by the shard-splitter) keeps only the final
// write per key.
type WriteSet []WriteSetEntry

// NewWriteSet builds a WriteSet from ordered entries.
func NewWriteSet(entries ...WriteSetEntry) WriteSet {
	return WriteSet(entries)
}
