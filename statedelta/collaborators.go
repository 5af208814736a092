package statedelta

import (
	"github.com/exochain/statedelta/smt"
	"github.com/exochain/statedelta/statetypes"
)

// Transaction is the opaque per-transaction handle the calculator threads
// through to the checkpoint predicate. The calculator never inspects it.
type Transaction interface{}

// TransactionOutput exposes the one thing the calculator needs out of a
// transaction's execution result: the write set it produced.
type TransactionOutput interface {
	WriteSet() statetypes.WriteSet
}

// CheckpointPredicate decides whether a transaction's position in the batch
// is a checkpoint boundary. is_reconfig is carried separately because a
// reconfiguration transaction forces a checkpoint regardless of its type.
type CheckpointPredicate func(txn Transaction, isReconfig bool) bool

// CommitEntry is one transaction's contribution to a batch: its handle (for
// the checkpoint predicate), its execution output (for the write set), and
// whether it triggered a reconfiguration.
type CommitEntry struct {
	Txn        Transaction
	Output     TransactionOutput
	IsReconfig bool
}

// ToCommit is the batch of transactions to fold into the state, in order.
type ToCommit interface {
	Len() int
	Entry(i int) CommitEntry
}

// lastCheckpointIndex scans commit in order and returns the index of the
// last entry for which pred holds.
func lastCheckpointIndex(commit ToCommit, pred CheckpointPredicate) (index int, ok bool) {
	for i := 0; i < commit.Len(); i++ {
		e := commit.Entry(i)
		if pred(e.Txn, e.IsReconfig) {
			index, ok = i, true
		}
	}
	return index, ok
}

// ExecutionOutput is the transaction-output provider collaborator: a batch
// of committed transactions plus whether block-structure invariants apply.
type ExecutionOutput struct {
	IsBlock bool
	Commit  ToCommit
}

// CacheEntry records one pre-execution read: the value a key held before
// the batch began (nil for absent), and optionally the version it was read
// at. The version is carried for callers that need it but is not consumed
// by usage accounting.
type CacheEntry struct {
	Version *uint64
	Value   *statetypes.StateValue
}

// ShardedStateCache is the 16-way sharded map of pre-execution reads,
// populated by the executor before a calculation begins and treated as
// read-only for its duration.
type ShardedStateCache [statetypes.ShardCount]map[statetypes.StateKey]CacheEntry

// NewShardedStateCache returns an empty, fully initialized read cache.
func NewShardedStateCache() ShardedStateCache {
	var c ShardedStateCache
	for i := range c {
		c[i] = make(map[statetypes.StateKey]CacheEntry)
	}
	return c
}

// Get looks up key's pre-execution read cache entry.
func (c ShardedStateCache) Get(key statetypes.StateKey) (CacheEntry, bool) {
	e, ok := c[key.ShardID()][key]
	return e, ok
}

// Put records a pre-execution read. Intended for use by the executor /
// tests populating a cache, not by the calculator itself.
func (c ShardedStateCache) Put(key statetypes.StateKey, entry CacheEntry) {
	c[key.ShardID()][key] = entry
}

// StateCache bundles the three per-calculation collaborators the executor
// hands over: the frozen parent tree, the pre-execution read cache, and
// the proof reader used to materialize subtrees the SMT has not loaded.
type StateCache struct {
	FrozenBase *smt.FrozenSparseMerkleTree
	Reads      ShardedStateCache
	Proofs     smt.ProofReader
}
