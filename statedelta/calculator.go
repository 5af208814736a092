// Package statedelta implements the in-memory state-delta calculator: given
// a parent StateDelta, a read cache of pre-execution reads, and the write
// sets a batch of transactions produced, it computes the new StateDelta,
// the root hash of the batch's checkpoint (if any), and accurate
// storage-usage accounting.
//
// The orchestrator in this file composes four stages that each live in
// their own file: the shard-splitter (split.go), the range-merger
// (merge.go), the usage accountant (usage.go), and the checkpoint builder
// (checkpoint.go).
package statedelta

import (
	"context"
	"fmt"

	"github.com/exochain/statedelta/digest"
	"github.com/exochain/statedelta/log"
	"github.com/exochain/statedelta/metrics"
	"github.com/exochain/statedelta/smt"
	"github.com/exochain/statedelta/statetypes"
)

var calcLog = log.Default().Module("statedelta")

// StateCheckpointOutput is the calculator's produced output: the parent
// handle it started from, the resulting StateDelta, the pre-checkpoint
// aggregate (if the batch contained a checkpoint), the per-transaction
// sharded updates, and the reconciled per-transaction checkpoint hashes.
type StateCheckpointOutput struct {
	ParentState                 *StateDelta
	ResultState                 *StateDelta
	UpdatesBeforeLastCheckpoint *statetypes.ShardedStateUpdates
	StateUpdatesVec             []statetypes.ShardedStateUpdates
	StateCheckpointHashes       []*digest.Hash
}

// CalculateForTransactions is the primary entry point: given an execution
// output (a batch of committed transactions, possibly block-structured),
// the parent state, the state cache populated during execution, the
// checkpoint predicate, the hasher, and optionally the caller's previously
// known checkpoint hashes, it produces the new StateCheckpointOutput.
func CalculateForTransactions(ctx context.Context, output ExecutionOutput, parent *StateDelta, cache *StateCache, pred CheckpointPredicate, h digest.Hasher, knownCheckpoints []*digest.Hash) (*StateCheckpointOutput, error) {
	commit := output.Commit
	n := commit.Len()

	lastCpIdx, hasCp := lastCheckpointIndex(commit, pred)

	if output.IsBlock {
		if err := validateBlockStructure(commit, pred, parent, n, lastCpIdx, hasCp); err != nil {
			return nil, err
		}
	}

	writeSets := make([]statetypes.WriteSet, n)
	for i := 0; i < n; i++ {
		writeSets[i] = commit.Entry(i).Output.WriteSet()
	}

	return calculateImpl(ctx, writeSets, lastCpIdx, hasCp, parent, cache, h, knownCheckpoints)
}

// CalculateForWriteSetsAfterSnapshot is the secondary entry point, used
// when the caller already has write sets in hand (e.g. replaying a chunk)
// rather than a full execution output. Block-structure validation does not
// apply on this path.
func CalculateForWriteSetsAfterSnapshot(ctx context.Context, parent *StateDelta, cache *StateCache, lastCheckpointIndex *int, writeSets []statetypes.WriteSet, h digest.Hasher) (*StateCheckpointOutput, error) {
	hasCp := lastCheckpointIndex != nil
	idx := 0
	if hasCp {
		idx = *lastCheckpointIndex
	}
	return calculateImpl(ctx, writeSets, idx, hasCp, parent, cache, h, nil)
}

// validateBlockStructure enforces the block invariants: non-empty batch, a
// parent that is itself a checkpoint, no pending updates carried into the
// block, and a checkpoint transaction at the last position only.
func validateBlockStructure(commit ToCommit, pred CheckpointPredicate, parent *StateDelta, n int, lastCpIdx int, hasCp bool) error {
	if n == 0 {
		return &InvalidBlockError{Reason: "batch is empty"}
	}
	if parent.BaseVersion != parent.CurrentVersion {
		return &InvalidBlockError{Reason: "parent state is not itself a checkpoint"}
	}
	if !parent.UpdatesSinceBase.IsEmpty() {
		return &InvalidBlockError{Reason: "parent carries pending updates into a block"}
	}
	if !hasCp || lastCpIdx != n-1 {
		return &InvalidBlockError{Reason: "block must checkpoint at its last transaction"}
	}
	for i := 0; i < n-1; i++ {
		e := commit.Entry(i)
		if pred(e.Txn, e.IsReconfig) {
			return &InvalidBlockError{Reason: fmt.Sprintf("checkpoint transaction at interior position %d", i)}
		}
	}
	return nil
}

// calculateImpl is the shared implementation behind both entry points. It
// runs the four pipeline stages and assembles the result.
func calculateImpl(ctx context.Context, writeSets []statetypes.WriteSet, lastCpIdx int, hasCp bool, parent *StateDelta, cache *StateCache, h digest.Hasher, knownCheckpoints []*digest.Hash) (out *StateCheckpointOutput, err error) {
	defer func() {
		if err != nil {
			metrics.CalculationErrors.Inc()
		}
	}()

	n := len(writeSets)

	if knownCheckpoints != nil && len(knownCheckpoints) != n {
		return nil, &HashCountMismatchError{Expected: n, Got: len(knownCheckpoints)}
	}

	if !parent.CurrentSMT.IsTheSame(cache.FrozenBase.Tree) {
		panic("statedelta: state cache's frozen base is not the parent's current tree")
	}

	timerSplit := metrics.NewTimer(metrics.SplitDuration)
	perTxn, deletions, err := splitWriteSets(ctx, writeSets)
	timerSplit.Stop()
	if err != nil {
		return nil, err
	}

	var preSlice, postSlice []statetypes.ShardedStateUpdates
	if hasCp {
		preSlice = perTxn[:lastCpIdx+1]
		postSlice = perTxn[lastCpIdx+1:]
	} else {
		postSlice = perTxn
	}

	timerMerge := metrics.NewTimer(metrics.MergeDuration)
	pre, err := mergeRange(ctx, preSlice)
	if err != nil {
		timerMerge.Stop()
		return nil, err
	}
	post, err := mergeRange(ctx, postSlice)
	timerMerge.Stop()
	if err != nil {
		return nil, err
	}

	timerUsage := metrics.NewTimer(metrics.UsageDuration)
	finalUsage, err := calculateUsage(ctx, parent.CurrentSMT.Usage(), cache.Reads, pre, post)
	timerUsage.Stop()
	if err != nil {
		return nil, err
	}

	firstVersion := parent.CurrentVersion + 1
	currentVersion := parent.CurrentVersion + int64(n)

	timerCheckpoint := metrics.NewTimer(metrics.CheckpointDuration)
	result, checkpointHash, latestCheckpointSMT, latestCheckpointVersion, err := buildTrees(cache, parent, pre, post, hasCp, lastCpIdx, n, finalUsage, h, firstVersion)
	timerCheckpoint.Stop()
	if err != nil {
		return nil, err
	}

	hashes, err := reconcileHashes(n, hasCp, lastCpIdx, checkpointHash, knownCheckpoints)
	if err != nil {
		return nil, err
	}

	updatesSinceBase := post
	if !hasCp {
		carried := parent.UpdatesSinceBase.Clone()
		carried.ExtendFrom(post)
		updatesSinceBase = carried
	}

	baseSMT := parent.BaseSMT
	baseVersion := parent.BaseVersion
	if hasCp {
		baseSMT = latestCheckpointSMT
		baseVersion = latestCheckpointVersion
	}

	resultDelta := &StateDelta{
		BaseSMT:          baseSMT,
		BaseVersion:      baseVersion,
		CurrentSMT:       result,
		CurrentVersion:   currentVersion,
		UpdatesSinceBase: updatesSinceBase,
	}

	var preOut *statetypes.ShardedStateUpdates
	if hasCp {
		preOut = &pre
	}

	calcLog.Info("state delta computed",
		"first_version", firstVersion,
		"current_version", currentVersion,
		"base_version", baseVersion,
		"has_checkpoint", hasCp,
		"root_hash", result.RootHash(h).Hex(),
		"items", finalUsage.Items(),
		"bytes", finalUsage.Bytes(),
		"deletions", deletions,
	)

	metrics.TransactionsProcessed.Add(int64(n))
	metrics.TransactionRate.Mark(int64(n))
	metrics.DeletionsProcessed.Add(deletions)
	metrics.PendingUpdateKeys.Set(int64(updatesSinceBase.Len()))
	if hasCp {
		metrics.CheckpointsBuilt.Inc()
	}

	return &StateCheckpointOutput{
		ParentState:                 parent,
		ResultState:                 resultDelta,
		UpdatesBeforeLastCheckpoint: preOut,
		StateUpdatesVec:             perTxn,
		StateCheckpointHashes:       hashes,
	}, nil
}

// buildTrees applies the pre/post aggregates to the appropriate base trees,
// returning the end-of-batch tree,
// the checkpoint root hash (zero value if there was no checkpoint), the
// tree that becomes the new base, and its version.
func buildTrees(cache *StateCache, parent *StateDelta, pre, post statetypes.ShardedStateUpdates, hasCp bool, lastCpIdx int, n int, finalUsage statetypes.StateStorageUsage, h digest.Hasher, firstVersion int64) (result *smt.SparseMerkleTree, checkpointHash digest.Hash, latestCheckpointSMT *smt.SparseMerkleTree, latestCheckpointVersion int64, err error) {
	if !hasCp {
		result, err = makeCheckpoint(cache.FrozenBase, post, finalUsage, cache.Proofs, h)
		if err != nil {
			return nil, digest.Hash{}, nil, 0, err
		}
		return result, digest.Hash{}, parent.BaseSMT, parent.BaseVersion, nil
	}

	// The checkpoint carries the final usage only when it sits at the
	// batch's last transaction; any earlier checkpoint is an interior
	// moment that a later build in this same call will account for.
	checkpointIsLast := lastCpIdx == n-1

	checkpointUsage := statetypes.UntrackedStateStorageUsage()
	if checkpointIsLast {
		checkpointUsage = finalUsage
	}

	checkpointTree, err := makeCheckpoint(cache.FrozenBase, pre, checkpointUsage, cache.Proofs, h)
	if err != nil {
		return nil, digest.Hash{}, nil, 0, err
	}
	checkpointHash = checkpointTree.RootHash(h)
	checkpointVersion := firstVersion + int64(lastCpIdx)

	if checkpointIsLast {
		return checkpointTree, checkpointHash, checkpointTree, checkpointVersion, nil
	}

	frozenCheckpoint := smt.Freeze(checkpointTree, h)
	result, err = makeCheckpoint(frozenCheckpoint, post, finalUsage, cache.Proofs, h)
	frozenCheckpoint.Release()
	if err != nil {
		return nil, digest.Hash{}, nil, 0, err
	}
	return result, checkpointHash, checkpointTree, checkpointVersion, nil
}

// reconcileHashes builds the per-transaction expected-hash vector: the
// checkpoint index is filled with the computed hash (after checking it
// against any caller-supplied expectation), and every other index is
// carried through from knownCheckpoints unchanged (or nil if the caller
// supplied nothing at all).
func reconcileHashes(n int, hasCp bool, lastCpIdx int, computed digest.Hash, known []*digest.Hash) ([]*digest.Hash, error) {
	out := make([]*digest.Hash, n)
	if known != nil {
		copy(out, known)
	}

	if !hasCp {
		return out, nil
	}

	if out[lastCpIdx] != nil {
		if *out[lastCpIdx] != computed {
			return nil, &HashMismatchError{Index: lastCpIdx, Expected: *out[lastCpIdx], Computed: computed}
		}
	}
	h := computed
	out[lastCpIdx] = &h
	return out, nil
}
