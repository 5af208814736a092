package statedelta_test

import (
	"context"
	"errors"
	"testing"

	"github.com/exochain/statedelta/crypto"
	"github.com/exochain/statedelta/digest"
	"github.com/exochain/statedelta/smt"
	"github.com/exochain/statedelta/statedelta"
	"github.com/exochain/statedelta/statetypes"
)

type fakeTxnOutput struct {
	ws statetypes.WriteSet
}

func (f fakeTxnOutput) WriteSet() statetypes.WriteSet { return f.ws }

type fakeCommit struct {
	entries []statedelta.CommitEntry
}

func (f fakeCommit) Len() int { return len(f.entries) }
func (f fakeCommit) Entry(i int) statedelta.CommitEntry { return f.entries[i] }

// buildCommit constructs a fakeCommit from write sets. Each entry's Txn is
// its own index, for use with predAt.
func buildCommit(writeSets []statetypes.WriteSet) fakeCommit {
	entries := make([]statedelta.CommitEntry, len(writeSets))
	for i, ws := range writeSets {
		entries[i] = statedelta.CommitEntry{
			Txn:    i,
			Output: fakeTxnOutput{ws: ws},
		}
	}
	return fakeCommit{entries: entries}
}

func predAt(checkpointIdx int, ok bool) statedelta.CheckpointPredicate {
	return func(txn statedelta.Transaction, isReconfig bool) bool {
		if !ok {
			return false
		}
		return txn.(int) == checkpointIdx
	}
}

func freshCache(h digest.Hasher, parent *statedelta.StateDelta, reads map[string]*statetypes.StateValue) *statedelta.StateCache {
	c := &statedelta.StateCache{
		FrozenBase: smt.Freeze(parent.CurrentSMT, h),
		Reads:      statedelta.NewShardedStateCache(),
	}
	for raw, v := range reads {
		k := statetypes.NewStateKey([]byte(raw), h)
		c.Reads.Put(k, statedelta.CacheEntry{Value: v})
	}
	return c
}

func TestCalculateForTransactionsEmptyBlockFails(t *testing.T) {
	h := crypto.KeccakHasher{}
	parent := statedelta.NewEmptyStateDelta(nil)
	cache := freshCache(h, parent, nil)
	commit := buildCommit(nil)

	_, err := statedelta.CalculateForTransactions(context.Background(), statedelta.ExecutionOutput{IsBlock: true, Commit: commit}, parent, cache, predAt(0, false), h, nil)
	if err == nil {
		t.Fatal("expected error for empty block batch")
	}
	var invalid *statedelta.InvalidBlockError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidBlockError, got %T: %v", err, err)
	}
}

func TestCalculateForTransactionsSingleCreate(t *testing.T) {
	h := crypto.KeccakHasher{}
	parent := statedelta.NewEmptyStateDelta(nil)
	k := statetypes.NewStateKey([]byte("a"), h)
	v := statetypes.NewStateValue([]byte{0x01})
	ws := statetypes.NewWriteSet(statetypes.WriteSetEntry{Key: k, Op: statetypes.WriteValue(v)})

	cache := freshCache(h, parent, map[string]*statetypes.StateValue{"a": nil})
	commit := buildCommit([]statetypes.WriteSet{ws})

	out, err := statedelta.CalculateForTransactions(context.Background(), statedelta.ExecutionOutput{IsBlock: true, Commit: commit}, parent, cache, predAt(0, true), h, nil)
	if err != nil {
		t.Fatalf("CalculateForTransactions: %v", err)
	}

	usage := out.ResultState.CurrentSMT.Usage()
	if usage.Items() != 1 {
		t.Fatalf("expected items=1, got %d", usage.Items())
	}
	if usage.Bytes() != 2 {
		t.Fatalf("expected bytes=2 (key size 1 + value size 1), got %d", usage.Bytes())
	}
	if out.ResultState.CurrentVersion != 0 {
		t.Fatalf("expected current_version=0, got %d", out.ResultState.CurrentVersion)
	}
	if out.ResultState.BaseVersion != 0 {
		t.Fatalf("expected latest_checkpoint_version=0, got %d", out.ResultState.BaseVersion)
	}
	if out.StateCheckpointHashes[0] == nil {
		t.Fatal("expected checkpoint hash to be populated at index 0")
	}
}

func TestCalculateWriteThenDeleteSameKeyNoUsageChange(t *testing.T) {
	h := crypto.KeccakHasher{}
	parent := statedelta.NewEmptyStateDelta(nil)
	k := statetypes.NewStateKey([]byte("a"), h)
	v := statetypes.NewStateValue([]byte{0x01})

	ws1 := statetypes.NewWriteSet(statetypes.WriteSetEntry{Key: k, Op: statetypes.WriteValue(v)})
	ws2 := statetypes.NewWriteSet(statetypes.WriteSetEntry{Key: k, Op: statetypes.DeleteValue()})

	cache := freshCache(h, parent, map[string]*statetypes.StateValue{"a": nil})
	commit := buildCommit([]statetypes.WriteSet{ws1, ws2})

	out, err := statedelta.CalculateForTransactions(context.Background(), statedelta.ExecutionOutput{IsBlock: true, Commit: commit}, parent, cache, predAt(1, true), h, nil)
	if err != nil {
		t.Fatalf("CalculateForTransactions: %v", err)
	}

	usage := out.ResultState.CurrentSMT.Usage()
	if usage.Items() != 0 || usage.Bytes() != 0 {
		t.Fatalf("expected no usage change, got items=%d bytes=%d", usage.Items(), usage.Bytes())
	}
}

func TestCalculateChunkWithoutCheckpoint(t *testing.T) {
	h := crypto.KeccakHasher{}
	parent := statedelta.NewEmptyStateDelta(nil)
	k1 := statetypes.NewStateKey([]byte("k1"), h)
	k2 := statetypes.NewStateKey([]byte("k2"), h)
	v1 := statetypes.NewStateValue([]byte{0x01})
	v2 := statetypes.NewStateValue([]byte{0x02})

	ws1 := statetypes.NewWriteSet(statetypes.WriteSetEntry{Key: k1, Op: statetypes.WriteValue(v1)})
	ws2 := statetypes.NewWriteSet(statetypes.WriteSetEntry{Key: k2, Op: statetypes.WriteValue(v2)})

	cache := freshCache(h, parent, map[string]*statetypes.StateValue{"k1": nil, "k2": nil})
	commit := buildCommit([]statetypes.WriteSet{ws1, ws2})

	out, err := statedelta.CalculateForTransactions(context.Background(), statedelta.ExecutionOutput{IsBlock: false, Commit: commit}, parent, cache, predAt(0, false), h, nil)
	if err != nil {
		t.Fatalf("CalculateForTransactions: %v", err)
	}

	if out.UpdatesBeforeLastCheckpoint != nil {
		t.Fatal("expected no pre-checkpoint updates for a chunk with no checkpoint")
	}
	if out.ResultState.CurrentVersion != parent.CurrentVersion+2 {
		t.Fatalf("expected current_version = first_version + 1, got %d", out.ResultState.CurrentVersion)
	}
	if out.ResultState.BaseVersion != parent.BaseVersion {
		t.Fatal("expected base_version to be carried from parent")
	}
	if out.ResultState.UpdatesSinceBase.Len() != 2 {
		t.Fatalf("expected 2 pending updates, got %d", out.ResultState.UpdatesSinceBase.Len())
	}
}

func TestCalculateHashReconciliationSuccessAndFailure(t *testing.T) {
	h := crypto.KeccakHasher{}
	parent := statedelta.NewEmptyStateDelta(nil)
	k := statetypes.NewStateKey([]byte("a"), h)
	v := statetypes.NewStateValue([]byte{0x01})
	ws := statetypes.NewWriteSet(statetypes.WriteSetEntry{Key: k, Op: statetypes.WriteValue(v)})

	cache := freshCache(h, parent, map[string]*statetypes.StateValue{"a": nil})
	commit := buildCommit([]statetypes.WriteSet{ws})

	out, err := statedelta.CalculateForTransactions(context.Background(), statedelta.ExecutionOutput{IsBlock: true, Commit: commit}, parent, cache, predAt(0, true), h, nil)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	computed := *out.StateCheckpointHashes[0]

	cache2 := freshCache(h, parent, map[string]*statetypes.StateValue{"a": nil})
	known := []*digest.Hash{&computed}
	out2, err := statedelta.CalculateForTransactions(context.Background(), statedelta.ExecutionOutput{IsBlock: true, Commit: commit}, parent, cache2, predAt(0, true), h, known)
	if err != nil {
		t.Fatalf("expected reconciliation success, got %v", err)
	}
	if *out2.StateCheckpointHashes[0] != computed {
		t.Fatal("expected reconciled hash to equal the computed hash")
	}

	wrong := digest.HexToHash("0xdeadbeef")
	cache3 := freshCache(h, parent, map[string]*statetypes.StateValue{"a": nil})
	_, err = statedelta.CalculateForTransactions(context.Background(), statedelta.ExecutionOutput{IsBlock: true, Commit: commit}, parent, cache3, predAt(0, true), h, []*digest.Hash{&wrong})
	if err == nil {
		t.Fatal("expected HashMismatchError for a wrong expected hash")
	}
	var mismatch *statedelta.HashMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected HashMismatchError, got %T: %v", err, err)
	}
}

func TestCalculateHashCountMismatch(t *testing.T) {
	h := crypto.KeccakHasher{}
	parent := statedelta.NewEmptyStateDelta(nil)
	k := statetypes.NewStateKey([]byte("a"), h)
	v := statetypes.NewStateValue([]byte{0x01})
	ws := statetypes.NewWriteSet(statetypes.WriteSetEntry{Key: k, Op: statetypes.WriteValue(v)})

	cache := freshCache(h, parent, map[string]*statetypes.StateValue{"a": nil})
	commit := buildCommit([]statetypes.WriteSet{ws})

	_, err := statedelta.CalculateForTransactions(context.Background(), statedelta.ExecutionOutput{IsBlock: true, Commit: commit}, parent, cache, predAt(0, true), h, []*digest.Hash{})
	if err == nil {
		t.Fatal("expected HashCountMismatchError")
	}
	var mismatch *statedelta.HashCountMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected HashCountMismatchError, got %T: %v", err, err)
	}
}

func TestCalculateMissingReadFails(t *testing.T) {
	h := crypto.KeccakHasher{}
	parent := statedelta.NewEmptyStateDelta(nil)
	k := statetypes.NewStateKey([]byte("a"), h)
	v := statetypes.NewStateValue([]byte{0x01})
	ws := statetypes.NewWriteSet(statetypes.WriteSetEntry{Key: k, Op: statetypes.WriteValue(v)})

	cache := freshCache(h, parent, nil) // key "a" was never read
	commit := buildCommit([]statetypes.WriteSet{ws})

	_, err := statedelta.CalculateForTransactions(context.Background(), statedelta.ExecutionOutput{IsBlock: true, Commit: commit}, parent, cache, predAt(0, true), h, nil)
	if err == nil {
		t.Fatal("expected MissingReadError")
	}
	var missing *statedelta.MissingReadError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingReadError, got %T: %v", err, err)
	}
}

func TestCalculateForWriteSetsAfterSnapshot(t *testing.T) {
	h := crypto.KeccakHasher{}
	parent := statedelta.NewEmptyStateDelta(nil)
	k1 := statetypes.NewStateKey([]byte("k1"), h)
	k2 := statetypes.NewStateKey([]byte("k2"), h)

	ws1 := statetypes.NewWriteSet(statetypes.WriteSetEntry{Key: k1, Op: statetypes.WriteValue(statetypes.NewStateValue([]byte{0x01}))})
	ws2 := statetypes.NewWriteSet(statetypes.WriteSetEntry{Key: k2, Op: statetypes.WriteValue(statetypes.NewStateValue([]byte{0x02}))})

	cache := freshCache(h, parent, map[string]*statetypes.StateValue{"k1": nil, "k2": nil})
	cpIdx := 1

	out, err := statedelta.CalculateForWriteSetsAfterSnapshot(context.Background(), parent, cache, &cpIdx, []statetypes.WriteSet{ws1, ws2}, h)
	if err != nil {
		t.Fatalf("CalculateForWriteSetsAfterSnapshot: %v", err)
	}

	if out.UpdatesBeforeLastCheckpoint == nil {
		t.Fatal("expected pre-checkpoint updates to be present")
	}
	if out.UpdatesBeforeLastCheckpoint.Len() != 2 {
		t.Fatalf("expected both writes before the checkpoint, got %d", out.UpdatesBeforeLastCheckpoint.Len())
	}
	if out.ResultState.BaseVersion != 1 || out.ResultState.CurrentVersion != 1 {
		t.Fatalf("expected base=current=1 for a checkpoint at the last write set, got base=%d current=%d", out.ResultState.BaseVersion, out.ResultState.CurrentVersion)
	}
	if out.StateCheckpointHashes[1] == nil {
		t.Fatal("expected checkpoint hash to be populated at the checkpoint index")
	}
	if !out.ResultState.UpdatesSinceBase.IsEmpty() {
		t.Fatal("expected no pending updates after a trailing checkpoint")
	}
}

func TestCalculateEmptyChunkKeepsParentVersion(t *testing.T) {
	h := crypto.KeccakHasher{}
	parent := statedelta.NewEmptyStateDelta(nil)
	cache := freshCache(h, parent, nil)

	out, err := statedelta.CalculateForWriteSetsAfterSnapshot(context.Background(), parent, cache, nil, nil, h)
	if err != nil {
		t.Fatalf("CalculateForWriteSetsAfterSnapshot: %v", err)
	}
	if out.ResultState.CurrentVersion != parent.CurrentVersion {
		t.Fatalf("expected an empty chunk to leave current_version at %d, got %d", parent.CurrentVersion, out.ResultState.CurrentVersion)
	}
	if out.ResultState.BaseVersion != parent.BaseVersion {
		t.Fatalf("expected base_version carried from parent, got %d", out.ResultState.BaseVersion)
	}
}

func TestCalculateChunkInteriorCheckpoint(t *testing.T) {
	h := crypto.KeccakHasher{}
	parent := statedelta.NewEmptyStateDelta(nil)
	k1 := statetypes.NewStateKey([]byte("k1"), h)
	k2 := statetypes.NewStateKey([]byte("k2"), h)

	ws1 := statetypes.NewWriteSet(statetypes.WriteSetEntry{Key: k1, Op: statetypes.WriteValue(statetypes.NewStateValue([]byte{0x01}))})
	ws2 := statetypes.NewWriteSet(statetypes.WriteSetEntry{Key: k2, Op: statetypes.WriteValue(statetypes.NewStateValue([]byte{0x02}))})

	cache := freshCache(h, parent, map[string]*statetypes.StateValue{"k1": nil, "k2": nil})
	commit := buildCommit([]statetypes.WriteSet{ws1, ws2}) // checkpoint at index 0, valid in a chunk

	out, err := statedelta.CalculateForTransactions(context.Background(), statedelta.ExecutionOutput{IsBlock: false, Commit: commit}, parent, cache, predAt(0, true), h, nil)
	if err != nil {
		t.Fatalf("CalculateForTransactions: %v", err)
	}

	if out.UpdatesBeforeLastCheckpoint == nil || out.UpdatesBeforeLastCheckpoint.Len() != 1 {
		t.Fatal("expected exactly the first write before the interior checkpoint")
	}
	if out.ResultState.BaseVersion != 0 {
		t.Fatalf("expected base_version at the checkpoint (0), got %d", out.ResultState.BaseVersion)
	}
	if out.ResultState.CurrentVersion != 1 {
		t.Fatalf("expected current_version=1, got %d", out.ResultState.CurrentVersion)
	}
	if out.ResultState.UpdatesSinceBase.Len() != 1 {
		t.Fatalf("expected only the post-checkpoint write to remain pending, got %d", out.ResultState.UpdatesSinceBase.Len())
	}
	if _, ok := out.ResultState.UpdatesSinceBase[k2.ShardID()][k2]; !ok {
		t.Fatal("expected the post-checkpoint write to be the pending one")
	}
	if out.StateCheckpointHashes[0] == nil {
		t.Fatal("expected a hash at the checkpoint index")
	}
	if out.StateCheckpointHashes[1] != nil {
		t.Fatal("expected no hash at the non-checkpoint index")
	}
	if out.ResultState.CurrentSMT.RootHash(h) == out.ResultState.BaseSMT.RootHash(h) {
		t.Fatal("expected the end-of-batch tree to differ from the interior checkpoint tree")
	}
	// The interior checkpoint tree must not claim a final usage; only the
	// end-of-batch tree accounts for the whole batch.
	if !out.ResultState.BaseSMT.Usage().IsUntracked() {
		t.Fatal("expected the interior checkpoint tree to carry untracked usage")
	}
	if out.ResultState.CurrentSMT.Usage().Items() != 2 {
		t.Fatalf("expected final usage to count both creates, got %d", out.ResultState.CurrentSMT.Usage().Items())
	}
}

func TestCalculateUntrackedParentStaysUntracked(t *testing.T) {
	h := crypto.KeccakHasher{}
	frozenEmpty := smt.Freeze(smt.New(nil), h)
	tree, err := smt.BatchUpdate(frozenEmpty, nil, statetypes.UntrackedStateStorageUsage(), nil, h)
	if err != nil {
		t.Fatalf("building untracked parent tree: %v", err)
	}
	parent := &statedelta.StateDelta{
		BaseSMT:          tree,
		BaseVersion:      statedelta.NoVersion,
		CurrentSMT:       tree,
		CurrentVersion:   statedelta.NoVersion,
		UpdatesSinceBase: statetypes.NewShardedStateUpdates(),
	}

	k := statetypes.NewStateKey([]byte("a"), h)
	ws := statetypes.NewWriteSet(statetypes.WriteSetEntry{Key: k, Op: statetypes.WriteValue(statetypes.NewStateValue([]byte{0x01}))})

	// No read cache entry for k: with untracked usage the accountant never
	// scans, so the missing read must not be noticed.
	cache := freshCache(h, parent, nil)
	commit := buildCommit([]statetypes.WriteSet{ws})

	out, err := statedelta.CalculateForTransactions(context.Background(), statedelta.ExecutionOutput{IsBlock: true, Commit: commit}, parent, cache, predAt(0, true), h, nil)
	if err != nil {
		t.Fatalf("CalculateForTransactions: %v", err)
	}
	if !out.ResultState.CurrentSMT.Usage().IsUntracked() {
		t.Fatal("expected untracked parent usage to stay untracked in the result")
	}
}

func TestCalculateNoWritesKeepsUsage(t *testing.T) {
	h := crypto.KeccakHasher{}
	frozenEmpty := smt.Freeze(smt.New(nil), h)
	tree, err := smt.BatchUpdate(frozenEmpty, nil, statetypes.NewStateStorageUsage(10, 100), nil, h)
	if err != nil {
		t.Fatalf("building parent tree: %v", err)
	}
	parent := &statedelta.StateDelta{
		BaseSMT:          tree,
		BaseVersion:      5,
		CurrentSMT:       tree,
		CurrentVersion:   5,
		UpdatesSinceBase: statetypes.NewShardedStateUpdates(),
	}

	cache := freshCache(h, parent, nil)
	commit := buildCommit([]statetypes.WriteSet{nil, nil})

	out, err := statedelta.CalculateForTransactions(context.Background(), statedelta.ExecutionOutput{IsBlock: false, Commit: commit}, parent, cache, predAt(0, false), h, nil)
	if err != nil {
		t.Fatalf("CalculateForTransactions: %v", err)
	}
	usage := out.ResultState.CurrentSMT.Usage()
	if usage.Items() != 10 || usage.Bytes() != 100 {
		t.Fatalf("expected usage unchanged by empty write sets, got items=%d bytes=%d", usage.Items(), usage.Bytes())
	}
	if out.ResultState.CurrentVersion != 7 {
		t.Fatalf("expected current_version=7, got %d", out.ResultState.CurrentVersion)
	}
}

func TestCalculateOverwriteIdempotence(t *testing.T) {
	h := crypto.KeccakHasher{}
	k := statetypes.NewStateKey([]byte("a"), h)
	v1 := statetypes.NewStateValue([]byte{0x01})
	v2 := statetypes.NewStateValue([]byte{0x02, 0x03})

	run := func(ws statetypes.WriteSet) *statedelta.StateCheckpointOutput {
		parent := statedelta.NewEmptyStateDelta(nil)
		cache := freshCache(h, parent, map[string]*statetypes.StateValue{"a": nil})
		commit := buildCommit([]statetypes.WriteSet{ws})
		out, err := statedelta.CalculateForTransactions(context.Background(), statedelta.ExecutionOutput{IsBlock: true, Commit: commit}, parent, cache, predAt(0, true), h, nil)
		if err != nil {
			t.Fatalf("CalculateForTransactions: %v", err)
		}
		return out
	}

	both := run(statetypes.NewWriteSet(
		statetypes.WriteSetEntry{Key: k, Op: statetypes.WriteValue(v1)},
		statetypes.WriteSetEntry{Key: k, Op: statetypes.WriteValue(v2)},
	))
	only := run(statetypes.NewWriteSet(
		statetypes.WriteSetEntry{Key: k, Op: statetypes.WriteValue(v2)},
	))

	if both.ResultState.CurrentSMT.RootHash(h) != only.ResultState.CurrentSMT.RootHash(h) {
		t.Fatal("expected write-then-overwrite to produce the same root as writing only the final value")
	}
	bu, ou := both.ResultState.CurrentSMT.Usage(), only.ResultState.CurrentSMT.Usage()
	if bu.Items() != ou.Items() || bu.Bytes() != ou.Bytes() {
		t.Fatalf("expected identical usage, got (%d,%d) vs (%d,%d)", bu.Items(), bu.Bytes(), ou.Items(), ou.Bytes())
	}
}

func TestCalculateDeterministicAcrossRuns(t *testing.T) {
	h := crypto.KeccakHasher{}
	var writeSets []statetypes.WriteSet
	reads := make(map[string]*statetypes.StateValue)
	for i := 0; i < 8; i++ {
		raw := []byte{byte('k'), byte(i)}
		k := statetypes.NewStateKey(raw, h)
		writeSets = append(writeSets, statetypes.NewWriteSet(
			statetypes.WriteSetEntry{Key: k, Op: statetypes.WriteValue(statetypes.NewStateValue([]byte{byte(i)}))},
		))
		reads[string(raw)] = nil
	}
	commit := buildCommit(writeSets)

	run := func() digest.Hash {
		parent := statedelta.NewEmptyStateDelta(nil)
		cache := freshCache(h, parent, reads)
		out, err := statedelta.CalculateForTransactions(context.Background(), statedelta.ExecutionOutput{IsBlock: true, Commit: commit}, parent, cache, predAt(7, true), h, nil)
		if err != nil {
			t.Fatalf("CalculateForTransactions: %v", err)
		}
		return out.ResultState.CurrentSMT.RootHash(h)
	}

	first := run()
	for i := 0; i < 4; i++ {
		if got := run(); got != first {
			t.Fatalf("expected identical root hash across runs, got %s then %s", first, got)
		}
	}
}

func TestCalculateInteriorCheckpointFailsInBlock(t *testing.T) {
	h := crypto.KeccakHasher{}
	parent := statedelta.NewEmptyStateDelta(nil)
	k1 := statetypes.NewStateKey([]byte("k1"), h)
	k2 := statetypes.NewStateKey([]byte("k2"), h)
	v1 := statetypes.NewStateValue([]byte{0x01})
	v2 := statetypes.NewStateValue([]byte{0x02})
	ws1 := statetypes.NewWriteSet(statetypes.WriteSetEntry{Key: k1, Op: statetypes.WriteValue(v1)})
	ws2 := statetypes.NewWriteSet(statetypes.WriteSetEntry{Key: k2, Op: statetypes.WriteValue(v2)})

	cache := freshCache(h, parent, map[string]*statetypes.StateValue{"k1": nil, "k2": nil})
	commit := buildCommit([]statetypes.WriteSet{ws1, ws2}) // checkpoint at index 0, interior

	_, err := statedelta.CalculateForTransactions(context.Background(), statedelta.ExecutionOutput{IsBlock: true, Commit: commit}, parent, cache, predAt(0, true), h, nil)
	if err == nil {
		t.Fatal("expected InvalidBlockError for an interior checkpoint")
	}
	var invalid *statedelta.InvalidBlockError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidBlockError, got %T: %v", err, err)
	}
}
