package statedelta

import (
	"errors"
	"fmt"
	"sort"

	deckset "github.com/deckarep/golang-set/v2"

	"github.com/exochain/statedelta/digest"
	"github.com/exochain/statedelta/smt"
	"github.com/exochain/statedelta/statetypes"
)

// makeCheckpoint flattens updates into a single sequence of key-hash/value
// pairs and applies them to base via the SMT's batch_update, asserting no
// key hash repeats across shards (each shard already holds at most one
// entry per key, and a key belongs to exactly one shard by construction;
// a repeat here means a caller corrupted the sharding invariant).
func makeCheckpoint(base *smt.FrozenSparseMerkleTree, updates statetypes.ShardedStateUpdates, usage statetypes.StateStorageUsage, proofs smt.ProofReader, h digest.Hasher) (*smt.SparseMerkleTree, error) {
	smtUpdates := make([]smt.Update, 0, updates.Len())
	seen := deckset.NewThreadUnsafeSet[digest.Hash]()

	for shard := range updates {
		for key, value := range updates[shard] {
			keyHash := key.Hash()
			if !seen.Add(keyHash) {
				return nil, fmt.Errorf("%w: duplicate key hash %s across shards", ErrTreeUpdate, keyHash)
			}
			smtUpdates = append(smtUpdates, smt.Update{KeyHash: keyHash, Value: value.Bytes()})
		}
	}

	// Go map iteration order is randomized per-run; sort by key hash so the
	// update order fed to BatchUpdate -- and therefore any proof-fetch
	// order or error it surfaces -- is reproducible across calls and
	// across processes, independent of shard-map iteration order.
	sort.Slice(smtUpdates, func(i, j int) bool {
		return smtUpdates[i].KeyHash.Less(smtUpdates[j].KeyHash)
	})

	next, err := smt.BatchUpdate(base, smtUpdates, usage, proofs, h)
	if err != nil {
		if errors.Is(err, smt.ErrProof) {
			return nil, fmt.Errorf("%w: %v", ErrProof, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTreeUpdate, err)
	}
	return next, nil
}
