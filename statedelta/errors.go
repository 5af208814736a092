package statedelta

import (
	"errors"
	"fmt"

	"github.com/exochain/statedelta/digest"
)

// InvalidBlockError reports a violation of block structural invariants:
// an empty batch, a parent that is not itself a checkpoint, a corrupted
// pending-updates carry-over, or a misplaced checkpoint transaction.
type InvalidBlockError struct {
	Reason string
}

func (e *InvalidBlockError) Error() string {
	return fmt.Sprintf("statedelta: invalid block: %s", e.Reason)
}

// HashMismatchError reports that a caller-supplied expected checkpoint hash
// disagrees with the hash the calculator computed.
type HashMismatchError struct {
	Index    int
	Expected digest.Hash
	Computed digest.Hash
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("statedelta: checkpoint hash mismatch at index %d: expected %s, computed %s", e.Index, e.Expected, e.Computed)
}

// HashCountMismatchError reports that the caller's expected-hash sequence
// does not have one entry per transaction in the batch.
type HashCountMismatchError struct {
	Expected int
	Got      int
}

func (e *HashCountMismatchError) Error() string {
	return fmt.Sprintf("statedelta: expected %d checkpoint hash slots, got %d", e.Expected, e.Got)
}

// MissingReadError reports that a key written during the batch was never
// recorded in the pre-execution read cache, so its old value (needed for
// usage accounting) cannot be determined.
type MissingReadError struct {
	ShardID int
}

func (e *MissingReadError) Error() string {
	return fmt.Sprintf("statedelta: write to shard %d has no matching pre-execution read", e.ShardID)
}

// ErrProof and ErrTreeUpdate wrap the sparse Merkle tree's own error
// surface (smt.ErrProof and any error returned from a failed batch_update)
// under names that belong to this package's public contract, so callers
// match against statedelta errors without importing smt.
var (
	ErrProof      = errors.New("statedelta: proof reader could not resolve a subtree")
	ErrTreeUpdate = errors.New("statedelta: sparse Merkle tree update failed")
)
