package statedelta

import (
	"github.com/exochain/statedelta/smt"
	"github.com/exochain/statedelta/statetypes"
)

// NoVersion is the sentinel BaseVersion/CurrentVersion carry when a chain
// has not yet produced a single version, the pre-genesis state. It is
// chosen so that first_version = parent.CurrentVersion + 1 yields 0
// exactly when the parent is pre-genesis, with no separate
// optional-version type.
const NoVersion int64 = -1

// StateDelta is the calculator's committed-state descriptor: a known
// checkpoint tree (base), the tree as of the most recently processed
// version (current), and every write applied since the base that has not
// yet been folded into a new checkpoint.
type StateDelta struct {
	BaseSMT          *smt.SparseMerkleTree
	BaseVersion      int64
	CurrentSMT       *smt.SparseMerkleTree
	CurrentVersion   int64
	UpdatesSinceBase statetypes.ShardedStateUpdates
}

// NewEmptyStateDelta returns the StateDelta for a chain that has not yet
// produced a version: base and current both the empty tree, at NoVersion,
// with no pending updates.
func NewEmptyStateDelta(arena *smt.Arena) *StateDelta {
	empty := smt.New(arena)
	return &StateDelta{
		BaseSMT:          empty,
		BaseVersion:      NoVersion,
		CurrentSMT:       empty,
		CurrentVersion:   NoVersion,
		UpdatesSinceBase: statetypes.NewShardedStateUpdates(),
	}
}

// IsCheckpoint reports whether this delta sits exactly at a checkpoint:
// base and current coincide and no updates are pending since it.
func (d *StateDelta) IsCheckpoint() bool {
	return d.BaseVersion == d.CurrentVersion && d.UpdatesSinceBase.IsEmpty()
}
