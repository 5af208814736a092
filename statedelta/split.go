package statedelta

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/exochain/statedelta/statetypes"
)

// splitWriteSets maps each transaction's write set into its own
// ShardedStateUpdates, one per transaction, processing every write set
// concurrently since the mapping has no shared mutable state. This is
// stage A of the pipeline: the shard-splitter. It also tallies the total
// number of deletions across every write set, reported by calculateImpl
// alongside the rest of the per-calculation log line.
func splitWriteSets(ctx context.Context, writeSets []statetypes.WriteSet) ([]statetypes.ShardedStateUpdates, int64, error) {
	results := make([]statetypes.ShardedStateUpdates, len(writeSets))
	deletions := make([]int64, len(writeSets))

	g, _ := errgroup.WithContext(ctx)
	for i, ws := range writeSets {
		i, ws := i, ws
		g.Go(func() error {
			u, d := splitOne(ws)
			results[i] = u
			deletions[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var total int64
	for _, d := range deletions {
		total += d
	}
	return results, total, nil
}

// splitOne buckets a single write set by shard, returning the number of
// deletions it contained alongside the bucketed result. Later entries for
// the same key within the write set supersede earlier ones, matching
// WriteSet's documented last-write-wins semantics.
func splitOne(ws statetypes.WriteSet) (statetypes.ShardedStateUpdates, int64) {
	u := statetypes.NewShardedStateUpdates()
	var deletions int64
	for _, entry := range ws {
		if entry.Op.IsDeletion() {
			deletions++
		}
		u.Put(entry.Key, entry.Op.AsStateValue())
	}
	return u, deletions
}
