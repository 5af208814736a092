package statedelta

import (
	"context"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sync/errgroup"

	"github.com/exochain/statedelta/statetypes"
)

// mergeRange unions a contiguous slice of per-transaction ShardedStateUpdates
// into one aggregate. Shard i of the result is the in-order union of shard i
// across every element of slice, so the 16 shards are merged concurrently
// (stage B, the range-merger) with later entries superseding earlier ones
// for the same key.
func mergeRange(ctx context.Context, slice []statetypes.ShardedStateUpdates) (statetypes.ShardedStateUpdates, error) {
	out := statetypes.NewShardedStateUpdates()
	if len(slice) == 0 {
		return out, nil
	}

	touched := bitset.New(statetypes.ShardCount)
	for _, per := range slice {
		touched.InPlaceUnion(per.TouchedShards())
	}

	g, _ := errgroup.WithContext(ctx)
	for shard := 0; shard < statetypes.ShardCount; shard++ {
		if !touched.Test(uint(shard)) {
			continue
		}
		shard := shard
		g.Go(func() error {
			merged := make(map[statetypes.StateKey]*statetypes.StateValue)
			for _, per := range slice {
				for k, v := range per[shard] {
					merged[k] = v
				}
			}
			out[shard] = merged
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return statetypes.ShardedStateUpdates{}, err
	}
	return out, nil
}
