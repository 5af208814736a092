package statedelta

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/exochain/statedelta/statetypes"
)

// calculateUsage computes the new StateStorageUsage after applying pre and
// post (the checkpoint-split aggregates) against the pre-execution read
// cache. If oldUsage is untracked, the result is untracked without scanning
// anything (stage C, the usage accountant).
func calculateUsage(ctx context.Context, oldUsage statetypes.StateStorageUsage, reads ShardedStateCache, pre, post statetypes.ShardedStateUpdates) (statetypes.StateStorageUsage, error) {
	if oldUsage.IsUntracked() {
		return oldUsage, nil
	}

	itemDeltas := make([]int64, statetypes.ShardCount)
	byteDeltas := make([]int64, statetypes.ShardCount)

	g, _ := errgroup.WithContext(ctx)
	for shard := 0; shard < statetypes.ShardCount; shard++ {
		shard := shard
		g.Go(func() error {
			items, bytes, err := shardUsageDelta(shard, reads, pre, post)
			if err != nil {
				return err
			}
			itemDeltas[shard] = items
			byteDeltas[shard] = bytes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return statetypes.StateStorageUsage{}, err
	}

	var totalItems, totalBytes int64
	for i := 0; i < statetypes.ShardCount; i++ {
		totalItems += itemDeltas[i]
		totalBytes += byteDeltas[i]
	}
	return oldUsage.ApplyDelta(totalItems, totalBytes), nil
}

// shardUsageDelta walks one shard's pre- then post-checkpoint entries,
// applying the overwrite rule: a pre-checkpoint entry for a key also
// written post-checkpoint is skipped, since the post-checkpoint entry will
// account for the old-value removal itself.
func shardUsageDelta(shard int, reads ShardedStateCache, pre, post statetypes.ShardedStateUpdates) (itemsDelta, bytesDelta int64, err error) {
	for key, value := range pre[shard] {
		if _, shadowed := post[shard][key]; shadowed {
			continue
		}
		di, db, err := contribution(shard, reads, key, value)
		if err != nil {
			return 0, 0, err
		}
		itemsDelta += di
		bytesDelta += db
	}
	for key, value := range post[shard] {
		di, db, err := contribution(shard, reads, key, value)
		if err != nil {
			return 0, 0, err
		}
		itemsDelta += di
		bytesDelta += db
	}
	return itemsDelta, bytesDelta, nil
}

// contribution computes one key's signed (items, bytes) delta: +1/+size for
// the new value (if any), minus the old value's size looked up from the
// read cache (which must contain every written key, or MissingReadError).
func contribution(shard int, reads ShardedStateCache, key statetypes.StateKey, value *statetypes.StateValue) (itemsDelta, bytesDelta int64, err error) {
	if value != nil {
		itemsDelta++
		bytesDelta += int64(key.Size()) + int64(value.Size())
	}

	entry, ok := reads.Get(key)
	if !ok {
		return 0, 0, &MissingReadError{ShardID: shard}
	}
	if entry.Value != nil {
		itemsDelta--
		bytesDelta -= int64(key.Size()) + int64(entry.Value.Size())
	}
	return itemsDelta, bytesDelta, nil
}
