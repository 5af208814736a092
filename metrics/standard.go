package metrics

// Pre-defined metrics for the state-delta calculator. All metrics live in
// DefaultRegistry so they are globally accessible without passing a
// registry around.

var (
	// ---- Stage timers (also recorded per-call in statedelta.calculateImpl) ----

	// SplitDuration records the shard-splitter stage's wall time in milliseconds.
	SplitDuration = DefaultRegistry.Histogram("statedelta/stage/split_ms")
	// MergeDuration records the range-merger stage's wall time in milliseconds.
	MergeDuration = DefaultRegistry.Histogram("statedelta/stage/merge_ms")
	// UsageDuration records the usage-accountant stage's wall time in milliseconds.
	UsageDuration = DefaultRegistry.Histogram("statedelta/stage/usage_ms")
	// CheckpointDuration records the checkpoint-builder stage's wall time in milliseconds.
	CheckpointDuration = DefaultRegistry.Histogram("statedelta/stage/checkpoint_ms")

	// ---- Throughput & outcome counters ----

	// TransactionsProcessed counts transactions folded into a StateDelta
	// across every calculation.
	TransactionsProcessed = DefaultRegistry.Counter("statedelta/transactions_processed")
	// CheckpointsBuilt counts batches that produced a new checkpoint tree.
	CheckpointsBuilt = DefaultRegistry.Counter("statedelta/checkpoints_built")
	// CalculationErrors counts calculations that aborted with an error.
	CalculationErrors = DefaultRegistry.Counter("statedelta/calculation_errors")
	// DeletionsProcessed counts write-op deletions folded into a StateDelta
	// across every calculation, tallied by the shard-splitter stage.
	DeletionsProcessed = DefaultRegistry.Counter("statedelta/deletions_processed")

	// PendingUpdateKeys tracks the key count in the current StateDelta's
	// updates_since_base, sampled at the end of each successful calculation.
	PendingUpdateKeys = DefaultRegistry.Gauge("statedelta/pending_update_keys")
)

// TransactionRate is a 1/5/15-minute EWMA of transactions folded per
// second, fed by the orchestrator once per calculation.
var TransactionRate = NewMeter()
