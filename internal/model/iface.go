package model

// PoolReporter exposes a live snapshot of the worker pool. Implemented
// by the worker pool, consumed by the HTTP API, socket RPC, and TUI.
type PoolReporter interface {
	Stats() PoolStats
}

// BatchReporter exposes the outer task pool's progress.
type BatchReporter interface {
	Status() BatchStatus
}

// BatchController adds cooperative cancellation to status reporting.
type BatchController interface {
	BatchReporter
	Cancel()
}

// RunLister provides access to the history of completed runs.
// Implemented by the dataset store and by the runlog fallback.
type RunLister interface {
	RecentRuns(limit int) ([]RunRecord, error)
}

// SchemaQuerier provides schema introspection and guarded read-only
// queries over the run registry.
type SchemaQuerier interface {
	ExecuteQuery(query string) ([]map[string]interface{}, error)
	GetSchemaDescription() string
}
