package model

import "time"

// VarSpec describes one requested or discovered statistic variable.
// It is the canonical configuration shape shared by vars files (yaml),
// the HTTP API (json), and scan output, so the scan and parse paths can
// never disagree on interpretation.
type VarSpec struct {
	Name string `yaml:"name" json:"name" mapstructure:"name"`
	Type string `yaml:"type" json:"type" mapstructure:"type"`

	// Entries declares the sub-keys of an entry-bearing variable
	// (Vector, Distribution, Histogram).
	Entries []string `yaml:"entries,omitempty" json:"entries,omitempty" mapstructure:"entries"`

	// Minimum and Maximum bound the numeric bucket range of a
	// Distribution.
	Minimum int `yaml:"minimum,omitempty" json:"minimum,omitempty" mapstructure:"minimum"`
	Maximum int `yaml:"maximum,omitempty" json:"maximum,omitempty" mapstructure:"maximum"`

	// Bins and MaxRange control Histogram rebinning. Zero disables it.
	Bins     int     `yaml:"bins,omitempty" json:"bins,omitempty" mapstructure:"bins"`
	MaxRange float64 `yaml:"max-range,omitempty" json:"max_range,omitempty" mapstructure:"max-range"`

	// Statistics names the summary statistics (mean, stdev, samples, ...)
	// reported alongside buckets.
	Statistics []string `yaml:"statistics,omitempty" json:"statistics,omitempty" mapstructure:"statistics"`

	// StatisticsOnly accepts content built purely from named statistics
	// and disables bucket-shape validation.
	StatisticsOnly bool `yaml:"statistics-only,omitempty" json:"statistics_only,omitempty" mapstructure:"statistics-only"`

	// OnEmpty is substituted when a Configuration variable receives no
	// raw value.
	OnEmpty string `yaml:"on-empty,omitempty" json:"on_empty,omitempty" mapstructure:"on-empty"`

	// ParsedIDs lists the physical raw identifiers a pattern variable
	// stands for; PatternIndices holds the numeric id extracted from
	// each, positionally aligned with ParsedIDs.
	ParsedIDs      []string `yaml:"parsed-ids,omitempty" json:"parsed_ids,omitempty" mapstructure:"parsed-ids"`
	PatternIndices []string `yaml:"pattern-indices,omitempty" json:"pattern_indices,omitempty" mapstructure:"pattern-indices"`

	// Alias renames the variable in the final CSV header.
	Alias string `yaml:"alias,omitempty" json:"alias,omitempty" mapstructure:"alias"`
}

// ColumnName returns the name used in the final CSV header.
func (v VarSpec) ColumnName() string {
	if v.Alias != "" {
		return v.Alias
	}
	return v.Name
}

// WorkerStats is a point-in-time snapshot of one worker's counters.
type WorkerStats struct {
	ID       int       `json:"id"`
	PID      int       `json:"pid"`
	Healthy  bool      `json:"healthy"`
	Served   int64     `json:"served"`
	Errors   int64     `json:"errors"`
	Restarts int64     `json:"restarts"`
	LastUsed time.Time `json:"last_used"`
}

// PoolStats is a point-in-time snapshot of the worker pool.
type PoolStats struct {
	Size          int           `json:"size"`
	Healthy       int           `json:"healthy"`
	TotalRequests int64         `json:"total_requests"`
	TotalErrors   int64         `json:"total_errors"`
	TotalRestarts int64         `json:"total_restarts"`
	Workers       []WorkerStats `json:"workers"`
}

// BatchState names the lifecycle phase of the outer task pool.
type BatchState string

const (
	BatchIdle      BatchState = "idle"
	BatchRunning   BatchState = "running"
	BatchDone      BatchState = "done"
	BatchCancelled BatchState = "cancelled"
)

// BatchStatus reports outer-pool progress. Current counts tasks that
// have finished (successfully or not); Errors collects per-task error
// messages without aborting the batch.
type BatchStatus struct {
	Total   int        `json:"total"`
	Current int        `json:"current"`
	State   BatchState `json:"state"`
	Errors  []string   `json:"errors,omitempty"`
}

// RunRecord summarizes one completed batch for the run registry and
// the runlog.
type RunRecord struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"` // "parse" or "scan"
	StatsPath   string    `json:"stats_path"`
	Pattern     string    `json:"pattern"`
	FilesTotal  int       `json:"files_total"`
	FilesParsed int       `json:"files_parsed"`
	FilesFailed int       `json:"files_failed"`
	Variables   int       `json:"variables"`
	CSVPath     string    `json:"csv_path,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Errors      []string  `json:"errors,omitempty"`
}

// ParseRequest describes one batch submission.
type ParseRequest struct {
	StatsPath string        `json:"stats_path"`
	Pattern   string        `json:"pattern"`
	Vars      []VarSpec     `json:"vars"`
	OutputDir string        `json:"output_dir,omitempty"`
	Timeout   time.Duration `json:"-"`
}

// ScanRequest describes one schema-discovery submission.
type ScanRequest struct {
	StatsPath string        `json:"stats_path"`
	Pattern   string        `json:"pattern"`
	Sample    int           `json:"sample,omitempty"`
	Timeout   time.Duration `json:"-"`
}
