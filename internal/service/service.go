// Package service is the coordinator: it resolves the variable list,
// discovers target files, fans work units out to the outer task pool,
// and folds the per-file results into the final CSV (or a scanned
// schema). It owns no parallelism of its own beyond the task pool and
// never blocks between submission and the caller-driven drain.
package service

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/quarrytools/quarry/internal/batch"
	"github.com/quarrytools/quarry/internal/model"
	"github.com/quarrytools/quarry/internal/parse"
	"github.com/quarrytools/quarry/internal/stat"
)

// Config tunes one coordinator.
type Config struct {
	// TaskLimit bounds concurrently executing work units in the outer
	// pool. The worker pool underneath is the real parallelism bound;
	// this only caps queued-up goroutines.
	TaskLimit int

	// Timeout applies per file unless the request overrides it.
	Timeout time.Duration

	// ScanSample bounds how many files a scan inspects.
	ScanSample int
}

// RunSink receives the record of a completed batch. Implemented by the
// dataset store, the runlog, and the archive manager.
type RunSink interface {
	RecordRun(ctx context.Context, rec model.RunRecord, results []parse.Result) error
}

// Service orchestrates end-to-end batches over one worker pool.
type Service struct {
	pool  parse.FileParser
	cfg   Config
	sinks []RunSink

	parseRunner *batch.Runner[parse.Result]
	scanRunner  *batch.Runner[[]model.VarSpec]
}

// New builds a coordinator around an explicit worker pool.
func New(pool parse.FileParser, cfg Config) *Service {
	if cfg.TaskLimit < 1 {
		cfg.TaskLimit = model.DefaultPoolSize * 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = model.DefaultParseTimeout
	}
	if cfg.ScanSample < 1 {
		cfg.ScanSample = model.DefaultScanSample
	}
	return &Service{
		pool:        pool,
		cfg:         cfg,
		parseRunner: batch.NewRunner[parse.Result](cfg.TaskLimit),
		scanRunner:  batch.NewRunner[[]model.VarSpec](cfg.TaskLimit),
	}
}

// AddSink registers a run-record consumer. Not safe to call once
// batches are running; wire sinks at composition time.
func (s *Service) AddSink(sink RunSink) { s.sinks = append(s.sinks, sink) }

// ResolveVars validates the variable list before any I/O happens:
// every spec must map to a stat kind and logical names must be unique
// within the batch.
func ResolveVars(specs []model.VarSpec) error {
	names := stat.NewMap()
	for _, spec := range specs {
		st, err := stat.FromSpec(spec)
		if err != nil {
			return err
		}
		if err := names.Add(st); err != nil {
			return err
		}
	}
	return nil
}

// Discover enumerates target files under statsPath whose base name
// matches the pattern (recursive, default "**/stats.txt"). A missing
// base path or zero matches fails fast with the path and pattern in
// the error.
func Discover(statsPath, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = model.DefaultStatsPattern
	}
	base := filepath.Base(pattern)

	if _, err := os.Stat(statsPath); err != nil {
		return nil, fmt.Errorf("service: stats path %q: %w", statsPath, err)
	}

	var files []string
	err := filepath.WalkDir(statsPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Printf("service: skipping %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ok, err := filepath.Match(base, d.Name())
		if err != nil {
			return fmt.Errorf("service: pattern %q: %w", pattern, err)
		}
		if ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("service: no files matching %q under %q", pattern, statsPath)
	}
	sort.Strings(files)
	return files, nil
}

// ParseHandle is one submitted batch: the caller drains Outcomes to
// drive it to completion.
type ParseHandle struct {
	RunID    string
	Files    []string
	Vars     []model.VarSpec
	Started  time.Time
	Outcomes <-chan batch.Outcome[parse.Result]

	runner *batch.Runner[parse.Result]
}

// Status reports the batch's live progress.
func (h *ParseHandle) Status() model.BatchStatus { return h.runner.Status() }

// Cancel stops further dispatch; see batch.Runner.Cancel.
func (h *ParseHandle) Cancel() { h.runner.Cancel() }

// SubmitParse validates, discovers, and submits one parse batch
// without blocking on it. Submitting while any batch is running fails
// with model.ErrBusy.
func (s *Service) SubmitParse(ctx context.Context, req model.ParseRequest) (*ParseHandle, error) {
	if err := ResolveVars(req.Vars); err != nil {
		return nil, err
	}
	files, err := Discover(req.StatsPath, req.Pattern)
	if err != nil {
		return nil, err
	}
	if s.scanRunner.Status().State == model.BatchRunning {
		return nil, fmt.Errorf("service: %w", model.ErrBusy)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}
	tasks := make([]batch.Task[parse.Result], len(files))
	for i, file := range files {
		work := parse.NewFileWork(file, req.Vars)
		tasks[i] = func(ctx context.Context) (parse.Result, error) {
			return work.Run(ctx, s.pool, timeout)
		}
	}

	out, err := s.parseRunner.Submit(ctx, tasks)
	if err != nil {
		return nil, err
	}
	return &ParseHandle{
		RunID:    uuid.NewString(),
		Files:    files,
		Vars:     req.Vars,
		Started:  time.Now(),
		Outcomes: out,
		runner:   s.parseRunner,
	}, nil
}

// RunParse drives one batch to completion: drains the handle, writes
// results.csv when an output directory is configured, and feeds the
// run record to every sink. Per-file failures are logged and skipped;
// the batch succeeds as long as anything parsed.
func (s *Service) RunParse(ctx context.Context, req model.ParseRequest) (model.RunRecord, []parse.Result, error) {
	handle, err := s.SubmitParse(ctx, req)
	if err != nil {
		return model.RunRecord{}, nil, err
	}
	return s.FinishParse(ctx, req, handle)
}

// FinishParse drains a previously submitted batch and finalizes it:
// CSV output, run record, sinks. It blocks until the batch completes
// or is cancelled.
func (s *Service) FinishParse(ctx context.Context, req model.ParseRequest, handle *ParseHandle) (model.RunRecord, []parse.Result, error) {
	var results []parse.Result
	var failures []string
	for outcome := range handle.Outcomes {
		if outcome.Err != nil {
			log.Printf("service: %v", outcome.Err)
			failures = append(failures, outcome.Err.Error())
			continue
		}
		results = append(results, outcome.Result)
	}

	rec := model.RunRecord{
		ID:          handle.RunID,
		Kind:        "parse",
		StatsPath:   req.StatsPath,
		Pattern:     req.Pattern,
		FilesTotal:  len(handle.Files),
		FilesParsed: len(results),
		FilesFailed: len(failures),
		Variables:   len(req.Vars),
		StartedAt:   handle.Started,
		FinishedAt:  time.Now(),
		Errors:      failures,
	}

	if len(results) == 0 {
		return rec, nil, fmt.Errorf("service: no file under %q parsed successfully", req.StatsPath)
	}

	if req.OutputDir != "" {
		csvPath := filepath.Join(req.OutputDir, "results.csv")
		if err := WriteCSV(csvPath, results); err != nil {
			return rec, results, err
		}
		rec.CSVPath = csvPath
	}

	for _, sink := range s.sinks {
		if err := sink.RecordRun(ctx, rec, results); err != nil {
			log.Printf("service: run sink: %v", err)
		}
	}
	return rec, results, nil
}

// Status reports the live batch status; a running batch of either
// kind wins over the other's terminal state.
func (s *Service) Status() model.BatchStatus {
	ps := s.parseRunner.Status()
	ss := s.scanRunner.Status()
	if ss.State == model.BatchRunning {
		return ss
	}
	if ps.State == model.BatchIdle && ss.State != model.BatchIdle {
		return ss
	}
	return ps
}

// Cancel stops whichever batch is running.
func (s *Service) Cancel() {
	s.parseRunner.Cancel()
	s.scanRunner.Cancel()
}
