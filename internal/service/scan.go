package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/quarrytools/quarry/internal/batch"
	"github.com/quarrytools/quarry/internal/model"
	"github.com/quarrytools/quarry/internal/parse"
	"github.com/quarrytools/quarry/internal/pattern"
)

// RunScan discovers the variable schema of a tree: it samples the
// first files in discovery order, scans each through the pool, merges
// the per-file schemas, and folds numbered families into patterned
// specs. Scanning while any batch is running fails with
// model.ErrBusy.
func (s *Service) RunScan(ctx context.Context, req model.ScanRequest) (model.RunRecord, []model.VarSpec, error) {
	files, err := Discover(req.StatsPath, req.Pattern)
	if err != nil {
		return model.RunRecord{}, nil, err
	}
	if s.parseRunner.Status().State == model.BatchRunning {
		return model.RunRecord{}, nil, fmt.Errorf("service: %w", model.ErrBusy)
	}

	sample := req.Sample
	if sample < 1 {
		sample = s.cfg.ScanSample
	}
	if sample < len(files) {
		files = files[:sample]
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}
	tasks := make([]batch.Task[[]model.VarSpec], len(files))
	for i, file := range files {
		work := parse.NewScanWork(file)
		tasks[i] = func(ctx context.Context) ([]model.VarSpec, error) {
			return work.Run(ctx, s.pool, timeout)
		}
	}

	started := time.Now()
	out, err := s.scanRunner.Submit(ctx, tasks)
	if err != nil {
		return model.RunRecord{}, nil, err
	}

	merged := newSchemaMerge()
	var failures []string
	for outcome := range out {
		if outcome.Err != nil {
			log.Printf("service: %v", outcome.Err)
			failures = append(failures, outcome.Err.Error())
			continue
		}
		merged.add(outcome.Result)
	}

	rec := model.RunRecord{
		ID:          uuid.NewString(),
		Kind:        "scan",
		StatsPath:   req.StatsPath,
		Pattern:     req.Pattern,
		FilesTotal:  len(files),
		FilesParsed: len(files) - len(failures),
		FilesFailed: len(failures),
		StartedAt:   started,
		FinishedAt:  time.Now(),
		Errors:      failures,
	}
	if rec.FilesParsed == 0 {
		return rec, nil, fmt.Errorf("service: no file under %q scanned successfully", req.StatsPath)
	}

	specs := pattern.Aggregate(merged.specs())
	rec.Variables = len(specs)
	for _, sink := range s.sinks {
		if err := sink.RecordRun(ctx, rec, nil); err != nil {
			log.Printf("service: run sink: %v", err)
		}
	}
	return rec, specs, nil
}

// schemaMerge folds per-file schemas into one: entries union in
// first-seen order, distribution bounds widen to cover every file,
// and on a type conflict the first-seen type wins with a warning.
type schemaMerge struct {
	order []string
	byVar map[string]*model.VarSpec
}

func newSchemaMerge() *schemaMerge {
	return &schemaMerge{byVar: make(map[string]*model.VarSpec)}
}

func (m *schemaMerge) add(specs []model.VarSpec) {
	for _, spec := range specs {
		have, ok := m.byVar[spec.Name]
		if !ok {
			cp := spec
			m.byVar[spec.Name] = &cp
			m.order = append(m.order, spec.Name)
			continue
		}
		if have.Type != spec.Type {
			log.Printf("service: %s seen as %s and %s, keeping %s", spec.Name, have.Type, spec.Type, have.Type)
			continue
		}
		for _, entry := range spec.Entries {
			if !containsStr(have.Entries, entry) {
				have.Entries = append(have.Entries, entry)
			}
		}
		if spec.Minimum < have.Minimum {
			have.Minimum = spec.Minimum
		}
		if spec.Maximum > have.Maximum {
			have.Maximum = spec.Maximum
		}
	}
}

func (m *schemaMerge) specs() []model.VarSpec {
	out := make([]model.VarSpec, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, *m.byVar[name])
	}
	return out
}

func containsStr(list []string, s string) bool {
	for _, have := range list {
		if have == s {
			return true
		}
	}
	return false
}
