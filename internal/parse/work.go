// Package parse turns one file's wire-protocol output into a named
// map of populated stats. One work unit exists per target file; it
// owns the request key list, the routing of physical response ids back
// to logical variables, and the finalize pass (validate, balance,
// reduce) over every stat.
package parse

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/quarrytools/quarry/internal/model"
	"github.com/quarrytools/quarry/internal/stat"
	"github.com/quarrytools/quarry/internal/worker"
)

// FileParser is the inner-pool contract a work unit needs: one
// blocking parse request with a per-file timeout.
type FileParser interface {
	ParseFile(ctx context.Context, path string, keys []string, timeout time.Duration) ([]worker.Record, error)
}

// Result is one file's output: logical name to populated stat.
type Result struct {
	File  string
	Stats *stat.Map
}

// route maps one physical response id back to its logical stat. entry
// overrides the record's entry key for scalar instances folded into a
// pattern vector.
type route struct {
	st    *stat.Stat
	entry string
}

// FileWork parses one file against a resolved variable list.
type FileWork struct {
	file  string
	specs []model.VarSpec
}

// NewFileWork builds the work unit for one target file.
func NewFileWork(file string, specs []model.VarSpec) *FileWork {
	return &FileWork{file: file, specs: specs}
}

// Run performs the request and populates the stats. A protocol-level
// failure or a data-shape violation fails only this file; the caller
// logs it and the batch continues.
func (w *FileWork) Run(ctx context.Context, pool FileParser, timeout time.Duration) (Result, error) {
	stats, routes, summaries, keys, err := buildRoutes(w.specs)
	if err != nil {
		return Result{}, err
	}

	records, err := pool.ParseFile(ctx, w.file, keys, timeout)
	if err != nil {
		return Result{}, fmt.Errorf("parse: %s: %w", w.file, err)
	}

	buffers := make(map[*stat.Stat]map[string][]string)
	for _, rec := range records {
		if err := routeRecord(w.file, rec, routes, summaries, buffers); err != nil {
			return Result{}, err
		}
	}

	for st, content := range buffers {
		if err := st.SetContent(content); err != nil {
			return Result{}, fmt.Errorf("parse: %s: %w", w.file, err)
		}
	}
	if err := stats.Each(func(st *stat.Stat) error {
		if err := st.Balance(); err != nil {
			return err
		}
		return st.Reduce()
	}); err != nil {
		return Result{}, fmt.Errorf("parse: %s: %w", w.file, err)
	}

	return Result{File: w.file, Stats: stats}, nil
}

// routeRecord buffers one response record against its logical stat.
func routeRecord(file string, rec worker.Record, routes map[string]route, summaries map[string]route, buffers map[*stat.Stat]map[string][]string) error {
	if strings.EqualFold(rec.Type, "Summary") {
		r, ok := summaries[rec.VarID]
		if !ok {
			log.Printf("parse: %s: unrequested summary %q skipped", file, rec.VarID)
			return nil
		}
		return r.st.SetValue(rec.Value)
	}

	r, ok := routes[rec.VarID]
	if !ok {
		log.Printf("parse: %s: unknown variable %q skipped", file, rec.VarID)
		return nil
	}

	recKind, err := stat.ParseKind(rec.Type)
	if err != nil {
		log.Printf("parse: %s: variable %q: %v, skipped", file, rec.VarID, err)
		return nil
	}

	if !r.st.Kind.HasEntries() {
		if recKind != r.st.Kind {
			return fmt.Errorf("parse: %s: variable %q reported as %s, configured as %s",
				file, rec.VarID, recKind, r.st.Kind)
		}
		return r.st.SetValue(rec.Value)
	}

	entry := rec.Entry
	if entry == "" {
		entry = r.entry
	}
	if entry == "" {
		log.Printf("parse: %s: variable %q: record without entry skipped", file, rec.VarID)
		return nil
	}
	if recKind != r.st.Kind && !(recKind == stat.Scalar && r.entry != "") {
		return fmt.Errorf("parse: %s: variable %q reported as %s, configured as %s",
			file, rec.VarID, recKind, r.st.Kind)
	}

	buf, ok := buffers[r.st]
	if !ok {
		buf = make(map[string][]string)
		buffers[r.st] = buf
	}
	buf[entry] = append(buf[entry], rec.Value)
	return nil
}

// buildRoutes resolves the variable list into fresh stats plus the
// physical-id routing tables and the sanitized request key list.
func buildRoutes(specs []model.VarSpec) (*stat.Map, map[string]route, map[string]route, []string, error) {
	stats := stat.NewMap()
	routes := make(map[string]route)
	summaries := make(map[string]route)
	var keys []string
	seen := make(map[string]bool)

	addKey := func(key string) {
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}

	for _, spec := range specs {
		st, err := stat.FromSpec(spec)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		if err := stats.Add(st); err != nil {
			return nil, nil, nil, nil, err
		}

		ids := spec.ParsedIDs
		if len(ids) == 0 {
			ids = []string{spec.Name}
		}
		// Hand-written variable files may list physical ids without
		// pattern indices; entries aligned one-per-id serve the same
		// role then.
		indices := spec.PatternIndices
		if len(indices) == 0 && len(spec.Entries) == len(ids) && len(ids) > 1 {
			indices = spec.Entries
		}
		for i, id := range ids {
			r := route{st: st}
			if i < len(indices) {
				r.entry = indices[i]
			}
			key, summary := SanitizeKey(id)
			if key == "" {
				continue
			}
			if summary {
				summaries[key] = r
			} else {
				routes[key] = r
			}
			addKey(key)
		}
	}
	return stats, routes, summaries, keys, nil
}

// SanitizeKey prepares one raw variable identifier for the request
// line. A trailing "__<suffix>" marks a derived-summary request and is
// stripped before forwarding; a key beginning with "-" is rejected and
// logged so a hostile variable name cannot inject flags into the
// external process.
func SanitizeKey(id string) (key string, summary bool) {
	if strings.HasPrefix(id, "-") {
		log.Printf("parse: rejecting key %q: leading dash", id)
		return "", false
	}
	if i := strings.LastIndex(id, "__"); i > 0 {
		return id[:i], true
	}
	return id, false
}
