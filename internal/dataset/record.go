package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/quarrytools/quarry/internal/model"
	"github.com/quarrytools/quarry/internal/parse"
	"github.com/quarrytools/quarry/internal/stat"
)

// RecordRun persists one completed run and its flattened results in a
// single transaction. Results are stored long-format: one row per
// (file, variable, entry) with the finalized value as text, so string
// configuration values and numeric statistics share one shape.
func (s *Store) RecordRun(ctx context.Context, rec model.RunRecord, results []parse.Result) error {
	ctx, cancel := context.WithTimeout(ctx, s.QueryTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	errsJSON := []byte("[]")
	if len(rec.Errors) > 0 {
		if data, merr := json.Marshal(rec.Errors); merr != nil {
			log.Printf("dataset: failed to marshal run errors, storing empty: %v", merr)
		} else {
			errsJSON = data
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, kind, stats_path, pattern, files_total, files_parsed, files_failed, variables, csv_path, started_at, finished_at, errors)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Kind, rec.StatsPath, rec.Pattern,
		rec.FilesTotal, rec.FilesParsed, rec.FilesFailed, rec.Variables,
		rec.CSVPath, rec.StartedAt, rec.FinishedAt, string(errsJSON),
	); err != nil {
		return fmt.Errorf("run insert: %w", err)
	}

	if len(results) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO results (run_id, file, variable, entry, value) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, res := range results {
			ierr := res.Stats.Each(func(st *stat.Stat) error {
				if !st.Kind.HasEntries() {
					_, err := stmt.ExecContext(ctx, rec.ID, res.File, st.Name, "", st.Value())
					return err
				}
				for _, entry := range st.EntryOrder() {
					v, ok := st.ReducedAt(entry)
					value := "NaN"
					if ok {
						value = stat.FormatValue(v)
					}
					if _, err := stmt.ExecContext(ctx, rec.ID, res.File, st.Name, entry, value); err != nil {
						return err
					}
				}
				return nil
			})
			if ierr != nil {
				return fmt.Errorf("result insert for %s: %w", res.File, ierr)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
