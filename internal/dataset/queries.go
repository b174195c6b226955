package dataset

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/quarrytools/quarry/internal/model"
)

// dangerousKeywordPattern matches dangerous SQL keywords at word boundaries.
// This avoids false positives like "RESET" matching "SET".
// Used as defense-in-depth after comment stripping and semicolon rejection.
var dangerousKeywordPattern = regexp.MustCompile(
	`(?i)\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|COPY|ATTACH|LOAD|EXPORT|IMPORT|INSTALL|CALL|EXECUTE|PRAGMA|SET)\b`,
)

// blockCommentPattern matches C-style block comments (/* ... */).
var blockCommentPattern = regexp.MustCompile(`/\*[\s\S]*?\*/`)

// stripSQLComments removes -- line comments and /* */ block comments from a query.
func stripSQLComments(query string) string {
	cleaned := blockCommentPattern.ReplaceAllString(query, " ")
	var result strings.Builder
	for _, line := range strings.Split(cleaned, "\n") {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		result.WriteString(line)
		result.WriteByte('\n')
	}
	return result.String()
}

// RecentRuns returns the latest completed runs, newest first.
func (s *Store) RecentRuns(limit int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = model.DefaultRecentRuns
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, stats_path, pattern, files_total, files_parsed, files_failed, variables, csv_path, started_at, finished_at, errors
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.RunRecord
	for rows.Next() {
		var rec model.RunRecord
		var pattern, csvPath, errsJSON sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.StatsPath, &pattern,
			&rec.FilesTotal, &rec.FilesParsed, &rec.FilesFailed, &rec.Variables,
			&csvPath, &rec.StartedAt, &rec.FinishedAt, &errsJSON); err != nil {
			log.Printf("dataset: scan error (RecentRuns): %v", err)
			continue
		}
		rec.Pattern = pattern.String
		rec.CSVPath = csvPath.String
		if errsJSON.Valid && errsJSON.String != "" {
			if err := json.Unmarshal([]byte(errsJSON.String), &rec.Errors); err != nil {
				log.Printf("dataset: bad errors payload for run %s: %v", rec.ID, err)
			}
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// RunValues returns the flattened values recorded for one run, keyed
// file -> column (variable, or variable..entry).
func (s *Store) RunValues(runID string) (map[string]map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT file, variable, entry, value FROM results WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]map[string]string)
	for rows.Next() {
		var file, variable, entry, value string
		if err := rows.Scan(&file, &variable, &entry, &value); err != nil {
			log.Printf("dataset: scan error (RunValues): %v", err)
			continue
		}
		col := variable
		if entry != "" {
			col = variable + ".." + entry
		}
		if values[file] == nil {
			values[file] = make(map[string]string)
		}
		values[file][col] = value
	}
	return values, rows.Err()
}

// DeleteBefore removes runs that started before the cutoff, along with
// their result rows. Returns the number of runs deleted.
func (s *Store) DeleteBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM results WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`, cutoff); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ExecuteQuery runs a read-only SQL query and returns results as maps.
// Only SELECT/WITH read queries are allowed; DDL/DML is rejected.
func (s *Store) ExecuteQuery(query string) ([]map[string]interface{}, error) {
	trimmed := strings.TrimSpace(query)

	// Reject semicolons to prevent statement chaining.
	if strings.Contains(trimmed, ";") {
		return nil, fmt.Errorf("query must not contain semicolons")
	}

	// Strip SQL comments so keywords hidden in comments are still caught.
	stripped := strings.TrimSpace(stripSQLComments(trimmed))
	upper := strings.ToUpper(stripped)

	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return nil, fmt.Errorf("only SELECT/WITH queries are allowed")
	}

	// Defense-in-depth: reject dangerous keywords after comment stripping.
	if match := dangerousKeywordPattern.FindString(stripped); match != "" {
		return nil, fmt.Errorf("query contains disallowed keyword: %s", strings.ToUpper(match))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	maxRows := 1000

	for rows.Next() && len(results) < maxRows {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			log.Printf("dataset: scan error (ExecuteQuery): %v", err)
			continue
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

// GetSchemaDescription returns a human-readable description of the
// queryable tables.
func (s *Store) GetSchemaDescription() string {
	return `Table 'runs': id (VARCHAR), kind (VARCHAR: parse/scan), stats_path (VARCHAR), ` +
		`pattern (VARCHAR), files_total (INTEGER), files_parsed (INTEGER), files_failed (INTEGER), ` +
		`variables (INTEGER), csv_path (VARCHAR), started_at (TIMESTAMP), finished_at (TIMESTAMP), errors (JSON). ` +
		`Table 'results': run_id (VARCHAR), file (VARCHAR), variable (VARCHAR), entry (VARCHAR), value (VARCHAR).`
}

// TableRowCounts returns the row count for each known table using a hardcoded allowlist.
func (s *Store) TableRowCounts() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	allowedTables := []string{"runs", "results"}
	counts := make(map[string]int64, len(allowedTables))

	for _, table := range allowedTables {
		var count int64
		// Table names are hardcoded constants, not user input.
		err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
		if err != nil {
			continue
		}
		counts[table] = count
	}
	return counts, nil
}
