package service

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quarrytools/quarry/internal/parse"
	"github.com/quarrytools/quarry/internal/stat"
)

// entrySeparator joins a variable name and an entry key into one
// flattened column name.
const entrySeparator = ".."

// missingCell renders a variable absent from a row. The literal
// string, never an empty cell.
const missingCell = "NaN"

// BuildCSV folds per-file results into the final table: a header row
// followed by one row per successfully parsed file, in the order the
// results arrived (unspecified). The header comes from the first
// result only; every work unit builds its stats from the same resolved
// list and balancing fills the declared entries, so in practice each
// result carries the same columns. Any cell a row cannot produce
// renders as the missing sentinel.
func BuildCSV(results []parse.Result) ([][]string, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("service: no results to build a CSV from")
	}

	header := append([]string{"file"}, flattenHeader(results[0].Stats)...)
	rows := [][]string{header}
	for _, res := range results {
		cells := flattenRow(res.Stats)
		row := make([]string, 0, len(header))
		row = append(row, res.File)
		for _, col := range header[1:] {
			if v, ok := cells[col]; ok {
				row = append(row, v)
			} else {
				row = append(row, missingCell)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteCSV renders the results to path, creating parent directories.
func WriteCSV(path string, results []parse.Result) error {
	rows, err := BuildCSV(results)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("service: create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("service: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("service: write %s: %w", path, err)
	}
	return nil
}

// flattenHeader lists the column names one result produces, in the
// configured variable order: plain names for scalar kinds, one
// name..entry column per entry otherwise.
func flattenHeader(stats *stat.Map) []string {
	var cols []string
	_ = stats.Each(func(st *stat.Stat) error {
		if !st.Kind.HasEntries() {
			cols = append(cols, st.Name)
			return nil
		}
		for _, entry := range st.EntryOrder() {
			cols = append(cols, st.Name+entrySeparator+entry)
		}
		return nil
	})
	return cols
}

// flattenRow renders one result's finalized values keyed by column.
func flattenRow(stats *stat.Map) map[string]string {
	cells := make(map[string]string)
	_ = stats.Each(func(st *stat.Stat) error {
		if !st.Kind.HasEntries() {
			cells[st.Name] = st.Value()
			return nil
		}
		for _, entry := range st.EntryOrder() {
			v, ok := st.ReducedAt(entry)
			if !ok {
				cells[st.Name+entrySeparator+entry] = missingCell
				continue
			}
			cells[st.Name+entrySeparator+entry] = stat.FormatValue(v)
		}
		return nil
	})
	return cells
}
