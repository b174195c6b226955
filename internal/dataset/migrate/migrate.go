// Package migrate brings the run-registry schema up to date from SQL
// files embedded in the binary. File names are "<version>_<label>.sql";
// applied versions are tracked in the schema_migrations table.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

type step struct {
	version int
	label   string
	stmts   string
}

// Apply runs every migration newer than the database's recorded
// version, each inside its own transaction. It returns the schema
// version the database ends up at.
func Apply(db *sql.DB) (int, error) {
	if err := ensureVersionTable(db); err != nil {
		return 0, err
	}

	steps, err := readSteps()
	if err != nil {
		return 0, err
	}

	current, err := currentVersion(db)
	if err != nil {
		return 0, err
	}

	for _, s := range steps {
		if s.version <= current {
			continue
		}
		if err := applyStep(db, s); err != nil {
			return current, err
		}
		current = s.version
		log.Printf("migrate: applied %03d_%s", s.version, s.label)
	}
	return current, nil
}

// Pending reports how many migrations Apply would run.
func Pending(db *sql.DB) (int, error) {
	if err := ensureVersionTable(db); err != nil {
		return 0, err
	}
	steps, err := readSteps()
	if err != nil {
		return 0, err
	}
	current, err := currentVersion(db)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range steps {
		if s.version > current {
			n++
		}
	}
	return n, nil
}

func ensureVersionTable(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       VARCHAR NOT NULL,
		applied_at TIMESTAMP DEFAULT current_timestamp
	)`)
	if err != nil {
		return fmt.Errorf("migrate: creating schema_migrations: %w", err)
	}
	return nil
}

func currentVersion(db *sql.DB) (int, error) {
	var v sql.NullInt64
	if err := db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("migrate: reading version: %w", err)
	}
	return int(v.Int64), nil
}

func applyStep(db *sql.DB, s step) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate: begin %03d: %w", s.version, err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if _, err := tx.Exec(s.stmts); err != nil {
		return fmt.Errorf("migrate: step %03d_%s: %w", s.version, s.label, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", s.version, s.label); err != nil {
		return fmt.Errorf("migrate: recording %03d: %w", s.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: commit %03d: %w", s.version, err)
	}
	committed = true
	return nil
}

func readSteps() ([]step, error) {
	entries, err := fs.ReadDir(schemaFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate: reading embedded files: %w", err)
	}

	steps := make([]step, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		verText, label, ok := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
		if !ok {
			return nil, fmt.Errorf("migrate: unversioned file %q", name)
		}
		ver, err := strconv.Atoi(verText)
		if err != nil {
			return nil, fmt.Errorf("migrate: version of %q: %w", name, err)
		}
		body, err := schemaFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("migrate: reading %q: %w", name, err)
		}
		steps = append(steps, step{version: ver, label: label, stmts: string(body)})
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}
