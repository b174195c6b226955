// Package dataset persists completed runs and their flattened results
// to an embedded DuckDB database, and answers the read-side queries of
// the HTTP API, socket RPC, and TUI.
package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/quarrytools/quarry/internal/dataset/migrate"
)

const defaultQueryTimeout = 30 * time.Second

// Store manages the DuckDB connection behind the run registry.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string

	QueryTimeout time.Duration
}

// NewStore opens or creates the registry database and brings its
// schema up to date. An empty dbPath selects an in-memory database.
// The optional queryTimeout defaults to 30s.
func NewStore(dbPath string, queryTimeout ...time.Duration) (*Store, error) {
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("dataset: creating parent dir: %w", err)
		}
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("dataset: opening %q: %w", dbPath, err)
	}
	if _, err := migrate.Apply(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, path: dbPath, QueryTimeout: defaultQueryTimeout}
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		s.QueryTimeout = queryTimeout[0]
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for direct query access.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.QueryTimeout)
}
