// Package runlog keeps a durable append-only history of completed
// runs, one JSON record per line. It survives without the registry
// database and backs the run listing when the store is disabled.
package runlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/quarrytools/quarry/internal/model"
	"github.com/quarrytools/quarry/internal/parse"
)

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755
)

// Log is a durable append-only run history file.
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// Open creates or opens the run log at path.
func Open(path string) (*Log, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("runlog: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), defaultDirMode); err != nil {
		return nil, fmt.Errorf("runlog: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, defaultFileMode)
	if err != nil {
		return nil, fmt.Errorf("runlog: open: %w", err)
	}
	return &Log{path: path, file: f}, nil
}

// Append persists one run record.
func (l *Log) Append(rec model.RunRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("runlog: marshal record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.New("runlog: closed")
	}
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("runlog: write record: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("runlog: sync record: %w", err)
	}
	return nil
}

// RecordRun satisfies the coordinator's run sink; results are not
// persisted here, only the record.
func (l *Log) RecordRun(_ context.Context, rec model.RunRecord, _ []parse.Result) error {
	return l.Append(rec)
}

// RecentRuns returns the latest runs, newest first. A malformed or
// partially written trailing line ends the read without error.
func (l *Log) RecentRuns(limit int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = model.DefaultRecentRuns
	}

	l.mu.Lock()
	path := l.path
	l.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("runlog: open for read: %w", err)
	}
	defer f.Close()

	var runs []model.RunRecord
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("runlog: read: %w", err)
		}
		if len(line) == 0 {
			break
		}
		if !strings.HasSuffix(string(line), "\n") {
			// Ignore a potentially partial trailing line.
			break
		}
		var rec model.RunRecord
		if uerr := json.Unmarshal(line, &rec); uerr != nil {
			// Stop at the first malformed line and keep reads deterministic.
			break
		}
		runs = append(runs, rec)
		if errors.Is(err, io.EOF) {
			break
		}
	}

	// Newest first, bounded by limit.
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
