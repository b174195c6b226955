package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quarrytools/quarry/internal/model"
)

func runRecord(id, csvPath string, finished time.Time) model.RunRecord {
	return model.RunRecord{
		ID:         id,
		Kind:       "parse",
		CSVPath:    csvPath,
		FinishedAt: finished,
	}
}

func writeCSV(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("file,sim_ticks\nrun/stats.txt,1000\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewManager_Disabled(t *testing.T) {
	t.Parallel()

	m, err := NewManager(Config{})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	if m != nil {
		t.Fatal("expected nil manager when disabled")
	}
}

func TestNewManager_RequiresLocalDir(t *testing.T) {
	t.Parallel()

	if _, err := NewManager(Config{Enabled: true}); err == nil {
		t.Fatal("expected error for empty local-dir")
	}
}

func TestRecordRun_CopiesAndPrunes(t *testing.T) {
	t.Parallel()

	localDir := t.TempDir()
	srcDir := t.TempDir()
	m, err := NewManager(Config{Enabled: true, LocalDir: localDir, KeepLast: 2})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"aaaaaaaa-1", "bbbbbbbb-2", "cccccccc-3"} {
		src := writeCSV(t, srcDir, id+".csv")
		rec := runRecord(id, src, base.Add(time.Duration(i)*time.Minute))
		if err := m.RecordRun(context.Background(), rec, nil); err != nil {
			t.Fatalf("RecordRun %s: %v", id, err)
		}
	}

	files, err := filepath.Glob(filepath.Join(localDir, "run-*.csv"))
	if err != nil {
		t.Fatalf("glob archives: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("archive files = %d, want 2", len(files))
	}
	for _, f := range files {
		if strings.Contains(f, "aaaaaaaa") {
			t.Errorf("oldest archive %s survived pruning", f)
		}
		raw, err := os.ReadFile(f)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(raw), "sim_ticks") {
			t.Errorf("archive %s content = %q", f, raw)
		}
	}
}

func TestRecordRun_SkipsRunsWithoutArtifact(t *testing.T) {
	t.Parallel()

	localDir := t.TempDir()
	m, err := NewManager(Config{Enabled: true, LocalDir: localDir})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	rec := runRecord("scan-1", "", time.Now())
	if err := m.RecordRun(context.Background(), rec, nil); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	files, _ := filepath.Glob(filepath.Join(localDir, "run-*.csv"))
	if len(files) != 0 {
		t.Errorf("archive files = %v, want none", files)
	}
}
