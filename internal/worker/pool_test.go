package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quarrytools/quarry/internal/model"
)

// stubScript is a minimal external parser speaking the wire protocol:
// scalar lines match a requested key exactly, entry lines match
// key.entry. A zero-key request reports every line it finds.
const stubScript = `#!/bin/sh
echo READY
while read -r line; do
  set -- $line
  verb=$1
  case "$verb" in
    PING) echo PONG ;;
    SHUTDOWN) exit 0 ;;
    parse)
      file=$2; shift 2
      if [ "$#" -eq 0 ]; then
        while read -r name value; do
          [ -n "$name" ] && echo "Scalar/$name/$value"
        done < "$file" 2>/dev/null
      else
        for key in "$@"; do
          while read -r name value; do
            if [ "$name" = "$key" ]; then
              echo "Scalar/$key/$value"
            else
              case "$name" in
                "$key".*) echo "Vector/$key::${name#"$key".}/$value" ;;
              esac
            fi
          done < "$file" 2>/dev/null
        done
      fi
      echo END_PARSE
      ;;
  esac
done
`

// slowScript sleeps on every parse request, for timeout and
// concurrency tests.
const slowScript = `#!/bin/sh
echo READY
while read -r line; do
  set -- $line
  case "$1" in
    PING) echo PONG ;;
    SHUTDOWN) exit 0 ;;
    parse)
      sleep "${STUB_DELAY:-0.1}"
      echo "Scalar/done/$2"
      echo END_PARSE
      ;;
  esac
done
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stub.sh")
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatalf("write stub script: %v", err)
	}
	return path
}

func writeStats(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stats.txt")
	if err := os.WriteFile(path, []byte(lines), 0644); err != nil {
		t.Fatalf("write stats file: %v", err)
	}
	return path
}

func testConfig(script string, size int) Config {
	return Config{
		Size:          size,
		Command:       []string{"/bin/sh", script},
		StartTimeout:  5 * time.Second,
		HealthTimeout: 2 * time.Second,
		// Long interval: tests drive health checks directly.
		HealthInterval: time.Hour,
		ShutdownGrace:  500 * time.Millisecond,
	}
}

func newTestPool(t *testing.T, script string, size int) *Pool {
	t.Helper()
	p, err := NewPool(testConfig(script, size))
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(p.Shutdown)
	return p
}

func TestParseFileScalar(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, writeScript(t, stubScript), 1)
	stats := writeStats(t, "sim_ticks 1000\nhost_seconds 2.5\n")

	records, err := p.ParseFile(context.Background(), stats, []string{"sim_ticks"}, 5*time.Second)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1: %v", len(records), records)
	}
	rec := records[0]
	if rec.Type != "Scalar" || rec.VarID != "sim_ticks" || rec.Value != "1000" {
		t.Errorf("record = %+v, want Scalar/sim_ticks/1000", rec)
	}
}

func TestParseFileEntryRecords(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, writeScript(t, stubScript), 1)
	stats := writeStats(t, "cache.hits 10\ncache.misses 3\n")

	records, err := p.ParseFile(context.Background(), stats, []string{"cache"}, 5*time.Second)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2: %v", len(records), records)
	}
	if records[0].Entry != "hits" || records[0].VarID != "cache" {
		t.Errorf("record = %+v, want VarID cache, Entry hits", records[0])
	}
}

func TestScanRequestZeroKeys(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, writeScript(t, stubScript), 1)
	stats := writeStats(t, "a 1\nb 2\nc 3\n")

	records, err := p.ParseFile(context.Background(), stats, nil, 5*time.Second)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("scan returned %d records, want 3", len(records))
	}
}

func TestCorruptFileYieldsEmptyResult(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, writeScript(t, stubScript), 1)

	records, err := p.ParseFile(context.Background(), "/nonexistent/stats.txt", []string{"x"}, 5*time.Second)
	if err != nil {
		t.Fatalf("a missing target file must not fail the request: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records, want empty result", len(records))
	}
	if got := p.Stats().Healthy; got != 1 {
		t.Errorf("healthy workers = %d, want 1 (worker must survive)", got)
	}
}

func TestPerRequestTimeout(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, writeScript(t, slowScript), 1)

	// The stub delays 0.1s per request; the timeout below is shorter.
	_, err := p.ParseFile(context.Background(), "whatever", nil, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}

	// The pool recovers: the worker is restarted and serves again.
	records, err := p.ParseFile(context.Background(), "next", nil, 5*time.Second)
	if err != nil {
		t.Fatalf("ParseFile after timeout: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records, want 1", len(records))
	}
}

func TestExternalKillDetectedAndRestarted(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, writeScript(t, stubScript), 1)
	w := <-p.free

	oldPID := w.PID()
	if oldPID == 0 {
		t.Fatal("worker has no pid")
	}
	w.kill()

	if w.healthCheck() {
		t.Fatal("health check must fail after external kill")
	}
	restartsBefore := w.restarts.Load()
	if err := w.restart(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if w.PID() == oldPID {
		t.Error("restart must yield a new process identity")
	}
	if got := w.restarts.Load(); got != restartsBefore+1 {
		t.Errorf("restarts = %d, want %d", got, restartsBefore+1)
	}
	if !w.healthCheck() {
		t.Error("restarted worker should be healthy")
	}
	p.free <- w
}

// A 2-worker pool parsing 5 files must finish in time closer to
// ceil(5/2) file-times than 5 file-times.
func TestPoolParallelism(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, writeScript(t, slowScript), 2)

	const files = 5
	perFile := 100 * time.Millisecond

	start := time.Now()
	errCh := make(chan error, files)
	for i := 0; i < files; i++ {
		go func() {
			_, err := p.ParseFile(context.Background(), "f", nil, 10*time.Second)
			errCh <- err
		}()
	}
	for i := 0; i < files; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("ParseFile: %v", err)
		}
	}
	elapsed := time.Since(start)

	serial := time.Duration(files) * perFile
	if elapsed >= serial {
		t.Errorf("elapsed %v, want clearly less than serial %v", elapsed, serial)
	}
}

func TestStatsSnapshot(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, writeScript(t, stubScript), 2)
	stats := writeStats(t, "x 1\n")

	if _, err := p.ParseFile(context.Background(), stats, []string{"x"}, 5*time.Second); err != nil {
		t.Fatalf("ParseFile: %v", err)
	}

	snap := p.Stats()
	if snap.Size != 2 {
		t.Errorf("Size = %d, want 2", snap.Size)
	}
	if snap.TotalRequests != 1 {
		t.Errorf("TotalRequests = %d, want 1", snap.TotalRequests)
	}
	var served int64
	for _, ws := range snap.Workers {
		served += ws.Served
		if ws.PID == 0 {
			t.Errorf("worker %d has no pid in snapshot", ws.ID)
		}
	}
	if served != 1 {
		t.Errorf("summed served = %d, want 1", served)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	t.Parallel()

	p, err := NewPool(testConfig(writeScript(t, stubScript), 1))
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	p.Shutdown()
	p.Shutdown()

	_, err = p.ParseFile(context.Background(), "x", nil, time.Second)
	if !errors.Is(err, model.ErrPoolClosed) {
		t.Errorf("err = %v, want ErrPoolClosed", err)
	}
}

func TestNewPoolValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewPool(Config{Size: 0, Command: []string{"/bin/sh"}}); err == nil {
		t.Error("size 0 should be rejected")
	}
	if _, err := NewPool(Config{Size: 1}); err == nil {
		t.Error("empty command should be rejected")
	}
	if _, err := NewPool(testConfig("/nonexistent/script.sh", 1)); err == nil {
		t.Error("pool with zero startable workers should fail")
	}
}

func TestDefaultPoolSingleton(t *testing.T) {
	cfg := testConfig(writeScript(t, stubScript), 1)

	p1, err := Default(cfg)
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	p2, err := Default(cfg)
	if err != nil {
		t.Fatalf("second Default: %v", err)
	}
	if p1 != p2 {
		t.Error("Default must return the same pool until shut down")
	}

	ShutdownDefault()
	p3, err := Default(cfg)
	if err != nil {
		t.Fatalf("Default after shutdown: %v", err)
	}
	if p3 == p1 {
		t.Error("Default after ShutdownDefault must create a fresh pool")
	}
	ShutdownDefault()
}

func TestParseRecord(t *testing.T) {
	t.Parallel()

	rec, err := ParseRecord("Vector/cpu::0/1.25")
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}
	if rec.Type != "Vector" || rec.VarID != "cpu" || rec.Entry != "0" || rec.Value != "1.25" {
		t.Errorf("rec = %+v", rec)
	}

	rec, err = ParseRecord("Configuration/path/a/b/c")
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}
	if rec.Value != "a/b/c" {
		t.Errorf("Value = %q, want slashes preserved in payload", rec.Value)
	}

	if _, err := ParseRecord("garbage"); err == nil {
		t.Error("malformed record should error")
	}
}
