package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/quarrytools/quarry/internal/model"
)

// Worker supervises exactly one external parsing process. All mutation
// of a worker's process handle and counters happens on the goroutine
// currently holding the worker (the caller that took it from the
// pool's free channel, or the health monitor); other goroutines only
// read the atomic counters through Stats snapshots.
type Worker struct {
	id  int
	cfg Config

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan string
	waitCh chan error

	pid      atomic.Int64
	served   atomic.Int64
	errors   atomic.Int64
	restarts atomic.Int64
	lastUsed atomic.Int64
	healthy  atomic.Bool

	// needsRestart is set when a response carries the restart marker;
	// owner-only, checked after each request.
	needsRestart bool
}

func newWorker(id int, cfg Config) *Worker {
	return &Worker{id: id, cfg: cfg}
}

// start launches a fresh external process and waits for its ready
// handshake. A process that never reports ready is killed.
func (w *Worker) start() error {
	cmd := exec.Command(w.cfg.Command[0], w.cfg.Command[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("worker %d: stdin pipe: %w", w.id, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("worker %d: stdout pipe: %w", w.id, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("worker %d: stderr pipe: %w", w.id, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("worker %d: start %q: %w", w.id, w.cfg.Command[0], err)
	}

	lines := make(chan string, 256)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer close(lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxResponseLine)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			log.Printf("worker %d: stdout read: %v", w.id, err)
		}
	}()
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Printf("worker %d: stderr: %s", w.id, scanner.Text())
		}
	}()

	waitCh := make(chan error, 1)
	go func() {
		<-readerDone
		waitCh <- cmd.Wait()
	}()

	w.cmd = cmd
	w.stdin = stdin
	w.lines = lines
	w.waitCh = waitCh
	w.needsRestart = false

	if err := w.awaitLine(markerReady, w.cfg.StartTimeout); err != nil {
		w.kill()
		return fmt.Errorf("worker %d: ready handshake: %w", w.id, err)
	}

	w.pid.Store(int64(cmd.Process.Pid))
	w.healthy.Store(true)
	return nil
}

// awaitLine reads lines until want appears or the timeout elapses.
// Anything else read while waiting is discarded with a log line.
func (w *Worker) awaitLine(want string, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				return fmt.Errorf("process exited before %s", want)
			}
			if strings.TrimSpace(line) == want {
				return nil
			}
			log.Printf("worker %d: unexpected line %q while waiting for %s", w.id, line, want)
		case <-timer.C:
			return fmt.Errorf("timed out after %s waiting for %s", timeout, want)
		}
	}
}

// serve sends one request and collects response records until the end
// marker. A crash or timeout mid-request marks the worker unhealthy
// and surfaces an error for this request only; partial output is never
// returned.
func (w *Worker) serve(ctx context.Context, path string, keys []string) ([]Record, error) {
	if !w.healthy.Load() {
		return nil, fmt.Errorf("worker %d: %w", w.id, model.ErrNoWorkers)
	}
	w.lastUsed.Store(time.Now().UnixNano())

	if _, err := io.WriteString(w.stdin, requestLine(w.cfg.EntryPoint, path, keys)+"\n"); err != nil {
		w.healthy.Store(false)
		w.errors.Add(1)
		return nil, fmt.Errorf("worker %d: send request for %s: %w", w.id, path, err)
	}

	var records []Record
	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				w.healthy.Store(false)
				w.errors.Add(1)
				return nil, fmt.Errorf("worker %d: process died parsing %s", w.id, path)
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
				continue
			case line == markerEndParse:
				w.served.Add(1)
				return records, nil
			case line == markerRestartNeeded:
				w.needsRestart = true
			case strings.HasPrefix(line, markerErrorPrefix):
				log.Printf("worker %d: %s: %s", w.id, path, line)
			default:
				rec, err := ParseRecord(line)
				if err != nil {
					log.Printf("worker %d: %s: skipping %v", w.id, path, err)
					continue
				}
				records = append(records, rec)
			}
		case <-ctx.Done():
			// The process may still be chewing on the file; kill it so
			// the next holder gets a clean restart instead of stale
			// response lines.
			w.healthy.Store(false)
			w.errors.Add(1)
			w.kill()
			return nil, fmt.Errorf("worker %d: parsing %s: %w", w.id, path, ctx.Err())
		}
	}
}

// healthCheck probes a known-idle worker. It never runs mid-request:
// callers only probe workers they took off the free channel.
func (w *Worker) healthCheck() bool {
	if w.cmd == nil || !w.healthy.Load() {
		return false
	}
	if _, err := io.WriteString(w.stdin, markerPing+"\n"); err != nil {
		w.healthy.Store(false)
		return false
	}
	if err := w.awaitLine(markerPong, w.cfg.HealthTimeout); err != nil {
		log.Printf("worker %d: health check failed: %v", w.id, err)
		w.healthy.Store(false)
		return false
	}
	w.healthy.Store(true)
	return true
}

// restart tears the process down and brings up a replacement with a
// new identity. The restart counter moves even when the replacement
// fails to start, so repeated failures stay visible in Stats.
func (w *Worker) restart() error {
	w.stop()
	w.restarts.Add(1)
	if err := w.start(); err != nil {
		w.healthy.Store(false)
		return err
	}
	return nil
}

// stop asks the process to exit and waits briefly before killing it.
func (w *Worker) stop() {
	if w.cmd == nil {
		return
	}
	if w.stdin != nil {
		_, _ = io.WriteString(w.stdin, markerShutdown+"\n")
		_ = w.stdin.Close()
	}
	select {
	case <-w.waitCh:
	case <-time.After(w.cfg.ShutdownGrace):
		w.kill()
		<-w.waitCh
	}
	w.cmd = nil
	w.stdin = nil
	w.healthy.Store(false)
}

// kill forcefully terminates the process. Safe to call from Shutdown
// while another goroutine holds the worker: it only touches the
// process handle, never the worker's state.
func (w *Worker) kill() {
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
}

// PID returns the current process id, 0 before the first start.
func (w *Worker) PID() int { return int(w.pid.Load()) }

// Healthy reports the worker's last known health state.
func (w *Worker) Healthy() bool { return w.healthy.Load() }

func (w *Worker) snapshot() model.WorkerStats {
	var lastUsed time.Time
	if ns := w.lastUsed.Load(); ns > 0 {
		lastUsed = time.Unix(0, ns)
	}
	return model.WorkerStats{
		ID:       w.id,
		PID:      w.PID(),
		Healthy:  w.healthy.Load(),
		Served:   w.served.Load(),
		Errors:   w.errors.Load(),
		Restarts: w.restarts.Load(),
		LastUsed: lastUsed,
	}
}

// maxResponseLine bounds one response line (1 MB), matching the
// largest raw payload a stats file can reasonably produce.
const maxResponseLine = 1024 * 1024
