package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quarrytools/quarry/internal/model"
)

// Config describes one pool of external parsing processes.
type Config struct {
	// Size is the fixed number of workers, and therefore the maximum
	// number of files parsed concurrently.
	Size int

	// Command is the argv of the external process: interpreter, script,
	// extra arguments.
	Command []string

	// EntryPoint is the request verb; DefaultEntryPoint when empty.
	EntryPoint string

	StartTimeout   time.Duration
	HealthTimeout  time.Duration
	HealthInterval time.Duration
	ShutdownGrace  time.Duration

	// Observer receives request and lifecycle events; nil disables it.
	Observer Observer
}

// Observer receives pool lifecycle events. Implemented by the metrics
// package; the pool never blocks on it.
type Observer interface {
	RequestServed(workerID int, d time.Duration, err error)
	WorkerRestarted(workerID int)
	HealthyWorkers(n int)
}

func (c *Config) applyDefaults() {
	if c.EntryPoint == "" {
		c.EntryPoint = DefaultEntryPoint
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = model.DefaultStartTimeout
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = model.DefaultHealthTimeout
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = model.DefaultHealthInterval
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = model.DefaultShutdownGrace
	}
}

// Pool is a fixed-size set of workers. Workers circulate through the
// free channel: whoever holds a worker (a parse call or the health
// monitor) is its sole mutator until it goes back.
type Pool struct {
	cfg     Config
	workers []*Worker
	free    chan *Worker

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	closed   atomic.Bool

	totalRequests atomic.Int64
	totalErrors   atomic.Int64
}

// NewPool starts cfg.Size workers. Individual startup failures are
// logged and tolerated; a pool with zero live workers is an error.
func NewPool(cfg Config) (*Pool, error) {
	if cfg.Size < 1 {
		return nil, fmt.Errorf("worker: pool size must be at least 1, got %d", cfg.Size)
	}
	if len(cfg.Command) == 0 {
		return nil, errors.New("worker: empty worker command")
	}
	cfg.applyDefaults()

	p := &Pool{
		cfg:  cfg,
		free: make(chan *Worker, cfg.Size),
		done: make(chan struct{}),
	}
	for i := 0; i < cfg.Size; i++ {
		w := newWorker(i, cfg)
		if err := w.start(); err != nil {
			log.Printf("worker: pool startup: %v", err)
			continue
		}
		p.workers = append(p.workers, w)
		p.free <- w
	}
	if len(p.workers) == 0 {
		return nil, fmt.Errorf("worker: no worker process could be started from %q", cfg.Command[0])
	}
	if len(p.workers) < cfg.Size {
		log.Printf("worker: pool running degraded with %d/%d workers", len(p.workers), cfg.Size)
	}

	p.wg.Add(1)
	go p.monitor()
	return p, nil
}

// ParseFile sends one parse request for path, blocking until a result
// arrives or the timeout elapses. A worker failure is retried on a
// replacement or sibling worker, bounded by the pool size and the
// timeout; zero keys ask the process to report everything it finds.
func (p *Pool) ParseFile(ctx context.Context, path string, keys []string, timeout time.Duration) ([]Record, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("worker: parse %s: %w", path, model.ErrPoolClosed)
	}
	if timeout <= 0 {
		timeout = model.DefaultParseTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p.totalRequests.Add(1)

	var lastErr error
	for attempt := 0; attempt < len(p.workers); attempt++ {
		w, err := p.acquire(ctx, path)
		if err != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("%w (last worker error: %v)", err, lastErr)
			}
			return nil, err
		}

		if !w.Healthy() {
			if err := w.restart(); err != nil {
				log.Printf("worker: restart failed: %v", err)
				p.notifyRestart(w.id)
				p.release(w)
				lastErr = err
				continue
			}
			p.notifyRestart(w.id)
		}

		start := time.Now()
		records, err := w.serve(ctx, path, keys)
		p.observeRequest(w.id, time.Since(start), err)
		p.recycle(w)

		if err == nil {
			return records, nil
		}
		p.totalErrors.Add(1)
		lastErr = err
		if ctx.Err() != nil {
			// The per-file timeout elapsed; siblings are unaffected.
			return nil, err
		}
	}
	return nil, fmt.Errorf("worker: parse %s: %w (last error: %v)", path, model.ErrNoWorkers, lastErr)
}

func (p *Pool) acquire(ctx context.Context, path string) (*Worker, error) {
	select {
	case w := <-p.free:
		return w, nil
	case <-p.done:
		return nil, fmt.Errorf("worker: parse %s: %w", path, model.ErrPoolClosed)
	case <-ctx.Done():
		return nil, fmt.Errorf("worker: parse %s: no worker available: %w", path, ctx.Err())
	}
}

// recycle returns a worker to the free channel, restarting it first
// when the last response asked for it or the request left it broken.
func (p *Pool) recycle(w *Worker) {
	if w.needsRestart || !w.Healthy() {
		if err := w.restart(); err != nil {
			log.Printf("worker: restart failed: %v", err)
		}
		p.notifyRestart(w.id)
	}
	p.release(w)
}

func (p *Pool) release(w *Worker) {
	select {
	case p.free <- w:
	case <-p.done:
		// Shutdown already drained the pool; stop the straggler here.
		w.stop()
	}
}

// monitor periodically probes idle workers and proactively restarts
// unhealthy ones. Busy workers are never in the free channel, so a
// mid-request worker can never be probed or restarted from here.
func (p *Pool) monitor() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.checkIdleWorkers()
			p.notifyHealthy()
		case <-p.done:
			return
		}
	}
}

func (p *Pool) checkIdleWorkers() {
	var idle []*Worker
drain:
	for {
		select {
		case w := <-p.free:
			idle = append(idle, w)
		default:
			break drain
		}
	}
	for _, w := range idle {
		if !w.healthCheck() {
			log.Printf("worker %d: unhealthy, restarting", w.id)
			if err := w.restart(); err != nil {
				log.Printf("worker: restart failed: %v", err)
			}
			p.notifyRestart(w.id)
		}
		p.release(w)
	}
}

// Stats returns a live snapshot of pool and per-worker counters.
func (p *Pool) Stats() model.PoolStats {
	stats := model.PoolStats{
		Size:          len(p.workers),
		TotalRequests: p.totalRequests.Load(),
		TotalErrors:   p.totalErrors.Load(),
	}
	for _, w := range p.workers {
		ws := w.snapshot()
		if ws.Healthy {
			stats.Healthy++
		}
		stats.TotalRestarts += ws.Restarts
		stats.Workers = append(stats.Workers, ws)
	}
	return stats
}

// Size returns the number of live workers.
func (p *Pool) Size() int { return len(p.workers) }

// Shutdown terminates every worker. Idempotent; in-flight requests
// observe an error rather than partial output.
func (p *Pool) Shutdown() {
	p.stopOnce.Do(func() {
		p.closed.Store(true)
		close(p.done)
		p.wg.Wait()

		// Collect idle workers for a graceful stop; kill whatever is
		// still mid-request so its holder errors out promptly.
		stopped := make(map[*Worker]bool, len(p.workers))
		deadline := time.After(p.cfg.ShutdownGrace)
	drain:
		for len(stopped) < len(p.workers) {
			select {
			case w := <-p.free:
				if !stopped[w] {
					w.stop()
					stopped[w] = true
				}
			case <-deadline:
				break drain
			}
		}
		for _, w := range p.workers {
			if !stopped[w] {
				w.kill()
			}
		}
		log.Printf("worker: pool shut down (%d workers)", len(p.workers))
	})
}

func (p *Pool) observeRequest(id int, d time.Duration, err error) {
	if p.cfg.Observer != nil {
		p.cfg.Observer.RequestServed(id, d, err)
	}
}

func (p *Pool) notifyRestart(id int) {
	if p.cfg.Observer != nil {
		p.cfg.Observer.WorkerRestarted(id)
	}
}

func (p *Pool) notifyHealthy() {
	if p.cfg.Observer != nil {
		n := 0
		for _, w := range p.workers {
			if w.Healthy() {
				n++
			}
		}
		p.cfg.Observer.HealthyWorkers(n)
	}
}
