// Package batch is the generic outer task pool: it fans one task per
// work item out to a bounded set of executor goroutines, reports
// progress, and supports cooperative cancellation checked between
// dispatches. It knows nothing about files or stats; the worker pool
// underneath provides the real parallelism bound.
package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/quarrytools/quarry/internal/model"
)

// Task is one unit of work. Returning an error marks the item failed
// without aborting the batch.
type Task[R any] func(ctx context.Context) (R, error)

// Outcome carries one task's result through the batch channel.
type Outcome[R any] struct {
	Index  int
	Result R
	Err    error
}

// Runner executes at most limit tasks concurrently. Exactly one batch
// may run at a time: submitting while a batch is running fails fast
// with model.ErrBusy, because two batches would otherwise race on the
// same result channel.
type Runner[R any] struct {
	limit int

	mu        sync.Mutex
	state     model.BatchState
	total     int
	errs      []string
	current   atomic.Int64
	cancelled atomic.Bool
	cancel    context.CancelFunc
}

// NewRunner builds an idle runner with the given concurrency limit.
func NewRunner[R any](limit int) *Runner[R] {
	if limit < 1 {
		limit = 1
	}
	return &Runner[R]{limit: limit, state: model.BatchIdle}
}

// Submit starts one batch and returns its outcome channel. The channel
// is written only by executor goroutines and closed when the batch
// finishes; the submitting caller is expected to drain it. Results of
// tasks still executing when the batch is cancelled are discarded.
func (r *Runner[R]) Submit(ctx context.Context, tasks []Task[R]) (<-chan Outcome[R], error) {
	r.mu.Lock()
	if r.state == model.BatchRunning {
		r.mu.Unlock()
		return nil, fmt.Errorf("batch: %w", model.ErrBusy)
	}
	ctx, cancel := context.WithCancel(ctx)
	r.state = model.BatchRunning
	r.total = len(tasks)
	r.errs = nil
	r.current.Store(0)
	r.cancelled.Store(false)
	r.cancel = cancel
	r.mu.Unlock()

	out := make(chan Outcome[R], len(tasks))
	go r.run(ctx, tasks, out)
	return out, nil
}

func (r *Runner[R]) run(ctx context.Context, tasks []Task[R], out chan<- Outcome[R]) {
	defer close(out)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)

	for i, task := range tasks {
		// Cooperative cancellation, checked between dispatches:
		// not-yet-started tasks are skipped and counted as cancelled.
		if r.cancelled.Load() {
			r.noteError(fmt.Sprintf("task %d: cancelled before start", i))
			r.current.Add(1)
			continue
		}
		i, task := i, task
		g.Go(func() error {
			result, err := task(gctx)
			r.current.Add(1)
			if r.cancelled.Load() {
				// The batch was cancelled while this task ran; its
				// result is discarded.
				return nil
			}
			if err != nil {
				r.noteError(err.Error())
			}
			out <- Outcome[R]{Index: i, Result: result, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	if r.cancelled.Load() {
		r.state = model.BatchCancelled
	} else {
		r.state = model.BatchDone
	}
	r.mu.Unlock()
}

// Cancel stops further dispatch and marks the batch cancelled.
// Already-executing tasks run to completion but their results are
// dropped. Safe to call at any time, in any state.
func (r *Runner[R]) Cancel() {
	r.cancelled.Store(true)
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
}

// Status returns a snapshot of the batch's progress.
func (r *Runner[R]) Status() model.BatchStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.BatchStatus{
		Total:   r.total,
		Current: int(r.current.Load()),
		State:   r.state,
		Errors:  append([]string(nil), r.errs...),
	}
}

func (r *Runner[R]) noteError(msg string) {
	r.mu.Lock()
	r.errs = append(r.errs, msg)
	r.mu.Unlock()
}
