// Package parallel provides the bounded worker pool used by merge and
// extraction.
package parallel

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// PoolConfig configures the worker pool behavior.
type PoolConfig struct {
	// MaxWorkers is the maximum number of concurrent workers.
	// Default: min(runtime.NumCPU(), 8)
	MaxWorkers int
}

// DefaultPoolConfig returns a default pool configuration.
func DefaultPoolConfig() PoolConfig {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}
	if workers < 2 {
		workers = 2
	}
	return PoolConfig{MaxWorkers: workers}
}

// WithWorkers returns a new config with the specified number of workers.
// Non-positive values keep the default.
func (c PoolConfig) WithWorkers(n int) PoolConfig {
	if n > 0 {
		c.MaxWorkers = n
	}
	return c
}

// TaskResult holds the result of one task.
type TaskResult[T any, R any] struct {
	Input    T
	Result   R
	Error    error
	Duration time.Duration
	Skipped  bool // context was cancelled before the task ran
}

// WorkerPool runs a function over a slice of inputs on a bounded number of
// goroutines.
type WorkerPool[T any, R any] struct {
	config PoolConfig
}

// NewWorkerPool creates a new worker pool with the given configuration.
func NewWorkerPool[T any, R any](config PoolConfig) *WorkerPool[T, R] {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultPoolConfig().MaxWorkers
	}
	return &WorkerPool[T, R]{config: config}
}

// Workers returns the configured concurrency.
func (p *WorkerPool[T, R]) Workers() int {
	return p.config.MaxWorkers
}

// ExecuteFunc runs fn for every input. Results keep the input order. Once
// ctx is done, inputs not yet started are reported as Skipped with ctx.Err().
func (p *WorkerPool[T, R]) ExecuteFunc(ctx context.Context, inputs []T, fn func(ctx context.Context, input T) (R, error)) []TaskResult[T, R] {
	if len(inputs) == 0 {
		return nil
	}

	results := make([]TaskResult[T, R], len(inputs))
	taskCh := make(chan int)

	var wg sync.WaitGroup
	numWorkers := min(p.config.MaxWorkers, len(inputs))
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range taskCh {
				start := time.Now()
				r, err := fn(ctx, inputs[idx])
				results[idx] = TaskResult[T, R]{
					Input:    inputs[idx],
					Result:   r,
					Error:    err,
					Duration: time.Since(start),
				}
			}
		}()
	}

	next := 0
submit:
	for ; next < len(inputs); next++ {
		select {
		case <-ctx.Done():
			break submit
		case taskCh <- next:
		}
	}
	close(taskCh)
	wg.Wait()

	for i := next; i < len(inputs); i++ {
		results[i] = TaskResult[T, R]{Input: inputs[i], Error: ctx.Err(), Skipped: true}
	}
	return results
}

// ForEach executes fn for each item in parallel. Every item runs even when
// others fail; the returned error joins all failures.
func ForEach[T any](
	ctx context.Context,
	items []T,
	config PoolConfig,
	fn func(ctx context.Context, item T) error,
) (processed int64, err error) {
	if len(items) == 0 {
		return 0, nil
	}

	var count atomic.Int64
	pool := NewWorkerPool[T, struct{}](config)
	results := pool.ExecuteFunc(ctx, items, func(ctx context.Context, item T) (struct{}, error) {
		if err := fn(ctx, item); err != nil {
			return struct{}{}, err
		}
		count.Add(1)
		return struct{}{}, nil
	})

	var errs []error
	for _, r := range results {
		if r.Error != nil {
			errs = append(errs, r.Error)
		}
	}
	return count.Load(), errors.Join(errs...)
}

// ProgressTracker periodically reports progress of a long parallel operation.
type ProgressTracker struct {
	total     int64
	completed atomic.Int64
	callback  func(completed, total int64)
	interval  time.Duration
	stopCh    chan struct{}
	done      chan struct{}
	started   atomic.Bool
	stopped   atomic.Bool
}

// NewProgressTracker creates a new progress tracker.
func NewProgressTracker(total int64, callback func(completed, total int64), interval time.Duration) *ProgressTracker {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &ProgressTracker{
		total:    total,
		callback: callback,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins progress reporting in a background goroutine. Only the first
// call has an effect.
func (pt *ProgressTracker) Start(ctx context.Context) {
	if !pt.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(pt.done)
		ticker := time.NewTicker(pt.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-pt.stopCh:
				return
			case <-ticker.C:
				if pt.callback != nil {
					pt.callback(pt.completed.Load(), pt.total)
				}
			}
		}
	}()
}

// Increment increments the completed count.
func (pt *ProgressTracker) Increment() {
	pt.completed.Add(1)
}

// Stop stops progress reporting and waits for an in-flight callback to
// return. Safe to call more than once.
func (pt *ProgressTracker) Stop() {
	if pt.stopped.CompareAndSwap(false, true) {
		close(pt.stopCh)
	}
	if pt.started.Load() {
		<-pt.done
	}
}

// Completed returns the current completed count.
func (pt *ProgressTracker) Completed() int64 {
	return pt.completed.Load()
}
