package workerpool

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Config configures the worker pool.
type Config struct {
	MaxConcurrent int // Maximum concurrent work items (default: 1, i.e. sequential)
}

// DefaultConfig returns the single-threaded default.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 1,
	}
}

// Pool runs independent work items with bounded parallelism.
// It uses a semaphore to limit outstanding items.
type Pool struct {
	config Config
	logger *zap.Logger
}

// New creates a new worker pool.
func New(config Config, logger *zap.Logger) *Pool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}
	return &Pool{
		config: config,
		logger: logger.Named("worker-pool"),
	}
}

// MaxConcurrent returns the effective concurrency bound.
func (p *Pool) MaxConcurrent() int {
	return p.config.MaxConcurrent
}

// WorkItem represents a unit of work to be processed.
type WorkItem[T any] struct {
	ID      string                               // For logging/tracking
	Execute func(ctx context.Context) (T, error) // The work to be executed
}

// WorkResult represents the result of a work item.
type WorkResult[T any] struct {
	ID     string
	Index  int // Position of the item in the submitted slice
	Result T
	Err    error
}

// Process executes all work items with bounded parallelism.
// Results are returned in submission order regardless of completion order, so callers
// that need reproducible output do not have to re-sort.
// Continues processing all items even if some fail.
func Process[T any](
	ctx context.Context,
	pool *Pool,
	items []WorkItem[T],
	onProgress func(completed, total int),
) []WorkResult[T] {
	if len(items) == 0 {
		return nil
	}

	results := make([]WorkResult[T], len(items))

	// Sequential path: no goroutines at all
	if pool.config.MaxConcurrent == 1 {
		for i, item := range items {
			results[i] = run(ctx, i, item)
			if onProgress != nil {
				onProgress(i+1, len(items))
			}
		}
		return results
	}

	sem := semaphore.NewWeighted(int64(pool.config.MaxConcurrent))
	done := make(chan int, len(items))
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		go func(i int, item WorkItem[T]) {
			defer wg.Done()

			// Acquire semaphore slot (blocks if at max concurrency)
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = WorkResult[T]{ID: item.ID, Index: i, Err: err}
				done <- i
				return
			}
			defer sem.Release(1)

			results[i] = run(ctx, i, item)
			done <- i
		}(i, item)
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	completed := 0
	for range done {
		completed++
		if onProgress != nil {
			onProgress(completed, len(items))
		}
	}

	pool.logger.Debug("processed work items",
		zap.Int("count", len(items)),
		zap.Int("max_concurrent", pool.config.MaxConcurrent))

	return results
}

func run[T any](ctx context.Context, i int, item WorkItem[T]) WorkResult[T] {
	if err := ctx.Err(); err != nil {
		return WorkResult[T]{ID: item.ID, Index: i, Err: err}
	}
	result, err := item.Execute(ctx)
	return WorkResult[T]{ID: item.ID, Index: i, Result: result, Err: err}
}
