package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProcess_ResultsInSubmissionOrder(t *testing.T) {
	for _, maxConcurrent := range []int{1, 4} {
		t.Run(fmt.Sprintf("max_concurrent=%d", maxConcurrent), func(t *testing.T) {
			pool := New(Config{MaxConcurrent: maxConcurrent}, zap.NewNop())

			items := make([]WorkItem[int], 10)
			for i := range items {
				n := i
				items[i] = WorkItem[int]{
					ID: fmt.Sprintf("item%d", n),
					Execute: func(ctx context.Context) (int, error) {
						// Later items finish first
						time.Sleep(time.Duration(10-n) * time.Millisecond)
						return n * n, nil
					},
				}
			}

			results := Process(context.Background(), pool, items, nil)

			require.Len(t, results, 10)
			for i, r := range results {
				assert.Equal(t, i, r.Index)
				assert.Equal(t, fmt.Sprintf("item%d", i), r.ID)
				assert.Equal(t, i*i, r.Result)
				assert.NoError(t, r.Err)
			}
		})
	}
}

func TestProcess_WithErrors(t *testing.T) {
	pool := New(Config{MaxConcurrent: 2}, zap.NewNop())

	expectedErr := errors.New("component failed")
	items := []WorkItem[string]{
		{ID: "a", Execute: func(ctx context.Context) (string, error) { return "ok", nil }},
		{ID: "b", Execute: func(ctx context.Context) (string, error) { return "", expectedErr }},
		{ID: "c", Execute: func(ctx context.Context) (string, error) { return "ok", nil }},
	}

	results := Process(context.Background(), pool, items, nil)

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, expectedErr)
	assert.NoError(t, results[2].Err)
}

func TestProcess_EmptyItems(t *testing.T) {
	pool := New(DefaultConfig(), zap.NewNop())

	results := Process[int](context.Background(), pool, nil, nil)
	assert.Nil(t, results)
}

func TestProcess_RespectsConcurrencyLimit(t *testing.T) {
	pool := New(Config{MaxConcurrent: 2}, zap.NewNop())

	var current, peak int32
	items := make([]WorkItem[struct{}], 8)
	for i := range items {
		items[i] = WorkItem[struct{}]{
			ID: fmt.Sprintf("item%d", i),
			Execute: func(ctx context.Context) (struct{}, error) {
				n := atomic.AddInt32(&current, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return struct{}{}, nil
			},
		}
	}

	Process(context.Background(), pool, items, nil)

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestProcess_Progress(t *testing.T) {
	pool := New(Config{MaxConcurrent: 3}, zap.NewNop())

	items := make([]WorkItem[int], 5)
	for i := range items {
		items[i] = WorkItem[int]{ID: fmt.Sprintf("%d", i), Execute: func(ctx context.Context) (int, error) { return 0, nil }}
	}

	var calls int32
	var lastCompleted int32
	Process(context.Background(), pool, items, func(completed, total int) {
		atomic.AddInt32(&calls, 1)
		atomic.StoreInt32(&lastCompleted, int32(completed))
		assert.Equal(t, 5, total)
	})

	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
	assert.Equal(t, int32(5), atomic.LoadInt32(&lastCompleted))
}

func TestProcess_CancelledContext(t *testing.T) {
	pool := New(Config{MaxConcurrent: 1}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := []WorkItem[int]{
		{ID: "never", Execute: func(ctx context.Context) (int, error) { return 1, nil }},
	}

	results := Process(ctx, pool, items, nil)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}

func TestNew_ClampsConcurrency(t *testing.T) {
	pool := New(Config{MaxConcurrent: 0}, zap.NewNop())
	assert.Equal(t, 1, pool.MaxConcurrent())
}
