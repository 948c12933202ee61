package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_ExecuteFunc(t *testing.T) {
	pool := NewWorkerPool[int, int](DefaultPoolConfig().WithWorkers(3))

	inputs := []int{1, 2, 3, 4, 5, 6, 7}
	results := pool.ExecuteFunc(context.Background(), inputs, func(ctx context.Context, input int) (int, error) {
		return input * 2, nil
	})

	if len(results) != len(inputs) {
		t.Fatalf("Expected %d results, got %d", len(inputs), len(results))
	}
	for i, r := range results {
		if r.Error != nil {
			t.Errorf("Unexpected error for input %d: %v", inputs[i], r.Error)
		}
		if r.Input != inputs[i] || r.Result != inputs[i]*2 {
			t.Errorf("result %d out of order: %+v", i, r)
		}
	}
}

func TestWorkerPool_BoundedConcurrency(t *testing.T) {
	pool := NewWorkerPool[int, struct{}](PoolConfig{MaxWorkers: 2})

	var running, peak atomic.Int32
	inputs := make([]int, 20)
	pool.ExecuteFunc(context.Background(), inputs, func(ctx context.Context, _ int) (struct{}, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)
		return struct{}{}, nil
	})

	if peak.Load() > 2 {
		t.Errorf("Expected at most 2 concurrent tasks, saw %d", peak.Load())
	}
}

func TestWorkerPool_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := NewWorkerPool[int, int](PoolConfig{MaxWorkers: 1})
	results := pool.ExecuteFunc(ctx, []int{1, 2, 3}, func(ctx context.Context, input int) (int, error) {
		return input, nil
	})

	skipped := 0
	for _, r := range results {
		if r.Skipped {
			skipped++
			if !errors.Is(r.Error, context.Canceled) {
				t.Errorf("Expected context.Canceled, got %v", r.Error)
			}
		}
	}
	if skipped == 0 {
		t.Error("Expected skipped tasks after cancellation")
	}
}

func TestForEach(t *testing.T) {
	var sum atomic.Int64
	boom := errors.New("boom")

	processed, err := ForEach(context.Background(), []int{1, 2, 3, 4}, DefaultPoolConfig(), func(ctx context.Context, item int) error {
		if item == 3 {
			return boom
		}
		sum.Add(int64(item))
		return nil
	})

	if processed != 3 {
		t.Errorf("Expected 3 processed, got %d", processed)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Expected joined error to contain boom, got %v", err)
	}
	if sum.Load() != 7 {
		t.Errorf("Expected every other item to run, sum=%d", sum.Load())
	}
}

func TestForEach_Empty(t *testing.T) {
	processed, err := ForEach(context.Background(), nil, DefaultPoolConfig(), func(ctx context.Context, item string) error {
		return errors.New("never")
	})
	if processed != 0 || err != nil {
		t.Errorf("Expected no-op, got %d %v", processed, err)
	}
}

func TestProgressTracker(t *testing.T) {
	var calls atomic.Int32
	pt := NewProgressTracker(10, func(completed, total int64) {
		calls.Add(1)
	}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pt.Start(ctx)
	for i := 0; i < 10; i++ {
		pt.Increment()
	}
	time.Sleep(30 * time.Millisecond)
	pt.Stop()
	pt.Stop()

	if pt.Completed() != 10 {
		t.Errorf("Expected 10 completed, got %d", pt.Completed())
	}
	if calls.Load() == 0 {
		t.Error("Expected at least one progress callback")
	}
}

func TestProgressTracker_StopWithoutStart(t *testing.T) {
	pt := NewProgressTracker(1, nil, 0)
	pt.Increment()
	pt.Stop()
	if pt.Completed() != 1 {
		t.Errorf("Expected 1 completed, got %d", pt.Completed())
	}
}
