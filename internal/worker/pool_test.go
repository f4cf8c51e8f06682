package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"streamscraper/pkg/logger"
)

func TestPoolRunsSubmittedJobs(t *testing.T) {
	var ran atomic.Int32
	pool := NewPool(Options{Workers: 3, QueueSize: 20, Logger: logger.NewNopLogger()})
	pool.Start()

	numJobs := 10
	for i := 0; i < numJobs; i++ {
		err := pool.TrySubmit(Job{
			Name: fmt.Sprintf("job-%d", i),
			Run: func(ctx context.Context) error {
				ran.Add(1)
				return nil
			},
		})
		if err != nil {
			t.Errorf("Failed to submit job %d: %v", i, err)
		}
	}

	pool.Stop(time.Second)

	if int(ran.Load()) != numJobs {
		t.Errorf("Expected %d jobs to run, got %d", numJobs, ran.Load())
	}
	if pool.Completed() != int64(numJobs) {
		t.Errorf("Expected %d completed, got %d", numJobs, pool.Completed())
	}
}

func TestPoolCountsFailuresAndPanics(t *testing.T) {
	var mu sync.Mutex
	var results []Result
	pool := NewPool(Options{
		Workers:   1,
		QueueSize: 4,
		Logger:    logger.NewNopLogger(),
		OnResult: func(r Result) {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		},
	})
	pool.Start()

	_ = pool.TrySubmit(Job{Name: "fails", Run: func(ctx context.Context) error { return errors.New("boom") }})
	_ = pool.TrySubmit(Job{Name: "panics", Run: func(ctx context.Context) error { panic("bad transport") }})
	_ = pool.TrySubmit(Job{Name: "ok", Run: func(ctx context.Context) error { return nil }})
	pool.Stop(time.Second)

	if pool.Failed() != 2 {
		t.Errorf("Expected 2 failed jobs, got %d", pool.Failed())
	}
	if pool.Completed() != 1 {
		t.Errorf("Expected 1 completed job, got %d", pool.Completed())
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if results[1].Error == nil {
		t.Error("Expected panic to be reported as an error")
	}
}

func TestPoolRejectsWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	pool := NewPool(Options{Workers: 1, QueueSize: 1, Logger: logger.NewNopLogger()})
	pool.Start()

	block := func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}
	if err := pool.TrySubmit(Job{Name: "blocker", Run: block}); err != nil {
		t.Fatalf("Failed to submit blocker: %v", err)
	}
	<-started

	noop := func(ctx context.Context) error { return nil }
	if err := pool.TrySubmit(Job{Name: "queued", Run: noop}); err != nil {
		t.Fatalf("Expected queued job to be accepted: %v", err)
	}
	err := pool.TrySubmit(Job{Name: "overflow", Run: noop})
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}

	close(release)
	pool.Stop(time.Second)

	if pool.Rejected() != 1 {
		t.Errorf("Expected 1 rejected job, got %d", pool.Rejected())
	}
	if err := pool.TrySubmit(Job{Name: "late", Run: noop}); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped after Stop, got %v", err)
	}
}

func TestPoolStopCancelsSlowJobs(t *testing.T) {
	pool := NewPool(Options{Workers: 1, Logger: logger.NewNopLogger()})
	pool.Start()

	started := make(chan struct{})
	_ = pool.TrySubmit(Job{Name: "slow", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}})
	<-started

	done := make(chan struct{})
	go func() {
		pool.Stop(20 * time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after cancelling the slow job")
	}
	if pool.Failed() != 1 {
		t.Errorf("Expected cancelled job to count as failed, got %d", pool.Failed())
	}
}
