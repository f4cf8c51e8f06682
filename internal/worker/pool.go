// Package worker runs best-effort background jobs on a fixed set of
// goroutines. Submissions never block the caller: when the queue is full the
// job is rejected and the caller decides what to do with it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"streamscraper/pkg/logger"
)

// ErrQueueFull is returned by TrySubmit when no queue slot is free
var ErrQueueFull = errors.New("worker queue is full")

// ErrStopped is returned by TrySubmit after Stop
var ErrStopped = errors.New("worker pool is stopped")

// Job is a single unit of background work
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Result reports the outcome of a job
type Result struct {
	Job      Job
	Error    error
	Duration time.Duration
}

// Pool manages the background workers
type Pool struct {
	numWorkers int
	jobQueue   chan Job
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	logger     logger.Logger
	onResult   func(Result)

	mu      sync.RWMutex
	stopped bool

	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// Options configures a Pool
type Options struct {
	Workers   int
	QueueSize int
	Logger    logger.Logger
	// OnResult is called from the worker goroutine after each job
	OnResult func(Result)
}

// NewPool creates a pool; call Start before submitting
func NewPool(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.Workers * 2
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		numWorkers: opts.Workers,
		jobQueue:   make(chan Job, opts.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
		logger:     opts.Logger,
		onResult:   opts.OnResult,
	}
}

// Start launches the workers
func (p *Pool) Start() {
	p.logger.DebugWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": p.numWorkers,
	})

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop rejects new jobs, lets queued jobs drain and waits for the workers.
// Jobs still running after timeout see their context cancelled.
func (p *Pool) Stop(timeout time.Duration) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobQueue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	if timeout > 0 {
		select {
		case <-done:
		case <-time.After(timeout):
			p.logger.Warn("Worker pool drain timed out, cancelling jobs")
			p.cancel()
			<-done
		}
	} else {
		<-done
	}
	p.cancel()

	p.logger.DebugWithFields("Worker pool stopped", map[string]interface{}{
		"completed": p.completed.Load(),
		"failed":    p.failed.Load(),
		"rejected":  p.rejected.Load(),
	})
}

// TrySubmit queues job without blocking
func (p *Pool) TrySubmit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		p.rejected.Add(1)
		return ErrStopped
	}

	select {
	case p.jobQueue <- job:
		return nil
	default:
		p.rejected.Add(1)
		return fmt.Errorf("%w: %s", ErrQueueFull, job.Name)
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobQueue {
		result := p.run(job, id)
		if result.Error != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
		if p.onResult != nil {
			p.onResult(result)
		}
	}
}

func (p *Pool) run(job Job, workerID int) (result Result) {
	start := time.Now()
	result.Job = job

	defer func() {
		if r := recover(); r != nil {
			result.Error = fmt.Errorf("job %s panicked: %v", job.Name, r)
			p.logger.ErrorWithFields("Background job panicked", map[string]interface{}{
				"worker_id": workerID,
				"job":       job.Name,
				"panic":     fmt.Sprint(r),
			})
		}
		result.Duration = time.Since(start)
	}()

	if err := job.Run(p.ctx); err != nil {
		result.Error = err
		p.logger.WarnWithFields("Background job failed", map[string]interface{}{
			"worker_id": workerID,
			"job":       job.Name,
			"error":     err.Error(),
		})
	}
	return result
}

// QueueSize returns the number of jobs waiting
func (p *Pool) QueueSize() int {
	return len(p.jobQueue)
}

// Workers returns the number of workers
func (p *Pool) Workers() int {
	return p.numWorkers
}

// Completed returns the number of jobs that finished without error
func (p *Pool) Completed() int64 { return p.completed.Load() }

// Failed returns the number of jobs that returned an error or panicked
func (p *Pool) Failed() int64 { return p.failed.Load() }

// Rejected returns the number of submissions refused
func (p *Pool) Rejected() int64 { return p.rejected.Load() }
