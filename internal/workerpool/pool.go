// Package workerpool runs per-pair jobs on a fixed number of workers with an
// optional start rate limit. Fetch and analyze both fan out through it.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ErrShuttingDown is passed to the callback of jobs that could not be
// dispatched before Stop.
var ErrShuttingDown = errors.New("worker pool is shutting down")

// Job is one unit of work, usually one trading pair.
type Job struct {
	ID   string
	Name string
	Run  func(ctx context.Context) error
}

// NewJob creates a job with a fresh ID.
func NewJob(name string, run func(ctx context.Context) error) *Job {
	return &Job{ID: uuid.NewString(), Name: name, Run: run}
}

// WorkerPoolStats provides worker pool performance metrics
type WorkerPoolStats struct {
	ActiveWorkers  int
	QueuedJobs     int
	CompletedJobs  int64
	FailedJobs     int64
	AvgJobDuration time.Duration
}

// WorkerPool manages a pool of workers. Jobs are handed from a queue to
// whichever worker is idle.
type WorkerPool struct {
	workerCount int
	rateLimiter *rate.Limiter
	logger      *slog.Logger

	jobQueue    chan *jobWrapper
	workerQueue chan chan *jobWrapper

	quit chan struct{}
	wg   sync.WaitGroup

	activeWorkers int32
	queuedJobs    int32
	completedJobs int64
	failedJobs    int64
	totalJobTime  int64 // nanoseconds
	isStarted     int32
}

type jobWrapper struct {
	job      *Job
	callback func(error)
	ctx      context.Context
}

type worker struct {
	id          int
	pool        *WorkerPool
	workerQueue chan chan *jobWrapper
	jobChannel  chan *jobWrapper
}

// NewWorkerPool creates a pool. A nil limiter means jobs start as soon as a
// worker is free. workerCount below one is raised to one.
func NewWorkerPool(workerCount int, limiter *rate.Limiter, logger *slog.Logger) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		workerCount: workerCount,
		rateLimiter: limiter,
		logger:      logger,
		jobQueue:    make(chan *jobWrapper, workerCount*2),
		workerQueue: make(chan chan *jobWrapper, workerCount),
		quit:        make(chan struct{}),
	}
}

// Start launches the workers and the dispatcher.
func (wp *WorkerPool) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&wp.isStarted, 0, 1) {
		return fmt.Errorf("worker pool is already started")
	}

	wp.logger.Debug("starting worker pool", "worker_count", wp.workerCount)

	for i := 0; i < wp.workerCount; i++ {
		w := &worker{
			id:          i + 1,
			pool:        wp,
			workerQueue: wp.workerQueue,
			jobChannel:  make(chan *jobWrapper),
		}
		wp.wg.Add(1)
		atomic.AddInt32(&wp.activeWorkers, 1)
		go w.start()
	}

	wp.wg.Add(1)
	go wp.dispatch()
	return nil
}

// Stop signals the workers to finish their current job and waits for them or
// for ctx. A pool cannot be restarted.
func (wp *WorkerPool) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&wp.isStarted, 1, 2) {
		return fmt.Errorf("worker pool is not started")
	}

	close(wp.quit)

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Debug("worker pool stopped")
		return nil
	case <-ctx.Done():
		wp.logger.Warn("worker pool stop timed out")
		return ctx.Err()
	}
}

// Submit queues a job. callback, if set, receives the job's result exactly
// once, from a worker goroutine.
func (wp *WorkerPool) Submit(ctx context.Context, job *Job, callback func(error)) {
	select {
	case <-wp.quit:
		if callback != nil {
			callback(ErrShuttingDown)
		}
		return
	default:
	}

	atomic.AddInt32(&wp.queuedJobs, 1)

	wrapper := &jobWrapper{job: job, callback: callback, ctx: ctx}

	select {
	case wp.jobQueue <- wrapper:
	case <-ctx.Done():
		atomic.AddInt32(&wp.queuedJobs, -1)
		if callback != nil {
			callback(ctx.Err())
		}
	case <-wp.quit:
		atomic.AddInt32(&wp.queuedJobs, -1)
		if callback != nil {
			callback(ErrShuttingDown)
		}
	}
}

// GetStats returns current worker pool statistics
func (wp *WorkerPool) GetStats() *WorkerPoolStats {
	completed := atomic.LoadInt64(&wp.completedJobs)
	failed := atomic.LoadInt64(&wp.failedJobs)

	avg := time.Duration(0)
	if n := completed + failed; n > 0 {
		avg = time.Duration(atomic.LoadInt64(&wp.totalJobTime) / n)
	}

	return &WorkerPoolStats{
		ActiveWorkers:  int(atomic.LoadInt32(&wp.activeWorkers)),
		QueuedJobs:     int(atomic.LoadInt32(&wp.queuedJobs)),
		CompletedJobs:  completed,
		FailedJobs:     failed,
		AvgJobDuration: avg,
	}
}

func (wp *WorkerPool) dispatch() {
	defer wp.wg.Done()

	for {
		select {
		case job := <-wp.jobQueue:
			atomic.AddInt32(&wp.queuedJobs, -1)

			select {
			case jobChannel := <-wp.workerQueue:
				select {
				case jobChannel <- job:
				case <-wp.quit:
					job.finish(ErrShuttingDown)
					return
				}
			case <-wp.quit:
				job.finish(ErrShuttingDown)
				return
			}

		case <-wp.quit:
			return
		}
	}
}

func (jw *jobWrapper) finish(err error) {
	if jw.callback != nil {
		jw.callback(err)
	}
}

func (w *worker) start() {
	defer w.pool.wg.Done()
	defer atomic.AddInt32(&w.pool.activeWorkers, -1)

	for {
		// buffered to workerCount, so this never blocks
		w.workerQueue <- w.jobChannel

		select {
		case job := <-w.jobChannel:
			w.process(job)
		case <-w.pool.quit:
			return
		}
	}
}

func (w *worker) process(jw *jobWrapper) {
	start := time.Now()
	log := w.pool.logger.With("worker_id", w.id, "job_id", jw.job.ID, "job", jw.job.Name)

	var err error
	if w.pool.rateLimiter != nil {
		if werr := w.pool.rateLimiter.Wait(jw.ctx); werr != nil {
			err = fmt.Errorf("rate limiting failed: %w", werr)
		}
	}
	if err == nil {
		err = jw.ctx.Err()
	}
	if err == nil {
		err = w.runJob(jw)
	}

	duration := time.Since(start)
	atomic.AddInt64(&w.pool.totalJobTime, duration.Nanoseconds())
	if err != nil {
		atomic.AddInt64(&w.pool.failedJobs, 1)
		log.Debug("job failed", "error", err, "duration", duration)
	} else {
		atomic.AddInt64(&w.pool.completedJobs, 1)
		log.Debug("job completed", "duration", duration)
	}

	jw.finish(err)
}

func (w *worker) runJob(jw *jobWrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", jw.job.Name, r)
		}
	}()
	return jw.job.Run(jw.ctx)
}

// RunAll starts a pool, runs every job and stops the pool. The returned slice
// holds each job's error at the job's index.
func RunAll(ctx context.Context, workers int, limiter *rate.Limiter, logger *slog.Logger, jobs []*Job) []error {
	errs := make([]error, len(jobs))
	if len(jobs) == 0 {
		return errs
	}

	pool := NewWorkerPool(workers, limiter, logger)
	if err := pool.Start(ctx); err != nil {
		for i := range errs {
			errs[i] = err
		}
		return errs
	}

	var wg sync.WaitGroup
	for i, job := range jobs {
		i := i
		wg.Add(1)
		pool.Submit(ctx, job, func(err error) {
			errs[i] = err
			wg.Done()
		})
	}
	wg.Wait()

	_ = pool.Stop(context.Background())
	return errs
}
