// Package scheduler runs the snapshot refresh on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/johnayoung/go-streak-analyzer/internal/logger"
)

// DefaultSpec fires at 00:30:00 UTC, shortly after the daily candle closes.
const DefaultSpec = "0 30 0 * * *"

// ErrAlreadyRunning is returned by Run on a scheduler that was already run.
var ErrAlreadyRunning = errors.New("scheduler already running")

// Task is the scheduled work, normally a fetch over every pair.
type Task func(ctx context.Context) error

// Stats counts task executions.
type Stats struct {
	Runs     int64
	Failures int64
	LastRun  time.Time
	LastErr  error
}

// Scheduler triggers a Task on a cron spec with a seconds field, evaluated
// in UTC. Overlapping triggers are skipped while a run is in progress.
type Scheduler struct {
	cron   *cron.Cron
	entry  cron.EntryID
	task   Task
	logger *logger.ComponentLogger

	ctx     context.Context
	started int32

	runs     int64
	failures int64
	mu       sync.Mutex
	lastRun  time.Time
	lastErr  error
}

// New parses spec and registers task. An empty spec means DefaultSpec.
func New(spec string, task Task, l *logger.ComponentLogger) (*Scheduler, error) {
	if task == nil {
		return nil, errors.New("scheduler requires a task")
	}
	if spec == "" {
		spec = DefaultSpec
	}

	s := &Scheduler{task: task, logger: l}
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{l.Logger})),
	)

	id, err := s.cron.AddFunc(spec, s.execute)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// task in progress to return. With runNow the task runs once before the
// schedule starts.
func (s *Scheduler) Run(ctx context.Context, runNow bool) error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return ErrAlreadyRunning
	}
	s.ctx = ctx

	if runNow {
		s.execute()
	}
	if ctx.Err() != nil {
		return nil
	}

	s.cron.Start()
	s.logger.InfoWithContext(ctx, "scheduler started", "next_run", s.Next())

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.InfoWithContext(ctx, "scheduler stopped", "runs", atomic.LoadInt64(&s.runs))
	return nil
}

// Next returns the next trigger time, or the zero time before Run.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// GetStats returns execution counters.
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Runs:     atomic.LoadInt64(&s.runs),
		Failures: atomic.LoadInt64(&s.failures),
		LastRun:  s.lastRun,
		LastErr:  s.lastErr,
	}
}

func (s *Scheduler) execute() {
	ctx := logger.WithJobID(logger.WithOperation(s.ctx, "scheduled_fetch"), uuid.NewString())

	started := time.Now()
	err := s.logger.LogOperation(ctx, "scheduled_fetch", func() error {
		return s.task(ctx)
	})

	atomic.AddInt64(&s.runs, 1)
	if err != nil {
		atomic.AddInt64(&s.failures, 1)
	}
	s.mu.Lock()
	s.lastRun = started
	s.lastErr = err
	s.mu.Unlock()
}

// cronLogger adapts slog to cron's logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
