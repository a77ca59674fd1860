package scheduler

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-streak-analyzer/internal/config"
	"github.com/johnayoung/go-streak-analyzer/internal/logger"
)

func testLogger(buf *bytes.Buffer) *logger.ComponentLogger {
	cfg := config.LoggingConfig{Level: "debug", Format: "json"}
	return logger.NewLoggerManagerWithWriter(cfg, buf).GetComponentLogger("scheduler")
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New("every day", func(context.Context) error { return nil }, testLogger(&bytes.Buffer{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")

	// five fields are rejected when seconds are required
	_, err = New("30 0 * * *", func(context.Context) error { return nil }, testLogger(&bytes.Buffer{}))
	assert.Error(t, err)
}

func TestNew_RequiresTask(t *testing.T) {
	_, err := New(DefaultSpec, nil, testLogger(&bytes.Buffer{}))
	assert.Error(t, err)
}

func TestRun_RunNow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	s, err := New("0 0 0 1 1 *", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		assert.NotEmpty(t, logger.GetJobID(ctx))
		cancel()
		return nil
	}, testLogger(&bytes.Buffer{}))
	require.NoError(t, err)

	require.NoError(t, s.Run(ctx, true))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	stats := s.GetStats()
	assert.Equal(t, int64(1), stats.Runs)
	assert.Zero(t, stats.Failures)
	assert.False(t, stats.LastRun.IsZero())

	assert.ErrorIs(t, s.Run(ctx, true), ErrAlreadyRunning)
}

func TestRun_TriggersOnSchedule(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var calls int32
	boom := errors.New("exchange unavailable")
	var buf bytes.Buffer
	s, err := New("* * * * * *", func(context.Context) error {
		if atomic.AddInt32(&calls, 1) >= 2 {
			cancel()
		}
		return boom
	}, testLogger(&buf))
	require.NoError(t, err)

	require.NoError(t, s.Run(ctx, false))
	require.ErrorIs(t, ctx.Err(), context.Canceled, "schedule did not fire twice in time")

	stats := s.GetStats()
	assert.GreaterOrEqual(t, stats.Runs, int64(2))
	assert.Equal(t, stats.Runs, stats.Failures)
	assert.ErrorIs(t, stats.LastErr, boom)
	assert.Contains(t, buf.String(), "operation failed")
	assert.Contains(t, buf.String(), "scheduler stopped")
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	s, err := New(DefaultSpec, func(context.Context) error { return nil }, testLogger(&bytes.Buffer{}))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, false) }()

	assert.Eventually(t, func() bool { return !s.Next().IsZero() }, time.Second, 10*time.Millisecond)
	next := s.Next()
	assert.Equal(t, 30, next.Minute())
	assert.Equal(t, 0, next.Hour())
	assert.Equal(t, time.UTC, next.Location())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Zero(t, s.GetStats().Runs)
}
