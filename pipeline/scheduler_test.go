package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/nvr-ai/go-phase/journal"
)

type countingCycler struct {
	calls atomic.Int64
	// block, when set, holds every cycle until released.
	block   chan struct{}
	started chan struct{}
	ctxErr  atomic.Error
}

func (c *countingCycler) RunCycle(ctx context.Context) *Report {
	c.calls.Inc()
	if c.block != nil {
		c.started <- struct{}{}
		<-c.block
		c.ctxErr.Store(ctx.Err())
	}
	return &Report{Status: journal.StatusSuccess, Trace: []State{StateIdle, StateDone}}
}

func startScheduler(t *testing.T, ctx context.Context, s *Scheduler) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not return")
	}
}

func TestScheduler_WaitsIntervalBetweenCycles(t *testing.T) {
	defer goleak.VerifyNone(t)

	mock := clock.NewMock()
	cycler := &countingCycler{}
	s, err := NewScheduler(cycler, time.Hour, mock, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	done := startScheduler(t, context.Background(), s)

	require.Eventually(t, func() bool { return cycler.calls.Load() == 1 }, time.Second, time.Millisecond)
	mock.Add(30 * time.Minute)
	assert.Equal(t, int64(1), cycler.calls.Load())

	require.Eventually(t, func() bool {
		mock.Add(time.Hour)
		return cycler.calls.Load() >= 3
	}, time.Second, time.Millisecond)

	s.Stop()
	s.Stop()
	waitDone(t, done)
	assert.Equal(t, uint64(cycler.calls.Load()), s.Cycles())
}

func TestScheduler_ContextCancelInterruptsWait(t *testing.T) {
	defer goleak.VerifyNone(t)

	cycler := &countingCycler{}
	s, err := NewScheduler(cycler, time.Hour, clock.NewMock(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := startScheduler(t, ctx, s)
	require.Eventually(t, func() bool { return cycler.calls.Load() == 1 }, time.Second, time.Millisecond)

	cancel()
	waitDone(t, done)
	assert.Equal(t, int64(1), cycler.calls.Load())
}

func TestScheduler_InFlightCycleCompletes(t *testing.T) {
	defer goleak.VerifyNone(t)

	cycler := &countingCycler{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s, err := NewScheduler(cycler, time.Hour, clock.NewMock(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := startScheduler(t, ctx, s)
	<-cycler.started

	cancel()
	s.Stop()
	close(cycler.block)
	waitDone(t, done)

	assert.NoError(t, cycler.ctxErr.Load(), "the cycle context must outlive cancellation")
	assert.Equal(t, uint64(1), s.Cycles())
}

func TestScheduler_StoppedBeforeRun(t *testing.T) {
	cycler := &countingCycler{}
	s, err := NewScheduler(cycler, time.Minute, nil, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	s.Stop()
	require.NoError(t, s.Run(context.Background()))
	assert.Zero(t, cycler.calls.Load())
}

func TestScheduler_NilLogger(t *testing.T) {
	cycler := &countingCycler{}
	s, err := NewScheduler(cycler, time.Minute, clock.NewMock(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := startScheduler(t, ctx, s)
	require.Eventually(t, func() bool { return s.Cycles() == 1 }, time.Second, time.Millisecond)
	cancel()
	waitDone(t, done)
	assert.Equal(t, int64(1), cycler.calls.Load())
}

func TestNewScheduler(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	_, err := NewScheduler(nil, time.Minute, nil, logger)
	assert.Error(t, err)
	_, err = NewScheduler(&countingCycler{}, 0, nil, logger)
	assert.Error(t, err)
}
