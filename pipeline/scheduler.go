package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Cycler runs one cycle.
type Cycler interface {
	RunCycle(ctx context.Context) *Report
}

// Scheduler runs cycles back to back with a fixed wait between them.
type Scheduler struct {
	cycler   Cycler
	interval time.Duration
	clock    clock.Clock
	logger   *zap.SugaredLogger

	stopped  atomic.Bool
	cycles   atomic.Uint64
	wake     chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a scheduler. A nil clock uses wall time.
func NewScheduler(cycler Cycler, interval time.Duration, c clock.Clock, logger *zap.SugaredLogger) (*Scheduler, error) {
	if cycler == nil {
		return nil, errors.New("scheduler requires a cycler")
	}
	if interval <= 0 {
		return nil, errors.Errorf("interval must be positive, got %s", interval)
	}
	if c == nil {
		c = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Scheduler{
		cycler:   cycler,
		interval: interval,
		clock:    c,
		logger:   logger,
		wake:     make(chan struct{}),
	}, nil
}

// Run executes cycles until Stop is called or ctx is done.
//
// Cancellation only interrupts the wait between cycles: a cycle that has
// started runs to completion.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Infow("scheduler started", "interval", s.interval)
	defer s.logger.Infow("scheduler stopped", "cycles", s.cycles.Load())

	for {
		if s.stopped.Load() || ctx.Err() != nil {
			return nil
		}

		report := s.cycler.RunCycle(context.WithoutCancel(ctx))
		n := s.cycles.Inc()
		s.logger.Infow("cycle finished",
			"n", n,
			"status", report.Status,
			"state", report.State(),
			"failures", len(report.Failures),
			"inference", report.Inference,
		)

		if s.stopped.Load() {
			return nil
		}

		timer := s.clock.Timer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-s.wake:
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Stop ends Run after the current cycle. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		close(s.wake)
	})
}

// Cycles returns the number of completed cycles.
func (s *Scheduler) Cycles() uint64 {
	return s.cycles.Load()
}
