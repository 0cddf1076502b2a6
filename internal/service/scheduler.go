package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wallet-tracker/internal/config"
	apperrors "github.com/wallet-tracker/internal/errors"
	"github.com/wallet-tracker/internal/logging"
	"github.com/wallet-tracker/internal/retry"
)

// RunFunc is one scheduled collect-and-store invocation
type RunFunc func(ctx context.Context, pageCount int) error

// Scheduler fires RunFunc once a day at RunHourUTC (or every Interval when set).
// It holds at most one job; Start replaces it and Stop cancels it. A trigger
// that fires while the previous run is still active is skipped.
type Scheduler struct {
	run    RunFunc
	config config.SchedulerConfig
	now    func() time.Time

	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	pageCount int

	inFlight atomic.Bool
	fired    atomic.Int64
	skipped  atomic.Int64
}

// SchedulerStatus is a point-in-time view of the scheduler
type SchedulerStatus struct {
	Running   bool       `json:"running"`
	PageCount int        `json:"pageCount,omitempty"`
	NextRun   *time.Time `json:"nextRun,omitempty"`
	InFlight  bool       `json:"inFlight"`
	Fired     int64      `json:"fired"`
	Skipped   int64      `json:"skipped"`
}

// NewScheduler creates an idle scheduler
func NewScheduler(run RunFunc, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		run:    run,
		config: cfg,
		now:    time.Now,
	}
}

// PipelineRunFunc adapts a pipeline to the scheduler
func PipelineRunFunc(p *Pipeline) RunFunc {
	return func(ctx context.Context, pageCount int) error {
		_, err := p.Run(ctx, pageCount)
		return err
	}
}

// Start registers the recurring job, replacing any existing one
func (s *Scheduler) Start(ctx context.Context, pageCount int) error {
	if pageCount < 1 {
		return apperrors.NewInvalidParameterError("pages", "must be at least 1")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		logging.FromContext(ctx).Info("Replacing existing collection schedule")
		s.stopLocked()
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.pageCount = pageCount

	s.wg.Add(1)
	go s.loop(jobCtx, pageCount)

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"pages":   pageCount,
		"nextRun": s.nextRun(s.now()).Format(time.RFC3339),
	}).Info("Collection scheduler started")
	return nil
}

// Stop cancels the job and waits for the background goroutines to exit.
// Stopping an idle scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.stopLocked()
	logging.Info("Collection scheduler stopped")
}

func (s *Scheduler) stopLocked() {
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
	s.pageCount = 0
}

// Status reports the scheduler state
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SchedulerStatus{
		Running:   s.cancel != nil,
		PageCount: s.pageCount,
		InFlight:  s.inFlight.Load(),
		Fired:     s.fired.Load(),
		Skipped:   s.skipped.Load(),
	}
	if status.Running {
		next := s.nextRun(s.now())
		status.NextRun = &next
	}
	return status
}

// nextRun returns the next trigger time after now
func (s *Scheduler) nextRun(now time.Time) time.Time {
	if s.config.Interval > 0 {
		return now.Add(s.config.Interval)
	}

	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.config.RunHourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s *Scheduler) loop(ctx context.Context, pageCount int) {
	defer s.wg.Done()

	for {
		wait := s.nextRun(s.now()).Sub(s.now())
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.fire(ctx, pageCount)
		}
	}
}

// fire starts one run unless another is still active
func (s *Scheduler) fire(ctx context.Context, pageCount int) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		logging.FromContext(ctx).Warn("Skipping scheduled collection: previous run still active")
		return
	}
	s.fired.Add(1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		s.execute(ctx, pageCount)
	}()
}

// execute runs the job with retries; failures are logged and never escape
func (s *Scheduler) execute(ctx context.Context, pageCount int) {
	logger := logging.FromContext(ctx).WithField("pages", pageCount)

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", fmt.Sprint(r)).Error("Scheduled collection panicked")
		}
	}()

	retryConfig := retry.DefaultRetryConfig()
	retryConfig.MaxAttempts = s.config.MaxAttempts
	if s.config.InitialDelay > 0 {
		retryConfig.InitialDelay = s.config.InitialDelay
	}
	retryConfig.ShouldRetry = shouldRetryRun

	logger.Info("Scheduled collection starting")
	result := retry.WithExponentialBackoff(ctx, retryConfig, func(ctx context.Context, attempt int) error {
		return s.run(ctx, pageCount)
	})

	if err := result.Err(); err != nil {
		logger.WithError(err).Error("Scheduled collection failed")
		return
	}
	logger.WithField("attempts", result.Attempts).Info("Scheduled collection completed")
}

// shouldRetryRun retries transport and store failures and empty collections
func shouldRetryRun(err error) bool {
	if errors.Is(err, ErrRunInProgress) {
		return false
	}
	return errors.Is(err, ErrNoWallets) || apperrors.IsRetryable(err)
}
