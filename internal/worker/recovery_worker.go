package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/ilp-connector/internal/observability"
	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Recoverer resumes transfers that are persisted but not being driven.
type Recoverer interface {
	Recover(ctx context.Context) (int, error)
}

// RecoveryWorker periodically sweeps the store for non-terminal transfers no
// goroutine owns, such as those written by a process that died, and hands
// them back to the connector.
type RecoveryWorker struct {
	svc       Recoverer
	interval  time.Duration
	scheduler *gocron.Scheduler
	stopOnce  sync.Once
}

// NewRecoveryWorker constructs a worker with a default 30s interval.
func NewRecoveryWorker(svc Recoverer) *RecoveryWorker {
	return &RecoveryWorker{
		svc:       svc,
		interval:  30 * time.Second,
		scheduler: gocron.NewScheduler(time.UTC),
	}
}

// WithInterval updates the sweep interval.
func (w *RecoveryWorker) WithInterval(interval time.Duration) *RecoveryWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Run schedules the sweep and returns a stop function. The first sweep runs
// one interval from now; startup recovery is the caller's job.
func (w *RecoveryWorker) Run(ctx context.Context) (func(), error) {
	w.scheduler.SingletonModeAll()
	if _, err := w.scheduler.Every(w.interval).WaitForSchedule().Do(func() { _, _ = w.RunOnce(ctx) }); err != nil {
		return nil, fmt.Errorf("schedule recovery sweep: %w", err)
	}
	w.scheduler.StartAsync()
	zap.L().Info("recovery worker started", zap.Duration("interval", w.interval))

	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return w.Stop, nil
}

// Stop halts the scheduler. A sweep in progress finishes first.
func (w *RecoveryWorker) Stop() {
	w.stopOnce.Do(func() {
		w.scheduler.Stop()
		zap.L().Info("recovery worker stopped")
	})
}

// RunOnce performs a single sweep.
func (w *RecoveryWorker) RunOnce(ctx context.Context) (int, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	n, err := w.svc.Recover(ctx)
	if err != nil {
		observability.IncrementWorkerRun("recovery", "failed")
		zap.L().Error("recovery sweep failed", zap.Error(err))
		return 0, err
	}
	observability.IncrementWorkerRun("recovery", "success")
	if n > 0 {
		zap.L().Info("recovery sweep resumed transfers", zap.Int("count", n))
	}
	return n, nil
}
