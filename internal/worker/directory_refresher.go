package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/ilp-connector/internal/observability"
	"go.uber.org/zap"
)

type Refresher interface {
	Refresh(ctx context.Context) error
}

// DirectoryRefresher reloads the ledger directory on a fixed interval so that
// ledgers attached or detached in the backing source take effect without a
// restart.
type DirectoryRefresher struct {
	dir      Refresher
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewDirectoryRefresher(dir Refresher) *DirectoryRefresher {
	return &DirectoryRefresher{
		dir:      dir,
		interval: time.Minute,
		timeout:  10 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval sets the refresh interval.
func (w *DirectoryRefresher) WithInterval(interval time.Duration) *DirectoryRefresher {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and refreshes until Stop is called or ctx is done. A failed
// refresh keeps the previous snapshot.
func (w *DirectoryRefresher) Start(ctx context.Context) {
	zap.L().Info("directory refresher starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			_ = w.RefreshOnce(ctx)
		}
	}
}

func (w *DirectoryRefresher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Run starts the refresher in a goroutine and returns a stop function.
func (w *DirectoryRefresher) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// RefreshOnce reloads the directory immediately.
func (w *DirectoryRefresher) RefreshOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if err := w.dir.Refresh(ctx); err != nil {
		observability.IncrementWorkerRun("directory_refresh", "failed")
		zap.L().Warn("directory refresh failed, keeping previous snapshot", zap.Error(err))
		return err
	}
	observability.IncrementWorkerRun("directory_refresh", "success")
	return nil
}

func (w *DirectoryRefresher) String() string {
	return fmt.Sprintf("DirectoryRefresher(interval=%v)", w.interval)
}
