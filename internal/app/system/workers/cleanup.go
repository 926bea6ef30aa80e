// internal/app/system/workers/cleanup.go
package workers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CleanupFunc removes expired records and reports how many went.
type CleanupFunc func(ctx context.Context) (int64, error)

// Cleanup is a background worker that periodically purges expired records.
// Mongo TTL indexes remove them eventually; the worker covers the lag of
// the TTL monitor.
type Cleanup struct {
	name     string
	run      CleanupFunc
	log      *zap.Logger
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCleanup creates a cleanup worker named name that calls fn every interval.
func NewCleanup(name string, fn CleanupFunc, logger *zap.Logger, interval time.Duration) *Cleanup {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Cleanup{
		name:     name,
		run:      fn,
		log:      logger,
		interval: interval,
		timeout:  30 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background cleanup loop.
func (w *Cleanup) Start() {
	w.wg.Add(1)
	go w.loop()
	w.log.Info("cleanup worker started",
		zap.String("worker", w.name),
		zap.Duration("interval", w.interval))
}

// Stop signals the worker to stop and waits for it to finish. Safe to call
// more than once.
func (w *Cleanup) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.wg.Wait()
		w.log.Info("cleanup worker stopped", zap.String("worker", w.name))
	})
}

// RunOnce performs a single pass.
func (w *Cleanup) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	count, err := w.run(ctx)
	if err != nil {
		w.log.Error("cleanup failed", zap.String("worker", w.name), zap.Error(err))
		return
	}
	if count > 0 {
		w.log.Info("removed expired records", zap.String("worker", w.name), zap.Int64("count", count))
	}
}

func (w *Cleanup) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(context.Background())
		}
	}
}
