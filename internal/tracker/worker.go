package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Job is the work one worker pass performs. *Tracker satisfies it.
type Job interface {
	SyncAndAssess(ctx context.Context) (*BatchResult, error)
	UpdateAllBalances(ctx context.Context) (*BatchResult, error)
}

// Worker periodically re-syncs, re-assesses and re-values every wallet.
// A wallet whose providers were down on one pass is retried on the next.
type Worker struct {
	job      Job
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
	passes   atomic.Int64
}

// NewWorker creates a re-sync worker.
func NewWorker(job Job, interval time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		job:      job,
		interval: interval,
		logger:   logger.With("component", "tracker.worker"),
		stop:     make(chan struct{}, 1),
	}
}

// Running reports whether the loop is active.
func (w *Worker) Running() bool { return w.running.Load() }

// Passes returns the number of completed passes.
func (w *Worker) Passes() int64 { return w.passes.Load() }

// Start runs the loop until ctx is done or Stop is called. Call in a
// goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.running.Store(true)
	defer w.running.Store(false)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.safeRun(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *Worker) Stop() {
	select {
	case w.stop <- struct{}{}:
	default:
	}
}

func (w *Worker) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic in re-sync worker", "panic", fmt.Sprint(r))
		}
	}()
	defer w.passes.Add(1)

	start := time.Now()
	assessed, err := w.job.SyncAndAssess(ctx)
	if err != nil {
		w.logger.Warn("re-sync pass aborted", "error", err)
		return
	}
	valued, err := w.job.UpdateAllBalances(ctx)
	if err != nil {
		w.logger.Warn("balance pass aborted", "error", err)
		return
	}
	w.logger.Info("re-sync pass complete",
		"assessed", assessed.Processed, "assess_failed", assessed.Failed,
		"valued", valued.Processed, "value_failed", valued.Failed,
		"duration_ms", time.Since(start).Milliseconds())
}
