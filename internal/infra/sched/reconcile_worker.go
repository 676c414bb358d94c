package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"pdf2md/internal/config"
	"pdf2md/internal/domain/ports/repository"
	"pdf2md/internal/infra/metrics"
	"pdf2md/internal/usecase"
)

// ReconcileWorker periodically drives the supervisor sweep. The sweep is
// idempotent, so overlapping instances across supervisor replicas are safe.
type ReconcileWorker struct {
	sup   usecase.SupervisorUseCase
	queue repository.TaskQueue
	cfg   config.PipelineConfig
	log   *zerolog.Logger
}

func NewReconcileWorker(sup usecase.SupervisorUseCase, queue repository.TaskQueue, cfg config.PipelineConfig, logger *zerolog.Logger) *ReconcileWorker {
	l := logger.With().Str("component", "ReconcileWorker").Logger()
	return &ReconcileWorker{sup: sup, queue: queue, cfg: cfg, log: &l}
}

// Start runs the sweep loop until the context is canceled.
// This should be run in a goroutine.
func (w *ReconcileWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.cfg.SweepInterval).Msg("reconcile worker started")
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	// One immediate pass so restarts pick up orphaned work without waiting.
	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("reconcile worker stopping")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *ReconcileWorker) runOnce(ctx context.Context) {
	start := time.Now()
	advanced, err := w.sup.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("sweep failed")
		}
		return
	}
	if advanced > 0 {
		w.log.Info().Int("advanced", advanced).Dur("duration", time.Since(start)).Msg("sweep finished")
	}

	if depth, err := w.queue.Depth(ctx); err == nil {
		metrics.SetQueueDepth(depth)
	}
}
