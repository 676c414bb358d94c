package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pdf2md/internal/config"
	"pdf2md/internal/domain"
	"pdf2md/internal/domain/model"
	"pdf2md/internal/domain/ports/adapter"
	"pdf2md/internal/domain/ports/repository"
	"pdf2md/internal/infra/metrics"
)

// PageProcessor is the chunk worker: it leases one page task at a time,
// invokes the page extractor, and persists the outcome. Every state-mutating
// write is guarded by the lease token, so a worker that outlived its lease
// can never clobber a result produced by a second attempt.
type PageProcessor struct {
	queue     repository.TaskQueue
	tasks     repository.PageTaskRepository
	jobs      repository.JobRepository
	store     repository.ObjectStore
	extractor adapter.PageExtractor
	cfg       config.PipelineConfig
	workerID  string
	log       *zerolog.Logger
}

func NewPageProcessor(
	queue repository.TaskQueue,
	tasks repository.PageTaskRepository,
	jobs repository.JobRepository,
	store repository.ObjectStore,
	extractor adapter.PageExtractor,
	cfg config.PipelineConfig,
	logger *zerolog.Logger,
) *PageProcessor {
	workerID := uuid.NewString()
	l := logger.With().Str("component", "PageProcessor").Str("worker_id", workerID).Logger()
	return &PageProcessor{
		queue: queue, tasks: tasks, jobs: jobs, store: store,
		extractor: extractor, cfg: cfg, workerID: workerID, log: &l,
	}
}

// Start runs a loop that feeds the pool with dequeue attempts.
// This should be run in a goroutine.
func (p *PageProcessor) Start(ctx context.Context, pool *Pool) {
	p.log.Info().Msg("page processor started")
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("page processor stopping")
			return
		case <-ticker.C:
			_ = pool.Submit(func(ctx context.Context) error {
				p.processOne(ctx)
				return nil
			})
		}
	}
}

func (p *PageProcessor) processOne(ctx context.Context) {
	taskID, err := p.queue.Dequeue(ctx, p.cfg.DequeueTimeout)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) && ctx.Err() == nil {
			p.log.Error().Err(err).Msg("dequeue failed")
		}
		return
	}
	p.handleDelivery(ctx, taskID)
}

func (p *PageProcessor) handleDelivery(ctx context.Context, taskID string) {
	token := uuid.NewString()
	ok, err := p.tasks.MarkLeased(ctx, taskID, token, time.Now().Add(p.cfg.LeaseTTL))
	if err != nil {
		// The task row never became leased, so nothing will LREM this
		// delivery for us. Put it back on pending instead of leaking it
		// on the processing list.
		p.log.Error().Err(err).Str("task_id", taskID).Msg("lease claim failed")
		_ = p.queue.Requeue(ctx, taskID)
		return
	}
	if !ok {
		// Another delivery won, or the task is already terminal.
		_ = p.queue.Ack(ctx, taskID)
		return
	}

	task, err := p.tasks.FindByID(ctx, nil, taskID)
	if err != nil {
		p.log.Error().Err(err).Str("task_id", taskID).Msg("fetch leased task failed")
		return // lease expires, reconcile requeues
	}
	job, err := p.jobs.FindByID(ctx, nil, task.JobID)
	if err != nil {
		p.log.Error().Err(err).Str("task_id", taskID).Msg("fetch owning job failed")
		return
	}
	if job.Status.Terminal() || job.CancelRequested {
		_ = p.queue.Ack(ctx, taskID)
		return
	}

	p.process(ctx, job, task, token)
}

func (p *PageProcessor) process(ctx context.Context, job *model.Job, task *model.PageTask, token string) {
	log := p.log.With().Str("task_id", task.ID).Str("job_id", job.ID).Int("page", task.PageNumber).Logger()

	procCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var leaseLost atomic.Bool
	go p.heartbeat(procCtx, task.ID, token, &leaseLost, cancel)

	data, err := p.store.Get(procCtx, task.ImageRef)
	if err != nil {
		// Transient store trouble does not burn an attempt: let the lease
		// lapse so reconcile hands the page out again.
		log.Error().Err(err).Msg("fetch page object failed")
		return
	}

	start := time.Now()
	md, err := p.extractor.Extract(procCtx, adapter.ExtractRequest{
		Data:     data,
		MIMEType: "application/pdf",
		Model:    job.Options.Model,
		Prompt:   job.Options.Prompt,
	})
	latency := time.Since(start)

	if leaseLost.Load() {
		// Reconcile reclaimed the task mid-flight: this worker was presumed
		// dead, and a second attempt may already be running. Discard.
		log.Warn().Msg("lease lost during extraction, discarding result")
		metrics.IncLeaseLost()
		metrics.IncTaskOutcome("discarded")
		return
	}
	if ctx.Err() != nil {
		return // shutting down
	}

	if err != nil {
		metrics.ObserveExtract(providerOf(job.Options.Model), latency, false)
		log.Warn().Err(err).Dur("duration", latency).Msg("extraction failed")
		p.recordFailure(ctx, task, token, err)
		return
	}
	metrics.ObserveExtract(providerOf(job.Options.Model), latency, true)

	resultKey := fmt.Sprintf("jobs/%s/pages/%05d.md", task.JobID, task.PageNumber)
	if err := p.store.Put(ctx, resultKey, []byte(md), "text/markdown"); err != nil {
		log.Error().Err(err).Msg("persist fragment failed")
		return // lease lapses, attempt not burned
	}

	ok, err := p.tasks.CompleteWithLease(ctx, task.ID, token, resultKey)
	if err != nil {
		log.Error().Err(err).Msg("complete task failed")
		return
	}
	if !ok {
		log.Warn().Msg("lease lost before completion write, discarding result")
		metrics.IncLeaseLost()
		metrics.IncTaskOutcome("discarded")
		return
	}

	_ = p.queue.Ack(ctx, task.ID)
	metrics.IncTaskOutcome("done")
	log.Info().Dur("duration", latency).Msg("page task done")
}

// heartbeat renews the lease while processing runs. A failed renewal means
// reconcile already reclaimed the task, so processing is aborted immediately.
func (p *PageProcessor) heartbeat(ctx context.Context, taskID, token string, leaseLost *atomic.Bool, cancel context.CancelFunc) {
	interval := p.cfg.LeaseTTL / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := p.tasks.ExtendLease(ctx, taskID, token, time.Now().Add(p.cfg.LeaseTTL))
			if err != nil {
				// Transient; the current lease may still be valid.
				p.log.Warn().Err(err).Str("task_id", taskID).Msg("lease renewal errored")
				continue
			}
			if !ok {
				leaseLost.Store(true)
				cancel()
				return
			}
		}
	}
}

func (p *PageProcessor) recordFailure(ctx context.Context, task *model.PageTask, token string, extractErr error) {
	updated, err := p.tasks.RecordFailure(ctx, task.ID, token, extractErr.Error())
	if err != nil {
		p.log.Error().Err(err).Str("task_id", task.ID).Msg("record failure failed")
		return // lease lapses, reconcile recovers
	}
	if updated == nil {
		metrics.IncLeaseLost()
		metrics.IncTaskOutcome("discarded")
		return
	}

	_ = p.queue.Ack(ctx, task.ID)
	if updated.Status == model.TaskStatusFailed {
		_ = p.queue.DeadLetter(ctx, task.ID)
		metrics.IncTaskOutcome("failed")
		p.log.Warn().Str("task_id", task.ID).Int("attempts", updated.AttemptCount).Msg("page task failed permanently")
		return
	}

	backoff := retryBackoff(p.cfg.RetryBackoff, updated.AttemptCount)
	if err := p.queue.EnqueueAfter(ctx, task.ID, backoff); err != nil {
		p.log.Warn().Err(err).Str("task_id", task.ID).Msg("retry enqueue failed, sweep will recover")
	}
	metrics.IncTaskOutcome("retried")
}

// retryBackoff doubles the base per prior attempt, capped at ten minutes.
func retryBackoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= 10*time.Minute {
			return 10 * time.Minute
		}
	}
	return d
}

func providerOf(model string) string {
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "gemini"):
		return "gemini"
	case strings.HasPrefix(l, "gpt"), strings.HasPrefix(l, "o"):
		return "openai"
	default:
		return "default"
	}
}
