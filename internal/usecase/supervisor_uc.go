package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"pdf2md/internal/config"
	"pdf2md/internal/domain"
	"pdf2md/internal/domain/model"
	"pdf2md/internal/domain/ports/adapter"
	"pdf2md/internal/domain/ports/repository"
	"pdf2md/internal/infra/logging"
	"pdf2md/internal/infra/metrics"
)

// SupervisorUseCase drives every job to a terminal state exactly once while
// tolerating crashed or slow workers. All of its operations are idempotent
// and safe to re-run on the next sweep tick.
type SupervisorUseCase interface {
	// Sweep reconciles every non-terminal job once. It is the sole recovery
	// mechanism for orphaned leases and supervisor crashes.
	Sweep(ctx context.Context) (int, error)
	SplitJob(ctx context.Context, job *model.Job) error
	Reconcile(ctx context.Context, job *model.Job) error
}

var _ SupervisorUseCase = (*supervisorUC)(nil)

type supervisorUC struct {
	jobs     repository.JobRepository
	tasks    repository.PageTaskRepository
	queue    repository.TaskQueue
	store    repository.ObjectStore
	splitter adapter.PageSplitter
	notifier adapter.CompletionNotifier
	tm       repository.TransactionManager
	cfg      config.PipelineConfig
	log      *zerolog.Logger
}

func NewSupervisorUseCase(
	jobs repository.JobRepository,
	tasks repository.PageTaskRepository,
	queue repository.TaskQueue,
	store repository.ObjectStore,
	splitter adapter.PageSplitter,
	notifier adapter.CompletionNotifier,
	tm repository.TransactionManager,
	cfg config.PipelineConfig,
	logger *zerolog.Logger,
) *supervisorUC {
	l := logger.With().Str("component", "SupervisorUC").Logger()
	return &supervisorUC{
		jobs: jobs, tasks: tasks, queue: queue, store: store,
		splitter: splitter, notifier: notifier, tm: tm, cfg: cfg, log: &l,
	}
}

func (s *supervisorUC) Sweep(ctx context.Context) (int, error) {
	jobs, err := s.jobs.ListNonTerminal(ctx)
	if err != nil {
		return 0, err
	}

	advanced := 0
	for _, job := range jobs {
		var err error
		switch job.Status {
		case model.JobStatusQueued:
			err = s.SplitJob(ctx, job)
		case model.JobStatusSplitting:
			err = s.resumeSplit(ctx, job)
		default:
			err = s.Reconcile(ctx, job)
		}
		if err != nil {
			// Transient store or queue trouble: retried on the next tick,
			// never escalated to a job failure.
			s.log.Error().Err(err).Str("job_id", job.ID).Str("status", string(job.Status)).Msg("sweep step failed")
			continue
		}
		advanced++
	}

	// Terminal jobs fall out of the loop above, so callbacks lost to a crash
	// between the terminal transition and delivery are retried here.
	pending, err := s.jobs.ListCallbackPending(ctx)
	if err != nil {
		return advanced, err
	}
	for _, job := range pending {
		if err := s.fireCallback(ctx, job.ID); err != nil {
			s.log.Warn().Err(err).Str("job_id", job.ID).Msg("callback retry failed")
		}
	}
	return advanced, nil
}

func (s *supervisorUC) SplitJob(ctx context.Context, job *model.Job) error {
	ok, err := s.jobs.TransitionStatus(ctx, nil, job.ID, model.JobStatusQueued, model.JobStatusSplitting)
	if err != nil {
		return err
	}
	if !ok {
		return nil // another supervisor instance got there first
	}
	job.Status = model.JobStatusSplitting
	return s.performSplit(ctx, job)
}

// resumeSplit retries a split left behind by a supervisor that crashed
// mid-way. Page uploads and task inserts are idempotent, so re-running the
// whole split body is safe.
func (s *supervisorUC) resumeSplit(ctx context.Context, job *model.Job) error {
	if time.Since(job.UpdatedAt) < 2*s.cfg.SweepInterval {
		return nil // give the original split a chance to finish
	}
	s.log.Warn().Str("job_id", job.ID).Msg("resuming interrupted split")
	return s.performSplit(ctx, job)
}

func (s *supervisorUC) performSplit(ctx context.Context, job *model.Job) error {
	data, err := s.store.Get(ctx, job.SourceRef)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.failJob(ctx, job.ID, model.FailureSplit, fmt.Sprintf("source %s disappeared", job.SourceRef))
		}
		return err
	}

	keys, err := s.splitter.Split(ctx, job.ID, data)
	if err != nil {
		if errors.Is(err, domain.ErrSplitFailed) {
			return s.failJob(ctx, job.ID, model.FailureSplit, err.Error())
		}
		return err
	}

	maxAttempts := job.Options.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.MaxAttempts
	}
	tasks := make([]*model.PageTask, len(keys))
	for i, key := range keys {
		tasks[i] = model.NewPageTask(job.ID, i, key, maxAttempts)
	}

	err = s.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := s.tasks.SaveAll(ctx, tx, tasks); err != nil {
			return err
		}
		job.PageCount = len(keys)
		if err := s.jobs.Save(ctx, tx, job); err != nil {
			return err
		}
		_, err := s.jobs.TransitionStatus(ctx, tx, job.ID, model.JobStatusSplitting, model.JobStatusProcessing)
		return err
	})
	if err != nil {
		return err
	}

	for _, t := range tasks {
		if err := s.queue.Enqueue(ctx, t.ID); err != nil {
			// The stale-pending sweep re-enqueues anything lost here.
			s.log.Warn().Err(err).Str("task_id", t.ID).Msg("enqueue failed, sweep will recover")
		}
	}

	metrics.ObserveJobPages(len(keys))
	s.log.Info().Str("job_id", job.ID).Int("page_count", len(keys)).Msg("job split and fanned out")
	return nil
}

func (s *supervisorUC) Reconcile(ctx context.Context, job *model.Job) error {
	defer logging.TraceDuration(s.log, "SupervisorUC.Reconcile")()

	if job.CancelRequested {
		// In-flight tasks lapse naturally via lease expiry.
		return s.failJob(ctx, job.ID, model.FailureCanceled, domain.ErrJobCanceled.Error())
	}

	if err := s.reclaimOrphans(ctx, job); err != nil {
		return err
	}

	if job.PageCount == 0 {
		return nil
	}

	counts, err := s.tasks.CountByStatus(ctx, job.ID)
	if err != nil {
		return err
	}
	done := counts[model.TaskStatusDone]
	failed := counts[model.TaskStatusFailed]

	threshold := job.Options.FailureThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = s.cfg.FailureThreshold
	}
	if float64(failed)/float64(job.PageCount) > threshold {
		// Short-circuit: no point waiting for the remaining pages.
		return s.failJob(ctx, job.ID, model.FailurePartial,
			fmt.Sprintf("%d of %d pages failed permanently", failed, job.PageCount))
	}

	if done+failed == job.PageCount {
		return s.assemble(ctx, job)
	}
	return nil
}

func (s *supervisorUC) reclaimOrphans(ctx context.Context, job *model.Job) error {
	reclaimed, err := s.tasks.ReclaimExpired(ctx, job.ID, time.Now())
	if err != nil {
		return err
	}
	for _, t := range reclaimed {
		s.log.Warn().Str("task_id", t.ID).Int("page", t.PageNumber).Msg("lease expired, requeueing task")
		if err := s.queue.Requeue(ctx, t.ID); err != nil {
			s.log.Warn().Err(err).Str("task_id", t.ID).Msg("requeue failed, sweep will recover")
		}
	}
	if len(reclaimed) > 0 {
		metrics.AddLeasesReclaimed(len(reclaimed))
	}

	stale, err := s.tasks.ListStalePending(ctx, job.ID, time.Now().Add(-s.cfg.StalePendingAfter))
	if err != nil {
		return err
	}
	for _, t := range stale {
		// Duplicate deliveries are harmless: the lease CAS admits one winner.
		if err := s.queue.Enqueue(ctx, t.ID); err != nil {
			s.log.Warn().Err(err).Str("task_id", t.ID).Msg("re-enqueue of stale task failed")
		}
	}
	return nil
}

func (s *supervisorUC) assemble(ctx context.Context, job *model.Job) error {
	ok, err := s.jobs.TransitionStatus(ctx, nil, job.ID, model.JobStatusProcessing, model.JobStatusAssembling)
	if err != nil {
		return err
	}
	if !ok {
		// A previous pass may have crashed mid-assembly; pick it back up
		// only if the job is actually sitting in Assembling.
		fresh, err := s.jobs.FindByID(ctx, nil, job.ID)
		if err != nil {
			return err
		}
		if fresh.Status != model.JobStatusAssembling {
			return nil
		}
	}

	tasks, err := s.tasks.ListByJob(ctx, job.ID)
	if err != nil {
		return err
	}

	result, err := BuildResult(ctx, job, tasks, s.store.Get)
	if err != nil {
		if errors.Is(err, domain.ErrConsistency) {
			s.log.Error().Err(err).Str("job_id", job.ID).Msg("consistency error during assembly")
			return s.failJob(ctx, job.ID, model.FailureConsistency, err.Error())
		}
		return err
	}

	resultKey := fmt.Sprintf("jobs/%s/result.md", job.ID)
	if err := s.store.Put(ctx, resultKey, []byte(result.Markdown()), "text/markdown"); err != nil {
		return err
	}
	if err := s.jobs.SetResultRef(ctx, nil, job.ID, resultKey); err != nil {
		return err
	}

	if _, err := s.jobs.TransitionStatus(ctx, nil, job.ID, model.JobStatusAssembling, model.JobStatusCompleted); err != nil {
		return err
	}

	metrics.IncJobFinished(string(model.JobStatusCompleted), "")
	s.log.Info().Str("job_id", job.ID).
		Int("fragments", len(result.Fragments)).
		Int("page_errors", len(result.PageErrors)).
		Msg("job completed")
	return s.fireCallback(ctx, job.ID)
}

func (s *supervisorUC) failJob(ctx context.Context, jobID string, kind model.FailureKind, errMsg string) error {
	ok, err := s.jobs.MarkFailed(ctx, nil, jobID, kind, errMsg)
	if err != nil {
		return err
	}
	if ok {
		metrics.IncJobFinished(string(model.JobStatusFailed), string(kind))
		s.log.Warn().Str("job_id", jobID).Str("failure", string(kind)).Str("error", errMsg).Msg("job failed")
	}
	return s.fireCallback(ctx, jobID)
}

// fireCallback delivers the completion callback and then flips the persisted
// flag with a compare-and-set. The flag is only burned after a successful
// delivery, so transient endpoint trouble is retried on the next sweep. Two
// supervisors racing through the pre-check can deliver twice; the receiver
// sees at-least-once, never zero.
func (s *supervisorUC) fireCallback(ctx context.Context, jobID string) error {
	job, err := s.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		return err
	}
	if !job.Status.Terminal() || job.CallbackFired || job.CallbackURL == "" {
		return nil
	}

	ev := adapter.CompletionEvent{
		JobID:     job.ID,
		Status:    string(job.Status),
		ResultRef: job.ResultRef,
		Error:     job.LastError,
	}
	if err := s.notifier.Notify(ctx, job.CallbackURL, ev); err != nil {
		return fmt.Errorf("deliver completion callback: %w", err)
	}

	if _, err := s.jobs.MarkCallbackFired(ctx, jobID); err != nil {
		return err
	}
	return nil
}
