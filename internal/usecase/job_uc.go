package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"pdf2md/internal/config"
	"pdf2md/internal/domain"
	"pdf2md/internal/domain/model"
	"pdf2md/internal/domain/ports/repository"
	"pdf2md/internal/infra/metrics"
)

// JobUseCase is the intake and query surface of the pipeline.
type JobUseCase interface {
	Submit(ctx context.Context, sourceRef, callbackURL string, opts model.JobOptions) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	GetPages(ctx context.Context, id string) ([]*model.PageTask, error)
	GetResult(ctx context.Context, id string) ([]byte, error)
	Cancel(ctx context.Context, id string) error
	ListRecent(ctx context.Context, limit int) ([]*model.Job, error)
}

var _ JobUseCase = (*jobUC)(nil)

type jobUC struct {
	jobs  repository.JobRepository
	tasks repository.PageTaskRepository
	store repository.ObjectStore
	cfg   config.PipelineConfig
	log   *zerolog.Logger
}

func NewJobUseCase(
	jobs repository.JobRepository,
	tasks repository.PageTaskRepository,
	store repository.ObjectStore,
	cfg config.PipelineConfig,
	logger *zerolog.Logger,
) *jobUC {
	l := logger.With().Str("component", "JobUC").Logger()
	return &jobUC{jobs: jobs, tasks: tasks, store: store, cfg: cfg, log: &l}
}

func (u *jobUC) Submit(ctx context.Context, sourceRef, callbackURL string, opts model.JobOptions) (*model.Job, error) {
	if sourceRef == "" {
		return nil, fmt.Errorf("%w: source_ref is required", domain.ErrInvalidInput)
	}
	exists, err := u.store.Exists(ctx, sourceRef)
	if err != nil {
		return nil, fmt.Errorf("check source: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: source_ref %q does not resolve", domain.ErrInvalidInput, sourceRef)
	}

	// Fill pipeline defaults so the task rows carry concrete values.
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = u.cfg.MaxAttempts
	}
	if opts.FailureThreshold <= 0 || opts.FailureThreshold > 1 {
		opts.FailureThreshold = u.cfg.FailureThreshold
	}

	job := model.NewJob(sourceRef, callbackURL, opts)

	if opts.DedupeSource || u.cfg.DedupeSources {
		hash, err := u.hashSource(ctx, sourceRef)
		if err != nil {
			return nil, err
		}
		if existing, err := u.jobs.FindBySourceHash(ctx, hash); err == nil {
			u.log.Info().Str("job_id", existing.ID).Str("source_hash", hash).Msg("duplicate source, returning existing job")
			return existing, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		job.SourceHash = hash
	}

	if err := u.jobs.Save(ctx, nil, job); err != nil {
		return nil, err
	}
	metrics.IncJobSubmitted()
	u.log.Info().Str("job_id", job.ID).Str("source_ref", sourceRef).Msg("job submitted")
	return job, nil
}

func (u *jobUC) hashSource(ctx context.Context, sourceRef string) (string, error) {
	data, err := u.store.Get(ctx, sourceRef)
	if err != nil {
		return "", fmt.Errorf("read source for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (u *jobUC) Get(ctx context.Context, id string) (*model.Job, error) {
	return u.jobs.FindByID(ctx, nil, id)
}

func (u *jobUC) GetPages(ctx context.Context, id string) ([]*model.PageTask, error) {
	if _, err := u.jobs.FindByID(ctx, nil, id); err != nil {
		return nil, err
	}
	return u.tasks.ListByJob(ctx, id)
}

func (u *jobUC) GetResult(ctx context.Context, id string) ([]byte, error) {
	job, err := u.jobs.FindByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusCompleted || job.ResultRef == "" {
		return nil, domain.ErrNotFound
	}
	return u.store.Get(ctx, job.ResultRef)
}

func (u *jobUC) Cancel(ctx context.Context, id string) error {
	if err := u.jobs.RequestCancel(ctx, id); err != nil {
		return err
	}
	u.log.Info().Str("job_id", id).Msg("cancel requested")
	return nil
}

func (u *jobUC) ListRecent(ctx context.Context, limit int) ([]*model.Job, error) {
	return u.jobs.ListRecent(ctx, limit)
}
