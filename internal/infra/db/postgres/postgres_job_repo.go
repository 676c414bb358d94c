package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"pdf2md/internal/domain"
	"pdf2md/internal/domain/model"
	"pdf2md/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

const jobColumns = `id, status, source_ref, source_hash, page_count, options, result_ref,
failure_kind, last_error, callback_url, callback_fired, cancel_requested, created_at, updated_at`

func (r *jobRepo) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.UpdatedAt = time.Now()

	opts, err := json.Marshal(job.Options)
	if err != nil {
		return err
	}

	// cancel_requested and callback_fired are owned by their CAS updates and
	// must not be overwritten from a possibly stale in-memory copy.
	const q = `
INSERT INTO jobs (id, status, source_ref, source_hash, page_count, options, result_ref,
  failure_kind, last_error, callback_url, callback_fired, cancel_requested, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  page_count = EXCLUDED.page_count,
  result_ref = EXCLUDED.result_ref,
  failure_kind = EXCLUDED.failure_kind,
  last_error = EXCLUDED.last_error,
  updated_at = EXCLUDED.updated_at;`

	_, err = execSQL(ctx, r.pool, tx, q,
		job.ID, job.Status, job.SourceRef, job.SourceHash, job.PageCount, opts, job.ResultRef,
		job.Failure, job.LastError, job.CallbackURL, job.CallbackFired, job.CancelRequested,
		job.CreatedAt, job.UpdatedAt)
	return err
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var status, failure string
	var opts []byte
	err := row.Scan(&j.ID, &status, &j.SourceRef, &j.SourceHash, &j.PageCount, &opts, &j.ResultRef,
		&failure, &j.LastError, &j.CallbackURL, &j.CallbackFired, &j.CancelRequested,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	j.Status = model.JobStatus(status)
	j.Failure = model.FailureKind(failure)
	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &j.Options); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return &j, nil
}

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1;`, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) FindBySourceHash(ctx context.Context, hash string) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, nil,
		`SELECT `+jobColumns+` FROM jobs WHERE source_hash = $1 ORDER BY created_at DESC LIMIT 1;`, hash)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) listJobs(ctx context.Context, q string, args ...interface{}) ([]*model.Job, error) {
	rows, err := pickRows(ctx, r.pool, nil, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *jobRepo) ListNonTerminal(ctx context.Context) ([]*model.Job, error) {
	return r.listJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status NOT IN ('completed', 'failed') ORDER BY created_at;`)
}

func (r *jobRepo) ListCallbackPending(ctx context.Context) ([]*model.Job, error) {
	return r.listJobs(ctx, `
SELECT `+jobColumns+` FROM jobs
WHERE status IN ('completed', 'failed') AND callback_fired = FALSE AND callback_url <> ''
ORDER BY created_at;`)
}

func (r *jobRepo) ListRecent(ctx context.Context, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.listJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT $1;`, limit)
}

func (r *jobRepo) TransitionStatus(ctx context.Context, tx repository.Tx, id string, from, to model.JobStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, domain.ErrInvalidTransition
	}
	tag, err := execSQL(ctx, r.pool, tx,
		`UPDATE jobs SET status = $3, updated_at = now() WHERE id = $1 AND status = $2;`,
		id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *jobRepo) MarkFailed(ctx context.Context, tx repository.Tx, id string, kind model.FailureKind, errMsg string) (bool, error) {
	tag, err := execSQL(ctx, r.pool, tx, `
UPDATE jobs SET status = 'failed', failure_kind = $2, last_error = $3, updated_at = now()
WHERE id = $1 AND status NOT IN ('completed', 'failed');`,
		id, kind, errMsg)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *jobRepo) MarkCallbackFired(ctx context.Context, id string) (bool, error) {
	tag, err := execSQL(ctx, r.pool, nil,
		`UPDATE jobs SET callback_fired = TRUE, updated_at = now() WHERE id = $1 AND callback_fired = FALSE;`,
		id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *jobRepo) RequestCancel(ctx context.Context, id string) error {
	tag, err := execSQL(ctx, r.pool, nil,
		`UPDATE jobs SET cancel_requested = TRUE, updated_at = now()
WHERE id = $1 AND status NOT IN ('completed', 'failed');`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *jobRepo) SetResultRef(ctx context.Context, tx repository.Tx, id, resultRef string) error {
	_, err := execSQL(ctx, r.pool, tx,
		`UPDATE jobs SET result_ref = $2, updated_at = now() WHERE id = $1;`, id, resultRef)
	return err
}
