package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"pdf2md/internal/domain"
	"pdf2md/internal/domain/model"
	"pdf2md/internal/domain/ports/repository"
)

var _ repository.PageTaskRepository = (*pageTaskRepo)(nil)

type pageTaskRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewPageTaskRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *pageTaskRepo {
	return &pageTaskRepo{pool: pool, tm: tm}
}

const taskColumns = `id, job_id, page_number, status, attempt_count, max_attempts,
image_ref, result_ref, last_error, lease_token, lease_expires_at, created_at, updated_at`

func (r *pageTaskRepo) SaveAll(ctx context.Context, tx repository.Tx, tasks []*model.PageTask) error {
	const q = `
INSERT INTO page_tasks (id, job_id, page_number, status, attempt_count, max_attempts,
  image_ref, result_ref, last_error, lease_token, lease_expires_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (job_id, page_number) DO NOTHING;`

	for _, t := range tasks {
		t.UpdatedAt = time.Now()
		_, err := execSQL(ctx, r.pool, tx, q,
			t.ID, t.JobID, t.PageNumber, t.Status, t.AttemptCount, t.MaxAttempts,
			t.ImageRef, t.ResultRef, t.LastError, t.LeaseToken, nullableTime(t.LeaseExpires),
			t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func scanTask(row pgx.Row) (*model.PageTask, error) {
	var t model.PageTask
	var status string
	var leaseExpires *time.Time
	err := row.Scan(&t.ID, &t.JobID, &t.PageNumber, &status, &t.AttemptCount, &t.MaxAttempts,
		&t.ImageRef, &t.ResultRef, &t.LastError, &t.LeaseToken, &leaseExpires,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	t.Status = model.TaskStatus(status)
	if leaseExpires != nil {
		t.LeaseExpires = *leaseExpires
	}
	return &t, nil
}

func (r *pageTaskRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PageTask, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+taskColumns+` FROM page_tasks WHERE id = $1;`, id)
	if err != nil {
		return nil, err
	}
	return scanTask(row)
}

func (r *pageTaskRepo) listTasks(ctx context.Context, q string, args ...interface{}) ([]*model.PageTask, error) {
	rows, err := pickRows(ctx, r.pool, nil, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.PageTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *pageTaskRepo) ListByJob(ctx context.Context, jobID string) ([]*model.PageTask, error) {
	return r.listTasks(ctx,
		`SELECT `+taskColumns+` FROM page_tasks WHERE job_id = $1 ORDER BY page_number;`, jobID)
}

func (r *pageTaskRepo) CountByStatus(ctx context.Context, jobID string) (map[model.TaskStatus]int, error) {
	rows, err := pickRows(ctx, r.pool, nil,
		`SELECT status, COUNT(*) FROM page_tasks WHERE job_id = $1 GROUP BY status;`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[model.TaskStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *pageTaskRepo) MarkLeased(ctx context.Context, id, token string, expires time.Time) (bool, error) {
	tag, err := execSQL(ctx, r.pool, nil, `
UPDATE page_tasks SET status = 'leased', lease_token = $2, lease_expires_at = $3, updated_at = now()
WHERE id = $1 AND status = 'pending';`,
		id, token, expires)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pageTaskRepo) ExtendLease(ctx context.Context, id, token string, expires time.Time) (bool, error) {
	tag, err := execSQL(ctx, r.pool, nil, `
UPDATE page_tasks SET lease_expires_at = $3, updated_at = now()
WHERE id = $1 AND lease_token = $2 AND status = 'leased';`,
		id, token, expires)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pageTaskRepo) CompleteWithLease(ctx context.Context, id, token, resultRef string) (bool, error) {
	tag, err := execSQL(ctx, r.pool, nil, `
UPDATE page_tasks SET status = 'done', result_ref = $3, last_error = '',
  lease_token = '', lease_expires_at = NULL, updated_at = now()
WHERE id = $1 AND lease_token = $2 AND status = 'leased';`,
		id, token, resultRef)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pageTaskRepo) RecordFailure(ctx context.Context, id, token, errMsg string) (*model.PageTask, error) {
	var updated *model.PageTask

	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		row, err := pickRow(ctx, r.pool, tx,
			`SELECT `+taskColumns+` FROM page_tasks
WHERE id = $1 AND lease_token = $2 AND status = 'leased' FOR UPDATE;`,
			id, token)
		if err != nil {
			return err
		}
		t, err := scanTask(row)
		if err != nil {
			return err
		}

		t.AttemptCount++
		t.LastError = errMsg
		t.LeaseToken = ""
		t.LeaseExpires = time.Time{}
		if t.Exhausted() {
			t.Status = model.TaskStatusFailed
		} else {
			t.Status = model.TaskStatusPending
		}

		_, err = execSQL(ctx, r.pool, tx, `
UPDATE page_tasks SET status = $2, attempt_count = $3, last_error = $4,
  lease_token = '', lease_expires_at = NULL, updated_at = now()
WHERE id = $1;`,
			t.ID, t.Status, t.AttemptCount, t.LastError)
		if err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Lease reclaimed before the failure write landed.
			return nil, nil
		}
		return nil, err
	}
	return updated, nil
}

func (r *pageTaskRepo) ReclaimExpired(ctx context.Context, jobID string, now time.Time) ([]*model.PageTask, error) {
	return r.listTasks(ctx, `
UPDATE page_tasks SET status = 'pending', lease_token = '', lease_expires_at = NULL, updated_at = now()
WHERE job_id = $1 AND status = 'leased' AND lease_expires_at < $2
RETURNING `+taskColumns+`;`,
		jobID, now)
}

func (r *pageTaskRepo) ListStalePending(ctx context.Context, jobID string, olderThan time.Time) ([]*model.PageTask, error) {
	return r.listTasks(ctx, `
SELECT `+taskColumns+` FROM page_tasks
WHERE job_id = $1 AND status = 'pending' AND updated_at < $2
ORDER BY page_number;`,
		jobID, olderThan)
}
