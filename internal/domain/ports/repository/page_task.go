package repository

import (
	"context"
	"time"

	"pdf2md/internal/domain/model"
)

type PageTaskRepository interface {
	SaveAll(ctx context.Context, tx Tx, tasks []*model.PageTask) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.PageTask, error)
	ListByJob(ctx context.Context, jobID string) ([]*model.PageTask, error)
	CountByStatus(ctx context.Context, jobID string) (map[model.TaskStatus]int, error)

	// MarkLeased claims a Pending task for a worker: CAS Pending -> Leased,
	// stamping the lease token and expiry. Returns false when the task was
	// not Pending (already claimed, done, or reclaimed meanwhile).
	MarkLeased(ctx context.Context, id, token string, expires time.Time) (bool, error)

	// ExtendLease renews the lease expiry, guarded by the token. A false
	// return means the lease was reclaimed and the worker must abort.
	ExtendLease(ctx context.Context, id, token string, expires time.Time) (bool, error)

	// CompleteWithLease writes the result ref and moves Leased -> Done,
	// guarded by the token so a late write after reclaim is rejected.
	CompleteWithLease(ctx context.Context, id, token, resultRef string) (bool, error)

	// RecordFailure increments the attempt count under the lease token.
	// Below the attempt cap the task returns to Pending for a retry; at the
	// cap it becomes permanently Failed. The updated task is returned so the
	// caller can tell which branch was taken. A nil task with nil error
	// means the lease was lost.
	RecordFailure(ctx context.Context, id, token, errMsg string) (*model.PageTask, error)

	// ReclaimExpired returns every Leased task of the job whose lease expiry
	// passed, after resetting each to Pending with the token cleared. The
	// attempt count is not touched.
	ReclaimExpired(ctx context.Context, jobID string, now time.Time) ([]*model.PageTask, error)

	// ListStalePending returns Pending tasks untouched since `olderThan`,
	// used to re-enqueue deliveries lost between the store and the queue.
	ListStalePending(ctx context.Context, jobID string, olderThan time.Time) ([]*model.PageTask, error)
}
