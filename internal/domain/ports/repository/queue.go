package repository

import (
	"context"
	"time"
)

// TaskQueue is the distribution half of the queue/lease store: an
// at-least-once FIFO of page-task ids with visibility-timeout semantics.
// A dequeued id stays parked on a processing list until acked or requeued,
// so a consumer crash never silently drops a task.
type TaskQueue interface {
	Enqueue(ctx context.Context, taskID string) error

	// EnqueueAfter schedules a delayed delivery, used for retry backoff.
	EnqueueAfter(ctx context.Context, taskID string, delay time.Duration) error

	// Dequeue blocks up to `timeout` for the next task id. It returns
	// domain.ErrNotFound when nothing became available.
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)

	// Ack removes a delivered task id from the processing list.
	Ack(ctx context.Context, taskID string) error

	// Requeue atomically moves a delivered task id from the processing list
	// back to the pending queue. Reconcile uses it for orphaned leases.
	Requeue(ctx context.Context, taskID string) error

	// DeadLetter parks a permanently failed task id for diagnostics.
	DeadLetter(ctx context.Context, taskID string) error

	Depth(ctx context.Context) (int64, error)
}
