package model

import (
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusLeased  TaskStatus = "leased"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusFailed  TaskStatus = "failed"
)

func (s TaskStatus) Terminal() bool {
	return s == TaskStatusDone || s == TaskStatusFailed
}

// PageTask is the unit of work for one page of a job. The lease token and
// expiry are the store-side half of the lease protocol: a worker may only
// mutate a task while its token matches the row.
type PageTask struct {
	ID           string
	JobID        string
	PageNumber   int // 0-indexed, unique per job
	Status       TaskStatus
	AttemptCount int
	MaxAttempts  int
	ImageRef     string
	ResultRef    string
	LastError    string
	LeaseToken   string
	LeaseExpires time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func NewPageTask(jobID string, pageNumber int, imageRef string, maxAttempts int) *PageTask {
	now := time.Now()
	return &PageTask{
		ID:          uuid.NewString(),
		JobID:       jobID,
		PageNumber:  pageNumber,
		Status:      TaskStatusPending,
		MaxAttempts: maxAttempts,
		ImageRef:    imageRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Exhausted reports whether the task has used up its retry budget.
func (t *PageTask) Exhausted() bool {
	return t.AttemptCount >= t.MaxAttempts
}

// Lease is an ephemeral claim over a task. It is never persisted as its own
// entity; the queue/lease store remains the sole arbiter of ownership.
type Lease struct {
	TaskID     string
	WorkerID   string
	Token      string
	AcquiredAt time.Time
	TTL        time.Duration
}
