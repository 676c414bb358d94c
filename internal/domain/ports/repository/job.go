package repository

import (
	"context"

	"pdf2md/internal/domain/model"
)

type JobRepository interface {
	Save(ctx context.Context, tx Tx, job *model.Job) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Job, error)
	FindBySourceHash(ctx context.Context, hash string) (*model.Job, error)
	ListNonTerminal(ctx context.Context) ([]*model.Job, error)
	ListRecent(ctx context.Context, limit int) ([]*model.Job, error)

	// ListCallbackPending returns terminal jobs whose completion callback has
	// a target but has not been delivered yet. The sweep drains this set, so a
	// supervisor crash between the terminal transition and delivery only
	// delays the callback instead of losing it.
	ListCallbackPending(ctx context.Context) ([]*model.Job, error)

	// TransitionStatus performs a compare-and-set status move. It returns
	// false when the job was not in `from`, which callers treat as "someone
	// else advanced it first".
	TransitionStatus(ctx context.Context, tx Tx, id string, from, to model.JobStatus) (bool, error)

	// MarkFailed moves a job to Failed from any non-terminal status,
	// recording the failure kind and message. Returns false when the job was
	// already terminal.
	MarkFailed(ctx context.Context, tx Tx, id string, kind model.FailureKind, errMsg string) (bool, error)

	// MarkCallbackFired atomically flips the callback flag from false to
	// true. Exactly one caller per job observes true.
	MarkCallbackFired(ctx context.Context, id string) (bool, error)

	RequestCancel(ctx context.Context, id string) error
	SetResultRef(ctx context.Context, tx Tx, id, resultRef string) error
}
