package usecase

import (
	"context"
	"fmt"
	"time"

	"pdf2md/internal/domain"
	"pdf2md/internal/domain/model"
)

// FragmentFetch returns the stored Markdown for a completed page task.
type FragmentFetch func(ctx context.Context, resultRef string) ([]byte, error)

// BuildResult assembles the final document from a job's page tasks. It is a
// pure function of the task set and stored fragments, re-runnable at any
// time. A page number with no terminal task, a duplicate, or one outside the
// job's range is a pipeline bug and surfaces as ErrConsistency rather than
// being skipped.
func BuildResult(ctx context.Context, job *model.Job, tasks []*model.PageTask, fetch FragmentFetch) (*model.JobResult, error) {
	if len(tasks) != job.PageCount {
		return nil, fmt.Errorf("%w: job %s has %d tasks for %d pages",
			domain.ErrConsistency, job.ID, len(tasks), job.PageCount)
	}

	seen := make(map[int]bool, len(tasks))
	result := &model.JobResult{JobID: job.ID}

	for _, t := range tasks {
		if t.PageNumber < 0 || t.PageNumber >= job.PageCount {
			return nil, fmt.Errorf("%w: page %d outside range of job %s", domain.ErrConsistency, t.PageNumber, job.ID)
		}
		if seen[t.PageNumber] {
			return nil, fmt.Errorf("%w: duplicate task for page %d of job %s", domain.ErrConsistency, t.PageNumber, job.ID)
		}
		seen[t.PageNumber] = true

		switch t.Status {
		case model.TaskStatusDone:
			data, err := fetch(ctx, t.ResultRef)
			if err != nil {
				// Transient store trouble, not a structural gap: retryable.
				return nil, fmt.Errorf("fetch fragment for page %d: %w", t.PageNumber, err)
			}
			result.Fragments = append(result.Fragments, model.PageFragment{
				PageNumber: t.PageNumber,
				Markdown:   string(data),
			})
		case model.TaskStatusFailed:
			result.PageErrors = append(result.PageErrors, model.PageError{
				PageNumber: t.PageNumber,
				Error:      t.LastError,
				Attempts:   t.AttemptCount,
			})
		default:
			return nil, fmt.Errorf("%w: page %d of job %s is %s, not terminal",
				domain.ErrConsistency, t.PageNumber, job.ID, t.Status)
		}
	}

	result.AssembledAt = time.Now()
	return result, nil
}
