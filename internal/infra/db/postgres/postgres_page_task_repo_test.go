//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"pdf2md/internal/domain/model"
)

func seedJobWithTasks(t *testing.T, pages int) (*model.Job, []*model.PageTask) {
	t.Helper()
	ctx := context.Background()
	cleanup(t)

	jobRepo := NewJobRepo(testPool)
	taskRepo := NewPageTaskRepo(testPool, NewTxManager(testPool))

	job := model.NewJob("uploads/doc.pdf", "", model.JobOptions{})
	job.PageCount = pages
	if err := jobRepo.Save(ctx, nil, job); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	tasks := make([]*model.PageTask, pages)
	for i := range tasks {
		tasks[i] = model.NewPageTask(job.ID, i, fmt.Sprintf("jobs/%s/pages/%05d.pdf", job.ID, i), 2)
	}
	if err := taskRepo.SaveAll(ctx, nil, tasks); err != nil {
		t.Fatalf("seed tasks: %v", err)
	}
	return job, tasks
}

func TestPageTaskRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	repo := NewPageTaskRepo(testPool, NewTxManager(testPool))

	t.Run("should insert tasks idempotently", func(t *testing.T) {
		job, tasks := seedJobWithTasks(t, 3)

		// Re-running the same insert must not duplicate pages.
		dupes := make([]*model.PageTask, len(tasks))
		for i, orig := range tasks {
			dupes[i] = model.NewPageTask(job.ID, orig.PageNumber, orig.ImageRef, 2)
		}
		if err := repo.SaveAll(ctx, nil, dupes); err != nil {
			t.Fatalf("second SaveAll failed: %v", err)
		}

		got, err := repo.ListByJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("ListByJob failed: %v", err)
		}
		if len(got) != 3 {
			t.Errorf("expected 3 tasks, got %d", len(got))
		}
	})

	t.Run("should lease a pending task exactly once", func(t *testing.T) {
		_, tasks := seedJobWithTasks(t, 1)
		id := tasks[0].ID
		expires := time.Now().Add(2 * time.Minute)

		ok, err := repo.MarkLeased(ctx, id, "worker-a", expires)
		if err != nil || !ok {
			t.Fatalf("first lease: ok=%v err=%v", ok, err)
		}
		ok, err = repo.MarkLeased(ctx, id, "worker-b", expires)
		if err != nil {
			t.Fatalf("second lease errored: %v", err)
		}
		if ok {
			t.Error("a leased task must not be leased again")
		}
	})

	t.Run("should guard completion by the lease token", func(t *testing.T) {
		_, tasks := seedJobWithTasks(t, 1)
		id := tasks[0].ID
		repo.MarkLeased(ctx, id, "worker-a", time.Now().Add(time.Minute))

		ok, err := repo.CompleteWithLease(ctx, id, "stale-token", "jobs/x/pages/00000.md")
		if err != nil {
			t.Fatalf("CompleteWithLease errored: %v", err)
		}
		if ok {
			t.Fatal("a stale token must not complete the task")
		}

		ok, err = repo.CompleteWithLease(ctx, id, "worker-a", "jobs/x/pages/00000.md")
		if err != nil || !ok {
			t.Fatalf("owner completion: ok=%v err=%v", ok, err)
		}
		got, _ := repo.FindByID(ctx, nil, id)
		if got.Status != model.TaskStatusDone || got.ResultRef == "" {
			t.Errorf("completion not recorded: %+v", got)
		}
	})

	t.Run("should guard lease renewal by the token", func(t *testing.T) {
		_, tasks := seedJobWithTasks(t, 1)
		id := tasks[0].ID
		repo.MarkLeased(ctx, id, "worker-a", time.Now().Add(time.Minute))

		ok, err := repo.ExtendLease(ctx, id, "worker-b", time.Now().Add(time.Hour))
		if err != nil {
			t.Fatalf("ExtendLease errored: %v", err)
		}
		if ok {
			t.Error("a foreign token must not renew the lease")
		}
		ok, err = repo.ExtendLease(ctx, id, "worker-a", time.Now().Add(time.Hour))
		if err != nil || !ok {
			t.Fatalf("owner renewal: ok=%v err=%v", ok, err)
		}
	})

	t.Run("should retry below the attempt cap and fail at it", func(t *testing.T) {
		_, tasks := seedJobWithTasks(t, 1) // cap is 2
		id := tasks[0].ID

		repo.MarkLeased(ctx, id, "t1", time.Now().Add(time.Minute))
		updated, err := repo.RecordFailure(ctx, id, "t1", "first failure")
		if err != nil {
			t.Fatalf("first RecordFailure errored: %v", err)
		}
		if updated.Status != model.TaskStatusPending || updated.AttemptCount != 1 {
			t.Fatalf("expected pending retry after one attempt, got %+v", updated)
		}

		repo.MarkLeased(ctx, id, "t2", time.Now().Add(time.Minute))
		updated, err = repo.RecordFailure(ctx, id, "t2", "second failure")
		if err != nil {
			t.Fatalf("second RecordFailure errored: %v", err)
		}
		if updated.Status != model.TaskStatusFailed || updated.AttemptCount != 2 {
			t.Fatalf("expected permanent failure at the cap, got %+v", updated)
		}
	})

	t.Run("should treat a failure report without the lease as lost", func(t *testing.T) {
		_, tasks := seedJobWithTasks(t, 1)
		id := tasks[0].ID
		repo.MarkLeased(ctx, id, "owner", time.Now().Add(time.Minute))

		updated, err := repo.RecordFailure(ctx, id, "zombie", "late report")
		if err != nil {
			t.Fatalf("RecordFailure errored: %v", err)
		}
		if updated != nil {
			t.Error("a zombie worker must not record an attempt")
		}
		got, _ := repo.FindByID(ctx, nil, id)
		if got.AttemptCount != 0 {
			t.Errorf("attempt count changed: %d", got.AttemptCount)
		}
	})

	t.Run("should reclaim expired leases without touching attempts", func(t *testing.T) {
		job, tasks := seedJobWithTasks(t, 2)
		repo.MarkLeased(ctx, tasks[0].ID, "dead", time.Now().Add(-time.Minute))
		repo.MarkLeased(ctx, tasks[1].ID, "alive", time.Now().Add(time.Hour))

		reclaimed, err := repo.ReclaimExpired(ctx, job.ID, time.Now())
		if err != nil {
			t.Fatalf("ReclaimExpired failed: %v", err)
		}
		if len(reclaimed) != 1 || reclaimed[0].ID != tasks[0].ID {
			t.Fatalf("expected only the expired lease reclaimed, got %d", len(reclaimed))
		}
		got, _ := repo.FindByID(ctx, nil, tasks[0].ID)
		if got.Status != model.TaskStatusPending || got.AttemptCount != 0 || got.LeaseToken != "" {
			t.Errorf("reclaimed task in wrong state: %+v", got)
		}
		live, _ := repo.FindByID(ctx, nil, tasks[1].ID)
		if live.Status != model.TaskStatusLeased {
			t.Errorf("live lease disturbed: %s", live.Status)
		}
	})

	t.Run("should count tasks by status", func(t *testing.T) {
		job, tasks := seedJobWithTasks(t, 3)
		repo.MarkLeased(ctx, tasks[0].ID, "w", time.Now().Add(time.Minute))
		repo.CompleteWithLease(ctx, tasks[0].ID, "w", "ref")

		counts, err := repo.CountByStatus(ctx, job.ID)
		if err != nil {
			t.Fatalf("CountByStatus failed: %v", err)
		}
		if counts[model.TaskStatusDone] != 1 || counts[model.TaskStatusPending] != 2 {
			t.Errorf("unexpected counts: %v", counts)
		}
	})
}
