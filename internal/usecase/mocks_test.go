//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"pdf2md/internal/domain"
	"pdf2md/internal/domain/model"
	"pdf2md/internal/domain/ports/adapter"
	"pdf2md/internal/domain/ports/repository"
)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// ---- Mock TransactionManager ----

// MockTxManager runs the function directly; the in-memory repos have no
// transactional state to protect.
type MockTxManager struct{}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager() *MockTxManager { return &MockTxManager{} }

func (m *MockTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

// ---- Mock JobRepository ----

type MockJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.Job

	SaveFunc func(ctx context.Context, tx repository.Tx, job *model.Job) error
}

var _ repository.JobRepository = (*MockJobRepo)(nil)

func NewMockJobRepo() *MockJobRepo {
	return &MockJobRepo{jobs: make(map[string]*model.Job)}
}

func cloneJob(j *model.Job) *model.Job {
	cp := *j
	return &cp
}

func (m *MockJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, job)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job.UpdatedAt = time.Now()
	cp := cloneJob(job)
	// The real upsert leaves the CAS-owned flags alone on update.
	if prev, ok := m.jobs[job.ID]; ok {
		cp.CancelRequested = prev.CancelRequested
		cp.CallbackFired = prev.CallbackFired
	}
	m.jobs[job.ID] = cp
	return nil
}

func (m *MockJobRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(j), nil
}

func (m *MockJobRepo) FindBySourceHash(_ context.Context, hash string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *model.Job
	for _, j := range m.jobs {
		if j.SourceHash != hash {
			continue
		}
		if latest == nil || j.CreatedAt.After(latest.CreatedAt) {
			latest = j
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return cloneJob(latest), nil
}

func (m *MockJobRepo) ListNonTerminal(context.Context) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, j := range m.jobs {
		if !j.Status.Terminal() {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (m *MockJobRepo) ListCallbackPending(context.Context) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, j := range m.jobs {
		if j.Status.Terminal() && !j.CallbackFired && j.CallbackURL != "" {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (m *MockJobRepo) ListRecent(_ context.Context, limit int) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, j := range m.jobs {
		out = append(out, cloneJob(j))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockJobRepo) TransitionStatus(_ context.Context, _ repository.Tx, id string, from, to model.JobStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, domain.ErrInvalidTransition
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != from {
		return false, nil
	}
	j.Status = to
	j.UpdatedAt = time.Now()
	return true, nil
}

func (m *MockJobRepo) MarkFailed(_ context.Context, _ repository.Tx, id string, kind model.FailureKind, errMsg string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status.Terminal() {
		return false, nil
	}
	j.Status = model.JobStatusFailed
	j.Failure = kind
	j.LastError = errMsg
	j.UpdatedAt = time.Now()
	return true, nil
}

func (m *MockJobRepo) MarkCallbackFired(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.CallbackFired {
		return false, nil
	}
	j.CallbackFired = true
	return true, nil
}

func (m *MockJobRepo) RequestCancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status.Terminal() {
		return domain.ErrNotFound
	}
	j.CancelRequested = true
	return nil
}

func (m *MockJobRepo) SetResultRef(_ context.Context, _ repository.Tx, id, resultRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.ResultRef = resultRef
	return nil
}

// Touch backdates a stored job's update time, bypassing Save.
func (m *MockJobRepo) Touch(id string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.UpdatedAt = at
	}
}

// ---- Mock PageTaskRepository ----

type MockTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*model.PageTask
}

var _ repository.PageTaskRepository = (*MockTaskRepo)(nil)

func NewMockTaskRepo() *MockTaskRepo {
	return &MockTaskRepo{tasks: make(map[string]*model.PageTask)}
}

func cloneTask(t *model.PageTask) *model.PageTask {
	cp := *t
	return &cp
}

func (m *MockTaskRepo) SaveAll(_ context.Context, _ repository.Tx, tasks []*model.PageTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tasks {
		if m.existsLocked(t.JobID, t.PageNumber) {
			continue // (job_id, page_number) is unique, inserts are idempotent
		}
		m.tasks[t.ID] = cloneTask(t)
	}
	return nil
}

func (m *MockTaskRepo) existsLocked(jobID string, page int) bool {
	for _, t := range m.tasks {
		if t.JobID == jobID && t.PageNumber == page {
			return true
		}
	}
	return false
}

func (m *MockTaskRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.PageTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneTask(t), nil
}

func (m *MockTaskRepo) ListByJob(_ context.Context, jobID string) ([]*model.PageTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PageTask
	for _, t := range m.tasks {
		if t.JobID == jobID {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].PageNumber < out[k].PageNumber })
	return out, nil
}

func (m *MockTaskRepo) CountByStatus(_ context.Context, jobID string) (map[model.TaskStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[model.TaskStatus]int)
	for _, t := range m.tasks {
		if t.JobID == jobID {
			counts[t.Status]++
		}
	}
	return counts, nil
}

func (m *MockTaskRepo) MarkLeased(_ context.Context, id, token string, expires time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != model.TaskStatusPending {
		return false, nil
	}
	t.Status = model.TaskStatusLeased
	t.LeaseToken = token
	t.LeaseExpires = expires
	t.UpdatedAt = time.Now()
	return true, nil
}

func (m *MockTaskRepo) ExtendLease(_ context.Context, id, token string, expires time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != model.TaskStatusLeased || t.LeaseToken != token {
		return false, nil
	}
	t.LeaseExpires = expires
	return true, nil
}

func (m *MockTaskRepo) CompleteWithLease(_ context.Context, id, token, resultRef string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != model.TaskStatusLeased || t.LeaseToken != token {
		return false, nil
	}
	t.Status = model.TaskStatusDone
	t.ResultRef = resultRef
	t.LeaseToken = ""
	t.UpdatedAt = time.Now()
	return true, nil
}

func (m *MockTaskRepo) RecordFailure(_ context.Context, id, token, errMsg string) (*model.PageTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != model.TaskStatusLeased || t.LeaseToken != token {
		return nil, nil // lease lost
	}
	t.AttemptCount++
	t.LastError = errMsg
	t.LeaseToken = ""
	if t.Exhausted() {
		t.Status = model.TaskStatusFailed
	} else {
		t.Status = model.TaskStatusPending
	}
	t.UpdatedAt = time.Now()
	return cloneTask(t), nil
}

func (m *MockTaskRepo) ReclaimExpired(_ context.Context, jobID string, now time.Time) ([]*model.PageTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PageTask
	for _, t := range m.tasks {
		if t.JobID == jobID && t.Status == model.TaskStatusLeased && t.LeaseExpires.Before(now) {
			t.Status = model.TaskStatusPending
			t.LeaseToken = ""
			t.UpdatedAt = now
			out = append(out, cloneTask(t))
		}
	}
	return out, nil
}

func (m *MockTaskRepo) ListStalePending(_ context.Context, jobID string, olderThan time.Time) ([]*model.PageTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PageTask
	for _, t := range m.tasks {
		if t.JobID == jobID && t.Status == model.TaskStatusPending && t.UpdatedAt.Before(olderThan) {
			out = append(out, cloneTask(t))
		}
	}
	return out, nil
}

// Put seeds a task directly, bypassing the lease protocol.
func (m *MockTaskRepo) Put(t *model.PageTask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = cloneTask(t)
}

// ---- Mock TaskQueue ----

type MockQueue struct {
	mu         sync.Mutex
	Pending    []string
	Processing []string
	Delayed    map[string]time.Duration
	Dead       []string

	EnqueueFunc func(ctx context.Context, taskID string) error
}

var _ repository.TaskQueue = (*MockQueue)(nil)

func NewMockQueue() *MockQueue {
	return &MockQueue{Delayed: make(map[string]time.Duration)}
}

func (q *MockQueue) Enqueue(ctx context.Context, taskID string) error {
	if q.EnqueueFunc != nil {
		return q.EnqueueFunc(ctx, taskID)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Pending = append(q.Pending, taskID)
	return nil
}

func (q *MockQueue) EnqueueAfter(_ context.Context, taskID string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Delayed[taskID] = delay
	return nil
}

func (q *MockQueue) Dequeue(_ context.Context, _ time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.Pending) == 0 {
		return "", domain.ErrNotFound
	}
	id := q.Pending[0]
	q.Pending = q.Pending[1:]
	q.Processing = append(q.Processing, id)
	return id, nil
}

func (q *MockQueue) Ack(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Processing = remove(q.Processing, taskID)
	return nil
}

func (q *MockQueue) Requeue(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Processing = remove(q.Processing, taskID)
	q.Pending = append(q.Pending, taskID)
	return nil
}

func (q *MockQueue) DeadLetter(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Dead = append(q.Dead, taskID)
	return nil
}

func (q *MockQueue) Depth(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.Pending)), nil
}

func remove(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// ---- Mock ObjectStore ----

type MockStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	GetFunc func(ctx context.Context, key string) ([]byte, error)
	PutFunc func(ctx context.Context, key string, data []byte, contentType string) error
}

var _ repository.ObjectStore = (*MockStore)(nil)

func NewMockStore() *MockStore {
	return &MockStore{objects: make(map[string][]byte)}
}

func (s *MockStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if s.PutFunc != nil {
		return s.PutFunc(ctx, key, data, contentType)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *MockStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.GetFunc != nil {
		return s.GetFunc(ctx, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MockStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

// ---- Mock PageSplitter ----

type MockSplitter struct {
	Pages     int
	Err       error
	SplitFunc func(ctx context.Context, jobID string, pdf []byte) ([]string, error)
}

var _ adapter.PageSplitter = (*MockSplitter)(nil)

func (m *MockSplitter) Split(ctx context.Context, jobID string, pdf []byte) ([]string, error) {
	if m.SplitFunc != nil {
		return m.SplitFunc(ctx, jobID, pdf)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	keys := make([]string, m.Pages)
	for i := range keys {
		keys[i] = pageKey(jobID, i)
	}
	return keys, nil
}

func pageKey(jobID string, page int) string {
	return fmt.Sprintf("jobs/%s/pages/%05d.pdf", jobID, page)
}

// ---- Mock CompletionNotifier ----

type MockNotifier struct {
	mu     sync.Mutex
	Events []adapter.CompletionEvent
	Err    error
}

var _ adapter.CompletionNotifier = (*MockNotifier)(nil)

func (m *MockNotifier) Notify(_ context.Context, _ string, ev adapter.CompletionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, ev)
	return m.Err
}

func (m *MockNotifier) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Events)
}
