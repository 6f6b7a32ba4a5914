package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/querygate/querygate/internal/domain"
	"github.com/querygate/querygate/internal/executor"
	"github.com/querygate/querygate/internal/repository"
)

// ---- RequestStore mock ----

var _ repository.RequestStore = (*RequestStore)(nil)

// RequestStore is a test double for repository.RequestStore.
type RequestStore struct {
	mu sync.Mutex

	GetByIDFn          func(ctx context.Context, id uuid.UUID) (*domain.ExecutionRequest, error)
	TransitionStatusFn func(ctx context.Context, id uuid.UUID, from, to domain.RequestStatus) error
	SetResultFn        func(ctx context.Context, id uuid.UUID, payload string, compressed bool, executedAt time.Time) error
	SetErrorFn         func(ctx context.Context, id uuid.UUID, errText string, executedAt time.Time) error
	GetResultFn        func(ctx context.Context, id uuid.UUID) (string, error)

	// Recorded calls for assertions.
	Transitions []Transition
	Results     []ResultWrite
	Errors      []ErrorWrite
}

type Transition struct {
	ID       uuid.UUID
	From, To domain.RequestStatus
}

type ResultWrite struct {
	ID         uuid.UUID
	Payload    string
	Compressed bool
}

type ErrorWrite struct {
	ID      uuid.UUID
	ErrText string
}

func (m *RequestStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ExecutionRequest, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	return &domain.ExecutionRequest{
		ID:           id,
		Kind:         domain.KindQuery,
		DatabaseType: domain.DBPostgres,
		InstanceID:   "inst-1",
		DatabaseName: "appdb",
		QueryText:    "SELECT 1",
		Status:       domain.StatusApproved,
	}, nil
}

func (m *RequestStore) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.RequestStatus) error {
	m.mu.Lock()
	m.Transitions = append(m.Transitions, Transition{ID: id, From: from, To: to})
	m.mu.Unlock()
	if m.TransitionStatusFn != nil {
		return m.TransitionStatusFn(ctx, id, from, to)
	}
	return nil
}

func (m *RequestStore) SetResult(ctx context.Context, id uuid.UUID, payload string, compressed bool, executedAt time.Time) error {
	m.mu.Lock()
	m.Results = append(m.Results, ResultWrite{ID: id, Payload: payload, Compressed: compressed})
	m.mu.Unlock()
	if m.SetResultFn != nil {
		return m.SetResultFn(ctx, id, payload, compressed, executedAt)
	}
	return nil
}

func (m *RequestStore) SetError(ctx context.Context, id uuid.UUID, errText string, executedAt time.Time) error {
	m.mu.Lock()
	m.Errors = append(m.Errors, ErrorWrite{ID: id, ErrText: errText})
	m.mu.Unlock()
	if m.SetErrorFn != nil {
		return m.SetErrorFn(ctx, id, errText, executedAt)
	}
	return nil
}

func (m *RequestStore) GetResult(ctx context.Context, id uuid.UUID) (string, error) {
	if m.GetResultFn != nil {
		return m.GetResultFn(ctx, id)
	}
	return "", nil
}

// ---- JobQueue mock ----

var _ repository.JobQueue = (*JobQueue)(nil)

// JobQueue is a test double for repository.JobQueue. Its default behavior
// honors the singleton-key invariant in memory.
type JobQueue struct {
	mu sync.Mutex

	EnqueueFn  func(ctx context.Context, job *domain.Job) error
	ClaimFn    func(ctx context.Context) (*domain.Job, error)
	CompleteFn func(ctx context.Context, jobID uuid.UUID) error
	FailFn     func(ctx context.Context, jobID uuid.UUID, reason string) (domain.JobState, error)
	SweepFn    func(ctx context.Context) ([]*domain.Job, error)

	Enqueued  []*domain.Job
	Completed []uuid.UUID
	Failed    []FailReport

	outstanding map[string]bool // resource key -> outstanding
	pending     []*domain.Job
}

type FailReport struct {
	JobID  uuid.UUID
	Reason string
}

func (m *JobQueue) Enqueue(ctx context.Context, job *domain.Job) error {
	if m.EnqueueFn != nil {
		return m.EnqueueFn(ctx, job)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outstanding == nil {
		m.outstanding = make(map[string]bool)
	}
	if m.outstanding[job.ResourceKey] {
		return domain.ErrDuplicateJob
	}
	m.outstanding[job.ResourceKey] = true
	m.Enqueued = append(m.Enqueued, job)
	m.pending = append(m.pending, job)
	return nil
}

func (m *JobQueue) Claim(ctx context.Context) (*domain.Job, error) {
	if m.ClaimFn != nil {
		return m.ClaimFn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil, nil
	}
	job := m.pending[0]
	m.pending = m.pending[1:]
	return job, nil
}

func (m *JobQueue) Complete(ctx context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	m.Completed = append(m.Completed, jobID)
	for _, j := range m.Enqueued {
		if j.JobID == jobID {
			delete(m.outstanding, j.ResourceKey)
		}
	}
	m.mu.Unlock()
	if m.CompleteFn != nil {
		return m.CompleteFn(ctx, jobID)
	}
	return nil
}

func (m *JobQueue) Fail(ctx context.Context, jobID uuid.UUID, reason string) (domain.JobState, error) {
	m.mu.Lock()
	m.Failed = append(m.Failed, FailReport{JobID: jobID, Reason: reason})
	for _, j := range m.Enqueued {
		if j.JobID == jobID {
			delete(m.outstanding, j.ResourceKey)
		}
	}
	m.mu.Unlock()
	if m.FailFn != nil {
		return m.FailFn(ctx, jobID, reason)
	}
	return domain.JobQueued, nil
}

func (m *JobQueue) Sweep(ctx context.Context) ([]*domain.Job, error) {
	if m.SweepFn != nil {
		return m.SweepFn(ctx)
	}
	return nil, nil
}

func (m *JobQueue) Depth(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outstanding), nil
}

// ---- ResourceLock mock ----

var _ repository.ResourceLock = (*ResourceLock)(nil)

// ResourceLock is a test double for repository.ResourceLock. The default
// behavior grants every acquisition and records the sequence.
type ResourceLock struct {
	mu sync.Mutex

	AcquireFn func(ctx context.Context, key string, ttl time.Duration) (string, error)
	RefreshFn func(ctx context.Context, token string, ttl time.Duration) error
	ReleaseFn func(ctx context.Context, token string) error

	AcquireCalls []string
	ReleaseCalls []string
	held         map[string]string // token -> key
}

func (m *ResourceLock) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	m.AcquireCalls = append(m.AcquireCalls, key)
	m.mu.Unlock()
	if m.AcquireFn != nil {
		return m.AcquireFn(ctx, key, ttl)
	}
	token := uuid.NewString()
	m.mu.Lock()
	if m.held == nil {
		m.held = make(map[string]string)
	}
	m.held[token] = key
	m.mu.Unlock()
	return token, nil
}

func (m *ResourceLock) Refresh(ctx context.Context, token string, ttl time.Duration) error {
	if m.RefreshFn != nil {
		return m.RefreshFn(ctx, token, ttl)
	}
	return nil
}

func (m *ResourceLock) Release(ctx context.Context, token string) error {
	m.mu.Lock()
	key := m.held[token]
	delete(m.held, token)
	m.ReleaseCalls = append(m.ReleaseCalls, key)
	m.mu.Unlock()
	if m.ReleaseFn != nil {
		return m.ReleaseFn(ctx, token)
	}
	return nil
}

func (m *ResourceLock) ReleaseAll(ctx context.Context) error {
	m.mu.Lock()
	tokens := make([]string, 0, len(m.held))
	for token := range m.held {
		tokens = append(tokens, token)
	}
	m.mu.Unlock()
	for _, token := range tokens {
		_ = m.Release(ctx, token)
	}
	return nil
}

// ---- Executor mock ----

var _ executor.Executor = (*Executor)(nil)

// Executor is a test double for executor.Executor.
type Executor struct {
	mu sync.Mutex

	ExecuteFn func(ctx context.Context, req *domain.ExecutionRequest) *domain.ExecutionResult

	ExecuteCalls []*domain.ExecutionRequest
}

func (m *Executor) Execute(ctx context.Context, req *domain.ExecutionRequest) *domain.ExecutionResult {
	m.mu.Lock()
	m.ExecuteCalls = append(m.ExecuteCalls, req)
	m.mu.Unlock()
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, req)
	}
	return domain.Succeeded("id | name\n1 | widget\n(1 rows)")
}
