package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mapruns/distance-api/internal/domain"
	"github.com/mapruns/distance-api/internal/store"
)

// MockTaskStore is an in-memory store.TaskStore used in tests. It enforces
// the same guarded transitions as the PostgreSQL implementation.
type MockTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task

	// Optional overrides for simulating store failures.
	CreateFn         func(ctx context.Context, t *domain.Task) error
	MarkProcessingFn func(ctx context.Context, id uuid.UUID) error
}

// NewMockTaskStore creates an empty in-memory task store.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{
		tasks: make(map[uuid.UUID]*domain.Task),
	}
}

var _ store.TaskStore = (*MockTaskStore)(nil)

func (m *MockTaskStore) Create(ctx context.Context, t *domain.Task) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, t)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *MockTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}

	cp := *t
	return &cp, nil
}

func (m *MockTaskStore) List(ctx context.Context) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*domain.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		cp := *t
		cp.FileContent = nil
		cp.ResultData = nil
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return out, nil
}

func (m *MockTaskStore) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	if m.MarkProcessingFn != nil {
		return m.MarkProcessingFn(ctx, id)
	}
	return m.transition(id, domain.TaskStatusProcessing, func(t *domain.Task) {})
}

func (m *MockTaskStore) MarkCompleted(ctx context.Context, id uuid.UUID, resultData, resultFilename string) error {
	return m.transition(id, domain.TaskStatusCompleted, func(t *domain.Task) {
		now := time.Now().UTC()
		t.CompletedAt = &now
		t.ResultData = &resultData
		t.ResultFilename = &resultFilename
	})
}

func (m *MockTaskStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	return m.transition(id, domain.TaskStatusFailed, func(t *domain.Task) {
		now := time.Now().UTC()
		t.CompletedAt = &now
		t.Error = &errMsg
	})
}

func (m *MockTaskStore) MarkCancelled(ctx context.Context, id uuid.UUID, reason string) error {
	return m.transition(id, domain.TaskStatusCancelled, func(t *domain.Task) {
		now := time.Now().UTC()
		t.CompletedAt = &now
		t.Error = &reason
	})
}

func (m *MockTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	if !t.Status.IsTerminal() {
		return store.ErrInvalidTransition
	}

	delete(m.tasks, id)
	return nil
}

func (m *MockTaskStore) FailOrphaned(ctx context.Context, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, t := range m.tasks {
		if !t.Status.IsTerminal() {
			now := time.Now().UTC()
			t.Status = domain.TaskStatusFailed
			t.CompletedAt = &now
			msg := reason
			t.Error = &msg
			n++
		}
	}
	return n, nil
}

func (m *MockTaskStore) transition(id uuid.UUID, next domain.TaskStatus, apply func(*domain.Task)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	if !t.Status.CanTransitionTo(next) {
		return store.ErrInvalidTransition
	}

	t.Status = next
	apply(t)
	return nil
}
