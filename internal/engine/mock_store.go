package engine

import (
	"context"
	"database/sql"
	"sync"

	"github.com/phrazzld/taskforge/internal/domain"
	"github.com/phrazzld/taskforge/internal/store"
)

// MockTaskStore implements the store.TaskStore interface for testing.
// Each method delegates to an overridable function field; the defaults
// operate on in-memory maps and are safe for concurrent use.
type MockTaskStore struct {
	mutex  sync.RWMutex
	nextID int64
	tasks  map[int64]*domain.Task
	logs   map[int64][]*domain.TaskLog

	GetFn       func(ctx context.Context, id int64) (*domain.Task, error)
	SaveFn      func(ctx context.Context, task *domain.Task) error
	AppendLogFn func(ctx context.Context, entry *domain.TaskLog) error
	CountFn     func(ctx context.Context) (map[domain.TaskStatus]int, error)
}

// NewMockTaskStore creates a new MockTaskStore with default implementations.
func NewMockTaskStore() *MockTaskStore {
	s := &MockTaskStore{
		tasks: make(map[int64]*domain.Task),
		logs:  make(map[int64][]*domain.TaskLog),
	}

	s.GetFn = func(ctx context.Context, id int64) (*domain.Task, error) {
		s.mutex.RLock()
		defer s.mutex.RUnlock()

		task, ok := s.tasks[id]
		if !ok {
			return nil, store.ErrTaskNotFound
		}
		copied := *task
		return &copied, nil
	}

	s.SaveFn = func(ctx context.Context, task *domain.Task) error {
		s.mutex.Lock()
		defer s.mutex.Unlock()

		if task.ID == 0 {
			s.nextID++
			task.ID = s.nextID
		} else if task.ID > s.nextID {
			s.nextID = task.ID
		}
		copied := *task
		s.tasks[task.ID] = &copied
		return nil
	}

	s.AppendLogFn = func(ctx context.Context, entry *domain.TaskLog) error {
		s.mutex.Lock()
		defer s.mutex.Unlock()

		copied := *entry
		copied.ID = int64(len(s.logs[entry.TaskID]) + 1)
		s.logs[entry.TaskID] = append(s.logs[entry.TaskID], &copied)
		return nil
	}

	s.CountFn = func(ctx context.Context) (map[domain.TaskStatus]int, error) {
		s.mutex.RLock()
		defer s.mutex.RUnlock()

		counts := make(map[domain.TaskStatus]int)
		for _, task := range s.tasks {
			counts[task.Status]++
		}
		return counts, nil
	}

	return s
}

// GetTask retrieves a task from the mock store.
func (s *MockTaskStore) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	return s.GetFn(ctx, id)
}

// SaveTask persists a task to the mock store.
func (s *MockTaskStore) SaveTask(ctx context.Context, task *domain.Task) error {
	return s.SaveFn(ctx, task)
}

// AppendLog appends an audit entry to the mock store.
func (s *MockTaskStore) AppendLog(ctx context.Context, entry *domain.TaskLog) error {
	return s.AppendLogFn(ctx, entry)
}

// CountTasksByStatus counts the stored tasks per status.
func (s *MockTaskStore) CountTasksByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	return s.CountFn(ctx)
}

// WithTx implements store.TaskStore.WithTx. The mock has no transactions;
// it returns the same store instance.
func (s *MockTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return s
}

// MustSeedTask inserts a task directly into the mock store, bypassing the
// status tracker. Test setup helper.
func (s *MockTaskStore) MustSeedTask(task *domain.Task) *domain.Task {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if task.ID == 0 {
		s.nextID++
		task.ID = s.nextID
	} else if task.ID > s.nextID {
		s.nextID = task.ID
	}
	copied := *task
	s.tasks[task.ID] = &copied
	return task
}

// Logs returns a copy of the audit entries recorded for the given task,
// in append order.
func (s *MockTaskStore) Logs(taskID int64) []*domain.TaskLog {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	entries := make([]*domain.TaskLog, len(s.logs[taskID]))
	copy(entries, s.logs[taskID])
	return entries
}

// TaskStatus returns the stored status of the given task. Test helper.
func (s *MockTaskStore) TaskStatus(taskID int64) domain.TaskStatus {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return ""
	}
	return task.Status
}
