package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/taskforge/internal/domain"
	"github.com/phrazzld/taskforge/internal/store"
)

// allowedTransitions encodes the task state machine. A transition is legal
// iff allowedTransitions[from][to] is true. completed is terminal; failed
// is terminal unless the retry policy re-admits the task.
var allowedTransitions = map[domain.TaskStatus]map[domain.TaskStatus]bool{
	domain.TaskStatusPending: {
		domain.TaskStatusInProgress: true,
	},
	domain.TaskStatusInProgress: {
		domain.TaskStatusCompleted: true,
		domain.TaskStatusFailed:    true,
	},
	domain.TaskStatusFailed: {
		domain.TaskStatusInProgress: true,
	},
	domain.TaskStatusCompleted: {},
}

// TransitionListener receives successfully applied status transitions.
// Callbacks run synchronously on the transitioning goroutine and must be
// cheap and non-blocking.
type TransitionListener interface {
	OnTransition(taskID int64, from, to domain.TaskStatus, at time.Time)
}

// StatusTracker is the single writer of task status. Every status change
// in the system goes through Transition, which validates the state
// machine edge, persists the new status together with its audit log entry,
// and notifies subscribed listeners.
type StatusTracker struct {
	store  store.TaskStore
	db     *sql.DB
	logger *slog.Logger

	// listeners are appended during wiring and read-mostly afterwards.
	listenersMu sync.RWMutex
	listeners   []TransitionListener

	// locks serializes transitions per task ID. A transition waits only on
	// contention for its own task, never on unrelated tasks. The map grows
	// with the distinct task IDs seen by this process and is not pruned.
	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

// NewStatusTracker creates a StatusTracker backed by the given store.
// When db is non-nil, the status write and the log append are executed in
// a single database transaction; a nil db is for stores whose writes are
// already atomic per call (the in-memory test store).
func NewStatusTracker(taskStore store.TaskStore, db *sql.DB, logger *slog.Logger) *StatusTracker {
	return &StatusTracker{
		store:  taskStore,
		db:     db,
		logger: logger.With("component", "status_tracker"),
		locks:  make(map[int64]*sync.Mutex),
	}
}

// Subscribe registers a listener for applied transitions.
func (t *StatusTracker) Subscribe(listener TransitionListener) {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()
	t.listeners = append(t.listeners, listener)
}

// Transition moves the task to the target status, appending an audit log
// entry carrying the given message. It either fully applies (status and
// log together) or not at all: an illegal edge fails with
// ErrInvalidTransition leaving the task unchanged, and a store failure
// aborts the whole transition and is surfaced to the caller.
//
// Returns the task as persisted after the transition.
func (t *StatusTracker) Transition(
	ctx context.Context,
	taskID int64,
	target domain.TaskStatus,
	message string,
) (*domain.Task, error) {
	lock := t.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := t.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	from := task.Status
	if !allowedTransitions[from][target] {
		return nil, fmt.Errorf("%w: %s -> %s (task %d)", ErrInvalidTransition, from, target, taskID)
	}

	if err := task.UpdateStatus(target); err != nil {
		return nil, err
	}

	entry, err := domain.NewTaskLog(taskID, target, message)
	if err != nil {
		return nil, err
	}

	if err := t.persist(ctx, task, entry); err != nil {
		return nil, err
	}

	t.logger.Debug("task status transition applied",
		"task_id", taskID,
		"from", from,
		"to", target)

	t.notify(taskID, from, target, task.UpdatedAt)

	return task, nil
}

// persist writes the updated task and its log entry, transactionally when
// a database handle is available.
func (t *StatusTracker) persist(ctx context.Context, task *domain.Task, entry *domain.TaskLog) error {
	if t.db == nil {
		if err := t.store.SaveTask(ctx, task); err != nil {
			return err
		}
		return t.store.AppendLog(ctx, entry)
	}

	return store.RunInTransaction(ctx, t.db, func(ctx context.Context, tx *sql.Tx) error {
		txStore := t.store.WithTx(tx)
		if err := txStore.SaveTask(ctx, task); err != nil {
			return err
		}
		return txStore.AppendLog(ctx, entry)
	})
}

// notify fans the applied transition out to subscribed listeners.
func (t *StatusTracker) notify(taskID int64, from, to domain.TaskStatus, at time.Time) {
	t.listenersMu.RLock()
	listeners := make([]TransitionListener, len(t.listeners))
	copy(listeners, t.listeners)
	t.listenersMu.RUnlock()

	for _, listener := range listeners {
		listener.OnTransition(taskID, from, to, at)
	}
}

// taskLock returns the mutex serializing transitions for the given task.
func (t *StatusTracker) taskLock(taskID int64) *sync.Mutex {
	t.locksMu.Lock()
	defer t.locksMu.Unlock()

	lock, ok := t.locks[taskID]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[taskID] = lock
	}
	return lock
}
