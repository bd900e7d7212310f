package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskforge/internal/domain"
)

// ProcessingAttempt identifies one execution attempt of a task. It is
// engine-internal state: attempts are not persisted beyond the audit log
// messages that reference their number.
type ProcessingAttempt struct {
	ID        uuid.UUID
	TaskID    int64
	Number    int
	StartedAt time.Time
}

// execution is a live worker slot: the attempt being run plus the handle
// used to cancel it during shutdown.
type execution struct {
	attempt ProcessingAttempt
	task    *domain.Task
	cancel  context.CancelFunc
}

// failureHandler is invoked when a task body fails for a reason other
// than cancellation. The worker pool has already left the task in
// in_progress status; the handler owns the failed transition and any
// retry scheduling.
type failureHandler func(attempt ProcessingAttempt, cause error)

// WorkerPool is a fixed set of concurrent execution slots. It admits at
// most capacity executions at a time and at most one per task ID, runs
// the task body, and reports the outcome through the status tracker.
type WorkerPool struct {
	capacity int
	tracker  *StatusTracker
	executor Executor
	logger   *slog.Logger

	// onFailure is wired by the engine before any submission.
	onFailure failureHandler

	mu     sync.Mutex
	active map[int64]*execution
	wg     sync.WaitGroup

	// slotFreed wakes the admission dispatcher when a slot is released.
	// Buffered so a release never blocks; coalesced signals are fine
	// because the dispatcher re-checks capacity on every wake.
	slotFreed chan struct{}
}

// NewWorkerPool creates a worker pool with the given slot capacity.
func NewWorkerPool(capacity int, tracker *StatusTracker, executor Executor, logger *slog.Logger) *WorkerPool {
	if capacity <= 0 {
		logger.Warn("invalid worker pool capacity specified, using default",
			"specified_capacity", capacity,
			"default_capacity", 1)
		capacity = 1
	}

	return &WorkerPool{
		capacity:  capacity,
		tracker:   tracker,
		executor:  executor,
		logger:    logger.With("component", "worker_pool"),
		active:    make(map[int64]*execution),
		slotFreed: make(chan struct{}, 1),
	}
}

// Submit admits one execution attempt for the given task. On acceptance
// the task is transitioned to in_progress before its body starts, so the
// persisted status reflects reality even if the process crashes mid-run.
//
// Returns ErrAlreadyProcessing if the task already occupies a slot and
// ErrPoolSaturated if every slot is in use.
func (p *WorkerPool) Submit(ctx context.Context, taskID int64, attemptNumber int) error {
	attempt := ProcessingAttempt{
		ID:        uuid.New(),
		TaskID:    taskID,
		Number:    attemptNumber,
		StartedAt: time.Now().UTC(),
	}

	execCtx, cancel := context.WithCancel(context.Background())
	exec := &execution{attempt: attempt, cancel: cancel}

	// Reserve the slot before the status write so the number of
	// in_progress tasks owned by this process can never exceed capacity.
	p.mu.Lock()
	if _, busy := p.active[taskID]; busy {
		p.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: task %d", ErrAlreadyProcessing, taskID)
	}
	if len(p.active) >= p.capacity {
		p.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: %d slots in use", ErrPoolSaturated, p.capacity)
	}
	p.active[taskID] = exec
	p.mu.Unlock()

	task, err := p.tracker.Transition(ctx, taskID, domain.TaskStatusInProgress, startMessage(attemptNumber))
	if err != nil {
		p.release(taskID)
		cancel()
		return err
	}
	exec.task = task

	p.wg.Add(1)
	go p.run(execCtx, exec)

	return nil
}

// run executes a single attempt and reports its outcome.
func (p *WorkerPool) run(ctx context.Context, exec *execution) {
	defer p.wg.Done()
	defer p.release(exec.attempt.TaskID)

	logger := p.logger.With(
		"task_id", exec.attempt.TaskID,
		"attempt_id", exec.attempt.ID,
		"attempt", exec.attempt.Number,
	)

	logger.Info("processing task", "priority", exec.task.Priority)

	err := p.executor.Execute(ctx, exec.task)

	switch {
	case err == nil:
		if _, terr := p.tracker.Transition(
			context.Background(),
			exec.attempt.TaskID,
			domain.TaskStatusCompleted,
			"Task completed successfully",
		); terr != nil {
			// The shutdown coordinator may have marked the task failed
			// while we were finishing; the state machine rejects the
			// late completion and we only record that it happened.
			logger.Warn("could not record task completion", "error", terr)
			return
		}
		logger.Info("task completed successfully",
			"duration", time.Since(exec.attempt.StartedAt))

	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		logger.Warn("task execution interrupted")
		if _, terr := p.tracker.Transition(
			context.Background(),
			exec.attempt.TaskID,
			domain.TaskStatusFailed,
			shutdownInterruptedMessage,
		); terr != nil && !errors.Is(terr, ErrInvalidTransition) {
			logger.Error("failed to record task interruption", "error", terr)
		}

	default:
		logger.Error("task execution failed", "error", err)
		p.onFailure(exec.attempt, err)
	}
}

// release frees the task's slot and wakes the admission dispatcher.
func (p *WorkerPool) release(taskID int64) {
	p.mu.Lock()
	delete(p.active, taskID)
	p.mu.Unlock()

	select {
	case p.slotFreed <- struct{}{}:
	default:
	}
}

// IsActive reports whether the task currently occupies a slot.
func (p *WorkerPool) IsActive(taskID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, busy := p.active[taskID]
	return busy
}

// RunningCount returns the number of occupied slots.
func (p *WorkerPool) RunningCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Capacity returns the pool's slot count.
func (p *WorkerPool) Capacity() int {
	return p.capacity
}

// SlotFreed exposes the release notification channel to the admission
// dispatcher.
func (p *WorkerPool) SlotFreed() <-chan struct{} {
	return p.slotFreed
}

// CancelActive cancels every in-flight execution and returns the IDs of
// the tasks that were still running. Cancellation is cooperative: the
// executor observes the context and stops; executions blocked in
// uninterruptible work keep running, but their tasks are handed back to
// the shutdown coordinator for the forced failed transition regardless.
func (p *WorkerPool) CancelActive() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]int64, 0, len(p.active))
	for taskID, exec := range p.active {
		exec.cancel()
		ids = append(ids, taskID)
	}
	return ids
}

// WaitWithTimeout blocks until every in-flight execution has finished or
// the timeout elapses. Returns true if the pool drained in time.
func (p *WorkerPool) WaitWithTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// startMessage is the audit log message for the in_progress transition.
func startMessage(attemptNumber int) string {
	if attemptNumber <= 1 {
		return "Task processing started"
	}
	return fmt.Sprintf("Task processing started (attempt %d)", attemptNumber)
}
