package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/taskforge/internal/domain"
	"github.com/phrazzld/taskforge/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, mockStore *MockTaskStore, cfg Config) *Engine {
	t.Helper()

	e := New(mockStore, nil, cfg, discardLogger())
	require.NoError(t, e.Start(context.Background()))
	return e
}

func waitForStatus(t *testing.T, s *MockTaskStore, taskID int64, want domain.TaskStatus) {
	t.Helper()

	require.Eventually(t, func() bool {
		return s.TaskStatus(taskID) == want
	}, 2*time.Second, 5*time.Millisecond,
		"task %d never reached %s (still %s)", taskID, want, s.TaskStatus(taskID))
}

func waitForLogs(t *testing.T, s *MockTaskStore, taskID int64, n int) []*domain.TaskLog {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(s.Logs(taskID)) >= n
	}, 2*time.Second, 5*time.Millisecond,
		"task %d never accumulated %d log entries", taskID, n)
	return s.Logs(taskID)
}

func TestEngineProcessesTaskEndToEnd(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	task := seedTask(t, mockStore, domain.TaskStatusPending)

	e := newTestEngine(t, mockStore, Config{
		MaxConcurrentTasks: 2,
		Executor: ExecutorFunc(func(ctx context.Context, task *domain.Task) error {
			return nil
		}),
	})
	defer e.Stop()

	require.NoError(t, e.RequestProcessing(context.Background(), task.ID))
	waitForStatus(t, mockStore, task.ID, domain.TaskStatusCompleted)

	logs := waitForLogs(t, mockStore, task.ID, 2)
	require.Len(t, logs, 2)
	assert.Equal(t, "Task processing started", logs[0].Message)
	assert.Equal(t, "Task completed successfully", logs[1].Message)

	require.Eventually(t, func() bool {
		return e.Statistics().ProcessedCount == 1
	}, 2*time.Second, 5*time.Millisecond)

	stats := e.Statistics()
	assert.Equal(t, 1, stats.CountsByStatus[domain.TaskStatusCompleted])
	assert.Equal(t, 0, stats.CountsByStatus[domain.TaskStatusPending])
	assert.GreaterOrEqual(t, stats.AverageProcessingTime, time.Duration(0))
}

func TestEngineRejectsUnknownTask(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, NewMockTaskStore(), Config{})
	defer e.Stop()

	err := e.RequestProcessing(context.Background(), 42)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestEngineRejectsIneligibleTask(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	task := seedTask(t, mockStore, domain.TaskStatusCompleted)

	e := newTestEngine(t, mockStore, Config{})
	defer e.Stop()

	err := e.RequestProcessing(context.Background(), task.ID)
	require.ErrorIs(t, err, ErrNotEligible)
	assert.Contains(t, err.Error(), "completed")
}

func TestEngineRejectsTaskAlreadyProcessing(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	task := seedTask(t, mockStore, domain.TaskStatusPending)
	gate := newGateExecutor()

	e := newTestEngine(t, mockStore, Config{MaxConcurrentTasks: 2, Executor: gate})
	defer e.Stop()

	require.NoError(t, e.RequestProcessing(context.Background(), task.ID))
	gate.waitStarted(t, 1)

	err := e.RequestProcessing(context.Background(), task.ID)
	require.ErrorIs(t, err, ErrAlreadyProcessing)

	close(gate.release)
	waitForStatus(t, mockStore, task.ID, domain.TaskStatusCompleted)
}

func TestEngineRejectsWhenSaturatedWithoutQueue(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	running := seedTask(t, mockStore, domain.TaskStatusPending)
	rejected := seedTask(t, mockStore, domain.TaskStatusPending)
	gate := newGateExecutor()

	e := newTestEngine(t, mockStore, Config{MaxConcurrentTasks: 1, Executor: gate})
	defer e.Stop()

	require.NoError(t, e.RequestProcessing(context.Background(), running.ID))
	gate.waitStarted(t, 1)

	err := e.RequestProcessing(context.Background(), rejected.ID)
	require.ErrorIs(t, err, ErrBusy)

	// The rejected task is untouched and can be re-requested later.
	assert.Equal(t, domain.TaskStatusPending, mockStore.TaskStatus(rejected.ID))
	assert.Empty(t, mockStore.Logs(rejected.ID))

	close(gate.release)
	waitForStatus(t, mockStore, running.ID, domain.TaskStatusCompleted)
}

func TestEngineQueuesWhenSaturated(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	running := seedTask(t, mockStore, domain.TaskStatusPending)
	first := seedTask(t, mockStore, domain.TaskStatusPending)
	second := seedTask(t, mockStore, domain.TaskStatusPending)
	overflow := seedTask(t, mockStore, domain.TaskStatusPending)
	gate := newGateExecutor()

	e := newTestEngine(t, mockStore, Config{
		MaxConcurrentTasks:     1,
		AdmissionQueueCapacity: 1,
		Executor:               gate,
	})
	defer e.Stop()

	require.NoError(t, e.RequestProcessing(context.Background(), running.ID))
	gate.waitStarted(t, 1)

	// Pool full: the next request is queued. The dispatcher pulls it off
	// the channel and holds it while waiting for a slot, so wait for the
	// hand-off before filling the queue again.
	require.NoError(t, e.RequestProcessing(context.Background(), first.ID))
	assert.Equal(t, domain.TaskStatusPending, mockStore.TaskStatus(first.ID))
	require.Eventually(t, func() bool {
		return e.ProcessingStatus().QueuedCount == 0
	}, 2*time.Second, time.Millisecond)

	// The dispatcher is parked on the first request; this one stays in
	// the queue and the one after overflows it.
	require.NoError(t, e.RequestProcessing(context.Background(), second.ID))
	assert.Equal(t, 1, e.ProcessingStatus().QueuedCount)

	err := e.RequestProcessing(context.Background(), overflow.ID)
	require.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, domain.TaskStatusPending, mockStore.TaskStatus(overflow.ID))

	close(gate.release)
	waitForStatus(t, mockStore, running.ID, domain.TaskStatusCompleted)
	waitForStatus(t, mockStore, first.ID, domain.TaskStatusCompleted)
	waitForStatus(t, mockStore, second.ID, domain.TaskStatusCompleted)
}

func TestEngineRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	task := seedTask(t, mockStore, domain.TaskStatusPending)

	var calls atomic.Int32
	e := newTestEngine(t, mockStore, Config{
		MaxConcurrentTasks: 1,
		TaskRetryAttempts:  3,
		RetryBaseDelay:     time.Millisecond,
		RetryMaxDelay:      10 * time.Millisecond,
		Executor: ExecutorFunc(func(ctx context.Context, task *domain.Task) error {
			if calls.Add(1) < 3 {
				return errors.New("transient failure")
			}
			return nil
		}),
	})
	defer e.Stop()

	require.NoError(t, e.RequestProcessing(context.Background(), task.ID))
	waitForStatus(t, mockStore, task.ID, domain.TaskStatusCompleted)
	assert.Equal(t, int32(3), calls.Load())

	messages := make([]string, 0, 6)
	for _, entry := range waitForLogs(t, mockStore, task.ID, 6) {
		messages = append(messages, entry.Message)
	}
	require.Len(t, messages, 6)
	assert.Equal(t, "Task processing started", messages[0])
	assert.Contains(t, messages[1], "Attempt 1 failed")
	assert.Contains(t, messages[1], "retrying in")
	assert.Equal(t, "Task processing started (attempt 2)", messages[2])
	assert.Contains(t, messages[3], "Attempt 2 failed")
	assert.Equal(t, "Task processing started (attempt 3)", messages[4])
	assert.Equal(t, "Task completed successfully", messages[5])
}

func TestEngineGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	task := seedTask(t, mockStore, domain.TaskStatusPending)

	var calls atomic.Int32
	e := newTestEngine(t, mockStore, Config{
		MaxConcurrentTasks: 1,
		TaskRetryAttempts:  2,
		RetryBaseDelay:     time.Millisecond,
		Executor: ExecutorFunc(func(ctx context.Context, task *domain.Task) error {
			calls.Add(1)
			return errors.New("persistent failure")
		}),
	})
	defer e.Stop()

	require.NoError(t, e.RequestProcessing(context.Background(), task.ID))

	require.Eventually(t, func() bool {
		logs := mockStore.Logs(task.ID)
		if len(logs) == 0 {
			return false
		}
		last := logs[len(logs)-1].Message
		return mockStore.TaskStatus(task.ID) == domain.TaskStatusFailed &&
			last == "Attempt 2 failed: persistent failure (giving up after 2 attempts)"
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(2), calls.Load())
}

func TestEngineShutdownDrainsInFlightWork(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	task := seedTask(t, mockStore, domain.TaskStatusPending)
	started := make(chan struct{})

	e := newTestEngine(t, mockStore, Config{
		MaxConcurrentTasks: 1,
		DrainTimeout:       2 * time.Second,
		Executor: ExecutorFunc(func(ctx context.Context, task *domain.Task) error {
			close(started)
			select {
			case <-time.After(50 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}),
	})

	require.NoError(t, e.RequestProcessing(context.Background(), task.ID))
	<-started

	result := e.Stop()
	assert.Equal(t, DrainResult{Completed: 1}, result)
	assert.Equal(t, domain.TaskStatusCompleted, mockStore.TaskStatus(task.ID))
}

func TestEngineShutdownInterruptsStragglers(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	gate := newGateExecutor()

	e := newTestEngine(t, mockStore, Config{
		MaxConcurrentTasks: 3,
		DrainTimeout:       50 * time.Millisecond,
		Executor:           gate,
	})

	var ids []int64
	for i := 0; i < 3; i++ {
		task := seedTask(t, mockStore, domain.TaskStatusPending)
		require.NoError(t, e.RequestProcessing(context.Background(), task.ID))
		ids = append(ids, task.ID)
	}
	gate.waitStarted(t, 3)

	result := e.Stop()
	assert.Equal(t, DrainResult{Interrupted: 3}, result)

	for _, id := range ids {
		waitForStatus(t, mockStore, id, domain.TaskStatusFailed)
		logs := waitForLogs(t, mockStore, id, 2)
		assert.Equal(t, "interrupted by shutdown", logs[len(logs)-1].Message)
	}

	// A stopped engine admits nothing.
	err := e.RequestProcessing(context.Background(), ids[0])
	require.ErrorIs(t, err, ErrShuttingDown)

	// Stop is idempotent.
	assert.Equal(t, result, e.Stop())
}

func TestEngineShutdownDiscardsQueuedRequests(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	running := seedTask(t, mockStore, domain.TaskStatusPending)
	queued := seedTask(t, mockStore, domain.TaskStatusPending)
	gate := newGateExecutor()

	e := newTestEngine(t, mockStore, Config{
		MaxConcurrentTasks:     1,
		AdmissionQueueCapacity: 2,
		DrainTimeout:           50 * time.Millisecond,
		Executor:               gate,
	})

	require.NoError(t, e.RequestProcessing(context.Background(), running.ID))
	gate.waitStarted(t, 1)
	require.NoError(t, e.RequestProcessing(context.Background(), queued.ID))

	result := e.Stop()
	assert.Equal(t, DrainResult{Interrupted: 1}, result)

	// The queued request is dropped without touching the task.
	assert.Equal(t, domain.TaskStatusPending, mockStore.TaskStatus(queued.ID))
	assert.Empty(t, mockStore.Logs(queued.ID))
	assert.Zero(t, e.ProcessingStatus().QueuedCount)
}

func TestEngineProcessingStatus(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	task := seedTask(t, mockStore, domain.TaskStatusPending)
	gate := newGateExecutor()

	e := newTestEngine(t, mockStore, Config{MaxConcurrentTasks: 4, Executor: gate})
	defer e.Stop()

	status := e.ProcessingStatus()
	assert.Equal(t, 0, status.RunningCount)
	assert.Equal(t, 4, status.Capacity)
	assert.False(t, status.IsDraining)

	require.NoError(t, e.RequestProcessing(context.Background(), task.ID))
	gate.waitStarted(t, 1)
	assert.Equal(t, 1, e.ProcessingStatus().RunningCount)

	close(gate.release)
	waitForStatus(t, mockStore, task.ID, domain.TaskStatusCompleted)
}

func TestEngineStartSeedsStatistics(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	seedTask(t, mockStore, domain.TaskStatusPending)
	seedTask(t, mockStore, domain.TaskStatusPending)
	seedTask(t, mockStore, domain.TaskStatusCompleted)

	e := newTestEngine(t, mockStore, Config{})
	defer e.Stop()

	stats := e.Statistics()
	assert.Equal(t, 2, stats.CountsByStatus[domain.TaskStatusPending])
	assert.Equal(t, 1, stats.CountsByStatus[domain.TaskStatusCompleted])
	assert.Zero(t, stats.ProcessedCount)
}

func TestEngineStartFailsWhenSeedingFails(t *testing.T) {
	t.Parallel()

	mockStore := NewMockTaskStore()
	countErr := errors.New("database unavailable")
	mockStore.CountFn = func(ctx context.Context) (map[domain.TaskStatus]int, error) {
		return nil, countErr
	}

	e := New(mockStore, nil, Config{}, discardLogger())
	err := e.Start(context.Background())
	require.ErrorIs(t, err, countErr)
}
