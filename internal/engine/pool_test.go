package engine

import (
	"context"
	"testing"
	"time"

	"github.com/phrazzld/taskforge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gateExecutor blocks every execution until released, reporting each
// started attempt on a channel. It lets tests hold pool slots open.
type gateExecutor struct {
	started chan int64
	release chan struct{}
}

func newGateExecutor() *gateExecutor {
	return &gateExecutor{
		started: make(chan int64, 64),
		release: make(chan struct{}),
	}
}

func (g *gateExecutor) Execute(ctx context.Context, task *domain.Task) error {
	g.started <- task.ID
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gateExecutor) waitStarted(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-g.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for execution %d of %d to start", i+1, n)
		}
	}
}

func TestPoolEnforcesCapacity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mockStore := NewMockTaskStore()
	tracker := NewStatusTracker(mockStore, nil, discardLogger())
	gate := newGateExecutor()
	pool := NewWorkerPool(2, tracker, gate, discardLogger())

	first := seedTask(t, mockStore, domain.TaskStatusPending)
	second := seedTask(t, mockStore, domain.TaskStatusPending)
	third := seedTask(t, mockStore, domain.TaskStatusPending)

	require.NoError(t, pool.Submit(ctx, first.ID, 1))
	require.NoError(t, pool.Submit(ctx, second.ID, 1))
	gate.waitStarted(t, 2)

	assert.Equal(t, 2, pool.RunningCount())
	require.ErrorIs(t, pool.Submit(ctx, third.ID, 1), ErrPoolSaturated)

	// The rejected task never left pending.
	assert.Equal(t, domain.TaskStatusPending, mockStore.TaskStatus(third.ID))
	assert.Empty(t, mockStore.Logs(third.ID))

	close(gate.release)
	require.True(t, pool.WaitWithTimeout(2*time.Second))
	assert.Zero(t, pool.RunningCount())
}

func TestPoolRejectsDuplicateSubmit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mockStore := NewMockTaskStore()
	tracker := NewStatusTracker(mockStore, nil, discardLogger())
	gate := newGateExecutor()
	pool := NewWorkerPool(4, tracker, gate, discardLogger())

	task := seedTask(t, mockStore, domain.TaskStatusPending)

	require.NoError(t, pool.Submit(ctx, task.ID, 1))
	gate.waitStarted(t, 1)

	require.ErrorIs(t, pool.Submit(ctx, task.ID, 1), ErrAlreadyProcessing)
	assert.True(t, pool.IsActive(task.ID))

	close(gate.release)
	require.True(t, pool.WaitWithTimeout(2*time.Second))
}

func TestPoolReleasesSlotOnTransitionFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mockStore := NewMockTaskStore()
	tracker := NewStatusTracker(mockStore, nil, discardLogger())
	pool := NewWorkerPool(1, tracker, newGateExecutor(), discardLogger())

	// The start transition is illegal for a completed task; the reserved
	// slot must be handed back.
	task := seedTask(t, mockStore, domain.TaskStatusCompleted)

	require.ErrorIs(t, pool.Submit(ctx, task.ID, 1), ErrInvalidTransition)
	assert.Zero(t, pool.RunningCount())
	assert.False(t, pool.IsActive(task.ID))
}

func TestPoolSignalsSlotFreed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mockStore := NewMockTaskStore()
	tracker := NewStatusTracker(mockStore, nil, discardLogger())
	gate := newGateExecutor()
	pool := NewWorkerPool(1, tracker, gate, discardLogger())

	task := seedTask(t, mockStore, domain.TaskStatusPending)
	require.NoError(t, pool.Submit(ctx, task.ID, 1))
	gate.waitStarted(t, 1)

	close(gate.release)

	select {
	case <-pool.SlotFreed():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for slot-freed signal")
	}
}

func TestPoolRecordsCompletion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mockStore := NewMockTaskStore()
	tracker := NewStatusTracker(mockStore, nil, discardLogger())
	pool := NewWorkerPool(1, tracker, ExecutorFunc(func(ctx context.Context, task *domain.Task) error {
		return nil
	}), discardLogger())

	task := seedTask(t, mockStore, domain.TaskStatusPending)
	require.NoError(t, pool.Submit(ctx, task.ID, 1))
	require.True(t, pool.WaitWithTimeout(2*time.Second))

	assert.Equal(t, domain.TaskStatusCompleted, mockStore.TaskStatus(task.ID))
	logs := mockStore.Logs(task.ID)
	require.Len(t, logs, 2)
	assert.Equal(t, "Task processing started", logs[0].Message)
	assert.Equal(t, "Task completed successfully", logs[1].Message)
}

func TestPoolRetryAttemptStartMessage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mockStore := NewMockTaskStore()
	tracker := NewStatusTracker(mockStore, nil, discardLogger())
	pool := NewWorkerPool(1, tracker, ExecutorFunc(func(ctx context.Context, task *domain.Task) error {
		return nil
	}), discardLogger())

	task := seedTask(t, mockStore, domain.TaskStatusFailed)
	require.NoError(t, pool.Submit(ctx, task.ID, 2))
	require.True(t, pool.WaitWithTimeout(2*time.Second))

	logs := mockStore.Logs(task.ID)
	require.NotEmpty(t, logs)
	assert.Equal(t, "Task processing started (attempt 2)", logs[0].Message)
}
