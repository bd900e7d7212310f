package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/phrazzld/taskforge/internal/domain"
)

// Executor runs the business logic for a single task attempt.
// Implementations must observe ctx cancellation and return promptly when
// it fires; the shutdown coordinator relies on this for draining.
type Executor interface {
	Execute(ctx context.Context, task *domain.Task) error
}

// ExecutorFunc adapts an ordinary function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task *domain.Task) error

// Execute runs the function.
func (f ExecutorFunc) Execute(ctx context.Context, task *domain.Task) error {
	return f(ctx, task)
}

// ErrSimulatedFailure is returned by the simulated executor on its
// randomized failure path.
var ErrSimulatedFailure = errors.New("simulated processing failure")

// SimulatedExecutor is the default task body: it sleeps for a
// priority-weighted duration, checking for cancellation between chunks,
// and fails at a configurable rate. Real deployments inject their own
// Executor; this one exists so the engine is exercisable end to end.
type SimulatedExecutor struct {
	// BaseDuration is the processing time for a medium-priority task.
	// Defaults to 5 seconds.
	BaseDuration time.Duration

	// FailureRate is the probability in [0,1) that an attempt fails.
	// Defaults to 0.1; set negative to never fail.
	FailureRate float64
}

// Execute sleeps for the task's simulated processing time in five chunks,
// returning early if the context is cancelled.
func (e *SimulatedExecutor) Execute(ctx context.Context, task *domain.Task) error {
	total := e.duration(task.Priority)
	chunk := total / 5
	if chunk <= 0 {
		chunk = total
	}

	for elapsed := time.Duration(0); elapsed < total; elapsed += chunk {
		remaining := total - elapsed
		if remaining < chunk {
			chunk = remaining
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(chunk):
		}
	}

	failureRate := e.FailureRate
	if failureRate == 0 {
		failureRate = 0.1
	}
	if failureRate > 0 && rand.Float64() < failureRate { //nolint:gosec // simulation, not security
		return ErrSimulatedFailure
	}

	return nil
}

// duration scales the base processing time by priority: more urgent tasks
// simulate shorter work.
func (e *SimulatedExecutor) duration(priority domain.TaskPriority) time.Duration {
	base := e.BaseDuration
	if base <= 0 {
		base = 5 * time.Second
	}

	var multiplier float64
	switch priority {
	case domain.TaskPriorityCritical:
		multiplier = 0.5
	case domain.TaskPriorityHigh:
		multiplier = 0.8
	case domain.TaskPriorityLow:
		multiplier = 1.5
	default:
		multiplier = 1.0
	}

	return time.Duration(float64(base) * multiplier)
}
