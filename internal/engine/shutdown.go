package engine

import (
	"context"
	"errors"

	"github.com/phrazzld/taskforge/internal/domain"
)

// shutdownInterruptedMessage is the audit log message distinguishing a
// forced shutdown cancellation from an ordinary execution failure.
const shutdownInterruptedMessage = "interrupted by shutdown"

// DrainResult reports what happened to in-flight work during shutdown.
type DrainResult struct {
	// Completed is the number of executions that finished on their own
	// within the drain window.
	Completed int

	// Interrupted is the number of executions that were cancelled and
	// marked failed when the drain timeout elapsed.
	Interrupted int
}

// Stop shuts the engine down: running -> draining -> stopped.
//
// New processing requests are rejected with ErrShuttingDown from the
// moment Stop is called, queued requests are discarded, and pending retry
// timers are cancelled. In-flight executions get up to DrainTimeout to
// finish; any still running after that are cancelled and transitioned to
// failed with a distinct "interrupted by shutdown" audit entry. A late
// completion from a straggling execution is rejected by the state machine,
// so the forced terminal state cannot be overwritten.
//
// Stop is idempotent; every call returns the same DrainResult.
func (e *Engine) Stop() DrainResult {
	e.stopOnce.Do(func() {
		e.state.Store(stateDraining)
		e.logger.Info("engine draining",
			"in_flight", e.pool.RunningCount(),
			"drain_timeout", e.cfg.DrainTimeout)

		close(e.stopCh)
		e.cancelRetryTimers()
		e.dispatcherWG.Wait()

		inFlight := e.pool.RunningCount()

		if e.pool.WaitWithTimeout(e.cfg.DrainTimeout) {
			e.drainResult = DrainResult{Completed: inFlight}
		} else {
			interrupted := e.pool.CancelActive()
			for _, taskID := range interrupted {
				if _, err := e.tracker.Transition(
					context.Background(),
					taskID,
					domain.TaskStatusFailed,
					shutdownInterruptedMessage,
				); err != nil && !errors.Is(err, ErrInvalidTransition) {
					// ErrInvalidTransition means the execution beat us to
					// the failed transition on its own cancellation path.
					e.logger.Error("failed to record shutdown interruption",
						"task_id", taskID,
						"error", err)
				}
			}

			e.drainResult = DrainResult{
				Completed:   inFlight - len(interrupted),
				Interrupted: len(interrupted),
			}
		}

		e.state.Store(stateStopped)
		e.logger.Info("engine stopped",
			"completed", e.drainResult.Completed,
			"interrupted", e.drainResult.Interrupted)
	})

	return e.drainResult
}

// cancelRetryTimers stops every pending retry re-admission.
func (e *Engine) cancelRetryTimers() {
	e.retryMu.Lock()
	defer e.retryMu.Unlock()

	for taskID, timer := range e.retryTimers {
		timer.Stop()
		delete(e.retryTimers, taskID)
	}
}
