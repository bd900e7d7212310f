package engine

import (
	"errors"
	"fmt"
)

// Errors returned by the engine's admission and tracking surfaces. All of
// them are inspectable with errors.Is; none are raised asynchronously.
var (
	// ErrInvalidTransition is returned when a status change does not follow
	// a legal state machine edge. The task is left unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadyProcessing is returned for a duplicate processing request
	// while the task occupies a worker slot. Benign; no second execution
	// is started.
	ErrAlreadyProcessing = errors.New("task is already being processed")

	// ErrNotEligible is returned when a processing request names a task
	// whose status is neither pending nor failed.
	ErrNotEligible = errors.New("task is not eligible for processing")

	// ErrPoolSaturated is returned by the worker pool when every slot is
	// in use. Backpressure, not a failure of the task itself.
	ErrPoolSaturated = errors.New("worker pool is saturated")

	// ErrBusy is returned to callers when a request can neither be
	// admitted nor queued. It unwraps to ErrPoolSaturated.
	ErrBusy = fmt.Errorf("%w: admission rejected", ErrPoolSaturated)

	// ErrShuttingDown is returned for any processing request made after
	// the stop signal.
	ErrShuttingDown = errors.New("engine is shutting down")

	// ErrInterrupted marks an execution force-cancelled by the shutdown
	// coordinator.
	ErrInterrupted = errors.New("execution interrupted by shutdown")
)
