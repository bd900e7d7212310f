package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrazzld/taskforge/internal/domain"
	"github.com/phrazzld/taskforge/internal/store"
)

// Config holds the engine's tunables. Zero values fall back to the
// defaults documented on each field.
type Config struct {
	// MaxConcurrentTasks is the worker pool capacity. Default 50.
	MaxConcurrentTasks int

	// TaskRetryAttempts is the retry policy ceiling. Default 3.
	TaskRetryAttempts int

	// RetryBaseDelay is the backoff base. Default 1s.
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the backoff. Default 1m.
	RetryMaxDelay time.Duration

	// DrainTimeout bounds the shutdown drain. Default 30s.
	DrainTimeout time.Duration

	// AdmissionQueueCapacity sizes the bounded FIFO wait queue in front of
	// the pool. Zero (the default) rejects on saturation instead of
	// queueing.
	AdmissionQueueCapacity int

	// Executor is the task body. Defaults to a SimulatedExecutor.
	Executor Executor
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTasks: 50,
		TaskRetryAttempts:  3,
		RetryBaseDelay:     time.Second,
		RetryMaxDelay:      time.Minute,
		DrainTimeout:       30 * time.Second,
	}
}

// ProcessingStatus describes the engine's live occupancy.
type ProcessingStatus struct {
	RunningCount int  `json:"running_count"`
	QueuedCount  int  `json:"queued_count"`
	Capacity     int  `json:"capacity"`
	IsDraining   bool `json:"is_draining"`
}

// Engine lifecycle states.
const (
	stateRunning int32 = iota
	stateDraining
	stateStopped
)

// admissionRequest is a queued processing request waiting for a slot.
type admissionRequest struct {
	taskID  int64
	attempt int
}

// Engine ties the components together: it is the admission controller in
// front of the worker pool, the owner of the retry schedule, and the
// shutdown coordinator. All request-layer operations go through it.
type Engine struct {
	cfg     Config
	store   store.TaskStore
	tracker *StatusTracker
	pool    *WorkerPool
	stats   *Aggregator
	retry   RetryPolicy
	logger  *slog.Logger

	state  atomic.Int32
	stopCh chan struct{}

	// queue is nil when AdmissionQueueCapacity is zero.
	queue        chan admissionRequest
	dispatcherWG sync.WaitGroup

	retryMu     sync.Mutex
	retryTimers map[int64]*time.Timer

	stopOnce    sync.Once
	drainResult DrainResult
}

// New creates an Engine backed by the given task store. db may be nil for
// stores with atomic per-call writes (see NewStatusTracker).
func New(taskStore store.TaskStore, db *sql.DB, cfg Config, logger *slog.Logger) *Engine {
	defaults := DefaultConfig()
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = defaults.MaxConcurrentTasks
	}
	if cfg.TaskRetryAttempts <= 0 {
		cfg.TaskRetryAttempts = defaults.TaskRetryAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = defaults.RetryMaxDelay
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaults.DrainTimeout
	}
	if cfg.Executor == nil {
		cfg.Executor = &SimulatedExecutor{}
	}

	tracker := NewStatusTracker(taskStore, db, logger)
	stats := NewAggregator(logger)
	tracker.Subscribe(stats)

	e := &Engine{
		cfg:     cfg,
		store:   taskStore,
		tracker: tracker,
		stats:   stats,
		retry: RetryPolicy{
			MaxAttempts: cfg.TaskRetryAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		logger:      logger.With("component", "engine"),
		stopCh:      make(chan struct{}),
		retryTimers: make(map[int64]*time.Timer),
	}

	e.pool = NewWorkerPool(cfg.MaxConcurrentTasks, tracker, cfg.Executor, logger)
	e.pool.onFailure = e.handleFailure

	if cfg.AdmissionQueueCapacity > 0 {
		e.queue = make(chan admissionRequest, cfg.AdmissionQueueCapacity)
	}

	return e
}

// Start seeds the statistics aggregator from the store and launches the
// admission dispatcher when a wait queue is configured.
func (e *Engine) Start(ctx context.Context) error {
	counts, err := e.store.CountTasksByStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed statistics: %w", err)
	}
	e.stats.Seed(counts)

	if e.queue != nil {
		e.dispatcherWG.Add(1)
		go e.dispatch()
	}

	e.logger.Info("engine started",
		"capacity", e.cfg.MaxConcurrentTasks,
		"retry_attempts", e.cfg.TaskRetryAttempts,
		"queue_capacity", e.cfg.AdmissionQueueCapacity)

	return nil
}

// RequestProcessing asks the engine to execute the task with the given
// ID. It returns nil when the request is admitted (running or queued),
// or one of ErrAlreadyProcessing, ErrNotEligible, ErrBusy,
// ErrShuttingDown, store.ErrTaskNotFound, or a store failure.
func (e *Engine) RequestProcessing(ctx context.Context, taskID int64) error {
	if e.state.Load() != stateRunning {
		admissionRejectionsTotal.WithLabelValues(rejectionShuttingDown).Inc()
		return ErrShuttingDown
	}

	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	if task.IsProcessing() || e.pool.IsActive(taskID) {
		admissionRejectionsTotal.WithLabelValues(rejectionAlreadyProcessing).Inc()
		return fmt.Errorf("%w: task %d", ErrAlreadyProcessing, taskID)
	}

	if !task.CanBeProcessed() {
		admissionRejectionsTotal.WithLabelValues(rejectionNotEligible).Inc()
		return fmt.Errorf("%w: task %d is %s", ErrNotEligible, taskID, task.Status)
	}

	return e.admit(ctx, taskID, 1)
}

// admit hands the request to the worker pool, falling back to the wait
// queue on saturation. attempt is carried through so retry re-admissions
// keep their attempt number.
func (e *Engine) admit(ctx context.Context, taskID int64, attempt int) error {
	err := e.pool.Submit(ctx, taskID, attempt)

	if errors.Is(err, ErrPoolSaturated) {
		if e.queue == nil {
			admissionRejectionsTotal.WithLabelValues(rejectionBusy).Inc()
			return ErrBusy
		}

		select {
		case e.queue <- admissionRequest{taskID: taskID, attempt: attempt}:
			admissionQueueDepth.Set(float64(len(e.queue)))
			e.logger.Debug("processing request queued",
				"task_id", taskID,
				"queue_len", len(e.queue),
				"queue_cap", cap(e.queue))
			return nil
		default:
			admissionRejectionsTotal.WithLabelValues(rejectionBusy).Inc()
			return fmt.Errorf("%w: queue capacity %d reached", ErrBusy, cap(e.queue))
		}
	}

	if errors.Is(err, ErrInvalidTransition) {
		// The task changed state between the eligibility check and the
		// status write; report it the way the check would have.
		admissionRejectionsTotal.WithLabelValues(rejectionNotEligible).Inc()
		return fmt.Errorf("%w: %v", ErrNotEligible, err)
	}

	return err
}

// handleFailure routes an execution failure through the retry policy.
// The task always transitions to failed; if the policy grants a retry,
// re-admission is scheduled after the backoff delay.
func (e *Engine) handleFailure(attempt ProcessingAttempt, cause error) {
	decision := e.retry.Decide(attempt.Number, cause)

	var message string
	if decision.Retry {
		message = fmt.Sprintf("Attempt %d failed: %v (retrying in %s)",
			attempt.Number, cause, decision.Delay)
	} else {
		message = fmt.Sprintf("Attempt %d failed: %v (giving up after %d attempts)",
			attempt.Number, cause, attempt.Number)
	}

	if _, err := e.tracker.Transition(
		context.Background(),
		attempt.TaskID,
		domain.TaskStatusFailed,
		message,
	); err != nil {
		e.logger.Error("failed to record task failure",
			"task_id", attempt.TaskID,
			"attempt", attempt.Number,
			"error", err)
		return
	}

	if decision.Retry {
		e.scheduleRetry(attempt.TaskID, attempt.Number+1, decision.Delay)
	}
}

// scheduleRetry arms a timer that re-admits the task after the backoff
// delay. Timers are cancelled wholesale on shutdown.
func (e *Engine) scheduleRetry(taskID int64, nextAttempt int, delay time.Duration) {
	e.retryMu.Lock()
	defer e.retryMu.Unlock()

	if e.state.Load() != stateRunning {
		return
	}

	e.retryTimers[taskID] = time.AfterFunc(delay, func() {
		e.retryMu.Lock()
		delete(e.retryTimers, taskID)
		e.retryMu.Unlock()

		if e.state.Load() != stateRunning {
			return
		}

		e.logger.Info("re-admitting task for retry",
			"task_id", taskID,
			"attempt", nextAttempt)

		if err := e.admit(context.Background(), taskID, nextAttempt); err != nil {
			// The task stays failed; a later external request may retry it.
			e.logger.Warn("retry re-admission failed",
				"task_id", taskID,
				"attempt", nextAttempt,
				"error", err)
		}
	})
}

// ProcessingStatus returns the engine's live occupancy.
func (e *Engine) ProcessingStatus() ProcessingStatus {
	queued := 0
	if e.queue != nil {
		queued = len(e.queue)
	}

	return ProcessingStatus{
		RunningCount: e.pool.RunningCount(),
		QueuedCount:  queued,
		Capacity:     e.pool.Capacity(),
		IsDraining:   e.state.Load() == stateDraining,
	}
}

// Statistics returns a snapshot of the aggregate counters.
func (e *Engine) Statistics() Statistics {
	return e.stats.Snapshot()
}

// Tracker exposes the status tracker, the single legal path for status
// writes, to wiring code.
func (e *Engine) Tracker() *StatusTracker {
	return e.tracker
}
