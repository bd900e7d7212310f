package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/taskforge/internal/domain"
)

// Statistics is a point-in-time snapshot of the aggregate counters. It is
// a best-effort read: not transactionally consistent with any single
// status write.
type Statistics struct {
	CountsByStatus        map[domain.TaskStatus]int `json:"counts_by_status"`
	AverageProcessingTime time.Duration             `json:"average_processing_time"`
	ProcessedCount        int64                     `json:"processed_count"`
}

// Aggregator maintains running per-status counts and timing aggregates,
// updated incrementally from status tracker events. It never re-scans the
// task set; the only full read is the optional Seed at startup. It is
// read-only to every other component.
type Aggregator struct {
	logger *slog.Logger

	mu              sync.Mutex
	counts          map[domain.TaskStatus]int
	inProgressSince map[int64]time.Time
	totalProcessing time.Duration
	processed       int64
}

// NewAggregator creates an empty statistics aggregator.
func NewAggregator(logger *slog.Logger) *Aggregator {
	return &Aggregator{
		logger:          logger.With("component", "stats_aggregator"),
		counts:          make(map[domain.TaskStatus]int),
		inProgressSince: make(map[int64]time.Time),
	}
}

// Seed initializes the per-status counts, typically from a one-time
// store query at startup. Timing aggregates start empty regardless.
func (a *Aggregator) Seed(counts map[domain.TaskStatus]int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.counts = make(map[domain.TaskStatus]int, len(counts))
	for status, count := range counts {
		a.counts[status] = count
	}
}

// OnTransition implements TransitionListener. It moves one task between
// status buckets and, when a task leaves in_progress for a terminal
// status, folds the time spent processing into the running average.
func (a *Aggregator) OnTransition(taskID int64, from, to domain.TaskStatus, at time.Time) {
	a.mu.Lock()
	if a.counts[from] > 0 {
		a.counts[from]--
	}
	a.counts[to]++

	switch {
	case to == domain.TaskStatusInProgress:
		a.inProgressSince[taskID] = at
	case from == domain.TaskStatusInProgress:
		if started, ok := a.inProgressSince[taskID]; ok {
			elapsed := at.Sub(started)
			a.totalProcessing += elapsed
			a.processed++
			delete(a.inProgressSince, taskID)
			taskProcessingDuration.Observe(elapsed.Seconds())
		}
	}
	a.mu.Unlock()

	taskTransitionsTotal.WithLabelValues(string(to)).Inc()
	if to == domain.TaskStatusInProgress {
		tasksInProgress.Inc()
	} else if from == domain.TaskStatusInProgress {
		tasksInProgress.Dec()
	}
}

// Snapshot returns the current counters.
func (a *Aggregator) Snapshot() Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()

	counts := make(map[domain.TaskStatus]int, len(a.counts))
	for status, count := range a.counts {
		counts[status] = count
	}

	var average time.Duration
	if a.processed > 0 {
		average = a.totalProcessing / time.Duration(a.processed)
	}

	return Statistics{
		CountsByStatus:        counts,
		AverageProcessingTime: average,
		ProcessedCount:        a.processed,
	}
}
