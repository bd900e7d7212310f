package domain

import (
	"errors"
	"time"
)

// TaskStatus represents the processing state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// TaskPriority represents the urgency of a task. Lower values are
// more urgent.
type TaskPriority int

// Possible task priority values
const (
	TaskPriorityCritical TaskPriority = 0
	TaskPriorityHigh     TaskPriority = 1
	TaskPriorityMedium   TaskPriority = 2
	TaskPriorityLow      TaskPriority = 3
)

// Common validation errors for Task
var (
	ErrEmptyTaskTitle      = errors.New("task title cannot be empty")
	ErrInvalidTaskStatus   = errors.New("invalid task status")
	ErrInvalidTaskPriority = errors.New("invalid task priority")
)

// Task represents a unit of work tracked by the system. The record is
// owned by the durable store; the engine only references it by ID and
// changes its status through the status tracker.
type Task struct {
	ID          int64        `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// NewTask creates a new Task with the given title, description and priority.
// The ID is left zero; the store assigns it on first save. The status is
// set to pending and the creation/update timestamps are set.
// Returns an error if validation fails.
func NewTask(title, description string, priority TaskPriority) (*Task, error) {
	task := &Task{
		Title:       title,
		Description: description,
		Status:      TaskStatusPending,
		Priority:    priority,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.Title == "" {
		return ErrEmptyTaskTitle
	}

	if !IsValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	if !IsValidTaskPriority(t.Priority) {
		return ErrInvalidTaskPriority
	}

	return nil
}

// UpdateStatus updates the task's status and bumps the UpdatedAt timestamp.
// Returns an error if the new status is invalid. It performs no state-machine
// checking; callers go through the engine's status tracker for that.
func (t *Task) UpdateStatus(status TaskStatus) error {
	if !IsValidTaskStatus(status) {
		return ErrInvalidTaskStatus
	}

	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// IsProcessing reports whether the task is currently being processed.
func (t *Task) IsProcessing() bool {
	return t.Status == TaskStatusInProgress
}

// IsTerminal reports whether the task has reached a terminal status.
// A failed task is only conditionally terminal: the retry policy may
// re-admit it.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// CanBeProcessed reports whether a processing request for this task is
// admittable. Only pending and failed tasks may be (re)started.
func (t *Task) CanBeProcessed() bool {
	return t.Status == TaskStatusPending || t.Status == TaskStatusFailed
}

// IsValidTaskStatus checks if the given status is a valid TaskStatus.
func IsValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// IsValidTaskPriority checks if the given priority is a valid TaskPriority.
func IsValidTaskPriority(priority TaskPriority) bool {
	return priority >= TaskPriorityCritical && priority <= TaskPriorityLow
}
