package domain

import (
	"errors"
	"time"
)

// Common validation errors for TaskLog
var (
	ErrEmptyLogTaskID   = errors.New("task log task ID cannot be empty")
	ErrInvalidLogStatus = errors.New("task log status is invalid")
)

// TaskLog is an append-only audit record of a single status transition.
// For a given task, the ordered sequence of its TaskLog entries is
// exactly the ordered sequence of status transitions it underwent.
// Entries are never mutated or deleted.
type TaskLog struct {
	ID        int64      `json:"id"`
	TaskID    int64      `json:"task_id"`
	Status    TaskStatus `json:"status"`
	Message   string     `json:"message,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// NewTaskLog creates a log entry recording that the given task entered
// the given status. The message carries the human-readable cause
// (e.g. a failure reason). Returns an error if validation fails.
func NewTaskLog(taskID int64, status TaskStatus, message string) (*TaskLog, error) {
	entry := &TaskLog{
		TaskID:    taskID,
		Status:    status,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}

	if err := entry.Validate(); err != nil {
		return nil, err
	}

	return entry, nil
}

// Validate checks if the TaskLog has valid data.
func (l *TaskLog) Validate() error {
	if l.TaskID == 0 {
		return ErrEmptyLogTaskID
	}

	if !IsValidTaskStatus(l.Status) {
		return ErrInvalidLogStatus
	}

	return nil
}
