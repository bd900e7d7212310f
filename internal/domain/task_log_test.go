package domain

import (
	"testing"
)

func TestNewTaskLog(t *testing.T) {
	t.Parallel() // Enable parallel execution
	entry, err := NewTaskLog(7, TaskStatusInProgress, "Task processing started")

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if entry.TaskID != 7 {
		t.Errorf("Expected task ID 7, got %d", entry.TaskID)
	}

	if entry.Status != TaskStatusInProgress {
		t.Errorf("Expected status %s, got %s", TaskStatusInProgress, entry.Status)
	}

	if entry.Message != "Task processing started" {
		t.Errorf("Unexpected message: %s", entry.Message)
	}

	if entry.CreatedAt.IsZero() {
		t.Error("Expected non-zero CreatedAt time")
	}

	// Test missing task ID
	_, err = NewTaskLog(0, TaskStatusPending, "Task created")
	if err != ErrEmptyLogTaskID {
		t.Errorf("Expected error %v, got %v", ErrEmptyLogTaskID, err)
	}

	// Test invalid status
	_, err = NewTaskLog(7, TaskStatus("bogus"), "")
	if err != ErrInvalidLogStatus {
		t.Errorf("Expected error %v, got %v", ErrInvalidLogStatus, err)
	}
}
