package store

import (
	"context"
	"database/sql"

	"github.com/phrazzld/taskforge/internal/domain"
)

// TaskStore defines the interface for persisting tasks and their audit log.
// It is the only path through which the engine touches durable state; the
// storage engine behind it is not the engine's concern.
type TaskStore interface {
	// GetTask retrieves a task by its ID.
	// Returns ErrTaskNotFound if no task exists with the given ID.
	GetTask(ctx context.Context, id int64) (*domain.Task, error)

	// SaveTask persists the task. A task with a zero ID is inserted and
	// receives its store-assigned ID; otherwise the existing row is
	// updated (status and updated_at included).
	SaveTask(ctx context.Context, task *domain.Task) error

	// AppendLog appends an immutable audit entry for a status transition.
	// Entries are never updated or deleted.
	AppendLog(ctx context.Context, entry *domain.TaskLog) error

	// CountTasksByStatus returns the number of tasks per status across
	// the whole store. Used once at startup to seed the statistics
	// aggregator; steady-state counts are maintained incrementally.
	CountTasksByStatus(ctx context.Context) (map[domain.TaskStatus]int, error)

	// WithTx returns a new TaskStore instance that uses the provided transaction.
	// This allows for multiple operations to be executed within a single transaction.
	// The transaction should be created and managed by the caller.
	WithTx(tx *sql.Tx) TaskStore
}
