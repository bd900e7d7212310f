package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/phrazzld/taskforge/internal/domain"
	"github.com/phrazzld/taskforge/internal/platform/logger"
	"github.com/phrazzld/taskforge/internal/store"
)

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
type PostgresTaskStore struct {
	db store.DBTX
}

// NewPostgresTaskStore creates a new PostgresTaskStore.
func NewPostgresTaskStore(db store.DBTX) *PostgresTaskStore {
	return &PostgresTaskStore{
		db: db,
	}
}

// GetTask retrieves a task by ID.
// Returns store.ErrTaskNotFound if no task exists with the given ID.
func (s *PostgresTaskStore) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	log := logger.FromContext(ctx)

	query := `
		SELECT id, title, description, status, priority, created_at, updated_at
		FROM tasks
		WHERE id = $1
	`

	var task domain.Task
	var description sql.NullString

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&task.ID,
		&task.Title,
		&description,
		&task.Status,
		&task.Priority,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", store.ErrTaskNotFound, id)
		}
		log.Error("failed to get task",
			"task_id", id,
			"error", err)
		return nil, MapError(err)
	}

	task.Description = description.String
	return &task, nil
}

// SaveTask persists a task. Tasks with a zero ID are inserted and receive
// their store-assigned ID; existing tasks are updated in place, status
// and updated_at included.
func (s *PostgresTaskStore) SaveTask(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	if task.ID == 0 {
		query := `
			INSERT INTO tasks (title, description, status, priority, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`

		err := s.db.QueryRowContext(ctx, query,
			task.Title,
			nullableString(task.Description),
			task.Status,
			task.Priority,
			task.CreatedAt,
			task.UpdatedAt,
		).Scan(&task.ID)
		if err != nil {
			log.Error("failed to insert task",
				"task_title", task.Title,
				"error", err)
			return MapError(err)
		}

		return nil
	}

	query := `
		UPDATE tasks
		SET title = $1, description = $2, status = $3, priority = $4, updated_at = $5
		WHERE id = $6
	`

	result, err := s.db.ExecContext(ctx, query,
		task.Title,
		nullableString(task.Description),
		task.Status,
		task.Priority,
		task.UpdatedAt,
		task.ID,
	)
	if err != nil {
		log.Error("failed to update task",
			"task_id", task.ID,
			"status", task.Status,
			"error", err)
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		log.Error("failed to get rows affected",
			"task_id", task.ID,
			"error", err)
		return MapError(err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: id %d", store.ErrTaskNotFound, task.ID)
	}

	return nil
}

// AppendLog inserts an immutable audit entry. Entries are never updated
// or deleted by the application.
func (s *PostgresTaskStore) AppendLog(ctx context.Context, entry *domain.TaskLog) error {
	log := logger.FromContext(ctx)

	if err := entry.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO task_logs (task_id, status, message, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		entry.TaskID,
		entry.Status,
		entry.Message,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		log.Error("failed to append task log",
			"task_id", entry.TaskID,
			"status", entry.Status,
			"error", err)
		return MapError(err)
	}

	return nil
}

// CountTasksByStatus returns the number of tasks per status. Used once at
// startup to seed the statistics aggregator.
func (s *PostgresTaskStore) CountTasksByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	log := logger.FromContext(ctx)

	query := `
		SELECT status, COUNT(id)
		FROM tasks
		GROUP BY status
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		log.Error("failed to count tasks by status", "error", err)
		return nil, MapError(err)
	}
	defer rows.Close()

	counts := make(map[domain.TaskStatus]int)

	for rows.Next() {
		var status domain.TaskStatus
		var count int

		if err := rows.Scan(&status, &count); err != nil {
			log.Error("failed to scan status count row", "error", err)
			return nil, MapError(err)
		}

		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		log.Error("error iterating status count rows", "error", err)
		return nil, MapError(err)
	}

	return counts, nil
}

// WithTx returns a new TaskStore instance that uses the provided transaction.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db: tx,
	}
}

// nullableString converts an empty string to a SQL NULL.
func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
