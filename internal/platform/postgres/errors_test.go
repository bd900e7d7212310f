package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/taskforge/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	t.Parallel()

	t.Run("nil error", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, MapError(nil))
	})

	t.Run("no rows maps to not found", func(t *testing.T) {
		t.Parallel()
		err := MapError(fmt.Errorf("query: %w", sql.ErrNoRows))
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("foreign key violation maps to invalid entity", func(t *testing.T) {
		t.Parallel()
		pgErr := &pgconn.PgError{Code: foreignKeyViolationCode, ConstraintName: "task_logs_task_id_fkey"}
		err := MapError(pgErr)
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
		assert.Contains(t, err.Error(), "task_logs_task_id_fkey")
		assert.True(t, IsForeignKeyViolation(pgErr))
	})

	t.Run("check violation maps to invalid entity", func(t *testing.T) {
		t.Parallel()
		err := MapError(&pgconn.PgError{Code: checkViolationCode, ConstraintName: "tasks_status_check"})
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
	})

	t.Run("unmapped errors pass through", func(t *testing.T) {
		t.Parallel()
		original := errors.New("connection refused")
		assert.Equal(t, original, MapError(original))
	})
}

func TestNullableString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, sql.NullString{String: "", Valid: false}, nullableString(""))
	assert.Equal(t, sql.NullString{String: "x", Valid: true}, nullableString("x"))
}
