package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/vclean/errors"
)

// ExecutionStore handles persistence of cleaner execution history
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates a new execution store
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

const executionColumns = `
	id, cleaner_id, record_type, record_id, status,
	retained_versions, deleted_rows, error_message,
	started_at, completed_at, duration_ms,
	created_at, updated_at`

// CreateExecution creates a new execution record
func (s *ExecutionStore) CreateExecution(ctx context.Context, exec *Execution) error {
	query := `INSERT INTO cleaner_executions (` + executionColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		exec.ID,
		exec.CleanerID,
		exec.RecordType,
		exec.RecordID,
		exec.Status,
		nullString(exec.RetainedVersions),
		exec.DeletedRows,
		nullString(exec.ErrorMessage),
		exec.StartedAt,
		nullString(exec.CompletedAt),
		nullInt(exec.DurationMs),
		exec.CreatedAt,
		exec.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create execution")
	}

	return nil
}

// UpdateExecution updates an existing execution record
func (s *ExecutionStore) UpdateExecution(ctx context.Context, exec *Execution) error {
	query := `
		UPDATE cleaner_executions
		SET status = ?,
		    record_id = ?,
		    retained_versions = ?,
		    deleted_rows = ?,
		    error_message = ?,
		    completed_at = ?,
		    duration_ms = ?,
		    updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		exec.Status,
		exec.RecordID,
		nullString(exec.RetainedVersions),
		exec.DeletedRows,
		nullString(exec.ErrorMessage),
		nullString(exec.CompletedAt),
		nullInt(exec.DurationMs),
		exec.UpdatedAt,
		exec.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update execution")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}

	if rowsAffected == 0 {
		return errors.Wrapf(errors.ErrNotFound, "execution %s", exec.ID)
	}

	return nil
}

// GetExecution retrieves an execution by ID
func (s *ExecutionStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM cleaner_executions WHERE id = ?`, id)

	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "execution %s", id)
		}
		return nil, errors.Wrap(err, "failed to get execution")
	}
	return exec, nil
}

// ListExecutions retrieves executions for a cleaner job, newest first.
// statusFilter is optional. The total ignores limit and offset.
func (s *ExecutionStore) ListExecutions(ctx context.Context, cleanerID int64, limit, offset int, statusFilter string) ([]*Execution, int, error) {
	baseQuery := `
		FROM cleaner_executions
		WHERE cleaner_id = ?
	`
	args := []interface{}{cleanerID}

	if statusFilter != "" {
		baseQuery += " AND status = ?"
		args = append(args, statusFilter)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*)"+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count executions")
	}

	query := `SELECT ` + executionColumns + baseQuery + `
		ORDER BY started_at DESC, created_at DESC
		LIMIT ? OFFSET ?
	`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list executions")
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan execution")
		}
		executions = append(executions, exec)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "error iterating executions")
	}

	return executions, total, nil
}

// CleanupOldExecutions deletes execution records started before the
// retention window and returns how many were removed.
func (s *ExecutionStore) CleanupOldExecutions(ctx context.Context, retentionDays int, now time.Time) (int, error) {
	cutoffTime := now.UTC().AddDate(0, 0, -retentionDays).Format(time.RFC3339)

	result, err := s.db.ExecContext(ctx, `DELETE FROM cleaner_executions WHERE started_at < ?`, cutoffTime)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old executions")
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(deleted), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	var exec Execution
	var retained, errorMessage, completedAt sql.NullString
	var durationMs sql.NullInt64

	err := row.Scan(
		&exec.ID,
		&exec.CleanerID,
		&exec.RecordType,
		&exec.RecordID,
		&exec.Status,
		&retained,
		&exec.DeletedRows,
		&errorMessage,
		&exec.StartedAt,
		&completedAt,
		&durationMs,
		&exec.CreatedAt,
		&exec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if retained.Valid {
		exec.RetainedVersions = &retained.String
	}
	if errorMessage.Valid {
		exec.ErrorMessage = &errorMessage.String
	}
	if completedAt.Valid {
		exec.CompletedAt = &completedAt.String
	}
	if durationMs.Valid {
		duration := int(durationMs.Int64)
		exec.DurationMs = &duration
	}

	return &exec, nil
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullInt(i *int) interface{} {
	if i == nil {
		return nil
	}
	return *i
}
