package schedule

import (
	"database/sql"
	"time"

	"github.com/roostlabs/roost/errors"
)

// nullStringPtr returns a NULL bind for nil string pointers.
func nullStringPtr(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

// nullInt64Ptr returns a NULL bind for nil int64 pointers.
func nullInt64Ptr(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// executionSelectColumns is the canonical column list for execution queries,
// in the order scanExecution expects.
const executionSelectColumns = `id, scheduled_job_id, async_job_id, status,
	started_at, completed_at, duration_ms,
	result_summary, error_message,
	created_at, updated_at`

// scanExecution scans one execution row.
func scanExecution(row interface{ Scan(...interface{}) error }) (*Execution, error) {
	var exec Execution
	var startedAt, createdAt, updatedAt string
	var asyncJobID, completedAt, resultSummary, errorMessage sql.NullString
	var durationMs sql.NullInt64

	err := row.Scan(
		&exec.ID,
		&exec.ScheduledJobID,
		&asyncJobID,
		&exec.Status,
		&startedAt,
		&completedAt,
		&durationMs,
		&resultSummary,
		&errorMessage,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	exec.StartedAt, err = time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse started_at for execution %s", exec.ID)
	}
	exec.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for execution %s", exec.ID)
	}
	exec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for execution %s", exec.ID)
	}

	if completedAt.Valid {
		done, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse completed_at for execution %s", exec.ID)
		}
		exec.CompletedAt = &done
	}
	if asyncJobID.Valid {
		exec.AsyncJobID = &asyncJobID.String
	}
	if durationMs.Valid {
		exec.DurationMs = &durationMs.Int64
	}
	if resultSummary.Valid {
		exec.ResultSummary = &resultSummary.String
	}
	if errorMessage.Valid {
		exec.ErrorMessage = &errorMessage.String
	}

	return &exec, nil
}

// collectExecutions drains rows into an execution slice.
func collectExecutions(rows *sql.Rows) ([]*Execution, error) {
	var executions []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}
	return executions, rows.Err()
}

// ExecutionStore persists execution history to scheduled_job_executions.
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates an execution store backed by the given database.
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// CreateExecution inserts a new execution record.
func (s *ExecutionStore) CreateExecution(exec *Execution) error {
	_, err := s.db.Exec(`
		INSERT INTO scheduled_job_executions (id, scheduled_job_id, async_job_id, status,
			started_at, completed_at, duration_ms,
			result_summary, error_message,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.ScheduledJobID, nullStringPtr(exec.AsyncJobID), exec.Status,
		fmtTime(exec.StartedAt), nullTimeText(exec.CompletedAt), nullInt64Ptr(exec.DurationMs),
		nullStringPtr(exec.ResultSummary), nullStringPtr(exec.ErrorMessage),
		fmtTime(exec.CreatedAt), fmtTime(exec.UpdatedAt))
	if err != nil {
		return errors.Wrapf(err, "failed to create execution %s", exec.ID)
	}
	return nil
}

// UpdateExecution persists the mutable fields of an execution record.
func (s *ExecutionStore) UpdateExecution(exec *Execution) error {
	result, err := s.db.Exec(`
		UPDATE scheduled_job_executions
		SET async_job_id = ?, status = ?, completed_at = ?, duration_ms = ?,
			result_summary = ?, error_message = ?, updated_at = ?
		WHERE id = ?`,
		nullStringPtr(exec.AsyncJobID), exec.Status, nullTimeText(exec.CompletedAt),
		nullInt64Ptr(exec.DurationMs), nullStringPtr(exec.ResultSummary),
		nullStringPtr(exec.ErrorMessage), fmtTime(exec.UpdatedAt), exec.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to update execution %s", exec.ID)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check update result")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "execution %s", exec.ID)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *ExecutionStore) GetExecution(id string) (*Execution, error) {
	row := s.db.QueryRow(`
		SELECT `+executionSelectColumns+`
		FROM scheduled_job_executions WHERE id = ?`, id)

	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "execution %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get execution %s", id)
	}
	return exec, nil
}

// ListExecutions returns executions for a scheduled job, newest first, with
// the total row count for pagination. An empty statusFilter matches all.
func (s *ExecutionStore) ListExecutions(scheduledJobID string, limit, offset int, statusFilter string) ([]*Execution, int, error) {
	baseQuery := ` FROM scheduled_job_executions WHERE scheduled_job_id = ?`
	args := []interface{}{scheduledJobID}
	if statusFilter != "" {
		baseQuery += " AND status = ?"
		args = append(args, statusFilter)
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*)"+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count executions")
	}

	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, offset)
	rows, err := s.db.Query(`
		SELECT `+executionSelectColumns+baseQuery+`
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list executions")
	}
	defer rows.Close()

	executions, err := collectExecutions(rows)
	if err != nil {
		return nil, 0, err
	}
	return executions, total, nil
}

// ListRecentCompletions returns completed executions across all jobs since
// the given time, newest first. One query serves pollers watching every
// schedule at once.
func (s *ExecutionStore) ListRecentCompletions(since time.Time, limit int) ([]*Execution, error) {
	rows, err := s.db.Query(`
		SELECT `+executionSelectColumns+`
		FROM scheduled_job_executions
		WHERE status = ? AND completed_at > ?
		ORDER BY completed_at DESC
		LIMIT ?`, ExecutionStatusCompleted, fmtTime(since), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recent completions")
	}
	defer rows.Close()
	return collectExecutions(rows)
}

// CleanupOldExecutions deletes execution records older than retentionDays.
// Returns the number of rows deleted.
func (s *ExecutionStore) CleanupOldExecutions(retentionDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result, err := s.db.Exec(`
		DELETE FROM scheduled_job_executions
		WHERE started_at < ?`, fmtTime(cutoff))
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old executions")
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(deleted), nil
}
