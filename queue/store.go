package queue

import (
	"database/sql"
	"time"

	"github.com/roostlabs/roost/errors"
)

// Store persists jobs to the queue_jobs table.
type Store struct {
	db *sql.DB
}

// NewStore creates a job store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// nullString returns a NULL bind for empty strings.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullTime returns a NULL bind for unset timestamps.
func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// CreateJob inserts a new job.
func (s *Store) CreateJob(job *Job) error {
	stateJSON, err := MarshalJobState(job.State)
	if err != nil {
		return err
	}

	payload := ""
	if len(job.Payload) > 0 {
		payload = string(job.Payload)
	}

	_, err = s.db.Exec(`
		INSERT INTO queue_jobs (id, handler_name, payload, source, category, priority, description,
			status, progress, cost_estimate, cost_actual, state, error, parent_job_id, retry_count,
			created_at, updated_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.HandlerName, nullString(payload), job.Source, string(job.Category),
		string(job.Priority), job.Description, string(job.Status), job.Progress,
		job.CostEstimate, job.CostActual, nullString(stateJSON), nullString(job.Error),
		nullString(job.ParentJobID), job.RetryCount,
		job.CreatedAt, job.UpdatedAt, nullTime(job.StartedAt), nullTime(job.CompletedAt))
	if err != nil {
		return errors.Wrapf(err, "failed to create job %s", job.ID)
	}
	return nil
}

// GetJob retrieves a job by ID. Returns a not-found error when no row exists.
func (s *Store) GetJob(jobID string) (*Job, error) {
	row := s.db.QueryRow(`
		SELECT `+StandardJobSelectColumns+`
		FROM queue_jobs WHERE id = ?`, jobID)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", jobID)
	}
	return job, nil
}

// UpdateJob persists the mutable fields of a job.
func (s *Store) UpdateJob(job *Job) error {
	stateJSON, err := MarshalJobState(job.State)
	if err != nil {
		return err
	}

	result, err := s.db.Exec(`
		UPDATE queue_jobs
		SET category = ?, priority = ?, description = ?, status = ?, progress = ?,
			cost_estimate = ?, cost_actual = ?, state = ?, error = ?, retry_count = ?,
			updated_at = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		string(job.Category), string(job.Priority), job.Description, string(job.Status),
		job.Progress, job.CostEstimate, job.CostActual, nullString(stateJSON),
		nullString(job.Error), job.RetryCount,
		job.UpdatedAt, nullTime(job.StartedAt), nullTime(job.CompletedAt), job.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to update job %s", job.ID)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check update result")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "job %s", job.ID)
	}
	return nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Store) ListJobs(status string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + StandardJobSelectColumns + ` FROM queue_jobs`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListActiveJobs returns all jobs that still need attention: queued, running,
// or paused.
func (s *Store) ListActiveJobs() ([]*Job, error) {
	rows, err := s.db.Query(`
		SELECT `+StandardJobSelectColumns+`
		FROM queue_jobs
		WHERE status IN ('queued', 'running', 'paused')
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active jobs")
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListJobsByParent returns the children of a parent job, oldest first.
func (s *Store) ListJobsByParent(parentJobID string) ([]*Job, error) {
	rows, err := s.db.Query(`
		SELECT `+StandardJobSelectColumns+`
		FROM queue_jobs
		WHERE parent_job_id = ?
		ORDER BY created_at ASC`, parentJobID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list jobs for parent %s", parentJobID)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// NextQueuedJob returns the next job to dispatch: highest priority first,
// oldest first within a priority. Returns (nil, nil) when the queue is empty.
func (s *Store) NextQueuedJob() (*Job, error) {
	row := s.db.QueryRow(`
		SELECT ` + StandardJobSelectColumns + `
		FROM queue_jobs
		WHERE status = 'queued'
		ORDER BY CASE priority
			WHEN 'critical' THEN 0
			WHEN 'high' THEN 1
			WHEN 'medium' THEN 2
			WHEN 'low' THEN 3
			ELSE 4
		END, created_at ASC
		LIMIT 1`)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan next queued job")
	}
	return job, nil
}

// FindActiveJobBySourceAndHandler returns a non-terminal job matching the
// source and handler, or (nil, nil) when none exists. Used for deduplication
// before enqueueing.
func (s *Store) FindActiveJobBySourceAndHandler(source, handlerName string) (*Job, error) {
	row := s.db.QueryRow(`
		SELECT `+StandardJobSelectColumns+`
		FROM queue_jobs
		WHERE source = ? AND handler_name = ?
			AND status IN ('queued', 'running', 'paused')
		ORDER BY created_at DESC
		LIMIT 1`, source, handlerName)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find active job for source %s", source)
	}
	return job, nil
}

// FindRecentJobBySourceAndHandler returns the most recent job for the source
// and handler created at or after since, or (nil, nil) when none exists.
func (s *Store) FindRecentJobBySourceAndHandler(source, handlerName string, since time.Time) (*Job, error) {
	row := s.db.QueryRow(`
		SELECT `+StandardJobSelectColumns+`
		FROM queue_jobs
		WHERE source = ? AND handler_name = ? AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT 1`, source, handlerName, since)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find recent job for source %s", source)
	}
	return job, nil
}

// CountByStatus returns job counts grouped by status.
func (s *Store) CountByStatus() (map[JobStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM queue_jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs by status")
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan status count")
		}
		counts[JobStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate status counts")
	}
	return counts, nil
}

// DeleteJob removes a job row.
func (s *Store) DeleteJob(jobID string) error {
	result, err := s.db.Exec(`DELETE FROM queue_jobs WHERE id = ?`, jobID)
	if err != nil {
		return errors.Wrapf(err, "failed to delete job %s", jobID)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check delete result")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "job %s", jobID)
	}
	return nil
}

// CleanupOldJobs deletes terminal jobs that completed before the cutoff.
// Returns the number of rows removed.
func (s *Store) CleanupOldJobs(olderThan time.Time) (int, error) {
	result, err := s.db.Exec(`
		DELETE FROM queue_jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
			AND completed_at IS NOT NULL
			AND completed_at < ?`, olderThan)
	if err != nil {
		return 0, errors.Wrap(err, "failed to clean up old jobs")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count cleaned up jobs")
	}
	return int(rows), nil
}

// collectJobs drains a result set into a job slice.
func collectJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job := &Job{}
		args := &JobScanArgs{}
		if err := rows.Scan(GetJobScanTargets(job, args)...); err != nil {
			return nil, errors.Wrap(err, "failed to scan job row")
		}
		if err := ProcessJobScanArgs(job, args); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate job rows")
	}
	return jobs, nil
}
