package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/roostlabs/roost/errors"
)

// Timestamps are stored as RFC3339 TEXT normalized to UTC so the due-scan
// can compare them lexically against a formatted now.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// nullString returns a NULL bind for empty strings.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullTimeText returns a NULL bind for unset timestamps, otherwise RFC3339.
func nullTimeText(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

// marshalMetadata serializes schedule metadata to JSON for storage.
// Empty maps round-trip as empty strings.
func marshalMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal schedule metadata")
	}
	return string(data), nil
}

// unmarshalMetadata deserializes schedule metadata from storage.
func unmarshalMetadata(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal schedule metadata")
	}
	return m, nil
}

// jobSelectColumns is the canonical column list for scheduled job queries,
// in the order scanJob expects.
const jobSelectColumns = `id, name, handler_name, payload, source_url,
	interval_seconds, next_run_at, last_run_at,
	last_execution_id, state, created_from_doc, metadata,
	created_at, updated_at`

// scanJob scans one scheduled job row. Timestamp or metadata parse failures
// surface as errors since they indicate corruption or a schema mismatch.
func scanJob(row interface{ Scan(...interface{}) error }) (*Job, error) {
	var job Job
	var nextRunAt, createdAt, updatedAt string
	var handlerName, payload, sourceURL sql.NullString
	var lastRunAt, lastExecutionID, createdFromDoc, metadata sql.NullString

	err := row.Scan(
		&job.ID,
		&job.Name,
		&handlerName,
		&payload,
		&sourceURL,
		&job.IntervalSeconds,
		&nextRunAt,
		&lastRunAt,
		&lastExecutionID,
		&job.State,
		&createdFromDoc,
		&metadata,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	next, err := time.Parse(time.RFC3339, nextRunAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse next_run_at for scheduled job %s", job.ID)
	}
	job.NextRunAt = &next

	job.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for scheduled job %s", job.ID)
	}
	job.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for scheduled job %s", job.ID)
	}

	if lastRunAt.Valid {
		last, err := time.Parse(time.RFC3339, lastRunAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse last_run_at for scheduled job %s", job.ID)
		}
		job.LastRunAt = &last
	}
	if lastExecutionID.Valid {
		job.LastExecutionID = lastExecutionID.String
	}
	if handlerName.Valid {
		job.HandlerName = handlerName.String
	}
	if payload.Valid {
		job.Payload = json.RawMessage(payload.String)
	}
	if sourceURL.Valid {
		job.SourceURL = sourceURL.String
	}
	if createdFromDoc.Valid {
		job.CreatedFromDoc = createdFromDoc.String
	}
	if metadata.Valid {
		job.Metadata, err = unmarshalMetadata(metadata.String)
		if err != nil {
			return nil, errors.Wrapf(err, "scheduled job %s", job.ID)
		}
	}

	return &job, nil
}

// collectJobs drains rows into a job slice.
func collectJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Store persists scheduled jobs to the scheduled_jobs table.
type Store struct {
	db *sql.DB
}

// NewStore creates a schedule store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateJob inserts a new scheduled job. Missing state defaults to active
// and a missing next run time means the job is due immediately.
func (s *Store) CreateJob(job *Job) error {
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.State == "" {
		job.State = StateActive
	}
	if job.NextRunAt == nil {
		job.NextRunAt = &now
	}

	metadata, err := marshalMetadata(job.Metadata)
	if err != nil {
		return err
	}

	payload := ""
	if len(job.Payload) > 0 {
		payload = string(job.Payload)
	}

	_, err = s.db.Exec(`
		INSERT INTO scheduled_jobs (id, name, handler_name, payload, source_url,
			interval_seconds, next_run_at, last_run_at,
			last_execution_id, state, created_from_doc, metadata,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, nullString(job.HandlerName), nullString(payload),
		nullString(job.SourceURL), job.IntervalSeconds, fmtTime(*job.NextRunAt),
		nullTimeText(job.LastRunAt), nullString(job.LastExecutionID), job.State,
		nullString(job.CreatedFromDoc), nullString(metadata),
		fmtTime(now), fmtTime(now))
	if err != nil {
		return errors.Wrapf(err, "failed to create scheduled job %s", job.ID)
	}
	return nil
}

// GetJob retrieves a scheduled job by ID. Returns a not-found error when no
// row exists.
func (s *Store) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(`
		SELECT `+jobSelectColumns+`
		FROM scheduled_jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "scheduled job %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get scheduled job %s", id)
	}
	return job, nil
}

// ListJobs returns all scheduled jobs except soft-deleted ones, newest
// first. Capped at 1000 rows.
func (s *Store) ListJobs() ([]*Job, error) {
	rows, err := s.db.Query(`
		SELECT `+jobSelectColumns+`
		FROM scheduled_jobs
		WHERE state != ?
		ORDER BY created_at DESC
		LIMIT 1000`, StateDeleted)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list scheduled jobs")
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListJobsDue returns active jobs whose next run time has passed, oldest
// first. Capped at 100 rows per scan so one tick cannot flood the queue.
func (s *Store) ListJobsDue(now time.Time) ([]*Job, error) {
	return s.ListJobsDueContext(context.Background(), now)
}

// ListJobsDueContext is ListJobsDue with cancellation, for the ticker's
// shutdown path.
func (s *Store) ListJobsDueContext(ctx context.Context, now time.Time) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobSelectColumns+`
		FROM scheduled_jobs
		WHERE state = ? AND next_run_at <= ?
		ORDER BY next_run_at ASC
		LIMIT 100`, StateActive, fmtTime(now))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due scheduled jobs")
	}
	defer rows.Close()
	return collectJobs(rows)
}

// GetNextScheduledJob returns the soonest active scheduled job, or nil when
// nothing is scheduled.
func (s *Store) GetNextScheduledJob() (*Job, error) {
	row := s.db.QueryRow(`
		SELECT `+jobSelectColumns+`
		FROM scheduled_jobs
		WHERE state = ?
		ORDER BY next_run_at ASC
		LIMIT 1`, StateActive)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get next scheduled job")
	}
	return job, nil
}

// UpdateJobState transitions a scheduled job to a new state.
func (s *Store) UpdateJobState(jobID, newState string) error {
	if !IsValidState(newState) {
		return errors.Newf("invalid schedule state %q", newState)
	}

	result, err := s.db.Exec(`
		UPDATE scheduled_jobs
		SET state = ?, updated_at = ?
		WHERE id = ?`, newState, fmtTime(time.Now()), jobID)
	if err != nil {
		return errors.Wrapf(err, "failed to update state for scheduled job %s", jobID)
	}
	return requireRow(result, jobID)
}

// UpdateJobInterval changes how often a scheduled job runs.
func (s *Store) UpdateJobInterval(jobID string, intervalSeconds int) error {
	if intervalSeconds < 1 {
		return errors.Newf("interval must be at least 1 second, got %d", intervalSeconds)
	}

	result, err := s.db.Exec(`
		UPDATE scheduled_jobs
		SET interval_seconds = ?, updated_at = ?
		WHERE id = ?`, intervalSeconds, fmtTime(time.Now()), jobID)
	if err != nil {
		return errors.Wrapf(err, "failed to update interval for scheduled job %s", jobID)
	}
	return requireRow(result, jobID)
}

// UpdateJobAfterExecution records a firing: the run time, the execution that
// tracked it, and when the job runs next.
func (s *Store) UpdateJobAfterExecution(jobID string, lastRun time.Time, executionID string, nextRun time.Time) error {
	result, err := s.db.Exec(`
		UPDATE scheduled_jobs
		SET last_run_at = ?, last_execution_id = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?`,
		fmtTime(lastRun), executionID, fmtTime(nextRun), fmtTime(time.Now()), jobID)
	if err != nil {
		return errors.Wrapf(err, "failed to update scheduled job %s after execution", jobID)
	}
	return requireRow(result, jobID)
}

// DeleteJob soft-deletes a scheduled job, keeping its execution history.
func (s *Store) DeleteJob(jobID string) error {
	return s.UpdateJobState(jobID, StateDeleted)
}

// requireRow converts a zero-row update into a not-found error.
func requireRow(result sql.Result, jobID string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check update result")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "scheduled job %s", jobID)
	}
	return nil
}
