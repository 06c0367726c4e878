package queue

import (
	"database/sql"
	"encoding/json"

	"github.com/roostlabs/roost/errors"
)

// StandardJobSelectColumns is the canonical column list for job SELECTs.
// Every query that scans into a Job must use this order so the scan helpers
// below stay correct.
const StandardJobSelectColumns = `id, handler_name, payload, source, category, priority, description,
	status, progress, cost_estimate, cost_actual, state, error, parent_job_id, retry_count,
	created_at, updated_at, started_at, completed_at`

// JobScanArgs holds scan targets for the nullable job columns. SQLite
// returns NULL for unset TEXT and TIMESTAMP columns, so these go through
// sql.Null* before landing on the Job.
type JobScanArgs struct {
	Payload     sql.NullString
	State       sql.NullString
	Error       sql.NullString
	ParentJobID sql.NullString
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
}

// GetJobScanTargets returns the scan destination slice for a job row, in
// StandardJobSelectColumns order.
func GetJobScanTargets(job *Job, args *JobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.HandlerName,
		&args.Payload,
		&job.Source,
		&job.Category,
		&job.Priority,
		&job.Description,
		&job.Status,
		&job.Progress,
		&job.CostEstimate,
		&job.CostActual,
		&args.State,
		&args.Error,
		&args.ParentJobID,
		&job.RetryCount,
		&job.CreatedAt,
		&job.UpdatedAt,
		&args.StartedAt,
		&args.CompletedAt,
	}
}

// ProcessJobScanArgs copies the nullable scan values onto the job.
func ProcessJobScanArgs(job *Job, args *JobScanArgs) error {
	if args.Payload.Valid && args.Payload.String != "" {
		job.Payload = json.RawMessage(args.Payload.String)
	}
	if args.State.Valid {
		state, err := UnmarshalJobState(args.State.String)
		if err != nil {
			return errors.Wrapf(err, "failed to decode state for job %s", job.ID)
		}
		job.State = state
	}
	if args.Error.Valid {
		job.Error = args.Error.String
	}
	if args.ParentJobID.Valid {
		job.ParentJobID = args.ParentJobID.String
	}
	if args.StartedAt.Valid {
		t := args.StartedAt.Time
		job.StartedAt = &t
	}
	if args.CompletedAt.Valid {
		t := args.CompletedAt.Time
		job.CompletedAt = &t
	}
	return nil
}

// scanJob scans a single row into a new Job.
func scanJob(row interface{ Scan(...interface{}) error }) (*Job, error) {
	job := &Job{}
	args := &JobScanArgs{}
	if err := row.Scan(GetJobScanTargets(job, args)...); err != nil {
		return nil, err
	}
	if err := ProcessJobScanArgs(job, args); err != nil {
		return nil, err
	}
	return job, nil
}
