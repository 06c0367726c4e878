package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/queue"
)

const (
	// Default and max limits for job listing queries
	defaultJobLimit = 50
	maxJobLimit     = 200
)

// EnqueueJobRequest is the POST /api/jobs body.
type EnqueueJobRequest struct {
	Handler      string          `json:"handler"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Source       string          `json:"source,omitempty"`
	Category     string          `json:"category,omitempty"`
	Priority     string          `json:"priority,omitempty"`
	Description  string          `json:"description,omitempty"`
	CostEstimate float64         `json:"cost_estimate,omitempty"`
}

// handleJobs handles requests to /api/jobs.
// GET: list jobs, newest first, optionally filtered by ?status=
// POST: enqueue a job
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListJobs(w, r)
	case http.MethodPost:
		s.handleEnqueueJob(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", defaultJobLimit, 1, maxJobLimit)
	status := r.URL.Query().Get("status")

	jobs, err := s.queue.ListJobs(status, limit)
	if err != nil {
		handleError(w, s.logger, err, "failed to list jobs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (s *Server) handleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req EnqueueJobRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	if req.Handler == "" {
		writeError(w, http.StatusBadRequest, "handler is required")
		return
	}

	// Reject early when the daemon has no handler for this name; the job
	// would only sit in the queue until a worker fails it.
	if s.pool != nil && s.pool.Registry() != nil {
		if _, ok := s.pool.Registry().Get(req.Handler); !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("handler %q not registered", req.Handler))
			return
		}
	}

	source := req.Source
	if source == "" {
		source = "api"
	}

	var opts []queue.JobOption
	if req.Category != "" {
		opts = append(opts, queue.WithCategory(queue.Category(req.Category)))
	}
	if req.Priority != "" {
		opts = append(opts, queue.WithPriority(queue.Priority(req.Priority)))
	}
	if req.Description != "" {
		opts = append(opts, queue.WithDescription(req.Description))
	}
	if req.CostEstimate > 0 {
		opts = append(opts, queue.WithCostEstimate(req.CostEstimate))
	}

	job, err := queue.NewJob(req.Handler, req.Payload, source, opts...)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.queue.Enqueue(job); err != nil {
		handleError(w, s.logger, err, "failed to enqueue job")
		return
	}

	s.logger.Infow("Job enqueued",
		"job_id", shortID(job.ID),
		"handler", job.HandlerName,
		"source", job.Source,
	)
	writeJSON(w, http.StatusCreated, job)
}

// handleJob handles /api/jobs/{id} and the cancel/retry/resume sub-actions.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	parts := extractPathParts(r.URL.Path, "/api/jobs/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID")
		return
	}
	jobID := parts[0]

	if len(parts) > 1 && parts[1] != "" {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		switch parts[1] {
		case "cancel":
			s.handleCancelJob(w, r, jobID)
		case "retry":
			s.handleRetryJob(w, r, jobID)
		case "resume":
			s.handleResumeJob(w, r, jobID)
		default:
			writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown job action %q", parts[1]))
		}
		return
	}

	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	s.handleGetJob(w, r, jobID)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.queue.Get(jobID)
	if err != nil {
		handleError(w, s.logger, err, "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if err := s.queue.Cancel(jobID, "cancelled via API"); err != nil {
		writeTransitionError(w, err, "failed to cancel job")
		return
	}
	s.logger.Infow("Job cancelled", "job_id", shortID(jobID))
	s.writeJob(w, jobID)
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if err := s.queue.Retry(jobID); err != nil {
		writeTransitionError(w, err, "failed to retry job")
		return
	}
	s.logger.Infow("Job retried", "job_id", shortID(jobID))
	s.writeJob(w, jobID)
}

// handleResumeJob returns a paused job to the queue. This is the operator
// remedy for a stuck gate pause: the daemon releases those on its own, but
// an operator should not have to wait for the sweep.
func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if err := s.queue.Resume(jobID); err != nil {
		writeTransitionError(w, err, "failed to resume job")
		return
	}
	s.logger.Infow("Job resumed", "job_id", shortID(jobID))
	s.writeJob(w, jobID)
}

// writeJob responds with the job's current row.
func (s *Server) writeJob(w http.ResponseWriter, jobID string) {
	job, err := s.queue.Get(jobID)
	if err != nil {
		handleError(w, s.logger, err, "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// writeTransitionError distinguishes a missing job from an illegal state
// transition: the former is a 404, the latter a conflict with the job's
// current status.
func writeTransitionError(w http.ResponseWriter, err error, message string) {
	if errors.IsNotFoundError(err) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s: %v", message, err))
		return
	}
	writeError(w, http.StatusConflict, fmt.Sprintf("%s: %v", message, err))
}
