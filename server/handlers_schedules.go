package server

import (
	"fmt"
	"net/http"

	"github.com/roostlabs/roost/queue/schedule"
)

// handleSchedules handles GET /api/schedules.
func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	jobs, err := s.schedules().ListJobs()
	if err != nil {
		handleError(w, s.logger, err, "failed to list schedules")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"schedules": jobs,
		"count":     len(jobs),
	})
}

// handleSchedule handles /api/schedules/{id} reads and the pause/resume and
// executions sub-resources.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	parts := extractPathParts(r.URL.Path, "/api/schedules/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing schedule ID")
		return
	}
	scheduleID := parts[0]

	if len(parts) > 1 && parts[1] != "" {
		switch parts[1] {
		case "pause":
			if !requireMethod(w, r, http.MethodPost) {
				return
			}
			s.handleSetScheduleState(w, scheduleID, schedule.StatePaused)
		case "resume":
			if !requireMethod(w, r, http.MethodPost) {
				return
			}
			s.handleSetScheduleState(w, scheduleID, schedule.StateActive)
		case "executions":
			if !requireMethod(w, r, http.MethodGet) {
				return
			}
			s.handleScheduleExecutions(w, r, scheduleID)
		default:
			writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown schedule action %q", parts[1]))
		}
		return
	}

	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	job, err := s.schedules().GetJob(scheduleID)
	if err != nil {
		handleError(w, s.logger, err, "failed to get schedule")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleSetScheduleState(w http.ResponseWriter, scheduleID, state string) {
	if err := s.schedules().UpdateJobState(scheduleID, state); err != nil {
		handleError(w, s.logger, err, "failed to update schedule")
		return
	}
	s.logger.Infow("Schedule state updated", "schedule_id", shortID(scheduleID), "state", state)

	job, err := s.schedules().GetJob(scheduleID)
	if err != nil {
		handleError(w, s.logger, err, "failed to get updated schedule")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleScheduleExecutions lists recent runs of one schedule.
func (s *Server) handleScheduleExecutions(w http.ResponseWriter, r *http.Request, scheduleID string) {
	limit := parseIntParam(r, "limit", 20, 1, 100)

	execs, total, err := schedule.NewExecutionStore(s.db).ListExecutions(scheduleID, limit, 0, "")
	if err != nil {
		handleError(w, s.logger, err, "failed to list executions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"executions": execs,
		"count":      len(execs),
		"total":      total,
	})
}

// schedules returns a schedule store over the server's database.
func (s *Server) schedules() *schedule.Store {
	return schedule.NewStore(s.db)
}
