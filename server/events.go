package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roostlabs/roost/queue"
)

// JobEvent is the envelope pushed to /api/events subscribers whenever a job
// changes state.
type JobEvent struct {
	Type      string     `json:"type"` // "job_update"
	Job       *queue.Job `json:"job"`
	Timestamp int64      `json:"timestamp"`
}

// ExecutionEvent is pushed when the ticker starts or fails a scheduled run.
type ExecutionEvent struct {
	Type         string   `json:"type"` // "execution_started" or "execution_failed"
	ScheduleID   string   `json:"schedule_id"`
	ExecutionID  string   `json:"execution_id"`
	Name         string   `json:"name"`
	Error        string   `json:"error,omitempty"`
	ErrorDetails []string `json:"error_details,omitempty"`
	DurationMs   int64    `json:"duration_ms,omitempty"`
	Timestamp    int64    `json:"timestamp"`
}

// BroadcastExecutionStarted implements schedule.ExecutionBroadcaster.
func (s *Server) BroadcastExecutionStarted(scheduledJobID, executionID, name string) {
	s.broadcastEvent(ExecutionEvent{
		Type:        "execution_started",
		ScheduleID:  scheduledJobID,
		ExecutionID: executionID,
		Name:        name,
		Timestamp:   time.Now().Unix(),
	})
}

// BroadcastExecutionFailed implements schedule.ExecutionBroadcaster.
func (s *Server) BroadcastExecutionFailed(scheduledJobID, executionID, name, errorMsg string, errorDetails []string, durationMs int64) {
	s.broadcastEvent(ExecutionEvent{
		Type:         "execution_failed",
		ScheduleID:   scheduledJobID,
		ExecutionID:  executionID,
		Name:         name,
		Error:        errorMsg,
		ErrorDetails: errorDetails,
		DurationMs:   durationMs,
		Timestamp:    time.Now().Unix(),
	})
}

// startJobBroadcaster subscribes to queue change notifications and pipes
// them into the hub.
func (s *Server) startJobBroadcaster() {
	jobChan := s.queue.Subscribe()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Unsubscribe removes the channel from the queue's list and closes it.
		defer s.queue.Unsubscribe(jobChan)

		for {
			select {
			case <-s.ctx.Done():
				return
			case job := <-jobChan:
				s.broadcastEvent(JobEvent{
					Type:      "job_update",
					Job:       job,
					Timestamp: time.Now().Unix(),
				})
			}
		}
	}()
}

// handleEvents upgrades GET /api/events to a WebSocket and attaches the
// connection to the hub.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := &Client{
		server: s,
		conn:   conn,
		send:   make(chan any, 64),
		id:     fmt.Sprintf("%s_%d", r.RemoteAddr, time.Now().UnixNano()),
	}

	select {
	case s.register <- client:
	case <-s.ctx.Done():
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// checkOrigin admits non-browser clients (no Origin header) and browser
// origins matching server.allowed_origins. Prefix matching lets any port on
// an allowed host through.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	allowed := s.cfg.Server.AllowedOrigins
	if len(allowed) == 0 {
		return strings.HasPrefix(origin, "http://localhost") ||
			strings.HasPrefix(origin, "http://127.0.0.1")
	}
	for _, prefix := range allowed {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}
