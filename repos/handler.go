package repos

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/queue"
)

// SaveHandlerName is the queue handler that commits and pushes repos.
const SaveHandlerName = "repos.save"

// SavePayload asks the save handler to commit and push one repo, or every
// registered repo when Repo is empty.
type SavePayload struct {
	Repo    string `json:"repo,omitempty"`
	Message string `json:"message,omitempty"`
}

// SaveHandler processes repos.save jobs.
type SaveHandler struct {
	manager *Manager
	queue   *queue.Queue
	logger  *zap.SugaredLogger
}

// NewSaveHandler creates the repos.save handler.
func NewSaveHandler(manager *Manager, q *queue.Queue, logger *zap.SugaredLogger) *SaveHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SaveHandler{manager: manager, queue: q, logger: logger}
}

// Name implements queue.NamedHandler.
func (h *SaveHandler) Name() string {
	return SaveHandlerName
}

// Execute saves the requested repo. A clean worktree is success; push
// failures surface so transient network errors retry.
func (h *SaveHandler) Execute(ctx context.Context, job *queue.Job) error {
	var payload SavePayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return errors.Wrap(err, "invalid save payload")
		}
	}

	if payload.Repo == "" {
		return h.saveAll(ctx, job, payload.Message)
	}

	result, saveErr := h.manager.Save(ctx, payload.Repo, payload.Message)
	if result != nil {
		job.SetState("committed", result.Committed)
		job.SetState("pushed", result.Pushed)
		if result.CommitHash != "" {
			job.SetState("commit", result.CommitHash)
		}
		if result.Files > 0 {
			job.SetState("files", result.Files)
		}
	}
	if saveErr != nil {
		if uerr := h.queue.Update(job); uerr != nil {
			h.logger.Warnw("Failed to persist job state", "job_id", job.ID, "error", uerr)
		}
		return saveErr
	}

	if result.Committed {
		job.UpdateProgress(fmt.Sprintf("saved %s: %d file(s)", payload.Repo, result.Files))
	} else {
		job.UpdateProgress(fmt.Sprintf("%s already clean", payload.Repo))
	}
	if err := h.queue.Update(job); err != nil {
		return errors.Wrap(err, "failed to persist job state")
	}
	return nil
}

// saveAll sweeps every registered repo. Per-repo failures are joined into
// the job error but do not stop the sweep.
func (h *SaveHandler) saveAll(ctx context.Context, job *queue.Job, message string) error {
	results, saveErr := h.manager.SaveAll(ctx, message)

	committed := 0
	for _, r := range results {
		if r.Committed {
			committed++
		}
	}
	job.SetState("repos", len(results))
	job.SetState("committed", committed)
	job.UpdateProgress(fmt.Sprintf("saved %d of %d repo(s)", committed, len(results)))

	if err := h.queue.Update(job); err != nil {
		if saveErr != nil {
			return saveErr
		}
		return errors.Wrap(err, "failed to persist job state")
	}
	return saveErr
}
