package schedule

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/errors"
)

// Built-in schedules use fixed IDs so daemon restarts reconcile the existing
// rows instead of stacking duplicates.
const (
	AutosaveSweepJobID = "sched-seed-autosave-sweep"
	DailyBriefingJobID = "sched-seed-daily-briefing"

	dailyBriefingIntervalSeconds = 24 * 60 * 60
)

// seedSpec describes one built-in schedule and whether config enables it.
type seedSpec struct {
	enabled         bool
	name            string
	handlerName     string
	payload         json.RawMessage
	sourceURL       string
	intervalSeconds int
}

// EnsureSeedJobs reconciles the built-in schedules with the current config:
// a periodic sweep that saves every registered repo, and a daily briefing
// prompt dispatched to the agent. Both are optional. Config is the source
// of truth: disabling one pauses the existing row (keeping its execution
// history), re-enabling resumes it.
func EnsureSeedJobs(store *Store, cfg *am.Config, log *zap.SugaredLogger) error {
	if cfg == nil {
		return nil
	}

	sweepInterval := 0
	if cfg.Autosave.Enabled {
		sweepInterval = cfg.Autosave.SweepIntervalSeconds
	}
	if err := ensureSeed(store, log, AutosaveSweepJobID, seedSpec{
		enabled:         sweepInterval > 0,
		name:            "autosave-sweep",
		handlerName:     "repos.save",
		payload:         json.RawMessage(`{"all":true}`),
		sourceURL:       "roost://schedule/autosave-sweep",
		intervalSeconds: sweepInterval,
	}); err != nil {
		return err
	}

	briefing := seedSpec{
		enabled:         cfg.Autosave.DailyBriefingPrompt != "",
		name:            "daily-briefing",
		handlerName:     "agent.prompt",
		sourceURL:       "roost://schedule/daily-briefing",
		intervalSeconds: dailyBriefingIntervalSeconds,
	}
	if briefing.enabled {
		payload, err := json.Marshal(map[string]interface{}{
			"description": "daily briefing",
			"category":    "research",
			"prompt_doc":  cfg.Autosave.DailyBriefingPrompt,
			"since":       "last_run",
		})
		if err != nil {
			return errors.Wrap(err, "failed to build daily briefing payload")
		}
		briefing.payload = payload
	}
	return ensureSeed(store, log, DailyBriefingJobID, briefing)
}

// ensureSeed reconciles one built-in schedule row with its spec.
func ensureSeed(store *Store, log *zap.SugaredLogger, id string, spec seedSpec) error {
	existing, err := store.GetJob(id)
	if err != nil && !errors.IsNotFoundError(err) {
		return errors.Wrapf(err, "failed to look up built-in schedule %s", spec.name)
	}

	if !spec.enabled {
		if existing != nil && existing.State == StateActive {
			if err := store.UpdateJobState(id, StatePaused); err != nil {
				return errors.Wrapf(err, "failed to pause built-in schedule %s", spec.name)
			}
			log.Infow("paused built-in schedule", "name", spec.name)
		}
		return nil
	}

	if existing == nil {
		job, err := NewJob(spec.name, spec.handlerName, spec.payload, spec.sourceURL, spec.intervalSeconds)
		if err != nil {
			return errors.Wrapf(err, "failed to build built-in schedule %s", spec.name)
		}
		job.ID = id
		job.Metadata = map[string]string{"seed": "true"}
		if err := store.CreateJob(job); err != nil {
			return errors.Wrapf(err, "failed to create built-in schedule %s", spec.name)
		}
		log.Infow("created built-in schedule",
			"name", spec.name,
			"interval_seconds", spec.intervalSeconds)
		return nil
	}

	if existing.IntervalSeconds != spec.intervalSeconds {
		if err := store.UpdateJobInterval(id, spec.intervalSeconds); err != nil {
			return errors.Wrapf(err, "failed to update built-in schedule %s", spec.name)
		}
		log.Infow("updated built-in schedule interval",
			"name", spec.name,
			"interval_seconds", spec.intervalSeconds)
	}
	if existing.State == StatePaused {
		if err := store.UpdateJobState(id, StateActive); err != nil {
			return errors.Wrapf(err, "failed to resume built-in schedule %s", spec.name)
		}
		log.Infow("resumed built-in schedule", "name", spec.name)
	}
	return nil
}
