package deploy

import (
	"time"

	"github.com/pershinghar/pwa-deploy/pkg/models"
	"github.com/pershinghar/pwa-deploy/pkg/util"
)

// PhaseResult records how one runbook step ended
type PhaseResult struct {
	Phase    models.Phase
	Status   models.EventStatus
	Duration time.Duration
	Err      error
}

// Report summarizes a deployment run
type Report struct {
	RunID   string
	Host    string
	Started time.Time

	Phases   []PhaseResult
	Upload   util.TransferStats
	Commands []util.CommandResult

	// ps output for the backend, empty if it was not found
	Process string

	// backend log, read only when the process was not found
	BackendLog string
}

// Succeeded reports whether every phase that ran succeeded.
func (r *Report) Succeeded() bool {
	for _, p := range r.Phases {
		if p.Status == models.StatusFailed {
			return false
		}
	}
	return len(r.Phases) > 0
}

// FailedPhase returns the first failed phase, if any.
func (r *Report) FailedPhase() (models.Phase, bool) {
	for _, p := range r.Phases {
		if p.Status == models.StatusFailed {
			return p.Phase, true
		}
	}
	return "", false
}

// Phase looks up the result of a phase.
func (r *Report) Phase(phase models.Phase) (PhaseResult, bool) {
	for _, p := range r.Phases {
		if p.Phase == phase {
			return p, true
		}
	}
	return PhaseResult{}, false
}
