package lib

import (
	"github.com/trobanga/gdmclip/internal/models"
)

// StatePrerequisites defines which state a job must have reached before entering a given state
var StatePrerequisites = map[models.JobState]models.JobState{
	models.JobStateParamsResolved:    models.JobStatePending,
	models.JobStateOutputInitialized: models.JobStateParamsResolved,
	models.JobStateProjectCloned:     models.JobStateOutputInitialized,
	models.JobStateMaskComputed:      models.JobStateProjectCloned,
	models.JobStateLayerProcessing:   models.JobStateMaskComputed, // Mask must exist before any clip
	models.JobStatePackaged:          models.JobStateMaskComputed,
	models.JobStateDone:              models.JobStatePackaged,
	models.JobStateCancelled:         models.JobStatePackaged, // Partial output is still packaged
}

// ValidateStatePrerequisites checks that the job may enter the given state
// Returns a MartError naming the missing prerequisite, or nil
func ValidateStatePrerequisites(job models.ClipJob, next models.JobState) error {
	if next == models.JobStateFailed {
		return nil
	}

	prerequisite, exists := StatePrerequisites[next]
	if !exists {
		return nil
	}

	if !models.HasReached(job, prerequisite) {
		return ErrStatePrerequisiteNotMet(string(next), string(prerequisite))
	}
	if !job.State.CanTransitionTo(next) {
		return ErrStatePrerequisiteNotMet(string(next), string(job.State)+" -> "+string(next)+" transition")
	}

	return nil
}

// CanEnterState reports whether the job may move to the given state
func CanEnterState(job models.ClipJob, next models.JobState) bool {
	return ValidateStatePrerequisites(job, next) == nil
}
