package models

import "time"

// ClipJob represents a single execution of the clip-and-package pipeline
type ClipJob struct {
	JobID        string        `json:"job_id"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Params       JobParameters `json:"params"`
	ProjectPath  string        `json:"project_path"`          // Source project document
	State        JobState      `json:"state"`                 // Orchestrator state
	Progress     int           `json:"progress"`              // 0-100 on the external scale
	Description  string        `json:"description,omitempty"` // Last progress message
	OutputDir    string        `json:"output_dir,omitempty"`
	ArchivePath  string        `json:"archive_path,omitempty"`
	ArchiveURL   string        `json:"archive_url,omitempty"` // Presigned URL when published
	Layers       []LayerResult `json:"layers,omitempty"`
	Cancelled    bool          `json:"cancelled"`
	RetryCount   int           `json:"retry_count"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// JobState defines the orchestrator state of a clip job
type JobState string

const (
	JobStatePending           JobState = "pending"
	JobStateParamsResolved    JobState = "params_resolved"
	JobStateOutputInitialized JobState = "output_initialized"
	JobStateProjectCloned     JobState = "project_cloned"
	JobStateMaskComputed      JobState = "mask_computed"
	JobStateLayerProcessing   JobState = "layer_processing"
	JobStatePackaged          JobState = "packaged"
	JobStateDone              JobState = "done"
	JobStateFailed            JobState = "failed"
	JobStateCancelled         JobState = "cancelled"
)

// JobStateOrder lists the non-terminal-failure states in execution order
var JobStateOrder = []JobState{
	JobStatePending,
	JobStateParamsResolved,
	JobStateOutputInitialized,
	JobStateProjectCloned,
	JobStateMaskComputed,
	JobStateLayerProcessing,
	JobStatePackaged,
	JobStateDone,
}

// IsValidJobState checks if the job state is recognized
func IsValidJobState(s JobState) bool {
	switch s {
	case JobStatePending, JobStateParamsResolved, JobStateOutputInitialized, JobStateProjectCloned,
		JobStateMaskComputed, JobStateLayerProcessing, JobStatePackaged, JobStateDone,
		JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are possible
func (s JobState) IsTerminal() bool {
	return s == JobStateDone || s == JobStateFailed || s == JobStateCancelled
}

// CanTransitionTo checks if state transition is valid
// Valid transitions:
//
//	pending -> params_resolved -> output_initialized -> project_cloned
//	project_cloned -> mask_computed -> layer_processing -> packaged
//	mask_computed -> packaged (no clippable layers)
//	packaged -> done | cancelled
//	any non-terminal -> failed
//	failed -> pending (manual retry)
func (s JobState) CanTransitionTo(next JobState) bool {
	if next == JobStateFailed {
		return !s.IsTerminal()
	}

	switch s {
	case JobStatePending:
		return next == JobStateParamsResolved
	case JobStateParamsResolved:
		return next == JobStateOutputInitialized
	case JobStateOutputInitialized:
		return next == JobStateProjectCloned
	case JobStateProjectCloned:
		return next == JobStateMaskComputed
	case JobStateMaskComputed:
		return next == JobStateLayerProcessing || next == JobStatePackaged
	case JobStateLayerProcessing:
		return next == JobStatePackaged
	case JobStatePackaged:
		return next == JobStateDone || next == JobStateCancelled
	case JobStateFailed:
		return next == JobStatePending // Allow retry
	default:
		return false
	}
}

// Succeeded reports whether the job produced an archive
func (j *ClipJob) Succeeded() bool {
	return (j.State == JobStateDone || j.State == JobStateCancelled) && j.ArchivePath != ""
}
