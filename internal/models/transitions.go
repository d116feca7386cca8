package models

import "time"

// UpdateJobState creates a new ClipJob with updated state
// Pure function - returns new instance, does not mutate original
func UpdateJobState(job ClipJob, state JobState) ClipJob {
	now := time.Now()
	if job.StartedAt == nil && state != JobStatePending && !state.IsTerminal() {
		job.StartedAt = &now
	}
	if state.IsTerminal() {
		job.CompletedAt = &now
	}
	job.State = state
	job.UpdatedAt = now
	return job
}

// UpdateJobProgress creates a new ClipJob with updated progress and description
// Pure function - progress never moves backwards
func UpdateJobProgress(job ClipJob, progress int, description string) ClipJob {
	if progress > job.Progress {
		job.Progress = progress
	}
	if progress > 100 {
		job.Progress = 100
	}
	if description != "" {
		job.Description = description
	}
	job.UpdatedAt = time.Now()
	return job
}

// AddError creates a new ClipJob with error message
// Pure function - returns new instance
func AddError(job ClipJob, errorMsg string) ClipJob {
	job = UpdateJobState(job, JobStateFailed)
	job.ErrorMessage = errorMsg
	return job
}

// RecordLayerResult creates a new ClipJob with a layer result appended or replaced
// Pure function - returns new job instance with updated layer results
func RecordLayerResult(job ClipJob, result LayerResult) ClipJob {
	layers := make([]LayerResult, 0, len(job.Layers)+1)
	replaced := false
	for _, existing := range job.Layers {
		if existing.LayerID == result.LayerID {
			layers = append(layers, result)
			replaced = true
			continue
		}
		layers = append(layers, existing)
	}
	if !replaced {
		layers = append(layers, result)
	}

	job.Layers = layers
	job.UpdatedAt = time.Now()
	return job
}

// CompleteJobWithArchive creates a new ClipJob marked done with its archive
// Pure function - returns new instance
func CompleteJobWithArchive(job ClipJob, archivePath string, layers []LayerResult, cancelled bool) ClipJob {
	state := JobStateDone
	if cancelled {
		state = JobStateCancelled
	}
	job = UpdateJobState(job, state)
	job.ArchivePath = archivePath
	job.Layers = append([]LayerResult(nil), layers...)
	job.Cancelled = cancelled
	job.Progress = 100
	return job
}

// IncrementRetry creates a new ClipJob with incremented retry count
// Pure function - returns new instance
func IncrementRetry(job ClipJob) ClipJob {
	job.RetryCount++
	return job
}

// FailedLayers returns the layer results that carry a non-fatal error
// Pure function - no mutations
func FailedLayers(job ClipJob) []LayerResult {
	var failed []LayerResult
	for _, r := range job.Layers {
		if r.Outcome.IsError() {
			failed = append(failed, r)
		}
	}
	return failed
}

// StateIndex returns the position of a state in the execution order, or -1
func StateIndex(state JobState) int {
	for i, s := range JobStateOrder {
		if s == state {
			return i
		}
	}
	return -1
}

// HasReached reports whether a job's state is at or past the given state
func HasReached(job ClipJob, state JobState) bool {
	current := job.State
	if current == JobStateCancelled {
		current = JobStateDone
	}
	ci, si := StateIndex(current), StateIndex(state)
	return ci >= 0 && si >= 0 && ci >= si
}
