package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
	"github.com/trobanga/gdmclip/internal/progress"
	"github.com/trobanga/gdmclip/internal/project"
)

// JobStore persists job records
type JobStore interface {
	Save(ctx context.Context, job *models.ClipJob) error
	Load(ctx context.Context, jobID string) (*models.ClipJob, error)
	List(ctx context.Context) ([]*models.ClipJob, error)
}

// CreateJob initializes a new pending job record and saves it
func CreateJob(ctx context.Context, store JobStore, params models.JobParameters, projectPath string) (*models.ClipJob, error) {
	if err := params.Validate(); err != nil {
		return nil, lib.ErrInvalidParameters(err)
	}

	now := time.Now()
	job := &models.ClipJob{
		JobID:       uuid.New().String(),
		CreatedAt:   now,
		UpdatedAt:   now,
		Params:      params,
		ProjectPath: projectPath,
		State:       models.JobStatePending,
		OutputDir:   OutputDir(params),
	}

	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create valid job: %w", err)
	}
	if err := store.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save initial job state: %w", err)
	}
	return job, nil
}

// StartJob marks the job as picked up
func StartJob(job *models.ClipJob) *models.ClipJob {
	updated := *job
	now := time.Now()
	updated.StartedAt = &now
	updated.UpdatedAt = now
	updated.ErrorMessage = ""
	return &updated
}

// CompleteJob records the packaged result
func CompleteJob(job *models.ClipJob, result *Result) *models.ClipJob {
	updated := models.CompleteJobWithArchive(*job, result.ArchivePath, result.Layers, result.Cancelled)
	updated.OutputDir = result.OutputDir
	return &updated
}

// FailJob marks the job as failed with the user-facing message of err
func FailJob(job *models.ClipJob, err error) *models.ClipJob {
	msg := err.Error()
	if martErr := lib.ClassifyError(err); martErr != nil && martErr.Kind != lib.KindUnknown {
		msg = martErr.UserMessage()
	}
	updated := models.AddError(*job, msg)
	return &updated
}

// CancelJob marks a job that was cancelled before producing an archive
func CancelJob(job *models.ClipJob, reason string) *models.ClipJob {
	updated := models.AddError(*job, "cancelled: "+reason)
	updated.Cancelled = true
	return &updated
}

// IsCancellation reports whether err stems from a cancelled or expired context
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// GetJobSummary returns a human-readable summary of the job
func GetJobSummary(job *models.ClipJob) string {
	end := time.Now()
	if job.CompletedAt != nil {
		end = *job.CompletedAt
	}
	duration := end.Sub(job.CreatedAt)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Job %s\n", job.JobID))
	sb.WriteString(fmt.Sprintf("State: %s\n", job.State))
	sb.WriteString(fmt.Sprintf("Progress: %d%%\n", job.Progress))
	if job.Params.ProjectID != "" {
		sb.WriteString(fmt.Sprintf("Project: %s\n", job.Params.ProjectID))
	}
	sb.WriteString(fmt.Sprintf("Duration: %v\n", duration.Round(time.Second)))

	if job.ArchivePath != "" {
		sb.WriteString(fmt.Sprintf("Archive: %s\n", job.ArchivePath))
	}
	if job.ArchiveURL != "" {
		sb.WriteString(fmt.Sprintf("Download: %s\n", job.ArchiveURL))
	}

	if len(job.Layers) > 0 {
		counts := models.CountOutcomes(job.Layers)
		sb.WriteString(fmt.Sprintf("Layers: %d (clipped %d, excluded %d, failed %d)\n",
			len(job.Layers),
			counts[models.LayerOutcomeClipped],
			counts[models.LayerOutcomeExcluded],
			counts[models.LayerOutcomeFailed]+counts[models.LayerOutcomeRemovedInvalid]))
		for _, r := range models.FailedLayers(*job) {
			sb.WriteString(fmt.Sprintf("  - %s\n", r.Error()))
		}
	}

	if job.Cancelled {
		sb.WriteString("Cancelled: yes\n")
	}
	if job.ErrorMessage != "" {
		sb.WriteString(fmt.Sprintf("Error: %s\n", job.ErrorMessage))
	}

	return sb.String()
}

// Tracker mirrors orchestrator transitions and progress reports into a job record.
// Store failures are logged; they never interrupt the pipeline.
type Tracker struct {
	mu     sync.Mutex
	job    models.ClipJob
	store  JobStore
	logger *lib.Logger
}

// NewTracker creates a tracker for job
func NewTracker(job *models.ClipJob, store JobStore, logger *lib.Logger) *Tracker {
	if logger == nil {
		logger = lib.DefaultLogger
	}
	return &Tracker{job: *job, store: store, logger: logger}
}

// Job returns a copy of the current record
func (t *Tracker) Job() *models.ClipJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	job := t.job
	return &job
}

// Report implements progress.Sink
func (t *Tracker) Report(ctx context.Context, current, total int, description string) error {
	t.mu.Lock()
	t.job = models.UpdateJobProgress(t.job, current*100/max(total, 1), description)
	job := t.job
	t.mu.Unlock()
	return t.store.Save(ctx, &job)
}

// Transition records a state change
func (t *Tracker) Transition(state models.JobState) {
	t.mu.Lock()
	t.job = models.UpdateJobState(t.job, state)
	job := t.job
	t.mu.Unlock()
	if err := t.store.Save(context.Background(), &job); err != nil {
		t.logger.Warn("Failed to save job state", "job_id", job.JobID, "state", state, "error", err)
	}
}

// RunJob executes a stored job through the orchestrator and persists the final record.
// extra receives every progress report in addition to the job record.
// The returned error is the fatal pipeline error, if any; the record is saved either way.
func RunJob(ctx context.Context, o *Orchestrator, store JobStore, job *models.ClipJob, source project.Store, extra progress.Sink) (*models.ClipJob, *Result, error) {
	tracker := NewTracker(StartJob(job), store, o.Logger)

	var sink progress.Sink = tracker
	if extra != nil {
		sink = progress.MultiSink{tracker, extra}
	}

	runner := *o
	runner.OnTransition = func(state models.JobState) {
		// Terminal states are written below together with the result
		if !state.IsTerminal() {
			tracker.Transition(state)
		}
		if o.OnTransition != nil {
			o.OnTransition(state)
		}
	}

	result, runErr := runner.Run(ctx, job.Params, source, sink)

	var final *models.ClipJob
	switch {
	case runErr == nil:
		final = CompleteJob(tracker.Job(), result)
	case IsCancellation(runErr):
		final = CancelJob(tracker.Job(), runErr.Error())
	default:
		final = FailJob(tracker.Job(), runErr)
	}

	// The final record must be written even when ctx was cancelled
	if err := store.Save(context.WithoutCancel(ctx), final); err != nil {
		o.Logger.Error("Failed to save final job state", "job_id", final.JobID, "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	return final, result, runErr
}
