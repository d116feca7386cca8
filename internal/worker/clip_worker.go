// Package worker runs queued clip jobs.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
	"github.com/trobanga/gdmclip/internal/pipeline"
	"github.com/trobanga/gdmclip/internal/project"
	"github.com/trobanga/gdmclip/internal/services"
)

// ProjectSource resolves a project id to its source document store
type ProjectSource func(projectID string) project.Store

// ClipWorker processes clip tasks
type ClipWorker struct {
	store        pipeline.JobStore
	orchestrator *pipeline.Orchestrator
	projects     ProjectSource
	publisher    services.Publisher // Optional
	softLimit    time.Duration
	logger       *lib.Logger
}

// NewClipWorker creates a new clip worker. publisher may be nil.
func NewClipWorker(store pipeline.JobStore, orchestrator *pipeline.Orchestrator, projects ProjectSource, publisher services.Publisher, softLimit time.Duration, logger *lib.Logger) *ClipWorker {
	if logger == nil {
		logger = lib.DefaultLogger
	}
	return &ClipWorker{
		store:        store,
		orchestrator: orchestrator,
		projects:     projects,
		publisher:    publisher,
		softLimit:    softLimit,
		logger:       logger,
	}
}

// FileProjects resolves projects from <dir>/<project_id>.json
func FileProjects(dir string) ProjectSource {
	return func(projectID string) project.Store {
		return project.NewFileStore(dir, projectID)
	}
}

// CatalogueProjects resolves projects from <baseURL>/<project_id>.json
func CatalogueProjects(baseURL string, retry models.RetryConfig, logger *lib.Logger) ProjectSource {
	return func(projectID string) project.Store {
		return services.NewHTTPProjectStore(baseURL, projectID, 30*time.Second, retry, logger)
	}
}

// ProcessTask handles clip task processing.
// The soft time limit cancels the pipeline cooperatively; an expired job is
// packaged with what was processed and the task is not retried.
func (w *ClipWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := services.ParseClipTask(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	logger := w.logger.With("job_id", payload.JobID)

	job, err := w.store.Load(ctx, payload.JobID)
	if err != nil {
		if lib.IsKind(err, lib.KindJobNotFound) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	job, ok := w.prepare(job)
	if !ok {
		logger.Info("Job already finished, skipping", "state", job.State)
		return nil
	}

	runCtx := ctx
	if w.softLimit > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.softLimit)
		defer cancel()
	}

	logger.Info("Starting clip job", "project_id", job.Params.ProjectID, "retry", job.RetryCount)
	final, _, err := pipeline.RunJob(runCtx, w.orchestrator, w.store, job, w.projects(job.Params.ProjectID), nil)
	if err != nil {
		if pipeline.IsCancellation(err) {
			logger.Warn("Clip job cancelled", "error", err)
			return nil
		}
		logger.Error("Clip job failed", "error", err)
		if martErr := lib.ClassifyError(err); martErr != nil && !martErr.IsRetryable {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	if final.Cancelled {
		logger.Warn("Clip job hit its time limit, partial archive produced")
	}
	w.publish(ctx, logger, final)
	return nil
}

// prepare readies a stored job for execution. Finished jobs are not run again.
func (w *ClipWorker) prepare(job *models.ClipJob) (*models.ClipJob, bool) {
	switch {
	case job.State == models.JobStatePending:
		return job, true
	case job.State == models.JobStateDone, job.State == models.JobStateCancelled:
		return job, false
	case job.State == models.JobStateFailed:
		retried := models.IncrementRetry(models.UpdateJobState(*job, models.JobStatePending))
		retried.ErrorMessage = ""
		retried.CompletedAt = nil
		return &retried, true
	default:
		// Interrupted mid-run, e.g. the previous worker died
		retried := models.IncrementRetry(*job)
		retried.State = models.JobStatePending
		return &retried, true
	}
}

func (w *ClipWorker) publish(ctx context.Context, logger *lib.Logger, job *models.ClipJob) {
	if w.publisher == nil || job.ArchivePath == "" {
		return
	}

	url, err := w.publisher.Publish(ctx, job)
	if err != nil {
		logger.Warn("Failed to publish archive, keeping local copy", "error", err)
		return
	}

	job.ArchiveURL = url
	job.UpdatedAt = time.Now()
	if err := w.store.Save(ctx, job); err != nil {
		logger.Error("Failed to save archive URL", "error", err)
	}
}

// Register adds the worker's handlers to an asynq mux
func (w *ClipWorker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(services.TaskTypeClip, w.ProcessTask)
}
