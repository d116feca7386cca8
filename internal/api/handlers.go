package api

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
	"github.com/trobanga/gdmclip/internal/pipeline"
)

// CreateJobRequest is the body of POST /api/v1/jobs
type CreateJobRequest struct {
	ProjectID    string  `json:"project_id" validate:"required,max=128"`
	VendorID     string  `json:"vendor_id" validate:"max=128"`
	UserID       string  `json:"user_id" validate:"max=128"`
	Layers       string  `json:"layers" validate:"required"`
	Excludes     string  `json:"excludes"`
	ClipGeometry string  `json:"clip_geometry" validate:"required"`
	OutputCRS    string  `json:"output_crs"`
	ProjectCRS   string  `json:"project_crs"`
	BufferKm     float64 `json:"buffer_km" validate:"gte=0"`
}

// CreateJobResponse is returned once a job is queued
type CreateJobResponse struct {
	JobID     string          `json:"job_id"`
	Status    models.JobState `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// ListJobsResponse wraps the job list
type ListJobsResponse struct {
	Jobs []*models.ClipJob `json:"jobs"`
}

// CreateJob handles POST /api/v1/jobs
func (s *Server) CreateJob(c *fiber.Ctx) error {
	var req CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return validationError(c, "Invalid request body", nil)
	}
	if req.UserID == "" {
		req.UserID = GetUserID(c)
	}

	if err := s.validator.Struct(&req); err != nil {
		return validationError(c, "Validation failed", formatValidationErrors(err))
	}

	if s.cfg.Projects != nil {
		if _, err := s.cfg.Projects(req.ProjectID).Load(c.Context()); err != nil {
			return validationError(c, "Unknown project", map[string]string{"project_id": req.ProjectID})
		}
	}

	params := models.JobParameters{
		ProjectID:      req.ProjectID,
		VendorID:       req.VendorID,
		UserID:         req.UserID,
		Layers:         req.Layers,
		Excludes:       req.Excludes,
		ClipGeometry:   req.ClipGeometry,
		OutputCRS:      req.OutputCRS,
		ProjectCRS:     req.ProjectCRS,
		BufferKm:       req.BufferKm,
		OutputBasePath: s.cfg.OutputDir,
	}

	job, err := pipeline.CreateJob(c.Context(), s.cfg.Store, params, req.ProjectID)
	if err != nil {
		if lib.IsKind(err, lib.KindInvalidParameters) {
			return validationError(c, lib.ClassifyError(err).Message, nil)
		}
		return serviceError(c, err.Error())
	}

	// Output files are named after the job record
	job.Params.JobID = job.JobID
	job.OutputDir = pipeline.OutputDir(job.Params)
	if err := s.cfg.Store.Save(c.Context(), job); err != nil {
		return serviceError(c, err.Error())
	}

	if _, err := s.cfg.Queue.Enqueue(c.Context(), job); err != nil {
		failed := pipeline.FailJob(job, err)
		if saveErr := s.cfg.Store.Save(c.Context(), failed); saveErr != nil {
			s.logger.Error("Failed to save job state", "job_id", job.JobID, "error", saveErr)
		}
		return serviceError(c, err.Error())
	}

	lib.LogJobCreated(s.logger, job.JobID, req.ProjectID)
	return c.Status(fiber.StatusAccepted).JSON(CreateJobResponse{
		JobID:     job.JobID,
		Status:    job.State,
		CreatedAt: job.CreatedAt,
	})
}

// GetJob handles GET /api/v1/jobs/:jobId
func (s *Server) GetJob(c *fiber.Ctx) error {
	job, err := s.loadJob(c)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}
	return c.JSON(job)
}

// ListJobs handles GET /api/v1/jobs
func (s *Server) ListJobs(c *fiber.Ctx) error {
	jobs, err := s.cfg.Store.List(c.Context())
	if err != nil {
		return serviceError(c, err.Error())
	}

	if user := GetUserID(c); user != "" {
		mine := make([]*models.ClipJob, 0, len(jobs))
		for _, j := range jobs {
			if j.Params.UserID == user {
				mine = append(mine, j)
			}
		}
		jobs = mine
	}
	return c.JSON(ListJobsResponse{Jobs: jobs})
}

// Download handles GET /api/v1/jobs/:jobId/download
func (s *Server) Download(c *fiber.Ctx) error {
	job, err := s.loadJob(c)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	if !job.Succeeded() {
		return errorJSON(c, fiber.StatusConflict, CodeJobNotReady, "Job has not produced an archive",
			map[string]string{"state": string(job.State)})
	}

	if job.ArchiveURL != "" {
		return c.Redirect(job.ArchiveURL, fiber.StatusFound)
	}
	if _, err := os.Stat(job.ArchivePath); err != nil {
		return notFound(c, "Archive no longer available")
	}
	return c.Download(job.ArchivePath, filepath.Base(job.ArchivePath))
}

// Health handles GET /health
func (s *Server) Health(c *fiber.Ctx) error {
	status := fiber.Map{"status": "ok"}
	if s.cfg.Health != nil {
		if err := s.cfg.Health.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "degraded",
				"redis":  err.Error(),
			})
		}
		status["redis"] = "ok"
	}
	return c.JSON(status)
}

// loadJob writes the error response itself and returns a nil job when the lookup failed
func (s *Server) loadJob(c *fiber.Ctx) (*models.ClipJob, error) {
	jobID := c.Params("jobId")
	if jobID == "" {
		return nil, validationError(c, "Job ID is required", nil)
	}

	job, err := s.cfg.Store.Load(c.Context(), jobID)
	if err != nil {
		if lib.IsKind(err, lib.KindJobNotFound) {
			return nil, notFound(c, "Job not found")
		}
		return nil, serviceError(c, err.Error())
	}

	if user := GetUserID(c); user != "" && job.Params.UserID != "" && job.Params.UserID != user {
		return nil, notFound(c, "Job not found")
	}
	return job, nil
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
