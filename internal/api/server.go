// Package api exposes job submission and status over HTTP.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
	"github.com/trobanga/gdmclip/internal/pipeline"
	"github.com/trobanga/gdmclip/internal/project"
)

// Enqueuer submits stored jobs to the worker queue
type Enqueuer interface {
	Enqueue(ctx context.Context, job *models.ClipJob) (*asynq.TaskInfo, error)
}

// Pinger reports backend reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config wires the server to its backends
type Config struct {
	Store       pipeline.JobStore
	Queue       Enqueuer
	Health      Pinger // Optional
	Projects    func(projectID string) project.Store // Optional, checks that the project exists
	OutputDir   string
	JWTSecret   string // Empty disables authentication
	BodyLimitMB int
	Logger      *lib.Logger
}

// Server holds the HTTP handlers
type Server struct {
	cfg       Config
	validator *validator.Validate
	logger    *lib.Logger
}

// New creates a server
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = lib.DefaultLogger
	}
	return &Server{cfg: cfg, validator: validator.New(), logger: cfg.Logger}
}

// App builds the fiber application with all routes
func (s *Server) App() *fiber.App {
	limit := s.cfg.BodyLimitMB
	if limit <= 0 {
		limit = 4
	}

	app := fiber.New(fiber.Config{
		AppName:      "gdmclip",
		BodyLimit:    limit * 1024 * 1024,
		ErrorHandler: errorHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	})

	app.Get("/health", s.Health)

	v1 := app.Group("/api/v1")
	if s.cfg.JWTSecret != "" {
		v1.Use(Authenticate(s.cfg.JWTSecret))
	}
	v1.Post("/jobs", s.CreateJob)
	v1.Get("/jobs", s.ListJobs)
	v1.Get("/jobs/:jobId", s.GetJob)
	v1.Get("/jobs/:jobId/download", s.Download)

	return app
}

// Listen serves on the given port until the app is shut down
func (s *Server) Listen(app *fiber.App, port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.logger.Info("Server starting", "addr", addr)
	return app.Listen(addr)
}
