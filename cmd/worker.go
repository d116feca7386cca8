package cmd

import (
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
	"github.com/trobanga/gdmclip/internal/pipeline"
	"github.com/trobanga/gdmclip/internal/services"
	"github.com/trobanga/gdmclip/internal/toolkit"
	"github.com/trobanga/gdmclip/internal/worker"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued clip jobs",
	Long: `Run an asynq worker that executes clip jobs from the queue.

Each job gets its own toolkit session and output lock. Jobs that exceed the
soft time limit stop after the current layer and are packaged with what was
processed. Finished archives are uploaded to object storage when s3.bucket
is configured.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

// projectSource prefers the HTTP catalogue when one is configured
func projectSource(config *models.Config, logger *lib.Logger) worker.ProjectSource {
	if config.Storage.ProjectsURL != "" {
		return worker.CatalogueProjects(config.Storage.ProjectsURL, config.Retry, logger)
	}
	return worker.FileProjects(config.Storage.ProjectsDir)
}

func runWorker(cmd *cobra.Command, args []string) error {
	config, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	client := services.NewRedisClient(config.Redis)
	defer func() { _ = client.Close() }()
	store := services.NewRedisJobStore(client, config.Redis.JobTTL())
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("redis is not reachable at %s: %w", config.Redis.Addr, err)
	}

	var publisher services.Publisher
	if config.S3.PublishingEnabled() {
		p, err := services.NewS3Publisher(ctx, config.S3, config.Retry, logger)
		if err != nil {
			return err
		}
		publisher = p
	}

	orchestrator := pipeline.NewOrchestrator(toolkit.NewGDALFactory(config.Toolkit, nil, logger), logger)
	orchestrator.Lock = services.OutputLocker(logger)

	clipWorker := worker.NewClipWorker(
		store,
		orchestrator,
		projectSource(config, logger),
		publisher,
		config.Queue.SoftTimeLimit(),
		logger,
	)

	srv := asynq.NewServer(
		services.RedisClientOpt(config.Redis),
		asynq.Config{
			Concurrency: config.Queue.Concurrency,
			Queues:      map[string]int{config.Queue.Name: 1},
		},
	)

	mux := asynq.NewServeMux()
	clipWorker.Register(mux)

	logger.Info("Worker starting", "queue", config.Queue.Name, "concurrency", config.Queue.Concurrency)
	// Run blocks until SIGINT or SIGTERM
	if err := srv.Run(mux); err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}
	return nil
}
