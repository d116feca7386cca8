package cmd

import (
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/pipeline"
	"github.com/trobanga/gdmclip/internal/project"
	"github.com/trobanga/gdmclip/internal/services"
)

var submitFlags jobFlags

// submitCmd represents the submit command
var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Queue a clip job for a worker",
	Long: `Store a clip job in redis and enqueue it for 'gdmclip worker'.

Output files are named after the job id unless --job-id is given.

Example:
  gdmclip submit --project city --layers roads --clip-geometry "POLYGON((...))"
  gdmclip job status --redis <job-id>`,
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	addJobFlags(submitCmd, &submitFlags)
}

func runSubmit(cmd *cobra.Command, args []string) error {
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

	source := project.NewFileStore(config.Storage.ProjectsDir, submitFlags.projectID)
	job, err := pipeline.CreateJob(ctx, store, submitFlags.params(config), source.Location())
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	if job.Params.JobID == "" {
		job.Params.JobID = job.JobID
		job.OutputDir = pipeline.OutputDir(job.Params)
		if err := store.Save(ctx, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	asynqClient := asynq.NewClient(services.RedisClientOpt(config.Redis))
	defer func() { _ = asynqClient.Close() }()

	info, err := services.NewQueue(asynqClient, config.Queue).Enqueue(ctx, job)
	if err != nil {
		_ = store.Save(ctx, pipeline.FailJob(job, err))
		return err
	}
	lib.LogJobCreated(logger, job.JobID, submitFlags.projectID)

	fmt.Printf("✓ Queued clip job: %s\n", job.JobID)
	fmt.Printf("  Queue: %s\n", info.Queue)
	fmt.Printf("  Output: %s\n", job.OutputDir)
	return nil
}
