package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/trobanga/gdmclip/internal/models"
	"github.com/trobanga/gdmclip/internal/pipeline"
	"github.com/trobanga/gdmclip/internal/services"
)

var useRedis bool

// jobCmd represents the job command group
var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect clip jobs",
	Long: `Inspect clip jobs.

Local runs are recorded in the jobs directory; queued jobs live in redis
(use --redis).

Available subcommands:
  list   - List all clip jobs
  status - Show one job
  delete - Remove job records`,
}

// jobListCmd represents the job list command
var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all clip jobs",
	Long: `List clip jobs, newest first.

Example:
  gdmclip job list
  gdmclip job list --redis`,
	RunE: runJobList,
}

// jobStatusCmd represents the job status command
var jobStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the status of a clip job",
	Long: `Display state, progress, per-layer outcomes and the archive of a job.

Use 'watch' for continuous monitoring:
  watch -n 5 gdmclip job status <job-id>`,
	Args:              cobra.ExactArgs(1),
	RunE:              runJobStatus,
	ValidArgsFunction: completeJobIDs,
}

// jobDeleteCmd represents the job delete command
var jobDeleteCmd = &cobra.Command{
	Use:               "delete <job-id>...",
	Short:             "Delete clip job records",
	Long:              `Remove job records. Output directories and archives are left in place.`,
	Args:              cobra.MinimumNArgs(1),
	RunE:              runJobDelete,
	ValidArgsFunction: completeJobIDs,
}

// jobRecords is a job store that can also remove records
type jobRecords interface {
	pipeline.JobStore
	Delete(ctx context.Context, jobID string) error
}

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobStatusCmd)
	jobCmd.AddCommand(jobDeleteCmd)
	jobCmd.PersistentFlags().BoolVar(&useRedis, "redis", false, "read jobs from redis instead of the jobs directory")
}

func openJobStore(config *models.Config) (jobRecords, func()) {
	if !useRedis {
		return services.NewFileJobStore(config.Storage.JobsDir), func() {}
	}
	client := services.NewRedisClient(config.Redis)
	return services.NewRedisJobStore(client, config.Redis.JobTTL()), func() { _ = client.Close() }
}

func runJobDelete(cmd *cobra.Command, args []string) error {
	config, _, err := loadRuntime()
	if err != nil {
		return err
	}
	store, closeStore := openJobStore(config)
	defer closeStore()

	for _, id := range args {
		if err := store.Delete(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Deleted job %s\n", id)
	}
	return nil
}

// completeJobIDs offers the ids of recorded jobs
func completeJobIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if cmd.Name() == "status" && len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	config, _, err := loadRuntime()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	store, closeStore := openJobStore(config)
	defer closeStore()

	jobs, err := store.List(cmd.Context())
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		if strings.HasPrefix(j.JobID, toComplete) {
			ids = append(ids, fmt.Sprintf("%s\t%s %s", j.JobID, j.Params.ProjectID, j.State))
		}
	}
	return ids, cobra.ShellCompDirectiveNoFileComp
}

func runJobList(cmd *cobra.Command, args []string) error {
	config, _, err := loadRuntime()
	if err != nil {
		return err
	}
	store, closeStore := openJobStore(config)
	defer closeStore()

	jobs, err := store.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-38s %-20s %-9s %-20s %-8s %s\n", "JOB ID", "STATE", "PROGRESS", "PROJECT", "LAYERS", "AGE")
	fmt.Println("------------------------------------------------------------------------------------------------------------")

	for _, j := range jobs {
		fmt.Printf("%-38s %s %-18s %-9s %-20s %-8d %s\n",
			j.JobID,
			getJobStateSymbol(j.State),
			j.State,
			fmt.Sprintf("%d%%", j.Progress),
			j.Params.ProjectID,
			len(j.Layers),
			formatDuration(time.Since(j.CreatedAt)),
		)
	}

	fmt.Printf("\nTotal: %d jobs\n", len(jobs))
	return nil
}

func runJobStatus(cmd *cobra.Command, args []string) error {
	config, _, err := loadRuntime()
	if err != nil {
		return err
	}
	store, closeStore := openJobStore(config)
	defer closeStore()

	job, err := store.Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Println(pipeline.GetJobSummary(job))
	if len(job.Layers) > 0 {
		fmt.Println("\nLayers:")
		for _, l := range job.Layers {
			line := fmt.Sprintf("  %s %-30s %s", getOutcomeSymbol(l.Outcome), l.Name, l.Outcome)
			if l.Message != "" {
				line += " (" + l.Message + ")"
			}
			fmt.Println(line)
		}
	}
	return nil
}

func getJobStateSymbol(state models.JobState) string {
	switch state {
	case models.JobStateDone:
		return "✓"
	case models.JobStateFailed:
		return "✗"
	case models.JobStateCancelled:
		return "⊘"
	case models.JobStatePending:
		return "○"
	default:
		return "→"
	}
}

func getOutcomeSymbol(outcome models.LayerOutcome) string {
	switch outcome {
	case models.LayerOutcomeClipped, models.LayerOutcomeExcluded:
		return "✓"
	case models.LayerOutcomeFailed:
		return "✗"
	default:
		return "-"
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	days := int(d.Hours() / 24)
	return fmt.Sprintf("%dd", days)
}
