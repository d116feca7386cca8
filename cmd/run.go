package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
	"github.com/trobanga/gdmclip/internal/pipeline"
	"github.com/trobanga/gdmclip/internal/progress"
	"github.com/trobanga/gdmclip/internal/project"
	"github.com/trobanga/gdmclip/internal/services"
	"github.com/trobanga/gdmclip/internal/toolkit"
	"github.com/trobanga/gdmclip/internal/ui"
)

// jobFlags holds the job parameters shared by run and submit
type jobFlags struct {
	projectID    string
	vendorID     string
	userID       string
	jobID        string
	layers       string
	excludes     string
	clipGeometry string
	outputCRS    string
	projectCRS   string
	bufferKm     float64
	outputDir    string
}

func addJobFlags(cmd *cobra.Command, f *jobFlags) {
	cmd.Flags().StringVar(&f.projectID, "project", "", "project id, resolved as <projects_dir>/<id>.json")
	cmd.Flags().StringVar(&f.vendorID, "vendor", "", "vendor id (output path segment)")
	cmd.Flags().StringVar(&f.userID, "user", "", "user id (output path segment)")
	cmd.Flags().StringVar(&f.jobID, "job-id", "", "job name used for output files (default OUTPUT)")
	cmd.Flags().StringVar(&f.layers, "layers", "", "comma-separated layer names or ids to keep")
	cmd.Flags().StringVar(&f.excludes, "excludes", "", "comma-separated layers kept but not clipped")
	cmd.Flags().StringVar(&f.clipGeometry, "clip-geometry", "", "clip polygon as WKT in EPSG:4326")
	cmd.Flags().StringVar(&f.outputCRS, "output-crs", "", "reproject clipped layers to this CRS")
	cmd.Flags().StringVar(&f.projectCRS, "project-crs", "", "CRS assigned to the output project")
	cmd.Flags().Float64Var(&f.bufferKm, "buffer-km", 0, "buffer distance around the clip polygon in km")
	cmd.Flags().StringVar(&f.outputDir, "output", "", "output base path (default from config)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("layers")
	_ = cmd.MarkFlagRequired("clip-geometry")
}

func (f *jobFlags) params(config *models.Config) models.JobParameters {
	base := f.outputDir
	if base == "" {
		base = config.Storage.OutputDir
	}
	return models.JobParameters{
		ProjectID:      f.projectID,
		VendorID:       f.vendorID,
		UserID:         f.userID,
		JobID:          f.jobID,
		Layers:         f.layers,
		Excludes:       f.excludes,
		ClipGeometry:   f.clipGeometry,
		OutputCRS:      f.outputCRS,
		ProjectCRS:     f.projectCRS,
		BufferKm:       f.bufferKm,
		OutputBasePath: base,
	}
}

var (
	runFlags   jobFlags
	noProgress bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Clip and package a project on this machine",
	Long: `Run a clip job synchronously.

The project document is read from the projects directory, every selected
layer is clipped to the polygon, and the result is written to
<output>/<user>/<vendor>/<project>/<job-id>/<job-id>.zip.

Press Ctrl+C to stop after the current layer; what was processed so far is
still packaged.

Examples:
  gdmclip run --project city --layers roads,parcels \
    --clip-geometry "POLYGON((8.6 49.4,8.7 49.4,8.7 49.5,8.6 49.5,8.6 49.4))"

  # Reproject the output and add a 2 km buffer
  gdmclip run --project city --layers roads --output-crs EPSG:25832 --buffer-km 2 \
    --clip-geometry "POLYGON((...))"`,
	RunE: runClip,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addJobFlags(runCmd, &runFlags)
	runCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress indicators")
}

func runClip(cmd *cobra.Command, args []string) error {
	config, logger, err := loadRuntime()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	store := services.NewFileJobStore(config.Storage.JobsDir)
	source := project.NewFileStore(config.Storage.ProjectsDir, runFlags.projectID)

	job, err := pipeline.CreateJob(ctx, store, runFlags.params(config), source.Location())
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	lib.LogJobCreated(logger, job.JobID, runFlags.projectID)

	fmt.Printf("✓ Created clip job: %s\n", job.JobID)
	fmt.Printf("  Project: %s\n", source.Location())
	fmt.Printf("  Output: %s\n\n", job.OutputDir)

	orchestrator := pipeline.NewOrchestrator(toolkit.NewGDALFactory(config.Toolkit, nil, logger), logger)
	orchestrator.Lock = services.OutputLocker(logger)

	var sink progress.Sink
	if !noProgress {
		sink = ui.NewTerminalSink(os.Stderr)
	}

	final, _, runErr := pipeline.RunJob(ctx, orchestrator, store, job, source, sink)

	fmt.Println()
	fmt.Println(pipeline.GetJobSummary(final))

	if runErr != nil {
		if martErr := lib.ClassifyError(runErr); martErr.Kind != lib.KindUnknown {
			fmt.Fprint(os.Stderr, martErr.UserMessage())
		}
		return fmt.Errorf("clip job %s failed", final.JobID)
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
