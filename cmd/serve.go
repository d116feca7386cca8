package cmd

import (
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/trobanga/gdmclip/internal/api"
	"github.com/trobanga/gdmclip/internal/services"
)

var servePort int

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the job API",
	Long: `Start the HTTP API for submitting and monitoring clip jobs.

Routes:
  POST /api/v1/jobs                  submit a job
  GET  /api/v1/jobs                  list jobs
  GET  /api/v1/jobs/:jobId           job record
  GET  /api/v1/jobs/:jobId/download  archive download
  GET  /health                       redis connectivity

Requests need a bearer token when api.jwt_secret is set.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	config, logger, err := loadRuntime()
	if err != nil {
		return err
	}

	client := services.NewRedisClient(config.Redis)
	defer func() { _ = client.Close() }()
	store := services.NewRedisJobStore(client, config.Redis.JobTTL())

	asynqClient := asynq.NewClient(services.RedisClientOpt(config.Redis))
	defer func() { _ = asynqClient.Close() }()

	server := api.New(api.Config{
		Store:  store,
		Queue:  services.NewQueue(asynqClient, config.Queue),
		Health: store,
		Projects: projectSource(config, logger),
		OutputDir:   config.Storage.OutputDir,
		JWTSecret:   config.API.JWTSecret,
		BodyLimitMB: config.API.BodyLimitMB,
		Logger:      logger,
	})
	app := server.App()

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down server")
		_ = app.Shutdown()
	}()

	port := servePort
	if port == 0 {
		port = config.API.Port
	}
	if err := server.Listen(app, port); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}
