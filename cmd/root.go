/*
Copyright © 2025 Aether Contributors

gdmclip is a CLI tool for clipping GeoData Mart projects to an area of interest.
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
	"github.com/trobanga/gdmclip/internal/services"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gdmclip",
	Short: "gdmclip - GeoData Mart clip-and-package pipeline",
	Long: `gdmclip clips the layers of a GIS project to a polygon and packages the
result as a downloadable archive.

Vector layers are clipped into a single GeoPackage, raster layers become
GeoTIFFs, and a pruned copy of the project document travels with them.

Jobs can run synchronously on this machine or be queued for a worker:
  gdmclip run --project city --layers roads,parcels --clip-geometry "POLYGON((...))"
  gdmclip submit --project city --layers roads --clip-geometry "POLYGON((...))"
  gdmclip worker
  gdmclip serve
  gdmclip job list`,
	Version: "0.1.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A missing .env file is fine
		_ = godotenv.Load()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./gdmclip.yaml, ~/.config/gdmclip/gdmclip.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.SetVersionTemplate("gdmclip version {{.Version}}\n")
}

// loadRuntime loads the configuration and builds the logger every command uses
func loadRuntime() (*models.Config, *lib.Logger, error) {
	config, err := services.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logLevel := lib.ParseLogLevel(config.LogLevel)
	if verbose {
		logLevel = lib.LogLevelDebug
	}
	return config, lib.NewLogger(logLevel), nil
}
