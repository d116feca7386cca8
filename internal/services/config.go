package services

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/trobanga/gdmclip/internal/models"
)

// LoadConfig loads configuration from file and merges with CLI flags
// Priority order (highest to lowest):
//  1. CLI flags (via viper bindings)
//  2. Environment variables (GDMCLIP_ prefix, "." replaced by "_")
//  3. Configuration file
//  4. Default values
func LoadConfig(configFile string) (*models.Config, error) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		// Search for config in standard locations
		viper.SetConfigName("gdmclip")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/gdmclip")
		viper.AddConfigPath("/etc/gdmclip")
	}

	viper.SetEnvPrefix("GDMCLIP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults(models.DefaultConfig())

	// Read config file (optional - don't fail if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but couldn't be read
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Build config manually from viper values so env overrides of nested keys apply
	config := models.Config{
		Storage: models.StorageConfig{
			OutputDir:   viper.GetString("storage.output_dir"),
			ProjectsDir: viper.GetString("storage.projects_dir"),
			JobsDir:     viper.GetString("storage.jobs_dir"),
			ProjectsURL: viper.GetString("storage.projects_url"),
		},
		Toolkit: models.ToolkitConfig{
			OGR2OGR:    viper.GetString("toolkit.ogr2ogr"),
			OGRInfo:    viper.GetString("toolkit.ogrinfo"),
			GDALWarp:   viper.GetString("toolkit.gdalwarp"),
			GDALInfo:   viper.GetString("toolkit.gdalinfo"),
			ScratchDir: viper.GetString("toolkit.scratch_dir"),
			MaxThreads: viper.GetInt("toolkit.max_threads"),
		},
		Redis: models.RedisConfig{
			Addr:        viper.GetString("redis.addr"),
			Password:    viper.GetString("redis.password"),
			DB:          viper.GetInt("redis.db"),
			JobTTLHours: viper.GetInt("redis.job_ttl_hours"),
		},
		Queue: models.QueueConfig{
			Name:                 viper.GetString("queue.name"),
			Concurrency:          viper.GetInt("queue.concurrency"),
			MaxRetry:             viper.GetInt("queue.max_retry"),
			TimeoutMinutes:       viper.GetInt("queue.timeout_minutes"),
			SoftTimeLimitMinutes: viper.GetInt("queue.soft_time_limit_minutes"),
			RetentionHours:       viper.GetInt("queue.retention_hours"),
		},
		API: models.APIConfig{
			Port:        viper.GetInt("api.port"),
			JWTSecret:   viper.GetString("api.jwt_secret"),
			BodyLimitMB: viper.GetInt("api.body_limit_mb"),
		},
		S3: models.S3Config{
			Bucket:          viper.GetString("s3.bucket"),
			Region:          viper.GetString("s3.region"),
			Endpoint:        viper.GetString("s3.endpoint"),
			AccessKeyID:     viper.GetString("s3.access_key_id"),
			SecretAccessKey: viper.GetString("s3.secret_access_key"),
			Prefix:          viper.GetString("s3.prefix"),
			PresignMinutes:  viper.GetInt("s3.presign_minutes"),
		},
		Retry: models.RetryConfig{
			MaxAttempts:      viper.GetInt("retry.max_attempts"),
			InitialBackoffMs: viper.GetInt64("retry.initial_backoff_ms"),
			MaxBackoffMs:     viper.GetInt64("retry.max_backoff_ms"),
		},
		LogLevel: viper.GetString("log_level"),
	}

	// Validate the configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Validate jobs directory exists and is writable
	if err := models.ValidateJobsDir(config.Storage.JobsDir); err != nil {
		// Try to create it if it doesn't exist
		if os.IsNotExist(err) {
			if createErr := os.MkdirAll(config.Storage.JobsDir, 0755); createErr != nil {
				return nil, fmt.Errorf("failed to create jobs directory: %w", createErr)
			}
		} else {
			return nil, err
		}
	}

	return &config, nil
}

func setDefaults(d models.Config) {
	defaults := map[string]interface{}{
		"storage.output_dir":            d.Storage.OutputDir,
		"storage.projects_dir":          d.Storage.ProjectsDir,
		"storage.jobs_dir":              d.Storage.JobsDir,
		"storage.projects_url":          d.Storage.ProjectsURL,
		"toolkit.ogr2ogr":               d.Toolkit.OGR2OGR,
		"toolkit.ogrinfo":               d.Toolkit.OGRInfo,
		"toolkit.gdalwarp":              d.Toolkit.GDALWarp,
		"toolkit.gdalinfo":              d.Toolkit.GDALInfo,
		"toolkit.scratch_dir":           d.Toolkit.ScratchDir,
		"toolkit.max_threads":           d.Toolkit.MaxThreads,
		"redis.addr":                    d.Redis.Addr,
		"redis.password":                d.Redis.Password,
		"redis.db":                      d.Redis.DB,
		"redis.job_ttl_hours":           d.Redis.JobTTLHours,
		"queue.name":                    d.Queue.Name,
		"queue.concurrency":             d.Queue.Concurrency,
		"queue.max_retry":               d.Queue.MaxRetry,
		"queue.timeout_minutes":         d.Queue.TimeoutMinutes,
		"queue.soft_time_limit_minutes": d.Queue.SoftTimeLimitMinutes,
		"queue.retention_hours":         d.Queue.RetentionHours,
		"api.port":                      d.API.Port,
		"api.jwt_secret":                d.API.JWTSecret,
		"api.body_limit_mb":             d.API.BodyLimitMB,
		"s3.bucket":                     d.S3.Bucket,
		"s3.region":                     d.S3.Region,
		"s3.endpoint":                   d.S3.Endpoint,
		"s3.access_key_id":              d.S3.AccessKeyID,
		"s3.secret_access_key":          d.S3.SecretAccessKey,
		"s3.prefix":                     d.S3.Prefix,
		"s3.presign_minutes":            d.S3.PresignMinutes,
		"retry.max_attempts":            d.Retry.MaxAttempts,
		"retry.initial_backoff_ms":      d.Retry.InitialBackoffMs,
		"retry.max_backoff_ms":          d.Retry.MaxBackoffMs,
		"log_level":                     d.LogLevel,
	}
	for key, value := range defaults {
		viper.SetDefault(key, value)
	}
}

// GetConfigFilePath returns the path to the config file that was loaded
func GetConfigFilePath() string {
	return viper.ConfigFileUsed()
}

// SetConfigValue allows runtime override of config values
// Useful for CLI flag overrides
func SetConfigValue(key string, value interface{}) {
	viper.Set(key, value)
}
