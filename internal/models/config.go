package models

import (
	"fmt"
	"time"
)

// Config is the top-level configuration for gdmclip
type Config struct {
	Storage  StorageConfig `yaml:"storage" json:"storage"`
	Toolkit  ToolkitConfig `yaml:"toolkit" json:"toolkit"`
	Redis    RedisConfig   `yaml:"redis" json:"redis"`
	Queue    QueueConfig   `yaml:"queue" json:"queue"`
	API      APIConfig     `yaml:"api" json:"api"`
	S3       S3Config      `yaml:"s3" json:"s3"`
	Retry    RetryConfig   `yaml:"retry" json:"retry"`
	LogLevel string        `yaml:"log_level" json:"log_level"`
}

// StorageConfig contains filesystem locations
type StorageConfig struct {
	OutputDir   string `yaml:"output_dir" json:"output_dir"`     // Base path for job outputs
	ProjectsDir string `yaml:"projects_dir" json:"projects_dir"` // Source project documents, <project_id>.json
	JobsDir     string `yaml:"jobs_dir" json:"jobs_dir"`         // Job records for local runs
	ProjectsURL string `yaml:"projects_url" json:"projects_url"` // Optional HTTP catalogue, <url>/<project_id>.json
}

// ToolkitConfig locates the GDAL command-line tools
type ToolkitConfig struct {
	OGR2OGR    string `yaml:"ogr2ogr" json:"ogr2ogr"`
	OGRInfo    string `yaml:"ogrinfo" json:"ogrinfo"`
	GDALWarp   string `yaml:"gdalwarp" json:"gdalwarp"`
	GDALInfo   string `yaml:"gdalinfo" json:"gdalinfo"`
	ScratchDir string `yaml:"scratch_dir" json:"scratch_dir"` // Empty means os.TempDir()
	MaxThreads int    `yaml:"max_threads" json:"max_threads"`
}

// RedisConfig contains connection details for the job store and task queue
type RedisConfig struct {
	Addr        string `yaml:"addr" json:"addr"`
	Password    string `yaml:"password" json:"password"`
	DB          int    `yaml:"db" json:"db"`
	JobTTLHours int    `yaml:"job_ttl_hours" json:"job_ttl_hours"`
}

// QueueConfig controls task enqueueing and the worker server
type QueueConfig struct {
	Name                 string `yaml:"name" json:"name"`
	Concurrency          int    `yaml:"concurrency" json:"concurrency"`
	MaxRetry             int    `yaml:"max_retry" json:"max_retry"`
	TimeoutMinutes       int    `yaml:"timeout_minutes" json:"timeout_minutes"`
	SoftTimeLimitMinutes int    `yaml:"soft_time_limit_minutes" json:"soft_time_limit_minutes"`
	RetentionHours       int    `yaml:"retention_hours" json:"retention_hours"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	Port        int    `yaml:"port" json:"port"`
	JWTSecret   string `yaml:"jwt_secret" json:"-"`
	BodyLimitMB int    `yaml:"body_limit_mb" json:"body_limit_mb"`
}

// S3Config contains optional archive publishing settings
type S3Config struct {
	Bucket          string `yaml:"bucket" json:"bucket"`
	Region          string `yaml:"region" json:"region"`
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id" json:"-"`
	SecretAccessKey string `yaml:"secret_access_key" json:"-"`
	Prefix          string `yaml:"prefix" json:"prefix"`
	PresignMinutes  int    `yaml:"presign_minutes" json:"presign_minutes"`
}

// RetryConfig controls retry behavior for transient errors
type RetryConfig struct {
	MaxAttempts      int   `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoffMs int64 `yaml:"initial_backoff_ms" json:"initial_backoff_ms"`
	MaxBackoffMs     int64 `yaml:"max_backoff_ms" json:"max_backoff_ms"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		Storage: StorageConfig{
			OutputDir:   "./output",
			ProjectsDir: "./projects",
			JobsDir:     "./jobs",
		},
		Toolkit: ToolkitConfig{
			OGR2OGR:    "ogr2ogr",
			OGRInfo:    "ogrinfo",
			GDALWarp:   "gdalwarp",
			GDALInfo:   "gdalinfo",
			MaxThreads: 1,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			JobTTLHours: 24,
		},
		Queue: QueueConfig{
			Name:                 "clip",
			Concurrency:          1,
			MaxRetry:             0,
			TimeoutMinutes:       60,
			SoftTimeLimitMinutes: 55,
			RetentionHours:       24,
		},
		API: APIConfig{
			Port:        8080,
			BodyLimitMB: 4,
		},
		S3: S3Config{
			Region:         "auto",
			Prefix:         "results",
			PresignMinutes: 60,
		},
		Retry: RetryConfig{
			MaxAttempts:      3,
			InitialBackoffMs: 1000,
			MaxBackoffMs:     30000,
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Storage.OutputDir == "" {
		return fmt.Errorf("storage.output_dir is required")
	}
	if c.Storage.JobsDir == "" {
		return fmt.Errorf("storage.jobs_dir is required")
	}
	if c.Toolkit.MaxThreads < 1 || c.Toolkit.MaxThreads > 2 {
		return fmt.Errorf("toolkit.max_threads must be 1 or 2, got %d", c.Toolkit.MaxThreads)
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue.concurrency must be >= 1, got %d", c.Queue.Concurrency)
	}
	if c.Queue.MaxRetry < 0 {
		return fmt.Errorf("queue.max_retry cannot be negative, got %d", c.Queue.MaxRetry)
	}
	if c.Queue.TimeoutMinutes <= 0 {
		return fmt.Errorf("queue.timeout_minutes must be > 0, got %d", c.Queue.TimeoutMinutes)
	}
	if c.Queue.SoftTimeLimitMinutes <= 0 || c.Queue.SoftTimeLimitMinutes >= c.Queue.TimeoutMinutes {
		return fmt.Errorf("queue.soft_time_limit_minutes (%d) must be > 0 and < timeout_minutes (%d)",
			c.Queue.SoftTimeLimitMinutes, c.Queue.TimeoutMinutes)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be 1-65535, got %d", c.API.Port)
	}
	if c.S3.Bucket != "" && c.S3.PresignMinutes <= 0 {
		return fmt.Errorf("s3.presign_minutes must be > 0 when s3.bucket is set")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.MaxBackoffMs < c.Retry.InitialBackoffMs {
		return fmt.Errorf("retry.max_backoff_ms (%d) must be >= initial_backoff_ms (%d)",
			c.Retry.MaxBackoffMs, c.Retry.InitialBackoffMs)
	}
	return nil
}

// PublishingEnabled reports whether archives are uploaded to object storage
func (c *S3Config) PublishingEnabled() bool {
	return c.Bucket != ""
}

// Timeout returns the hard task timeout
func (c *QueueConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// SoftTimeLimit returns the cooperative cancellation deadline
func (c *QueueConfig) SoftTimeLimit() time.Duration {
	return time.Duration(c.SoftTimeLimitMinutes) * time.Minute
}

// Retention returns how long completed tasks stay inspectable
func (c *QueueConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// JobTTL returns how long job records are kept in redis
func (c *RedisConfig) JobTTL() time.Duration {
	return time.Duration(c.JobTTLHours) * time.Hour
}
