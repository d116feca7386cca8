package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobParameters_JobName(t *testing.T) {
	assert.Equal(t, DefaultJobName, JobParameters{}.JobName())
	assert.Equal(t, "job-7", JobParameters{JobID: "job-7"}.JobName())
}

func TestJobParameters_Validate(t *testing.T) {
	valid := func() JobParameters {
		return JobParameters{
			Layers:         "roads",
			ClipGeometry:   "POLYGON((0 0,1 0,1 1,0 1,0 0))",
			OutputBasePath: "/tmp/out",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*JobParameters)
		wantErr string
	}{
		{"valid", func(*JobParameters) {}, ""},
		{"no layers", func(p *JobParameters) { p.Layers = "  " }, "layers is required"},
		{"no geometry", func(p *JobParameters) { p.ClipGeometry = "" }, "clip_geometry is required"},
		{"no output", func(p *JobParameters) { p.OutputBasePath = "" }, "output_base_path"},
		{"negative buffer", func(p *JobParameters) { p.BufferKm = -1 }, "buffer_km"},
		{"traversal user", func(p *JobParameters) { p.UserID = "../etc" }, "unsafe user_id"},
		{"dotdot job", func(p *JobParameters) { p.JobID = ".." }, "unsafe job_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseLayerKind(t *testing.T) {
	assert.Equal(t, LayerKindVector, ParseLayerKind("Vector"))
	assert.Equal(t, LayerKindRaster, ParseLayerKind(" raster "))
	assert.Equal(t, LayerKindOther, ParseLayerKind("mesh"))
	assert.Equal(t, LayerKindOther, ParseLayerKind(""))
}

func TestLayerOutcome_IsError(t *testing.T) {
	assert.True(t, LayerOutcomeFailed.IsError())
	assert.True(t, LayerOutcomeRemovedInvalid.IsError())
	assert.False(t, LayerOutcomeSkippedUnsupported.IsError())
	assert.False(t, LayerOutcomeCancelled.IsError())
	assert.False(t, LayerOutcomeClipped.IsError())
}

func TestCountOutcomes(t *testing.T) {
	counts := CountOutcomes([]LayerResult{
		{Outcome: LayerOutcomeClipped},
		{Outcome: LayerOutcomeClipped},
		{Outcome: LayerOutcomeExcluded},
	})
	assert.Equal(t, 2, counts[LayerOutcomeClipped])
	assert.Equal(t, 1, counts[LayerOutcomeExcluded])
	assert.Zero(t, counts[LayerOutcomeFailed])
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"threads", func(c *Config) { c.Toolkit.MaxThreads = 3 }, "max_threads"},
		{"soft limit", func(c *Config) { c.Queue.SoftTimeLimitMinutes = 60 }, "soft_time_limit_minutes"},
		{"port", func(c *Config) { c.API.Port = 0 }, "api.port"},
		{"presign", func(c *Config) { c.S3.Bucket = "b"; c.S3.PresignMinutes = 0 }, "presign_minutes"},
		{"backoff", func(c *Config) { c.Retry.MaxBackoffMs = 10 }, "max_backoff_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIsSafePathSegment(t *testing.T) {
	assert.True(t, IsSafePathSegment("vendor-1"))
	assert.False(t, IsSafePathSegment(""))
	assert.False(t, IsSafePathSegment("a/b"))
	assert.False(t, IsSafePathSegment(`a\b`))
	assert.False(t, IsSafePathSegment("."))
}
