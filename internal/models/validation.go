package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Validate checks if a ClipJob has valid fields
func (j *ClipJob) Validate() error {
	// Validate JobID is a valid UUID
	if j.JobID == "" {
		return errors.New("job_id is required")
	}
	if _, err := uuid.Parse(j.JobID); err != nil {
		return fmt.Errorf("invalid job_id: must be a valid UUID: %w", err)
	}

	if !IsValidJobState(j.State) {
		return fmt.Errorf("invalid state: %s", j.State)
	}

	if j.Progress < 0 || j.Progress > 100 {
		return fmt.Errorf("progress must be between 0 and 100, got %d", j.Progress)
	}

	if j.RetryCount < 0 {
		return errors.New("retry_count cannot be negative")
	}

	// A finished job must name its archive
	if j.State == JobStateDone && j.ArchivePath == "" {
		return errors.New("archive_path must be set when state is done")
	}

	for i := range j.Layers {
		if err := j.Layers[i].Validate(); err != nil {
			return fmt.Errorf("layers[%d]: %w", i, err)
		}
	}

	return nil
}

// Validate checks if a LayerResult has valid fields
func (r *LayerResult) Validate() error {
	if r.LayerID == "" {
		return errors.New("layer_id is required")
	}
	if !IsValidLayerOutcome(r.Outcome) {
		return fmt.Errorf("invalid outcome: %s", r.Outcome)
	}
	if r.Outcome.IsError() && r.Message == "" {
		return fmt.Errorf("message is required for outcome %s", r.Outcome)
	}
	return nil
}

// Validate checks job parameters before any processing begins
// Layer resolution against the source project happens later, in the orchestrator
func (p *JobParameters) Validate() error {
	if strings.TrimSpace(p.Layers) == "" {
		return errors.New("layers is required")
	}
	if strings.TrimSpace(p.ClipGeometry) == "" {
		return errors.New("clip_geometry is required")
	}
	if p.OutputBasePath == "" {
		return errors.New("output_base_path is required")
	}
	if p.BufferKm < 0 {
		return fmt.Errorf("buffer_km cannot be negative, got %g", p.BufferKm)
	}

	segments := map[string]string{
		"user_id":    p.UserID,
		"vendor_id":  p.VendorID,
		"project_id": p.ProjectID,
		"job_id":     p.JobID,
	}
	for field, value := range segments {
		if value != "" && !IsSafePathSegment(value) {
			return fmt.Errorf("unsafe %s: %q", field, value)
		}
	}

	return nil
}

// IsSafePathSegment reports whether s can be used as a single directory name
func IsSafePathSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`) && !strings.ContainsRune(s, 0)
}

// IsSafePath checks a relative path for directory traversal
func IsSafePath(path string) bool {
	cleaned := filepath.Clean(path)
	return !strings.HasPrefix(cleaned, "..") && !strings.Contains(cleaned, string(filepath.Separator)+"..")
}

// ValidateJobsDir checks if the jobs directory exists and is writable
// Creates the directory automatically if it doesn't exist
func ValidateJobsDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0755); err != nil {
				return fmt.Errorf("failed to create jobs directory: %w", err)
			}
			return nil
		}
		return fmt.Errorf("cannot access jobs directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("jobs_dir is not a directory: %s", path)
	}

	// Check write permission by attempting to create a temp file
	testFile := filepath.Join(path, ".write_test_"+uuid.New().String())
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("jobs directory is not writable: %w", err)
	}
	_ = f.Close()
	_ = os.Remove(testFile)

	return nil
}
