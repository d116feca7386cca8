package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
	"github.com/trobanga/gdmclip/internal/pipeline"
)

// StateFileName is the record file inside a job directory
const StateFileName = "state.json"

// FileJobStore keeps job records of local runs as <jobs_dir>/<id>/state.json
type FileJobStore struct {
	Dir    string
	Logger *lib.Logger // Optional, reports unreadable records skipped by List
}

var _ pipeline.JobStore = (*FileJobStore)(nil)

// NewFileJobStore creates a store rooted at dir
func NewFileJobStore(dir string) *FileJobStore {
	return &FileJobStore{Dir: dir}
}

// GetJobDir returns the directory of one job record
func GetJobDir(jobsBaseDir string, jobID string) string {
	return filepath.Join(jobsBaseDir, jobID)
}

// GetStateFilePath returns the record file of one job
func GetStateFilePath(jobsBaseDir string, jobID string) string {
	return filepath.Join(GetJobDir(jobsBaseDir, jobID), StateFileName)
}

// Load reads and validates one record
func (s *FileJobStore) Load(ctx context.Context, jobID string) (*models.ClipJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !models.IsSafePathSegment(jobID) {
		return nil, lib.ErrJobNotFound(jobID)
	}

	data, err := os.ReadFile(GetStateFilePath(s.Dir, jobID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, lib.ErrJobNotFound(jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job state: %w", err)
	}

	var job models.ClipJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, lib.ErrCorruptedJobState(jobID, err)
	}
	if err := job.Validate(); err != nil {
		return nil, lib.ErrCorruptedJobState(jobID, err)
	}
	return &job, nil
}

// Save validates the record and replaces state.json atomically.
// Saving does not observe ctx cancellation so the final record of a cancelled run is kept.
func (s *FileJobStore) Save(_ context.Context, job *models.ClipJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("cannot save invalid job: %w", err)
	}

	jobDir := GetJobDir(s.Dir, job.JobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job state: %w", err)
	}
	return writeFileAtomic(GetStateFilePath(s.Dir, job.JobID), data)
}

// writeFileAtomic writes a sibling temp file, syncs it and renames it over path
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".state.tmp.*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		cleanup()
		return fmt.Errorf("failed to save job state: %w", err)
	}
	return nil
}

// List returns every readable record, newest first.
// Directories without a record are ignored; corrupted records are skipped and logged.
func (s *FileJobStore) List(ctx context.Context) ([]*models.ClipJob, error) {
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []*models.ClipJob{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs directory: %w", err)
	}

	jobs := make([]*models.ClipJob, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		job, err := s.Load(ctx, entry.Name())
		switch {
		case err == nil:
			jobs = append(jobs, job)
		case lib.IsKind(err, lib.KindJobNotFound):
		case lib.IsKind(err, lib.KindCorruptedJobState):
			s.logger().Warn("Skipping unreadable job record", "job_id", entry.Name(), "error", err)
		default:
			return nil, err
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// Delete removes a job record directory. The job's output directory is not touched.
func (s *FileJobStore) Delete(_ context.Context, jobID string) error {
	if !models.IsSafePathSegment(jobID) {
		return lib.ErrJobNotFound(jobID)
	}
	jobDir := GetJobDir(s.Dir, jobID)
	if _, err := os.Stat(jobDir); errors.Is(err, fs.ErrNotExist) {
		return lib.ErrJobNotFound(jobID)
	}
	if err := os.RemoveAll(jobDir); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (s *FileJobStore) logger() *lib.Logger {
	if s.Logger == nil {
		return lib.DefaultLogger
	}
	return s.Logger
}
