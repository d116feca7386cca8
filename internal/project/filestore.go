package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileStore keeps a project document in a JSON file
type FileStore struct {
	Path string
}

// NewFileStore returns the store for <dir>/<projectID>.json
func NewFileStore(dir, projectID string) *FileStore {
	return &FileStore{Path: filepath.Join(dir, projectID+".json")}
}

// Load reads the file
func (f *FileStore) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project file: %w", err)
	}
	return data, nil
}

// Save writes the file atomically (temp file + rename)
func (f *FileStore) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}

	tempPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp.%s", filepath.Base(f.Path), uuid.New().String()))
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp project file: %w", err)
	}
	if err := os.Rename(tempPath, f.Path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename project file: %w", err)
	}
	return nil
}

// Location returns the file path
func (f *FileStore) Location() string {
	return f.Path
}
