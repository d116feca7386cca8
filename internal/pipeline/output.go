package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/trobanga/gdmclip/internal/container"
	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
)

// ArchiveExtension of the packaged result
const ArchiveExtension = ".zip"

// PurgeExtensions are deleted from the output directory once the archive exists
var PurgeExtensions = append([]string{container.Extension, ".tif"}, container.SidecarExtensions...)

// OutputLayout names the files of one job's output directory
type OutputLayout struct {
	Dir       string
	JobName   string
	Container string
	Archive   string
}

// OutputDir derives base/[user/][vendor/][project/][job/] from the parameters.
// Each segment is appended only when set; the order is fixed.
// A relative base is resolved against the working directory so layer sources
// below the output directory can be rewritten relative to it.
func OutputDir(params models.JobParameters) string {
	parts := []string{absBase(params.OutputBasePath)}
	for _, segment := range []string{params.UserID, params.VendorID, params.ProjectID, params.JobID} {
		if segment != "" {
			parts = append(parts, segment)
		}
	}
	return filepath.Join(parts...)
}

func absBase(base string) string {
	abs, err := filepath.Abs(base)
	if err != nil {
		return filepath.Clean(base)
	}
	return abs
}

// Layout returns the output file names for the parameters
func Layout(params models.JobParameters) OutputLayout {
	dir := OutputDir(params)
	name := params.JobName()
	return OutputLayout{
		Dir:       dir,
		JobName:   name,
		Container: filepath.Join(dir, name+container.Extension),
		Archive:   filepath.Join(dir, name+ArchiveExtension),
	}
}

// InitializeOutput creates the output directory and removes a previous
// container, its sidecars and archive. Failing to remove any of them is an
// OutputConflict.
func InitializeOutput(layout OutputLayout) error {
	if err := os.MkdirAll(layout.Dir, 0755); err != nil {
		return lib.ErrOutputConflict(layout.Dir, err)
	}

	stale := []string{layout.Container, layout.Archive, layout.Archive + ".part"}
	for _, ext := range container.SidecarExtensions {
		stale = append(stale, filepath.Join(layout.Dir, layout.JobName+ext))
	}

	for _, path := range stale {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return lib.ErrOutputConflict(path, fmt.Errorf("failed to remove previous output: %w", err))
		}
	}
	return nil
}
