package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
)

func TestOutputDir(t *testing.T) {
	tests := []struct {
		name   string
		params models.JobParameters
		want   string
	}{
		{"base only", models.JobParameters{OutputBasePath: "/out"}, "/out"},
		{"all segments", models.JobParameters{OutputBasePath: "/out", UserID: "u", VendorID: "v", ProjectID: "p", JobID: "j"}, "/out/u/v/p/j"},
		{"missing vendor", models.JobParameters{OutputBasePath: "/out", UserID: "u", ProjectID: "p"}, "/out/u/p"},
		{"job only", models.JobParameters{OutputBasePath: "/out", JobID: "j"}, "/out/j"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, filepath.FromSlash(tt.want), OutputDir(tt.params))
		})
	}
}

func TestOutputDir_RelativeBase(t *testing.T) {
	wd := t.TempDir()
	chdir(t, wd)

	dir := OutputDir(models.JobParameters{OutputBasePath: "./output", UserID: "u1", JobID: "job1"})
	assert.True(t, filepath.IsAbs(dir))
	assert.Equal(t, filepath.Join(wd, "output", "u1", "job1"), dir)
}

func TestLayout(t *testing.T) {
	layout := Layout(models.JobParameters{OutputBasePath: "/out", ProjectID: "p"})

	assert.Equal(t, "OUTPUT", layout.JobName)
	assert.Equal(t, filepath.FromSlash("/out/p/OUTPUT.gpkg"), layout.Container)
	assert.Equal(t, filepath.FromSlash("/out/p/OUTPUT.zip"), layout.Archive)
}

func TestInitializeOutput(t *testing.T) {
	base := t.TempDir()
	layout := Layout(models.JobParameters{OutputBasePath: base, JobID: "job1"})
	require.NoError(t, os.MkdirAll(layout.Dir, 0755))

	stale := []string{"job1.gpkg", "job1.gpkg-wal", "job1.gpkg-shm", "job1.zip", "job1.zip.part"}
	for _, name := range append(stale, "keep.txt", "roads.tif") {
		require.NoError(t, os.WriteFile(filepath.Join(layout.Dir, name), []byte("x"), 0644))
	}

	require.NoError(t, InitializeOutput(layout))
	assert.Equal(t, []string{"keep.txt", "roads.tif"}, dirEntries(t, layout.Dir))
}

func TestInitializeOutput_CreatesDir(t *testing.T) {
	layout := Layout(models.JobParameters{OutputBasePath: t.TempDir(), UserID: "u", JobID: "j"})

	require.NoError(t, InitializeOutput(layout))
	assert.DirExists(t, layout.Dir)
}

func TestInitializeOutput_Conflict(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "u")
	require.NoError(t, os.WriteFile(blocker, []byte("file, not dir"), 0644))

	err := InitializeOutput(Layout(models.JobParameters{OutputBasePath: base, UserID: "u"}))

	assert.True(t, lib.IsKind(err, lib.KindOutputConflict))
}
