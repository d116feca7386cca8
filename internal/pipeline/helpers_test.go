package pipeline

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/gdmclip/internal/container"
	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
	"github.com/trobanga/gdmclip/internal/project"
	"github.com/trobanga/gdmclip/internal/toolkit/toolkittest"
)

const cityProject = `{
  "name": "city",
  "crs": "EPSG:4326",
  "layers": [
    {"id": "roads", "name": "roads", "short_name": "rd", "type": "vector", "source": "/data/roads.shp"},
    {"id": "rivers", "name": "rivers", "type": "vector", "source": "/data/rivers.shp"},
    {"id": "aerial", "name": "aerial", "type": "raster", "source": "/data/aerial.tif"},
    {"id": "basemap", "name": "basemap", "type": "raster", "class": "base", "source": "/data/base.tif"},
    {"id": "mesh", "name": "mesh", "type": "mesh", "source": "/data/mesh.2dm"},
    {"id": "parcels", "name": "parcels", "type": "vector", "source": "/data/parcels.shp"}
  ]
}`

const frankfurt = "POLYGON((8.6 50.0, 8.8 50.0, 8.8 50.2, 8.6 50.2, 8.6 50.0))"

// memSource serves the source project document
type memSource struct {
	data []byte
}

func (m *memSource) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.data, nil
}

func (m *memSource) Save(context.Context, []byte) error {
	return os.ErrPermission
}

func (m *memSource) Location() string { return "memory://city" }

// memJobStore keeps job records in memory
type memJobStore struct {
	mu    sync.Mutex
	jobs  map[string]models.ClipJob
	saves []models.ClipJob
	err   error
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]models.ClipJob)}
}

func (s *memJobStore) Save(_ context.Context, job *models.ClipJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.jobs[job.JobID] = *job
	s.saves = append(s.saves, *job)
	return nil
}

func (s *memJobStore) Load(_ context.Context, jobID string) (*models.ClipJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, lib.ErrJobNotFound(jobID)
	}
	return &job, nil
}

func (s *memJobStore) List(context.Context) ([]*models.ClipJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ClipJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		job := j
		out = append(out, &job)
	}
	return out, nil
}

func newCityFake(t *testing.T) *toolkittest.Fake {
	t.Helper()
	fake := toolkittest.New(t.TempDir())
	fake.AddVector("/data/roads.shp", "EPSG:4326", orb.LineString{{8.5, 50.1}, {8.9, 50.1}})
	fake.AddVector("/data/rivers.shp", "EPSG:4326", orb.LineString{{8.7, 49.9}, {8.7, 50.3}})
	fake.AddVector("/data/parcels.shp", "EPSG:4326", orb.Point{8.7, 50.1})
	fake.AddRaster("/data/aerial.tif", "EPSG:4326", orb.Bound{Min: orb.Point{8.5, 50.0}, Max: orb.Point{8.9, 50.3}}, 0.001)
	return fake
}

func cityParams(base string) models.JobParameters {
	return models.JobParameters{
		ProjectID:      "city",
		UserID:         "u1",
		JobID:          "job1",
		Layers:         "rd, rivers, aerial, basemap, mesh, missing",
		ClipGeometry:   frankfurt,
		OutputBasePath: base,
	}
}

// archivedProject extracts the container from the archive and opens its project document
func archivedProject(t *testing.T, archivePath, containerName string) *project.Document {
	t.Helper()
	r, err := zip.OpenReader(archivePath)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	target := filepath.Join(t.TempDir(), containerName)
	for _, f := range r.File {
		if f.Name != containerName {
			continue
		}
		src, err := f.Open()
		require.NoError(t, err)
		dst, err := os.Create(target)
		require.NoError(t, err)
		_, err = io.Copy(dst, src)
		require.NoError(t, err)
		require.NoError(t, dst.Close())
		require.NoError(t, src.Close())
	}

	gpkg, err := container.Open(context.Background(), target)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gpkg.Close() })

	doc, err := project.Open(context.Background(), gpkg.ProjectStore(container.DefaultProjectName))
	require.NoError(t, err)
	return doc
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
