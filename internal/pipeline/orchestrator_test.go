package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/gdmclip/internal/archive"
	"github.com/trobanga/gdmclip/internal/container"
	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
	"github.com/trobanga/gdmclip/internal/progress"
	"github.com/trobanga/gdmclip/internal/toolkit"
	"github.com/trobanga/gdmclip/internal/toolkit/toolkittest"
)

type runFixture struct {
	fake     *toolkittest.Fake
	orch     *Orchestrator
	states   []models.JobState
	recorder *progress.Recorder
	base     string
}

func newRunFixture(t *testing.T) *runFixture {
	t.Helper()
	f := &runFixture{
		fake:     newCityFake(t),
		recorder: &progress.Recorder{},
		base:     t.TempDir(),
	}
	f.orch = NewOrchestrator(f.fake.Factory(), nil)
	f.orch.OnTransition = func(s models.JobState) { f.states = append(f.states, s) }
	return f
}

func (f *runFixture) run(ctx context.Context, params models.JobParameters) (*Result, error) {
	return f.orch.Run(ctx, params, &memSource{data: []byte(cityProject)}, f.recorder)
}

func (f *runFixture) values() []int {
	out := make([]int, 0, len(f.recorder.Reports))
	for _, r := range f.recorder.Reports {
		out = append(out, r.Current)
	}
	return out
}

func outcomes(layers []models.LayerResult) map[string]models.LayerOutcome {
	out := make(map[string]models.LayerOutcome, len(layers))
	for _, l := range layers {
		out[l.Name] = l.Outcome
	}
	return out
}

func TestRun_ClipsAndPackages(t *testing.T) {
	f := newRunFixture(t)
	f.fake.FailOn["ClipVectorByMask:/data/rivers.shp"] = errors.New("corrupt shapefile")
	params := cityParams(f.base)

	result, err := f.run(context.Background(), params)
	require.NoError(t, err)

	dir := filepath.Join(f.base, "u1", "city", "job1")
	assert.Equal(t, dir, result.OutputDir)
	assert.Equal(t, filepath.Join(dir, "job1.zip"), result.ArchivePath)
	assert.False(t, result.Cancelled)

	// Excluded layers first, then clip layers in name order
	var names []string
	for _, l := range result.Layers {
		names = append(names, l.Name)
	}
	assert.Equal(t, []string{"basemap", "aerial", "mesh", "rivers", "roads"}, names)
	assert.Equal(t, map[string]models.LayerOutcome{
		"basemap": models.LayerOutcomeExcluded,
		"aerial":  models.LayerOutcomeClipped,
		"mesh":    models.LayerOutcomeSkippedUnsupported,
		"rivers":  models.LayerOutcomeFailed,
		"roads":   models.LayerOutcomeClipped,
	}, outcomes(result.Layers))
	require.Len(t, result.FailedLayers(), 1)
	assert.Equal(t, "rivers", result.FailedLayers()[0].Name)

	assert.Equal(t, []models.JobState{
		models.JobStateParamsResolved,
		models.JobStateOutputInitialized,
		models.JobStateProjectCloned,
		models.JobStateMaskComputed,
		models.JobStateLayerProcessing,
		models.JobStatePackaged,
		models.JobStateDone,
	}, f.states)

	// Three clip steps plus packaging
	assert.Equal(t, []int{10, 30, 50, 70, 90, 100}, f.values())

	members, err := archive.Members(result.ArchivePath)
	require.NoError(t, err)
	assert.Equal(t, []string{"aerial.tif", "job1.gpkg"}, members)
	assert.Equal(t, []string{"job1.zip"}, dirEntries(t, dir))

	assert.Equal(t, 1, f.fake.Opened)
	assert.True(t, f.fake.Closed)
}

func TestRun_ArchivedProject(t *testing.T) {
	f := newRunFixture(t)
	f.fake.FailOn["ClipVectorByMask:/data/rivers.shp"] = errors.New("corrupt shapefile")

	result, err := f.run(context.Background(), cityParams(f.base))
	require.NoError(t, err)

	doc := archivedProject(t, result.ArchivePath, "job1.gpkg")
	sources := make(map[string]string)
	for _, l := range doc.Layers {
		sources[l.Name] = l.Source
	}
	assert.Equal(t, map[string]string{
		"aerial":  "./aerial.tif",
		"basemap": "/data/base.tif",
		"mesh":    "/data/mesh.2dm",
		"roads":   "./job1.gpkg|layername=roads",
	}, sources)

	require.NotNil(t, doc.Extent)
	assert.InDelta(t, 8.6, doc.Extent.XMin, 1e-9)
	assert.InDelta(t, 50.2, doc.Extent.YMax, 1e-9)
	assert.Equal(t, "EPSG:4326", doc.CRS)
}

func TestRun_RelativeOutputBase(t *testing.T) {
	f := newRunFixture(t)
	chdir(t, f.base)

	result, err := f.run(context.Background(), cityParams("./output"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.base, "output", "u1", "city", "job1"), result.OutputDir)

	doc := archivedProject(t, result.ArchivePath, "job1.gpkg")
	sources := make(map[string]string)
	for _, l := range doc.Layers {
		sources[l.Name] = l.Source
	}
	assert.Equal(t, "./job1.gpkg|layername=roads", sources["roads"])
	assert.Equal(t, "./aerial.tif", sources["aerial"])
}

func TestRun_RerunReplacesOutput(t *testing.T) {
	f := newRunFixture(t)
	params := cityParams(f.base)

	first, err := f.run(context.Background(), params)
	require.NoError(t, err)
	second, err := f.run(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, first.ArchivePath, second.ArchivePath)
	assert.Equal(t, []string{"job1.zip"}, dirEntries(t, second.OutputDir))
}

func TestRun_ProjectCRSOverride(t *testing.T) {
	f := newRunFixture(t)
	params := cityParams(f.base)
	params.ProjectCRS = "epsg:3857"

	result, err := f.run(context.Background(), params)
	require.NoError(t, err)

	doc := archivedProject(t, result.ArchivePath, "job1.gpkg")
	assert.Equal(t, "EPSG:3857", doc.CRS)
}

func TestRun_ReprojectsToOutputCRS(t *testing.T) {
	f := newRunFixture(t)
	params := cityParams(f.base)
	params.Layers = "roads"
	params.OutputCRS = "EPSG:3857"

	result, err := f.run(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, "EPSG:3857", result.Mask.CRS)
	assert.Len(t, f.fake.CallsTo("ReprojectVector"), 1)
	// clip + reproject step, then packaging: increments of 100/3
	assert.Equal(t, []int{10, 36, 63, 90, 100}, f.values())
}

func TestRun_OnlyExcludedLayers(t *testing.T) {
	f := newRunFixture(t)
	params := cityParams(f.base)
	params.Layers = "basemap"
	params.Excludes = "roads"

	result, err := f.run(context.Background(), params)
	require.NoError(t, err)

	assert.NotContains(t, f.states, models.JobStateLayerProcessing)
	assert.Equal(t, models.JobStateDone, f.states[len(f.states)-1])
	assert.Equal(t, map[string]models.LayerOutcome{
		"basemap": models.LayerOutcomeExcluded,
		"roads":   models.LayerOutcomeExcluded,
	}, outcomes(result.Layers))
	assert.Empty(t, f.fake.CallsTo("ClipVectorByMask"))
	assert.Equal(t, []int{10, 90, 100}, f.values())

	var warned bool
	for _, e := range result.Entries {
		if e.Level == progress.LevelWarn && e.Message == "No layers to clip" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestRun_CancelledBetweenLayers(t *testing.T) {
	f := newRunFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.fake.Hook = func(op, in string) {
		if op == "Probe" && in == "/data/rivers.shp" {
			cancel()
		}
	}

	result, err := f.run(ctx, cityParams(f.base))
	require.NoError(t, err)

	assert.True(t, result.Cancelled)
	assert.Equal(t, map[string]models.LayerOutcome{
		"basemap": models.LayerOutcomeExcluded,
		"aerial":  models.LayerOutcomeClipped,
		"mesh":    models.LayerOutcomeSkippedUnsupported,
		"rivers":  models.LayerOutcomeCancelled,
		"roads":   models.LayerOutcomeCancelled,
	}, outcomes(result.Layers))
	assert.Equal(t, []models.JobState{models.JobStatePackaged, models.JobStateCancelled}, f.states[len(f.states)-2:])
	assert.Equal(t, []int{10, 30, 50, 70, 90, 100}, f.values())
	assert.Empty(t, f.fake.CallsTo("ClipVectorByMask"))

	doc := archivedProject(t, result.ArchivePath, "job1.gpkg")
	_, ok := doc.Layer("roads")
	assert.False(t, ok)
	_, ok = doc.Layer("aerial")
	assert.True(t, ok)
}

func TestRun_FatalErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*testing.T, *runFixture, *models.JobParameters)
		kind   lib.ErrorKind
	}{
		{
			name:   "no layer matches",
			mutate: func(_ *testing.T, _ *runFixture, p *models.JobParameters) { p.Layers = "nothing,here" },
			kind:   lib.KindMissingLayers,
		},
		{
			name:   "invalid geometry",
			mutate: func(_ *testing.T, _ *runFixture, p *models.JobParameters) { p.ClipGeometry = "POLYGON((0 0, 1 1))" },
			kind:   lib.KindInvalidGeometry,
		},
		{
			name:   "invalid parameters",
			mutate: func(_ *testing.T, _ *runFixture, p *models.JobParameters) { p.Layers = "" },
			kind:   lib.KindInvalidParameters,
		},
		{
			name: "toolkit unavailable",
			mutate: func(_ *testing.T, f *runFixture, _ *models.JobParameters) {
				f.orch.Factory = func(context.Context) (toolkit.Toolkit, error) { return nil, errors.New("gdal missing") }
			},
			kind: lib.KindToolkit,
		},
		{
			name: "output locked",
			mutate: func(_ *testing.T, f *runFixture, _ *models.JobParameters) {
				f.orch.Lock = func(dir string) (io.Closer, error) { return nil, lib.ErrOutputLocked(dir) }
			},
			kind: lib.KindOutputLocked,
		},
		{
			name: "stale output cannot be removed",
			mutate: func(t *testing.T, _ *runFixture, p *models.JobParameters) {
				stale := filepath.Join(OutputDir(*p), "job1.gpkg")
				require.NoError(t, os.MkdirAll(filepath.Join(stale, "busy"), 0755))
			},
			kind: lib.KindOutputConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRunFixture(t)
			params := cityParams(f.base)
			tt.mutate(t, f, &params)

			result, err := f.run(context.Background(), params)

			require.Error(t, err)
			assert.Nil(t, result)
			assert.Equal(t, tt.kind, lib.KindOf(err))
			assert.Equal(t, models.JobStateFailed, f.states[len(f.states)-1])

			_, statErr := os.Stat(filepath.Join(OutputDir(params), "job1.zip"))
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestRun_RejectingSink(t *testing.T) {
	f := newRunFixture(t)
	sink := progress.SinkFunc(func(context.Context, int, int, string) error {
		return errors.New("store down")
	})

	_, err := f.orch.Run(context.Background(), cityParams(f.base), &memSource{data: []byte(cityProject)}, sink)

	assert.True(t, lib.IsKind(err, lib.KindInvalidProgressSink))
	assert.Equal(t, 0, f.fake.Opened)
}

func TestRun_LockReleased(t *testing.T) {
	f := newRunFixture(t)
	lock := &closeCounter{}
	f.orch.Lock = func(string) (io.Closer, error) { return lock, nil }

	_, err := f.run(context.Background(), cityParams(f.base))
	require.NoError(t, err)
	assert.Equal(t, 1, lock.closed)
}

func TestRun_MetadataRecorded(t *testing.T) {
	f := newRunFixture(t)
	var metadata []container.Metadata
	f.fake.Hook = func(op, _ string) {
		if op != "ClipRasterByMask" || metadata != nil {
			return
		}
		gpkg, err := container.Open(context.Background(), filepath.Join(f.base, "u1", "city", "job1", "job1.gpkg"))
		require.NoError(t, err)
		defer func() { _ = gpkg.Close() }()
		metadata, err = gpkg.ReadMetadata(context.Background())
		require.NoError(t, err)
	}

	_, err := f.run(context.Background(), cityParams(f.base))
	require.NoError(t, err)

	require.Len(t, metadata, 1)
	assert.Equal(t, "u1", metadata[0].User)
	assert.Equal(t, "city", metadata[0].Project)
	assert.Equal(t, "job1", metadata[0].Job)
}

type closeCounter struct {
	closed int
}

func (c *closeCounter) Close() error {
	c.closed++
	return nil
}
