package clip

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/gdmclip/internal/container"
	"github.com/trobanga/gdmclip/internal/geometry"
	"github.com/trobanga/gdmclip/internal/models"
	"github.com/trobanga/gdmclip/internal/project"
	"github.com/trobanga/gdmclip/internal/toolkit/toolkittest"
)

const testProject = `{
  "name": "city",
  "crs": "EPSG:3857",
  "layers": [
    {"id": "r", "name": "Bob's \"roads\"", "type": "vector", "source": "/data/roads.shp", "style": "<qgis/>"},
    {"id": "b", "name": "basemap", "type": "raster", "source": "/data/base.tif"},
    {"id": "m", "name": "mesh", "type": "mesh", "source": "/data/mesh.2dm"}
  ]
}`

type fixture struct {
	fake     *toolkittest.Fake
	doc      *project.Document
	gpkg     *container.GeoPackage
	dir      string
	advances []string
	warnings []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	gpkg, err := container.Create(context.Background(), filepath.Join(dir, "OUTPUT.gpkg"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gpkg.Close() })

	doc, err := project.Decode([]byte(testProject))
	require.NoError(t, err)

	fake := toolkittest.New(t.TempDir())
	fake.AddVector("/data/roads.shp", "EPSG:3857",
		orb.LineString{{-50, 50}, {150, 50}},
		orb.Point{500, 500},
	)
	fake.AddRaster("/data/base.tif", "EPSG:3857", orb.Bound{Min: orb.Point{-100, -100}, Max: orb.Point{200, 200}}, 10)

	return &fixture{fake: fake, doc: doc, gpkg: gpkg, dir: dir}
}

func (f *fixture) clipper(outputCRS string) *Clipper {
	return New(Config{
		Toolkit:   f.fake,
		Document:  f.doc,
		Output:    f.gpkg,
		Mask:      &geometry.ClipMask{Polygon: orb.Bound{Max: orb.Point{100, 100}}.ToPolygon(), CRS: "EPSG:3857"},
		OutputDir: f.dir,
		OutputCRS: outputCRS,
		Advance:   func(d string) { f.advances = append(f.advances, d) },
		Warn:      func(m string) { f.warnings = append(f.warnings, m) },
		JobID:     "job-1",
	})
}

func (f *fixture) layer(t *testing.T, id string) *project.Layer {
	t.Helper()
	l, ok := f.doc.Layer(id)
	require.True(t, ok)
	return l
}

func TestStepsFor(t *testing.T) {
	tests := []struct {
		kind      models.LayerKind
		reproject bool
		want      int
	}{
		{models.LayerKindVector, false, 1},
		{models.LayerKindVector, true, 2},
		{models.LayerKindRaster, false, 1},
		{models.LayerKindRaster, true, 1},
		{models.LayerKindOther, true, 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, StepsFor(tt.kind, tt.reproject))
		})
	}
}

func TestClipVector_NativeCRS(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	layer := f.layer(t, "r")

	result := f.clipper("").ClipLayer(ctx, layer)

	assert.Equal(t, models.LayerOutcomeClipped, result.Outcome)
	assert.Len(t, f.advances, 1)

	// Quotes are stripped from the table name
	assert.Equal(t, f.gpkg.Path()+"|layername=Bobs roads", layer.Source)
	assert.Equal(t, layer.Source, result.Source)
	assert.Equal(t, ProviderOGR, layer.Provider)
	assert.Equal(t, "EPSG:3857", layer.CRS)
	require.NotNil(t, layer.Extent)
	assert.Equal(t, 0.0, layer.Extent.XMin)
	assert.Equal(t, 100.0, layer.Extent.XMax)

	features, err := f.gpkg.Features(ctx, "Bobs roads")
	require.NoError(t, err)
	assert.Len(t, features, 1)

	style, err := f.gpkg.Style(ctx, "Bobs roads")
	require.NoError(t, err)
	assert.Equal(t, "<qgis/>", style)

	assert.Empty(t, f.fake.CallsTo("ReprojectVector"))
}

func TestClipVector_Reprojects(t *testing.T) {
	f := newFixture(t)
	layer := f.layer(t, "r")

	result := f.clipper("EPSG:4326").ClipLayer(context.Background(), layer)

	assert.Equal(t, models.LayerOutcomeClipped, result.Outcome)
	assert.Len(t, f.advances, 2)
	assert.Len(t, f.fake.CallsTo("ReprojectVector"), 1)
	assert.Equal(t, "EPSG:4326", layer.CRS)
}

func TestClipVector_SameCRSStillCountsStep(t *testing.T) {
	f := newFixture(t)

	result := f.clipper("EPSG:900913").ClipLayer(context.Background(), f.layer(t, "r"))

	assert.Equal(t, models.LayerOutcomeClipped, result.Outcome)
	assert.Len(t, f.advances, 2)
	assert.Empty(t, f.fake.CallsTo("ReprojectVector"))
}

func TestClipVector_ReloadsInvalidLayerOnce(t *testing.T) {
	f := newFixture(t)
	f.fake.ProbeErrors["/data/roads.shp"] = []error{errors.New("not loaded yet")}

	result := f.clipper("").ClipLayer(context.Background(), f.layer(t, "r"))

	assert.Equal(t, models.LayerOutcomeClipped, result.Outcome)
}

func TestClipVector_InvalidLayerRemoved(t *testing.T) {
	f := newFixture(t)
	f.fake.ProbeErrors["/data/roads.shp"] = []error{errors.New("bad"), errors.New("still bad")}
	layer := f.layer(t, "r")

	result := f.clipper("EPSG:4326").ClipLayer(context.Background(), layer)

	assert.Equal(t, models.LayerOutcomeRemovedInvalid, result.Outcome)
	assert.Contains(t, result.Message, "still bad")
	assert.Len(t, f.advances, 2)
	_, ok := f.doc.Layer("r")
	assert.False(t, ok)
	assert.Equal(t, "/data/roads.shp", layer.Source)
}

func TestClipVector_FailureNotRepointed(t *testing.T) {
	tests := []struct {
		name string
		op   string
	}{
		{"clip", "ClipVectorByMask"},
		{"reproject", "ReprojectVector"},
		{"save", "SaveVector"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.fake.FailOn[tt.op] = errors.New("boom")
			layer := f.layer(t, "r")

			result := f.clipper("EPSG:4326").ClipLayer(context.Background(), layer)

			assert.Equal(t, models.LayerOutcomeFailed, result.Outcome)
			assert.Contains(t, result.Message, tt.name+": boom")
			assert.Equal(t, "/data/roads.shp", layer.Source)
			assert.Len(t, f.advances, 2)
			_, ok := f.doc.Layer("r")
			assert.False(t, ok)
		})
	}
}

func TestClipVector_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := f.clipper("").ClipLayer(ctx, f.layer(t, "r"))

	assert.Equal(t, models.LayerOutcomeCancelled, result.Outcome)
	assert.Len(t, f.fake.CallsTo("Probe"), 1)
}

func TestClipRaster_NativeCRS(t *testing.T) {
	f := newFixture(t)
	layer := f.layer(t, "b")

	result := f.clipper("").ClipLayer(context.Background(), layer)

	assert.Equal(t, models.LayerOutcomeClipped, result.Outcome)
	assert.Len(t, f.advances, 1)
	want := filepath.Join(f.dir, "basemap.tif")
	assert.Equal(t, want, layer.Source)
	assert.Equal(t, ProviderGDAL, layer.Provider)
	assert.FileExists(t, want)
	assert.Empty(t, f.fake.CallsTo("WarpRaster"))
}

func TestClipRaster_ReloadsKeepingExtent(t *testing.T) {
	f := newFixture(t)
	layer := f.layer(t, "b")
	before := layer.Extent

	result := f.clipper("").ClipLayer(context.Background(), layer)

	require.Equal(t, models.LayerOutcomeClipped, result.Outcome)
	probes := f.fake.CallsTo("Probe")
	require.Len(t, probes, 2)
	assert.Equal(t, "/data/base.tif", probes[0].In)
	assert.Equal(t, filepath.Join(f.dir, "basemap.tif"), probes[1].In)
	assert.Equal(t, before, layer.Extent)
	assert.Empty(t, f.warnings)
}

func TestClipRaster_NameStaysInOutputDir(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"../../escaped", ".._.._escaped.tif"},
		{"nested/dir/map", "nested_dir_map.tif"},
		{"..", "b.tif"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			layer := f.layer(t, "b")
			layer.Name = tt.name

			result := f.clipper("").ClipLayer(context.Background(), layer)

			require.Equal(t, models.LayerOutcomeClipped, result.Outcome)
			want := filepath.Join(f.dir, tt.want)
			assert.Equal(t, want, layer.Source)
			assert.Equal(t, f.dir, filepath.Dir(layer.Source))
			assert.FileExists(t, want)

			clips := f.fake.CallsTo("ClipRasterByMask")
			require.Len(t, clips, 1)
			assert.Equal(t, want, clips[0].Out)
		})
	}
}

func TestClipRaster_Warps(t *testing.T) {
	f := newFixture(t)
	layer := f.layer(t, "b")

	result := f.clipper("EPSG:4326").ClipLayer(context.Background(), layer)

	assert.Equal(t, models.LayerOutcomeClipped, result.Outcome)
	assert.Len(t, f.advances, 1)
	assert.Len(t, f.fake.CallsTo("WarpRaster"), 1)
	assert.Equal(t, "EPSG:4326", layer.CRS)
	assert.FileExists(t, filepath.Join(f.dir, "basemap.tif"))
}

func TestClipRaster_FailureRemovesPartial(t *testing.T) {
	f := newFixture(t)
	f.fake.FailOn["WarpRaster"] = errors.New("disk full")
	layer := f.layer(t, "b")

	result := f.clipper("EPSG:4326").ClipLayer(context.Background(), layer)

	assert.Equal(t, models.LayerOutcomeFailed, result.Outcome)
	assert.Equal(t, "/data/base.tif", layer.Source)
	_, err := os.Stat(filepath.Join(f.dir, "basemap.tif"))
	assert.True(t, os.IsNotExist(err))
	assert.Len(t, f.advances, 1)
}

func TestClipLayer_UnsupportedKindKept(t *testing.T) {
	f := newFixture(t)
	layer := f.layer(t, "m")

	result := f.clipper("EPSG:4326").ClipLayer(context.Background(), layer)

	assert.Equal(t, models.LayerOutcomeSkippedUnsupported, result.Outcome)
	assert.False(t, result.Outcome.IsError())
	assert.Empty(t, f.advances)
	assert.Len(t, f.warnings, 1)
	_, ok := f.doc.Layer("m")
	assert.True(t, ok)
	assert.Empty(t, f.fake.Calls)
}
