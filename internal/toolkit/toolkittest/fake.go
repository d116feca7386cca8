// Package toolkittest provides an in-memory toolkit for tests.
package toolkittest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"

	"github.com/trobanga/gdmclip/internal/container"
	"github.com/trobanga/gdmclip/internal/geometry"
	"github.com/trobanga/gdmclip/internal/models"
	"github.com/trobanga/gdmclip/internal/toolkit"
)

// Vector is an in-memory vector data source
type Vector struct {
	CRS      string
	Features []orb.Geometry
}

// Raster is an in-memory raster data source
type Raster struct {
	CRS       string
	Extent    orb.Bound
	PixelSize float64
}

// Call records one toolkit invocation
type Call struct {
	Op  string
	In  string
	Out string
	CRS string
}

// Fake implements toolkit.Toolkit over in-memory datasets.
// Vectors are clipped against the mask bound, which is exact for rectangular masks.
// SaveVector writes real tables into GeoPackages; raster operations write placeholder files.
type Fake struct {
	mu sync.Mutex

	Vectors map[string]*Vector // keyed by data source locator
	Rasters map[string]*Raster

	// FailOn makes an operation fail. Keys are "Op" or "Op:<source>".
	FailOn map[string]error

	// ProbeErrors are returned by successive probes of a source before it opens
	ProbeErrors map[string][]error

	// Hook runs before every operation, e.g. to cancel a context mid-job
	Hook func(op string, in string)

	Calls  []Call
	Opened int
	Closed bool

	dir     string
	counter int
}

var _ toolkit.Toolkit = (*Fake)(nil)

// New creates a fake whose scratch files live in dir
func New(dir string) *Fake {
	return &Fake{
		Vectors:     make(map[string]*Vector),
		Rasters:     make(map[string]*Raster),
		FailOn:      make(map[string]error),
		ProbeErrors: make(map[string][]error),
		dir:         dir,
	}
}

// Factory returns a factory that hands out this fake, reopening it each time
func (f *Fake) Factory() toolkit.Factory {
	return func(ctx context.Context) (toolkit.Toolkit, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.Opened++
		f.Closed = false
		return f, nil
	}
}

// AddVector registers a vector source
func (f *Fake) AddVector(source, crs string, features ...orb.Geometry) {
	f.Vectors[key(source)] = &Vector{CRS: geometry.NormalizeCRS(crs), Features: features}
}

// AddRaster registers a raster source
func (f *Fake) AddRaster(source, crs string, extent orb.Bound, pixelSize float64) {
	f.Rasters[key(source)] = &Raster{CRS: geometry.NormalizeCRS(crs), Extent: extent, PixelSize: pixelSize}
}

// CallsTo returns the recorded calls of one operation
func (f *Fake) CallsTo(op string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.Calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Probe implements toolkit.Toolkit
func (f *Fake) Probe(ctx context.Context, source string, kind models.LayerKind) (toolkit.LayerInfo, error) {
	if err := f.begin(ctx, "Probe", source, "", ""); err != nil {
		return toolkit.LayerInfo{}, err
	}

	f.mu.Lock()
	k := key(source)
	if errs := f.ProbeErrors[k]; len(errs) > 0 {
		f.ProbeErrors[k] = errs[1:]
		f.mu.Unlock()
		return toolkit.LayerInfo{}, errs[0]
	}
	f.mu.Unlock()

	switch kind {
	case models.LayerKindVector:
		v, err := f.vector(source)
		if err != nil {
			return toolkit.LayerInfo{}, err
		}
		return toolkit.LayerInfo{CRS: v.CRS, Extent: boundOf(v.Features), Features: int64(len(v.Features))}, nil
	case models.LayerKindRaster:
		r, err := f.raster(source)
		if err != nil {
			return toolkit.LayerInfo{}, err
		}
		return toolkit.LayerInfo{CRS: r.CRS, Extent: r.Extent, PixelSizeX: r.PixelSize, PixelSizeY: r.PixelSize, Features: -1}, nil
	default:
		return toolkit.LayerInfo{}, fmt.Errorf("cannot probe %s layer %s", kind, source)
	}
}

// ClipVectorByMask implements toolkit.Toolkit
func (f *Fake) ClipVectorByMask(ctx context.Context, in toolkit.Dataset, mask *geometry.ClipMask, out toolkit.Dataset) (toolkit.Dataset, error) {
	if err := f.begin(ctx, "ClipVectorByMask", in.String(), out.String(), mask.CRS); err != nil {
		return toolkit.Dataset{}, err
	}
	v, err := f.vector(in.String())
	if err != nil {
		return toolkit.Dataset{}, err
	}

	bound, err := maskBound(mask, v.CRS)
	if err != nil {
		return toolkit.Dataset{}, err
	}

	var clipped []orb.Geometry
	for _, feature := range v.Features {
		if !feature.Bound().Intersects(bound) {
			continue
		}
		g := clip.Geometry(bound, orb.Clone(feature))
		if g == nil || isEmpty(g) {
			continue
		}
		clipped = append(clipped, g)
	}

	return f.store(out, &Vector{CRS: v.CRS, Features: clipped}), nil
}

// ReprojectVector implements toolkit.Toolkit
func (f *Fake) ReprojectVector(ctx context.Context, in toolkit.Dataset, sourceCRS, targetCRS string, out toolkit.Dataset) (toolkit.Dataset, error) {
	if err := f.begin(ctx, "ReprojectVector", in.String(), out.String(), targetCRS); err != nil {
		return toolkit.Dataset{}, err
	}
	v, err := f.vector(in.String())
	if err != nil {
		return toolkit.Dataset{}, err
	}

	features := make([]orb.Geometry, 0, len(v.Features))
	for _, feature := range v.Features {
		g, ok := geometry.NativeTransform(feature, sourceCRS, targetCRS)
		if !ok {
			return toolkit.Dataset{}, fmt.Errorf("unsupported transform %s -> %s", sourceCRS, targetCRS)
		}
		features = append(features, g)
	}

	return f.store(out, &Vector{CRS: geometry.NormalizeCRS(targetCRS), Features: features}), nil
}

// SaveVector writes the dataset into the GeoPackage at out.Path
func (f *Fake) SaveVector(ctx context.Context, in toolkit.Dataset, out toolkit.Dataset) error {
	if err := f.begin(ctx, "SaveVector", in.String(), out.String(), ""); err != nil {
		return err
	}
	v, err := f.vector(in.String())
	if err != nil {
		return err
	}

	gpkg, err := container.Open(ctx, out.Path)
	if err != nil {
		return err
	}
	defer func() { _ = gpkg.Close() }()

	if err := gpkg.WriteFeatures(ctx, out.Layer, v.CRS, "GEOMETRY", v.Features); err != nil {
		return err
	}

	f.mu.Lock()
	f.Vectors[out.String()] = &Vector{CRS: v.CRS, Features: v.Features}
	f.mu.Unlock()
	return nil
}

// BufferPolygon pads the polygon bound by the buffer distance
func (f *Fake) BufferPolygon(ctx context.Context, polygon orb.Polygon, crs string, opts geometry.BufferOptions) (orb.Geometry, error) {
	if err := f.begin(ctx, "BufferPolygon", "", "", crs); err != nil {
		return nil, err
	}
	if opts.DistanceMeters <= 0 {
		return orb.Clone(polygon), nil
	}
	return polygon.Bound().Pad(opts.DistanceMeters).ToPolygon(), nil
}

// TransformGeometry implements toolkit.Toolkit for the natively supported CRS pairs
func (f *Fake) TransformGeometry(ctx context.Context, g orb.Geometry, from, to string) (orb.Geometry, error) {
	if err := f.begin(ctx, "TransformGeometry", from, "", to); err != nil {
		return nil, err
	}
	out, ok := geometry.NativeTransform(g, from, to)
	if !ok {
		return nil, fmt.Errorf("unsupported transform %s -> %s", from, to)
	}
	return out, nil
}

// ClipRasterByMask implements toolkit.Toolkit
func (f *Fake) ClipRasterByMask(ctx context.Context, in toolkit.Dataset, mask *geometry.ClipMask, out toolkit.Dataset, opts toolkit.RasterClipOptions) (toolkit.Dataset, error) {
	if err := f.begin(ctx, "ClipRasterByMask", in.String(), out.String(), mask.CRS); err != nil {
		return toolkit.Dataset{}, err
	}
	r, err := f.raster(in.String())
	if err != nil {
		return toolkit.Dataset{}, err
	}

	bound, err := maskBound(mask, r.CRS)
	if err != nil {
		return toolkit.Dataset{}, err
	}
	extent := r.Extent
	if opts.CropToCutline {
		extent = intersect(r.Extent, bound)
	}

	return f.writeRaster(out, &Raster{CRS: r.CRS, Extent: extent, PixelSize: r.PixelSize})
}

// WarpRaster implements toolkit.Toolkit
func (f *Fake) WarpRaster(ctx context.Context, in toolkit.Dataset, targetCRS string, out toolkit.Dataset, opts toolkit.WarpOptions) (toolkit.Dataset, error) {
	if err := f.begin(ctx, "WarpRaster", in.String(), out.String(), targetCRS); err != nil {
		return toolkit.Dataset{}, err
	}
	r, err := f.raster(in.String())
	if err != nil {
		return toolkit.Dataset{}, err
	}

	g, ok := geometry.NativeTransform(r.Extent.ToPolygon(), r.CRS, targetCRS)
	if !ok {
		return toolkit.Dataset{}, fmt.Errorf("unsupported transform %s -> %s", r.CRS, targetCRS)
	}

	return f.writeRaster(out, &Raster{CRS: geometry.NormalizeCRS(targetCRS), Extent: g.Bound(), PixelSize: r.PixelSize})
}

// Close implements toolkit.Toolkit
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

func (f *Fake) begin(ctx context.Context, op, in, out, crs string) error {
	if f.Hook != nil {
		f.Hook(op, in)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Op: op, In: in, Out: out, CRS: crs})

	if f.Closed {
		return toolkit.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := f.FailOn[op+":"+in]; ok {
		return err
	}
	if err, ok := f.FailOn[op]; ok {
		return err
	}
	return nil
}

func (f *Fake) vector(source string) (*Vector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.Vectors[key(source)]
	if !ok {
		return nil, fmt.Errorf("vector source %s not found", source)
	}
	return v, nil
}

func (f *Fake) raster(source string) (*Raster, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.Rasters[key(source)]
	if !ok {
		return nil, fmt.Errorf("raster source %s not found", source)
	}
	return r, nil
}

// store keeps a vector result in memory, allocating a name for zero outputs
func (f *Fake) store(out toolkit.Dataset, v *Vector) toolkit.Dataset {
	f.mu.Lock()
	defer f.mu.Unlock()
	if out.Path == "" {
		f.counter++
		out.Path = fmt.Sprintf("memory:%d", f.counter)
	}
	f.Vectors[out.String()] = v
	return out
}

func (f *Fake) writeRaster(out toolkit.Dataset, r *Raster) (toolkit.Dataset, error) {
	f.mu.Lock()
	if out.Path == "" {
		f.counter++
		out.Path = filepath.Join(f.dir, fmt.Sprintf("scratch-%d.tif", f.counter))
	}
	f.mu.Unlock()

	content := fmt.Sprintf("%s %v\n", r.CRS, r.Extent)
	if err := os.WriteFile(out.Path, []byte(content), 0644); err != nil {
		return toolkit.Dataset{}, err
	}

	f.mu.Lock()
	f.Rasters[out.Path] = r
	f.mu.Unlock()
	return toolkit.Dataset{Path: out.Path}, nil
}

func key(source string) string {
	return toolkit.ParseSource(source).String()
}

func maskBound(mask *geometry.ClipMask, crs string) (orb.Bound, error) {
	g, ok := geometry.NativeTransform(mask.Polygon, mask.CRS, crs)
	if !ok {
		return orb.Bound{}, fmt.Errorf("unsupported transform %s -> %s", mask.CRS, crs)
	}
	return g.Bound(), nil
}

func boundOf(features []orb.Geometry) orb.Bound {
	var b orb.Bound
	for i, g := range features {
		if i == 0 {
			b = g.Bound()
			continue
		}
		b = b.Union(g.Bound())
	}
	return b
}

func intersect(a, b orb.Bound) orb.Bound {
	out := orb.Bound{
		Min: orb.Point{max(a.Min[0], b.Min[0]), max(a.Min[1], b.Min[1])},
		Max: orb.Point{min(a.Max[0], b.Max[0]), min(a.Max[1], b.Max[1])},
	}
	if out.Min[0] > out.Max[0] || out.Min[1] > out.Max[1] {
		return orb.Bound{}
	}
	return out
}

func isEmpty(g orb.Geometry) bool {
	switch v := g.(type) {
	case orb.LineString:
		return len(v) < 2
	case orb.MultiLineString:
		return len(v) == 0
	case orb.Polygon:
		return len(v) == 0 || len(v[0]) < 4
	case orb.MultiPolygon:
		return len(v) == 0
	case orb.MultiPoint:
		return len(v) == 0
	default:
		return false
	}
}
