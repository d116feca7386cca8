// Package toolkit defines the GIS processing operations the clip pipeline depends on.
//
// A Toolkit instance belongs to exactly one job. It is created by a Factory when the
// job starts and closed when the job ends, releasing its scratch space.
package toolkit

import (
	"context"
	"errors"
	"strings"

	"github.com/paulmach/orb"

	"github.com/trobanga/gdmclip/internal/geometry"
	"github.com/trobanga/gdmclip/internal/models"
)

// ErrClosed is returned by operations on a closed toolkit
var ErrClosed = errors.New("toolkit: closed")

// Dataset locates a file-backed vector or raster dataset
type Dataset struct {
	Path  string // File on disk
	Layer string // Layer/table inside Path, empty for single-layer files
}

// IsZero reports whether the dataset is unset
func (d Dataset) IsZero() bool {
	return d.Path == "" && d.Layer == ""
}

// String renders the dataset as a data source locator ("path|layername=name")
func (d Dataset) String() string {
	if d.Layer == "" {
		return d.Path
	}
	return d.Path + "|layername=" + d.Layer
}

// ParseSource splits a data source locator into a Dataset.
// Only the layername option is interpreted, other "|key=value" options are dropped.
func ParseSource(source string) Dataset {
	parts := strings.Split(source, "|")
	ds := Dataset{Path: parts[0]}
	for _, opt := range parts[1:] {
		key, value, ok := strings.Cut(opt, "=")
		if ok && strings.EqualFold(key, "layername") {
			ds.Layer = value
		}
	}
	return ds
}

// LayerInfo is what Probe learns about a data source
type LayerInfo struct {
	CRS        string
	Extent     orb.Bound
	PixelSizeX float64 // Raster only
	PixelSizeY float64 // Raster only
	Features   int64   // Vector only, -1 when unknown
}

// RasterClipOptions parameterizes ClipRasterByMask
type RasterClipOptions struct {
	CropToCutline  bool
	AddAlpha       bool
	KeepResolution bool
	MultiThreading bool
}

// DefaultRasterClipOptions crops to the cutline, adds alpha and keeps source resolution
func DefaultRasterClipOptions() RasterClipOptions {
	return RasterClipOptions{
		CropToCutline:  true,
		AddAlpha:       true,
		KeepResolution: true,
		MultiThreading: false,
	}
}

// Resampling names a raster resampling method
type Resampling string

const (
	ResampleNearest  Resampling = "near"
	ResampleBilinear Resampling = "bilinear"
)

// WarpOptions parameterizes WarpRaster
type WarpOptions struct {
	Resampling  Resampling
	Compression string
	Predictor   int
	ZLevel      int
}

// DefaultWarpOptions returns nearest-neighbour warping with maximum deflate compression
func DefaultWarpOptions() WarpOptions {
	return WarpOptions{
		Resampling:  ResampleNearest,
		Compression: "DEFLATE",
		Predictor:   2,
		ZLevel:      9,
	}
}

// Toolkit is the black-box GIS engine used by the clippers and the geometry preparer.
// A zero out Dataset asks the toolkit to allocate a scratch location.
// Implementations are not safe for concurrent use.
type Toolkit interface {
	// Probe opens a data source and reports its CRS and extent; an error means invalid
	Probe(ctx context.Context, source string, kind models.LayerKind) (LayerInfo, error)

	ClipVectorByMask(ctx context.Context, in Dataset, mask *geometry.ClipMask, out Dataset) (Dataset, error)
	ReprojectVector(ctx context.Context, in Dataset, sourceCRS, targetCRS string, out Dataset) (Dataset, error)

	// SaveVector writes in into out, replacing any existing layer of the same name
	SaveVector(ctx context.Context, in Dataset, out Dataset) error

	BufferPolygon(ctx context.Context, polygon orb.Polygon, crs string, opts geometry.BufferOptions) (orb.Geometry, error)
	TransformGeometry(ctx context.Context, g orb.Geometry, from, to string) (orb.Geometry, error)

	ClipRasterByMask(ctx context.Context, in Dataset, mask *geometry.ClipMask, out Dataset, opts RasterClipOptions) (Dataset, error)
	WarpRaster(ctx context.Context, in Dataset, targetCRS string, out Dataset, opts WarpOptions) (Dataset, error)

	Close() error
}

// Factory creates a fresh toolkit for one job
type Factory func(ctx context.Context) (Toolkit, error)
