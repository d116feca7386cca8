// Package clip clips single project layers against the job's clip mask and
// repoints them at their new data sources.
package clip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trobanga/gdmclip/internal/geometry"
	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
	"github.com/trobanga/gdmclip/internal/project"
	"github.com/trobanga/gdmclip/internal/toolkit"
)

const (
	ProviderOGR  = "ogr"
	ProviderGDAL = "gdal"

	// RasterExtension of clipped raster files
	RasterExtension = ".tif"
)

// Output is the container clipped vector layers are written into
type Output interface {
	Path() string
	SaveStyle(ctx context.Context, table string, styleName string, qml string) error
}

// Config wires a Clipper to one job
type Config struct {
	Toolkit   toolkit.Toolkit
	Document  *project.Document
	Output    Output
	Mask      *geometry.ClipMask
	OutputDir string // Directory raster files are written to
	OutputCRS string // Empty keeps each layer's native CRS

	// Advance is called once per planned sub-step (clip, reproject)
	Advance func(description string)

	// Warn receives non-fatal problems that do not change the layer outcome
	Warn func(message string)

	Logger *lib.Logger
	JobID  string
}

// Clipper dispatches layers to the vector or raster clipper.
// The document is mutated serially; a Clipper is not safe for concurrent use.
type Clipper struct {
	cfg Config
}

// New creates a Clipper
func New(cfg Config) *Clipper {
	if cfg.Logger == nil {
		cfg.Logger = lib.DefaultLogger
	}
	if cfg.Advance == nil {
		cfg.Advance = func(string) {}
	}
	if cfg.Warn == nil {
		cfg.Warn = func(string) {}
	}
	return &Clipper{cfg: cfg}
}

// Reprojects reports whether an output CRS was requested
func (c *Clipper) Reprojects() bool {
	return c.cfg.OutputCRS != ""
}

// StepsFor returns how many progress advances a layer of the given kind consumes
func StepsFor(kind models.LayerKind, reproject bool) int {
	switch kind {
	case models.LayerKindVector:
		if reproject {
			return 2
		}
		return 1
	case models.LayerKindRaster:
		return 1
	default:
		return 0
	}
}

// ClipLayer dispatches on the layer kind. Unsupported kinds are skipped and kept in the document.
func (c *Clipper) ClipLayer(ctx context.Context, layer *project.Layer) models.LayerResult {
	start := time.Now()
	lib.LogLayerStart(c.cfg.Logger, layer.Name, string(layer.Kind), c.cfg.JobID)

	var result models.LayerResult
	switch layer.Kind {
	case models.LayerKindVector:
		result = c.ClipVector(ctx, layer)
	case models.LayerKindRaster:
		result = c.ClipRaster(ctx, layer)
	default:
		result = newResult(layer, models.LayerOutcomeSkippedUnsupported,
			fmt.Sprintf("layer type %q is not clipped", layer.Kind))
		c.cfg.Warn(fmt.Sprintf("Skipping layer %s: unsupported layer type", layer.Name))
	}

	result.Duration = time.Since(start)
	if result.Outcome.IsError() {
		lib.LogLayerFailed(c.cfg.Logger, layer.Name, c.cfg.JobID, errors.New(result.Message))
	} else {
		lib.LogLayerComplete(c.cfg.Logger, layer.Name, string(result.Outcome), c.cfg.JobID, result.Duration)
	}
	return result
}

// stepper guarantees a layer consumes exactly its planned progress steps
type stepper struct {
	planned int
	taken   int
	advance func(string)
}

func (s *stepper) step(description string) {
	if s.taken < s.planned {
		s.taken++
		s.advance(description)
	}
}

func (s *stepper) finish(description string) {
	for s.taken < s.planned {
		s.step(description)
	}
}

func (c *Clipper) stepper(kind models.LayerKind) *stepper {
	return &stepper{planned: StepsFor(kind, c.Reprojects()), advance: c.cfg.Advance}
}

// validate probes the layer, reloading once when the first probe fails
func (c *Clipper) validate(ctx context.Context, layer *project.Layer) (toolkit.LayerInfo, error) {
	info, err := c.cfg.Toolkit.Probe(ctx, layer.Source, layer.Kind)
	if err == nil {
		return info, nil
	}
	if ctx.Err() != nil {
		return toolkit.LayerInfo{}, err
	}
	c.cfg.Logger.Debug("Layer invalid, reloading", "layer", layer.Name, "error", err)
	return c.cfg.Toolkit.Probe(ctx, layer.Source, layer.Kind)
}

// drop removes the layer from the document and builds the failure result
func (c *Clipper) drop(ctx context.Context, layer *project.Layer, outcome models.LayerOutcome, err error) models.LayerResult {
	if ctx.Err() != nil {
		outcome = models.LayerOutcomeCancelled
	}
	if rmErr := c.cfg.Document.Remove(layer.ID); rmErr != nil {
		c.cfg.Logger.Warn("Failed to remove layer from project", "layer", layer.Name, "error", rmErr)
	}
	return newResult(layer, outcome, err.Error())
}

func newResult(layer *project.Layer, outcome models.LayerOutcome, message string) models.LayerResult {
	return models.LayerResult{
		LayerID: layer.ID,
		Name:    layer.Name,
		Kind:    layer.Kind,
		Outcome: outcome,
		Source:  layer.Source,
		Message: message,
	}
}
