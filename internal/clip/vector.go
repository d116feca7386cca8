package clip

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/trobanga/gdmclip/internal/geometry"
	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
	"github.com/trobanga/gdmclip/internal/project"
	"github.com/trobanga/gdmclip/internal/toolkit"
)

// ClipVector clips a vector layer against the mask, reprojects it when an
// output CRS is set, and writes it into the container under its sanitized
// name. The layer is repointed only when every step succeeded; on failure it
// is removed from the document.
func (c *Clipper) ClipVector(ctx context.Context, layer *project.Layer) models.LayerResult {
	steps := c.stepper(models.LayerKindVector)
	defer steps.finish(fmt.Sprintf("Skipped %s", layer.Name))

	info, err := c.validate(ctx, layer)
	if err != nil {
		return c.drop(ctx, layer, models.LayerOutcomeRemovedInvalid, fmt.Errorf("invalid layer: %w", err))
	}

	table := lib.SanitizeName(layer.Name)
	in := toolkit.ParseSource(layer.Source)

	clipped, err := c.cfg.Toolkit.ClipVectorByMask(ctx, in, c.cfg.Mask, toolkit.Dataset{Layer: table})
	if err != nil {
		return c.drop(ctx, layer, models.LayerOutcomeFailed, fmt.Errorf("clip: %w", err))
	}
	steps.step(fmt.Sprintf("Clipped %s", layer.Name))

	result := clipped
	if c.Reprojects() {
		if !geometry.SameCRS(info.CRS, c.cfg.OutputCRS) {
			result, err = c.cfg.Toolkit.ReprojectVector(ctx, clipped, info.CRS, c.cfg.OutputCRS, toolkit.Dataset{Layer: table})
			if err != nil {
				return c.drop(ctx, layer, models.LayerOutcomeFailed, fmt.Errorf("reproject: %w", err))
			}
		}
		// Same CRS is a no-op, but the step is still counted
		steps.step(fmt.Sprintf("Reprojected %s", layer.Name))
	}

	target := toolkit.Dataset{Path: c.cfg.Output.Path(), Layer: table}
	if err := c.cfg.Toolkit.SaveVector(ctx, result, target); err != nil {
		return c.drop(ctx, layer, models.LayerOutcomeFailed, fmt.Errorf("save: %w", err))
	}

	if layer.Style != "" {
		if err := c.cfg.Output.SaveStyle(ctx, table, layer.Name, layer.Style); err != nil {
			c.cfg.Warn(fmt.Sprintf("Style of %s not saved: %v", layer.Name, err))
		}
	}

	if err := c.cfg.Document.Repoint(layer.ID, target.String(), ProviderOGR); err != nil {
		return c.drop(ctx, layer, models.LayerOutcomeFailed, fmt.Errorf("repoint: %w", err))
	}
	c.refreshExtent(ctx, layer)

	return newResult(layer, models.LayerOutcomeClipped, "")
}

// refreshExtent reloads the repointed layer and updates its CRS and extent
func (c *Clipper) refreshExtent(ctx context.Context, layer *project.Layer) {
	info, err := c.cfg.Toolkit.Probe(ctx, layer.Source, layer.Kind)
	if err != nil {
		c.cfg.Warn(fmt.Sprintf("Extent of %s not refreshed: %v", layer.Name, err))
		return
	}
	if info.CRS != "" {
		layer.CRS = info.CRS
	}
	if info.Extent != (orb.Bound{}) {
		layer.Extent = project.ExtentFromBound(info.Extent)
	}
}
