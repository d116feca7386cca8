package clip

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/trobanga/gdmclip/internal/geometry"
	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
	"github.com/trobanga/gdmclip/internal/project"
	"github.com/trobanga/gdmclip/internal/toolkit"
)

// ClipRaster crops a raster to the mask cutline, warps it when the output CRS
// differs, and writes <name>.tif beside the container. The repointed layer is
// reloaded but its extent is not refreshed.
func (c *Clipper) ClipRaster(ctx context.Context, layer *project.Layer) models.LayerResult {
	steps := c.stepper(models.LayerKindRaster)
	defer steps.finish(fmt.Sprintf("Skipped %s", layer.Name))

	info, err := c.validate(ctx, layer)
	if err != nil {
		return c.drop(ctx, layer, models.LayerOutcomeRemovedInvalid, fmt.Errorf("invalid layer: %w", err))
	}

	final := toolkit.Dataset{Path: filepath.Join(c.cfg.OutputDir, lib.FileName(layer.Name, lib.FileName(layer.ID, "raster"))+RasterExtension)}
	in := toolkit.ParseSource(layer.Source)
	warp := c.Reprojects() && !geometry.SameCRS(info.CRS, c.cfg.OutputCRS)

	clipTarget := final
	if warp {
		clipTarget = toolkit.Dataset{} // scratch
	}

	clipped, err := c.cfg.Toolkit.ClipRasterByMask(ctx, in, c.cfg.Mask, clipTarget, toolkit.DefaultRasterClipOptions())
	if err != nil {
		c.removePartial(final.Path)
		return c.drop(ctx, layer, models.LayerOutcomeFailed, fmt.Errorf("clip: %w", err))
	}

	if warp {
		if _, err := c.cfg.Toolkit.WarpRaster(ctx, clipped, c.cfg.OutputCRS, final, toolkit.DefaultWarpOptions()); err != nil {
			c.removePartial(final.Path)
			return c.drop(ctx, layer, models.LayerOutcomeFailed, fmt.Errorf("warp: %w", err))
		}
	}
	steps.step(fmt.Sprintf("Clipped %s", layer.Name))

	if err := c.cfg.Document.Repoint(layer.ID, final.Path, ProviderGDAL); err != nil {
		return c.drop(ctx, layer, models.LayerOutcomeFailed, fmt.Errorf("repoint: %w", err))
	}
	if warp {
		layer.CRS = geometry.NormalizeCRS(c.cfg.OutputCRS)
	}
	c.reload(ctx, layer)

	return newResult(layer, models.LayerOutcomeClipped, "")
}

// reload probes the repointed raster against its new file. The extent is kept.
func (c *Clipper) reload(ctx context.Context, layer *project.Layer) {
	if _, err := c.cfg.Toolkit.Probe(ctx, layer.Source, layer.Kind); err != nil {
		c.cfg.Warn(fmt.Sprintf("Raster %s not reloaded: %v", layer.Name, err))
	}
}

func (c *Clipper) removePartial(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.cfg.Warn(fmt.Sprintf("Partial raster %s not removed: %v", filepath.Base(path), err))
	}
}
