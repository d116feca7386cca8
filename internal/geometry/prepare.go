package geometry

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/trobanga/gdmclip/internal/lib"
)

// Engine is the part of the GIS toolkit the preparer needs
type Engine interface {
	Transformer
	BufferPolygon(ctx context.Context, polygon orb.Polygon, crs string, opts BufferOptions) (orb.Geometry, error)
}

// MaskStore persists the clip mask for audit
type MaskStore interface {
	WriteMask(ctx context.Context, mask *ClipMask) error
}

// Preparer builds the clip mask of a job
type Preparer struct {
	Engine Engine
	Store  MaskStore // Optional

	// OnPersistError receives mask persistence failures, which never abort Prepare
	OnPersistError func(error)
}

// Prepare parses clipWKT (EPSG:4326), optionally buffers it by bufferKm in
// EPSG:3857, and reprojects it into outputCRS. An empty outputCRS keeps EPSG:4326.
func (p *Preparer) Prepare(ctx context.Context, clipWKT string, outputCRS string, bufferKm float64) (*ClipMask, error) {
	if outputCRS == "" {
		outputCRS = WGS84
	}
	outputCRS = NormalizeCRS(outputCRS)

	poly, err := ParseClipPolygon(clipWKT)
	if err != nil {
		return nil, lib.ErrInvalidGeometry(err.Error(), err)
	}
	if err := ValidateLonLat(poly); err != nil {
		return nil, lib.ErrInvalidGeometry(err.Error(), err)
	}
	if bufferKm < 0 {
		return nil, lib.ErrInvalidGeometry(fmt.Sprintf("negative buffer distance %g km", bufferKm), nil)
	}

	var result orb.Geometry = poly
	if bufferKm > 0 {
		result, err = p.buffer(ctx, poly, bufferKm, outputCRS)
	} else {
		result, err = Transform(ctx, p.Engine, poly, WGS84, outputCRS)
	}
	if err != nil {
		if lib.KindOf(err) == lib.KindUnknown {
			err = lib.ErrToolkit("transform", err)
		}
		return nil, err
	}

	final, err := SinglePolygon(result)
	if err != nil {
		return nil, lib.ErrInvalidGeometry(err.Error(), err)
	}
	if err := ValidatePolygon(final); err != nil {
		return nil, lib.ErrInvalidGeometry(err.Error(), err)
	}

	mask := &ClipMask{Polygon: final, CRS: outputCRS}

	if p.Store != nil {
		if err := p.Store.WriteMask(ctx, mask); err != nil && p.OnPersistError != nil {
			p.OnPersistError(fmt.Errorf("persist clip mask: %w", err))
		}
	}

	return mask, nil
}

func (p *Preparer) buffer(ctx context.Context, poly orb.Polygon, bufferKm float64, outputCRS string) (orb.Geometry, error) {
	if p.Engine == nil {
		return nil, fmt.Errorf("buffering requires a toolkit")
	}

	metric, err := Transform(ctx, p.Engine, poly, WGS84, WebMercator)
	if err != nil {
		return nil, err
	}
	metricPoly, err := SinglePolygon(metric)
	if err != nil {
		return nil, lib.ErrInvalidGeometry(err.Error(), err)
	}

	buffered, err := p.Engine.BufferPolygon(ctx, metricPoly, WebMercator, DefaultBufferOptions(bufferKm*1000))
	if err != nil {
		return nil, lib.ErrToolkit("buffer", err)
	}

	return Transform(ctx, p.Engine, buffered, WebMercator, outputCRS)
}
