package geometry

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"
)

// MaskTable is the container table the clip mask is persisted to
const MaskTable = "aoi"

// ClipMask is the polygon every layer of a job is clipped against
type ClipMask struct {
	Polygon orb.Polygon
	CRS     string
}

// Bound returns the mask's extent in its own CRS
func (m *ClipMask) Bound() orb.Bound {
	return m.Polygon.Bound()
}

// Area returns the planar area in CRS units
func (m *ClipMask) Area() float64 {
	return math.Abs(planar.Area(m.Polygon))
}

// WKT renders the mask polygon as well-known text
func (m *ClipMask) WKT() string {
	return wkt.MarshalString(m.Polygon)
}

// JoinStyle controls how buffer corners are rendered
type JoinStyle string

const (
	JoinRound JoinStyle = "round"
	JoinMiter JoinStyle = "miter"
	JoinBevel JoinStyle = "bevel"
)

// BufferOptions parameterizes a polygon buffer
type BufferOptions struct {
	DistanceMeters float64
	Segments       int // Segments per quarter circle
	Join           JoinStyle
	Dissolve       bool
}

// DefaultBufferOptions returns the low-resolution round buffer used for clip masks
func DefaultBufferOptions(distanceMeters float64) BufferOptions {
	return BufferOptions{
		DistanceMeters: distanceMeters,
		Segments:       5,
		Join:           JoinRound,
		Dissolve:       true,
	}
}

// ParseClipPolygon parses a single polygon from WKT.
// A MULTIPOLYGON with exactly one member is accepted and unwrapped.
func ParseClipPolygon(s string) (orb.Polygon, error) {
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, fmt.Errorf("parse wkt: %w", err)
	}
	poly, err := SinglePolygon(g)
	if err != nil {
		return nil, err
	}
	if err := ValidatePolygon(poly); err != nil {
		return nil, err
	}
	return poly, nil
}

// SinglePolygon reduces a geometry to exactly one polygon
func SinglePolygon(g orb.Geometry) (orb.Polygon, error) {
	switch v := g.(type) {
	case orb.Polygon:
		return v, nil
	case orb.MultiPolygon:
		if len(v) == 1 {
			return v[0], nil
		}
		return nil, fmt.Errorf("expected a single polygon, got multipolygon with %d parts", len(v))
	case orb.Collection:
		if len(v) == 1 {
			return SinglePolygon(v[0])
		}
		return nil, fmt.Errorf("expected a single polygon, got collection with %d members", len(v))
	case nil:
		return nil, fmt.Errorf("empty geometry")
	default:
		return nil, fmt.Errorf("expected a polygon, got %s", g.GeoJSONType())
	}
}

// ValidatePolygon checks ring closure, ring size, finite coordinates and non-zero area
func ValidatePolygon(p orb.Polygon) error {
	if len(p) == 0 {
		return fmt.Errorf("polygon has no rings")
	}
	for i, ring := range p {
		if len(ring) < 4 {
			return fmt.Errorf("ring %d has %d points, need at least 4", i, len(ring))
		}
		if !ring.Closed() {
			return fmt.Errorf("ring %d is not closed", i)
		}
		for _, pt := range ring {
			if math.IsNaN(pt[0]) || math.IsNaN(pt[1]) || math.IsInf(pt[0], 0) || math.IsInf(pt[1], 0) {
				return fmt.Errorf("ring %d has a non-finite coordinate", i)
			}
		}
	}
	if math.Abs(planar.Area(p[0])) == 0 {
		return fmt.Errorf("polygon has zero area")
	}
	return nil
}

// ValidateLonLat checks that every vertex lies within geographic bounds
func ValidateLonLat(p orb.Polygon) error {
	for _, ring := range p {
		for _, pt := range ring {
			if pt[0] < -180 || pt[0] > 180 || pt[1] < -90 || pt[1] > 90 {
				return fmt.Errorf("coordinate %v is outside EPSG:4326 bounds", pt)
			}
		}
	}
	return nil
}
