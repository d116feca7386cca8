package geometry

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

const (
	// WGS84 is the CRS clip geometries are supplied in
	WGS84 = "EPSG:4326"
	// WebMercator is the metric CRS buffers are computed in
	WebMercator = "EPSG:3857"
)

// webMercatorAliases are legacy codes for EPSG:3857
var webMercatorAliases = map[int]bool{3857: true, 900913: true, 3785: true, 102100: true, 102113: true}

// EPSGCode extracts the numeric EPSG code from "EPSG:4326", "epsg:4326",
// "urn:ogc:def:crs:EPSG::4326" or "4326".
func EPSGCode(crs string) (int, bool) {
	s := strings.TrimSpace(crs)
	upper := strings.ToUpper(s)
	switch {
	case strings.HasPrefix(upper, "URN:OGC:DEF:CRS:EPSG:"):
		s = s[strings.LastIndex(s, ":")+1:]
	case strings.HasPrefix(upper, "EPSG:"):
		s = s[len("EPSG:"):]
	}
	code, err := strconv.Atoi(s)
	if err != nil || code <= 0 {
		return 0, false
	}
	return code, true
}

// NormalizeCRS returns the canonical "EPSG:<code>" form, or the trimmed input when it has no EPSG code
func NormalizeCRS(crs string) string {
	if code, ok := EPSGCode(crs); ok {
		if webMercatorAliases[code] {
			code = 3857
		}
		return fmt.Sprintf("EPSG:%d", code)
	}
	return strings.TrimSpace(crs)
}

// SameCRS reports whether two CRS identifiers denote the same reference system
func SameCRS(a, b string) bool {
	return NormalizeCRS(a) == NormalizeCRS(b)
}

// URN renders a CRS as an OGC URN, the form GeoJSON "crs" members use
func URN(crs string) string {
	if code, ok := EPSGCode(NormalizeCRS(crs)); ok {
		return fmt.Sprintf("urn:ogc:def:crs:EPSG::%d", code)
	}
	return crs
}

// Transformer reprojects geometries between arbitrary CRSs
type Transformer interface {
	TransformGeometry(ctx context.Context, g orb.Geometry, from, to string) (orb.Geometry, error)
}

// NativeTransform reprojects between EPSG:4326 and EPSG:3857 without an external engine.
// ok is false when the pair is not supported natively. The input is never modified.
func NativeTransform(g orb.Geometry, from, to string) (orb.Geometry, bool) {
	from, to = NormalizeCRS(from), NormalizeCRS(to)
	switch {
	case from == to:
		return orb.Clone(g), true
	case from == WGS84 && to == WebMercator:
		return project.Geometry(orb.Clone(g), project.WGS84.ToMercator), true
	case from == WebMercator && to == WGS84:
		return project.Geometry(orb.Clone(g), project.Mercator.ToWGS84), true
	default:
		return nil, false
	}
}

// Transform reprojects g, natively when possible and through t otherwise.
// The transform is a fixed forward projection, so repeated runs give identical output.
func Transform(ctx context.Context, t Transformer, g orb.Geometry, from, to string) (orb.Geometry, error) {
	if out, ok := NativeTransform(g, from, to); ok {
		return out, nil
	}
	if t == nil {
		return nil, fmt.Errorf("no transformer available for %s -> %s", from, to)
	}
	out, err := t.TransformGeometry(ctx, g, NormalizeCRS(from), NormalizeCRS(to))
	if err != nil {
		return nil, fmt.Errorf("transform %s -> %s: %w", from, to, err)
	}
	return out, nil
}
