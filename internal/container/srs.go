package container

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/trobanga/gdmclip/internal/geometry"
)

type spatialRef struct {
	name        string
	id          int32
	org         string
	orgID       int32
	definition  string
	description string
}

const (
	wkt4326 = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`
	wkt3857 = `PROJCS["WGS 84 / Pseudo-Mercator",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]],PROJECTION["Mercator_1SP"],PARAMETER["central_meridian",0],PARAMETER["scale_factor",1],PARAMETER["false_easting",0],PARAMETER["false_northing",0],UNIT["metre",1,AUTHORITY["EPSG","9001"]],AXIS["Easting",EAST],AXIS["Northing",NORTH],EXTENSION["PROJ4","+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +nadgrids=@null +wktext +no_defs"],AUTHORITY["EPSG","3857"]]`
)

// defaultSpatialRefs are the rows every GeoPackage carries, plus web mercator
var defaultSpatialRefs = []spatialRef{
	{"Undefined Cartesian SRS", -1, "NONE", -1, "undefined", "undefined Cartesian coordinate reference system"},
	{"Undefined geographic SRS", 0, "NONE", 0, "undefined", "undefined geographic coordinate reference system"},
	{"WGS 84 geodetic", 4326, "EPSG", 4326, wkt4326, "longitude/latitude coordinates in decimal degrees on the WGS 84 spheroid"},
	{"WGS 84 / Pseudo-Mercator", 3857, "EPSG", 3857, wkt3857, "spherical mercator"},
}

// ensureSpatialRef returns the srs_id for crs, registering an EPSG entry when missing.
// A CRS without an EPSG code maps to the undefined cartesian SRS.
func (g *GeoPackage) ensureSpatialRef(ctx context.Context, crs string) (int32, error) {
	code, ok := geometry.EPSGCode(geometry.NormalizeCRS(crs))
	if !ok {
		return -1, nil
	}

	var id int32
	err := g.db.QueryRowContext(ctx,
		`SELECT srs_id FROM gpkg_spatial_ref_sys WHERE organization = 'EPSG' AND organization_coordsys_id = ?`,
		code).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to look up spatial reference %d: %w", code, err)
	}

	// The full definition is filled in by GDAL when it writes a layer in this CRS
	if _, err := g.db.ExecContext(ctx,
		`INSERT INTO gpkg_spatial_ref_sys (srs_name, srs_id, organization, organization_coordsys_id, definition)
		 VALUES (?, ?, 'EPSG', ?, 'undefined')`,
		fmt.Sprintf("EPSG:%d", code), code, code); err != nil {
		return 0, fmt.Errorf("failed to register spatial reference %d: %w", code, err)
	}
	return int32(code), nil
}
