package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/trobanga/gdmclip/internal/geometry"
	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
)

// GDAL implements Toolkit by driving the GDAL command-line utilities
// (ogr2ogr, ogrinfo, gdalinfo, gdalwarp). Intermediate results live in a
// per-instance scratch directory that Close removes.
type GDAL struct {
	cfg     models.ToolkitConfig
	runner  CommandRunner
	logger  *lib.Logger
	scratch string
	closed  bool
}

var _ Toolkit = (*GDAL)(nil)

// NewGDAL creates a toolkit with its own scratch directory
func NewGDAL(cfg models.ToolkitConfig, runner CommandRunner, logger *lib.Logger) (*GDAL, error) {
	if logger == nil {
		logger = lib.DefaultLogger
	}
	if runner == nil {
		runner = &ExecRunner{Logger: logger}
	}

	base := cfg.ScratchDir
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch base: %w", err)
	}
	dir, err := os.MkdirTemp(base, "gdmclip-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	return &GDAL{cfg: cfg, runner: runner, logger: logger, scratch: dir}, nil
}

// NewGDALFactory returns a Factory producing one GDAL toolkit per job
func NewGDALFactory(cfg models.ToolkitConfig, runner CommandRunner, logger *lib.Logger) Factory {
	return func(ctx context.Context) (Toolkit, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewGDAL(cfg, runner, logger)
	}
}

// ScratchDir returns the directory holding intermediate results
func (g *GDAL) ScratchDir() string {
	return g.scratch
}

// Close removes the scratch directory. Further calls return ErrClosed.
func (g *GDAL) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true
	if err := os.RemoveAll(g.scratch); err != nil {
		return fmt.Errorf("failed to remove scratch directory: %w", err)
	}
	return nil
}

func (g *GDAL) threads() int {
	if g.cfg.MaxThreads < 1 {
		return 1
	}
	return g.cfg.MaxThreads
}

func (g *GDAL) env() []string {
	return []string{
		"GDAL_NUM_THREADS=" + strconv.Itoa(g.threads()),
		"CPL_DEBUG=OFF",
	}
}

func (g *GDAL) run(ctx context.Context, tool string, args ...string) ([]byte, error) {
	if g.closed {
		return nil, ErrClosed
	}
	return g.runner.Run(ctx, tool, args, g.env())
}

func (g *GDAL) scratchPath(ext string) string {
	return filepath.Join(g.scratch, uuid.New().String()+ext)
}

func tool(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

// Probe

type crsInfo struct {
	WKT      string `json:"wkt"`
	ProjJSON *struct {
		ID *struct {
			Authority string `json:"authority"`
			Code      any    `json:"code"`
		} `json:"id"`
	} `json:"projjson"`
}

type ogrInfoOutput struct {
	Layers []struct {
		Name           string `json:"name"`
		FeatureCount   *int64 `json:"featureCount"`
		GeometryFields []struct {
			Extent           []float64 `json:"extent"`
			CoordinateSystem *crsInfo  `json:"coordinateSystem"`
		} `json:"geometryFields"`
	} `json:"layers"`
}

type gdalInfoOutput struct {
	Size             []int     `json:"size"`
	GeoTransform     []float64 `json:"geoTransform"`
	CoordinateSystem *crsInfo  `json:"coordinateSystem"`
	Stac             *struct {
		EPSG *int `json:"proj:epsg"`
	} `json:"stac"`
	CornerCoordinates struct {
		UpperLeft  []float64 `json:"upperLeft"`
		LowerRight []float64 `json:"lowerRight"`
	} `json:"cornerCoordinates"`
}

var wktAuthority = regexp.MustCompile(`(?:ID|AUTHORITY)\["EPSG",\s*"?(\d+)"?\]`)

// crsFromWKT returns the outermost EPSG authority code of a WKT definition
func crsFromWKT(wkt string) string {
	matches := wktAuthority.FindAllStringSubmatch(wkt, -1)
	if len(matches) == 0 {
		return ""
	}
	return "EPSG:" + matches[len(matches)-1][1]
}

func (c *crsInfo) identifier() string {
	if c == nil {
		return ""
	}
	if c.ProjJSON != nil && c.ProjJSON.ID != nil && strings.EqualFold(c.ProjJSON.ID.Authority, "EPSG") {
		return geometry.NormalizeCRS(fmt.Sprint(c.ProjJSON.ID.Code))
	}
	return crsFromWKT(c.WKT)
}

// Probe opens source read-only and reports CRS and extent.
// Any error means the layer is not usable.
func (g *GDAL) Probe(ctx context.Context, source string, kind models.LayerKind) (LayerInfo, error) {
	ds := ParseSource(source)
	if _, err := os.Stat(ds.Path); err != nil {
		return LayerInfo{}, fmt.Errorf("data source unavailable: %w", err)
	}

	switch kind {
	case models.LayerKindVector:
		return g.probeVector(ctx, ds)
	case models.LayerKindRaster:
		return g.probeRaster(ctx, ds)
	default:
		return LayerInfo{}, fmt.Errorf("cannot probe %s layer", kind)
	}
}

func (g *GDAL) probeVector(ctx context.Context, ds Dataset) (LayerInfo, error) {
	args := []string{"-json", "-ro", "-so"}
	if ds.Layer != "" {
		args = append(args, ds.Path, ds.Layer)
	} else {
		args = append(args, "-al", ds.Path)
	}

	out, err := g.run(ctx, tool(g.cfg.OGRInfo, "ogrinfo"), args...)
	if err != nil {
		return LayerInfo{}, err
	}
	return parseOGRInfo(out, ds.Layer)
}

func parseOGRInfo(out []byte, layerName string) (LayerInfo, error) {
	var parsed ogrInfoOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return LayerInfo{}, fmt.Errorf("failed to parse ogrinfo output: %w", err)
	}
	if len(parsed.Layers) == 0 {
		return LayerInfo{}, fmt.Errorf("data source has no layers")
	}

	layer := parsed.Layers[0]
	for _, l := range parsed.Layers {
		if layerName != "" && l.Name == layerName {
			layer = l
			break
		}
	}
	if len(layer.GeometryFields) == 0 {
		return LayerInfo{}, fmt.Errorf("layer %s has no geometry column", layer.Name)
	}

	field := layer.GeometryFields[0]
	info := LayerInfo{CRS: field.CoordinateSystem.identifier(), Features: -1}
	if layer.FeatureCount != nil {
		info.Features = *layer.FeatureCount
	}
	if len(field.Extent) == 4 {
		info.Extent = orb.Bound{
			Min: orb.Point{field.Extent[0], field.Extent[1]},
			Max: orb.Point{field.Extent[2], field.Extent[3]},
		}
	}
	return info, nil
}

func (g *GDAL) probeRaster(ctx context.Context, ds Dataset) (LayerInfo, error) {
	out, err := g.run(ctx, tool(g.cfg.GDALInfo, "gdalinfo"), "-json", ds.Path)
	if err != nil {
		return LayerInfo{}, err
	}
	return parseGDALInfo(out)
}

func parseGDALInfo(out []byte) (LayerInfo, error) {
	var parsed gdalInfoOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return LayerInfo{}, fmt.Errorf("failed to parse gdalinfo output: %w", err)
	}
	if len(parsed.Size) != 2 || parsed.Size[0] == 0 || parsed.Size[1] == 0 {
		return LayerInfo{}, fmt.Errorf("raster has no pixels")
	}

	info := LayerInfo{CRS: parsed.CoordinateSystem.identifier(), Features: -1}
	if info.CRS == "" && parsed.Stac != nil && parsed.Stac.EPSG != nil {
		info.CRS = fmt.Sprintf("EPSG:%d", *parsed.Stac.EPSG)
	}
	if len(parsed.GeoTransform) == 6 {
		info.PixelSizeX = parsed.GeoTransform[1]
		info.PixelSizeY = parsed.GeoTransform[5]
	}
	ul, lr := parsed.CornerCoordinates.UpperLeft, parsed.CornerCoordinates.LowerRight
	if len(ul) == 2 && len(lr) == 2 {
		info.Extent = orb.MultiPoint{{ul[0], ul[1]}, {lr[0], lr[1]}}.Bound()
	}
	return info, nil
}

// GeoJSON scratch files

// writeGeoJSON writes geometries as a named FeatureCollection carrying a "crs" member
func (g *GDAL) writeGeoJSON(layer string, crs string, geoms ...orb.Geometry) (string, error) {
	fc := geojson.NewFeatureCollection()
	for i, geom := range geoms {
		f := geojson.NewFeature(geom)
		f.Properties["id"] = i + 1
		fc.Append(f)
	}
	fc.ExtraMembers = geojson.Properties{
		"name": layer,
		"crs": map[string]any{
			"type":       "name",
			"properties": map[string]any{"name": geometry.URN(crs)},
		},
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("failed to encode geojson: %w", err)
	}
	path := g.scratchPath(".geojson")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write geojson: %w", err)
	}
	return path, nil
}

func readGeoJSON(path string) (orb.Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read geojson: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode geojson: %w", err)
	}

	switch len(fc.Features) {
	case 0:
		return nil, fmt.Errorf("result has no features")
	case 1:
		return fc.Features[0].Geometry, nil
	}

	var mp orb.MultiPolygon
	for _, f := range fc.Features {
		switch v := f.Geometry.(type) {
		case orb.Polygon:
			mp = append(mp, v)
		case orb.MultiPolygon:
			mp = append(mp, v...)
		}
	}
	return mp, nil
}

// maskFile writes the clip mask in the given CRS for use as clipsrc/cutline
func (g *GDAL) maskFile(ctx context.Context, mask *geometry.ClipMask, crs string) (string, error) {
	if crs == "" {
		crs = mask.CRS
	}
	poly, err := geometry.Transform(ctx, g, mask.Polygon, mask.CRS, crs)
	if err != nil {
		return "", err
	}
	return g.writeGeoJSON(geometry.MaskTable, crs, poly)
}

// Vector operations

func datasetLayerName(ds Dataset) string {
	if ds.Layer != "" {
		return ds.Layer
	}
	base := filepath.Base(ds.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func sourceArgs(ds Dataset) []string {
	if ds.Layer == "" {
		return []string{ds.Path}
	}
	return []string{ds.Path, ds.Layer}
}

func (g *GDAL) scratchVector(in Dataset, out Dataset) Dataset {
	if out.Path == "" {
		out.Path = g.scratchPath(".gpkg")
	}
	if out.Layer == "" {
		out.Layer = datasetLayerName(in)
	}
	return out
}

// ClipVectorByMask cuts features at the mask boundary
func (g *GDAL) ClipVectorByMask(ctx context.Context, in Dataset, mask *geometry.ClipMask, out Dataset) (Dataset, error) {
	info, err := g.probeVector(ctx, in)
	if err != nil {
		return Dataset{}, err
	}
	maskPath, err := g.maskFile(ctx, mask, info.CRS)
	if err != nil {
		return Dataset{}, err
	}

	out = g.scratchVector(in, out)
	args := []string{"-f", "GPKG", "-overwrite", out.Path}
	args = append(args, sourceArgs(in)...)
	args = append(args, "-nln", out.Layer, "-clipsrc", maskPath, "-nlt", "PROMOTE_TO_MULTI")

	if _, err := g.run(ctx, tool(g.cfg.OGR2OGR, "ogr2ogr"), args...); err != nil {
		return Dataset{}, err
	}
	return out, nil
}

// ReprojectVector transforms every feature into targetCRS
func (g *GDAL) ReprojectVector(ctx context.Context, in Dataset, sourceCRS, targetCRS string, out Dataset) (Dataset, error) {
	out = g.scratchVector(in, out)
	args := []string{"-f", "GPKG", "-overwrite", out.Path}
	args = append(args, sourceArgs(in)...)
	args = append(args, "-nln", out.Layer)
	if sourceCRS != "" {
		args = append(args, "-s_srs", sourceCRS)
	}
	args = append(args, "-t_srs", geometry.NormalizeCRS(targetCRS))

	if _, err := g.run(ctx, tool(g.cfg.OGR2OGR, "ogr2ogr"), args...); err != nil {
		return Dataset{}, err
	}
	return out, nil
}

// SaveVector copies in into an existing GeoPackage, replacing the target layer
func (g *GDAL) SaveVector(ctx context.Context, in Dataset, out Dataset) error {
	if out.Path == "" || out.Layer == "" {
		return fmt.Errorf("save target must name a container and a layer")
	}
	args := []string{"-f", "GPKG", "-update", "-overwrite", out.Path}
	args = append(args, sourceArgs(in)...)
	args = append(args, "-nln", out.Layer)

	_, err := g.run(ctx, tool(g.cfg.OGR2OGR, "ogr2ogr"), args...)
	return err
}

// Geometry operations

// BufferPolygon buffers through the SQLite dialect (ST_Buffer with quadrant segments)
func (g *GDAL) BufferPolygon(ctx context.Context, polygon orb.Polygon, crs string, opts geometry.BufferOptions) (orb.Geometry, error) {
	if opts.Join != "" && opts.Join != geometry.JoinRound {
		return nil, fmt.Errorf("join style %s is not supported", opts.Join)
	}
	segments := opts.Segments
	if segments < 1 {
		segments = 5
	}

	in, err := g.writeGeoJSON(geometry.MaskTable, crs, polygon)
	if err != nil {
		return nil, err
	}
	out := g.scratchPath(".geojson")

	expr := fmt.Sprintf("ST_Buffer(geometry, %s, %d)", strconv.FormatFloat(opts.DistanceMeters, 'f', -1, 64), segments)
	if opts.Dissolve {
		expr = "ST_Union(" + expr + ")"
	}
	sql := fmt.Sprintf("SELECT %s AS geometry FROM %s", expr, geometry.MaskTable)

	if _, err := g.run(ctx, tool(g.cfg.OGR2OGR, "ogr2ogr"),
		"-f", "GeoJSON", out, in, "-dialect", "SQLite", "-sql", sql); err != nil {
		return nil, err
	}
	return readGeoJSON(out)
}

// TransformGeometry reprojects g, natively for EPSG:4326/3857 and through ogr2ogr otherwise
func (g *GDAL) TransformGeometry(ctx context.Context, geom orb.Geometry, from, to string) (orb.Geometry, error) {
	if out, ok := geometry.NativeTransform(geom, from, to); ok {
		return out, nil
	}

	in, err := g.writeGeoJSON("geom", from, geom)
	if err != nil {
		return nil, err
	}
	out := g.scratchPath(".geojson")

	if _, err := g.run(ctx, tool(g.cfg.OGR2OGR, "ogr2ogr"),
		"-f", "GeoJSON", out, in, "-s_srs", geometry.NormalizeCRS(from), "-t_srs", geometry.NormalizeCRS(to)); err != nil {
		return nil, err
	}
	return readGeoJSON(out)
}

// Raster operations

func (g *GDAL) warpArgs(multi bool) []string {
	args := []string{"-of", "GTiff", "-overwrite", "-wo", "NUM_THREADS=" + strconv.Itoa(g.threads())}
	if multi {
		args = append(args, "-multi")
	}
	return args
}

func (g *GDAL) scratchRaster(out Dataset) Dataset {
	if out.Path == "" {
		out.Path = g.scratchPath(".tif")
	}
	return out
}

// ClipRasterByMask crops a raster to the mask cutline
func (g *GDAL) ClipRasterByMask(ctx context.Context, in Dataset, mask *geometry.ClipMask, out Dataset, opts RasterClipOptions) (Dataset, error) {
	info, err := g.probeRaster(ctx, in)
	if err != nil {
		return Dataset{}, err
	}
	// gdalwarp reprojects the cutline from its own CRS
	maskPath, err := g.maskFile(ctx, mask, mask.CRS)
	if err != nil {
		return Dataset{}, err
	}

	out = g.scratchRaster(out)
	args := g.warpArgs(opts.MultiThreading)
	args = append(args, "-cutline", maskPath, "-cl", geometry.MaskTable)
	if opts.CropToCutline {
		args = append(args, "-crop_to_cutline")
	}
	if opts.AddAlpha {
		args = append(args, "-dstalpha")
	}
	if opts.KeepResolution && info.PixelSizeX != 0 && info.PixelSizeY != 0 {
		args = append(args, "-tr",
			strconv.FormatFloat(abs(info.PixelSizeX), 'f', -1, 64),
			strconv.FormatFloat(abs(info.PixelSizeY), 'f', -1, 64))
	}
	args = append(args, in.Path, out.Path)

	if _, err := g.run(ctx, tool(g.cfg.GDALWarp, "gdalwarp"), args...); err != nil {
		return Dataset{}, err
	}
	return out, nil
}

// WarpRaster reprojects a raster into targetCRS
func (g *GDAL) WarpRaster(ctx context.Context, in Dataset, targetCRS string, out Dataset, opts WarpOptions) (Dataset, error) {
	out = g.scratchRaster(out)
	args := g.warpArgs(false)
	args = append(args, "-t_srs", geometry.NormalizeCRS(targetCRS))
	if opts.Resampling != "" {
		args = append(args, "-r", string(opts.Resampling))
	}
	if opts.Compression != "" {
		args = append(args, "-co", "COMPRESS="+opts.Compression)
	}
	if opts.Predictor > 0 {
		args = append(args, "-co", "PREDICTOR="+strconv.Itoa(opts.Predictor))
	}
	if opts.ZLevel > 0 {
		args = append(args, "-co", "ZLEVEL="+strconv.Itoa(opts.ZLevel))
	}
	args = append(args, in.Path, out.Path)

	if _, err := g.run(ctx, tool(g.cfg.GDALWarp, "gdalwarp"), args...); err != nil {
		return Dataset{}, err
	}
	return out, nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
