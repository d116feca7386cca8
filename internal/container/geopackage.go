// Package container implements the job's Output Container: a single-file
// GeoPackage holding the clip mask, every clipped vector layer, the audit
// metadata record, layer styles and the working project document.
package container

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/paulmach/orb"
	_ "modernc.org/sqlite"

	"github.com/trobanga/gdmclip/internal/geometry"
)

const (
	// Extension of the container file
	Extension = ".gpkg"

	// MetadataTable holds the audit record of the job
	MetadataTable = "__geodatamart__"

	// ProjectsTable stores project documents inside the container
	ProjectsTable = "gdm_projects"

	// StylesTable stores layer symbology next to the geometry
	StylesTable = "layer_styles"

	// GeometryColumn is the geometry column of tables created here
	GeometryColumn = "geom"

	applicationID = 0x47504B47 // "GPKG"
	userVersion   = 10300
	dateLayout    = "2006/01/02"
)

// SidecarExtensions are the journal/lock files SQLite may leave beside the container
var SidecarExtensions = []string{".gpkg-shm", ".gpkg-wal", ".gpkg-journal"}

// ErrClosed is returned by operations on a closed container
var ErrClosed = errors.New("container: closed")

// GeoPackage is an open Output Container
type GeoPackage struct {
	path string
	db   *sql.DB
}

// Metadata is the audit record written once per job
type Metadata struct {
	User    string
	Vendor  string
	Project string
	Job     string
	Date    time.Time
}

// Create makes a new, empty GeoPackage at path. The file must not exist.
func Create(ctx context.Context, path string) (*GeoPackage, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("container %s: %w", path, os.ErrExist)
	}

	gp, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := gp.initSchema(ctx); err != nil {
		_ = gp.Close()
		_ = os.Remove(path)
		return nil, err
	}
	return gp, nil
}

// Open opens an existing GeoPackage
func Open(ctx context.Context, path string) (*GeoPackage, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("container %s: %w", path, err)
	}
	gp, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := gp.db.PingContext(ctx); err != nil {
		_ = gp.Close()
		return nil, fmt.Errorf("failed to open container: %w", err)
	}
	return gp, nil
}

func open(path string) (*GeoPackage, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open container: %w", err)
	}
	// One connection keeps statements serialized and lets external tools lock the file between calls
	db.SetMaxOpenConns(1)
	return &GeoPackage{path: path, db: db}, nil
}

// Path returns the container file path
func (g *GeoPackage) Path() string {
	return g.path
}

// Close releases the database handle. Safe to call more than once.
func (g *GeoPackage) Close() error {
	if g.db == nil {
		return nil
	}
	err := g.db.Close()
	g.db = nil
	return err
}

func (g *GeoPackage) conn() (*sql.DB, error) {
	if g.db == nil {
		return nil, ErrClosed
	}
	return g.db, nil
}

func (g *GeoPackage) initSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf("PRAGMA application_id = %d", applicationID),
		fmt.Sprintf("PRAGMA user_version = %d", userVersion),
		`CREATE TABLE gpkg_spatial_ref_sys (
			srs_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL PRIMARY KEY,
			organization TEXT NOT NULL,
			organization_coordsys_id INTEGER NOT NULL,
			definition TEXT NOT NULL,
			description TEXT)`,
		`CREATE TABLE gpkg_contents (
			table_name TEXT NOT NULL PRIMARY KEY,
			data_type TEXT NOT NULL,
			identifier TEXT UNIQUE,
			description TEXT DEFAULT '',
			last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE,
			srs_id INTEGER,
			CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id))`,
		`CREATE TABLE gpkg_geometry_columns (
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			geometry_type_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL,
			z TINYINT NOT NULL,
			m TINYINT NOT NULL,
			CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name),
			CONSTRAINT fk_gc_tn FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
			CONSTRAINT fk_gc_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id))`,
		`CREATE TABLE ` + StylesTable + ` (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			f_table_catalog TEXT(256),
			f_table_schema TEXT(256),
			f_table_name TEXT(256),
			f_geometry_column TEXT(256),
			styleName TEXT(30),
			styleQML TEXT,
			styleSLD TEXT,
			useAsDefault BOOLEAN,
			description TEXT,
			owner TEXT(30),
			ui TEXT(30),
			update_time DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')))`,
		`CREATE TABLE ` + ProjectsTable + ` (
			name TEXT PRIMARY KEY,
			updated_at DATETIME NOT NULL,
			content BLOB NOT NULL)`,
	}

	for _, stmt := range stmts {
		if _, err := g.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize container schema: %w", err)
		}
	}

	for _, srs := range defaultSpatialRefs {
		if _, err := g.db.ExecContext(ctx,
			`INSERT INTO gpkg_spatial_ref_sys (srs_name, srs_id, organization, organization_coordsys_id, definition, description)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			srs.name, srs.id, srs.org, srs.orgID, srs.definition, srs.description); err != nil {
			return fmt.Errorf("failed to register spatial reference %d: %w", srs.id, err)
		}
	}

	if _, err := g.db.ExecContext(ctx,
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, description) VALUES (?, 'attributes', ?, ?)`,
		StylesTable, StylesTable, "Layer styles"); err != nil {
		return fmt.Errorf("failed to register styles table: %w", err)
	}

	return nil
}

// WriteMetadata creates the audit table and inserts the job's record
func (g *GeoPackage) WriteMetadata(ctx context.Context, m Metadata) error {
	db, err := g.conn()
	if err != nil {
		return err
	}
	if m.Date.IsZero() {
		m.Date = time.Now()
	}

	table := quoteIdent(MetadataTable)
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			fid INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
			"user" TEXT, vendor TEXT, project TEXT, job TEXT, date TEXT)`, table),
		fmt.Sprintf(`INSERT OR IGNORE INTO gpkg_contents (table_name, data_type, identifier, description)
			VALUES ('%s', 'attributes', '%s', 'Extract audit record')`, MetadataTable, MetadataTable),
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create metadata table: %w", err)
		}
	}

	_, err = db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s ("user", vendor, project, job, date) VALUES (?, ?, ?, ?, ?)`, table),
		m.User, m.Vendor, m.Project, m.Job, m.Date.Format(dateLayout))
	if err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// ReadMetadata returns the audit records in insertion order
func (g *GeoPackage) ReadMetadata(ctx context.Context) ([]Metadata, error) {
	db, err := g.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		fmt.Sprintf(`SELECT "user", vendor, project, job, date FROM %s ORDER BY fid`, quoteIdent(MetadataTable)))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Metadata
	for rows.Next() {
		var m Metadata
		var date string
		if err := rows.Scan(&m.User, &m.Vendor, &m.Project, &m.Job, &date); err != nil {
			return nil, fmt.Errorf("failed to scan metadata: %w", err)
		}
		if t, err := time.ParseInLocation(dateLayout, date, time.Local); err == nil {
			m.Date = t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// WriteMask stores the clip mask as a one-feature polygon table, replacing any previous mask
func (g *GeoPackage) WriteMask(ctx context.Context, mask *geometry.ClipMask) error {
	return g.WriteFeatures(ctx, geometry.MaskTable, mask.CRS, "POLYGON", []orb.Geometry{mask.Polygon})
}

// WriteFeatures creates or replaces a feature table holding geoms, each with an integer id attribute
func (g *GeoPackage) WriteFeatures(ctx context.Context, table string, crs string, geometryType string, geoms []orb.Geometry) error {
	db, err := g.conn()
	if err != nil {
		return err
	}
	if table == "" {
		return fmt.Errorf("table name is required")
	}
	if geometryType == "" {
		geometryType = "GEOMETRY"
	}

	srsID, err := g.ensureSpatialRef(ctx, crs)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := dropTable(ctx, tx, table); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE %s (fid INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL, %s %s, id INTEGER)`,
		quoteIdent(table), GeometryColumn, geometryType)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}

	var bound orb.Bound
	for i, geom := range geoms {
		blob, err := EncodeGeometry(geom, srsID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (%s, id) VALUES (?, ?)`, quoteIdent(table), GeometryColumn),
			blob, i+1); err != nil {
			return fmt.Errorf("failed to insert feature into %s: %w", table, err)
		}
		if i == 0 {
			bound = geom.Bound()
		} else {
			bound = bound.Union(geom.Bound())
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, min_x, min_y, max_x, max_y, srs_id)
		 VALUES (?, 'features', ?, ?, ?, ?, ?, ?)`,
		table, table, bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1], srsID); err != nil {
		return fmt.Errorf("failed to register %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gpkg_geometry_columns (table_name, column_name, geometry_type_name, srs_id, z, m)
		 VALUES (?, ?, ?, ?, 0, 0)`,
		table, GeometryColumn, geometryType, srsID); err != nil {
		return fmt.Errorf("failed to register geometry column of %s: %w", table, err)
	}

	return tx.Commit()
}

// Features reads every geometry of a feature table in fid order
func (g *GeoPackage) Features(ctx context.Context, table string) ([]orb.Geometry, error) {
	db, err := g.conn()
	if err != nil {
		return nil, err
	}

	column := GeometryColumn
	err = db.QueryRowContext(ctx,
		`SELECT column_name FROM gpkg_geometry_columns WHERE table_name = ?`, table).Scan(&column)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up geometry column of %s: %w", table, err)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM %s ORDER BY fid`, quoteIdent(column), quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var out []orb.Geometry
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		if blob == nil {
			continue
		}
		geom, _, err := DecodeGeometry(blob)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", table, err)
		}
		if geom != nil {
			out = append(out, geom)
		}
	}
	return out, rows.Err()
}

// Tables lists the tables registered in gpkg_contents, sorted by name
func (g *GeoPackage) Tables(ctx context.Context) ([]string, error) {
	db, err := g.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT table_name FROM gpkg_contents ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// SaveStyle stores a layer's symbology as the default style of table
func (g *GeoPackage) SaveStyle(ctx context.Context, table string, styleName string, qml string) error {
	db, err := g.conn()
	if err != nil {
		return err
	}

	column := GeometryColumn
	err = db.QueryRowContext(ctx,
		`SELECT column_name FROM gpkg_geometry_columns WHERE table_name = ?`, table).Scan(&column)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to look up geometry column of %s: %w", table, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+StylesTable+` WHERE f_table_name = ?`, table); err != nil {
		return fmt.Errorf("failed to replace style of %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+StylesTable+` (f_table_catalog, f_table_schema, f_table_name, f_geometry_column, styleName, styleQML, styleSLD, useAsDefault, description)
		 VALUES ('', '', ?, ?, ?, ?, '', 1, '')`,
		table, column, styleName, qml); err != nil {
		return fmt.Errorf("failed to save style of %s: %w", table, err)
	}
	return tx.Commit()
}

// Style returns the default style stored for table, or "" when none exists
func (g *GeoPackage) Style(ctx context.Context, table string) (string, error) {
	db, err := g.conn()
	if err != nil {
		return "", err
	}
	var qml string
	err = db.QueryRowContext(ctx,
		`SELECT styleQML FROM `+StylesTable+` WHERE f_table_name = ? AND useAsDefault = 1`, table).Scan(&qml)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return qml, err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func dropTable(ctx context.Context, db execer, table string) error {
	stmts := []struct {
		query string
		args  []any
	}{
		{`DELETE FROM gpkg_geometry_columns WHERE table_name = ?`, []any{table}},
		{`DELETE FROM gpkg_contents WHERE table_name = ?`, []any{table}},
		{`DROP TABLE IF EXISTS ` + quoteIdent(table), nil},
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s.query, s.args...); err != nil {
			return fmt.Errorf("failed to drop %s: %w", table, err)
		}
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
