package container

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"
)

// DefaultProjectName is the name the working project document is stored under
const DefaultProjectName = "geodata"

// ProjectTable stores one named project document inside the container.
// It satisfies project.Store.
type ProjectTable struct {
	gpkg *GeoPackage
	name string
}

// ProjectStore returns the project slot called name
func (g *GeoPackage) ProjectStore(name string) *ProjectTable {
	if name == "" {
		name = DefaultProjectName
	}
	return &ProjectTable{gpkg: g, name: name}
}

// Load returns the stored document; os.ErrNotExist when nothing was saved yet
func (p *ProjectTable) Load(ctx context.Context) ([]byte, error) {
	db, err := p.gpkg.conn()
	if err != nil {
		return nil, err
	}
	var content []byte
	err = db.QueryRowContext(ctx, `SELECT content FROM `+ProjectsTable+` WHERE name = ?`, p.name).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %q: %w", p.name, os.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project %q: %w", p.name, err)
	}
	return content, nil
}

// Save replaces the stored document
func (p *ProjectTable) Save(ctx context.Context, data []byte) error {
	db, err := p.gpkg.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO `+ProjectsTable+` (name, updated_at, content) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET updated_at = excluded.updated_at, content = excluded.content`,
		p.name, time.Now().UTC().Format(time.RFC3339Nano), data)
	if err != nil {
		return fmt.Errorf("failed to save project %q: %w", p.name, err)
	}
	return nil
}

// Location identifies the slot in logs and job records
func (p *ProjectTable) Location() string {
	return fmt.Sprintf("geopackage:%s?projectName=%s", p.gpkg.path, p.name)
}

// Projects lists the names of stored project documents
func (g *GeoPackage) Projects(ctx context.Context) ([]string, error) {
	db, err := g.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT name FROM `+ProjectsTable+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
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
