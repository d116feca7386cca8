// Package project implements the job-scoped Project Document: an ordered set
// of layer references sharing one CRS and default extent. Mutations happen in
// memory; Checkpoint writes the document to its Store.
package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/trobanga/gdmclip/internal/models"
)

// ErrClosed is returned by operations on a closed document
var ErrClosed = errors.New("project: document closed")

// ErrLayerNotFound is returned when a layer id is not part of the document
var ErrLayerNotFound = errors.New("project: layer not found")

// Store persists an encoded project document
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Location() string
}

// Extent is an axis-aligned bounding box in the document's CRS
type Extent struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// ExtentFromBound converts an orb.Bound
func ExtentFromBound(b orb.Bound) *Extent {
	return &Extent{XMin: b.Min[0], YMin: b.Min[1], XMax: b.Max[0], YMax: b.Max[1]}
}

// Bound converts the extent back to an orb.Bound
func (e *Extent) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{e.XMin, e.YMin}, Max: orb.Point{e.XMax, e.YMax}}
}

// Layer references one data source of the document
type Layer struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	ShortName string            `json:"short_name,omitempty"`
	Kind      models.LayerKind  `json:"type"`
	Class     models.LayerClass `json:"class,omitempty"`
	Source    string            `json:"source"`
	Provider  string            `json:"provider,omitempty"`
	CRS       string            `json:"crs,omitempty"`
	Extent    *Extent           `json:"extent,omitempty"`
	Style     string            `json:"style,omitempty"` // QML symbology
}

// Matches reports whether identifier names this layer by short name, name or source
func (l *Layer) Matches(identifier string) bool {
	if identifier == "" {
		return false
	}
	return identifier == l.ShortName || identifier == l.Name || identifier == l.Source
}

// Document is a live, mutable project document owned by one job
type Document struct {
	Name   string   `json:"name"`
	Title  string   `json:"title,omitempty"`
	CRS    string   `json:"crs"`
	Extent *Extent  `json:"extent,omitempty"`
	Layers []*Layer `json:"layers"`

	store  Store
	closed bool
}

// Open decodes the document held by store
func Open(ctx context.Context, store Store) (*Document, error) {
	data, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load project from %s: %w", store.Location(), err)
	}
	doc, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", store.Location(), err)
	}
	doc.store = store
	return doc, nil
}

// Decode parses an encoded document without binding it to a store
func Decode(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid project document: %w", err)
	}

	seen := make(map[string]bool, len(doc.Layers))
	layers := doc.Layers[:0]
	for _, l := range doc.Layers {
		if l == nil {
			continue
		}
		if l.ID == "" {
			l.ID = uuid.New().String()
		}
		if seen[l.ID] {
			return nil, fmt.Errorf("duplicate layer id %q", l.ID)
		}
		seen[l.ID] = true
		l.Kind = models.ParseLayerKind(string(l.Kind))
		if l.Class == "" {
			l.Class = models.LayerClassStandard
		}
		layers = append(layers, l)
	}
	doc.Layers = layers
	return &doc, nil
}

// Encode serializes the document
func (d *Document) Encode() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// Location returns where the document is persisted
func (d *Document) Location() string {
	if d.store == nil {
		return ""
	}
	return d.store.Location()
}

// Closed reports whether Close was called
func (d *Document) Closed() bool {
	return d.closed
}

// SaveAs writes the document to store and returns the copy re-opened from it.
// The receiver is left untouched, so later mutations of the copy never reach the original.
func (d *Document) SaveAs(ctx context.Context, store Store) (*Document, error) {
	if d.closed {
		return nil, ErrClosed
	}
	data, err := d.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode project: %w", err)
	}
	if err := store.Save(ctx, data); err != nil {
		return nil, fmt.Errorf("failed to save project to %s: %w", store.Location(), err)
	}
	return Open(ctx, store)
}

// Checkpoint persists the current state of the document
func (d *Document) Checkpoint(ctx context.Context) error {
	if d.closed {
		return ErrClosed
	}
	if d.store == nil {
		return fmt.Errorf("project %s has no store", d.Name)
	}
	data, err := d.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode project: %w", err)
	}
	if err := d.store.Save(ctx, data); err != nil {
		return fmt.Errorf("failed to checkpoint project: %w", err)
	}
	return nil
}

// Close releases the document. Subsequent mutations return ErrClosed.
func (d *Document) Close() error {
	d.closed = true
	return nil
}

// Layer returns the layer with the given id
func (d *Document) Layer(id string) (*Layer, bool) {
	for _, l := range d.Layers {
		if l.ID == id {
			return l, true
		}
	}
	return nil, false
}

// Find returns the layers matching any of the identifiers, in document order
func (d *Document) Find(identifiers []string) []*Layer {
	var out []*Layer
	for _, l := range d.Layers {
		for _, id := range identifiers {
			if l.Matches(id) {
				out = append(out, l)
				break
			}
		}
	}
	return out
}

// Retain drops every layer whose id is not in keep
func (d *Document) Retain(keep map[string]bool) error {
	if d.closed {
		return ErrClosed
	}
	layers := make([]*Layer, 0, len(keep))
	for _, l := range d.Layers {
		if keep[l.ID] {
			layers = append(layers, l)
		}
	}
	d.Layers = layers
	return nil
}

// Remove drops one layer
func (d *Document) Remove(id string) error {
	if d.closed {
		return ErrClosed
	}
	for i, l := range d.Layers {
		if l.ID == id {
			d.Layers = append(d.Layers[:i], d.Layers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrLayerNotFound, id)
}

// SortedLayers returns the layers ordered by name, then id
func (d *Document) SortedLayers() []*Layer {
	out := append([]*Layer(nil), d.Layers...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetCRS forces the document CRS
func (d *Document) SetCRS(crs string) error {
	if d.closed {
		return ErrClosed
	}
	d.CRS = crs
	return nil
}

// SetDefaultExtent sets the initial view extent
func (d *Document) SetDefaultExtent(b orb.Bound) error {
	if d.closed {
		return ErrClosed
	}
	d.Extent = ExtentFromBound(b)
	return nil
}

// Repoint switches a layer to a new data source
func (d *Document) Repoint(id, source, provider string) error {
	if d.closed {
		return ErrClosed
	}
	l, ok := d.Layer(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	l.Source = source
	if provider != "" {
		l.Provider = provider
	}
	return nil
}

// RelativizeSources rewrites sources below base as "./relative/path" so the
// document stays valid when base is moved or archived.
func (d *Document) RelativizeSources(base string) error {
	if d.closed {
		return ErrClosed
	}
	for _, l := range d.Layers {
		path, options, _ := strings.Cut(l.Source, "|")
		if !filepath.IsAbs(path) {
			continue
		}
		rel, err := filepath.Rel(base, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		l.Source = "./" + filepath.ToSlash(rel)
		if options != "" {
			l.Source += "|" + options
		}
	}
	return nil
}
