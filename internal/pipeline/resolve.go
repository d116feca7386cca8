package pipeline

import (
	"sort"

	"github.com/trobanga/gdmclip/internal/clip"
	"github.com/trobanga/gdmclip/internal/geometry"
	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
	"github.com/trobanga/gdmclip/internal/project"
)

// Selection is the resolved layer set of a job, expressed as layer ids of the source document
type Selection struct {
	Include []string // Cleaned include identifiers
	Exclude []string // Cleaned exclude identifiers

	Keep     map[string]bool // Layers retained in the working document
	Excluded map[string]bool // Retained layers that are never clipped
}

// ClipLayers returns the retained layers that will be clipped, sorted by name
func (s *Selection) ClipLayers(doc *project.Document) []*project.Layer {
	var out []*project.Layer
	for _, l := range doc.SortedLayers() {
		if s.Keep[l.ID] && !s.Excluded[l.ID] {
			out = append(out, l)
		}
	}
	return out
}

// ExcludedLayers returns the retained layers that pass through unclipped, sorted by name
func (s *Selection) ExcludedLayers(doc *project.Document) []*project.Layer {
	var out []*project.Layer
	for _, l := range doc.SortedLayers() {
		if s.Keep[l.ID] && s.Excluded[l.ID] {
			out = append(out, l)
		}
	}
	return out
}

// ResolveParams validates the job parameters against the source document and
// resolves the include/exclude lists to layer ids.
// Layers named in excludes, and layers of a pass-through class, are kept but not clipped.
func ResolveParams(params models.JobParameters, doc *project.Document) (*Selection, error) {
	if err := params.Validate(); err != nil {
		return nil, lib.ErrInvalidParameters(err)
	}
	if _, err := geometry.ParseClipPolygon(params.ClipGeometry); err != nil {
		return nil, lib.ErrInvalidGeometry(err.Error(), err)
	}

	sel := &Selection{
		Include:  lib.CleanList(params.Layers),
		Exclude:  lib.CleanList(params.Excludes),
		Keep:     make(map[string]bool),
		Excluded: make(map[string]bool),
	}

	for _, l := range doc.Find(sel.Include) {
		sel.Keep[l.ID] = true
		if l.Class.IsPassThrough() {
			sel.Excluded[l.ID] = true
		}
	}
	if len(sel.Keep) == 0 {
		return nil, lib.ErrMissingLayers(sel.Include)
	}

	for _, l := range doc.Find(sel.Exclude) {
		sel.Keep[l.ID] = true
		sel.Excluded[l.ID] = true
	}

	return sel, nil
}

// PlanIncrement returns the pipeline percentage one sub-step is worth.
// The extra step in the denominator is reserved for packaging.
func PlanIncrement(layers []*project.Layer, reproject bool) float64 {
	steps := 0
	for _, l := range layers {
		steps += clip.StepsFor(l.Kind, reproject)
	}
	return 100.0 / float64(steps+1)
}

// layerNames lists layer names in order, for log output
func layerNames(layers []*project.Layer) []string {
	names := make([]string, 0, len(layers))
	for _, l := range layers {
		names = append(names, l.Name)
	}
	sort.Strings(names)
	return names
}
