package models

import (
	"fmt"
	"strings"
	"time"
)

// LayerKind is the tagged variant used to dispatch a layer to a clipper
type LayerKind string

const (
	LayerKindVector LayerKind = "vector"
	LayerKindRaster LayerKind = "raster"
	LayerKindOther  LayerKind = "other" // mesh, tiled services, tables... never clipped
)

// ParseLayerKind maps a provider layer type onto the clip dispatch variant
func ParseLayerKind(s string) LayerKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vector":
		return LayerKindVector
	case "raster":
		return LayerKindRaster
	default:
		return LayerKindOther
	}
}

// LayerClass categorizes how a layer participates in a clip job
type LayerClass string

const (
	LayerClassStandard LayerClass = "standard" // Clipped
	LayerClassBase     LayerClass = "base"     // Reference layer, passed through
	LayerClassExclude  LayerClass = "exclude"  // Kept in the document, not clipped
)

// IsPassThrough reports whether layers of this class skip clipping
func (c LayerClass) IsPassThrough() bool {
	return c == LayerClassBase || c == LayerClassExclude
}

// LayerOutcome describes what happened to one layer during LayerProcessing
type LayerOutcome string

const (
	LayerOutcomeClipped            LayerOutcome = "clipped"
	LayerOutcomeExcluded           LayerOutcome = "excluded"
	LayerOutcomeSkippedUnsupported LayerOutcome = "skipped_unsupported"
	LayerOutcomeRemovedInvalid     LayerOutcome = "removed_invalid"
	LayerOutcomeFailed             LayerOutcome = "failed"
	LayerOutcomeCancelled          LayerOutcome = "cancelled"
)

// IsValidLayerOutcome checks if the outcome is recognized
func IsValidLayerOutcome(o LayerOutcome) bool {
	switch o {
	case LayerOutcomeClipped, LayerOutcomeExcluded, LayerOutcomeSkippedUnsupported,
		LayerOutcomeRemovedInvalid, LayerOutcomeFailed, LayerOutcomeCancelled:
		return true
	default:
		return false
	}
}

// IsError reports whether the outcome should be surfaced as a non-fatal error
func (o LayerOutcome) IsError() bool {
	return o == LayerOutcomeFailed || o == LayerOutcomeRemovedInvalid
}

// LayerResult records the outcome of processing one layer
type LayerResult struct {
	LayerID  string        `json:"layer_id"`
	Name     string        `json:"name"`
	Kind     LayerKind     `json:"kind"`
	Outcome  LayerOutcome  `json:"outcome"`
	Source   string        `json:"source,omitempty"` // Data source after processing
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Error implements the error interface for failed layers
func (r LayerResult) Error() string {
	if r.Message == "" {
		return fmt.Sprintf("layer %s: %s", r.Name, r.Outcome)
	}
	return fmt.Sprintf("layer %s: %s: %s", r.Name, r.Outcome, r.Message)
}

// CountOutcomes tallies layer results by outcome
func CountOutcomes(results []LayerResult) map[LayerOutcome]int {
	counts := make(map[LayerOutcome]int)
	for _, r := range results {
		counts[r.Outcome]++
	}
	return counts
}
