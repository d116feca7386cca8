package models

// DefaultJobName names output files when no job identifier is supplied
const DefaultJobName = "OUTPUT"

// JobParameters is the immutable input of one clip job
type JobParameters struct {
	ProjectID      string  `json:"project_id,omitempty"`
	VendorID       string  `json:"vendor_id,omitempty"`
	UserID         string  `json:"user_id,omitempty"`
	JobID          string  `json:"job_id,omitempty"`
	Layers         string  `json:"layers"`             // Comma-separated layer identifiers
	Excludes       string  `json:"excludes,omitempty"` // Comma-separated, kept but not clipped
	ClipGeometry   string  `json:"clip_geometry"`      // Single polygon WKT in EPSG:4326
	OutputCRS      string  `json:"output_crs,omitempty"`
	ProjectCRS     string  `json:"project_crs,omitempty"`
	BufferKm       float64 `json:"buffer_km,omitempty"`
	OutputBasePath string  `json:"output_base_path"`
}

// JobName returns the identifier used for output file names
func (p JobParameters) JobName() string {
	if p.JobID == "" {
		return DefaultJobName
	}
	return p.JobID
}

// NeedsReprojection reports whether an output CRS was requested
func (p JobParameters) NeedsReprojection() bool {
	return p.OutputCRS != ""
}
