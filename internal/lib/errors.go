package lib

import (
	"errors"
	"fmt"
	"strings"
)

// MartError represents a user-facing error with context and guidance
type MartError struct {
	Category    ErrorCategory
	Kind        ErrorKind
	Message     string   // Short description of what went wrong
	Cause       error    // Underlying error
	Guidance    []string // What the user can do to fix it
	IsRetryable bool     // Can this error be automatically retried?
}

// ErrorCategory classifies errors for better UX
type ErrorCategory string

const (
	CategoryFileSystem    ErrorCategory = "filesystem"
	CategoryValidation    ErrorCategory = "validation"
	CategoryGeometry      ErrorCategory = "geometry"
	CategoryToolkit       ErrorCategory = "toolkit"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryState         ErrorCategory = "state"
	CategoryNetwork       ErrorCategory = "network"
)

// ErrorKind identifies a fatal failure mode of a clip job
type ErrorKind string

const (
	KindMissingLayers           ErrorKind = "missing_layers"
	KindInvalidGeometry         ErrorKind = "invalid_geometry"
	KindOutputConflict          ErrorKind = "output_conflict"
	KindInvalidProgressSink     ErrorKind = "invalid_progress_sink"
	KindInvalidParameters       ErrorKind = "invalid_parameters"
	KindInvalidConfig           ErrorKind = "invalid_config"
	KindJobNotFound             ErrorKind = "job_not_found"
	KindCorruptedJobState       ErrorKind = "corrupted_job_state"
	KindOutputLocked            ErrorKind = "output_locked"
	KindToolkit                 ErrorKind = "toolkit"
	KindStatePrerequisiteNotMet ErrorKind = "state_prerequisite_not_met"
	KindUnknown                 ErrorKind = "unknown"
)

// Error implements the error interface
func (e *MartError) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] ", strings.ToUpper(string(e.Category))))
	sb.WriteString(e.Message)

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	return sb.String()
}

// UserMessage returns a formatted message suitable for displaying to end users
func (e *MartError) UserMessage() string {
	var sb strings.Builder

	sb.WriteString("Error: ")
	sb.WriteString(e.Message)
	sb.WriteString("\n\n")

	if len(e.Guidance) > 0 {
		sb.WriteString("How to fix:\n")
		for i, guide := range e.Guidance {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, guide))
		}
	}

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("\nTechnical details: %v\n", e.Cause))
	}

	if e.IsRetryable {
		sb.WriteString("\nThis error is transient and may succeed on retry.\n")
	}

	return sb.String()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility
func (e *MartError) Unwrap() error {
	return e.Cause
}

// IsKind reports whether err carries a MartError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var martErr *MartError
	if errors.As(err, &martErr) {
		return martErr.Kind == kind
	}
	return false
}

// KindOf returns the kind of the first MartError in err's chain
func KindOf(err error) ErrorKind {
	var martErr *MartError
	if errors.As(err, &martErr) {
		return martErr.Kind
	}
	return KindUnknown
}

// Job parameter errors

// ErrMissingLayers creates an error for an empty layer selection
func ErrMissingLayers(requested []string) *MartError {
	msg := "No requested layer exists in the source project"
	if len(requested) == 0 {
		msg = "No layers were requested"
	}
	return &MartError{
		Category: CategoryValidation,
		Kind:     KindMissingLayers,
		Message:  msg,
		Guidance: []string{
			fmt.Sprintf("Requested layers: %s", strings.Join(requested, ", ")),
			"Layers match by short name, name, or data source",
			"Check the project document for the exact layer names",
		},
	}
}

// ErrInvalidGeometry creates an error for an unusable clip geometry
func ErrInvalidGeometry(reason string, cause error) *MartError {
	return &MartError{
		Category: CategoryGeometry,
		Kind:     KindInvalidGeometry,
		Message:  fmt.Sprintf("Invalid clip geometry: %s", reason),
		Cause:    cause,
		Guidance: []string{
			"Supply a single POLYGON in WKT with EPSG:4326 coordinates",
			"Rings must be closed and contain at least four points",
		},
	}
}

// ErrInvalidParameters creates an error for malformed job parameters
func ErrInvalidParameters(cause error) *MartError {
	return &MartError{
		Category: CategoryValidation,
		Kind:     KindInvalidParameters,
		Message:  "Invalid job parameters",
		Cause:    cause,
		Guidance: []string{"Check the layers, clip_geometry and output_base_path values"},
	}
}

// Output errors

// ErrOutputConflict creates an error when stale output cannot be replaced
func ErrOutputConflict(path string, cause error) *MartError {
	return &MartError{
		Category: CategoryFileSystem,
		Kind:     KindOutputConflict,
		Message:  fmt.Sprintf("Cannot replace existing output at %s", path),
		Cause:    cause,
		Guidance: []string{
			"Check file permissions on the output directory",
			"Ensure no other process has the container open",
		},
	}
}

// ErrOutputLocked creates an error when another job owns the output directory
func ErrOutputLocked(path string) *MartError {
	return &MartError{
		Category: CategoryState,
		Kind:     KindOutputLocked,
		Message:  fmt.Sprintf("Output directory '%s' is in use by another job", path),
		Guidance: []string{
			"Wait for the other job to finish",
			"Use a different job_id to write to a separate directory",
		},
		IsRetryable: true,
	}
}

// ErrInvalidProgressSink creates an error for a progress sink that rejects the first report
func ErrInvalidProgressSink(cause error) *MartError {
	return &MartError{
		Category: CategoryState,
		Kind:     KindInvalidProgressSink,
		Message:  "Progress sink rejected the initial report",
		Cause:    cause,
		Guidance: []string{"Check the job store connection used for progress updates"},
	}
}

// ErrToolkit creates an error for a failed toolkit operation
func ErrToolkit(operation string, cause error) *MartError {
	return &MartError{
		Category: CategoryToolkit,
		Kind:     KindToolkit,
		Message:  fmt.Sprintf("Toolkit operation %s failed", operation),
		Cause:    cause,
		Guidance: []string{
			"Check that the GDAL command-line tools are installed and on PATH",
			"Run with --verbose to see the tool's output",
		},
	}
}

// Configuration errors

// ErrInvalidConfig creates an error for configuration validation failures
func ErrInvalidConfig(field string, reason string) *MartError {
	return &MartError{
		Category: CategoryConfiguration,
		Kind:     KindInvalidConfig,
		Message:  fmt.Sprintf("Invalid configuration: %s", reason),
		Guidance: []string{
			fmt.Sprintf("Check the '%s' field in your config file", field),
			"Configuration can also be set with GDMCLIP_* environment variables",
		},
	}
}

// State errors

// ErrJobNotFound creates an error for missing job state
func ErrJobNotFound(jobID string) *MartError {
	return &MartError{
		Category: CategoryState,
		Kind:     KindJobNotFound,
		Message:  fmt.Sprintf("Job '%s' not found", jobID),
		Guidance: []string{
			"Check the job ID is correct",
			"Use 'gdmclip job list' to see all available jobs",
		},
	}
}

// ErrCorruptedJobState creates an error for unreadable job records
func ErrCorruptedJobState(jobID string, cause error) *MartError {
	return &MartError{
		Category: CategoryState,
		Kind:     KindCorruptedJobState,
		Message:  fmt.Sprintf("Job state for '%s' is corrupted", jobID),
		Cause:    cause,
		Guidance: []string{
			"Check jobs/<job-id>/state.json for syntax errors",
			"You may need to delete this job and submit it again",
		},
	}
}

// ErrStatePrerequisiteNotMet creates an error for out-of-order pipeline states
func ErrStatePrerequisiteNotMet(state string, prerequisite string) *MartError {
	return &MartError{
		Category: CategoryState,
		Kind:     KindStatePrerequisiteNotMet,
		Message:  fmt.Sprintf("Cannot enter %s: %s has not been reached", state, prerequisite),
	}
}

// Helper functions

// WrapError wraps a standard error with MartError context
func WrapError(category ErrorCategory, message string, cause error, guidance ...string) *MartError {
	return &MartError{
		Category:    category,
		Kind:        KindUnknown,
		Message:     message,
		Cause:       cause,
		Guidance:    guidance,
		IsRetryable: IsNetworkError(cause),
	}
}

// ClassifyError examines an error and returns appropriate user guidance
func ClassifyError(err error) *MartError {
	if err == nil {
		return nil
	}

	// Already a MartError
	var martErr *MartError
	if errors.As(err, &martErr) {
		return martErr
	}

	errMsg := err.Error()

	if IsNetworkError(err) {
		return &MartError{
			Category:    CategoryNetwork,
			Kind:        KindUnknown,
			Message:     "Network connectivity issue",
			Cause:       err,
			Guidance:    []string{"Check the redis and object storage connections"},
			IsRetryable: true,
		}
	}

	if containsIgnoreCase(errMsg, "no space left") || containsIgnoreCase(errMsg, "disk full") {
		return &MartError{
			Category: CategoryFileSystem,
			Kind:     KindUnknown,
			Message:  "Insufficient disk space",
			Cause:    err,
			Guidance: []string{"Free up disk space", "Remove old job outputs"},
		}
	}

	if containsIgnoreCase(errMsg, "permission denied") || containsIgnoreCase(errMsg, "access denied") {
		return &MartError{
			Category: CategoryFileSystem,
			Kind:     KindUnknown,
			Message:  "Permission denied",
			Cause:    err,
			Guidance: []string{"Check file/directory permissions", "Ensure proper access rights"},
		}
	}

	return &MartError{
		Category: CategoryValidation,
		Kind:     KindUnknown,
		Message:  "An error occurred",
		Cause:    err,
		Guidance: []string{"Check the technical details below", "See logs for more information"},
	}
}
