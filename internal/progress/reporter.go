package progress

import (
	"context"
	"math"
	"time"

	"github.com/trobanga/gdmclip/internal/lib"
)

const (
	// StartValue is reported once processing has been initialized
	StartValue = 10
	// PackagedValue is reported once the archive exists
	PackagedValue = 90

	pipelineScale = 0.8 // pipeline 0-100 maps onto StartValue..PackagedValue
)

// Level classifies a log entry
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Entry is one message of the job's progress log
type Entry struct {
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	Percent int       `json:"percent"`
	Message string    `json:"message"`
}

// Reporter tracks pipeline progress for one job and forwards it to a Sink.
// Reported values never decrease. Only the first report may fail the job;
// later sink failures are logged and swallowed.
type Reporter struct {
	sink      Sink
	logger    *lib.Logger
	increment float64
	pipeline  float64 // 0-100
	last      int
	entries   []Entry
}

// NewReporter creates a reporter; a nil sink discards reports
func NewReporter(sink Sink, logger *lib.Logger) *Reporter {
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = lib.DefaultLogger
	}
	return &Reporter{sink: sink, logger: logger}
}

// Start emits the initial report. Its failure means the sink is unusable.
func (r *Reporter) Start(ctx context.Context) error {
	r.last = StartValue
	r.log(LevelInfo, "Processing initialized")
	if err := r.sink.Report(ctx, StartValue, Total, "Processing initialized"); err != nil {
		return lib.ErrInvalidProgressSink(err)
	}
	return nil
}

// SetIncrement sets the pipeline percentage one Advance adds
func (r *Reporter) SetIncrement(increment float64) {
	r.increment = increment
}

// Advance adds one increment and reports the rescaled value
func (r *Reporter) Advance(ctx context.Context, description string) {
	r.pipeline = math.Min(100, r.pipeline+r.increment)
	r.emit(ctx, Scale(r.pipeline), description)
}

// Milestone reports a fixed external value such as PackagedValue
func (r *Reporter) Milestone(ctx context.Context, value int, description string) {
	r.log(LevelInfo, description)
	r.emit(ctx, value, description)
}

// Finish reports 100
func (r *Reporter) Finish(ctx context.Context, description string) {
	r.pipeline = 100
	r.log(LevelInfo, description)
	r.emit(ctx, Total, description)
}

// Current returns the last value sent to the sink
func (r *Reporter) Current() int {
	return r.last
}

// Pipeline returns the internal 0-100 pipeline percentage
func (r *Reporter) Pipeline() float64 {
	return r.pipeline
}

// Info records an informational entry
func (r *Reporter) Info(message string) {
	r.log(LevelInfo, message)
}

// Warn records a non-fatal problem
func (r *Reporter) Warn(message string) {
	r.log(LevelWarn, message)
}

// Error records a non-fatal error
func (r *Reporter) Error(message string) {
	r.log(LevelError, message)
}

// Entries returns a copy of the progress log
func (r *Reporter) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// Scale maps a pipeline percentage onto the external scale
func Scale(pipeline float64) int {
	if pipeline < 0 {
		pipeline = 0
	}
	if pipeline > 100 {
		pipeline = 100
	}
	return int(math.Floor(pipeline*pipelineScale)) + StartValue
}

func (r *Reporter) emit(ctx context.Context, value int, description string) {
	if value < r.last {
		value = r.last
	}
	if value > Total {
		value = Total
	}
	r.last = value

	if err := r.sink.Report(ctx, value, Total, description); err != nil {
		r.logger.Debug("Progress report dropped", "value", value, "error", err)
	}
}

func (r *Reporter) log(level Level, message string) {
	r.entries = append(r.entries, Entry{Time: time.Now(), Level: level, Percent: r.last, Message: message})
	switch level {
	case LevelWarn:
		r.logger.Warn(message)
	case LevelError:
		r.logger.Error(message)
	default:
		r.logger.Debug(message)
	}
}
