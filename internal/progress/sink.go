// Package progress maps pipeline steps onto the external 0-100 progress scale.
package progress

import (
	"context"
	"errors"
)

// Total is the fixed denominator of every report
const Total = 100

// Sink receives (current, total, description) progress triples
type Sink interface {
	Report(ctx context.Context, current, total int, description string) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, current, total int, description string) error

// Report calls f
func (f SinkFunc) Report(ctx context.Context, current, total int, description string) error {
	return f(ctx, current, total, description)
}

// NopSink discards reports
type NopSink struct{}

// Report does nothing
func (NopSink) Report(context.Context, int, int, string) error { return nil }

// MultiSink forwards every report to each sink and joins their errors
type MultiSink []Sink

// Report forwards to all sinks, even when an earlier one fails
func (m MultiSink) Report(ctx context.Context, current, total int, description string) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Report(ctx, current, total, description); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every report in memory
type Recorder struct {
	Reports []Report
}

// Report is one recorded progress triple
type Report struct {
	Current     int
	Total       int
	Description string
}

// Report appends the triple
func (r *Recorder) Report(_ context.Context, current, total int, description string) error {
	r.Reports = append(r.Reports, Report{Current: current, Total: total, Description: description})
	return nil
}

// Last returns the most recent report
func (r *Recorder) Last() (Report, bool) {
	if len(r.Reports) == 0 {
		return Report{}, false
	}
	return r.Reports[len(r.Reports)-1], true
}
