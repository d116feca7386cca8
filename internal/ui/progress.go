// Package ui renders job progress on the terminal.
package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/trobanga/gdmclip/internal/progress"
)

// ProgressBar wraps the progressbar library for a percentage scale
type ProgressBar struct {
	bar       *progressbar.ProgressBar
	total     int64
	current   int64
	startTime time.Time
}

// NewProgressBar creates a progress bar writing to stderr
func NewProgressBar(total int64, description string) *ProgressBar {
	return NewProgressBarWithWriter(total, description, os.Stderr)
}

// NewProgressBarWithWriter creates a progress bar that writes to a specific writer
func NewProgressBarWithWriter(total int64, description string, writer io.Writer) *ProgressBar {
	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetWriter(writer),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionEnableColorCodes(false),
	)

	return &ProgressBar{
		bar:       bar,
		total:     total,
		startTime: time.Now(),
	}
}

// Set moves the bar to value; values below the current position are ignored
func (p *ProgressBar) Set(value int64) error {
	if value < p.current {
		return nil
	}
	if value > p.total {
		value = p.total
	}
	p.current = value
	return p.bar.Set64(value)
}

// Describe replaces the text shown next to the bar
func (p *ProgressBar) Describe(description string) {
	p.bar.Describe(description)
}

// Finish completes the progress bar
func (p *ProgressBar) Finish() error {
	return p.bar.Finish()
}

// GetPercentage returns current completion percentage (0-100)
func (p *ProgressBar) GetPercentage() float64 {
	if p.total == 0 {
		return 0
	}
	return (float64(p.current) / float64(p.total)) * 100
}

// GetElapsedTime returns time elapsed since progress bar was created
func (p *ProgressBar) GetElapsedTime() time.Duration {
	return time.Since(p.startTime)
}

// TerminalSink shows pipeline progress as a terminal progress bar
type TerminalSink struct {
	mu     sync.Mutex
	writer io.Writer
	bar    *ProgressBar
}

var _ progress.Sink = (*TerminalSink)(nil)

// NewTerminalSink creates a sink; the bar is drawn on the first report
func NewTerminalSink(writer io.Writer) *TerminalSink {
	if writer == nil {
		writer = os.Stderr
	}
	return &TerminalSink{writer: writer}
}

// Report implements progress.Sink
func (s *TerminalSink) Report(_ context.Context, current, total int, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bar == nil {
		s.bar = NewProgressBarWithWriter(int64(total), description, s.writer)
	}
	if description != "" {
		s.bar.Describe(description)
	}
	if err := s.bar.Set(int64(current)); err != nil {
		return fmt.Errorf("failed to render progress: %w", err)
	}
	if current >= total {
		if err := s.bar.Finish(); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(s.writer)
	}
	return nil
}

// Percentage returns the last rendered percentage
func (s *TerminalSink) Percentage() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar == nil {
		return 0
	}
	return s.bar.GetPercentage()
}
