package lib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/trobanga/gdmclip/internal/models"
)

// RetryConfig holds retry strategy parameters
type RetryConfig struct {
	MaxAttempts      int
	InitialBackoffMs int64
	MaxBackoffMs     int64
}

// NewRetryConfigFromModel creates RetryConfig from models.RetryConfig
func NewRetryConfigFromModel(config models.RetryConfig) RetryConfig {
	return RetryConfig{
		MaxAttempts:      config.MaxAttempts,
		InitialBackoffMs: config.InitialBackoffMs,
		MaxBackoffMs:     config.MaxBackoffMs,
	}
}

// CalculateBackoff returns min(initial * 2^attempt, max)
func CalculateBackoff(attempt int, initialBackoffMs int64, maxBackoffMs int64) time.Duration {
	wait := time.Duration(initialBackoffMs) * time.Millisecond
	limit := time.Duration(maxBackoffMs) * time.Millisecond
	for i := 0; i < attempt && wait < limit; i++ {
		wait *= 2
	}
	return min(wait, limit)
}

// Retrier runs an operation until it succeeds, fails permanently or runs out of attempts
type Retrier struct {
	Config RetryConfig

	// Retryable classifies failures; nil retries every failure
	Retryable func(error) bool

	// OnRetry runs before each backoff wait; attempt is zero-based
	OnRetry func(attempt int, err error)
}

// Do calls op with the 1-based attempt number.
// Waiting between attempts stops early when ctx is done.
func (r Retrier) Do(ctx context.Context, op func(attempt int) error) error {
	attempts := max(r.Config.MaxAttempts, 1)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = op(attempt + 1)
		if lastErr == nil {
			return nil
		}
		if r.Retryable != nil && !r.Retryable(lastErr) {
			return fmt.Errorf("non-retryable error: %w", lastErr)
		}
		if attempt == attempts-1 {
			break
		}

		if r.OnRetry != nil {
			r.OnRetry(attempt, lastErr)
		}
		timer := time.NewTimer(CalculateBackoff(attempt, r.Config.InitialBackoffMs, r.Config.MaxBackoffMs))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted after %d attempts: %w", attempt+1, errors.Join(ctx.Err(), lastErr))
		case <-timer.C:
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}

// transientMessages catch transport failures that arrive as plain strings, e.g. from the AWS SDK
var transientMessages = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"temporary failure",
	"network is unreachable",
	"deadline exceeded",
	"eof",
	"slowdown",
	"serviceunavailable",
}

// IsNetworkError reports whether err is a transient transport failure worth retrying
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := err.Error()
	for _, pattern := range transientMessages {
		if containsIgnoreCase(msg, pattern) {
			return true
		}
	}
	return false
}

// containsIgnoreCase checks if string contains substring (case-insensitive)
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
