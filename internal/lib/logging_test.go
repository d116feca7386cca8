package lib

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LogLevelWarn, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "layer", "roads")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown | layer=roads")
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	base := NewLoggerWithWriter(LogLevelDebug, &buf)
	jobLogger := base.With("job_id", "job1")

	jobLogger.Info("Packed", "members", 2)
	base.Info("Unbound")

	out := buf.String()
	assert.Contains(t, out, "[INFO] Packed | job_id=job1 members=2")
	assert.Contains(t, out, "[INFO] Unbound\n")
}

func TestLogger_OddFields(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerWithWriter(LogLevelDebug, &buf).Debug("odd", "key", "value", "dangling")
	assert.Contains(t, buf.String(), "| key=value dangling")
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"DEBUG":    LogLevelDebug,
		"warn":     LogLevelWarn,
		"warning":  LogLevelWarn,
		" error ":  LogLevelError,
		"nonsense": LogLevelInfo,
		"":         LogLevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLogLevel(in), "input %q", in)
	}
}

func TestLogLevel_String(t *testing.T) {
	assert.Equal(t, "WARN", LogLevelWarn.String())
	assert.Equal(t, "UNKNOWN", LogLevel(9).String())
}

func TestLogRetry_StripsLineBreaks(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LogLevelDebug, &buf)

	LogRetry(logger, "upload\nfake [ERROR] line", 0, 3, errors.New("time\nout"))

	assert.Contains(t, buf.String(), "Retry attempt 1/3 for: uploadfake [ERROR] line | error=timeout")
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
}
