package lib

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// LogLevel defines the severity of log messages
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l LogLevel) String() string {
	if l < LogLevelDebug || l > LogLevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// Logger writes leveled lines of the form "[LEVEL] message | key=value ...".
// Loggers derived with With share the parent's output.
type Logger struct {
	level  LogLevel
	logger *log.Logger
	fields []interface{}
}

// NewLogger creates a logger writing to stderr
func NewLogger(level LogLevel) *Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a logger that writes to w (useful for testing)
func NewLoggerWithWriter(level LogLevel, w io.Writer) *Logger {
	return &Logger{
		level:  level,
		logger: log.New(w, "", log.LstdFlags),
	}
}

// DefaultLogger logs at INFO level to stderr
var DefaultLogger = NewLogger(LogLevelInfo)

// With returns a logger that adds fields to every line
func (l *Logger) With(fields ...interface{}) *Logger {
	bound := make([]interface{}, 0, len(l.fields)+len(fields))
	bound = append(bound, l.fields...)
	bound = append(bound, fields...)
	return &Logger{level: l.level, logger: l.logger, fields: bound}
}

func (l *Logger) Debug(message string, fields ...interface{}) { l.log(LogLevelDebug, message, fields) }
func (l *Logger) Info(message string, fields ...interface{}) { l.log(LogLevelInfo, message, fields) }
func (l *Logger) Warn(message string, fields ...interface{}) { l.log(LogLevelWarn, message, fields) }
func (l *Logger) Error(message string, fields ...interface{}) { l.log(LogLevelError, message, fields) }

func (l *Logger) log(level LogLevel, message string, fields []interface{}) {
	if level < l.level {
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", level, sanitize(message))
	all := append(append([]interface{}{}, l.fields...), fields...)
	if len(all) > 0 {
		sb.WriteString(" |")
		for i := 0; i < len(all); i += 2 {
			if i+1 == len(all) {
				fmt.Fprintf(&sb, " %v", all[i])
				break
			}
			fmt.Fprintf(&sb, " %v=%s", all[i], sanitize(fmt.Sprint(all[i+1])))
		}
	}
	l.logger.Print(sb.String())
}

// sanitize drops line breaks so one call always yields one line
func sanitize(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// LogRetry logs a retry attempt; attempt is zero-based
func LogRetry(logger *Logger, operation string, attempt int, maxAttempts int, err error) {
	logger.Warn(fmt.Sprintf("Retry attempt %d/%d for: %s", attempt+1, maxAttempts, operation), "error", err)
}

// LogStateEnter logs an orchestrator state transition
func LogStateEnter(logger *Logger, state string, jobID string) {
	logger.Debug("State entered", "state", state, "job_id", jobID)
}

// LogLayerStart logs the start of a layer clip
func LogLayerStart(logger *Logger, layerName string, kind string, jobID string) {
	logger.Info("Layer started", "layer", layerName, "kind", kind, "job_id", jobID)
}

// LogLayerComplete logs the outcome of a layer clip
func LogLayerComplete(logger *Logger, layerName string, outcome string, jobID string, duration time.Duration) {
	logger.Info("Layer completed",
		"layer", layerName,
		"outcome", outcome,
		"job_id", jobID,
		"duration", duration.Round(time.Millisecond),
	)
}

// LogLayerFailed logs a non-fatal layer failure
func LogLayerFailed(logger *Logger, layerName string, jobID string, err error) {
	logger.Warn("Layer failed", "layer", layerName, "job_id", jobID, "error", err)
}

func LogJobCreated(logger *Logger, jobID string, projectID string) {
	logger.Info("Job created", "job_id", jobID, "project_id", projectID)
}

func LogJobCompleted(logger *Logger, jobID string, archivePath string, layers int, duration time.Duration) {
	logger.Info("Job completed",
		"job_id", jobID,
		"archive", archivePath,
		"layers", layers,
		"duration", duration.Round(time.Millisecond),
	)
}

// LogToolCall logs an external toolkit command line
func LogToolCall(logger *Logger, tool string, args []string) {
	logger.Debug("Tool call", "tool", tool, "args", strings.Join(args, " "))
}

// LogToolResult logs the exit of an external toolkit command; failures at WARN
func LogToolResult(logger *Logger, tool string, err error, duration time.Duration) {
	if err != nil {
		logger.Warn("Tool result", "tool", tool, "error", err, "duration", duration)
		return
	}
	logger.Debug("Tool result", "tool", tool, "duration", duration)
}

// ParseLogLevel converts a config string to a LogLevel, defaulting to INFO
func ParseLogLevel(levelStr string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return LogLevelDebug
	case "WARN", "WARNING":
		return LogLevelWarn
	case "ERROR":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}
