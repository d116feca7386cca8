package toolkit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/trobanga/gdmclip/internal/lib"
)

// CommandRunner executes an external tool and returns its stdout
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, env []string) ([]byte, error)
}

// ExecRunner runs tools with os/exec. The process is killed when ctx is done.
type ExecRunner struct {
	Logger *lib.Logger
}

// Run executes name with args, appending env to the current environment
func (r *ExecRunner) Run(ctx context.Context, name string, args []string, env []string) ([]byte, error) {
	logger := r.Logger
	if logger == nil {
		logger = lib.DefaultLogger
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	lib.LogToolCall(logger, name, args)
	start := time.Now()
	err := cmd.Run()
	lib.LogToolResult(logger, name, err, time.Since(start))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s interrupted: %w", name, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ToolError{Tool: name, ExitCode: exitErr.ExitCode(), Stderr: strings.TrimSpace(stderr.String())}
		}
		return nil, fmt.Errorf("run %s: %w", name, err)
	}

	return stdout.Bytes(), nil
}

// ToolError describes a non-zero tool exit
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Tool, e.ExitCode, e.Stderr)
}
