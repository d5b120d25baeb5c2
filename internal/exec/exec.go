// Package exec runs scanner tooling as external processes. Scanners reach
// their targets through the docker CLI or direct local execution, always
// under a context so cancellation and timeouts propagate to the process.
package exec

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/scanward/scanward/internal/errors"
	"github.com/scanward/scanward/internal/logging"
)

// Result holds the outcome of one external command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Output returns stdout, falling back to stderr when stdout is empty.
// Some tools write their report to stderr on failure.
func (r *Result) Output() string {
	if r.Stdout != "" {
		return r.Stdout
	}
	return r.Stderr
}

// Runner executes external commands. Adapters depend on this interface so
// tests can substitute canned output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*Result, error)
}

// LocalRunner executes commands on the local host.
type LocalRunner struct {
	logger *logging.Logger
}

// NewLocalRunner creates a runner that executes commands directly.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{logger: logging.Default().WithComponent("exec")}
}

// Run executes a command under the given context. A non-zero exit is not
// an error: scanner tools routinely exit non-zero when findings exist, so
// callers inspect Result.ExitCode. Context expiry maps to a timeout error
// and context cancellation to a canceled error.
func (r *LocalRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if ctxErr == context.DeadlineExceeded {
			return result, errors.WrapScanError(errors.CodeTimeout, "Scan timeout", ctxErr)
		}
		return result, errors.WrapScanError(errors.CodeCanceled, "scan canceled", ctxErr)
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		r.logger.Error("Command failed to start", "command", name, "error", err)
		return result, errors.WrapScanError(errors.CodeExecutionFailed, "failed to execute "+name, err)
	}

	return result, nil
}

// Docker wraps a Runner with docker CLI operations used by the adapters.
type Docker struct {
	runner Runner
}

// NewDocker creates a docker helper on top of the given runner.
func NewDocker(runner Runner) *Docker {
	return &Docker{runner: runner}
}

// Exec runs a command inside a running container via docker exec.
func (d *Docker) Exec(ctx context.Context, container string, command ...string) (*Result, error) {
	args := append([]string{"exec", container}, command...)
	return d.runner.Run(ctx, "docker", args...)
}

// Run starts a one-shot container via docker run --rm.
func (d *Docker) Run(ctx context.Context, image string, args ...string) (*Result, error) {
	full := append([]string{"run", "--rm", image}, args...)
	return d.runner.Run(ctx, "docker", full...)
}

// RunWithFlags starts a one-shot container with extra docker flags placed
// before the image, such as volume mounts.
func (d *Docker) RunWithFlags(ctx context.Context, flags []string, image string, args ...string) (*Result, error) {
	full := append([]string{"run", "--rm"}, flags...)
	full = append(full, image)
	full = append(full, args...)
	return d.runner.Run(ctx, "docker", full...)
}

// Inspect returns the value of a single inspect format expression for a
// container, for example the image or OS release details.
func (d *Docker) Inspect(ctx context.Context, container, format string) (*Result, error) {
	return d.runner.Run(ctx, "docker", "inspect", "--format", format, container)
}
