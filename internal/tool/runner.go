// Package tool invokes the external programs that pipeline steps wrap.
package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/lucasnoah/ampliflow/internal/pipeline"
)

// DefaultTimeout bounds a command with no explicit timeout.
const DefaultTimeout = 2 * time.Hour

// tailLines is how much output is carried into error messages.
const tailLines = 20

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out through sh -c.
// Cancelling ctx terminates the whole process group.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 10 * time.Second

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Invocation is one external command for one step.
type Invocation struct {
	StepID  string
	Command string
	Dir     string
	Timeout time.Duration
	// LogPath receives the command and its full output; "" disables it.
	LogPath string
}

// Result holds the outcome of an invocation.
type Result struct {
	ExitCode int
	Duration time.Duration
	Stdout   string
	Stderr   string
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	StepID   string
	ExitCode int
	Tail     string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("step %s: command exited with status %d", e.StepID, e.ExitCode)
	if e.Tail != "" {
		msg += ":\n" + e.Tail
	}
	return msg
}

// ErrTimeout is returned when an invocation exceeds its timeout.
var ErrTimeout = errors.New("command timed out")

// Runner executes step commands and keeps their logs.
type Runner struct {
	cmd    CommandRunner
	logger *slog.Logger
}

// NewRunner creates a Runner with the given command runner.
func NewRunner(cmd CommandRunner, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cmd: cmd, logger: logger.With("component", "tool")}
}

// Run executes inv and returns an error unless the command exits 0.
// The log file is written on every return path once the command has run.
func (r *Runner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.logger.Debug("running command", "step", inv.StepID, "command", inv.Command, "dir", inv.Dir, "timeout", timeout)
	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(runCtx, inv.Dir, inv.Command)
	res := &Result{
		ExitCode: exitCode,
		Duration: time.Since(start),
		Stdout:   stdout,
		Stderr:   stderr,
	}

	if inv.LogPath != "" {
		if werr := pipeline.WriteAtomic(inv.LogPath, []byte(formatLog(inv, res))); werr != nil {
			r.logger.Warn("could not write step log", "step", inv.StepID, "path", inv.LogPath, "error", werr)
		}
	}

	if err != nil {
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			return res, fmt.Errorf("step %s: %w after %s", inv.StepID, ErrTimeout, timeout)
		case ctx.Err() != nil:
			return res, fmt.Errorf("step %s: %w", inv.StepID, ctx.Err())
		}
		return res, fmt.Errorf("step %s: %w", inv.StepID, err)
	}
	if exitCode != 0 {
		return res, &ExitError{StepID: inv.StepID, ExitCode: exitCode, Tail: tail(stderr, stdout)}
	}
	r.logger.Debug("command finished", "step", inv.StepID, "duration", res.Duration)
	return res, nil
}

func formatLog(inv Invocation, res *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "$ %s\n", inv.Command)
	fmt.Fprintf(&b, "# dir=%s exit=%d duration=%s\n", inv.Dir, res.ExitCode, res.Duration.Round(time.Millisecond))
	b.WriteString("\n--- stdout ---\n")
	b.WriteString(res.Stdout)
	b.WriteString("\n--- stderr ---\n")
	b.WriteString(res.Stderr)
	return b.String()
}

// tail returns the last lines of the first non-empty output.
func tail(outputs ...string) string {
	for _, out := range outputs {
		out = strings.TrimRight(out, "\n")
		if out == "" {
			continue
		}
		lines := strings.Split(out, "\n")
		if len(lines) > tailLines {
			lines = lines[len(lines)-tailLines:]
		}
		return strings.Join(lines, "\n")
	}
	return ""
}
