package tool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lucasnoah/ampliflow/internal/logging"
)

// mockCmd records calls and returns configured results.
type mockCmd struct {
	calls   []mockCall
	results []mockResult
	callIdx int
}

type mockCall struct {
	Dir     string
	Command string
}

type mockResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
	Block    bool
}

func (m *mockCmd) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	m.calls = append(m.calls, mockCall{Dir: dir, Command: command})
	if m.callIdx >= len(m.results) {
		return "", "", 0, nil
	}
	r := m.results[m.callIdx]
	m.callIdx++
	if r.Block {
		<-ctx.Done()
		return "", "", -1, ctx.Err()
	}
	return r.Stdout, r.Stderr, r.ExitCode, r.Err
}

func TestRunner_Run_HappyPath(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Stdout: "imported 12 samples\n"}}}
	logPath := filepath.Join(t.TempDir(), "logs", "import.log")
	r := NewRunner(mock, logging.Discard())

	res, err := r.Run(context.Background(), Invocation{
		StepID:  "import",
		Command: "qiime tools import",
		Dir:     "/data",
		LogPath: logPath,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit 0, got %d", res.ExitCode)
	}
	if len(mock.calls) != 1 || mock.calls[0].Dir != "/data" || mock.calls[0].Command != "qiime tools import" {
		t.Fatalf("unexpected calls: %+v", mock.calls)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "$ qiime tools import") || !strings.Contains(string(data), "imported 12 samples") {
		t.Errorf("log missing command or output:\n%s", data)
	}
}

func TestRunner_Run_NonZeroExit(t *testing.T) {
	var stderr strings.Builder
	for i := 1; i <= 30; i++ {
		fmt.Fprintf(&stderr, "line %d\n", i)
	}
	mock := &mockCmd{results: []mockResult{{Stderr: stderr.String(), ExitCode: 2}}}
	logPath := filepath.Join(t.TempDir(), "denoise.log")
	r := NewRunner(mock, logging.Discard())

	_, err := r.Run(context.Background(), Invocation{StepID: "denoise", Command: "false", LogPath: logPath})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %v", err)
	}
	if exitErr.ExitCode != 2 {
		t.Errorf("expected exit 2, got %d", exitErr.ExitCode)
	}
	if strings.Contains(exitErr.Tail, "line 10\n") || !strings.HasSuffix(exitErr.Tail, "line 30") {
		t.Errorf("expected last %d lines in tail, got:\n%s", tailLines, exitErr.Tail)
	}
	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("log must be written for failed commands: %v", err)
	}
}

func TestRunner_Run_Timeout(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Block: true}}}
	r := NewRunner(mock, logging.Discard())

	_, err := r.Run(context.Background(), Invocation{StepID: "slow", Command: "sleep 100", Timeout: 10 * time.Millisecond})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestRunner_Run_Cancelled(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Block: true}}}
	r := NewRunner(mock, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Run(ctx, Invocation{StepID: "slow", Command: "sleep 100"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunner_Run_ExecError(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{ExitCode: -1, Err: errors.New("exec: sh not found")}}}
	r := NewRunner(mock, logging.Discard())

	_, err := r.Run(context.Background(), Invocation{StepID: "x", Command: "x"})
	if err == nil || !strings.Contains(err.Error(), "sh not found") {
		t.Fatalf("expected exec error, got %v", err)
	}
}

func TestExecRunner(t *testing.T) {
	dir := t.TempDir()
	e := &ExecRunner{}

	stdout, _, code, err := e.Run(context.Background(), dir, "pwd; echo oops >&2; exit 3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != 3 {
		t.Errorf("expected exit 3, got %d", code)
	}
	resolved, _ := filepath.EvalSymlinks(dir)
	if got := strings.TrimSpace(stdout); got != dir && got != resolved {
		t.Errorf("expected command to run in %s, got %s", dir, got)
	}
}

func TestExecRunner_Cancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, _, err := (&ExecRunner{}).Run(ctx, "", "sleep 5")
	if err == nil {
		t.Fatal("expected error from cancelled command")
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("cancellation took too long: %s", time.Since(start))
	}
}
