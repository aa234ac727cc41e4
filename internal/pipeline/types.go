package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Result is the outcome of one step in one run.
type Result string

const (
	Skipped    Result = "skipped"
	Succeeded  Result = "succeeded"
	FailedHard Result = "failed_hard"
	FailedSoft Result = "failed_soft"
	// WouldRun is only produced by dry runs.
	WouldRun Result = "would_run"
)

// RunStatus is the pipeline-level state of a run.
type RunStatus string

const (
	Running   RunStatus = "running"
	Completed RunStatus = "completed"
	Aborted   RunStatus = "aborted"
)

// Params are the truncation lengths handed to parameter-consuming steps.
type Params struct {
	ForwardTruncLen int `json:"forward_trunc_len"`
	ReverseTruncLen int `json:"reverse_trunc_len"`
}

// Usable reports whether both lengths are set. Zero means "no usable data".
func (p Params) Usable() bool {
	return p.ForwardTruncLen > 0 && p.ReverseTruncLen > 0
}

// ParamLoader reads the persisted parameter record.
type ParamLoader interface {
	LoadParams() (Params, error)
}

// StepInput is what the executor hands an action.
type StepInput struct {
	StepID string
	// Params is zero unless the step declares NeedsParams.
	Params Params
	Logger *slog.Logger
}

// Action produces a step's artifacts. Returning nil means success.
type Action interface {
	Run(ctx context.Context, in StepInput) error
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, in StepInput) error

func (f ActionFunc) Run(ctx context.Context, in StepInput) error {
	return f(ctx, in)
}

// Step describes one pipeline step: the artifacts it must produce, whether
// its failure aborts the run, and the action that produces them.
type Step struct {
	ID          string
	Artifacts   []string
	Required    bool
	NeedsParams bool
	Action      Action
}

// ArtifactList returns the artifacts joined for messages.
func (s Step) ArtifactList() string {
	return strings.Join(s.Artifacts, ", ")
}

// StepOutcome records what happened to one step.
type StepOutcome struct {
	Step     string        `json:"step"`
	Result   Result        `json:"result"`
	Required bool          `json:"required"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Err      error         `json:"-"`
}

// Report is the outcome of a whole run. Steps after a hard failure have no
// entry in Outcomes.
type Report struct {
	RunID      string        `json:"run_id"`
	Pipeline   string        `json:"pipeline"`
	Status     RunStatus     `json:"status"`
	FailedStep string        `json:"failed_step,omitempty"`
	Outcomes   []StepOutcome `json:"outcomes"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`

	failure error
}

// Err returns the *StepError that aborted the run, or nil.
func (r *Report) Err() error {
	return r.failure
}

// Count returns how many steps ended with res.
func (r *Report) Count(res Result) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Result == res {
			n++
		}
	}
	return n
}

// Outcome returns the outcome recorded for step, if any.
func (r *Report) Outcome(step string) (StepOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Step == step {
			return o, true
		}
	}
	return StepOutcome{}, false
}

// ErrMissingParams means a parameter-consuming step found no usable
// truncation lengths.
var ErrMissingParams = errors.New("truncation parameters missing or zero")

// ErrArtifactMissing means an action reported success without producing
// every declared artifact.
var ErrArtifactMissing = errors.New("artifact missing after step")

// StepError identifies the step and artifact behind a hard failure.
type StepError struct {
	Step     string
	Artifact string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed (required artifact %s): %v", e.Step, e.Artifact, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
