package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Recorder receives run events, typically the run ledger. Recorder errors are
// logged and never change a run's outcome.
type Recorder interface {
	StartRun(runID, pipeline string, startedAt time.Time) error
	RecordStep(runID string, o StepOutcome) error
	FinishRun(runID string, status RunStatus, failedStep string, finishedAt time.Time) error
}

// Executor runs steps one after another, consulting the checkpoint store
// before each and applying the required/optional failure policy.
type Executor struct {
	checkpoints *Checkpoints
	params      ParamLoader
	recorder    Recorder
	logger      *slog.Logger
	progress    io.Writer // live progress output; nil = silent
	dryRun      bool
	now         func() time.Time
}

// NewExecutor creates an executor. params may be nil when no step needs
// truncation parameters.
func NewExecutor(checkpoints *Checkpoints, params ParamLoader, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{
		checkpoints: checkpoints,
		params:      params,
		logger:      logger.With("component", "executor"),
		now:         time.Now,
	}
}

// SetRecorder attaches a run ledger.
func (e *Executor) SetRecorder(r Recorder) {
	e.recorder = r
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (e *Executor) SetProgress(w io.Writer) {
	e.progress = w
}

// SetDryRun makes Run evaluate checkpoints without invoking any action.
func (e *Executor) SetDryRun(v bool) {
	e.dryRun = v
}

// logf prints a progress line if a progress writer is configured.
func (e *Executor) logf(format string, args ...interface{}) {
	if e.progress != nil {
		fmt.Fprintf(e.progress, "  → "+format+"\n", args...)
	}
}

// RunOpts configures one pipeline run.
type RunOpts struct {
	RunID    string
	Pipeline string
	Steps    []Step
}

// Run executes opts.Steps in order. A required step failure stops the run
// with status Aborted and Report.Err set; later steps are never evaluated.
// The returned error is non-nil only when ctx is cancelled between steps.
func (e *Executor) Run(ctx context.Context, opts RunOpts) (*Report, error) {
	report := &Report{
		RunID:     opts.RunID,
		Pipeline:  opts.Pipeline,
		Status:    Running,
		StartedAt: e.now(),
	}
	log := e.logger.With("run", opts.RunID)
	log.Info("run started", "pipeline", opts.Pipeline, "steps", len(opts.Steps), "dry_run", e.dryRun)
	if !e.dryRun {
		e.record(log, func(r Recorder) error { return r.StartRun(opts.RunID, opts.Pipeline, report.StartedAt) })
	}

	for _, step := range opts.Steps {
		if err := ctx.Err(); err != nil {
			e.finish(log, report, Aborted)
			return report, fmt.Errorf("run interrupted before step %q: %w", step.ID, err)
		}

		outcome := e.runStep(ctx, log, step)
		report.Outcomes = append(report.Outcomes, outcome)
		if !e.dryRun {
			e.record(log, func(r Recorder) error { return r.RecordStep(opts.RunID, outcome) })
		}

		if outcome.Result == FailedHard {
			report.FailedStep = step.ID
			report.failure = &StepError{Step: step.ID, Artifact: step.ArtifactList(), Err: outcome.Err}
			e.finish(log, report, Aborted)
			return report, nil
		}
	}

	e.finish(log, report, Completed)
	return report, nil
}

func (e *Executor) runStep(ctx context.Context, log *slog.Logger, step Step) StepOutcome {
	log = log.With("step", step.ID)
	outcome := StepOutcome{Step: step.ID, Required: step.Required}

	run, reason := e.checkpoints.ShouldRun(step)
	outcome.Reason = reason
	if !run {
		outcome.Result = Skipped
		log.Info("step skipped", "reason", reason)
		e.logf("%s: skipped (%s)", step.ID, reason)
		return outcome
	}
	if e.dryRun {
		outcome.Result = WouldRun
		e.logf("%s: would run (%s)", step.ID, reason)
		return outcome
	}

	in := StepInput{StepID: step.ID, Logger: log}
	if step.NeedsParams {
		params, err := e.loadParams()
		if err != nil {
			// A parameter-consuming step never runs on bad parameters,
			// whatever its required flag says.
			outcome.Result = FailedHard
			outcome.Err = err
			outcome.Error = err.Error()
			log.Error("step precondition failed", "error", err)
			e.logf("%s: precondition failed: %v", step.ID, err)
			return outcome
		}
		in.Params = params
	}

	e.logf("%s: running (%s)", step.ID, reason)
	log.Info("step started", "artifacts", step.ArtifactList())
	start := e.now()
	err := step.Action.Run(ctx, in)
	if err == nil {
		if missing := e.checkpoints.Missing(step); len(missing) > 0 {
			err = fmt.Errorf("%w: %s", ErrArtifactMissing, strings.Join(missing, ", "))
		}
	}
	outcome.Duration = e.now().Sub(start)

	if err == nil {
		outcome.Result = Succeeded
		if rerr := e.checkpoints.Record(step); rerr != nil {
			log.Warn("could not record fingerprint", "error", rerr)
		}
		log.Info("step succeeded", "duration", outcome.Duration)
		e.logf("%s: succeeded (%s)", step.ID, outcome.Duration.Round(time.Millisecond))
		return outcome
	}

	outcome.Err = err
	outcome.Error = err.Error()
	if step.Required {
		outcome.Result = FailedHard
		log.Error("required step failed", "error", err, "artifact", step.ArtifactList())
		e.logf("%s: FAILED (required): %v", step.ID, err)
	} else {
		outcome.Result = FailedSoft
		log.Warn("optional step failed, continuing", "error", err)
		e.logf("%s: failed (optional, continuing): %v", step.ID, err)
	}
	return outcome
}

func (e *Executor) loadParams() (Params, error) {
	if e.params == nil {
		return Params{}, fmt.Errorf("%w: no parameter source configured", ErrMissingParams)
	}
	p, err := e.params.LoadParams()
	if err != nil {
		return Params{}, fmt.Errorf("%w: %v", ErrMissingParams, err)
	}
	if !p.Usable() {
		return Params{}, fmt.Errorf("%w: forwardTruncLen=%d reverseTruncLen=%d",
			ErrMissingParams, p.ForwardTruncLen, p.ReverseTruncLen)
	}
	return p, nil
}

func (e *Executor) finish(log *slog.Logger, report *Report, status RunStatus) {
	report.Status = status
	report.FinishedAt = e.now()
	log.Info("run finished", "status", status,
		"succeeded", report.Count(Succeeded),
		"skipped", report.Count(Skipped),
		"failed_soft", report.Count(FailedSoft),
		"failed_step", report.FailedStep)
	if !e.dryRun {
		e.record(log, func(r Recorder) error {
			return r.FinishRun(report.RunID, status, report.FailedStep, report.FinishedAt)
		})
	}
}

func (e *Executor) record(log *slog.Logger, fn func(Recorder) error) {
	if e.recorder == nil {
		return
	}
	if err := fn(e.recorder); err != nil {
		log.Warn("run ledger write failed", "error", err)
	}
}
