// Package orchestrator turns a pipeline configuration into executable steps
// and runs them.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/ampliflow/internal/config"
	"github.com/lucasnoah/ampliflow/internal/db"
	"github.com/lucasnoah/ampliflow/internal/pipeline"
	"github.com/lucasnoah/ampliflow/internal/quality"
	"github.com/lucasnoah/ampliflow/internal/render"
	"github.com/lucasnoah/ampliflow/internal/tool"
	"github.com/lucasnoah/ampliflow/internal/truncation"
)

// Directories under the output root that ampliflow owns.
const (
	CheckpointDir = ".checkpoints"
	LogDir        = "logs"
)

// NewRunID returns a short unique run identifier.
func NewRunID(prefix string) string {
	return prefix + "_" + uuid.New().String()[:8]
}

// Orchestrator composes configuration, external tools, the executor and the
// run ledger.
type Orchestrator struct {
	cfg      *config.PipelineConfig
	runner   *tool.Runner
	ledger   *db.DB // nil disables the ledger
	logger   *slog.Logger
	progress io.Writer
}

// NewOrchestrator creates an Orchestrator. ledger may be nil.
func NewOrchestrator(cfg *config.PipelineConfig, runner *tool.Runner, ledger *db.DB, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:    cfg,
		runner: runner,
		ledger: ledger,
		logger: logger,
	}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (o *Orchestrator) SetProgress(w io.Writer) {
	o.progress = w
}

func (o *Orchestrator) outputRoot() string {
	return o.cfg.Pipeline.OutputRoot
}

// ParamsPath is where the estimate step writes the parameter record.
func (o *Orchestrator) ParamsPath() string {
	return filepath.Join(o.outputRoot(), truncation.ParamsFile)
}

// Checkpoints returns the checkpoint store for the configured output root.
func (o *Orchestrator) Checkpoints(strict bool) *pipeline.Checkpoints {
	return pipeline.NewCheckpoints(filepath.Join(o.outputRoot(), CheckpointDir), strict)
}

// Vars returns the template variables available to every step.
func (o *Orchestrator) Vars() render.Vars {
	p := o.cfg.Pipeline
	vars := render.Vars{
		"input_root":  p.InputRoot,
		"output_root": p.OutputRoot,
		"threads":     strconv.Itoa(p.Defaults.Threads),
		"threshold":   strconv.FormatFloat(p.Threshold, 'f', -1, 64),
	}
	return render.Vars(p.Vars).Merge(vars)
}

// Steps builds the executable steps. Artifact templates are rendered now;
// command templates are rendered when the step runs so they can see the
// truncation parameters.
func (o *Orchestrator) Steps(runID string) ([]pipeline.Step, error) {
	base := o.Vars()
	steps := make([]pipeline.Step, 0, len(o.cfg.Pipeline.Steps))
	for _, sc := range o.cfg.Pipeline.Steps {
		vars := base.Merge(render.Vars{"step_id": sc.ID})

		artifacts := make([]string, 0, len(sc.Artifacts))
		for _, a := range sc.Artifacts {
			path, err := render.Render(a, vars)
			if err != nil {
				return nil, fmt.Errorf("step %s artifact: %w", sc.ID, err)
			}
			if !filepath.IsAbs(path) {
				path = filepath.Join(o.outputRoot(), path)
			}
			artifacts = append(artifacts, filepath.Clean(path))
		}

		action, err := o.action(runID, sc, vars)
		if err != nil {
			return nil, err
		}
		steps = append(steps, pipeline.Step{
			ID:          sc.ID,
			Artifacts:   artifacts,
			Required:    sc.IsRequired(),
			NeedsParams: sc.NeedsParams,
			Action:      action,
		})
	}
	return steps, nil
}

func (o *Orchestrator) action(runID string, sc config.Step, vars render.Vars) (pipeline.Action, error) {
	switch sc.Type {
	case config.StepEstimate:
		input, err := render.Render(sc.Input, vars)
		if err != nil {
			return nil, fmt.Errorf("step %s input: %w", sc.ID, err)
		}
		return pipeline.ActionFunc(func(ctx context.Context, in pipeline.StepInput) error {
			_, err := o.Estimate(ctx, runID, input)
			return err
		}), nil

	case config.StepCommand:
		timeout, err := sc.TimeoutDuration()
		if err != nil {
			return nil, fmt.Errorf("step %s timeout: %w", sc.ID, err)
		}
		return &commandAction{
			runner:  o.runner,
			step:    sc,
			vars:    vars,
			timeout: timeout,
			logPath: filepath.Join(o.outputRoot(), LogDir, sc.ID+".log"),
			workdir: o.outputRoot(),
		}, nil
	}
	return nil, fmt.Errorf("step %s: unrecognized type %q", sc.ID, sc.Type)
}

// Estimate runs truncation estimation over the reports under input and
// writes its files to the output root. With a ledger attached the result is
// logged under runID.
func (o *Orchestrator) Estimate(ctx context.Context, runID, input string) (*truncation.Result, error) {
	p := o.cfg.Pipeline
	parser, err := quality.NewParser(p.ReportFormat)
	if err != nil {
		return nil, err
	}
	namer, err := quality.NewNamer(p.ForwardPattern, p.ReversePattern)
	if err != nil {
		return nil, err
	}
	policy, err := truncation.ParsePolicy(p.CutoffPolicy)
	if err != nil {
		return nil, err
	}

	est := truncation.NewEstimator(truncation.Options{
		InputRoot:     input,
		OutputRoot:    p.OutputRoot,
		Threshold:     p.Threshold,
		SkewThreshold: p.SkewThreshold,
		Policy:        policy,
	}, parser, namer, o.logger)
	res, err := est.Run(ctx)
	if err != nil {
		return nil, err
	}

	if o.ledger != nil {
		if err := o.ledger.LogEstimation(runID, res); err != nil {
			o.logger.Warn("could not log estimation", "run", runID, "error", err)
		}
	}
	return res, nil
}

// EstimateInput returns the report directory the pipeline's estimate step
// reads, or the input root when the pipeline has no estimate step.
func (o *Orchestrator) EstimateInput() (string, error) {
	for _, sc := range o.cfg.Pipeline.Steps {
		if sc.Type == config.StepEstimate {
			return render.Render(sc.Input, o.Vars().Merge(render.Vars{"step_id": sc.ID}))
		}
	}
	return o.cfg.Pipeline.InputRoot, nil
}

// RunOpts configures one pipeline run.
type RunOpts struct {
	RunID  string
	Strict bool
	DryRun bool
}

// Run executes the configured pipeline.
func (o *Orchestrator) Run(ctx context.Context, opts RunOpts) (*pipeline.Report, error) {
	if opts.RunID == "" {
		opts.RunID = NewRunID("run")
	}
	if !opts.DryRun {
		if err := os.MkdirAll(o.outputRoot(), 0o755); err != nil {
			return nil, fmt.Errorf("create output root: %w", err)
		}
	}

	steps, err := o.Steps(opts.RunID)
	if err != nil {
		return nil, err
	}

	ex := pipeline.NewExecutor(
		o.Checkpoints(opts.Strict || o.cfg.Pipeline.Strict),
		truncation.ParamFile{Path: o.ParamsPath()},
		o.logger,
	)
	ex.SetDryRun(opts.DryRun)
	ex.SetProgress(o.progress)
	if o.ledger != nil {
		ex.SetRecorder(o.ledger)
	}

	return ex.Run(ctx, pipeline.RunOpts{
		RunID:    opts.RunID,
		Pipeline: o.cfg.Pipeline.Name,
		Steps:    steps,
	})
}

// Status returns the checkpoint state of every step without running anything.
func (o *Orchestrator) Status(strict bool) ([]pipeline.StepState, error) {
	steps, err := o.Steps("")
	if err != nil {
		return nil, err
	}
	cp := o.Checkpoints(strict || o.cfg.Pipeline.Strict)
	states := make([]pipeline.StepState, 0, len(steps))
	for _, s := range steps {
		states = append(states, cp.Inspect(s))
	}
	return states, nil
}

// commandAction renders and runs one external command.
type commandAction struct {
	runner  *tool.Runner
	step    config.Step
	vars    render.Vars
	timeout time.Duration
	logPath string
	workdir string
}

func (a *commandAction) Run(ctx context.Context, in pipeline.StepInput) error {
	vars := a.vars
	if a.step.NeedsParams {
		vars = vars.Merge(render.Vars{
			truncation.KeyForwardTruncLen: strconv.Itoa(in.Params.ForwardTruncLen),
			truncation.KeyReverseTruncLen: strconv.Itoa(in.Params.ReverseTruncLen),
		})
	}
	command, err := render.Render(a.step.Command, vars)
	if err != nil {
		return fmt.Errorf("render command: %w", err)
	}
	dir := a.workdir
	if a.step.Workdir != "" {
		if dir, err = render.Render(a.step.Workdir, vars); err != nil {
			return fmt.Errorf("render workdir: %w", err)
		}
	}

	if in.Logger != nil {
		in.Logger.Info("running command", "command", command, "log", a.logPath)
	}
	_, err = a.runner.Run(ctx, tool.Invocation{
		StepID:  a.step.ID,
		Command: command,
		Dir:     dir,
		Timeout: a.timeout,
		LogPath: a.logPath,
	})
	return err
}
