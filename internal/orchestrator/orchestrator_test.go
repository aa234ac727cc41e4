package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/lucasnoah/ampliflow/internal/config"
	"github.com/lucasnoah/ampliflow/internal/db"
	"github.com/lucasnoah/ampliflow/internal/logging"
	"github.com/lucasnoah/ampliflow/internal/pipeline"
	"github.com/lucasnoah/ampliflow/internal/tool"
	"github.com/lucasnoah/ampliflow/internal/truncation"
)

// fakeTools stands in for the external programs. A command "touch a b"
// creates the listed absolute paths; "fail" exits 1.
type fakeTools struct {
	commands []string
}

func (f *fakeTools) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	f.commands = append(f.commands, command)
	fields := strings.Fields(command)
	switch {
	case len(fields) > 0 && fields[0] == "fail":
		return "", "tool crashed", 1, nil
	case len(fields) > 0 && fields[0] == "touch":
		for _, path := range fields[1:] {
			if !filepath.IsAbs(path) {
				continue
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return "", err.Error(), 1, nil
			}
			if err := os.WriteFile(path, []byte(command), 0o644); err != nil {
				return "", err.Error(), 1, nil
			}
		}
	}
	return "ok", "", 0, nil
}

func (f *fakeTools) ran(prefix string) int {
	n := 0
	for _, c := range f.commands {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func fastqcZip(t *testing.T, path string, length, dropAt int) {
	t.Helper()
	var data strings.Builder
	data.WriteString(">>Per base sequence quality\tpass\n#Base\tMean\n")
	for pos := 1; pos <= length; pos++ {
		mean := 35.0
		if dropAt > 0 && pos >= dropAt {
			mean = 12.0
		}
		fmt.Fprintf(&data, "%d\t%.1f\n", pos, mean)
	}
	data.WriteString(">>END_MODULE\n")

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(strings.TrimSuffix(filepath.Base(path), ".zip") + "/fastqc_data.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(data.String())); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

const testPipeline = `
pipeline:
  name: test-16s
  input_root: reads
  output_root: results
  defaults:
    threads: 2
  steps:
    - id: trim
      command: "touch {{output_root}}/trimmed.qza -j {{threads}}"
      artifacts: ["{{output_root}}/trimmed.qza"]
    - id: estimate
      type: estimate
    - id: denoise
      needs_params: true
      command: "touch {{output_root}}/table.qza --f {{forwardTruncLen}} --r {{reverseTruncLen}}"
      artifacts: ["table.qza"]
    - id: tree
      required: false
      command: "fail"
      artifacts: ["{{output_root}}/tree.qza"]
    - id: diversity
      command: "touch {{output_root}}/core/metrics.txt"
      artifacts: ["{{output_root}}/core"]
`

type fixture struct {
	dir    string
	cfg    *config.PipelineConfig
	tools  *fakeTools
	ledger *db.DB
	orch   *Orchestrator
}

func newFixture(t *testing.T, yaml string) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if errs := config.Validate(cfg); len(errs) != 0 {
		t.Fatalf("invalid test config: %v", errs)
	}
	if err := os.MkdirAll(cfg.Pipeline.InputRoot, 0o755); err != nil {
		t.Fatal(err)
	}

	ledger, err := db.Open(":memory:", logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := ledger.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ledger.Close() })

	tools := &fakeTools{}
	logger := logging.Discard()
	orch := NewOrchestrator(cfg, tool.NewRunner(tools, logger), ledger, logger)
	return &fixture{dir: dir, cfg: cfg, tools: tools, ledger: ledger, orch: orch}
}

func (f *fixture) report(t *testing.T, name string, length, dropAt int) {
	t.Helper()
	fastqcZip(t, filepath.Join(f.cfg.Pipeline.InputRoot, name), length, dropAt)
}

func (f *fixture) pairedReports(t *testing.T) {
	f.report(t, "S1_R1_fastqc.zip", 250, 241)
	f.report(t, "S1_R2_fastqc.zip", 250, 181)
	f.report(t, "S2_R1_fastqc.zip", 250, 0)
	f.report(t, "S2_R2_fastqc.zip", 250, 171)
}

func TestRun_FullPipeline(t *testing.T) {
	f := newFixture(t, testPipeline)
	f.pairedReports(t)

	rep, err := f.orch.Run(context.Background(), RunOpts{RunID: "run_1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Status != pipeline.Completed {
		t.Fatalf("expected completed, got %s (%v)", rep.Status, rep.Err())
	}
	if got, ok := rep.Outcome("tree"); !ok || got.Result != pipeline.FailedSoft {
		t.Errorf("optional tree step should fail soft, got %+v", got)
	}
	if got, ok := rep.Outcome("diversity"); !ok || got.Result != pipeline.Succeeded {
		t.Errorf("diversity should run after a soft failure, got %+v", got)
	}

	out := f.cfg.Pipeline.OutputRoot
	want := fmt.Sprintf("touch %s/table.qza --f 245 --r 175", out)
	if f.tools.ran(want) != 1 {
		t.Errorf("denoise not invoked with estimated lengths; commands: %v", f.tools.commands)
	}
	if f.tools.ran("touch "+out+"/trimmed.qza -j 2") != 1 {
		t.Errorf("trim threads not rendered; commands: %v", f.tools.commands)
	}
	if _, err := os.Stat(filepath.Join(out, LogDir, "denoise.log")); err != nil {
		t.Errorf("step log missing: %v", err)
	}

	steps, err := f.ledger.StepResults("run_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 5 {
		t.Errorf("expected one ledger row per step, got %d", len(steps))
	}
	stats, err := f.ledger.AggregateStats("run_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 2 {
		t.Errorf("expected estimation logged under the run, got %+v", stats)
	}
}

func TestRun_SecondRunSkipsCompletedSteps(t *testing.T) {
	f := newFixture(t, testPipeline)
	f.pairedReports(t)

	if _, err := f.orch.Run(context.Background(), RunOpts{}); err != nil {
		t.Fatal(err)
	}
	before := len(f.tools.commands)

	rep, err := f.orch.Run(context.Background(), RunOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Count(pipeline.Skipped) != 4 {
		t.Errorf("expected 4 skipped steps, got %d: %+v", rep.Count(pipeline.Skipped), rep.Outcomes)
	}
	// Only the failed optional step is retried.
	if got := f.tools.commands[before:]; len(got) != 1 || got[0] != "fail" {
		t.Errorf("unexpected commands on rerun: %v", got)
	}
}

func TestRun_MissingReverseReadsAbortsBeforeDenoise(t *testing.T) {
	f := newFixture(t, testPipeline)
	f.report(t, "S1_R1_fastqc.zip", 250, 0)

	rep, err := f.orch.Run(context.Background(), RunOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Status != pipeline.Aborted || rep.FailedStep != "denoise" {
		t.Fatalf("expected abort at denoise, got %s at %q", rep.Status, rep.FailedStep)
	}
	if !errors.Is(rep.Err(), pipeline.ErrMissingParams) {
		t.Errorf("expected ErrMissingParams, got %v", rep.Err())
	}
	if f.tools.ran("touch "+f.cfg.Pipeline.OutputRoot+"/table.qza") != 0 {
		t.Error("denoise must not be invoked with a zero length")
	}
	if _, ok := rep.Outcome("diversity"); ok {
		t.Error("steps after a hard failure must not be evaluated")
	}

	params, err := truncation.ReadParams(f.orch.ParamsPath())
	if err != nil {
		t.Fatal(err)
	}
	if params.ReverseTruncLen != 0 || params.ForwardTruncLen != 250 {
		t.Errorf("unexpected parameter record: %+v", params)
	}
}

func TestRun_DryRun(t *testing.T) {
	f := newFixture(t, testPipeline)
	f.pairedReports(t)

	rep, err := f.orch.Run(context.Background(), RunOpts{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(f.tools.commands) != 0 {
		t.Errorf("dry run invoked tools: %v", f.tools.commands)
	}
	if rep.Count(pipeline.WouldRun) != 5 {
		t.Errorf("expected 5 would_run outcomes, got %+v", rep.Outcomes)
	}
	runs, _ := f.ledger.ListRuns(10)
	if len(runs) != 0 {
		t.Errorf("dry run must not touch the ledger, got %d runs", len(runs))
	}
}

func TestRun_StrictRerunsChangedArtifacts(t *testing.T) {
	f := newFixture(t, testPipeline)
	f.pairedReports(t)
	if _, err := f.orch.Run(context.Background(), RunOpts{}); err != nil {
		t.Fatal(err)
	}

	trimmed := filepath.Join(f.cfg.Pipeline.OutputRoot, "trimmed.qza")
	if err := os.WriteFile(trimmed, []byte("edited by hand, longer than before"), 0o644); err != nil {
		t.Fatal(err)
	}

	rep, err := f.orch.Run(context.Background(), RunOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := rep.Outcome("trim"); got.Result != pipeline.Skipped {
		t.Error("existence-only mode must skip a step whose artifacts exist")
	}

	rep, err = f.orch.Run(context.Background(), RunOpts{Strict: true})
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := rep.Outcome("trim"); got.Result != pipeline.Succeeded {
		t.Errorf("strict mode must rerun a step whose artifact changed, got %+v", got)
	}
}

func TestSteps_ResolvesArtifacts(t *testing.T) {
	f := newFixture(t, testPipeline)
	steps, err := f.orch.Steps("r")
	if err != nil {
		t.Fatal(err)
	}
	out := f.cfg.Pipeline.OutputRoot
	if got := steps[2].Artifacts[0]; got != filepath.Join(out, "table.qza") {
		t.Errorf("relative artifact should resolve under the output root, got %s", got)
	}
	if got := steps[1].Artifacts[0]; got != filepath.Join(out, truncation.ParamsFile) {
		t.Errorf("estimate artifact = %s", got)
	}
	if !steps[2].NeedsParams || steps[3].Required {
		t.Errorf("step flags not carried over: %+v", steps)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, testPipeline)
	trimmed := filepath.Join(f.cfg.Pipeline.OutputRoot, "trimmed.qza")
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(trimmed, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	states, err := f.orch.Status(false)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 5 {
		t.Fatalf("expected 5 states, got %d", len(states))
	}
	if states[0].Pending || !states[0].Artifacts[0].Exists || states[0].Artifacts[0].Size != 1 {
		t.Errorf("trim should be done: %+v", states[0])
	}
	if !states[1].Pending {
		t.Errorf("estimate should be pending: %+v", states[1])
	}
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t, testPipeline)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := f.orch.Run(ctx, RunOpts{RunID: "run_c"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if rep.Status != pipeline.Aborted {
		t.Errorf("expected aborted, got %s", rep.Status)
	}
}

func TestNewRunID(t *testing.T) {
	a, b := NewRunID("run"), NewRunID("run")
	if a == b {
		t.Error("run IDs must be unique")
	}
	if !strings.HasPrefix(a, "run_") || len(a) != len("run_")+8 {
		t.Errorf("unexpected run ID %q", a)
	}
}

func TestEstimateInput(t *testing.T) {
	f := newFixture(t, testPipeline)
	got, err := f.orch.EstimateInput()
	if err != nil {
		t.Fatal(err)
	}
	if got != f.cfg.Pipeline.InputRoot {
		t.Errorf("default estimate input = %q, want input root %q", got, f.cfg.Pipeline.InputRoot)
	}

	f = newFixture(t, strings.Replace(testPipeline, "type: estimate", "type: estimate\n      input: \"{{output_root}}/fastqc\"", 1))
	got, err = f.orch.EstimateInput()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(f.cfg.Pipeline.OutputRoot, "fastqc"); got != want {
		t.Errorf("estimate input = %q, want %q", got, want)
	}
}
