package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/ampliflow/internal/orchestrator"
	"github.com/lucasnoah/ampliflow/internal/pipeline"
)

var (
	runStrict   bool
	runDryRun   bool
	runNoLedger bool
	runQuiet    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline, skipping steps whose artifacts exist",
	Long: `Run every configured step in order. A step whose artifacts all exist is
skipped; a failed required step stops the run, a failed optional step is
reported and the run continues. Rerun the same command to resume.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		orch, cleanup, err := newOrchestrator(cfg, !runNoLedger && !runDryRun)
		if err != nil {
			return err
		}
		defer cleanup()

		w := cmd.OutOrStdout()
		if !runQuiet {
			orch.SetProgress(cmd.ErrOrStderr())
		}

		ctx, stop := signalContext(cmd)
		defer stop()

		runID := orchestrator.NewRunID("run")
		fmt.Fprintf(w, "Pipeline %s (run %s)\n", cfg.Pipeline.Name, runID)
		rep, runErr := orch.Run(ctx, orchestrator.RunOpts{
			RunID:  runID,
			Strict: runStrict,
			DryRun: runDryRun,
		})
		if rep == nil {
			return runErr
		}
		printReport(w, rep)

		if runErr != nil {
			return runErr
		}
		return rep.Err()
	},
}

var (
	tagOK      = color.New(color.FgGreen).SprintFunc()
	tagSkip    = color.New(color.FgCyan).SprintFunc()
	tagWarn    = color.New(color.FgYellow).SprintFunc()
	tagFail    = color.New(color.FgRed, color.Bold).SprintFunc()
	tagNeutral = color.New(color.Faint).SprintFunc()
)

func resultTag(r pipeline.Result) string {
	switch r {
	case pipeline.Succeeded:
		return tagOK("[ OK ]")
	case pipeline.Skipped:
		return tagSkip("[SKIP]")
	case pipeline.FailedSoft:
		return tagWarn("[SOFT]")
	case pipeline.FailedHard:
		return tagFail("[FAIL]")
	case pipeline.WouldRun:
		return tagNeutral("[PLAN]")
	}
	return string(r)
}

func printReport(w io.Writer, rep *pipeline.Report) {
	for _, o := range rep.Outcomes {
		detail := o.Reason
		if o.Error != "" {
			detail = o.Error
		} else if o.Result == pipeline.Succeeded {
			detail = o.Duration.Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s %-14s %s\n", resultTag(o.Result), o.Step, detail)
	}

	summary := fmt.Sprintf("%d succeeded, %d skipped, %d failed (optional)",
		rep.Count(pipeline.Succeeded), rep.Count(pipeline.Skipped), rep.Count(pipeline.FailedSoft))
	if n := rep.Count(pipeline.WouldRun); n > 0 {
		summary += fmt.Sprintf(", %d would run", n)
	}
	switch rep.Status {
	case pipeline.Completed:
		fmt.Fprintf(w, "\nPipeline %s: %s\n", tagOK("COMPLETED"), summary)
	default:
		fmt.Fprintf(w, "\nPipeline %s at %q: %s\n", tagFail("ABORTED"), rep.FailedStep, summary)
	}
}

func init() {
	runCmd.Flags().BoolVar(&runStrict, "strict", false, "also rerun steps whose artifacts changed since they were produced")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "show which steps would run without running them")
	runCmd.Flags().BoolVar(&runNoLedger, "no-ledger", false, "do not record the run in the ledger")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "suppress live progress output")
}
