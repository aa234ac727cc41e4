package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/ampliflow/internal/config"
	"github.com/lucasnoah/ampliflow/internal/orchestrator"
	"github.com/lucasnoah/ampliflow/internal/truncation"
)

var (
	estimateInput    string
	estimateOutput   string
	estimateThresh   float64
	estimateSkew     int
	estimatePolicy   string
	estimateFormat   string
	estimateNoLedger bool
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate read truncation lengths from quality reports",
	Long: `Parse every quality report under the input directory, derive a cutoff per
sample and read direction, and write the chosen lengths to trunc_params.txt
together with a histogram, a per-sample table and the statistics.

Settings come from the pipeline config when one is found; flags override them.
Without a config, --input and --output are required.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := estimateConfig(cmd)
		if err != nil {
			return err
		}
		// Step definitions are irrelevant to a standalone estimate.
		for _, e := range config.Validate(cfg) {
			if e.Field != "pipeline.name" && !strings.HasPrefix(e.Field, "pipeline.steps") {
				return e
			}
		}

		orch, cleanup, err := newOrchestrator(cfg, !estimateNoLedger)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signalContext(cmd)
		defer stop()

		input := cfg.Pipeline.InputRoot
		if estimateInput == "" {
			if input, err = orch.EstimateInput(); err != nil {
				return err
			}
		}
		res, err := orch.Estimate(ctx, orchestrator.NewRunID("est"), input)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if err := truncation.RenderHistogram(w, res.Forward, res.Reverse); err != nil {
			return err
		}
		fmt.Fprintln(w)
		for _, skipped := range res.ParseFailures {
			fmt.Fprintf(w, "%s unreadable report skipped: %s\n", color.YellowString("[WARN]"), skipped)
		}
		for _, skipped := range res.UnknownDirection {
			fmt.Fprintf(w, "%s read direction not recognised: %s\n", color.YellowString("[WARN]"), skipped)
		}

		tag := color.GreenString("[ OK ]")
		if !res.Params.Usable() {
			tag = color.RedString("[FAIL]")
		}
		fmt.Fprintf(w, "%s %s=%d %s=%d -> %s\n", tag,
			truncation.KeyForwardTruncLen, res.Params.ForwardTruncLen,
			truncation.KeyReverseTruncLen, res.Params.ReverseTruncLen,
			filepath.Join(cfg.Pipeline.OutputRoot, truncation.ParamsFile))
		if !res.Params.Usable() {
			return fmt.Errorf("no usable truncation length for at least one read direction")
		}
		return nil
	},
}

// estimateConfig starts from the pipeline config when available and applies
// the command's flags on top.
func estimateConfig(cmd *cobra.Command) (*config.PipelineConfig, error) {
	cfg, err := loadConfig()
	if err != nil {
		if flagConfig != "" || estimateInput == "" || estimateOutput == "" {
			return nil, fmt.Errorf("%w (or pass --input and --output)", err)
		}
		if cfg, err = config.Parse(nil); err != nil {
			return nil, err
		}
	}

	p := &cfg.Pipeline
	flags := cmd.Flags()
	if estimateInput != "" {
		p.InputRoot = estimateInput
	}
	if estimateOutput != "" {
		p.OutputRoot = estimateOutput
	}
	if flags.Changed("threshold") {
		p.Threshold = estimateThresh
	}
	if flags.Changed("skew-threshold") {
		p.SkewThreshold = estimateSkew
	}
	if flags.Changed("policy") {
		p.CutoffPolicy = estimatePolicy
	}
	if flags.Changed("format") {
		p.ReportFormat = estimateFormat
	}
	return cfg, nil
}

func init() {
	f := estimateCmd.Flags()
	f.StringVarP(&estimateInput, "input", "i", "", "directory containing quality reports")
	f.StringVarP(&estimateOutput, "output", "o", "", "directory for trunc_params.txt and friends")
	f.Float64Var(&estimateThresh, "threshold", truncation.DefaultThreshold, "mean quality below which reads are truncated")
	f.IntVar(&estimateSkew, "skew-threshold", truncation.DefaultSkewThreshold, "mean/median gap above which the median is used")
	f.StringVar(&estimatePolicy, "policy", config.PolicyBeforeDrop, "cutoff policy (before_drop, drop)")
	f.StringVar(&estimateFormat, "format", "fastqc", "report format (fastqc, fastq)")
	f.BoolVar(&estimateNoLedger, "no-ledger", false, "do not record the estimation in the run ledger")
}
