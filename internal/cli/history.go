package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/ampliflow/internal/config"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recent runs, or the step outcomes of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := optionalConfig()
		ledger, err := openLedger(cfg)
		if err != nil {
			return err
		}
		defer ledger.Close()
		w := cmd.OutOrStdout()

		if len(args) == 1 {
			steps, err := ledger.StepResults(args[0])
			if err != nil {
				return err
			}
			if len(steps) == 0 {
				return fmt.Errorf("no steps recorded for run %q", args[0])
			}
			for _, s := range steps {
				detail := s.Reason
				if s.Error != "" {
					detail = s.Error
				}
				fmt.Fprintf(w, "%s %-14s %-8s %s\n", resultTag(s.Result), s.Step,
					(time.Duration(s.DurationMs) * time.Millisecond).String(), detail)
			}
			stats, err := ledger.AggregateStats(args[0])
			if err != nil {
				return err
			}
			for _, st := range stats {
				fmt.Fprintf(w, "  %s: chosen %d by %s (mean %d, median %d, %d/%d usable)\n",
					st.Direction, st.Chosen, st.Method, st.Mean, st.Median, st.Usable, st.Total)
			}
			return nil
		}

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := ledger.ListRuns(limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(w, "No runs recorded.")
			return nil
		}

		fmt.Fprintf(w, "%-14s %-18s %-10s %-6s %-16s %s\n", "RUN", "PIPELINE", "STATUS", "STEPS", "STARTED", "FAILED STEP")
		fmt.Fprintf(w, "%-14s %-18s %-10s %-6s %-16s %s\n",
			strings.Repeat("-", 14),
			strings.Repeat("-", 18),
			strings.Repeat("-", 10),
			strings.Repeat("-", 6),
			strings.Repeat("-", 16),
			strings.Repeat("-", 11))
		for _, r := range runs {
			fmt.Fprintf(w, "%-14s %-18s %-10s %-6d %-16s %s\n",
				r.ID, r.Pipeline, r.Status, r.Steps, humanize.Time(r.StartedAt), r.FailedStep)
		}
		return nil
	},
}

// optionalConfig returns the pipeline config if one can be loaded. Commands
// that only need the ledger work from --db alone.
func optionalConfig() *config.PipelineConfig {
	cfg, err := loadConfig()
	if err != nil {
		logger.Debug("no pipeline config", "error", err)
		return nil
	}
	return cfg
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "number of runs to list")
}
