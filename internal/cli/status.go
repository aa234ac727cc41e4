package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/ampliflow/internal/truncation"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which steps are done and what their artifacts look like",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		orch, cleanup, err := newOrchestrator(cfg, false)
		if err != nil {
			return err
		}
		defer cleanup()

		strict, _ := cmd.Flags().GetBool("strict")
		states, err := orch.Status(strict)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(states, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-14s %-8s %-9s %-10s %-16s %s\n", "STEP", "STATE", "REQUIRED", "SIZE", "MODIFIED", "ARTIFACT")
		fmt.Fprintf(w, "%-14s %-8s %-9s %-10s %-16s %s\n",
			strings.Repeat("-", 14),
			strings.Repeat("-", 8),
			strings.Repeat("-", 9),
			strings.Repeat("-", 10),
			strings.Repeat("-", 16),
			strings.Repeat("-", 8))
		for _, st := range states {
			state := "done"
			if st.Pending {
				state = "pending"
			}
			required := "yes"
			if !st.Required {
				required = "no"
			}
			for i, a := range st.Artifacts {
				size, modified := "-", "missing"
				if a.Exists {
					size = humanize.Bytes(uint64(a.Size))
					modified = humanize.Time(a.ModTime)
				}
				step, stateCol, reqCol := st.Step, state, required
				if i > 0 {
					step, stateCol, reqCol = "", "", ""
				}
				fmt.Fprintf(w, "%-14s %-8s %-9s %-10s %-16s %s\n", step, stateCol, reqCol, size, modified, a.Path)
			}
		}

		params, err := truncation.ReadParams(orch.ParamsPath())
		if err == nil {
			fmt.Fprintf(w, "\nTruncation: %s=%d %s=%d\n",
				truncation.KeyForwardTruncLen, params.ForwardTruncLen,
				truncation.KeyReverseTruncLen, params.ReverseTruncLen)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("format", "", "output format (json)")
	statusCmd.Flags().Bool("strict", false, "compare artifact fingerprints as well as existence")
}
