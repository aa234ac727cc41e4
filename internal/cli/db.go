package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Run ledger management",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger(optionalConfig())
		if err != nil {
			return err
		}
		defer ledger.Close()
		cmd.Printf("Ledger %s is up to date.\n", ledger.Path())
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all recorded runs (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("refusing to reset the ledger without --yes")
		}
		ledger, err := openLedger(optionalConfig())
		if err != nil {
			return err
		}
		defer ledger.Close()
		if err := ledger.Reset(); err != nil {
			return err
		}
		cmd.Printf("Ledger %s reset.\n", ledger.Path())
		return nil
	},
}

func init() {
	dbResetCmd.Flags().Bool("yes", false, "confirm the reset")
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
}
