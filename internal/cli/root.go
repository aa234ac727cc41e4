package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/ampliflow/internal/config"
	"github.com/lucasnoah/ampliflow/internal/db"
	"github.com/lucasnoah/ampliflow/internal/logging"
	"github.com/lucasnoah/ampliflow/internal/orchestrator"
	"github.com/lucasnoah/ampliflow/internal/tool"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	flagConfig    string
	flagDB        string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger = logging.Discard()
)

var rootCmd = &cobra.Command{
	Use:   "ampliflow",
	Short: "ampliflow: checkpointed amplicon sequencing pipelines",
	Long: `ampliflow runs amplicon sequencing preparation pipelines as an ordered list
of external tool invocations. Each step is skipped when its artifacts already
exist, so an interrupted run resumes where it stopped.

Read truncation lengths for denoising are estimated from per-sample quality
reports and written to trunc_params.txt under the output root.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := flagLogLevel
		if flagDebug {
			level = "debug"
		}
		logger = logging.NewLoggerWithWriter(logging.ParseLevel(level), flagLogFormat, cmd.ErrOrStderr())
	},
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to pipeline config file (default ./pipeline.yaml, then ~/.ampliflow/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "run ledger database (default <output_root>/.ampliflow/ledger.db)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "log format (text, json)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
}

func loadConfig() (*config.PipelineConfig, error) {
	if flagConfig != "" {
		return config.Load(flagConfig)
	}
	return config.LoadDefault()
}

// loadValidConfig loads the config and refuses to continue when it has
// validation errors.
func loadValidConfig() (*config.PipelineConfig, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config %s: %v (run 'ampliflow config validate' for details)", cfg.Path, errs[0])
	}
	return cfg, nil
}

func ledgerPath(cfg *config.PipelineConfig) string {
	switch {
	case flagDB != "":
		return flagDB
	case cfg != nil && cfg.Pipeline.Ledger != "":
		return cfg.Pipeline.Ledger
	case cfg != nil:
		return db.DefaultPath(cfg.Pipeline.OutputRoot)
	}
	return ""
}

// openLedger opens and migrates the run ledger.
func openLedger(cfg *config.PipelineConfig) (*db.DB, error) {
	path := ledgerPath(cfg)
	if path == "" {
		return nil, fmt.Errorf("no ledger location: pass --db or a config")
	}
	d, err := db.Open(path, logger)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// newOrchestrator wires an Orchestrator for cfg. The cleanup function closes
// the ledger when one was opened.
func newOrchestrator(cfg *config.PipelineConfig, withLedger bool) (*orchestrator.Orchestrator, func(), error) {
	var ledger *db.DB
	cleanup := func() {}
	if withLedger {
		d, err := openLedger(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open ledger: %w", err)
		}
		ledger = d
		cleanup = func() { d.Close() }
	}
	runner := tool.NewRunner(&tool.ExecRunner{}, logger)
	return orchestrator.NewOrchestrator(cfg, runner, ledger, logger), cleanup, nil
}

// signalContext is cancelled on SIGINT or SIGTERM so the running external
// command is stopped and no further steps start.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
