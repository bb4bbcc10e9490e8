package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"ledger-reconciler/cmd/reconciler/config"
	"ledger-reconciler/internal/engine"
	"ledger-reconciler/internal/parsers"
	"ledger-reconciler/internal/records"
	"ledger-reconciler/internal/reporter"
	"ledger-reconciler/internal/runlog"
	"ledger-reconciler/internal/settings"
	"ledger-reconciler/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the reconcile command
var (
	ownFile          string
	counterpartyFile string
	settingsFile     string
	outputFormat     string
	outputFile       string
	partialThreshold float64
	noAggregation    bool
	scoringWorkers   int
	timeout          time.Duration
	runLogPath       string
	operator         string
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile a ledger export against a counterparty statement",
	Long: `Reconcile compares the organization's own ledger export with a
counterparty statement and classifies every row on both sides as matched,
partially matched, or missing from the other side.

This command requires:
- The own-side ledger export (CSV format)
- The counterparty statement (CSV format)

Matching behavior comes from a settings document (--settings); without one,
the built-in field set (reference, amount, date) is used.

Examples:
  # Basic reconciliation with the built-in field set
  reconciler reconcile --own-file ledger.csv --counterparty-file statement.csv

  # Custom settings with JSON output to a file
  reconciler reconcile -l ledger.csv -c statement.csv \
    --settings matching.json --output-format json --output-file report.json

  # Record the run summary in a run log
  reconciler reconcile -l ledger.csv -c statement.csv \
    --run-log runs.db --operator "jane"`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	// Required flags
	reconcileCmd.Flags().StringVarP(&ownFile, "own-file", "l", "", "path to the own ledger export CSV (required)")
	reconcileCmd.Flags().StringVarP(&counterpartyFile, "counterparty-file", "c", "", "path to the counterparty statement CSV (required)")

	// Settings flags
	reconcileCmd.Flags().StringVarP(&settingsFile, "settings", "s", "", "path to the matching settings JSON document")
	reconcileCmd.Flags().Float64VarP(&partialThreshold, "partial-threshold", "p", -1, "partial-match score threshold override (0.0-1.0)")
	reconcileCmd.Flags().BoolVar(&noAggregation, "no-aggregation", false, "disable split-record aggregation even if the settings enable it")
	reconcileCmd.Flags().IntVar(&scoringWorkers, "scoring-workers", 0, "concurrent candidate scoring workers (0 = sequential)")
	reconcileCmd.Flags().DurationVar(&timeout, "timeout", 0, "overall deadline for the run (0 = none)")

	// Output flags
	reconcileCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	reconcileCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")

	// Run log flags
	reconcileCmd.Flags().StringVar(&runLogPath, "run-log", "", "path to a SQLite run log; records the run summary when set")
	reconcileCmd.Flags().StringVar(&operator, "operator", "", "operator identity recorded in the run log")

	reconcileCmd.MarkFlagRequired("own-file")
	reconcileCmd.MarkFlagRequired("counterparty-file")

	viper.BindPFlag("own-file", reconcileCmd.Flags().Lookup("own-file"))
	viper.BindPFlag("counterparty-file", reconcileCmd.Flags().Lookup("counterparty-file"))
	viper.BindPFlag("settings", reconcileCmd.Flags().Lookup("settings"))
	viper.BindPFlag("output-format", reconcileCmd.Flags().Lookup("output-format"))
	viper.BindPFlag("output-file", reconcileCmd.Flags().Lookup("output-file"))
	viper.BindPFlag("run-log", reconcileCmd.Flags().Lookup("run-log"))
	viper.BindPFlag("operator", reconcileCmd.Flags().Lookup("operator"))
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	// Allow overrides from config file and environment.
	ownFile = viper.GetString("own-file")
	counterpartyFile = viper.GetString("counterparty-file")
	if settingsFile == "" {
		settingsFile = viper.GetString("settings")
	}
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")
	if runLogPath == "" {
		runLogPath = viper.GetString("run-log")
	}
	if operator == "" {
		operator = viper.GetString("operator")
	}

	if ownFile == "" {
		return fmt.Errorf("own-file is required")
	}
	if counterpartyFile == "" {
		return fmt.Errorf("counterparty-file is required")
	}
	if !reporter.OutputFormat(outputFormat).IsValid() {
		return fmt.Errorf("invalid output format %q: must be console, json, or csv", outputFormat)
	}
	if partialThreshold > 1 {
		return fmt.Errorf("partial-threshold must be between 0.0 and 1.0")
	}
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	handler := NewCLIErrorHandler()

	exitCode, err := executeReconcile()
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}

func executeReconcile() (int, error) {
	set, err := config.BuildSettings(settingsFile, config.Overrides{
		PartialThreshold:   partialThreshold,
		DisableAggregation: noAggregation,
	})
	if err != nil {
		return 0, err
	}

	ownRows, err := parsers.LoadFile(ownFile, records.SourceOwn, parsers.DefaultCSVConfig())
	if err != nil {
		return 0, err
	}
	counterpartyRows, err := parsers.LoadFile(counterpartyFile, records.SourceCounterparty, parsers.DefaultCSVConfig())
	if err != nil {
		return 0, err
	}

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	eng, err := engine.New(set)
	if err != nil {
		return 0, err
	}
	eng.ScoringWorkers = scoringWorkers

	result, diags, err := eng.Run(ctx, ownRows, counterpartyRows)
	if err != nil {
		return 0, err
	}

	if runLogPath != "" {
		if err := recordRun(ctx, set, result); err != nil {
			return 0, err
		}
	}

	if err := writeReport(result, diags); err != nil {
		return 0, err
	}

	return 0, nil
}

func recordRun(ctx context.Context, set *settings.Settings, result *records.Result) error {
	store, err := runlog.Open(runLogPath)
	if err != nil {
		return err
	}
	defer store.Close()

	entry, err := store.Append(ctx, operator, set, result.Summary)
	if err != nil {
		return err
	}

	logger.WithComponent("cli").WithField("run_id", entry.ID).Info("run recorded")
	return nil
}

func writeReport(result *records.Result, diags *engine.RunDiagnostics) error {
	reportConfig := config.CreateReportConfig(outputFormat)
	rep, err := reporter.New(reportConfig)
	if err != nil {
		return err
	}

	out := os.Stdout
	if outputFile != "" {
		file, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("cannot create output file: %w", err)
		}
		defer file.Close()
		out = file
	}

	return rep.Write(out, result, diags)
}
