package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"ledger-reconciler/internal/runlog"

	"github.com/spf13/cobra"
)

var (
	runsLogPath string
	runsLimit   int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded reconciliation runs",
	Long: `Runs lists the reconciliation runs recorded in a run log, newest first,
with their operator and summary counts.`,
	RunE: runRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().StringVar(&runsLogPath, "run-log", "", "path to the SQLite run log (required)")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum number of runs to list")
	runsCmd.MarkFlagRequired("run-log")
}

func runRuns(cmd *cobra.Command, args []string) error {
	handler := NewCLIErrorHandler()

	store, err := runlog.Open(runsLogPath)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	defer store.Close()

	entries, err := store.List(context.Background(), runsLimit)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	if len(entries) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN AT\tOPERATOR\tMATCHED\tPARTIAL\tMISSING CP\tMISSING OWN\tAMOUNT DIFF\tID")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			e.RunAt.Format(time.RFC3339),
			e.Operator,
			e.Summary.Matched,
			e.Summary.PartialMatch,
			e.Summary.MissingInCounterparty,
			e.Summary.MissingInOwn,
			e.Summary.TotalAmountDifference.String(),
			e.ID,
		)
	}
	return w.Flush()
}
