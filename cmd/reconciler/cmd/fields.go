package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"ledger-reconciler/cmd/reconciler/config"
	"ledger-reconciler/internal/settings"

	"github.com/spf13/cobra"
)

var fieldsSettingsFile string

var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "Show the effective matching field configuration",
	Long: `Fields prints the matching fields, their rules, and the column mappings
that a reconciliation would use, either from a settings document or from
the built-in defaults.`,
	RunE: runFields,
}

func init() {
	rootCmd.AddCommand(fieldsCmd)
	fieldsCmd.Flags().StringVarP(&fieldsSettingsFile, "settings", "s", "", "path to the matching settings JSON document")
}

func runFields(cmd *cobra.Command, args []string) error {
	handler := NewCLIErrorHandler()

	set, err := config.BuildSettings(fieldsSettingsFile, config.Overrides{PartialThreshold: -1})
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL\tTYPE\tRULE\tENABLED\tOWN COLUMN\tCOUNTERPARTY COLUMN")
	for _, f := range set.Fields {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\t%s\n",
			f.ID, f.Label, f.DataType, describeRule(f.Rule), f.Enabled,
			set.Mappings.Own[f.ID], set.Mappings.Counterparty[f.ID])
	}
	w.Flush()

	fmt.Printf("\nPartial-match threshold: %.2f\n", set.PartialThreshold)
	if set.Aggregation.Enabled {
		fmt.Printf("Aggregation: group counterparty rows by %q, summing %q\n",
			set.Aggregation.KeyFieldID, set.Aggregation.ValueFieldID)
	} else {
		fmt.Println("Aggregation: disabled")
	}

	return nil
}

func describeRule(r settings.Rule) string {
	switch r.Kind {
	case settings.RuleFuzzy:
		return fmt.Sprintf("fuzzy(%.0f)", r.Tolerance)
	case settings.RuleNumericDiff:
		return fmt.Sprintf("numeric_diff(%s)", r.MaxDiff)
	default:
		return string(r.Kind)
	}
}
