// Package config builds the engine and report configurations the CLI
// passes into the library packages, applying flag-level overrides on top
// of a loaded settings document.
package config

import (
	"ledger-reconciler/internal/reporter"
	"ledger-reconciler/internal/settings"
)

// Overrides carries run-specific flag overrides applied on top of the
// settings document.
type Overrides struct {
	// PartialThreshold replaces the document's threshold when in [0, 1];
	// negative values leave the document untouched.
	PartialThreshold float64

	// DisableAggregation turns split-record aggregation off for this run.
	DisableAggregation bool
}

// BuildSettings loads the settings document (or the built-in defaults when
// path is empty), applies overrides, and validates the result.
func BuildSettings(path string, overrides Overrides) (*settings.Settings, error) {
	var set *settings.Settings
	if path == "" {
		set = settings.DefaultSettings()
	} else {
		loaded, err := settings.Load(path)
		if err != nil {
			return nil, err
		}
		set = loaded
	}

	if overrides.PartialThreshold >= 0 && overrides.PartialThreshold <= 1 {
		set.PartialThreshold = overrides.PartialThreshold
	}
	if overrides.DisableAggregation {
		set.Aggregation.Enabled = false
	}

	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// CreateReportConfig builds a report configuration for the requested
// output format.
func CreateReportConfig(format string) *reporter.Config {
	config := reporter.DefaultConfig()

	switch reporter.OutputFormat(format) {
	case reporter.FormatJSON:
		config.Format = reporter.FormatJSON
	case reporter.FormatCSV:
		config.Format = reporter.FormatCSV
		config.CSVHeaders = true
		config.CSVDelimiter = ','
	default:
		config.Format = reporter.FormatConsole
		config.IncludeFieldBreakdown = true
	}

	return config
}
