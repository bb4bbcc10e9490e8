package cmd

import (
	"fmt"
	"os"

	apperrors "ledger-reconciler/pkg/errors"
	"ledger-reconciler/pkg/logger"

	"github.com/spf13/viper"
)

// CLIErrorHandler turns application errors into operator-friendly messages
// and category-specific exit codes.
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler.
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.WithComponent("cli"),
		verbose: viper.GetBool("verbose"),
	}
}

// HandleError prints the error and returns the process exit code.
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Error("command failed")

	if appErr, ok := apperrors.AsError(err); ok {
		return h.handleAppError(appErr)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

func (h *CLIErrorHandler) handleAppError(err *apperrors.Error) int {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		fmt.Fprintf(os.Stderr, "\nContext:\n")
		for key, value := range err.Context {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", key, value)
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(os.Stderr, "\n%s\n", categoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(os.Stderr, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.ExitCode()
}

func categoryHelp(category apperrors.Category) string {
	switch category {
	case apperrors.CategoryConfiguration:
		return "The matching settings document is invalid; no reconciliation was attempted."
	case apperrors.CategoryFile:
		return "An input file could not be read; check the paths passed via flags."
	case apperrors.CategoryParse:
		return "An input file could not be parsed as CSV; check delimiter and header settings."
	case apperrors.CategoryStorage:
		return "The run log could not be accessed; the reconciliation itself may have completed."
	case apperrors.CategoryReconciliation:
		return "The run was aborted; partial results are never reported."
	default:
		return "Run with --verbose for more detail."
	}
}
