package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"smart-reconciliation-service/pkg/errors"
	"smart-reconciliation-service/pkg/logger"
)

// CLIErrorHandler prints errors for people and maps them to exit codes.
type CLIErrorHandler struct {
	out     io.Writer
	logger  logger.Logger
	verbose bool
	label   *color.Color
}

// NewCLIErrorHandler creates a handler writing to stderr.
func NewCLIErrorHandler() *CLIErrorHandler {
	return newCLIErrorHandler(os.Stderr, verbose)
}

func newCLIErrorHandler(out io.Writer, verbose bool) *CLIErrorHandler {
	return &CLIErrorHandler{
		out:     out,
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: verbose,
		label:   color.New(color.FgRed, color.Bold),
	}
}

// HandleError prints err and returns the process exit code: 0 without an
// error, the category code for application errors and 1 otherwise.
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}
	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	h.printError(err.Message)

	if len(err.Context) > 0 {
		fmt.Fprintf(h.out, "\nContext:\n")
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", categoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case os.IsNotExist(err):
		h.printError("File not found")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	case os.IsPermission(err):
		h.printError("Permission denied")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	case isDiskFullError(err):
		h.printError("Insufficient disk space")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	h.printError(err.Error())
	fmt.Fprintf(h.out, "Run 'reconciler --help' for usage.\n")
	return 1
}

func (h *CLIErrorHandler) printError(msg string) {
	fmt.Fprintf(h.out, "%s %s\n", h.label.Sprint("Error:"), msg)
}

func categoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check that the file exists and is readable
• Verify the path (use absolute paths if needed)
• Check that the output directory is writable`

	case errors.CategorySchema:
		return `Schema error help:
• The bank file needs date and amount columns (date_bank/date, amount_bank/amount)
• The ledger file needs date and amount columns (date_ledger/date, amount_ledger/amount)
• Check that the first row is a header row and the file is not empty`

	case errors.CategoryParse:
		return errors.SuggestionsForCommonErrors()

	case errors.CategoryModel:
		return `Model error help:
• Retrain the model with 'reconciler train'
• Run with --rules-only to skip the model`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and arguments
• Verify configuration file syntax if using --config
• Use 'reconciler reconcile --help' to see all available options`

	case errors.CategoryReconciliation:
		return `Reconciliation error help:
• Check data quality in your input files
• Try adjusting --tolerance and --window`

	default:
		return `For more help:
• Use 'reconciler --help' for general help
• Run again with --verbose for details`
	}
}

func isDiskFullError(err error) bool {
	if err == syscall.ENOSPC {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no space left") ||
		strings.Contains(msg, "disk full") ||
		strings.Contains(msg, "device full")
}
