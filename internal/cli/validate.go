package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/cellflow/internal/notebook"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool                  `json:"valid"`
	Notebook    string                `json:"notebook"`
	Cells       int                   `json:"cells"`
	Imports     int                   `json:"imports"`
	Components  int                   `json:"components"`
	Diagnostics []notebook.Diagnostic `json:"diagnostics,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <notebook>",
		Short: "Check a notebook without running it",
		Long: `Check a notebook's dependency graph without evaluating any cell.

Reports cells that do not parse, names that resolve to nothing, names
bound more than once in a module and cells that depend on themselves.
Diagnostics are grouped by connected component of the graph.

Exit codes:
  0 - No diagnostics
  1 - One or more diagnostics
  2 - Command error (notebook missing or unreadable)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	nb, err := LoadNotebook(path)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeLoadFailed, err)
	}
	formatter.VerboseLog("Loaded %d module(s) from %s", len(nb.Modules), path)

	report := nb.Check()
	result := ValidationResult{
		Valid:       report.OK(),
		Notebook:    path,
		Cells:       report.Cells,
		Imports:     report.Imports,
		Components:  report.Components,
		Diagnostics: report.Diagnostics,
	}

	if result.Valid {
		return outputValidateSuccess(formatter, result)
	}
	return outputValidationErrors(formatter, result)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ %s valid (%d cells, %d imports, %d components)\n",
		result.Notebook, result.Cells, result.Imports, result.Components)
	return nil
}

// outputValidationErrors outputs the diagnostics of a failed check.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	message := fmt.Sprintf("validation failed with %d diagnostic(s)", len(result.Diagnostics))

	if formatter.JSON() {
		if err := formatter.Failure(ErrCodeInvalid, message, result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, message)
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	writeDiagnostics(formatter.Writer, result.Diagnostics)
	return NewExitError(ExitFailure, message)
}

func writeDiagnostics(w io.Writer, diags []notebook.Diagnostic) {
	component := 0
	for _, d := range diags {
		if d.Component != component {
			component = d.Component
			fmt.Fprintf(w, "\ncomponent %d\n", component)
		}
		fmt.Fprintf(w, "  %s/%s %s: %s\n", d.Module, d.Cell, d.Code, d.Message)
	}
}
