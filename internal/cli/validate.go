package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/perchlabs/fieldtrial/internal/schema"
)

// ValidationResult holds catalog validation results.
type ValidationResult struct {
	Valid       bool                     `json:"valid"`
	Experiments int                      `json:"experiments"`
	Errors      []schema.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <catalog-file>",
		Short: "Validate a catalog file without staging it",
		Long: `Validate a catalog JSON file against the schema without staging it.

Checks the payload shape, schema versions, branch ratios and bucket
windows. The database is not touched.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	payload, err := os.ReadFile(path)
	if err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("failed to read catalog file: %v", err))
	}

	experiments, err := schema.Decode(payload)
	if err != nil {
		var invalid *schema.InvalidPayloadError
		if errors.As(err, &invalid) {
			return outputValidationErrors(out, opts.Format, invalid.Errors)
		}
		return commandError(out, opts.Format, err)
	}

	if opts.Format == "json" {
		return outputJSON(out, ValidationResult{Valid: true, Experiments: len(experiments)})
	}
	fmt.Fprintf(out, "✓ Catalog valid (%d experiment(s))\n", len(experiments))
	return nil
}

// outputValidationErrors renders a rejected catalog in the selected
// format. Validation failures exit 1, unlike command errors.
func outputValidationErrors(w io.Writer, format string, errs []schema.ValidationError) error {
	if format == "json" {
		_ = writeJSON(w, CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error:  &CLIError{Code: errs[0].Code, Message: errs[0].Message},
		})
	} else {
		fmt.Fprintln(w, "✗ Validation failed")
		for _, verr := range errs {
			fmt.Fprintf(w, "  %s: %s: %s\n", verr.Code, verr.Field, verr.Message)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
