package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewSetLocalCommand creates the set-local command.
func NewSetLocalCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-local <catalog-file>",
		Short: "Stage a catalog from a local JSON file",
		Long: `Stage an experiment catalog from a local JSON file.

The file holds the same payload the server would return, an object with
a "data" list of experiments. Staging touches no enrollments; run apply
to evolve them.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetLocal(rootOpts, args[0], cmd)
		},
	}
}

func runSetLocal(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	payload, err := os.ReadFile(path)
	if err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("failed to read catalog file: %v", err))
	}

	client, err := openClient(cmd, opts)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.SetExperimentsLocally(cmd.Context(), payload); err != nil {
		return commandError(out, opts.Format, err)
	}

	if opts.Format == "json" {
		return outputJSON(out, stagedData{Staged: true})
	}
	fmt.Fprintf(out, "Catalog staged from %s. Run apply to evolve enrollments.\n", path)
	return nil
}
