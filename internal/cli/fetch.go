package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// stagedData is the JSON payload for commands that stage a catalog.
type stagedData struct {
	Staged bool `json:"staged"`
}

// NewFetchCommand creates the fetch command.
func NewFetchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the remote catalog and stage it",
		Long: `Fetch the experiment catalog from the configured server and stage it.

Staging touches no enrollments; run apply to evolve them against the
staged catalog. Requires a server section in the config file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(rootOpts, cmd)
		},
	}
}

func runFetch(opts *RootOptions, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	client, err := openClient(cmd, opts)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.FetchExperiments(cmd.Context()); err != nil {
		return commandError(out, opts.Format, err)
	}

	if opts.Format == "json" {
		return outputJSON(out, stagedData{Staged: true})
	}
	fmt.Fprintln(out, "Catalog staged. Run apply to evolve enrollments.")
	return nil
}
