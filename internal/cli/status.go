package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perchlabs/fieldtrial/experiment"
)

// ExperimentStatus summarizes one applied experiment.
type ExperimentStatus struct {
	Slug     string `json:"slug"`
	Name     string `json:"name,omitempty"`
	Enrolled bool   `json:"enrolled"`
	Branch   string `json:"branch,omitempty"`
}

// StatusData is the JSON payload for the status command.
type StatusData struct {
	Participating bool                            `json:"participating"`
	Experiments   []ExperimentStatus              `json:"experiments"`
	Active        []experiment.EnrolledExperiment `json:"active"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show participation and enrollment state",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	client, err := openClient(cmd, opts)
	if err != nil {
		return err
	}
	defer client.Close()

	participating, err := client.GlobalUserParticipation()
	if err != nil {
		return commandError(out, opts.Format, err)
	}
	applied, err := client.Experiments()
	if err != nil {
		return commandError(out, opts.Format, err)
	}
	active, err := client.ActiveExperiments()
	if err != nil {
		return commandError(out, opts.Format, err)
	}

	data := StatusData{
		Participating: participating,
		Experiments:   make([]ExperimentStatus, 0, len(applied)),
		Active:        active,
	}
	for _, exp := range applied {
		status := ExperimentStatus{Slug: exp.Slug, Name: exp.UserFacingName}
		if branch, err := client.ExperimentBranch(exp.Slug); err == nil && branch != "" {
			status.Enrolled = true
			status.Branch = branch
		}
		data.Experiments = append(data.Experiments, status)
	}

	if opts.Format == "json" {
		if data.Active == nil {
			data.Active = []experiment.EnrolledExperiment{}
		}
		return outputJSON(out, data)
	}

	state := "enabled"
	if !data.Participating {
		state = "disabled"
	}
	fmt.Fprintf(out, "Global participation: %s\n", state)

	if len(data.Experiments) == 0 {
		fmt.Fprintln(out, "No experiments applied.")
		return nil
	}
	fmt.Fprintf(out, "Experiments (%d):\n", len(data.Experiments))
	for _, status := range data.Experiments {
		if status.Enrolled {
			fmt.Fprintf(out, "  %s: enrolled in %s\n", status.Slug, status.Branch)
		} else {
			fmt.Fprintf(out, "  %s: not enrolled\n", status.Slug)
		}
	}
	return nil
}
