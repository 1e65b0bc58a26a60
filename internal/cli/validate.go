package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <scenario.yaml>",
		Short: "Check rules, destinations and resources in a scenario",
		Long: `Decodes every routing rule and validates every destination and
resource without running any workflow. Exits 1 when problems are found.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

type validateReport struct {
	Rules        int       `json:"rules"`
	Destinations int       `json:"destinations"`
	Problems     []Problem `json:"problems"`
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	scenario, err := LoadScenario(path)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "load scenario", err))
	}

	report := validateReport{
		Destinations: len(scenario.Destinations),
		Problems:     scenario.Check(),
	}
	for _, ev := range scenario.Events {
		report.Rules += len(ev.Rules)
	}
	f.VerboseLog("checked %d rules and %d destinations in %s", report.Rules, report.Destinations, path)

	errs := 0
	for _, p := range report.Problems {
		if !p.Warning {
			errs++
		}
	}

	status := "ok"
	if errs > 0 {
		status = "error"
	}
	err = f.Result(status, report, func(w io.Writer) {
		for _, p := range report.Problems {
			mark := "✗"
			if p.Warning {
				mark = "!"
			}
			fmt.Fprintf(w, "%s %s: %s\n", mark, p.Where, p.Message)
		}
		if errs == 0 {
			fmt.Fprintf(w, "✓ scenario valid (%d rules, %d destinations)\n", report.Rules, report.Destinations)
		}
	})
	if err != nil {
		return err
	}
	if errs > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d problem(s) found", errs))
	}
	return nil
}
