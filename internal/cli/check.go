package cli

import (
	"fmt"
	"io"

	"github.com/agenthands/canon/internal/store"
	"github.com/spf13/cobra"
)

type CountriesResult struct {
	Countries []string            `json:"countries" yaml:"countries"`
	Sets      map[string][]string `json:"sets,omitempty" yaml:"sets,omitempty"`
}

func NewCountriesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "countries",
		Short: "List countries with eligible events and the configured country sets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer e.close(ctx)

			countries, err := e.store.ListCountries(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list countries", err)
			}
			res := CountriesResult{Countries: countries, Sets: e.cfg.Countries.Sets}
			if res.Countries == nil {
				res.Countries = []string{}
			}

			f := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return f.Write(res, func(w io.Writer) {
				if len(countries) == 0 {
					fmt.Fprintln(w, gray("no eligible events"))
				}
				for _, c := range countries {
					fmt.Fprintln(w, c)
				}
				for name, set := range res.Sets {
					fmt.Fprintf(w, "%s %s: %v\n", bold("set"), name, set)
				}
			})
		},
	}
}

type CheckResult struct {
	Events     int               `json:"events" yaml:"events"`
	Violations []store.Violation `json:"violations" yaml:"violations"`
}

func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify that no master pointer breaks the one-level hierarchy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer e.close(ctx)

			events, err := e.store.AllEvents(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load events", err)
			}
			res := CheckResult{Events: len(events), Violations: store.CheckInvariants(events)}
			if res.Violations == nil {
				res.Violations = []store.Violation{}
			}

			f := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			err = f.Write(res, func(w io.Writer) {
				if len(res.Violations) == 0 {
					fmt.Fprintf(w, "%s %d events, hierarchy is consistent\n", green("ok"), res.Events)
					return
				}
				for _, v := range res.Violations {
					fmt.Fprintf(w, "%s %s\n", red("violation"), v)
				}
			})
			if err != nil {
				return err
			}
			if len(res.Violations) > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d hierarchy violations", len(res.Violations)))
			}
			return nil
		},
	}
}
