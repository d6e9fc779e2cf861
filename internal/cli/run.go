package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/agenthands/canon/internal/bootstrap"
	"github.com/agenthands/canon/internal/core"
	"github.com/spf13/cobra"
)

type RunOptions struct {
	Countries []string
	Set       string
	All       bool
	DryRun    bool
}

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one consolidation pass",
		Long: `Run one consolidation pass over the selected countries.

Without --country, --set or --all the [countries] default list from the config is used,
or every country with eligible events when none is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runConsolidation(ctx, rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Countries, "country", nil, "country code to consolidate (repeatable)")
	cmd.Flags().StringVar(&opts.Set, "set", "", "named country set from the config")
	cmd.Flags().BoolVar(&opts.All, "all", false, "every country with eligible events")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "plan and log mutations without writing")

	return cmd
}

func runConsolidation(ctx context.Context, rootOpts *RootOptions, opts *RunOptions, cmd *cobra.Command) error {
	e, err := rootOpts.open(ctx)
	if err != nil {
		return err
	}
	defer e.close(context.Background())

	c, err := bootstrap.NewConsolidator(ctx, e.cfg, e.store, e.logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build consolidator", err)
	}

	report, err := c.Run(ctx, core.RunOptions{
		Selector: core.CountrySelector{Countries: opts.Countries, Set: opts.Set, All: opts.All},
		DryRun:   opts.DryRun || e.cfg.Consolidation.DryRun,
	})
	if report != nil {
		f := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
		if werr := f.Write(report, func(w io.Writer) { WriteReport(w, report) }); werr != nil {
			return werr
		}
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "consolidation run failed", err)
	}
	if report.Partial() {
		return NewExitError(ExitFailure, fmt.Sprintf("run %s finished with %d skipped", report.RunID, len(report.Errors)))
	}
	return nil
}

// WriteReport renders a run report as a table per country.
func WriteReport(w io.Writer, r *core.Report) {
	mode := green("applied")
	if r.DryRun {
		mode = yellow("dry run")
	}
	fmt.Fprintf(w, "%s %s (%s)\n", bold("Run"), r.RunID, mode)
	fmt.Fprintf(w, "%s\n\n", gray(fmt.Sprintf("%s, took %s",
		r.StartedAt.Format("2006-01-02 15:04:05"), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COUNTRY\tELIGIBLE\tGROUPS\tCONFIRMED\tMERGED\tRENAMED\tSPLIT\tREJECTED\tSKIPPED\tFALLBACKS\tWRITES")
	rows := append(append([]core.CountryStats(nil), r.Countries...), r.Totals())
	for _, c := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			c.Country, c.Eligible, c.GroupsFound, c.Confirmed, c.Merged, c.Renamed, c.Split,
			c.Rejected, c.Skipped, c.OracleFallbacks, c.Writes)
	}
	tw.Flush()

	if len(r.Plans) > 0 && r.DryRun {
		fmt.Fprintf(w, "\n%s\n", bold("Planned mutations"))
		for _, p := range r.Plans {
			fmt.Fprintf(w, "  [%s] %s: %s\n", p.Country, p.Intent.Kind, p.String())
		}
	}
	if len(r.Errors) > 0 {
		fmt.Fprintf(w, "\n%s\n", red("Skipped"))
		for _, e := range r.Errors {
			group := e.Group
			if group == "" {
				group = "-"
			}
			fmt.Fprintf(w, "  [%s] %s: %s\n", e.Country, group, e.Error)
		}
	}
	fmt.Fprintf(w, "\n%s\n", r.Summary())
}
