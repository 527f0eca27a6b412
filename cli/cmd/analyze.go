package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sloscope/sloscope/controller/analysis"
)

type analyzeOptions struct {
	target       float64
	lookbackDays int
	maxDepth     int
}

func (o *analyzeOptions) query() url.Values {
	query := url.Values{}
	if o.target != 0 {
		query.Set("desired_target", fmt.Sprintf("%g", o.target))
	}
	if o.lookbackDays != 0 {
		query.Set("lookback_days", fmt.Sprintf("%d", o.lookbackDays))
	}
	if o.maxDepth != 0 {
		query.Set("max_depth", fmt.Sprintf("%d", o.maxDepth))
	}
	return query
}

func bindAnalyzeFlags(cmd *cobra.Command, options *analyzeOptions) {
	cmd.PersistentFlags().Float64Var(&options.target, "target", 0, "Desired availability target in percent; defaults to the active SLO")
	cmd.PersistentFlags().IntVar(&options.lookbackDays, "lookback-days", 0, "Telemetry lookback window in days")
	cmd.PersistentFlags().IntVar(&options.maxDepth, "max-depth", 0, "Maximum dependency depth to consider")
}

func newCmdAnalyze() *cobra.Command {
	options := analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze SERVICE",
		Short: "Analyze the availability constraints on a service",
		Long: `Analyze the availability constraints on a service.

Computes the composite availability bound imposed by hard synchronous
dependencies and checks it against the availability target.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var report analysis.ConstraintReport
			path := fmt.Sprintf("/api/v1/services/%s/constraints?%s",
				url.PathEscape(args[0]), options.query().Encode())
			if err := apiRequest(http.MethodGet, path, nil, &report); err != nil {
				return err
			}
			printConstraintReport(&report)
			return nil
		},
	}

	bindAnalyzeFlags(cmd, &options)
	return cmd
}

func printConstraintReport(report *analysis.ConstraintReport) {
	fmt.Printf("service %s, target %.4f%% (%s)\n", report.ServiceID, report.TargetPct, report.TargetSource)
	fmt.Printf("composite bound: %.4f%% over %d hard dependencies (%d external, %d total)\n",
		report.Composite.BoundPct, report.HardDependencyCount,
		report.ExternalDependencies, report.TotalDependencies)

	if report.Achievable {
		color.Green("target is achievable")
	} else {
		color.Red("target is NOT achievable")
		if report.Warning != nil {
			fmt.Printf("  gap: %.4f percentage points\n", report.Warning.GapPct)
			fmt.Printf("  each hard dependency would need >= %.4f%%\n", report.Warning.RequiredPerDependencyPct)
			for _, r := range report.Warning.Remediation {
				fmt.Printf("  - %s\n", r)
			}
		}
	}

	if len(report.Dependencies) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "DEPENDENCY\tAVAILABILITY\tNOTE")
		for _, d := range report.Dependencies {
			note := d.Note
			if d.Substituted {
				note = "no telemetry; default substituted"
			}
			fmt.Fprintf(w, "%s\t%.4f%%\t%s\n", d.ServiceID, d.Availability*100, note)
		}
		w.Flush()
	}

	for _, scc := range report.SCCSupernodes {
		color.Yellow("service participates in a dependency cycle: %v", scc)
	}
	for _, note := range report.Composite.Notes {
		fmt.Printf("note: %s\n", note)
	}
}
