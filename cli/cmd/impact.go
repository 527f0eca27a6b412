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

type impactOptions struct {
	sliType      string
	current      float64
	proposed     float64
	lookbackDays int
	maxDepth     int
}

func newCmdImpact() *cobra.Command {
	options := impactOptions{}

	cmd := &cobra.Command{
		Use:   "impact SERVICE",
		Short: "Project the upstream impact of changing a service's availability target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"proposed_target_pct": options.proposed,
			}
			if options.sliType != "" {
				body["sli_type"] = options.sliType
			}
			if options.current != 0 {
				body["current_target_pct"] = options.current
			}
			if options.lookbackDays != 0 {
				body["lookback_days"] = options.lookbackDays
			}
			if options.maxDepth != 0 {
				body["max_depth"] = options.maxDepth
			}

			var report analysis.ImpactReport
			path := fmt.Sprintf("/api/v1/services/%s/impact", url.PathEscape(args[0]))
			if err := apiRequest(http.MethodPost, path, body, &report); err != nil {
				return err
			}

			fmt.Printf("%s: %.4f%% -> %.4f%%\n", report.ServiceID, report.CurrentTargetPct, report.ProposedTargetPct)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "CONSUMER\tDEPTH\tCURRENT\tPROJECTED\tDELTA\tSLO AT RISK")
			for _, row := range report.Impacted {
				atRisk := ""
				if row.SLOAtRisk {
					atRisk = color.RedString("yes (%.4f%%)", *row.SLOTargetPct)
				}
				fmt.Fprintf(w, "%s\t%d\t%.4f%%\t%.4f%%\t%+.4f\t%s\n",
					row.ServiceID, row.Depth, row.CurrentCompositePct,
					row.ProjectedCompositePct, row.DeltaPct, atRisk)
			}
			w.Flush()

			fmt.Printf("\n%d services impacted, %d SLOs at risk\n",
				report.Summary.ImpactedServices, report.Summary.SLOsAtRisk)
			if report.Summary.SLOsAtRisk > 0 {
				color.Red(report.Summary.Recommendation)
			} else {
				fmt.Println(report.Summary.Recommendation)
			}
			for _, note := range report.QualitativeNotes {
				fmt.Printf("note: %s\n", note)
			}
			return nil
		},
	}

	cmd.PersistentFlags().Float64Var(&options.proposed, "proposed", 0, "Proposed availability target in percent (required)")
	cmd.PersistentFlags().Float64Var(&options.current, "current", 0, "Current availability target in percent; defaults to the active SLO")
	cmd.PersistentFlags().StringVar(&options.sliType, "sli", "", "SLI the change applies to: availability or latency")
	cmd.PersistentFlags().IntVar(&options.lookbackDays, "lookback-days", 0, "Telemetry lookback window in days")
	cmd.PersistentFlags().IntVar(&options.maxDepth, "max-depth", 0, "Upstream traversal depth limit")
	cmd.MarkPersistentFlagRequired("proposed")

	return cmd
}
