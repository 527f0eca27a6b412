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

func newCmdBudget() *cobra.Command {
	options := analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "budget SERVICE",
		Short: "Show the monthly error-budget attribution for a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var budget analysis.BudgetReport
			path := fmt.Sprintf("/api/v1/services/%s/error-budget?%s",
				url.PathEscape(args[0]), options.query().Encode())
			if err := apiRequest(http.MethodGet, path, nil, &budget); err != nil {
				return err
			}

			fmt.Printf("target %.4f%%: %.1f minutes of monthly error budget\n",
				budget.TargetPct, budget.MonthlyBudgetMinutes)
			fmt.Printf("self consumption: %.1f%%\n", budget.SelfConsumptionPct)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "DEPENDENCY\tAVAILABILITY\tCONSUMPTION\tRISK")
			for _, d := range budget.Dependencies {
				fmt.Fprintf(w, "%s\t%.4f%%\t%.1f%%\t%s\n",
					d.ServiceID, d.Availability*100, d.ConsumptionPct, riskLabel(d.Risk))
			}
			w.Flush()

			fmt.Printf("\ntotal dependency consumption: %.1f%%\n", budget.TotalDependencyConsumptionPct)
			if len(budget.HighRiskDependencies) > 0 {
				color.Red("high-risk dependencies: %v", budget.HighRiskDependencies)
			}
			return nil
		},
	}

	bindAnalyzeFlags(cmd, &options)
	return cmd
}

func riskLabel(risk analysis.Risk) string {
	switch risk {
	case analysis.RiskHigh:
		return color.RedString(string(risk))
	case analysis.RiskModerate:
		return color.YellowString(string(risk))
	default:
		return string(risk)
	}
}
