package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sloscope/sloscope/controller/slo"
)

type sloOptions struct {
	tier             string
	actor            string
	rationale        string
	recommendationID string
	modifications    []string
}

func bindSLOFlags(cmd *cobra.Command, options *sloOptions) {
	cmd.PersistentFlags().StringVar(&options.tier, "tier", "", "Recommendation tier: conservative, balanced or aggressive (required)")
	cmd.PersistentFlags().StringVar(&options.actor, "actor", "", "Who is making this decision (required)")
	cmd.PersistentFlags().StringVar(&options.rationale, "rationale", "", "Free-form reasoning recorded in the audit log")
	cmd.PersistentFlags().StringVar(&options.recommendationID, "recommendation-id", "", "Identifier of the recommendation being acted on")
	cmd.MarkPersistentFlagRequired("tier")
	cmd.MarkPersistentFlagRequired("actor")
}

func newCmdSLO() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slo",
		Short: "Manage active SLOs and their audit history",
	}

	cmd.AddCommand(newCmdSLOTransition("accept", slo.ActionAccept,
		"Accept a recommendation tier as the active SLO"))
	cmd.AddCommand(newCmdSLOModify())
	cmd.AddCommand(newCmdSLOTransition("reject", slo.ActionReject,
		"Reject a recommendation, leaving the active SLO untouched"))
	cmd.AddCommand(newCmdSLOGet())
	cmd.AddCommand(newCmdSLOHistory())

	return cmd
}

func newCmdSLOTransition(use string, action slo.Action, short string) *cobra.Command {
	options := sloOptions{}

	cmd := &cobra.Command{
		Use:   use + " SERVICE",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return applyTransition(args[0], action, &options, nil)
		},
	}

	bindSLOFlags(cmd, &options)
	return cmd
}

func newCmdSLOModify() *cobra.Command {
	options := sloOptions{}

	cmd := &cobra.Command{
		Use:   "modify SERVICE",
		Short: "Accept a recommendation tier with explicit overrides",
		Example: `  sloscope slo modify checkout --tier balanced --actor alice \
      --set availability_target=99.85 --set latency_p95_target_ms=250`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mods := map[string]float64{}
			for _, kv := range options.modifications {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("malformed --set %q, expected key=value", kv)
				}
				v, err := strconv.ParseFloat(parts[1], 64)
				if err != nil {
					return fmt.Errorf("malformed --set %q: %w", kv, err)
				}
				mods[parts[0]] = v
			}
			return applyTransition(args[0], slo.ActionModify, &options, mods)
		},
	}

	bindSLOFlags(cmd, &options)
	cmd.PersistentFlags().StringArrayVar(&options.modifications, "set", nil, "Override a target, as key=value; repeatable")
	return cmd
}

func applyTransition(serviceID string, action slo.Action, options *sloOptions, mods map[string]float64) error {
	body := slo.TransitionRequest{
		Action:           action,
		SelectedTier:     slo.Tier(options.tier),
		Modifications:    mods,
		Rationale:        options.rationale,
		Actor:            options.actor,
		RecommendationID: options.recommendationID,
	}

	var result slo.TransitionResult
	path := fmt.Sprintf("/api/v1/services/%s/slo", url.PathEscape(serviceID))
	if err := apiRequest(http.MethodPost, path, &body, &result); err != nil {
		return err
	}

	fmt.Printf("recorded %s by %s (audit seq %d)\n", action, options.actor, result.Entry.Seq)
	if result.Active != nil {
		printActiveSLO(result.Active)
	}
	return nil
}

func newCmdSLOGet() *cobra.Command {
	return &cobra.Command{
		Use:   "get SERVICE",
		Short: "Show the SLO currently in force for a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var active slo.ActiveSLO
			path := fmt.Sprintf("/api/v1/services/%s/slo", url.PathEscape(args[0]))
			if err := apiRequest(http.MethodGet, path, nil, &active); err != nil {
				return err
			}
			printActiveSLO(&active)
			return nil
		},
	}
}

func printActiveSLO(active *slo.ActiveSLO) {
	fmt.Printf("service %s (%s", active.ServiceID, active.Source)
	if active.SelectedTier != "" {
		fmt.Printf(", tier %s", active.SelectedTier)
	}
	fmt.Println(")")
	if active.AvailabilityTargetPct != nil {
		fmt.Printf("  availability: %.4f%%\n", *active.AvailabilityTargetPct)
	}
	if active.LatencyP95TargetMS != nil {
		fmt.Printf("  latency p95:  %.0f ms\n", *active.LatencyP95TargetMS)
	}
	if active.LatencyP99TargetMS != nil {
		fmt.Printf("  latency p99:  %.0f ms\n", *active.LatencyP99TargetMS)
	}
	fmt.Printf("  activated by %s at %s\n", active.ActivatedBy, active.ActivatedAt.Format("2006-01-02 15:04:05 MST"))
}

func newCmdSLOHistory() *cobra.Command {
	return &cobra.Command{
		Use:   "history SERVICE",
		Short: "Show the SLO audit log for a service, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var history struct {
				Entries []*slo.AuditEntry `json:"entries"`
			}
			path := fmt.Sprintf("/api/v1/services/%s/slo/history", url.PathEscape(args[0]))
			if err := apiRequest(http.MethodGet, path, nil, &history); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "SEQ\tTIMESTAMP\tACTION\tACTOR\tTIER\tRATIONALE")
			for _, e := range history.Entries {
				action := string(e.Action)
				if e.Action == slo.ActionReject {
					action = color.YellowString(action)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					e.Seq, e.Timestamp.Format("2006-01-02 15:04:05"),
					action, e.Actor, e.SelectedTier, e.Rationale)
			}
			w.Flush()
			return nil
		},
	}
}
