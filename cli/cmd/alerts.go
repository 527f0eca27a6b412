package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sloscope/sloscope/controller/graph"
)

func newCmdAlerts() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List and manage circular-dependency alerts",
	}

	cmd.AddCommand(newCmdAlertsList())
	cmd.AddCommand(newCmdAlertTransition("ack", "Acknowledge an alert"))
	cmd.AddCommand(newCmdAlertTransition("resolve", "Mark an alert resolved"))

	return cmd
}

func newCmdAlertsList() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List circular-dependency alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/alerts"
			if status != "" {
				path += "?status=" + url.QueryEscape(status)
			}
			var listed struct {
				Alerts []*graph.Alert `json:"alerts"`
			}
			if err := apiRequest(http.MethodGet, path, nil, &listed); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "UID\tSTATUS\tDETECTED\tCYCLE")
			for _, a := range listed.Alerts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					a.UID, a.Status, a.DetectedAt.Format("2006-01-02 15:04"),
					strings.Join(a.Path, " -> "))
			}
			w.Flush()
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&status, "status", "", "Filter by status: open, acknowledged or resolved")
	return cmd
}

func newCmdAlertTransition(use, short string) *cobra.Command {
	var notes string

	cmd := &cobra.Command{
		Use:   use + " ALERT_UID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var alert graph.Alert
			path := fmt.Sprintf("/api/v1/alerts/%s/%s", url.PathEscape(args[0]), use)
			body := map[string]string{"notes": notes}
			if err := apiRequest(http.MethodPost, path, body, &alert); err != nil {
				return err
			}
			fmt.Printf("alert %s is now %s\n", alert.UID, alert.Status)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&notes, "notes", "", "Notes recorded on the alert")
	return cmd
}
