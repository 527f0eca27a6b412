package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sloscope/sloscope/pkg/problem"
	"github.com/sloscope/sloscope/pkg/version"
)

var apiAddr string
var verbose bool

// RootCmd is the sloscope CLI entry point.
var RootCmd = &cobra.Command{
	Use:   "sloscope",
	Short: "sloscope analyzes service dependency graphs and SLO feasibility",
	Long:  `sloscope analyzes service dependency graphs and SLO feasibility.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// enable / disable logging
		if verbose {
			log.SetLevel(log.DebugLevel)
		} else {
			log.SetLevel(log.PanicLevel)
		}
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&apiAddr, "api-addr", "http://127.0.0.1:8085", "Address of the analysis API server")
	RootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Turn on debug logging")

	RootCmd.AddCommand(newCmdIngest())
	RootCmd.AddCommand(newCmdSubgraph())
	RootCmd.AddCommand(newCmdAnalyze())
	RootCmd.AddCommand(newCmdBudget())
	RootCmd.AddCommand(newCmdImpact())
	RootCmd.AddCommand(newCmdSLO())
	RootCmd.AddCommand(newCmdAlerts())
	RootCmd.AddCommand(newCmdVersion())
}

var apiClient = &http.Client{Timeout: 30 * time.Second}

// apiRequest performs one JSON round trip against the analysis API and
// decodes either the response or its problem document.
func apiRequest(method, path string, body interface{}, into interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequest(method, apiAddr+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", version.UserAgent())

	log.Debugf("%s %s", method, path)
	resp, err := apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not reach the analysis API at %s: %w", apiAddr, err)
	}
	defer resp.Body.Close()

	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var doc problem.Document
		if jsonErr := json.Unmarshal(raw, &doc); jsonErr == nil && doc.Title != "" {
			return fmt.Errorf("%s: %s (correlation id %s)", doc.Title, doc.Detail, doc.CorrelationID)
		}
		return fmt.Errorf("the analysis API returned %s", resp.Status)
	}
	if into == nil {
		return nil
	}
	return json.Unmarshal(raw, into)
}

func newCmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sloscope version %s\n", version.Version)
		},
	}
}
