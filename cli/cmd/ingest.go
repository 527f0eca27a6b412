package cmd

import (
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/sloscope/sloscope/controller/graph"
)

type ingestOptions struct {
	file   string
	source string
}

func newCmdIngest() *cobra.Command {
	options := ingestOptions{}

	cmd := &cobra.Command{
		Use:   "ingest [flags]",
		Short: "Submit a dependency snapshot to the analysis API",
		Long: `Submit a dependency snapshot to the analysis API.

The file holds nodes and edges in YAML or JSON. The discovery source may
be given in the file or overridden with --source.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := ioutil.ReadFile(options.file)
			if err != nil {
				return err
			}
			var payload graph.IngestRequest
			if err := yaml.Unmarshal(raw, &payload); err != nil {
				return fmt.Errorf("could not parse %s: %w", options.file, err)
			}
			if options.source != "" {
				payload.Source = graph.DiscoverySource(options.source)
			}

			var report graph.IngestReport
			if err := apiRequest(http.MethodPost, "/api/v1/graph/ingest", &payload, &report); err != nil {
				return err
			}

			fmt.Printf("upserted %d of %d nodes, %d of %d edges\n",
				report.NodesUpserted, report.NodesReceived,
				report.EdgesUpserted, report.EdgesReceived)
			for _, c := range report.Conflicts {
				color.Yellow("conflict on %s -> %s: %s vs %s (%s)",
					c.SourceServiceID, c.TargetServiceID, c.ExistingSource, c.NewSource, c.Resolution)
			}
			for _, cy := range report.NewCycles {
				color.Red("new circular dependency: %s", strings.Join(cy.Path, " -> "))
			}
			for _, warning := range report.Warnings {
				color.Yellow(warning)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&options.file, "file", "f", "", "Snapshot file to ingest (required)")
	cmd.PersistentFlags().StringVar(&options.source, "source", "", "Override the discovery source declared in the file")
	cmd.MarkPersistentFlagRequired("file")

	return cmd
}
