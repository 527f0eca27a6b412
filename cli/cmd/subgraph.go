package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sloscope/sloscope/controller/graph"
)

type subgraphOptions struct {
	direction    string
	depth        int
	includeStale bool
}

type subgraphNode struct {
	graph.Service
	Depth int `json:"depth"`
}

type subgraphView struct {
	Root  graph.Service  `json:"root"`
	Nodes []subgraphNode `json:"nodes"`
	Edges []graph.Edge   `json:"edges"`
	Stats graph.Stats    `json:"stats"`
}

func newCmdSubgraph() *cobra.Command {
	options := subgraphOptions{direction: "downstream", depth: 3}

	cmd := &cobra.Command{
		Use:   "subgraph SERVICE",
		Short: "Show the dependency subgraph around a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			query.Set("direction", options.direction)
			query.Set("depth", fmt.Sprintf("%d", options.depth))
			if options.includeStale {
				query.Set("include_stale", "true")
			}

			var view subgraphView
			path := fmt.Sprintf("/api/v1/services/%s/subgraph?%s", url.PathEscape(args[0]), query.Encode())
			if err := apiRequest(http.MethodGet, path, nil, &view); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "SERVICE\tDEPTH\tTYPE\tCRITICALITY\tTEAM")
			for _, n := range view.Nodes {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", n.ServiceID, n.Depth, n.Type, n.Criticality, n.Team)
			}
			w.Flush()

			fmt.Printf("\n%d nodes, %d edges; %d upstream, %d downstream, max depth %d\n",
				view.Stats.TotalNodes, view.Stats.TotalEdges,
				view.Stats.UpstreamServices, view.Stats.DownstreamServices,
				view.Stats.MaxDepthReached)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&options.direction, "direction", options.direction, "Traversal direction: upstream, downstream or both")
	cmd.PersistentFlags().IntVar(&options.depth, "depth", options.depth, "Maximum traversal depth")
	cmd.PersistentFlags().BoolVar(&options.includeStale, "include-stale", false, "Include edges marked stale")

	return cmd
}
