package graph

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/sloscope/sloscope/pkg/problem"
)

// Subgraph is the result of a bounded traversal. Nodes always contain the
// root first; Edges is a subset of the edges whose both endpoints are in
// Nodes. Depth records the BFS distance from the root per node.
type Subgraph struct {
	Root  *Service
	Nodes []*Service
	Edges []*Edge
	Depth map[uuid.UUID]int
}

// Stats summarises a subgraph for the query response.
type Stats struct {
	TotalNodes         int `json:"total_nodes"`
	TotalEdges         int `json:"total_edges"`
	UpstreamServices   int `json:"upstream_services"`
	DownstreamServices int `json:"downstream_services"`
	MaxDepthReached    int `json:"max_depth_reached"`
}

// Traverse walks the graph from root following edges in the requested
// direction up to maxDepth hops. Stale edge rows are skipped unless
// includeStale is set; per-source duplicate rows are reconciled by
// discovery priority before being followed. Traversal is iterative with an
// explicit visited set, so cyclic graphs terminate.
func Traverse(ctx context.Context, s Store, root *Service, dir Direction, maxDepth int, includeStale bool) (*Subgraph, error) {
	if maxDepth < 1 || maxDepth > MaxTraversalDepth {
		return nil, problem.New(problem.Invalid, "max_depth must be between 1 and %d, got %d", MaxTraversalDepth, maxDepth)
	}
	switch dir {
	case DirectionUpstream, DirectionDownstream, DirectionBoth:
	default:
		return nil, problem.New(problem.Invalid, "direction must be upstream, downstream or both, got %q", dir)
	}

	sub := &Subgraph{
		Root:  root,
		Nodes: []*Service{root},
		Depth: map[uuid.UUID]int{root.UID: 0},
	}
	visited := map[uuid.UUID]bool{root.UID: true}
	seenEdges := map[uuid.UUID]bool{}
	frontier := []uuid.UUID{root.UID}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []uuid.UUID
		var discovered []*Edge

		for _, uid := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, problem.Wrap(problem.Unavailable, err, "traversal cancelled")
			}
			if dir == DirectionDownstream || dir == DirectionBoth {
				edges, err := s.EdgesBySource(ctx, uid)
				if err != nil {
					return nil, err
				}
				discovered = append(discovered, usable(edges, includeStale)...)
			}
			if dir == DirectionUpstream || dir == DirectionBoth {
				edges, err := s.EdgesByTarget(ctx, uid)
				if err != nil {
					return nil, err
				}
				discovered = append(discovered, usable(edges, includeStale)...)
			}
		}

		var neighborUIDs []uuid.UUID
		for _, e := range discovered {
			for _, endpoint := range []uuid.UUID{e.SourceUID, e.TargetUID} {
				if !visited[endpoint] {
					neighborUIDs = append(neighborUIDs, endpoint)
				}
			}
		}
		neighbors, err := s.ServicesByUID(ctx, neighborUIDs)
		if err != nil {
			return nil, err
		}

		for _, e := range discovered {
			if seenEdges[e.UID] {
				continue
			}
			seenEdges[e.UID] = true
			sub.Edges = append(sub.Edges, e)
			for _, endpoint := range []uuid.UUID{e.SourceUID, e.TargetUID} {
				if visited[endpoint] {
					continue
				}
				svc, ok := neighbors[endpoint]
				if !ok {
					// edge endpoint without a service row; skip rather than fail
					continue
				}
				visited[endpoint] = true
				sub.Depth[endpoint] = depth
				sub.Nodes = append(sub.Nodes, svc)
				next = append(next, endpoint)
			}
		}
		frontier = next
	}

	// drop edges that reached outside the node set on the last level
	kept := sub.Edges[:0]
	for _, e := range sub.Edges {
		if visited[e.SourceUID] && visited[e.TargetUID] {
			kept = append(kept, e)
		}
	}
	sub.Edges = kept

	return sub, nil
}

// usable filters stale rows then reconciles per-source duplicates.
func usable(edges []*Edge, includeStale bool) []*Edge {
	filtered := make([]*Edge, 0, len(edges))
	for _, e := range edges {
		if e.Stale && !includeStale {
			continue
		}
		filtered = append(filtered, e)
	}
	return Reconcile(filtered)
}

// Stats computes the statistics block for a subgraph query. Upstream and
// downstream counts are edges incident to the root in each direction.
func (sub *Subgraph) Stats() Stats {
	st := Stats{
		TotalNodes: len(sub.Nodes),
		TotalEdges: len(sub.Edges),
	}
	for _, e := range sub.Edges {
		if e.SourceUID == sub.Root.UID {
			st.DownstreamServices++
		}
		if e.TargetUID == sub.Root.UID {
			st.UpstreamServices++
		}
	}
	for _, d := range sub.Depth {
		if d > st.MaxDepthReached {
			st.MaxDepthReached = d
		}
	}
	return st
}

// DirectDownstream returns the reconciled non-stale edges out of a service,
// sorted by target service_id for stable output.
func DirectDownstream(ctx context.Context, s Store, root *Service) ([]*Edge, map[uuid.UUID]*Service, error) {
	edges, err := s.EdgesBySource(ctx, root.UID)
	if err != nil {
		return nil, nil, err
	}
	edges = usable(edges, false)

	uids := make([]uuid.UUID, 0, len(edges))
	for _, e := range edges {
		uids = append(uids, e.TargetUID)
	}
	targets, err := s.ServicesByUID(ctx, uids)
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(edges, func(i, j int) bool {
		ti, tj := targets[edges[i].TargetUID], targets[edges[j].TargetUID]
		if ti == nil || tj == nil {
			return i < j
		}
		return ti.ServiceID < tj.ServiceID
	})
	return edges, targets, nil
}
