package graph

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Cycle is one strongly connected component of size > 1, expressed as a
// canonicalized node path of service_ids.
type Cycle struct {
	Path []string `json:"path"`
}

// Key returns the storage key for canonical-path uniqueness.
func (c Cycle) Key() string {
	return strings.Join(c.Path, "|")
}

// Canonicalize picks the lexicographically smallest rotation of a cycle
// path, so every rotation of the same cycle compares equal.
func Canonicalize(path []string) []string {
	if len(path) == 0 {
		return path
	}
	best := 0
	for i := 1; i < len(path); i++ {
		if rotationLess(path, i, best) {
			best = i
		}
	}
	out := make([]string, 0, len(path))
	out = append(out, path[best:]...)
	out = append(out, path[:best]...)
	return out
}

// rotationLess compares the rotations of path starting at i and j.
func rotationLess(path []string, i, j int) bool {
	n := len(path)
	for k := 0; k < n; k++ {
		a, b := path[(i+k)%n], path[(j+k)%n]
		if a != b {
			return a < b
		}
	}
	return false
}

// FindCycles runs Tarjan's algorithm over a downstream adjacency snapshot
// and extracts one canonicalized cycle path per strongly connected
// component of size > 1. Self-loops cannot occur (edge invariant), so
// single-node components are never cycles.
func FindCycles(adjacency map[uuid.UUID][]uuid.UUID, serviceIDs map[uuid.UUID]string) []Cycle {
	t := &tarjan{
		adjacency: adjacency,
		index:     map[uuid.UUID]int{},
		lowlink:   map[uuid.UUID]int{},
		onStack:   map[uuid.UUID]bool{},
	}

	// deterministic visit order
	nodes := make([]uuid.UUID, 0, len(adjacency))
	for n := range adjacency {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return serviceIDs[nodes[i]] < serviceIDs[nodes[j]] })

	for _, n := range nodes {
		if _, seen := t.index[n]; !seen {
			t.strongConnect(n)
		}
	}

	var cycles []Cycle
	for _, scc := range t.components {
		if len(scc) < 2 {
			continue
		}
		path := cyclePath(scc, adjacency, serviceIDs)
		if len(path) >= 2 {
			cycles = append(cycles, Cycle{Path: Canonicalize(path)})
		}
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i].Key() < cycles[j].Key() })
	return cycles
}

type tarjan struct {
	adjacency  map[uuid.UUID][]uuid.UUID
	index      map[uuid.UUID]int
	lowlink    map[uuid.UUID]int
	onStack    map[uuid.UUID]bool
	stack      []uuid.UUID
	counter    int
	components [][]uuid.UUID
}

func (t *tarjan) strongConnect(v uuid.UUID) {
	t.index[v] = t.counter
	t.lowlink[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, w := range t.adjacency[v] {
		if _, seen := t.index[w]; !seen {
			t.strongConnect(w)
			if t.lowlink[w] < t.lowlink[v] {
				t.lowlink[v] = t.lowlink[w]
			}
		} else if t.onStack[w] && t.index[w] < t.lowlink[v] {
			t.lowlink[v] = t.index[w]
		}
	}

	if t.lowlink[v] == t.index[v] {
		var scc []uuid.UUID
		for {
			n := len(t.stack) - 1
			w := t.stack[n]
			t.stack = t.stack[:n]
			t.onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		t.components = append(t.components, scc)
	}
}

// cyclePath orders an SCC's members into an actual cycle by walking the
// adjacency restricted to the component, starting from the smallest
// service_id and preferring the smallest unvisited successor.
func cyclePath(scc []uuid.UUID, adjacency map[uuid.UUID][]uuid.UUID, serviceIDs map[uuid.UUID]string) []string {
	member := make(map[uuid.UUID]bool, len(scc))
	for _, n := range scc {
		member[n] = true
	}

	start := scc[0]
	for _, n := range scc[1:] {
		if serviceIDs[n] < serviceIDs[start] {
			start = n
		}
	}

	path := []string{serviceIDs[start]}
	visited := map[uuid.UUID]bool{start: true}
	cur := start
	for len(path) < len(scc) {
		next := uuid.Nil
		for _, w := range adjacency[cur] {
			if !member[w] || visited[w] {
				continue
			}
			if next == uuid.Nil || serviceIDs[w] < serviceIDs[next] {
				next = w
			}
		}
		if next == uuid.Nil {
			// component is strongly connected but not a single simple
			// cycle; the partial path still identifies the feedback loop
			break
		}
		visited[next] = true
		path = append(path, serviceIDs[next])
		cur = next
	}
	return path
}

// SweepReport summarises one cycle detection pass.
type SweepReport struct {
	Cycles    []Cycle  `json:"cycles"`
	NewAlerts []*Alert `json:"new_alerts"`
}

// DetectCycles takes a point-in-time adjacency snapshot, finds cycles, and
// opens an alert for each canonical path not already known. Duplicate
// canonical paths never create duplicate alerts. Concurrent edge upserts
// are tolerated: the sweep operates entirely on the snapshot.
func DetectCycles(ctx context.Context, s Store) (*SweepReport, error) {
	adjacency, err := s.AdjacencyList(ctx)
	if err != nil {
		return nil, err
	}
	uids := make([]uuid.UUID, 0, len(adjacency))
	for n := range adjacency {
		uids = append(uids, n)
	}
	for _, targets := range adjacency {
		uids = append(uids, targets...)
	}
	services, err := s.ServicesByUID(ctx, uids)
	if err != nil {
		return nil, err
	}
	names := make(map[uuid.UUID]string, len(services))
	for uid, svc := range services {
		names[uid] = svc.ServiceID
	}

	report := &SweepReport{Cycles: FindCycles(adjacency, names)}
	for _, c := range report.Cycles {
		alert, created, err := s.CreateAlertIfAbsent(ctx, c.Path)
		if err != nil {
			return nil, err
		}
		if created {
			log.Infof("circular dependency detected: %s", strings.Join(c.Path, " -> "))
			report.NewAlerts = append(report.NewAlerts, alert)
		}
	}
	return report, nil
}
