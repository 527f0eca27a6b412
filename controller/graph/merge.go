package graph

import (
	"fmt"
	"math"
	"time"
)

// sourcePriority orders discovery sources for reconciliation. Higher wins.
var sourcePriority = map[DiscoverySource]int{
	SourceManual:           4,
	SourceServiceMesh:      3,
	SourceOtelServiceGraph: 2,
	SourceKubernetes:       1,
}

// confidenceBase is the per-source starting confidence before the
// observation boost.
var confidenceBase = map[DiscoverySource]float64{
	SourceManual:           1.00,
	SourceServiceMesh:      0.95,
	SourceOtelServiceGraph: 0.85,
	SourceKubernetes:       0.75,
}

// Conflict records one cross-source overlap found during an upsert: two
// edges over the same (source, target) from different discovery sources.
type Conflict struct {
	SourceServiceID string          `json:"source_service_id"`
	TargetServiceID string          `json:"target_service_id"`
	ExistingSource  DiscoverySource `json:"existing_source"`
	NewSource       DiscoverySource `json:"new_source"`
	Resolution      string          `json:"resolution"`
}

// Priority returns the reconciliation rank of a discovery source.
func Priority(s DiscoverySource) int {
	return sourcePriority[s]
}

// Confidence computes the confidence score of an edge: per-source base plus
// a logarithmic boost for repeated observations, clamped to [0,1].
func Confidence(source DiscoverySource, observationCount int) float64 {
	boost := math.Min(0.10, 0.02*math.Log(float64(observationCount)+1))
	score := confidenceBase[source] + boost
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}

// ApplySameSourceUpdate folds a re-ingested edge into the existing row for
// the same (source, target, discovery_source) triple. The internal
// identifier and creation timestamp are preserved; attributes are
// last-write-wins within a source; the observation refreshes staleness and
// feeds the confidence boost.
func ApplySameSourceUpdate(existing, incoming *Edge, now time.Time) {
	existing.Mode = incoming.Mode
	existing.Criticality = incoming.Criticality
	existing.Protocol = incoming.Protocol
	existing.TimeoutMS = incoming.TimeoutMS
	existing.Retry = incoming.Retry
	existing.Attributes = incoming.Attributes
	existing.ObservationCount++
	existing.ConfidenceScore = Confidence(existing.DiscoverySource, existing.ObservationCount)
	existing.LastObservedAt = now
	existing.Stale = false
	existing.UpdatedAt = now
}

// ResolveConflict describes which of two sources wins for the same logical
// edge.
func ResolveConflict(srcID, tgtID string, existing, incoming DiscoverySource) Conflict {
	winner := existing
	if Priority(incoming) > Priority(existing) {
		winner = incoming
	}
	return Conflict{
		SourceServiceID: srcID,
		TargetServiceID: tgtID,
		ExistingSource:  existing,
		NewSource:       incoming,
		Resolution:      fmt.Sprintf("retained %s (priority %d over %d)", winner, Priority(winner), minPriority(existing, incoming)),
	}
}

func minPriority(a, b DiscoverySource) int {
	pa, pb := Priority(a), Priority(b)
	if pa < pb {
		return pa
	}
	return pb
}

// Reconcile collapses per-source duplicate rows down to one edge per
// (source, target) pair, keeping the highest-priority source. Ties cannot
// occur: rows are unique per (source, target, discovery_source).
func Reconcile(edges []*Edge) []*Edge {
	type pair struct{ src, tgt [16]byte }
	best := make(map[pair]*Edge, len(edges))
	order := make([]pair, 0, len(edges))
	for _, e := range edges {
		k := pair{e.SourceUID, e.TargetUID}
		cur, ok := best[k]
		if !ok {
			best[k] = e
			order = append(order, k)
			continue
		}
		if Priority(e.DiscoverySource) > Priority(cur.DiscoverySource) {
			best[k] = e
		}
	}
	out := make([]*Edge, 0, len(best))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}
