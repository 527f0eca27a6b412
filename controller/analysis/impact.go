package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sloscope/sloscope/controller/graph"
	"github.com/sloscope/sloscope/pkg/problem"
)

// SLI types an impact request can name. Only availability is composed
// numerically; latency changes get a qualitative note instead.
const (
	SLIAvailability = "availability"
	SLILatency      = "latency"
)

// ImpactRequest models a what-if: the named service's target for the given
// SLI moves from its current value to a proposed one.
type ImpactRequest struct {
	ServiceID         string
	SLIType           string
	CurrentTargetPct  *float64
	ProposedTargetPct float64
	LookbackDays      int
	MaxDepth          int
}

// ImpactedService is one upstream consumer whose composite bound shifts
// when the change lands.
type ImpactedService struct {
	ServiceID             string   `json:"service_id"`
	Depth                 int      `json:"depth"`
	CurrentCompositePct   float64  `json:"current_composite_pct"`
	ProjectedCompositePct float64  `json:"projected_composite_pct"`
	DeltaPct              float64  `json:"delta_pct"`
	SLOAtRisk             bool     `json:"slo_at_risk"`
	SLOTargetPct          *float64 `json:"slo_target_pct,omitempty"`
	Description           string   `json:"description"`
}

// ImpactSummary rolls the per-service rows up.
type ImpactSummary struct {
	ImpactedServices int    `json:"impacted_services"`
	SLOsAtRisk       int    `json:"slos_at_risk"`
	Recommendation   string `json:"recommendation"`
}

// ImpactReport is the full what-if answer.
type ImpactReport struct {
	ServiceID         string            `json:"service_id"`
	SLIType           string            `json:"sli_type"`
	CurrentTargetPct  float64           `json:"current_target_pct"`
	ProposedTargetPct float64           `json:"proposed_target_pct"`
	Impacted          []ImpactedService `json:"impacted,omitempty"`
	Summary           ImpactSummary     `json:"summary"`
	QualitativeNotes  []string          `json:"qualitative_notes,omitempty"`
	AnalyzedAt        time.Time         `json:"analyzed_at"`
}

// latencyNote is qualitative only: the availability model says nothing
// numeric about latency propagation.
const latencyNote = "latency impact is not modeled quantitatively; expect tail latency of synchronous callers to track the changed service's p99"

// Impact walks every upstream consumer of the changed service and
// recomputes each consumer's composite bound with the dependency's
// availability set to the current target and then to the proposed one.
func (a *Analyzer) Impact(ctx context.Context, req *ImpactRequest) (*ImpactReport, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.AnalysisTimeout)
	defer cancel()

	if req.ProposedTargetPct < 90 || req.ProposedTargetPct > 99.9999 {
		return nil, problem.New(problem.Invalid, "proposed_target_pct %.4f outside [90, 99.9999]", req.ProposedTargetPct)
	}
	if req.CurrentTargetPct != nil && (*req.CurrentTargetPct < 90 || *req.CurrentTargetPct > 99.9999) {
		return nil, problem.New(problem.Invalid, "current_target_pct %.4f outside [90, 99.9999]", *req.CurrentTargetPct)
	}
	sliType := req.SLIType
	switch sliType {
	case "":
		sliType = SLIAvailability
	case SLIAvailability, SLILatency:
	default:
		return nil, problem.New(problem.Invalid, "unknown sli_type %q", req.SLIType)
	}
	maxDepth := req.MaxDepth
	switch {
	case maxDepth == 0:
		maxDepth = a.cfg.MaxDepth
	case maxDepth < 1 || maxDepth > graph.MaxTraversalDepth:
		return nil, problem.New(problem.Invalid, "max_depth %d outside [1, %d]", maxDepth, graph.MaxTraversalDepth)
	}

	root, err := a.store.GetService(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}

	currentPct, _ := a.chooseTarget(ctx, &ConstraintRequest{ServiceID: req.ServiceID, DesiredTargetPct: req.CurrentTargetPct})

	travCtx, travCancel := context.WithTimeout(ctx, a.cfg.TraversalTimeout)
	sub, err := graph.Traverse(travCtx, a.store, root, graph.DirectionUpstream, maxDepth, false)
	travCancel()
	if err != nil {
		return nil, err
	}

	lookback := a.lookback(req.LookbackDays)

	rows := make([]*ImpactedService, 0, len(sub.Nodes))
	g, gctx := errgroup.WithContext(ctx)
	for _, node := range sub.Nodes {
		if node.UID == root.UID {
			continue
		}
		node := node
		depth := sub.Depth[node.UID]
		row := &ImpactedService{ServiceID: node.ServiceID, Depth: depth}
		rows = append(rows, row)
		g.Go(func() error {
			return a.projectOne(gctx, node, row, req.ServiceID, currentPct/100, req.ProposedTargetPct/100, lookback)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	impacted := make([]ImpactedService, 0, len(rows))
	atRisk := 0
	for _, row := range rows {
		if row.SLOAtRisk {
			atRisk++
		}
		impacted = append(impacted, *row)
	}
	sort.SliceStable(impacted, func(i, j int) bool {
		return math.Abs(impacted[i].DeltaPct) > math.Abs(impacted[j].DeltaPct)
	})

	report := &ImpactReport{
		ServiceID:         req.ServiceID,
		SLIType:           sliType,
		CurrentTargetPct:  currentPct,
		ProposedTargetPct: req.ProposedTargetPct,
		Impacted:          impacted,
		Summary: ImpactSummary{
			ImpactedServices: len(impacted),
			SLOsAtRisk:       atRisk,
			Recommendation:   recommendation(req.ProposedTargetPct, currentPct, len(impacted), atRisk),
		},
		AnalyzedAt: a.now(),
	}
	if sliType == SLILatency || req.ProposedTargetPct < currentPct {
		report.QualitativeNotes = []string{latencyNote}
	}
	return report, nil
}

// projectOne recomputes one consumer's composite bound over its direct
// hard dependencies, substituting the changed service's target twice.
func (a *Analyzer) projectOne(ctx context.Context, svc *graph.Service, row *ImpactedService, changedID string, currentRatio, proposedRatio float64, lookback time.Duration) error {
	edges, services, err := graph.DirectDownstream(ctx, a.store, svc)
	if err != nil {
		return err
	}

	self := a.selfAvailability(ctx, svc, lookback)

	current, projected := self, self
	for _, e := range edges {
		if !e.IsHardSync() {
			continue
		}
		target, ok := services[e.TargetUID]
		if !ok {
			continue
		}
		if target.ServiceID == changedID {
			current *= currentRatio
			projected *= proposedRatio
			continue
		}
		dep := a.resolveOne(ctx, target, lookback)
		current *= dep.Availability
		projected *= dep.Availability
	}

	row.CurrentCompositePct = current * 100
	row.ProjectedCompositePct = projected * 100
	row.DeltaPct = row.ProjectedCompositePct - row.CurrentCompositePct

	if active, err := a.slos.GetActive(ctx, svc.ServiceID); err == nil && active.AvailabilityTargetPct != nil {
		row.SLOTargetPct = active.AvailabilityTargetPct
		row.SLOAtRisk = row.ProjectedCompositePct < *active.AvailabilityTargetPct
	} else if err != nil && !problem.IsKind(err, problem.NotFound) {
		log.Warnf("could not read active SLO for %s: %s", svc.ServiceID, err)
	}

	switch {
	case row.SLOAtRisk:
		row.Description = fmt.Sprintf("projected composite %.4f%% falls below the active SLO target %.4f%%",
			row.ProjectedCompositePct, *row.SLOTargetPct)
	case row.DeltaPct < 0:
		row.Description = fmt.Sprintf("composite bound degrades by %.4f percentage points", -row.DeltaPct)
	case row.DeltaPct > 0:
		row.Description = fmt.Sprintf("composite bound improves by %.4f percentage points", row.DeltaPct)
	default:
		row.Description = "no change to the composite bound"
	}
	return nil
}

func recommendation(proposedPct, currentPct float64, impacted, atRisk int) string {
	switch {
	case impacted == 0:
		return "no upstream consumers; the change is safe to apply"
	case atRisk > 0:
		return fmt.Sprintf("do not apply without mitigation: %d upstream SLO(s) would be at risk", atRisk)
	case proposedPct < currentPct:
		return "upstream composites degrade but no active SLO is breached; coordinate with consumer teams before applying"
	default:
		return "the change tightens or maintains upstream composites; safe to apply"
	}
}
