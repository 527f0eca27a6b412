package analysis

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sloscope/sloscope/controller/graph"
	"github.com/sloscope/sloscope/controller/slo"
	"github.com/sloscope/sloscope/controller/telemetry"
	"github.com/sloscope/sloscope/pkg/problem"
)

// TargetSource says where the analyzed target percentage came from.
type TargetSource string

const (
	TargetRequested TargetSource = "requested"
	TargetActiveSLO TargetSource = "active_slo"
	TargetDefault   TargetSource = "default"
)

// ConstraintRequest parameterizes one constraint analysis.
type ConstraintRequest struct {
	ServiceID        string
	DesiredTargetPct *float64
	LookbackDays     int
	MaxDepth         int
}

// ConstraintReport is the single aggregate record a constraint analysis
// returns.
type ConstraintReport struct {
	ServiceID            string          `json:"service_id"`
	TargetPct            float64         `json:"target_pct"`
	TargetSource         TargetSource    `json:"target_source"`
	SelfAvailability     float64         `json:"self_availability"`
	Composite            CompositeResult `json:"composite"`
	Achievable           bool            `json:"achievable"`
	Budget               BudgetReport    `json:"error_budget"`
	Warning              *Warning        `json:"unachievability_warning,omitempty"`
	Dependencies         []Dependency    `json:"dependencies"`
	HardDependencyCount  int             `json:"hard_dependency_count"`
	ExternalDependencies int             `json:"external_dependency_count"`
	TotalDependencies    int             `json:"total_dependency_count"`
	SoftDependencies     []string        `json:"soft_dependencies,omitempty"`
	SCCSupernodes        [][]string      `json:"scc_supernodes,omitempty"`
	AnalyzedAt           time.Time       `json:"analyzed_at"`
}

// Analyzer composes the graph store, the telemetry reader, and the SLO
// repository into the constraint-analysis pipeline.
type Analyzer struct {
	store     graph.Store
	telemetry telemetry.Reader
	slos      slo.Repository
	cfg       Config

	now func() time.Time
}

// NewAnalyzer returns an Analyzer with the given collaborators.
func NewAnalyzer(store graph.Store, reader telemetry.Reader, slos slo.Repository, cfg Config) *Analyzer {
	return &Analyzer{store: store, telemetry: reader, slos: slos, cfg: cfg, now: time.Now}
}

// Analyze runs the full pipeline for one service: resolve, choose target,
// traverse downstream, fan out telemetry reads, then compose the bound,
// the budget attribution, and the achievability check.
func (a *Analyzer) Analyze(ctx context.Context, req *ConstraintRequest) (*ConstraintReport, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.AnalysisTimeout)
	defer cancel()

	if err := a.validate(req); err != nil {
		return nil, err
	}

	root, err := a.store.GetService(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}

	targetPct, targetSource := a.chooseTarget(ctx, req)

	maxDepth := req.MaxDepth
	if maxDepth == 0 {
		maxDepth = a.cfg.MaxDepth
	}

	travCtx, travCancel := context.WithTimeout(ctx, a.cfg.TraversalTimeout)
	sub, err := graph.Traverse(travCtx, a.store, root, graph.DirectionDownstream, maxDepth, false)
	travCancel()
	if err != nil {
		return nil, err
	}
	if len(sub.Edges) == 0 {
		return nil, problem.New(problem.Invalid, "service %q has no dependencies to analyze", req.ServiceID)
	}

	lookback := a.lookback(req.LookbackDays)
	deps, softNames, err := a.resolveDependencies(ctx, sub, lookback)
	if err != nil {
		return nil, err
	}

	selfAvailability := a.selfAvailability(ctx, root, lookback)

	composite := CompositeBound(selfAvailability, deps)
	budget := AnalyzeBudget(targetPct, selfAvailability, deps)
	warning := CheckAchievability(targetPct, composite.Bound, hardCount(deps))

	report := &ConstraintReport{
		ServiceID:            req.ServiceID,
		TargetPct:            targetPct,
		TargetSource:         targetSource,
		SelfAvailability:     selfAvailability,
		Composite:            composite,
		Achievable:           warning == nil,
		Budget:               budget,
		Warning:              warning,
		Dependencies:         deps,
		HardDependencyCount:  hardCount(deps),
		TotalDependencies:    len(deps) + len(softNames),
		SoftDependencies:     softNames,
		AnalyzedAt:           a.now(),
	}
	for _, d := range deps {
		if d.External {
			report.ExternalDependencies++
		}
	}

	supernodes, err := a.openCyclesContaining(ctx, req.ServiceID)
	if err != nil {
		log.Warnf("could not collect cycle alerts for %s: %s", req.ServiceID, err)
	} else {
		report.SCCSupernodes = supernodes
	}

	return report, nil
}

// BudgetBreakdown is the depth-1 error-budget endpoint: same attribution,
// direct dependencies only.
func (a *Analyzer) BudgetBreakdown(ctx context.Context, req *ConstraintRequest) (*BudgetReport, error) {
	shallow := *req
	shallow.MaxDepth = 1
	report, err := a.Analyze(ctx, &shallow)
	if err != nil {
		return nil, err
	}
	return &report.Budget, nil
}

func (a *Analyzer) validate(req *ConstraintRequest) error {
	if req.DesiredTargetPct != nil && (*req.DesiredTargetPct < 90 || *req.DesiredTargetPct > 99.9999) {
		return problem.New(problem.Invalid, "desired_target_pct %.4f outside [90, 99.9999]", *req.DesiredTargetPct)
	}
	if req.LookbackDays != 0 && (req.LookbackDays < 7 || req.LookbackDays > 365) {
		return problem.New(problem.Invalid, "lookback_days %d outside [7, 365]", req.LookbackDays)
	}
	if req.MaxDepth != 0 && (req.MaxDepth < 1 || req.MaxDepth > graph.MaxTraversalDepth) {
		return problem.New(problem.Invalid, "max_depth %d outside [1, %d]", req.MaxDepth, graph.MaxTraversalDepth)
	}
	return nil
}

// chooseTarget prefers the explicit parameter, then the active SLO, then
// the configured default.
func (a *Analyzer) chooseTarget(ctx context.Context, req *ConstraintRequest) (float64, TargetSource) {
	if req.DesiredTargetPct != nil {
		return *req.DesiredTargetPct, TargetRequested
	}
	if active, err := a.slos.GetActive(ctx, req.ServiceID); err == nil && active.AvailabilityTargetPct != nil {
		return *active.AvailabilityTargetPct, TargetActiveSLO
	}
	return a.cfg.DefaultTargetPct, TargetDefault
}

func (a *Analyzer) lookback(days int) time.Duration {
	if days == 0 {
		return a.cfg.DefaultLookback
	}
	return time.Duration(days) * 24 * time.Hour
}

// resolveDependencies partitions the subgraph's edges into hard-sync
// targets (which get availabilities, concurrently) and the soft rest.
func (a *Analyzer) resolveDependencies(ctx context.Context, sub *graph.Subgraph, lookback time.Duration) ([]Dependency, []string, error) {
	byUID := map[string]*graph.Service{}
	for _, n := range sub.Nodes {
		byUID[n.UID.String()] = n
	}

	type hardTarget struct {
		svc   *graph.Service
		group string
	}
	hardTargets := map[string]hardTarget{}
	softSet := map[string]bool{}

	for _, e := range sub.Edges {
		target, ok := byUID[e.TargetUID.String()]
		if !ok || target.UID == sub.Root.UID {
			continue
		}
		if e.IsHardSync() {
			ht := hardTarget{svc: target}
			if e.Attributes != nil {
				ht.group = e.Attributes["redundancy_group"]
			}
			hardTargets[target.ServiceID] = ht
		} else {
			softSet[target.ServiceID] = true
		}
	}
	// a service reached both hard and soft counts as hard
	for id := range hardTargets {
		delete(softSet, id)
	}

	ids := make([]string, 0, len(hardTargets))
	for id := range hardTargets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	deps := make([]Dependency, len(ids))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, ht := i, hardTargets[id]
		g.Go(func() error {
			dep := a.resolveOne(gctx, ht.svc, lookback)
			dep.RedundancyGroup = ht.group
			mu.Lock()
			deps[i] = dep
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, problem.Wrap(problem.Unavailable, err, "analysis deadline exceeded")
	}

	softNames := make([]string, 0, len(softSet))
	for id := range softSet {
		softNames = append(softNames, id)
	}
	sort.Strings(softNames)

	return deps, softNames, nil
}

// resolveOne produces the availability for a single hard dependency.
// Telemetry failures and gaps degrade to the policy default with a note;
// they never fail the analysis.
func (a *Analyzer) resolveOne(ctx context.Context, svc *graph.Service, lookback time.Duration) Dependency {
	dep := Dependency{ServiceID: svc.ServiceID, Hard: true, External: svc.Type == graph.ServiceExternal}

	readCtx, cancel := context.WithTimeout(ctx, a.cfg.TelemetryTimeout)
	defer cancel()
	ratio, ok, err := a.telemetry.Availability(readCtx, svc.ServiceID, lookback)
	if err != nil {
		log.Warnf("availability read for %s failed, substituting default: %s", svc.ServiceID, err)
		ok = false
	}

	var observed *float64
	if ok {
		observed = &ratio
	}

	if dep.External {
		effective, note := EffectiveAvailability(svc.PublishedSLA, observed, a.cfg.ExternalDerateMultiplier, a.cfg.DefaultAvailability)
		dep.Availability = effective
		dep.Note = note
		return dep
	}

	if observed != nil {
		dep.Availability = *observed
		return dep
	}
	dep.Availability = a.cfg.DefaultAvailability
	dep.Substituted = true
	return dep
}

// selfAvailability reads the root's own observed availability, degrading
// to the default.
func (a *Analyzer) selfAvailability(ctx context.Context, root *graph.Service, lookback time.Duration) float64 {
	readCtx, cancel := context.WithTimeout(ctx, a.cfg.TelemetryTimeout)
	defer cancel()
	ratio, ok, err := a.telemetry.Availability(readCtx, root.ServiceID, lookback)
	if err != nil || !ok {
		if err != nil {
			log.Warnf("availability read for root %s failed, substituting default: %s", root.ServiceID, err)
		}
		return a.cfg.DefaultAvailability
	}
	return ratio
}

func (a *Analyzer) openCyclesContaining(ctx context.Context, serviceID string) ([][]string, error) {
	alerts, err := a.store.ListAlerts(ctx, graph.AlertOpen)
	if err != nil {
		return nil, err
	}
	var out [][]string
	for _, alert := range alerts {
		for _, member := range alert.Path {
			if member == serviceID {
				out = append(out, alert.Path)
				break
			}
		}
	}
	return out, nil
}

func hardCount(deps []Dependency) int {
	n := 0
	for _, d := range deps {
		if d.Hard {
			n++
		}
	}
	return n
}
