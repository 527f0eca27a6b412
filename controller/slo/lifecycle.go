package slo

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sloscope/sloscope/pkg/problem"
)

// TransitionRequest is the payload of one lifecycle call.
type TransitionRequest struct {
	Action           Action             `json:"action"`
	SelectedTier     Tier               `json:"selected_tier"`
	Modifications    map[string]float64 `json:"modifications,omitempty"`
	Rationale        string             `json:"rationale,omitempty"`
	Actor            string             `json:"actor"`
	RecommendationID string             `json:"recommendation_id,omitempty"`

	// Targets is the explicit recommendation body. When nil the lifecycle
	// falls back to the injected tier catalog (the demo path).
	Targets *TierTargets `json:"targets,omitempty"`
}

// TransitionResult is what a lifecycle call returns.
type TransitionResult struct {
	Active *ActiveSLO  `json:"active_slo,omitempty"`
	Entry  *AuditEntry `json:"audit_entry"`
}

// Lifecycle drives accept/modify/reject transitions against a Repository.
// The tier catalog is injected, never baked in.
type Lifecycle struct {
	repo  Repository
	tiers map[Tier]TierTargets
	now   func() time.Time
}

// NewLifecycle returns a Lifecycle over repo using the given tier catalog.
func NewLifecycle(repo Repository, tiers map[Tier]TierTargets) *Lifecycle {
	return &Lifecycle{repo: repo, tiers: tiers, now: time.Now}
}

// Modification keys accepted on a modify transition.
const (
	ModAvailabilityTarget = "availability_target"
	ModLatencyP95         = "latency_p95_target_ms"
	ModLatencyP99         = "latency_p99_target_ms"
)

// Apply executes one transition for a service. Accept and modify replace
// the active SLO and append an audit entry atomically; reject appends the
// entry only.
func (l *Lifecycle) Apply(ctx context.Context, serviceID string, req *TransitionRequest) (*TransitionResult, error) {
	if req.Actor == "" {
		return nil, problem.New(problem.Invalid, "actor is required")
	}
	switch req.SelectedTier {
	case TierConservative, TierBalanced, TierAggressive:
	default:
		return nil, problem.New(problem.Invalid, "unknown tier %q", req.SelectedTier)
	}

	targets, err := l.resolveTargets(req)
	if err != nil {
		return nil, err
	}

	entry := &AuditEntry{
		Action:           req.Action,
		Actor:            req.Actor,
		RecommendationID: req.RecommendationID,
		SelectedTier:     req.SelectedTier,
		Rationale:        req.Rationale,
	}

	switch req.Action {
	case ActionAccept:
		next := l.sloFromTargets(serviceID, req, targets, SourceRecommendationAccepted)
		return l.transition(ctx, serviceID, true, next, entry)

	case ActionModify:
		if len(req.Modifications) == 0 {
			return nil, problem.New(problem.Invalid, "modify requires a modifications map")
		}
		next := l.sloFromTargets(serviceID, req, targets, SourceRecommendationModified)
		delta := map[string]float64{}
		for key, value := range req.Modifications {
			switch key {
			case ModAvailabilityTarget:
				delta[key] = value - *next.AvailabilityTargetPct
				*next.AvailabilityTargetPct = value
			case ModLatencyP95:
				delta[key] = value - *next.LatencyP95TargetMS
				*next.LatencyP95TargetMS = value
			case ModLatencyP99:
				delta[key] = value - *next.LatencyP99TargetMS
				*next.LatencyP99TargetMS = value
			default:
				return nil, problem.New(problem.Invalid, "unknown modification key %q", key)
			}
		}
		entry.ModificationDelta = delta
		return l.transition(ctx, serviceID, true, next, entry)

	case ActionReject:
		return l.transition(ctx, serviceID, false, nil, entry)

	default:
		return nil, problem.New(problem.Invalid, "unknown action %q", req.Action)
	}
}

func (l *Lifecycle) resolveTargets(req *TransitionRequest) (TierTargets, error) {
	if req.Targets != nil {
		return *req.Targets, nil
	}
	targets, ok := l.tiers[req.SelectedTier]
	if !ok {
		return TierTargets{}, problem.New(problem.Invalid, "no targets available for tier %q", req.SelectedTier)
	}
	return targets, nil
}

func (l *Lifecycle) sloFromTargets(serviceID string, req *TransitionRequest, targets TierTargets, source Source) *ActiveSLO {
	availability := targets.AvailabilityPct
	p95 := targets.LatencyP95MS
	p99 := targets.LatencyP99MS
	return &ActiveSLO{
		ServiceID:             serviceID,
		AvailabilityTargetPct: &availability,
		LatencyP95TargetMS:    &p95,
		LatencyP99TargetMS:    &p99,
		Source:                source,
		SelectedTier:          req.SelectedTier,
		ActivatedAt:           l.now(),
		ActivatedBy:           req.Actor,
	}
}

func (l *Lifecycle) transition(ctx context.Context, serviceID string, replace bool, next *ActiveSLO, entry *AuditEntry) (*TransitionResult, error) {
	active, stored, err := l.repo.Transition(ctx, serviceID, replace, next, entry)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"service": serviceID, "action": entry.Action, "tier": entry.SelectedTier, "actor": entry.Actor,
	}).Info("slo transition applied")

	result := &TransitionResult{Entry: stored}
	if replace {
		result.Active = active
	}
	return result, nil
}
