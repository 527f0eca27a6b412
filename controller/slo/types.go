// Package slo owns active service-level objectives and the append-only
// audit trail around their lifecycle.
package slo

import (
	"time"

	"github.com/google/uuid"
)

// Tier names a recommendation preset.
type Tier string

const (
	TierConservative Tier = "conservative"
	TierBalanced     Tier = "balanced"
	TierAggressive   Tier = "aggressive"
)

// Action is a lifecycle transition recorded in the audit log.
type Action string

const (
	ActionAccept         Action = "accept"
	ActionModify         Action = "modify"
	ActionReject         Action = "reject"
	ActionAutoApprove    Action = "auto_approve"
	ActionExpire         Action = "expire"
	ActionDriftTriggered Action = "drift_triggered"
)

// Source says where an active SLO came from.
type Source string

const (
	SourceRecommendationAccepted Source = "recommendation_accepted"
	SourceRecommendationModified Source = "recommendation_modified"
	SourceManual                 Source = "manual"
)

// ActiveSLO is the one SLO currently in force for a service. It is
// replaced, not versioned; history lives in the audit log.
type ActiveSLO struct {
	ServiceID             string    `json:"service_id"`
	AvailabilityTargetPct *float64  `json:"availability_target,omitempty"`
	LatencyP95TargetMS    *float64  `json:"latency_p95_target_ms,omitempty"`
	LatencyP99TargetMS    *float64  `json:"latency_p99_target_ms,omitempty"`
	Source                Source    `json:"source"`
	SelectedTier          Tier      `json:"selected_tier"`
	ActivatedAt           time.Time `json:"activated_at"`
	ActivatedBy           string    `json:"activated_by"`
}

// AuditEntry is one immutable record in the per-service audit log. UID,
// Seq and Timestamp are server-assigned; Seq breaks timestamp ties to keep
// the log totally ordered.
type AuditEntry struct {
	UID               uuid.UUID          `json:"uid"`
	Seq               uint64             `json:"seq"`
	ServiceID         string             `json:"service_id"`
	Action            Action             `json:"action"`
	Actor             string             `json:"actor"`
	Timestamp         time.Time          `json:"timestamp"`
	RecommendationID  string             `json:"recommendation_id,omitempty"`
	PreviousSLO       *ActiveSLO         `json:"previous_slo,omitempty"`
	NewSLO            *ActiveSLO         `json:"new_slo,omitempty"`
	SelectedTier      Tier               `json:"selected_tier,omitempty"`
	Rationale         string             `json:"rationale,omitempty"`
	ModificationDelta map[string]float64 `json:"modification_delta,omitempty"`
}

// TierTargets are the numeric targets of one recommendation tier.
type TierTargets struct {
	AvailabilityPct float64 `json:"availability"`
	LatencyP95MS    float64 `json:"p95_ms"`
	LatencyP99MS    float64 `json:"p99_ms"`
}

// DefaultTierTargets is the demo-path catalog used when a recommendation
// body is not provided. Production injects targets from the recommendation
// generator instead.
func DefaultTierTargets() map[Tier]TierTargets {
	return map[Tier]TierTargets{
		TierConservative: {AvailabilityPct: 99.5, LatencyP95MS: 300, LatencyP99MS: 1200},
		TierBalanced:     {AvailabilityPct: 99.9, LatencyP95MS: 200, LatencyP99MS: 800},
		TierAggressive:   {AvailabilityPct: 99.95, LatencyP95MS: 150, LatencyP99MS: 500},
	}
}
