// Package graph holds the service dependency graph: the data model, the
// store abstraction, bounded traversal, multi-source edge reconciliation,
// and cycle detection.
package graph

import (
	"time"

	"github.com/google/uuid"
	"github.com/sloscope/sloscope/pkg/problem"
)

// Criticality ranks how important a service is to the business.
type Criticality string

const (
	CriticalityCritical Criticality = "critical"
	CriticalityHigh     Criticality = "high"
	CriticalityMedium   Criticality = "medium"
	CriticalityLow      Criticality = "low"
)

// ServiceType distinguishes services we run from vendor dependencies.
type ServiceType string

const (
	ServiceInternal ServiceType = "internal"
	ServiceExternal ServiceType = "external"
)

// CommunicationMode says whether a call sits on the critical request path.
type CommunicationMode string

const (
	ModeSync  CommunicationMode = "sync"
	ModeAsync CommunicationMode = "async"
)

// EdgeCriticality says what happens to the source when the target fails.
type EdgeCriticality string

const (
	EdgeHard     EdgeCriticality = "hard"
	EdgeSoft     EdgeCriticality = "soft"
	EdgeDegraded EdgeCriticality = "degraded"
)

// DiscoverySource identifies who told us an edge exists. It defines the
// merge priority in merge.go.
type DiscoverySource string

const (
	SourceManual          DiscoverySource = "manual"
	SourceServiceMesh     DiscoverySource = "service_mesh"
	SourceOtelServiceGraph DiscoverySource = "otel_service_graph"
	SourceKubernetes      DiscoverySource = "kubernetes"
)

// AlertStatus is the lifecycle state of a circular dependency alert.
type AlertStatus string

const (
	AlertOpen         AlertStatus = "open"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

var alertStatusRank = map[AlertStatus]int{
	AlertOpen:         0,
	AlertAcknowledged: 1,
	AlertResolved:     2,
}

// CanTransitionAlert reports whether an alert may move between the two
// statuses. The lifecycle only moves forward (open, acknowledged,
// resolved); re-applying the current status is allowed and only refreshes
// the notes.
func CanTransitionAlert(from, to AlertStatus) bool {
	return alertStatusRank[to] >= alertStatusRank[from]
}

// Service is a node in the dependency graph. ServiceID is the stable
// business identifier and is immutable once assigned; UID is the internal
// identifier every edge references.
type Service struct {
	UID          uuid.UUID         `json:"uid"`
	ServiceID    string            `json:"service_id"`
	Team         string            `json:"team,omitempty"`
	Criticality  Criticality       `json:"criticality"`
	Type         ServiceType       `json:"service_type"`
	PublishedSLA *float64          `json:"published_sla,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Discovered   bool              `json:"discovered"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// RetryConfig is the well-known retry attributes of an edge. Anything a
// discovery source reports beyond these lands in Edge.Attributes.
type RetryConfig struct {
	MaxAttempts int    `json:"max_attempts,omitempty"`
	BackoffMS   int    `json:"backoff_ms,omitempty"`
	Policy      string `json:"policy,omitempty"`
}

// Edge is a directed dependency from SourceUID to TargetUID. The same
// logical edge may exist once per discovery source; reads reconcile the
// duplicates by priority.
type Edge struct {
	UID              uuid.UUID         `json:"uid"`
	SourceUID        uuid.UUID         `json:"source_uid"`
	TargetUID        uuid.UUID         `json:"target_uid"`
	Mode             CommunicationMode `json:"communication_mode"`
	Criticality      EdgeCriticality   `json:"criticality"`
	Protocol         string            `json:"protocol,omitempty"`
	TimeoutMS        *int              `json:"timeout_ms,omitempty"`
	Retry            *RetryConfig      `json:"retry_config,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
	DiscoverySource  DiscoverySource   `json:"discovery_source"`
	ConfidenceScore  float64           `json:"confidence_score"`
	ObservationCount int               `json:"observation_count"`
	LastObservedAt   time.Time         `json:"last_observed_at"`
	Stale            bool              `json:"is_stale"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Alert records one canonicalized dependency cycle. Path lists service_ids
// in cycle order, already canonicalized; at most one alert exists per
// canonical path.
type Alert struct {
	UID             uuid.UUID   `json:"uid"`
	Path            []string    `json:"cycle_path"`
	Status          AlertStatus `json:"status"`
	DetectedAt      time.Time   `json:"detected_at"`
	ResolutionNotes string      `json:"resolution_notes,omitempty"`
}

// Validate checks the service invariants from the data model.
func (s *Service) Validate() error {
	if s.ServiceID == "" {
		return problem.New(problem.Invalid, "service_id must not be empty")
	}
	switch s.Criticality {
	case CriticalityCritical, CriticalityHigh, CriticalityMedium, CriticalityLow:
	default:
		return problem.New(problem.Invalid, "service %s: unknown criticality %q", s.ServiceID, s.Criticality)
	}
	switch s.Type {
	case ServiceInternal, ServiceExternal:
	default:
		return problem.New(problem.Invalid, "service %s: unknown service_type %q", s.ServiceID, s.Type)
	}
	if s.PublishedSLA != nil && (*s.PublishedSLA < 0 || *s.PublishedSLA > 1) {
		return problem.New(problem.Invalid, "service %s: published_sla %f outside [0,1]", s.ServiceID, *s.PublishedSLA)
	}
	return nil
}

// Validate checks the edge invariants from the data model.
func (e *Edge) Validate() error {
	if e.SourceUID == e.TargetUID {
		return problem.New(problem.Invalid, "edge %s: self-loops are not allowed", e.UID)
	}
	switch e.Mode {
	case ModeSync, ModeAsync:
	default:
		return problem.New(problem.Invalid, "edge %s: unknown communication_mode %q", e.UID, e.Mode)
	}
	switch e.Criticality {
	case EdgeHard, EdgeSoft, EdgeDegraded:
	default:
		return problem.New(problem.Invalid, "edge %s: unknown criticality %q", e.UID, e.Criticality)
	}
	switch e.DiscoverySource {
	case SourceManual, SourceServiceMesh, SourceOtelServiceGraph, SourceKubernetes:
	default:
		return problem.New(problem.Invalid, "edge %s: unknown discovery_source %q", e.UID, e.DiscoverySource)
	}
	if e.ConfidenceScore < 0 || e.ConfidenceScore > 1 {
		return problem.New(problem.Invalid, "edge %s: confidence_score %f outside [0,1]", e.UID, e.ConfidenceScore)
	}
	if e.TimeoutMS != nil && *e.TimeoutMS <= 0 {
		return problem.New(problem.Invalid, "edge %s: timeout_ms must be positive", e.UID)
	}
	return nil
}

// IsHardSync reports whether the edge contributes to composite availability.
func (e *Edge) IsHardSync() bool {
	return e.Criticality == EdgeHard && e.Mode == ModeSync
}
