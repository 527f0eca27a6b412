package graph

import (
	"context"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sloscope/sloscope/pkg/problem"
)

// IngestNode is one service in an ingestion payload. Recognized metadata
// keys (team, criticality) are lifted onto the service; the rest is kept
// opaque.
type IngestNode struct {
	ServiceID string            `json:"service_id"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// IngestEdgeAttributes is the well-known attribute block of an ingested
// edge.
type IngestEdgeAttributes struct {
	CommunicationMode CommunicationMode `json:"communication_mode"`
	Criticality       EdgeCriticality   `json:"criticality"`
	Protocol          string            `json:"protocol,omitempty"`
	TimeoutMS         *int              `json:"timeout_ms,omitempty"`
	RetryConfig       *RetryConfig      `json:"retry_config,omitempty"`

	// Extra carries source-specific attributes the model keeps opaque,
	// e.g. redundancy_group.
	Extra map[string]string `json:"extra,omitempty"`
}

// IngestEdge is one directed edge in an ingestion payload, by service_id.
type IngestEdge struct {
	Source     string               `json:"source"`
	Target     string               `json:"target"`
	Attributes IngestEdgeAttributes `json:"attributes"`
}

// IngestRequest is a snapshot from one discovery source.
type IngestRequest struct {
	Source    DiscoverySource `json:"source"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
	Nodes     []IngestNode    `json:"nodes"`
	Edges     []IngestEdge    `json:"edges"`
}

// IngestReport is what an ingestion returns to the caller.
type IngestReport struct {
	NodesReceived int        `json:"nodes_received"`
	NodesUpserted int        `json:"nodes_upserted"`
	EdgesReceived int        `json:"edges_received"`
	EdgesUpserted int        `json:"edges_upserted"`
	NewCycles     []Cycle    `json:"new_cycles,omitempty"`
	NewAlertUIDs  []string   `json:"new_alert_uids,omitempty"`
	Conflicts     []Conflict `json:"conflicts,omitempty"`
	Warnings      []string   `json:"warnings,omitempty"`
}

// Ingestor merges discovery snapshots into the store and runs cycle
// detection over the result.
type Ingestor struct {
	store Store
}

// NewIngestor returns an Ingestor over the given store.
func NewIngestor(store Store) *Ingestor {
	return &Ingestor{store: store}
}

// Ingest applies one discovery snapshot. Services referenced only by edges
// are auto-created as discovered with medium criticality. Edge rows are
// upserted per (source, target, discovery_source); they are never deleted
// here — absence is handled by the stale sweep.
func (ing *Ingestor) Ingest(ctx context.Context, req *IngestRequest) (*IngestReport, error) {
	switch req.Source {
	case SourceManual, SourceServiceMesh, SourceOtelServiceGraph, SourceKubernetes:
	default:
		return nil, problem.New(problem.Invalid, "unknown discovery source %q", req.Source)
	}

	report := &IngestReport{
		NodesReceived: len(req.Nodes),
		EdgesReceived: len(req.Edges),
	}

	services := make([]*Service, 0, len(req.Nodes))
	declared := make(map[string]bool, len(req.Nodes))
	for _, n := range req.Nodes {
		if n.ServiceID == "" {
			return nil, problem.New(problem.Invalid, "ingestion node without service_id")
		}
		declared[n.ServiceID] = true
		services = append(services, serviceFromNode(n))
	}

	// auto-create endpoints the payload references but does not declare
	for _, e := range req.Edges {
		for _, id := range []string{e.Source, e.Target} {
			if id == "" {
				return nil, problem.New(problem.Invalid, "ingestion edge with empty endpoint")
			}
			if declared[id] {
				continue
			}
			if _, err := ing.store.GetService(ctx, id); err == nil {
				continue
			} else if !problem.IsKind(err, problem.NotFound) {
				return nil, err
			}
			declared[id] = true
			services = append(services, &Service{
				ServiceID:   id,
				Criticality: CriticalityMedium,
				Type:        ServiceInternal,
				Discovered:  true,
			})
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("service %q auto-created from %s edge reference", id, req.Source))
		}
	}

	upserted, err := ing.store.BulkUpsertServices(ctx, services)
	if err != nil {
		return nil, err
	}
	report.NodesUpserted = len(upserted)

	byID := make(map[string]*Service, len(upserted))
	for _, svc := range upserted {
		byID[svc.ServiceID] = svc
	}

	edges := make([]*Edge, 0, len(req.Edges))
	for _, e := range req.Edges {
		src, ok := byID[e.Source]
		if !ok {
			if src, err = ing.store.GetService(ctx, e.Source); err != nil {
				return nil, err
			}
		}
		tgt, ok := byID[e.Target]
		if !ok {
			if tgt, err = ing.store.GetService(ctx, e.Target); err != nil {
				return nil, err
			}
		}
		if e.Source == e.Target {
			return nil, problem.New(problem.Invalid, "edge %s -> %s is a self-loop", e.Source, e.Target)
		}
		edges = append(edges, &Edge{
			SourceUID:       src.UID,
			TargetUID:       tgt.UID,
			Mode:            e.Attributes.CommunicationMode,
			Criticality:     e.Attributes.Criticality,
			Protocol:        e.Attributes.Protocol,
			TimeoutMS:       e.Attributes.TimeoutMS,
			Retry:           e.Attributes.RetryConfig,
			Attributes:      e.Attributes.Extra,
			DiscoverySource: req.Source,
		})
	}

	upsertedEdges, conflicts, err := ing.store.BulkUpsertEdges(ctx, edges)
	if err != nil {
		return nil, err
	}
	report.EdgesUpserted = len(upsertedEdges)
	report.Conflicts = conflicts

	sweep, err := DetectCycles(ctx, ing.store)
	if err != nil {
		// cycle detection failing should not lose the ingestion
		log.Errorf("cycle sweep after ingestion failed: %s", err)
		report.Warnings = append(report.Warnings, "cycle detection incomplete; will retry on next sweep")
		return report, nil
	}
	for _, a := range sweep.NewAlerts {
		report.NewCycles = append(report.NewCycles, Cycle{Path: a.Path})
		report.NewAlertUIDs = append(report.NewAlertUIDs, a.UID.String())
	}

	log.WithFields(log.Fields{
		"source": req.Source, "nodes": report.NodesUpserted, "edges": report.EdgesUpserted,
		"conflicts": len(report.Conflicts), "new_cycles": len(report.NewCycles),
	}).Info("ingestion applied")

	return report, nil
}

func serviceFromNode(n IngestNode) *Service {
	svc := &Service{
		ServiceID:   n.ServiceID,
		Criticality: CriticalityMedium,
		Type:        ServiceInternal,
	}
	meta := make(map[string]string, len(n.Metadata))
	for k, v := range n.Metadata {
		switch k {
		case "team":
			svc.Team = v
		case "criticality":
			svc.Criticality = Criticality(v)
		case "service_type":
			svc.Type = ServiceType(v)
		case "published_sla":
			if sla, err := strconv.ParseFloat(v, 64); err == nil {
				svc.PublishedSLA = &sla
			}
		default:
			meta[k] = v
		}
	}
	if len(meta) > 0 {
		svc.Metadata = meta
	}
	return svc
}
