package graph

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sloscope/sloscope/pkg/problem"
)

type tripleKey struct {
	source uuid.UUID
	target uuid.UUID
	from   DiscoverySource
}

// MemoryStore is the in-process Store used by tests and the demo path.
// A single RWMutex guards all maps; methods hand out copies so readers
// never observe a row mid-update.
type MemoryStore struct {
	mu            sync.RWMutex
	servicesByID  map[string]*Service
	servicesByUID map[uuid.UUID]*Service
	edges         map[tripleKey]*Edge
	alertsByPath  map[string]*Alert
	alertsByUID   map[uuid.UUID]*Alert

	// Now is the clock; tests override it.
	Now func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		servicesByID:  map[string]*Service{},
		servicesByUID: map[uuid.UUID]*Service{},
		edges:         map[tripleKey]*Edge{},
		alertsByPath:  map[string]*Alert{},
		alertsByUID:   map[uuid.UUID]*Alert{},
		Now:           time.Now,
	}
}

func (m *MemoryStore) GetService(ctx context.Context, serviceID string) (*Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.servicesByID[serviceID]
	if !ok {
		return nil, problem.New(problem.NotFound, "service %q is not registered", serviceID)
	}
	return cloneService(svc), nil
}

func (m *MemoryStore) ServicesByUID(ctx context.Context, uids []uuid.UUID) (map[uuid.UUID]*Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uuid.UUID]*Service, len(uids))
	for _, uid := range uids {
		if svc, ok := m.servicesByUID[uid]; ok {
			out[uid] = cloneService(svc)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListServices(ctx context.Context) ([]*Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Service, 0, len(m.servicesByID))
	for _, svc := range m.servicesByID {
		out = append(out, cloneService(svc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out, nil
}

func (m *MemoryStore) BulkUpsertServices(ctx context.Context, services []*Service) ([]*Service, error) {
	for _, svc := range services {
		if err := svc.Validate(); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	out := make([]*Service, 0, len(services))
	for _, svc := range services {
		existing, ok := m.servicesByID[svc.ServiceID]
		if !ok {
			stored := cloneService(svc)
			stored.UID = uuid.New()
			stored.CreatedAt = now
			stored.UpdatedAt = now
			m.servicesByID[stored.ServiceID] = stored
			m.servicesByUID[stored.UID] = stored
			out = append(out, cloneService(stored))
			continue
		}
		// service_id and UID are immutable; everything else updates
		existing.Team = svc.Team
		existing.Criticality = svc.Criticality
		existing.Type = svc.Type
		existing.PublishedSLA = svc.PublishedSLA
		existing.Metadata = svc.Metadata
		if !svc.Discovered {
			existing.Discovered = false
		}
		existing.UpdatedAt = now
		out = append(out, cloneService(existing))
	}
	return out, nil
}

func (m *MemoryStore) EdgesBySource(ctx context.Context, source uuid.UUID) ([]*Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Edge
	for k, e := range m.edges {
		if k.source == source {
			out = append(out, cloneEdge(e))
		}
	}
	sortEdges(out)
	return out, nil
}

func (m *MemoryStore) EdgesByTarget(ctx context.Context, target uuid.UUID) ([]*Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Edge
	for k, e := range m.edges {
		if k.target == target {
			out = append(out, cloneEdge(e))
		}
	}
	sortEdges(out)
	return out, nil
}

func (m *MemoryStore) BulkUpsertEdges(ctx context.Context, edges []*Edge) ([]*Edge, []Conflict, error) {
	for _, e := range edges {
		if err := e.Validate(); err != nil {
			return nil, nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	out := make([]*Edge, 0, len(edges))
	var conflicts []Conflict

	for _, e := range edges {
		key := tripleKey{e.SourceUID, e.TargetUID, e.DiscoverySource}
		existing, ok := m.edges[key]
		if ok {
			ApplySameSourceUpdate(existing, e, now)
			out = append(out, cloneEdge(existing))
		} else {
			stored := cloneEdge(e)
			stored.UID = uuid.New()
			stored.ObservationCount = 1
			stored.ConfidenceScore = Confidence(stored.DiscoverySource, stored.ObservationCount)
			stored.LastObservedAt = now
			stored.Stale = false
			stored.CreatedAt = now
			stored.UpdatedAt = now
			m.edges[key] = stored
			out = append(out, cloneEdge(stored))
		}

		for other, row := range m.edges {
			if other.source == key.source && other.target == key.target && other.from != key.from {
				conflicts = append(conflicts, ResolveConflict(
					m.serviceIDLocked(key.source), m.serviceIDLocked(key.target),
					row.DiscoverySource, e.DiscoverySource))
			}
		}
	}
	return out, conflicts, nil
}

func (m *MemoryStore) serviceIDLocked(uid uuid.UUID) string {
	if svc, ok := m.servicesByUID[uid]; ok {
		return svc.ServiceID
	}
	return uid.String()
}

func (m *MemoryStore) AdjacencyList(ctx context.Context) (map[uuid.UUID][]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]*Edge, 0, len(m.edges))
	for _, e := range m.edges {
		if e.Stale {
			continue
		}
		all = append(all, e)
	}
	out := map[uuid.UUID][]uuid.UUID{}
	for _, e := range Reconcile(all) {
		out[e.SourceUID] = append(out[e.SourceUID], e.TargetUID)
	}
	return out, nil
}

func (m *MemoryStore) MarkStaleEdges(ctx context.Context, threshold time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.Now().Add(-threshold)
	marked := 0
	for _, e := range m.edges {
		if !e.Stale && e.LastObservedAt.Before(cutoff) {
			e.Stale = true
			e.UpdatedAt = m.Now()
			marked++
		}
	}
	return marked, nil
}

func (m *MemoryStore) CreateAlertIfAbsent(ctx context.Context, path []string) (*Alert, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.Join(path, "|")
	if existing, ok := m.alertsByPath[key]; ok {
		return cloneAlert(existing), false, nil
	}
	alert := &Alert{
		UID:        uuid.New(),
		Path:       append([]string(nil), path...),
		Status:     AlertOpen,
		DetectedAt: m.Now(),
	}
	m.alertsByPath[key] = alert
	m.alertsByUID[alert.UID] = alert
	return cloneAlert(alert), true, nil
}

func (m *MemoryStore) ListAlerts(ctx context.Context, status AlertStatus) ([]*Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Alert
	for _, a := range m.alertsByUID {
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, cloneAlert(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.After(out[j].DetectedAt)
		}
		return strings.Join(out[i].Path, "|") < strings.Join(out[j].Path, "|")
	})
	return out, nil
}

func (m *MemoryStore) UpdateAlertStatus(ctx context.Context, uid uuid.UUID, status AlertStatus, notes string) (*Alert, error) {
	switch status {
	case AlertOpen, AlertAcknowledged, AlertResolved:
	default:
		return nil, problem.New(problem.Invalid, "unknown alert status %q", status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alertsByUID[uid]
	if !ok {
		return nil, problem.New(problem.NotFound, "alert %s does not exist", uid)
	}
	if !CanTransitionAlert(alert.Status, status) {
		return nil, problem.New(problem.Conflict, "alert %s is %s; cannot move back to %s", uid, alert.Status, status)
	}
	alert.Status = status
	if notes != "" {
		alert.ResolutionNotes = notes
	}
	return cloneAlert(alert), nil
}

func sortEdges(edges []*Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].TargetUID != edges[j].TargetUID {
			return edges[i].TargetUID.String() < edges[j].TargetUID.String()
		}
		if edges[i].SourceUID != edges[j].SourceUID {
			return edges[i].SourceUID.String() < edges[j].SourceUID.String()
		}
		return Priority(edges[i].DiscoverySource) > Priority(edges[j].DiscoverySource)
	})
}

func cloneService(s *Service) *Service {
	out := *s
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	if s.PublishedSLA != nil {
		sla := *s.PublishedSLA
		out.PublishedSLA = &sla
	}
	return &out
}

func cloneEdge(e *Edge) *Edge {
	out := *e
	if e.TimeoutMS != nil {
		t := *e.TimeoutMS
		out.TimeoutMS = &t
	}
	if e.Retry != nil {
		r := *e.Retry
		out.Retry = &r
	}
	if e.Attributes != nil {
		out.Attributes = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			out.Attributes[k] = v
		}
	}
	return &out
}

func cloneAlert(a *Alert) *Alert {
	out := *a
	out.Path = append([]string(nil), a.Path...)
	return &out
}
