package slo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sloscope/sloscope/pkg/problem"
)

// Repository stores active SLOs and the audit log. Transition is the only
// write path; it is atomic per service so the active record and the audit
// log can never diverge.
type Repository interface {
	// GetActive returns the SLO in force for a service, failing NotFound
	// when none is set.
	GetActive(ctx context.Context, serviceID string) (*ActiveSLO, error)

	// History returns the audit entries for a service, newest first.
	History(ctx context.Context, serviceID string) ([]*AuditEntry, error)

	// Transition atomically applies one lifecycle step: when replace is
	// true the active SLO becomes next, otherwise it is left untouched;
	// either way entry is appended. The previous-SLO snapshot and the
	// server-assigned fields (UID, Seq, Timestamp) are filled here, under
	// the per-service writer lock.
	Transition(ctx context.Context, serviceID string, replace bool, next *ActiveSLO, entry *AuditEntry) (*ActiveSLO, *AuditEntry, error)
}

// MemoryRepository keeps SLO state in process. A single mutex serializes
// writers; readers take the read lock and observe a consistent snapshot.
type MemoryRepository struct {
	mu     sync.RWMutex
	active map[string]*ActiveSLO
	audit  map[string][]*AuditEntry
	seq    uint64

	// Now is the clock; tests override it.
	Now func() time.Time
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		active: map[string]*ActiveSLO{},
		audit:  map[string][]*AuditEntry{},
		Now:    time.Now,
	}
}

func (r *MemoryRepository) GetActive(ctx context.Context, serviceID string) (*ActiveSLO, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	current, ok := r.active[serviceID]
	if !ok {
		return nil, problem.New(problem.NotFound, "service %q has no active SLO", serviceID)
	}
	return cloneSLO(current), nil
}

func (r *MemoryRepository) History(ctx context.Context, serviceID string) ([]*AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.audit[serviceID]
	out := make([]*AuditEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, cloneEntry(e))
	}
	// newest first; seq breaks timestamp ties
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].Seq > out[j].Seq
	})
	return out, nil
}

func (r *MemoryRepository) Transition(ctx context.Context, serviceID string, replace bool, next *ActiveSLO, entry *AuditEntry) (*ActiveSLO, *AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.active[serviceID]

	stored := cloneEntry(entry)
	stored.UID = uuid.New()
	r.seq++
	stored.Seq = r.seq
	stored.ServiceID = serviceID
	stored.Timestamp = r.Now()
	if current != nil {
		stored.PreviousSLO = cloneSLO(current)
	}

	result := current
	if replace {
		if next == nil {
			return nil, nil, problem.New(problem.Internal, "transition with replace=true requires a next SLO")
		}
		result = cloneSLO(next)
		result.ServiceID = serviceID
		r.active[serviceID] = result
		stored.NewSLO = cloneSLO(result)
	} else if current != nil {
		stored.NewSLO = cloneSLO(current)
	}

	r.audit[serviceID] = append(r.audit[serviceID], stored)

	var out *ActiveSLO
	if result != nil {
		out = cloneSLO(result)
	}
	return out, cloneEntry(stored), nil
}

func cloneSLO(s *ActiveSLO) *ActiveSLO {
	if s == nil {
		return nil
	}
	out := *s
	out.AvailabilityTargetPct = cloneFloat(s.AvailabilityTargetPct)
	out.LatencyP95TargetMS = cloneFloat(s.LatencyP95TargetMS)
	out.LatencyP99TargetMS = cloneFloat(s.LatencyP99TargetMS)
	return &out
}

func cloneEntry(e *AuditEntry) *AuditEntry {
	out := *e
	out.PreviousSLO = cloneSLO(e.PreviousSLO)
	out.NewSLO = cloneSLO(e.NewSLO)
	if e.ModificationDelta != nil {
		out.ModificationDelta = make(map[string]float64, len(e.ModificationDelta))
		for k, v := range e.ModificationDelta {
			out.ModificationDelta[k] = v
		}
	}
	return &out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
