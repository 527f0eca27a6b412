package graph

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultStaleThreshold is how long an edge may go unobserved before the
// stale sweep marks it. Seven days; configurable at the server.
const DefaultStaleThreshold = 168 * time.Hour

// MaxTraversalDepth bounds every recursive traversal.
const MaxTraversalDepth = 10

// Direction selects which edges a traversal follows.
type Direction string

const (
	DirectionUpstream   Direction = "upstream"
	DirectionDownstream Direction = "downstream"
	DirectionBoth       Direction = "both"
)

// Store is the single shared mutable resource of the server. All graph
// reads and writes go through it. Implementations: the in-memory store in
// this package and the Postgres store in controller/storage/postgres.
type Store interface {
	// GetService resolves a service by its business identifier. Fails
	// NotFound when unknown.
	GetService(ctx context.Context, serviceID string) (*Service, error)

	// ServicesByUID resolves a batch of internal identifiers. Unknown UIDs
	// are simply absent from the result.
	ServicesByUID(ctx context.Context, uids []uuid.UUID) (map[uuid.UUID]*Service, error)

	// ListServices returns all registered services, ordered by service_id.
	ListServices(ctx context.Context) ([]*Service, error)

	// BulkUpsertServices inserts or updates services matching on
	// service_id. Returned services carry assigned UIDs and timestamps.
	BulkUpsertServices(ctx context.Context, services []*Service) ([]*Service, error)

	// EdgesBySource returns all edge rows whose source is the given UID.
	EdgesBySource(ctx context.Context, source uuid.UUID) ([]*Edge, error)

	// EdgesByTarget returns all edge rows whose target is the given UID.
	EdgesByTarget(ctx context.Context, target uuid.UUID) ([]*Edge, error)

	// BulkUpsertEdges inserts or updates edges matching on the
	// (source, target, discovery_source) triple. Rows for the same logical
	// edge from other sources are left in place; a Conflict record is
	// returned for each genuine cross-source overlap, resolved per the
	// priority order in merge.go.
	BulkUpsertEdges(ctx context.Context, edges []*Edge) ([]*Edge, []Conflict, error)

	// AdjacencyList returns the reconciled, non-stale downstream adjacency,
	// keyed and valued by internal identifier. Cycle detection runs on this
	// snapshot.
	AdjacencyList(ctx context.Context) (map[uuid.UUID][]uuid.UUID, error)

	// MarkStaleEdges sets is_stale on edges unobserved for longer than
	// threshold and returns how many it marked.
	MarkStaleEdges(ctx context.Context, threshold time.Duration) (int, error)

	// CreateAlertIfAbsent inserts an open alert for a canonical cycle path.
	// If an alert for the path already exists (any status), the insert is
	// suppressed and created is false.
	CreateAlertIfAbsent(ctx context.Context, path []string) (alert *Alert, created bool, err error)

	// ListAlerts returns alerts, optionally filtered by status, newest
	// first.
	ListAlerts(ctx context.Context, status AlertStatus) ([]*Alert, error)

	// UpdateAlertStatus transitions an alert and records notes. Fails
	// NotFound for unknown alerts and Conflict for backward transitions
	// (see CanTransitionAlert).
	UpdateAlertStatus(ctx context.Context, uid uuid.UUID, status AlertStatus, notes string) (*Alert, error)
}
