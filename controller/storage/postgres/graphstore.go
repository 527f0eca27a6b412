package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sloscope/sloscope/controller/graph"
	"github.com/sloscope/sloscope/pkg/problem"
)

// GraphStore is the PostgreSQL implementation of graph.Store.
type GraphStore struct {
	db *sqlx.DB

	// Now is the clock; tests override it.
	Now func() time.Time
}

// NewGraphStore wraps an open database handle.
func NewGraphStore(db *sqlx.DB) *GraphStore {
	return &GraphStore{db: db, Now: time.Now}
}

const serviceColumns = `uid, service_id, team, criticality, service_type, published_sla, metadata, discovered, created_at, updated_at`

type serviceRow struct {
	UID          uuid.UUID `db:"uid"`
	ServiceID    string    `db:"service_id"`
	Team         string    `db:"team"`
	Criticality  string    `db:"criticality"`
	ServiceType  string    `db:"service_type"`
	PublishedSLA *float64  `db:"published_sla"`
	Metadata     []byte    `db:"metadata"`
	Discovered   bool      `db:"discovered"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r serviceRow) toService() (*graph.Service, error) {
	svc := &graph.Service{
		UID:          r.UID,
		ServiceID:    r.ServiceID,
		Team:         r.Team,
		Criticality:  graph.Criticality(r.Criticality),
		Type:         graph.ServiceType(r.ServiceType),
		PublishedSLA: r.PublishedSLA,
		Discovered:   r.Discovered,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &svc.Metadata); err != nil {
			return nil, problem.Wrap(problem.Internal, err, "corrupt metadata for %s", r.ServiceID)
		}
	}
	return svc, nil
}

func (g *GraphStore) GetService(ctx context.Context, serviceID string) (*graph.Service, error) {
	var row serviceRow
	err := g.db.GetContext(ctx, &row,
		`SELECT `+serviceColumns+` FROM services WHERE service_id = $1`, serviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, problem.New(problem.NotFound, "service %q is not registered", serviceID)
	}
	if err != nil {
		return nil, problem.Wrap(problem.Internal, err, "could not load service %q", serviceID)
	}
	return row.toService()
}

func (g *GraphStore) ServicesByUID(ctx context.Context, uids []uuid.UUID) (map[uuid.UUID]*graph.Service, error) {
	out := make(map[uuid.UUID]*graph.Service, len(uids))
	if len(uids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT `+serviceColumns+` FROM services WHERE uid IN (?)`, uids)
	if err != nil {
		return nil, problem.Wrap(problem.Internal, err, "could not build uid query")
	}
	var rows []serviceRow
	if err := g.db.SelectContext(ctx, &rows, g.db.Rebind(query), args...); err != nil {
		return nil, problem.Wrap(problem.Internal, err, "could not load services by uid")
	}
	for _, r := range rows {
		svc, err := r.toService()
		if err != nil {
			return nil, err
		}
		out[svc.UID] = svc
	}
	return out, nil
}

func (g *GraphStore) ListServices(ctx context.Context) ([]*graph.Service, error) {
	var rows []serviceRow
	err := g.db.SelectContext(ctx, &rows,
		`SELECT `+serviceColumns+` FROM services ORDER BY service_id`)
	if err != nil {
		return nil, problem.Wrap(problem.Internal, err, "could not list services")
	}
	out := make([]*graph.Service, 0, len(rows))
	for _, r := range rows {
		svc, err := r.toService()
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, nil
}

const upsertServiceQuery = `
INSERT INTO services (` + serviceColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
ON CONFLICT (service_id) DO UPDATE SET
    team          = EXCLUDED.team,
    criticality   = EXCLUDED.criticality,
    service_type  = EXCLUDED.service_type,
    published_sla = EXCLUDED.published_sla,
    metadata      = EXCLUDED.metadata,
    discovered    = services.discovered AND EXCLUDED.discovered,
    updated_at    = EXCLUDED.updated_at
RETURNING ` + serviceColumns

func (g *GraphStore) BulkUpsertServices(ctx context.Context, services []*graph.Service) ([]*graph.Service, error) {
	for _, svc := range services {
		if err := svc.Validate(); err != nil {
			return nil, err
		}
	}

	now := g.Now()
	out := make([]*graph.Service, 0, len(services))
	err := g.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, svc := range services {
			metadata, err := marshalJSON(svc.Metadata)
			if err != nil {
				return err
			}
			var row serviceRow
			err = tx.GetContext(ctx, &row, upsertServiceQuery,
				uuid.New(), svc.ServiceID, svc.Team, string(svc.Criticality),
				string(svc.Type), svc.PublishedSLA, metadata, svc.Discovered, now)
			if err != nil {
				return problem.Wrap(problem.Internal, err, "could not upsert service %q", svc.ServiceID)
			}
			stored, err := row.toService()
			if err != nil {
				return err
			}
			out = append(out, stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

const edgeColumns = `uid, source_uid, target_uid, communication_mode, criticality, protocol,
timeout_ms, retry_config, attributes, discovery_source, confidence_score,
observation_count, last_observed_at, is_stale, created_at, updated_at`

type edgeRow struct {
	UID              uuid.UUID `db:"uid"`
	SourceUID        uuid.UUID `db:"source_uid"`
	TargetUID        uuid.UUID `db:"target_uid"`
	Mode             string    `db:"communication_mode"`
	Criticality      string    `db:"criticality"`
	Protocol         string    `db:"protocol"`
	TimeoutMS        *int      `db:"timeout_ms"`
	RetryConfig      []byte    `db:"retry_config"`
	Attributes       []byte    `db:"attributes"`
	DiscoverySource  string    `db:"discovery_source"`
	ConfidenceScore  float64   `db:"confidence_score"`
	ObservationCount int       `db:"observation_count"`
	LastObservedAt   time.Time `db:"last_observed_at"`
	Stale            bool      `db:"is_stale"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r edgeRow) toEdge() (*graph.Edge, error) {
	e := &graph.Edge{
		UID:              r.UID,
		SourceUID:        r.SourceUID,
		TargetUID:        r.TargetUID,
		Mode:             graph.CommunicationMode(r.Mode),
		Criticality:      graph.EdgeCriticality(r.Criticality),
		Protocol:         r.Protocol,
		TimeoutMS:        r.TimeoutMS,
		DiscoverySource:  graph.DiscoverySource(r.DiscoverySource),
		ConfidenceScore:  r.ConfidenceScore,
		ObservationCount: r.ObservationCount,
		LastObservedAt:   r.LastObservedAt,
		Stale:            r.Stale,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if len(r.RetryConfig) > 0 {
		if err := json.Unmarshal(r.RetryConfig, &e.Retry); err != nil {
			return nil, problem.Wrap(problem.Internal, err, "corrupt retry_config on edge %s", r.UID)
		}
	}
	if len(r.Attributes) > 0 {
		if err := json.Unmarshal(r.Attributes, &e.Attributes); err != nil {
			return nil, problem.Wrap(problem.Internal, err, "corrupt attributes on edge %s", r.UID)
		}
	}
	return e, nil
}

func (g *GraphStore) EdgesBySource(ctx context.Context, source uuid.UUID) ([]*graph.Edge, error) {
	return g.selectEdges(ctx,
		`SELECT `+edgeColumns+` FROM service_dependencies
		 WHERE source_uid = $1 ORDER BY target_uid, discovery_source`, source)
}

func (g *GraphStore) EdgesByTarget(ctx context.Context, target uuid.UUID) ([]*graph.Edge, error) {
	return g.selectEdges(ctx,
		`SELECT `+edgeColumns+` FROM service_dependencies
		 WHERE target_uid = $1 ORDER BY source_uid, discovery_source`, target)
}

func (g *GraphStore) selectEdges(ctx context.Context, query string, args ...interface{}) ([]*graph.Edge, error) {
	var rows []edgeRow
	if err := g.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, problem.Wrap(problem.Internal, err, "could not load edges")
	}
	out := make([]*graph.Edge, 0, len(rows))
	for _, r := range rows {
		e, err := r.toEdge()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

const insertEdgeQuery = `
INSERT INTO service_dependencies (` + edgeColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, $12, FALSE, $12, $12)`

const updateEdgeQuery = `
UPDATE service_dependencies SET
    communication_mode = $2,
    criticality        = $3,
    protocol           = $4,
    timeout_ms         = $5,
    retry_config       = $6,
    attributes         = $7,
    confidence_score   = $8,
    observation_count  = $9,
    last_observed_at   = $10,
    is_stale           = FALSE,
    updated_at         = $10
WHERE uid = $1`

func (g *GraphStore) BulkUpsertEdges(ctx context.Context, edges []*graph.Edge) ([]*graph.Edge, []graph.Conflict, error) {
	for _, e := range edges {
		if err := e.Validate(); err != nil {
			return nil, nil, err
		}
	}

	now := g.Now()
	out := make([]*graph.Edge, 0, len(edges))
	var conflicts []graph.Conflict

	err := g.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, incoming := range edges {
			stored, err := g.upsertOneEdge(ctx, tx, incoming, now)
			if err != nil {
				return err
			}
			out = append(out, stored)

			found, err := g.conflictsFor(ctx, tx, stored)
			if err != nil {
				return err
			}
			conflicts = append(conflicts, found...)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, conflicts, nil
}

func (g *GraphStore) upsertOneEdge(ctx context.Context, tx *sqlx.Tx, incoming *graph.Edge, now time.Time) (*graph.Edge, error) {
	var row edgeRow
	err := tx.GetContext(ctx, &row,
		`SELECT `+edgeColumns+` FROM service_dependencies
		 WHERE source_uid = $1 AND target_uid = $2 AND discovery_source = $3
		 FOR UPDATE`,
		incoming.SourceUID, incoming.TargetUID, string(incoming.DiscoverySource))

	switch {
	case errors.Is(err, sql.ErrNoRows):
		stored := *incoming
		stored.UID = uuid.New()
		stored.ObservationCount = 1
		stored.ConfidenceScore = graph.Confidence(stored.DiscoverySource, 1)
		stored.LastObservedAt = now
		stored.Stale = false
		stored.CreatedAt = now
		stored.UpdatedAt = now

		retry, attrs, merr := marshalEdgeBlobs(&stored)
		if merr != nil {
			return nil, merr
		}
		_, err = tx.ExecContext(ctx, insertEdgeQuery,
			stored.UID, stored.SourceUID, stored.TargetUID, string(stored.Mode),
			string(stored.Criticality), stored.Protocol, stored.TimeoutMS,
			retry, attrs, string(stored.DiscoverySource), stored.ConfidenceScore, now)
		if err != nil {
			return nil, problem.Wrap(problem.Internal, err, "could not insert edge")
		}
		return &stored, nil

	case err != nil:
		return nil, problem.Wrap(problem.Internal, err, "could not look up edge")
	}

	existing, err := row.toEdge()
	if err != nil {
		return nil, err
	}
	graph.ApplySameSourceUpdate(existing, incoming, now)

	retry, attrs, err := marshalEdgeBlobs(existing)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, updateEdgeQuery,
		existing.UID, string(existing.Mode), string(existing.Criticality),
		existing.Protocol, existing.TimeoutMS, retry, attrs,
		existing.ConfidenceScore, existing.ObservationCount, now)
	if err != nil {
		return nil, problem.Wrap(problem.Internal, err, "could not update edge")
	}
	return existing, nil
}

func (g *GraphStore) conflictsFor(ctx context.Context, tx *sqlx.Tx, stored *graph.Edge) ([]graph.Conflict, error) {
	var rows []struct {
		Other    string `db:"discovery_source"`
		SourceID string `db:"source_id"`
		TargetID string `db:"target_id"`
	}
	err := tx.SelectContext(ctx, &rows,
		`SELECT d.discovery_source, src.service_id AS source_id, tgt.service_id AS target_id
		 FROM service_dependencies d
		 JOIN services src ON src.uid = d.source_uid
		 JOIN services tgt ON tgt.uid = d.target_uid
		 WHERE d.source_uid = $1 AND d.target_uid = $2 AND d.discovery_source <> $3`,
		stored.SourceUID, stored.TargetUID, string(stored.DiscoverySource))
	if err != nil {
		return nil, problem.Wrap(problem.Internal, err, "could not check edge conflicts")
	}
	out := make([]graph.Conflict, 0, len(rows))
	for _, r := range rows {
		out = append(out, graph.ResolveConflict(r.SourceID, r.TargetID,
			graph.DiscoverySource(r.Other), stored.DiscoverySource))
	}
	return out, nil
}

func (g *GraphStore) AdjacencyList(ctx context.Context) (map[uuid.UUID][]uuid.UUID, error) {
	edges, err := g.selectEdges(ctx,
		`SELECT `+edgeColumns+` FROM service_dependencies
		 WHERE NOT is_stale ORDER BY source_uid, target_uid, discovery_source`)
	if err != nil {
		return nil, err
	}
	adjacency := map[uuid.UUID][]uuid.UUID{}
	for _, e := range graph.Reconcile(edges) {
		adjacency[e.SourceUID] = append(adjacency[e.SourceUID], e.TargetUID)
	}
	return adjacency, nil
}

func (g *GraphStore) MarkStaleEdges(ctx context.Context, threshold time.Duration) (int, error) {
	now := g.Now()
	res, err := g.db.ExecContext(ctx,
		`UPDATE service_dependencies SET is_stale = TRUE, updated_at = $1
		 WHERE NOT is_stale AND last_observed_at < $2`,
		now, now.Add(-threshold))
	if err != nil {
		return 0, problem.Wrap(problem.Internal, err, "could not mark stale edges")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, problem.Wrap(problem.Internal, err, "could not count stale edges")
	}
	return int(n), nil
}

const alertColumns = `uid, cycle_path, status, detected_at, resolution_notes`

type alertRow struct {
	UID             uuid.UUID `db:"uid"`
	CyclePath       []byte    `db:"cycle_path"`
	Status          string    `db:"status"`
	DetectedAt      time.Time `db:"detected_at"`
	ResolutionNotes string    `db:"resolution_notes"`
}

func (r alertRow) toAlert() (*graph.Alert, error) {
	a := &graph.Alert{
		UID:             r.UID,
		Status:          graph.AlertStatus(r.Status),
		DetectedAt:      r.DetectedAt,
		ResolutionNotes: r.ResolutionNotes,
	}
	if err := json.Unmarshal(r.CyclePath, &a.Path); err != nil {
		return nil, problem.Wrap(problem.Internal, err, "corrupt cycle_path on alert %s", r.UID)
	}
	return a, nil
}

func (g *GraphStore) CreateAlertIfAbsent(ctx context.Context, path []string) (*graph.Alert, bool, error) {
	key := graph.Cycle{Path: path}.Key()
	pathJSON, err := marshalJSON(path)
	if err != nil {
		return nil, false, err
	}

	var row alertRow
	err = g.db.GetContext(ctx, &row,
		`INSERT INTO circular_dependency_alerts (uid, cycle_key, cycle_path, status, detected_at)
		 VALUES ($1, $2, $3, 'open', $4)
		 ON CONFLICT (cycle_key) DO NOTHING
		 RETURNING `+alertColumns,
		uuid.New(), key, pathJSON, g.Now())
	if err == nil {
		alert, aerr := row.toAlert()
		return alert, true, aerr
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, problem.Wrap(problem.Internal, err, "could not create alert")
	}

	// lost to an existing alert for the same canonical path
	err = g.db.GetContext(ctx, &row,
		`SELECT `+alertColumns+` FROM circular_dependency_alerts WHERE cycle_key = $1`, key)
	if err != nil {
		return nil, false, problem.Wrap(problem.Internal, err, "could not load existing alert")
	}
	alert, aerr := row.toAlert()
	return alert, false, aerr
}

func (g *GraphStore) ListAlerts(ctx context.Context, status graph.AlertStatus) ([]*graph.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM circular_dependency_alerts`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY detected_at DESC, uid`

	var rows []alertRow
	if err := g.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, problem.Wrap(problem.Internal, err, "could not list alerts")
	}
	out := make([]*graph.Alert, 0, len(rows))
	for _, r := range rows {
		a, err := r.toAlert()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (g *GraphStore) UpdateAlertStatus(ctx context.Context, uid uuid.UUID, status graph.AlertStatus, notes string) (*graph.Alert, error) {
	var row alertRow
	err := g.inTx(ctx, func(tx *sqlx.Tx) error {
		var current string
		err := tx.GetContext(ctx, &current,
			`SELECT status FROM circular_dependency_alerts WHERE uid = $1 FOR UPDATE`, uid)
		if errors.Is(err, sql.ErrNoRows) {
			return problem.New(problem.NotFound, "alert %s does not exist", uid)
		}
		if err != nil {
			return problem.Wrap(problem.Internal, err, "could not load alert %s", uid)
		}
		if !graph.CanTransitionAlert(graph.AlertStatus(current), status) {
			return problem.New(problem.Conflict, "alert %s is %s; cannot move back to %s", uid, current, status)
		}
		err = tx.GetContext(ctx, &row,
			`UPDATE circular_dependency_alerts
			 SET status = $2, resolution_notes = CASE WHEN $3 = '' THEN resolution_notes ELSE $3 END
			 WHERE uid = $1
			 RETURNING `+alertColumns,
			uid, string(status), notes)
		if err != nil {
			return problem.Wrap(problem.Internal, err, "could not update alert %s", uid)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return row.toAlert()
}

func (g *GraphStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return problem.Wrap(problem.Internal, err, "could not begin transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return problem.Wrap(problem.Internal, err, "could not commit transaction")
	}
	return nil
}

func marshalJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, problem.Wrap(problem.Internal, err, "could not encode json")
	}
	return b, nil
}

func marshalEdgeBlobs(e *graph.Edge) (retry, attrs []byte, err error) {
	if e.Retry != nil {
		if retry, err = marshalJSON(e.Retry); err != nil {
			return nil, nil, err
		}
	}
	attrs = []byte("{}")
	if e.Attributes != nil {
		if attrs, err = marshalJSON(e.Attributes); err != nil {
			return nil, nil, err
		}
	}
	return retry, attrs, nil
}
