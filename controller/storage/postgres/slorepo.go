package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sloscope/sloscope/controller/slo"
	"github.com/sloscope/sloscope/pkg/problem"
)

// SLORepository is the PostgreSQL implementation of slo.Repository. A
// per-service advisory lock serializes transitions so the active row and
// the audit log move together.
type SLORepository struct {
	db *sqlx.DB

	// Now is the clock; tests override it.
	Now func() time.Time
}

// NewSLORepository wraps an open database handle.
func NewSLORepository(db *sqlx.DB) *SLORepository {
	return &SLORepository{db: db, Now: time.Now}
}

const activeSLOColumns = `service_id, availability_target_pct, latency_p95_target_ms,
latency_p99_target_ms, source, selected_tier, activated_at, activated_by`

type activeSLORow struct {
	ServiceID             string    `db:"service_id"`
	AvailabilityTargetPct *float64  `db:"availability_target_pct"`
	LatencyP95TargetMS    *float64  `db:"latency_p95_target_ms"`
	LatencyP99TargetMS    *float64  `db:"latency_p99_target_ms"`
	Source                string    `db:"source"`
	SelectedTier          string    `db:"selected_tier"`
	ActivatedAt           time.Time `db:"activated_at"`
	ActivatedBy           string    `db:"activated_by"`
}

func (r activeSLORow) toSLO() *slo.ActiveSLO {
	return &slo.ActiveSLO{
		ServiceID:             r.ServiceID,
		AvailabilityTargetPct: r.AvailabilityTargetPct,
		LatencyP95TargetMS:    r.LatencyP95TargetMS,
		LatencyP99TargetMS:    r.LatencyP99TargetMS,
		Source:                slo.Source(r.Source),
		SelectedTier:          slo.Tier(r.SelectedTier),
		ActivatedAt:           r.ActivatedAt,
		ActivatedBy:           r.ActivatedBy,
	}
}

func (s *SLORepository) GetActive(ctx context.Context, serviceID string) (*slo.ActiveSLO, error) {
	var row activeSLORow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+activeSLOColumns+` FROM active_slos WHERE service_id = $1`, serviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, problem.New(problem.NotFound, "service %q has no active SLO", serviceID)
	}
	if err != nil {
		return nil, problem.Wrap(problem.Internal, err, "could not load active SLO for %q", serviceID)
	}
	return row.toSLO(), nil
}

const auditColumns = `uid, seq, service_id, action, actor, ts, recommendation_id,
previous_slo, new_slo, selected_tier, rationale, modification_delta`

type auditRow struct {
	UID               uuid.UUID `db:"uid"`
	Seq               uint64    `db:"seq"`
	ServiceID         string    `db:"service_id"`
	Action            string    `db:"action"`
	Actor             string    `db:"actor"`
	Timestamp         time.Time `db:"ts"`
	RecommendationID  string    `db:"recommendation_id"`
	PreviousSLO       []byte    `db:"previous_slo"`
	NewSLO            []byte    `db:"new_slo"`
	SelectedTier      string    `db:"selected_tier"`
	Rationale         string    `db:"rationale"`
	ModificationDelta []byte    `db:"modification_delta"`
}

func (r auditRow) toEntry() (*slo.AuditEntry, error) {
	e := &slo.AuditEntry{
		UID:              r.UID,
		Seq:              r.Seq,
		ServiceID:        r.ServiceID,
		Action:           slo.Action(r.Action),
		Actor:            r.Actor,
		Timestamp:        r.Timestamp,
		RecommendationID: r.RecommendationID,
		SelectedTier:     slo.Tier(r.SelectedTier),
		Rationale:        r.Rationale,
	}
	for _, blob := range []struct {
		raw []byte
		dst interface{}
	}{
		{r.PreviousSLO, &e.PreviousSLO},
		{r.NewSLO, &e.NewSLO},
		{r.ModificationDelta, &e.ModificationDelta},
	} {
		if len(blob.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(blob.raw, blob.dst); err != nil {
			return nil, problem.Wrap(problem.Internal, err, "corrupt audit entry %s", r.UID)
		}
	}
	return e, nil
}

func (s *SLORepository) History(ctx context.Context, serviceID string) ([]*slo.AuditEntry, error) {
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+auditColumns+` FROM slo_audit_log
		 WHERE service_id = $1 ORDER BY ts DESC, seq DESC`, serviceID)
	if err != nil {
		return nil, problem.Wrap(problem.Internal, err, "could not load audit history for %q", serviceID)
	}
	out := make([]*slo.AuditEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.toEntry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

const upsertActiveSLOQuery = `
INSERT INTO active_slos (` + activeSLOColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (service_id) DO UPDATE SET
    availability_target_pct = EXCLUDED.availability_target_pct,
    latency_p95_target_ms   = EXCLUDED.latency_p95_target_ms,
    latency_p99_target_ms   = EXCLUDED.latency_p99_target_ms,
    source                  = EXCLUDED.source,
    selected_tier           = EXCLUDED.selected_tier,
    activated_at            = EXCLUDED.activated_at,
    activated_by            = EXCLUDED.activated_by`

const insertAuditQuery = `
INSERT INTO slo_audit_log (uid, service_id, action, actor, ts, recommendation_id,
                           previous_slo, new_slo, selected_tier, rationale, modification_delta)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING seq`

func (s *SLORepository) Transition(ctx context.Context, serviceID string, replace bool, next *slo.ActiveSLO, entry *slo.AuditEntry) (*slo.ActiveSLO, *slo.AuditEntry, error) {
	if replace && next == nil {
		return nil, nil, problem.New(problem.Internal, "transition with replace=true requires a next SLO")
	}

	now := s.Now()
	var activeOut *slo.ActiveSLO
	var entryOut *slo.AuditEntry

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, serviceID); err != nil {
			return problem.Wrap(problem.Internal, err, "could not lock slo row for %q", serviceID)
		}

		var current *slo.ActiveSLO
		var row activeSLORow
		err := tx.GetContext(ctx, &row,
			`SELECT `+activeSLOColumns+` FROM active_slos WHERE service_id = $1`, serviceID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return problem.Wrap(problem.Internal, err, "could not load active SLO for %q", serviceID)
		default:
			current = row.toSLO()
		}

		stored := *entry
		stored.UID = uuid.New()
		stored.ServiceID = serviceID
		stored.Timestamp = now
		stored.PreviousSLO = current

		result := current
		if replace {
			result = &slo.ActiveSLO{}
			*result = *next
			result.ServiceID = serviceID
			if _, err := tx.ExecContext(ctx, upsertActiveSLOQuery,
				result.ServiceID, result.AvailabilityTargetPct, result.LatencyP95TargetMS,
				result.LatencyP99TargetMS, string(result.Source), string(result.SelectedTier),
				result.ActivatedAt, result.ActivatedBy); err != nil {
				return problem.Wrap(problem.Internal, err, "could not replace active SLO for %q", serviceID)
			}
		}
		stored.NewSLO = result

		previous, err := marshalJSON(stored.PreviousSLO)
		if err != nil {
			return err
		}
		nextBlob, err := marshalJSON(stored.NewSLO)
		if err != nil {
			return err
		}
		delta, err := marshalJSON(stored.ModificationDelta)
		if err != nil {
			return err
		}
		if err := tx.GetContext(ctx, &stored.Seq, insertAuditQuery,
			stored.UID, serviceID, string(stored.Action), stored.Actor, now,
			stored.RecommendationID, previous, nextBlob,
			string(stored.SelectedTier), stored.Rationale, delta); err != nil {
			return problem.Wrap(problem.Internal, err, "could not append audit entry for %q", serviceID)
		}

		activeOut = result
		entryOut = &stored
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return activeOut, entryOut, nil
}

func (s *SLORepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
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
