package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/sloscope/sloscope/controller/slo"
	"github.com/sloscope/sloscope/pkg/problem"
)

func newMockRepo(t *testing.T) (*SLORepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %s", err)
	}
	t.Cleanup(func() { db.Close() })
	repo := NewSLORepository(sqlx.NewDb(db, "sqlmock"))
	repo.Now = func() time.Time { return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) }
	return repo, mock
}

var activeRowColumns = []string{
	"service_id", "availability_target_pct", "latency_p95_target_ms",
	"latency_p99_target_ms", "source", "selected_tier", "activated_at", "activated_by",
}

func TestGetActive(t *testing.T) {
	repo, mock := newMockRepo(t)
	target := 99.9

	mock.ExpectQuery(regexp.QuoteMeta(`FROM active_slos`)).
		WithArgs("checkout").
		WillReturnRows(sqlmock.NewRows(activeRowColumns).
			AddRow("checkout", target, 200.0, 800.0, "recommendation_accepted", "balanced", time.Now(), "alice"))

	active, err := repo.GetActive(context.Background(), "checkout")
	if err != nil {
		t.Fatalf("GetActive returned %s", err)
	}
	if active.AvailabilityTargetPct == nil || *active.AvailabilityTargetPct != target {
		t.Fatalf("unexpected SLO %+v", active)
	}
	if active.SelectedTier != slo.TierBalanced {
		t.Fatalf("tier: got %s", active.SelectedTier)
	}
}

func TestGetActiveNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM active_slos`)).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(activeRowColumns))

	_, err := repo.GetActive(context.Background(), "ghost")
	if !problem.IsKind(err, problem.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestTransitionRejectLeavesActiveUntouched(t *testing.T) {
	repo, mock := newMockRepo(t)
	target := 99.9

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`pg_advisory_xact_lock`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM active_slos`)).
		WithArgs("checkout").
		WillReturnRows(sqlmock.NewRows(activeRowColumns).
			AddRow("checkout", target, nil, nil, "manual", "", time.Now(), "alice"))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO slo_audit_log`)).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(7))
	mock.ExpectCommit()

	active, entry, err := repo.Transition(context.Background(), "checkout", false, nil,
		&slo.AuditEntry{Action: slo.ActionReject, Actor: "bob", Rationale: "too aggressive"})
	if err != nil {
		t.Fatalf("Transition returned %s", err)
	}
	if active == nil || *active.AvailabilityTargetPct != target {
		t.Fatalf("reject must keep the current SLO: %+v", active)
	}
	if entry.Seq != 7 || entry.PreviousSLO == nil || entry.NewSLO == nil {
		t.Fatalf("entry not filled: %+v", entry)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestTransitionAcceptReplacesActive(t *testing.T) {
	repo, mock := newMockRepo(t)
	target := 99.5

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`pg_advisory_xact_lock`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM active_slos`)).
		WithArgs("checkout").
		WillReturnRows(sqlmock.NewRows(activeRowColumns))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO active_slos`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO slo_audit_log`)).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(1))
	mock.ExpectCommit()

	next := &slo.ActiveSLO{
		AvailabilityTargetPct: &target,
		Source:                slo.SourceRecommendationAccepted,
		SelectedTier:          slo.TierConservative,
	}
	active, entry, err := repo.Transition(context.Background(), "checkout", true, next,
		&slo.AuditEntry{Action: slo.ActionAccept, Actor: "alice"})
	if err != nil {
		t.Fatalf("Transition returned %s", err)
	}
	if active.ServiceID != "checkout" || *active.AvailabilityTargetPct != target {
		t.Fatalf("unexpected active SLO %+v", active)
	}
	if entry.PreviousSLO != nil {
		t.Fatalf("first transition has no previous SLO: %+v", entry.PreviousSLO)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestTransitionReplaceRequiresNext(t *testing.T) {
	repo, _ := newMockRepo(t)
	_, _, err := repo.Transition(context.Background(), "checkout", true, nil, &slo.AuditEntry{})
	if !problem.IsKind(err, problem.Internal) {
		t.Fatalf("expected Internal, got %v", err)
	}
}
