package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sloscope/sloscope/controller/graph"
	"github.com/sloscope/sloscope/pkg/problem"
)

func newMockStore(t *testing.T) (*GraphStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %s", err)
	}
	t.Cleanup(func() { db.Close() })
	store := NewGraphStore(sqlx.NewDb(db, "sqlmock"))
	store.Now = func() time.Time { return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) }
	return store, mock
}

var serviceRowColumns = []string{
	"uid", "service_id", "team", "criticality", "service_type",
	"published_sla", "metadata", "discovered", "created_at", "updated_at",
}

func TestGetService(t *testing.T) {
	store, mock := newMockStore(t)
	uid := uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT uid, service_id`)).
		WithArgs("checkout").
		WillReturnRows(sqlmock.NewRows(serviceRowColumns).
			AddRow(uid, "checkout", "payments-team", "critical", "internal",
				nil, []byte(`{"region":"eu-west-1"}`), false, now, now))

	svc, err := store.GetService(context.Background(), "checkout")
	if err != nil {
		t.Fatalf("GetService returned %s", err)
	}
	if svc.UID != uid || svc.Team != "payments-team" {
		t.Fatalf("unexpected service %+v", svc)
	}
	if svc.Metadata["region"] != "eu-west-1" {
		t.Fatalf("metadata not decoded: %+v", svc.Metadata)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetServiceNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT uid, service_id`)).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(serviceRowColumns))

	_, err := store.GetService(context.Background(), "ghost")
	if !problem.IsKind(err, problem.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestMarkStaleEdges(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE service_dependencies SET is_stale = TRUE`)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.MarkStaleEdges(context.Background(), graph.DefaultStaleThreshold)
	if err != nil {
		t.Fatalf("MarkStaleEdges returned %s", err)
	}
	if n != 3 {
		t.Fatalf("marked %d, want 3", n)
	}
}

var alertRowColumns = []string{"uid", "cycle_path", "status", "detected_at", "resolution_notes"}

func TestCreateAlertIfAbsent(t *testing.T) {
	store, mock := newMockStore(t)
	uid := uuid.New()
	path := []string{"billing", "orders"}

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO circular_dependency_alerts`)).
		WillReturnRows(sqlmock.NewRows(alertRowColumns).
			AddRow(uid, []byte(`["billing","orders"]`), "open", time.Now(), ""))

	alert, created, err := store.CreateAlertIfAbsent(context.Background(), path)
	if err != nil {
		t.Fatalf("CreateAlertIfAbsent returned %s", err)
	}
	if !created || alert.UID != uid {
		t.Fatalf("expected a fresh alert, got created=%v %+v", created, alert)
	}
}

func TestCreateAlertIfAbsentDeduplicates(t *testing.T) {
	store, mock := newMockStore(t)
	uid := uuid.New()

	// the insert loses to the unique cycle_key and returns nothing
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO circular_dependency_alerts`)).
		WillReturnRows(sqlmock.NewRows(alertRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT uid, cycle_path`)).
		WillReturnRows(sqlmock.NewRows(alertRowColumns).
			AddRow(uid, []byte(`["billing","orders"]`), "acknowledged", time.Now(), ""))

	alert, created, err := store.CreateAlertIfAbsent(context.Background(), []string{"billing", "orders"})
	if err != nil {
		t.Fatalf("CreateAlertIfAbsent returned %s", err)
	}
	if created {
		t.Fatal("existing alert must not be re-created")
	}
	if alert.Status != graph.AlertAcknowledged {
		t.Fatalf("expected the stored alert back, got %+v", alert)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateAlertStatus(t *testing.T) {
	store, mock := newMockStore(t)
	uid := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM circular_dependency_alerts`)).
		WithArgs(uid).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("acknowledged"))
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE circular_dependency_alerts`)).
		WithArgs(uid, "resolved", "fixed").
		WillReturnRows(sqlmock.NewRows(alertRowColumns).
			AddRow(uid, []byte(`["billing","orders"]`), "resolved", time.Now(), "fixed"))
	mock.ExpectCommit()

	alert, err := store.UpdateAlertStatus(context.Background(), uid, graph.AlertResolved, "fixed")
	if err != nil {
		t.Fatalf("UpdateAlertStatus returned %s", err)
	}
	if alert.Status != graph.AlertResolved || alert.ResolutionNotes != "fixed" {
		t.Fatalf("unexpected alert %+v", alert)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateAlertStatusNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM circular_dependency_alerts`)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	mock.ExpectRollback()

	_, err := store.UpdateAlertStatus(context.Background(), uuid.New(), graph.AlertResolved, "fixed")
	if !problem.IsKind(err, problem.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestUpdateAlertStatusRejectsBackwardTransition(t *testing.T) {
	store, mock := newMockStore(t)
	uid := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM circular_dependency_alerts`)).
		WithArgs(uid).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("resolved"))
	mock.ExpectRollback()

	_, err := store.UpdateAlertStatus(context.Background(), uid, graph.AlertOpen, "")
	if !problem.IsKind(err, problem.Conflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestListAlertsFiltersByStatus(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE status = $1`)).
		WithArgs("open").
		WillReturnRows(sqlmock.NewRows(alertRowColumns).
			AddRow(uuid.New(), []byte(`["a","b"]`), "open", time.Now(), ""))

	alerts, err := store.ListAlerts(context.Background(), graph.AlertOpen)
	if err != nil {
		t.Fatalf("ListAlerts returned %s", err)
	}
	if len(alerts) != 1 || alerts[0].Path[0] != "a" {
		t.Fatalf("unexpected alerts %+v", alerts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
