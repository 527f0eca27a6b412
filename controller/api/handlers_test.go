package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sloscope/sloscope/controller/analysis"
	"github.com/sloscope/sloscope/controller/graph"
	"github.com/sloscope/sloscope/controller/slo"
	"github.com/sloscope/sloscope/controller/telemetry"
)

func newTestServer(t *testing.T, reader telemetry.Reader) (*httptest.Server, Deps) {
	t.Helper()
	store := graph.NewMemoryStore()
	repo := slo.NewMemoryRepository()
	deps := Deps{
		Store:     store,
		Ingestor:  graph.NewIngestor(store),
		Analyzer:  analysis.NewAnalyzer(store, reader, repo, analysis.DefaultConfig()),
		Lifecycle: slo.NewLifecycle(repo, slo.DefaultTierTargets()),
		SLOs:      repo,
	}
	server := httptest.NewServer(NewRouter(deps))
	t.Cleanup(server.Close)
	return server, deps
}

func doJSON(t *testing.T, method, url, body string, into interface{}) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %s", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %s", method, url, err)
	}
	defer resp.Body.Close()
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decoding %s %s response: %s", method, url, err)
		}
	}
	return resp
}

const ingestPayload = `{
	"source": "service_mesh",
	"nodes": [
		{"service_id": "frontend", "metadata": {"team": "web", "criticality": "high"}},
		{"service_id": "api-gateway"}
	],
	"edges": [
		{"source": "frontend", "target": "api-gateway",
		 "attributes": {"communication_mode": "sync", "criticality": "hard"}}
	]
}`

func TestIngestAndSubgraph(t *testing.T) {
	server, _ := newTestServer(t, telemetry.StaticReader{})

	var report graph.IngestReport
	resp := doJSON(t, http.MethodPost, server.URL+"/api/v1/graph/ingest", ingestPayload, &report)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ingest status %d", resp.StatusCode)
	}
	if report.NodesUpserted != 2 || report.EdgesUpserted != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	var sub subgraphResponse
	resp = doJSON(t, http.MethodGet, server.URL+"/api/v1/services/frontend/subgraph", "", &sub)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("subgraph status %d", resp.StatusCode)
	}
	if sub.Stats.TotalNodes != 2 || sub.Stats.TotalEdges != 1 {
		t.Fatalf("unexpected stats %+v", sub.Stats)
	}
	if sub.Stats.DownstreamServices != 1 || sub.Stats.UpstreamServices != 0 {
		t.Fatalf("unexpected stats %+v", sub.Stats)
	}
}

func TestGetServiceNotFoundProblem(t *testing.T) {
	server, _ := newTestServer(t, telemetry.StaticReader{})

	var doc map[string]interface{}
	resp := doJSON(t, http.MethodGet, server.URL+"/api/v1/services/ghost", "", &doc)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/problem+json" {
		t.Fatalf("content type %q", got)
	}
	if doc["type"] != "https://sloscope.io/problems/not-found" {
		t.Fatalf("problem type %v", doc["type"])
	}
	if doc["correlation_id"] == "" {
		t.Fatal("missing correlation id")
	}
}

func TestConstraintsEndpoint(t *testing.T) {
	server, _ := newTestServer(t, telemetry.StaticReader{
		"frontend": 0.9992, "api-gateway": 0.9995,
	})
	doJSON(t, http.MethodPost, server.URL+"/api/v1/graph/ingest", ingestPayload, nil)

	var report analysis.ConstraintReport
	resp := doJSON(t, http.MethodGet,
		server.URL+"/api/v1/services/frontend/constraints?desired_target=99.9", "", &report)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("constraints status %d", resp.StatusCode)
	}
	if report.TargetPct != 99.9 || report.HardDependencyCount != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Composite.Bound >= 0.9992 {
		t.Fatalf("composite bound must shrink below self availability: %v", report.Composite.Bound)
	}
}

func TestConstraintsNoDependencies(t *testing.T) {
	server, _ := newTestServer(t, telemetry.StaticReader{})
	doJSON(t, http.MethodPost, server.URL+"/api/v1/graph/ingest", ingestPayload, nil)

	resp := doJSON(t, http.MethodGet,
		server.URL+"/api/v1/services/api-gateway/constraints", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("leaf service should be Invalid, got %d", resp.StatusCode)
	}
}

func TestSLOLifecycleEndpoints(t *testing.T) {
	server, _ := newTestServer(t, telemetry.StaticReader{})
	doJSON(t, http.MethodPost, server.URL+"/api/v1/graph/ingest", ingestPayload, nil)

	var result slo.TransitionResult
	resp := doJSON(t, http.MethodPost, server.URL+"/api/v1/services/frontend/slo",
		`{"action": "accept", "selected_tier": "balanced", "actor": "alice"}`, &result)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transition status %d", resp.StatusCode)
	}
	if result.Active == nil || *result.Active.AvailabilityTargetPct != 99.9 {
		t.Fatalf("unexpected active SLO %+v", result.Active)
	}

	var active slo.ActiveSLO
	doJSON(t, http.MethodGet, server.URL+"/api/v1/services/frontend/slo", "", &active)
	if active.SelectedTier != slo.TierBalanced {
		t.Fatalf("unexpected tier %s", active.SelectedTier)
	}

	var history struct {
		Entries []*slo.AuditEntry `json:"entries"`
	}
	doJSON(t, http.MethodGet, server.URL+"/api/v1/services/frontend/slo/history", "", &history)
	if len(history.Entries) != 1 || history.Entries[0].Action != slo.ActionAccept {
		t.Fatalf("unexpected history %+v", history.Entries)
	}
}

func TestAlertEndpoints(t *testing.T) {
	server, _ := newTestServer(t, telemetry.StaticReader{})

	cyclic := `{
		"source": "service_mesh",
		"nodes": [],
		"edges": [
			{"source": "billing", "target": "orders",
			 "attributes": {"communication_mode": "sync", "criticality": "hard"}},
			{"source": "orders", "target": "billing",
			 "attributes": {"communication_mode": "sync", "criticality": "hard"}}
		]
	}`
	var report graph.IngestReport
	doJSON(t, http.MethodPost, server.URL+"/api/v1/graph/ingest", cyclic, &report)
	if len(report.NewAlertUIDs) != 1 {
		t.Fatalf("expected one new alert, got %+v", report)
	}

	var listed struct {
		Alerts []*graph.Alert `json:"alerts"`
	}
	doJSON(t, http.MethodGet, server.URL+"/api/v1/alerts?status=open", "", &listed)
	if len(listed.Alerts) != 1 {
		t.Fatalf("unexpected alerts %+v", listed.Alerts)
	}

	var acked graph.Alert
	url := fmt.Sprintf("%s/api/v1/alerts/%s/ack", server.URL, listed.Alerts[0].UID)
	resp := doJSON(t, http.MethodPost, url, `{"notes": "known, tracked"}`, &acked)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ack status %d", resp.StatusCode)
	}
	if acked.Status != graph.AlertAcknowledged || acked.ResolutionNotes != "known, tracked" {
		t.Fatalf("unexpected alert %+v", acked)
	}

	doJSON(t, http.MethodGet, server.URL+"/api/v1/alerts?status=open", "", &listed)
	if len(listed.Alerts) != 0 {
		t.Fatalf("acknowledged alert still listed as open: %+v", listed.Alerts)
	}
}

func TestIngestRejectsUnknownSource(t *testing.T) {
	server, _ := newTestServer(t, telemetry.StaticReader{})
	resp := doJSON(t, http.MethodPost, server.URL+"/api/v1/graph/ingest",
		`{"source": "carrier-pigeon", "nodes": [], "edges": []}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestImpactEndpoint(t *testing.T) {
	server, _ := newTestServer(t, telemetry.StaticReader{
		"frontend": 0.9999, "api-gateway": 0.9999,
	})
	doJSON(t, http.MethodPost, server.URL+"/api/v1/graph/ingest", ingestPayload, nil)

	var report analysis.ImpactReport
	resp := doJSON(t, http.MethodPost, server.URL+"/api/v1/services/api-gateway/impact",
		`{"current_target_pct": 99.9, "proposed_target_pct": 99.5, "max_depth": 3, "sli_type": "availability"}`, &report)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("impact status %d", resp.StatusCode)
	}
	if report.Summary.ImpactedServices != 1 || report.Impacted[0].ServiceID != "frontend" {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Impacted[0].DeltaPct >= 0 {
		t.Fatalf("downgrade should degrade the consumer: %+v", report.Impacted[0])
	}
	if report.SLIType != analysis.SLIAvailability {
		t.Fatalf("sli_type not echoed: %+v", report)
	}
}
