package analysis

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/sloscope/sloscope/controller/graph"
	"github.com/sloscope/sloscope/controller/telemetry"
	"github.com/sloscope/sloscope/pkg/problem"
)

func TestImpactDowngradePutsSLOAtRisk(t *testing.T) {
	f := checkoutFixture(t)
	f.setActiveSLO(t, "checkout", 99.9)
	a := f.analyzer(telemetry.StaticReader{
		"checkout":  0.9999,
		"payment":   0.9999,
		"inventory": 0.9999,
	})

	report, err := a.Impact(context.Background(), &ImpactRequest{
		ServiceID:         "payment",
		CurrentTargetPct:  floatPtr(99.9),
		ProposedTargetPct: 99.5,
	})
	if err != nil {
		t.Fatalf("Impact returned %s", err)
	}

	if report.Summary.ImpactedServices != 1 {
		t.Fatalf("impacted services: got %d", report.Summary.ImpactedServices)
	}
	row := report.Impacted[0]
	if row.ServiceID != "checkout" || row.Depth != 1 {
		t.Fatalf("unexpected row %+v", row)
	}

	// checkout: self 0.9999, payment at target, inventory observed 0.9999
	almost(t, row.CurrentCompositePct, 0.9999*0.999*0.9999*100, 1e-9)
	almost(t, row.ProjectedCompositePct, 0.9999*0.995*0.9999*100, 1e-9)
	if row.DeltaPct >= 0 {
		t.Fatalf("downgrade must produce a negative delta, got %v", row.DeltaPct)
	}
	if !row.SLOAtRisk {
		t.Fatal("checkout's 99.9%% SLO should be at risk")
	}
	if report.Summary.SLOsAtRisk != 1 {
		t.Fatalf("slos at risk: got %d", report.Summary.SLOsAtRisk)
	}
	if !strings.Contains(report.Summary.Recommendation, "at risk") {
		t.Fatalf("recommendation %q should flag the risk", report.Summary.Recommendation)
	}
	if len(report.QualitativeNotes) != 1 || !strings.Contains(report.QualitativeNotes[0], "latency") {
		t.Fatalf("expected the latency note, got %v", report.QualitativeNotes)
	}
}

func TestImpactSortsByMagnitude(t *testing.T) {
	// two consumers: near (direct) and far (through near)
	f := newFixture(t)
	f.addService(t, "far", graph.ServiceInternal, nil)
	f.addService(t, "near", graph.ServiceInternal, nil)
	f.addService(t, "shared-db", graph.ServiceInternal, nil)
	f.addEdge(t, "far", "near", graph.EdgeHard, graph.ModeSync, nil)
	f.addEdge(t, "near", "shared-db", graph.EdgeHard, graph.ModeSync, nil)

	a := f.analyzer(telemetry.StaticReader{"far": 0.99, "near": 1, "shared-db": 1})

	report, err := a.Impact(context.Background(), &ImpactRequest{
		ServiceID:         "shared-db",
		CurrentTargetPct:  floatPtr(99.9),
		ProposedTargetPct: 99.0,
	})
	if err != nil {
		t.Fatalf("Impact returned %s", err)
	}
	if len(report.Impacted) != 2 {
		t.Fatalf("expected two impacted services, got %+v", report.Impacted)
	}
	for i := 1; i < len(report.Impacted); i++ {
		if math.Abs(report.Impacted[i].DeltaPct) > math.Abs(report.Impacted[i-1].DeltaPct) {
			t.Fatalf("rows not sorted by |delta|: %+v", report.Impacted)
		}
	}
	// near consumes shared-db directly and moves; far's direct dependency
	// (near) is untouched, so its projection holds still
	for _, row := range report.Impacted {
		if row.ServiceID == "near" && row.DeltaPct >= 0 {
			t.Fatalf("near should degrade: %+v", row)
		}
	}
}

func TestImpactNoUpstream(t *testing.T) {
	f := newFixture(t)
	f.addService(t, "standalone", graph.ServiceInternal, nil)

	a := f.analyzer(telemetry.StaticReader{})
	report, err := a.Impact(context.Background(), &ImpactRequest{
		ServiceID:         "standalone",
		ProposedTargetPct: 99.0,
	})
	if err != nil {
		t.Fatalf("Impact returned %s", err)
	}
	if report.Summary.ImpactedServices != 0 {
		t.Fatalf("expected no impacted services, got %+v", report.Impacted)
	}
	if !strings.Contains(report.Summary.Recommendation, "no upstream") {
		t.Fatalf("recommendation %q", report.Summary.Recommendation)
	}
}

func TestImpactMaxDepthLimitsUpstreamSet(t *testing.T) {
	f := newFixture(t)
	f.addService(t, "far", graph.ServiceInternal, nil)
	f.addService(t, "near", graph.ServiceInternal, nil)
	f.addService(t, "shared-db", graph.ServiceInternal, nil)
	f.addEdge(t, "far", "near", graph.EdgeHard, graph.ModeSync, nil)
	f.addEdge(t, "near", "shared-db", graph.EdgeHard, graph.ModeSync, nil)

	a := f.analyzer(telemetry.StaticReader{"far": 1, "near": 1, "shared-db": 1})

	report, err := a.Impact(context.Background(), &ImpactRequest{
		ServiceID:         "shared-db",
		CurrentTargetPct:  floatPtr(99.9),
		ProposedTargetPct: 99.0,
		MaxDepth:          1,
	})
	if err != nil {
		t.Fatalf("Impact returned %s", err)
	}
	if len(report.Impacted) != 1 || report.Impacted[0].ServiceID != "near" {
		t.Fatalf("depth 1 should only reach the direct consumer, got %+v", report.Impacted)
	}
}

func TestImpactValidation(t *testing.T) {
	f := newFixture(t)
	f.addService(t, "svc", graph.ServiceInternal, nil)
	a := f.analyzer(telemetry.StaticReader{})

	for _, req := range []*ImpactRequest{
		{ServiceID: "svc", ProposedTargetPct: 80},
		{ServiceID: "svc", ProposedTargetPct: 99.9, MaxDepth: 11},
		{ServiceID: "svc", ProposedTargetPct: 99.9, SLIType: "throughput"},
	} {
		if _, err := a.Impact(context.Background(), req); !problem.IsKind(err, problem.Invalid) {
			t.Fatalf("expected Invalid for %+v, got %v", req, err)
		}
	}
}

func TestImpactUpgradeIsSafe(t *testing.T) {
	f := checkoutFixture(t)
	a := f.analyzer(telemetry.StaticReader{"checkout": 1, "payment": 1, "inventory": 1})

	report, err := a.Impact(context.Background(), &ImpactRequest{
		ServiceID:         "payment",
		CurrentTargetPct:  floatPtr(99.5),
		ProposedTargetPct: 99.9,
	})
	if err != nil {
		t.Fatalf("Impact returned %s", err)
	}
	if report.Summary.SLOsAtRisk != 0 {
		t.Fatalf("upgrade should put nothing at risk: %+v", report.Impacted)
	}
	if report.Impacted[0].DeltaPct <= 0 {
		t.Fatalf("upgrade should improve the composite: %+v", report.Impacted[0])
	}
	if report.SLIType != SLIAvailability {
		t.Fatalf("sli_type should default to availability, got %q", report.SLIType)
	}
	if len(report.QualitativeNotes) != 0 {
		t.Fatalf("availability upgrade needs no qualitative note, got %v", report.QualitativeNotes)
	}
}

func TestImpactLatencyChangeGetsQualitativeNote(t *testing.T) {
	f := checkoutFixture(t)
	a := f.analyzer(telemetry.StaticReader{"checkout": 1, "payment": 1, "inventory": 1})

	report, err := a.Impact(context.Background(), &ImpactRequest{
		ServiceID:         "payment",
		SLIType:           SLILatency,
		CurrentTargetPct:  floatPtr(99.5),
		ProposedTargetPct: 99.9,
	})
	if err != nil {
		t.Fatalf("Impact returned %s", err)
	}
	if len(report.QualitativeNotes) != 1 || !strings.Contains(report.QualitativeNotes[0], "latency") {
		t.Fatalf("latency change must carry the qualitative note, got %v", report.QualitativeNotes)
	}
}
