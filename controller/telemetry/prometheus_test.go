package telemetry

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/common/model"
	"github.com/sloscope/sloscope/pkg/problem"
)

func vector(value float64) model.Vector {
	return model.Vector{&model.Sample{Value: model.SampleValue(value)}}
}

func TestAvailabilityQueryGeneration(t *testing.T) {
	mock := &MockProm{Res: vector(0.9995)}
	reader := NewPromReader(mock, 0)

	ratio, ok, err := reader.Availability(context.Background(), "payment-service", 7*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("expected a sample")
	}
	if math.Abs(ratio-0.9995) > 1e-9 {
		t.Fatalf("expected 0.9995, got %f", ratio)
	}

	queries := mock.Queries()
	if len(queries) != 1 {
		t.Fatalf("expected 1 query, got %d", len(queries))
	}
	query := queries[0]
	for _, fragment := range []string{
		`dst_service="payment-service"`,
		`classification="success"`,
		"[7d]",
	} {
		if !strings.Contains(query, fragment) {
			t.Fatalf("query %q missing %q", query, fragment)
		}
	}
}

func TestAvailabilityCachesReads(t *testing.T) {
	mock := &MockProm{Res: vector(0.999)}
	reader := NewPromReader(mock, 0)

	for i := 0; i < 3; i++ {
		if _, _, err := reader.Availability(context.Background(), "svc", 24*time.Hour); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(mock.Queries()); got != 1 {
		t.Fatalf("expected repeated reads to hit the cache, got %d queries", got)
	}
}

func TestAvailabilityNoSamples(t *testing.T) {
	mock := &MockProm{Res: model.Vector{}}
	reader := NewPromReader(mock, 0)

	_, ok, err := reader.Availability(context.Background(), "unknown", 7*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("expected ok=false for an empty vector")
	}
}

func TestAvailabilityClampsExtrapolation(t *testing.T) {
	mock := &MockProm{Res: vector(1.0004)}
	reader := NewPromReader(mock, 0)

	ratio, ok, err := reader.Availability(context.Background(), "svc", 24*time.Hour)
	if err != nil || !ok {
		t.Fatalf("unexpected result: %f %v %v", ratio, ok, err)
	}
	if ratio != 1 {
		t.Fatalf("expected clamp to 1, got %f", ratio)
	}
}

func TestAvailabilityBackendDown(t *testing.T) {
	mock := &MockProm{Err: errors.New("connection refused")}
	reader := NewPromReader(mock, 0)

	_, _, err := reader.Availability(context.Background(), "svc", 24*time.Hour)
	if !problem.IsKind(err, problem.Unavailable) {
		t.Fatalf("expected Unavailable, got %v", err)
	}
}

func TestAvailabilityNoInstance(t *testing.T) {
	reader := NewPromReader(nil, 0)
	_, _, err := reader.Availability(context.Background(), "svc", 24*time.Hour)
	if !problem.IsKind(err, problem.Unavailable) {
		t.Fatalf("expected Unavailable, got %v", err)
	}
}

func TestFormatWindow(t *testing.T) {
	testCases := []struct {
		lookback time.Duration
		expected string
	}{
		{7 * 24 * time.Hour, "7d"},
		{30 * 24 * time.Hour, "30d"},
		{36 * time.Hour, "36h"},
		{0, "7d"},
	}
	for _, tc := range testCases {
		if got := formatWindow(tc.lookback); got != tc.expected {
			t.Fatalf("formatWindow(%s): expected %s, got %s", tc.lookback, tc.expected, got)
		}
	}
}
