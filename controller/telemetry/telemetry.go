// Package telemetry reads observed availability ratios for services from a
// metrics backend. The production implementation queries Prometheus; tests
// use MockProm or a fixed table.
package telemetry

import (
	"context"
	"time"
)

// DefaultTimeout bounds a single availability read.
const DefaultTimeout = 1 * time.Second

// Reader pulls the observed availability ratio for a service over a
// lookback window. ok is false when the backend has no samples for the
// service; callers substitute a policy default in that case.
type Reader interface {
	Availability(ctx context.Context, serviceID string, lookback time.Duration) (ratio float64, ok bool, err error)
}

// StaticReader is a Reader backed by a fixed table, for tests and the demo
// path. Services absent from the table report ok=false.
type StaticReader map[string]float64

// Availability implements Reader.
func (s StaticReader) Availability(_ context.Context, serviceID string, _ time.Duration) (float64, bool, error) {
	ratio, ok := s[serviceID]
	return ratio, ok, nil
}
