package telemetry

import (
	"context"
	"sync"
	"time"

	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// MockProm satisfies the API interface for testing.
type MockProm struct {
	Res             model.Value
	Err             error
	QueriesExecuted []string // expose the queries our Mock Prometheus receives, to test query generation
	rwLock          sync.Mutex
}

// Query performs a query for the given time.
func (m *MockProm) Query(ctx context.Context, query string, ts time.Time, opts ...promv1.Option) (model.Value, promv1.Warnings, error) {
	m.rwLock.Lock()
	defer m.rwLock.Unlock()
	m.QueriesExecuted = append(m.QueriesExecuted, query)
	if m.Err != nil {
		return nil, nil, m.Err
	}
	return m.Res, nil, nil
}

// Queries returns a copy of the queries executed so far.
func (m *MockProm) Queries() []string {
	m.rwLock.Lock()
	defer m.rwLock.Unlock()
	return append([]string(nil), m.QueriesExecuted...)
}
