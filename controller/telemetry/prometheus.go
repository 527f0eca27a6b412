package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	cache "github.com/patrickmn/go-cache"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/sloscope/sloscope/pkg/problem"
)

const (
	// availabilityQuery computes the success ratio of requests to a service
	// over a window: good responses divided by all responses.
	availabilityQuery = `sum(increase(response_total{dst_service=%q, classification="success"}[%s])) / sum(increase(response_total{dst_service=%q}[%s]))`

	cacheTTL           = 30 * time.Second
	cacheSweepInterval = 5 * time.Minute
)

// ErrNoPrometheusInstance is returned when there is no prometheus instance
// configured.
var ErrNoPrometheusInstance = errors.New("no prometheus instance to connect")

// API is the slice of the Prometheus v1 client this package uses.
// promv1.API satisfies it.
type API interface {
	Query(ctx context.Context, query string, ts time.Time, opts ...promv1.Option) (model.Value, promv1.Warnings, error)
}

// PromReader reads availability from Prometheus. Reads are cached briefly
// and guarded by a circuit breaker so a struggling Prometheus degrades to
// Unavailable quickly instead of stalling every analysis.
type PromReader struct {
	api     API
	timeout time.Duration
	cache   *cache.Cache
	breaker *gobreaker.CircuitBreaker
}

// NewPromReader returns a Reader over the given Prometheus API client.
func NewPromReader(api API, timeout time.Duration) *PromReader {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &PromReader{
		api:     api,
		timeout: timeout,
		cache:   cache.New(cacheTTL, cacheSweepInterval),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "prometheus",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

type availabilitySample struct {
	ratio float64
	ok    bool
}

// Availability implements Reader.
func (r *PromReader) Availability(ctx context.Context, serviceID string, lookback time.Duration) (float64, bool, error) {
	if r.api == nil {
		return 0, false, problem.Wrap(problem.Unavailable, ErrNoPrometheusInstance, "telemetry backend not configured")
	}

	key := fmt.Sprintf("%s|%s", serviceID, formatWindow(lookback))
	if cached, found := r.cache.Get(key); found {
		sample := cached.(availabilitySample)
		return sample.ratio, sample.ok, nil
	}

	window := formatWindow(lookback)
	query := fmt.Sprintf(availabilityQuery, serviceID, window, serviceID, window)

	result, err := r.breaker.Execute(func() (interface{}, error) {
		queryCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return r.queryProm(queryCtx, query)
	})
	if err != nil {
		return 0, false, problem.Wrap(problem.Unavailable, err, "availability read for %q failed", serviceID)
	}

	vec := result.(model.Vector)
	sample := availabilitySample{}
	if len(vec) > 0 && !math.IsNaN(float64(vec[0].Value)) {
		ratio := float64(vec[0].Value)
		// increase() extrapolation can nudge the ratio past 1
		if ratio > 1 {
			ratio = 1
		}
		if ratio < 0 {
			ratio = 0
		}
		sample = availabilitySample{ratio: ratio, ok: true}
	}
	r.cache.Set(key, sample, cache.DefaultExpiration)
	return sample.ratio, sample.ok, nil
}

func (r *PromReader) queryProm(ctx context.Context, query string) (model.Vector, error) {
	log.Debugf("Query request: %q", query)

	// single data point (aka summary) query
	res, warn, err := r.api.Query(ctx, query, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("query failed: %q: %w", query, err)
	}
	if warn != nil {
		log.Warnf("%v", warn)
	}
	log.Debugf("Query response:\n\t%+v", res)

	if res.Type() != model.ValVector {
		return nil, fmt.Errorf("unexpected query result type (expected Vector): %s", res.Type())
	}
	return res.(model.Vector), nil
}

// formatWindow renders a lookback duration the way PromQL expects, in whole
// days when possible, falling back to hours.
func formatWindow(lookback time.Duration) string {
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}
	if lookback%(24*time.Hour) == 0 {
		return fmt.Sprintf("%dd", int(lookback/(24*time.Hour)))
	}
	return fmt.Sprintf("%dh", int(lookback/time.Hour))
}
