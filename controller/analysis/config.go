// Package analysis computes composite availability bounds, error-budget
// attribution, unachievability warnings, and the upstream impact of
// proposed SLO changes over the dependency graph.
package analysis

import "time"

// Config carries the policy knobs of the analysis engines. All values are
// policy, not mathematics; the server exposes them as flags.
type Config struct {
	// DefaultAvailability substitutes for dependencies without telemetry.
	DefaultAvailability float64

	// ExternalDerateMultiplier scales a vendor's advertised unavailability
	// when deriving effective availability (the "10x rule": advertised
	// plus ten times margin).
	ExternalDerateMultiplier float64

	// DefaultTargetPct is used when neither the request nor an active SLO
	// supplies a target.
	DefaultTargetPct float64

	// MaxDepth bounds analysis traversals.
	MaxDepth int

	// DefaultLookback is the telemetry window when the request does not
	// set lookback_days.
	DefaultLookback time.Duration

	// TraversalTimeout bounds one recursive traversal.
	TraversalTimeout time.Duration

	// TelemetryTimeout bounds one availability read.
	TelemetryTimeout time.Duration

	// AnalysisTimeout bounds a whole constraint or impact analysis.
	AnalysisTimeout time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		DefaultAvailability:      0.999,
		ExternalDerateMultiplier: 11,
		DefaultTargetPct:         99.9,
		MaxDepth:                 10,
		DefaultLookback:          30 * 24 * time.Hour,
		TraversalTimeout:         2 * time.Second,
		TelemetryTimeout:         1 * time.Second,
		AnalysisTimeout:          5 * time.Second,
	}
}
