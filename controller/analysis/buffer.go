package analysis

import "fmt"

// EffectiveAvailability derives a pessimistic availability ratio for an
// external provider from its published SLA and its observed availability,
// either of which may be missing. The published figure is derated first:
// real unavailability is assumed to be derate times the advertised
// unavailability. Pure; does no I/O.
func EffectiveAvailability(published, observed *float64, derate, fallback float64) (float64, string) {
	var adjusted *float64
	if published != nil {
		v := 1 - derate*(1-*published)
		if v < 0 {
			v = 0
		}
		adjusted = &v
	}

	switch {
	case adjusted != nil && observed != nil:
		if *observed < *adjusted {
			return *observed, fmt.Sprintf(
				"using observed availability %.4f (below derated SLA %.4f)", *observed, *adjusted)
		}
		return *adjusted, fmt.Sprintf(
			"using derated published SLA %.4f (observed %.4f is higher)", *adjusted, *observed)
	case adjusted != nil:
		return *adjusted, fmt.Sprintf(
			"no telemetry; using published SLA %.4f derated by x%.0f to %.4f", *published, derate, *adjusted)
	case observed != nil:
		return *observed, fmt.Sprintf("no published SLA; using observed availability %.4f", *observed)
	default:
		return fallback, fmt.Sprintf("no SLA and no telemetry; assuming %.3f", fallback)
	}
}
