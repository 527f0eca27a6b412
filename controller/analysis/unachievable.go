package analysis

import "fmt"

// achievabilityTolerance absorbs float error when comparing a target to
// the composite bound.
const achievabilityTolerance = 1e-9

// Warning quantifies an unachievable target and suggests remediation.
type Warning struct {
	Message                  string   `json:"message"`
	GapPct                   float64  `json:"gap_pct"`
	RequiredPerDependencyPct float64  `json:"required_per_dependency_pct"`
	Remediation              []string `json:"remediation"`
}

// CheckAchievability compares a desired target percentage against the
// composite bound ratio. It returns nil when the target is achievable.
// The required-per-dependency figure splits the error budget evenly
// across the service itself plus its hard dependencies.
func CheckAchievability(targetPct, compositeBound float64, hardCount int) *Warning {
	if compositeBound >= targetPct/100-achievabilityTolerance {
		return nil
	}

	required := (1 - (1-targetPct/100)/float64(hardCount+1)) * 100
	return &Warning{
		Message: fmt.Sprintf(
			"desired target %.2f%% exceeds the composite bound %.2f%% imposed by hard dependencies",
			targetPct, compositeBound*100),
		GapPct:                   targetPct - compositeBound*100,
		RequiredPerDependencyPct: required,
		Remediation: []string{
			"add redundancy for the highest-risk hard dependencies",
			"convert non-critical sync dependencies to async",
			"relax the availability target to at or below the composite bound",
		},
	}
}
