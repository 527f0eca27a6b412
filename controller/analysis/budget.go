package analysis

import "math"

// Risk classifies a dependency's share of the error budget.
type Risk string

const (
	RiskLow      Risk = "LOW"
	RiskModerate Risk = "MODERATE"
	RiskHigh     Risk = "HIGH"
)

// minutesPerMonth is the 30-day month used for budget arithmetic.
const minutesPerMonth = 30 * 24 * 60

// InfiniteConsumption is the sentinel reported when the target leaves no
// error budget at all (T >= 100).
const InfiniteConsumption = math.MaxFloat64

// DependencyBudget attributes budget consumption to one hard dependency.
type DependencyBudget struct {
	ServiceID      string  `json:"service_id"`
	Availability   float64 `json:"availability"`
	ConsumptionPct float64 `json:"consumption_pct"`
	Risk           Risk    `json:"risk"`
}

// BudgetReport is the monthly error-budget breakdown for one service.
type BudgetReport struct {
	TargetPct                     float64            `json:"target_pct"`
	MonthlyBudgetMinutes          float64            `json:"monthly_budget_minutes"`
	SelfConsumptionPct            float64            `json:"self_consumption_pct"`
	Dependencies                  []DependencyBudget `json:"dependencies"`
	HighRiskDependencies          []string           `json:"high_risk_dependencies,omitempty"`
	TotalDependencyConsumptionPct float64            `json:"total_dependency_consumption_pct"`
}

// classifyRisk applies the consumption thresholds: under 20% is LOW,
// 20-30% MODERATE, above 30% HIGH.
func classifyRisk(consumptionPct float64) Risk {
	switch {
	case consumptionPct < 20:
		return RiskLow
	case consumptionPct <= 30:
		return RiskModerate
	default:
		return RiskHigh
	}
}

// consumption is the share of the budget one availability figure burns.
// An availability of 1 consumes nothing; an availability equal to the
// target consumes exactly 100%.
func consumption(availability, targetPct float64) float64 {
	allowed := 1 - targetPct/100
	if allowed <= 0 {
		if availability >= 1 {
			return 0
		}
		return InfiniteConsumption
	}
	return (1 - availability) / allowed * 100
}

// AnalyzeBudget attributes the monthly error budget implied by targetPct
// across the service itself and its hard dependencies. Only hard
// dependencies consume budget; soft and async never do.
func AnalyzeBudget(targetPct, selfAvailability float64, deps []Dependency) BudgetReport {
	report := BudgetReport{
		TargetPct:            targetPct,
		MonthlyBudgetMinutes: (1 - targetPct/100) * minutesPerMonth,
		SelfConsumptionPct:   consumption(selfAvailability, targetPct),
	}
	if report.MonthlyBudgetMinutes < 0 {
		report.MonthlyBudgetMinutes = 0
	}

	for _, d := range deps {
		if !d.Hard {
			continue
		}
		db := DependencyBudget{
			ServiceID:      d.ServiceID,
			Availability:   d.Availability,
			ConsumptionPct: consumption(d.Availability, targetPct),
		}
		db.Risk = classifyRisk(db.ConsumptionPct)
		if db.Risk == RiskHigh {
			report.HighRiskDependencies = append(report.HighRiskDependencies, d.ServiceID)
		}
		if db.ConsumptionPct == InfiniteConsumption || report.TotalDependencyConsumptionPct == InfiniteConsumption {
			report.TotalDependencyConsumptionPct = InfiniteConsumption
		} else {
			report.TotalDependencyConsumptionPct += db.ConsumptionPct
		}
		report.Dependencies = append(report.Dependencies, db)
	}
	return report
}
