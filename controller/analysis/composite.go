package analysis

import "fmt"

// Dependency is one resolved dependency entering the composite and budget
// engines.
type Dependency struct {
	ServiceID    string  `json:"service_id"`
	Availability float64 `json:"availability"`
	Hard         bool    `json:"hard"`
	External     bool    `json:"external,omitempty"`

	// RedundancyGroup names a set of dependencies that back each other up;
	// members are combined as parallel paths before entering the product.
	RedundancyGroup string `json:"redundancy_group,omitempty"`

	// Substituted is set when telemetry was missing and the policy default
	// stood in.
	Substituted bool `json:"substituted,omitempty"`

	// Note carries the external-provider buffer explanation, when any.
	Note string `json:"note,omitempty"`
}

// CompositeResult is the best-achievable availability given the hard
// dependency set.
type CompositeResult struct {
	Bound    float64  `json:"composite_bound"`
	BoundPct float64  `json:"composite_bound_pct"`
	Notes    []string `json:"notes,omitempty"`
}

// CompositeBound multiplies the service's own availability with every hard
// dependency's availability. Soft dependencies are ignored. Redundancy
// groups are collapsed to 1 - prod(1 - a_j) first.
func CompositeBound(self float64, deps []Dependency) CompositeResult {
	result := CompositeResult{Bound: self}

	groups := map[string]float64{}   // group -> prod(1 - a_j)
	groupOrder := []string{}

	for _, d := range deps {
		if !d.Hard {
			continue
		}
		if d.Substituted {
			result.Notes = append(result.Notes,
				fmt.Sprintf("no telemetry for %s; substituted %.3f", d.ServiceID, d.Availability))
		}
		if d.Note != "" {
			result.Notes = append(result.Notes, fmt.Sprintf("%s: %s", d.ServiceID, d.Note))
		}
		if d.RedundancyGroup != "" {
			if _, ok := groups[d.RedundancyGroup]; !ok {
				groups[d.RedundancyGroup] = 1
				groupOrder = append(groupOrder, d.RedundancyGroup)
			}
			groups[d.RedundancyGroup] *= 1 - d.Availability
			continue
		}
		result.Bound *= d.Availability
	}

	for _, g := range groupOrder {
		combined := 1 - groups[g]
		result.Bound *= combined
		result.Notes = append(result.Notes,
			fmt.Sprintf("redundancy group %q combined to %.6f", g, combined))
	}

	result.BoundPct = result.Bound * 100
	return result
}
