// Package domain contains core business types and interfaces.
//
// This file defines subscription plans and the plan-to-weekly-allowance
// catalog used by booking admission, billing reconciliation, and the weekly
// reset scheduler. There is exactly one catalog so that per-handler copies
// cannot drift out of sync.
package domain

// Plan identifies a subscription plan.
type Plan string

const (
	PlanFree     Plan = "free"
	PlanBasic    Plan = "basic"
	PlanPro      Plan = "pro"
	PlanAdvanced Plan = "advanced"

	// PlanUnknown marks a subscription whose provider price has no catalog
	// mapping. It carries no allowance; the next reset after the catalog is
	// corrected heals the account.
	PlanUnknown Plan = "unknown"
)

// PlanCatalog maps plans to their weekly class allowance. The catalog is
// supplied externally (config file); DefaultPlanCatalog matches the billing
// provider's current product lineup.
type PlanCatalog map[Plan]int

// DefaultPlanCatalog returns the built-in plan catalog.
func DefaultPlanCatalog() PlanCatalog {
	return PlanCatalog{
		PlanFree:     0,
		PlanBasic:    1,
		PlanPro:      3,
		PlanAdvanced: 5,
	}
}

// Allowance returns the weekly allowance for a plan. Unknown plans get an
// allowance of 0 rather than failing; the caller logs the mismatch.
func (c PlanCatalog) Allowance(p Plan) int {
	if n, ok := c[p]; ok {
		return n
	}
	return 0
}

// Known reports whether the plan exists in the catalog.
func (c PlanCatalog) Known(p Plan) bool {
	_, ok := c[p]
	return ok
}
