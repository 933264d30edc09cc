package subscription

import "fmt"

// Plan identifies a subscription tier.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanBasic   Plan = "basic"
	PlanPremium Plan = "premium"
)

// planRanks defines the total order over tiers. Upgrade and downgrade
// direction checks rely exclusively on this ranking.
var planRanks = map[Plan]int{
	PlanFree:    0,
	PlanBasic:   1,
	PlanPremium: 2,
}

// Rank returns the tier's position in the plan hierarchy.
// Unknown plans rank below FREE so they never pass a direction check.
func (p Plan) Rank() int {
	if rank, ok := planRanks[p]; ok {
		return rank
	}
	return -1
}

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	_, ok := planRanks[p]
	return ok
}

// IsFree reports whether p is the free tier.
func (p Plan) IsFree() bool { return p == PlanFree }

// ParsePlan converts a wire value into a Plan.
func ParsePlan(s string) (Plan, error) {
	p := Plan(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlan, s)
	}
	return p, nil
}
