// limits.go: Effective request budget computation
package ratelimit

// ComputeLimit combines the category base limit, the endpoint multiplier for
// the request path, and the error-rate penalty into the effective budget for
// one window. Multipliers compose in that fixed order and the result floors
// to an integer of at least 1, so the budget is reproducible from inputs
// alone.
func ComputeLimit(p *Policy, category Category, path string, stats BehaviorStats) int {
	limit := float64(p.BaseLimits[category])
	_, multiplier := p.MatchEndpoint(path)
	limit *= multiplier
	if stats.ErrorRate() >= p.PenaltyErrorRate {
		limit *= p.PenaltyMultiplier
	}
	if limit < 1 {
		return 1
	}
	return int(limit)
}
