// classifier.go: Trust category derivation
package ratelimit

import "time"

// UnknownAccountAge marks callers whose registration time could not be
// resolved (anonymous, or the account store had no record). They classify
// as NEW.
const UnknownAccountAge = time.Duration(-1)

// Classify derives the trust category from account age and behavior stats.
// It is a pure function of its inputs; conflicting signals resolve toward
// the more restrictive category.
func Classify(p *Policy, accountAge time.Duration, stats BehaviorStats) Category {
	if accountAge < 0 || accountAge < p.NewAccountAge {
		return CategoryNew
	}
	if accountAge >= p.PowerAccountAge &&
		stats.Successes >= p.PowerMinSuccesses &&
		stats.ErrorRate() < p.PowerMaxErrorRate {
		return CategoryPower
	}
	return CategoryRegular
}
