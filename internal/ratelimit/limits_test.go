package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeLimitBaseTable(t *testing.T) {
	p := DefaultPolicy()
	clean := BehaviorStats{Successes: 100}

	assert.Equal(t, 30, ComputeLimit(p, CategoryNew, "/api/v1/images", clean))
	assert.Equal(t, 60, ComputeLimit(p, CategoryRegular, "/api/v1/images", clean))
	assert.Equal(t, 120, ComputeLimit(p, CategoryPower, "/api/v1/images", clean))
}

func TestComputeLimitOrdering(t *testing.T) {
	p := DefaultPolicy()
	paths := []string{"/api/v1/images", "/api/v1/auth/login", "/anything"}
	statsSet := []BehaviorStats{{}, {Successes: 10, Failures: 10}, {Successes: 1, Failures: 9}}

	for _, path := range paths {
		for _, stats := range statsSet {
			n := ComputeLimit(p, CategoryNew, path, stats)
			r := ComputeLimit(p, CategoryRegular, path, stats)
			pw := ComputeLimit(p, CategoryPower, path, stats)
			assert.LessOrEqual(t, n, r, "path %s", path)
			assert.LessOrEqual(t, r, pw, "path %s", path)
		}
	}
}

func TestComputeLimitSensitiveEndpoint(t *testing.T) {
	p := DefaultPolicy()
	clean := BehaviorStats{Successes: 100}

	neutral := ComputeLimit(p, CategoryRegular, "/api/v1/images", clean)
	auth := ComputeLimit(p, CategoryRegular, "/api/v1/auth/login", clean)
	assert.Equal(t, 60, neutral)
	assert.Equal(t, 30, auth)
	assert.Less(t, auth, neutral)
}

func TestComputeLimitErrorRatePenalty(t *testing.T) {
	p := DefaultPolicy()

	failing := BehaviorStats{Successes: 5, Failures: 5} // error rate 0.5
	assert.Equal(t, 30, ComputeLimit(p, CategoryRegular, "/api/v1/images", failing))

	// Penalty triggers exactly at the threshold.
	atThreshold := BehaviorStats{Successes: 7, Failures: 3}
	assert.Equal(t, 30, ComputeLimit(p, CategoryRegular, "/api/v1/images", atThreshold))

	justBelow := BehaviorStats{Successes: 71, Failures: 29}
	assert.Equal(t, 60, ComputeLimit(p, CategoryRegular, "/api/v1/images", justBelow))
}

func TestComputeLimitMultipliersCompose(t *testing.T) {
	p := DefaultPolicy()
	failing := BehaviorStats{Successes: 0, Failures: 10}

	// 30 * 0.5 (auth) * 0.5 (penalty) = 7.5 -> 7
	assert.Equal(t, 7, ComputeLimit(p, CategoryNew, "/api/v1/auth/login", failing))
}

func TestComputeLimitFloorsAtOne(t *testing.T) {
	p := DefaultPolicy()
	p.BaseLimits[CategoryNew] = 1
	failing := BehaviorStats{Failures: 10}

	assert.Equal(t, 1, ComputeLimit(p, CategoryNew, "/api/v1/auth/login", failing))
}

func TestMatchEndpoint(t *testing.T) {
	p := DefaultPolicy()
	p.EndpointRules = []EndpointRule{
		{Prefix: "/api/v1", Name: "api", Multiplier: 1.0},
		{Prefix: "/api/v1/auth", Name: "auth", Multiplier: 0.5},
	}

	name, mult := p.MatchEndpoint("/api/v1/auth/login")
	assert.Equal(t, "auth", name)
	assert.Equal(t, 0.5, mult)

	// Longest prefix wins regardless of rule order.
	name, mult = p.MatchEndpoint("/api/v1/images")
	assert.Equal(t, "api", name)
	assert.Equal(t, 1.0, mult)

	name, mult = p.MatchEndpoint("/unmatched")
	assert.Equal(t, "default", name)
	assert.Equal(t, 1.0, mult)
}
