// policy.go: Configurable admission policy (thresholds, base limits, endpoint rules)
package ratelimit

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EndpointRule maps a request path prefix to an endpoint class and a limit
// multiplier. Sensitive endpoints carry a multiplier below 1.
type EndpointRule struct {
	Prefix     string  `json:"prefix" yaml:"prefix" mapstructure:"prefix" validate:"required"`
	Name       string  `json:"name" yaml:"name" mapstructure:"name" validate:"required"`
	Multiplier float64 `json:"multiplier" yaml:"multiplier" mapstructure:"multiplier" validate:"gt=0"`
}

// FallbackPolicy bounds the local limiter used while the store is down.
type FallbackPolicy struct {
	Limit  int           `json:"limit" yaml:"limit" mapstructure:"limit" validate:"min=1"`
	Window time.Duration `json:"window" yaml:"window" mapstructure:"window" validate:"min=1s"`
}

// Policy holds every tunable of the admission controller. The zero value is
// not usable; start from DefaultPolicy and override.
type Policy struct {
	Enabled   bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" mapstructure:"key_prefix" validate:"required"`

	// Admission window.
	Window time.Duration `json:"window" yaml:"window" mapstructure:"window" validate:"min=1s"`

	// Per-category base limits within one window.
	BaseLimits map[Category]int `json:"base_limits" yaml:"base_limits" mapstructure:"base_limits" validate:"required"`

	// Endpoint multiplier table; the longest matching prefix wins.
	EndpointRules []EndpointRule `json:"endpoint_rules" yaml:"endpoint_rules" mapstructure:"endpoint_rules" validate:"dive"`

	// Classification thresholds.
	NewAccountAge     time.Duration `json:"new_account_age" yaml:"new_account_age" mapstructure:"new_account_age" validate:"min=1s"`
	PowerAccountAge   time.Duration `json:"power_account_age" yaml:"power_account_age" mapstructure:"power_account_age" validate:"min=1s"`
	PowerMinSuccesses int64         `json:"power_min_successes" yaml:"power_min_successes" mapstructure:"power_min_successes" validate:"min=1"`
	PowerMaxErrorRate float64       `json:"power_max_error_rate" yaml:"power_max_error_rate" mapstructure:"power_max_error_rate" validate:"gt=0,lte=1"`

	// Error-rate penalty.
	PenaltyErrorRate  float64 `json:"penalty_error_rate" yaml:"penalty_error_rate" mapstructure:"penalty_error_rate" validate:"gt=0,lte=1"`
	PenaltyMultiplier float64 `json:"penalty_multiplier" yaml:"penalty_multiplier" mapstructure:"penalty_multiplier" validate:"gt=0,lt=1"`

	// Abuse detection and blocking.
	RapidInterval       time.Duration `json:"rapid_interval" yaml:"rapid_interval" mapstructure:"rapid_interval" validate:"min=1ms"`
	RapidBlockThreshold int64         `json:"rapid_block_threshold" yaml:"rapid_block_threshold" mapstructure:"rapid_block_threshold" validate:"min=1"`
	AuthFailThreshold   int64         `json:"auth_fail_threshold" yaml:"auth_fail_threshold" mapstructure:"auth_fail_threshold" validate:"min=1"`
	BlockTTL            time.Duration `json:"block_ttl" yaml:"block_ttl" mapstructure:"block_ttl" validate:"min=1s"`

	// Lifetimes and budgets.
	BehaviorTTL  time.Duration `json:"behavior_ttl" yaml:"behavior_ttl" mapstructure:"behavior_ttl" validate:"min=1m"`
	StoreTimeout time.Duration `json:"store_timeout" yaml:"store_timeout" mapstructure:"store_timeout" validate:"min=1ms"`

	// Behavior tracker queue.
	TrackerQueueSize int `json:"tracker_queue_size" yaml:"tracker_queue_size" mapstructure:"tracker_queue_size" validate:"min=1"`

	Fallback FallbackPolicy `json:"fallback" yaml:"fallback" mapstructure:"fallback"`
}

// DefaultPolicy returns the reference policy. Numbers here are business
// policy, not mechanism, and are expected to be overridden from config.
func DefaultPolicy() *Policy {
	return &Policy{
		Enabled:   true,
		KeyPrefix: "gatekeeper",
		Window:    time.Minute,
		BaseLimits: map[Category]int{
			CategoryNew:     30,
			CategoryRegular: 60,
			CategoryPower:   120,
		},
		EndpointRules: []EndpointRule{
			{Prefix: "/api/v1/auth", Name: "auth", Multiplier: 0.5},
			{Prefix: "/api/v1/identities", Name: "auth", Multiplier: 0.5},
		},
		NewAccountAge:       24 * time.Hour,
		PowerAccountAge:     30 * 24 * time.Hour,
		PowerMinSuccesses:   1000,
		PowerMaxErrorRate:   0.05,
		PenaltyErrorRate:    0.3,
		PenaltyMultiplier:   0.5,
		RapidInterval:       time.Second,
		RapidBlockThreshold: 50,
		AuthFailThreshold:   5,
		BlockTTL:            5 * time.Minute,
		BehaviorTTL:         7 * 24 * time.Hour,
		StoreTimeout:        200 * time.Millisecond,
		TrackerQueueSize:    1024,
		Fallback: FallbackPolicy{
			Limit:  60,
			Window: time.Minute,
		},
	}
}

var validate = validator.New()

// Validate canonicalizes category keys (config sources may lower-case map
// keys) and checks structural constraints, including the limit ordering
// between categories (NEW must never out-rank REGULAR, nor REGULAR POWER).
func (p *Policy) Validate() error {
	canonical := make(map[Category]int, len(p.BaseLimits))
	for c, limit := range p.BaseLimits {
		canonical[Category(strings.ToUpper(string(c)))] = limit
	}
	p.BaseLimits = canonical
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("policy validation: %w", err)
	}
	for _, c := range []Category{CategoryNew, CategoryRegular, CategoryPower} {
		if p.BaseLimits[c] < 1 {
			return fmt.Errorf("policy validation: base limit for %s must be >= 1", c)
		}
	}
	if p.BaseLimits[CategoryNew] > p.BaseLimits[CategoryRegular] ||
		p.BaseLimits[CategoryRegular] > p.BaseLimits[CategoryPower] {
		return fmt.Errorf("policy validation: base limits must be ordered NEW <= REGULAR <= POWER")
	}
	if p.Fallback.Limit < 1 || p.Fallback.Window < time.Second {
		return fmt.Errorf("policy validation: fallback limit and window must be set")
	}
	return nil
}

// MatchEndpoint resolves the endpoint class and multiplier for a request
// path. Unmatched paths fall into the default class with multiplier 1.
func (p *Policy) MatchEndpoint(path string) (name string, multiplier float64) {
	best := -1
	name, multiplier = "default", 1.0
	for _, rule := range p.EndpointRules {
		if strings.HasPrefix(path, rule.Prefix) && len(rule.Prefix) > best {
			best = len(rule.Prefix)
			name, multiplier = rule.Name, rule.Multiplier
		}
	}
	return name, multiplier
}

// EndpointClasses returns every endpoint class the rule table can produce,
// including the implicit default class, without duplicates.
func (p *Policy) EndpointClasses() []string {
	classes := []string{"default"}
	seen := map[string]bool{"default": true}
	for _, rule := range p.EndpointRules {
		if !seen[rule.Name] {
			seen[rule.Name] = true
			classes = append(classes, rule.Name)
		}
	}
	return classes
}

// LoadPolicyFile reads a YAML or JSON policy file over the defaults.
// Durations accept Go syntax ("30s", "5m").
func LoadPolicyFile(path string) (*Policy, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}
	p := DefaultPolicy()
	if err := v.Unmarshal(p); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// RenderYAML renders the policy as YAML for operator inspection.
func (p *Policy) RenderYAML() ([]byte, error) {
	out, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal policy: %w", err)
	}
	return out, nil
}

// Clone returns a deep copy so a live policy can be swapped atomically.
func (p *Policy) Clone() *Policy {
	cp := *p
	cp.BaseLimits = make(map[Category]int, len(p.BaseLimits))
	for k, v := range p.BaseLimits {
		cp.BaseLimits[k] = v
	}
	cp.EndpointRules = append([]EndpointRule(nil), p.EndpointRules...)
	return &cp
}
