package ratelimit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyIsValid(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())
}

func TestPolicyValidateRejectsBadOrdering(t *testing.T) {
	p := DefaultPolicy()
	p.BaseLimits[CategoryNew] = 500
	assert.Error(t, p.Validate())
}

func TestPolicyValidateRejectsMissingLimits(t *testing.T) {
	p := DefaultPolicy()
	delete(p.BaseLimits, CategoryPower)
	assert.Error(t, p.Validate())
}

func TestPolicyValidateRejectsZeroWindow(t *testing.T) {
	p := DefaultPolicy()
	p.Window = 0
	assert.Error(t, p.Validate())
}

func TestLoadPolicyFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
window: 30s
base_limits:
  NEW: 10
  REGULAR: 20
  POWER: 40
block_ttl: 120s
`), 0o644))

	p, err := LoadPolicyFile(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, p.Window)
	assert.Equal(t, 10, p.BaseLimits[CategoryNew])
	assert.Equal(t, 40, p.BaseLimits[CategoryPower])
	assert.Equal(t, 2*time.Minute, p.BlockTTL)
	// Unset fields keep their defaults.
	assert.Equal(t, int64(1000), p.PowerMinSuccesses)
}

func TestLoadPolicyFileRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_limits:
  NEW: 100
  REGULAR: 20
  POWER: 40
`), 0o644))

	_, err := LoadPolicyFile(path)
	assert.Error(t, err)
}

func TestPolicyEndpointClasses(t *testing.T) {
	p := DefaultPolicy()
	// Both default rules share the "auth" class.
	assert.ElementsMatch(t, []string{"default", "auth"}, p.EndpointClasses())

	p.EndpointRules = nil
	assert.Equal(t, []string{"default"}, p.EndpointClasses())
}

func TestPolicyCloneIsIndependent(t *testing.T) {
	p := DefaultPolicy()
	cp := p.Clone()
	cp.BaseLimits[CategoryNew] = 999
	cp.EndpointRules[0].Multiplier = 9.9

	assert.Equal(t, 30, p.BaseLimits[CategoryNew])
	assert.Equal(t, 0.5, p.EndpointRules[0].Multiplier)
}
