package deploy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetPercentageRebalancesOtherTargets(t *testing.T) {
	dir := t.TempDir()
	lb := NewLoadBalancer(dir, nil)
	lb.RegisterTarget("gateway", "blue", "blue:3000")
	lb.RegisterTarget("gateway", "green", "green:3000")

	require.NoError(t, lb.SetPercentage(context.Background(), "gateway", "green", 30))

	dist := lb.Distribution("gateway")
	assert.Equal(t, 30, dist["green"])
	assert.Equal(t, 70, dist["blue"])
	assert.Equal(t, 100, dist["green"]+dist["blue"])
}

func TestSetPercentageWritesUpstreamConfigAndReloads(t *testing.T) {
	dir := t.TempDir()
	reloaded := false
	lb := NewLoadBalancer(dir, func(ctx context.Context) error { reloaded = true; return nil })
	lb.RegisterTarget("gateway", "blue", "blue:3000")
	lb.RegisterTarget("gateway", "green", "green:3000")

	require.NoError(t, lb.SetPercentage(context.Background(), "gateway", "green", 100))
	assert.True(t, reloaded)

	payload, err := os.ReadFile(filepath.Join(dir, "gateway.upstream.conf"))
	require.NoError(t, err)
	assert.Contains(t, string(payload), "upstream gateway")
	assert.Contains(t, string(payload), "blue:3000")
	assert.Contains(t, string(payload), "green:3000")
}

func TestCurrentTargetReportsMajorityHolder(t *testing.T) {
	dir := t.TempDir()
	lb := NewLoadBalancer(dir, nil)
	lb.RegisterTarget("gateway", "blue", "blue:3000")
	lb.RegisterTarget("gateway", "green", "green:3000")
	require.NoError(t, lb.SetPercentage(context.Background(), "gateway", "green", 75))

	assert.Equal(t, "green", lb.CurrentTarget("gateway"))
}

func TestSetPercentageRejectsOutOfRangeValue(t *testing.T) {
	lb := NewLoadBalancer(t.TempDir(), nil)
	lb.RegisterTarget("gateway", "blue", "blue:3000")
	err := lb.SetPercentage(context.Background(), "gateway", "blue", 150)
	assert.Error(t, err)
}

func TestSwitchInstantMovesAllTrafficAtOnce(t *testing.T) {
	lb := NewLoadBalancer(t.TempDir(), nil)
	lb.RegisterTarget("gateway", "blue", "blue:3000")
	lb.RegisterTarget("gateway", "green", "green:3000")

	result, err := lb.SwitchInstant(context.Background(), "gateway", "green")
	require.NoError(t, err)
	assert.False(t, result.SwitchTime.IsZero())
	assert.Equal(t, 100, lb.Distribution("gateway")["green"])
	assert.Equal(t, 0, lb.Distribution("gateway")["blue"])
}
