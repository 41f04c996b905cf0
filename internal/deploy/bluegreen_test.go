package deploy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tommy2118/tcf-platform/internal/orchestrator"
)

func newTestDeployer(t *testing.T, orch *orchestrator.Fake, errRate ErrorRateProbe, history HistoryLookup) *BlueGreenDeployer {
	t.Helper()
	lb := NewLoadBalancer(t.TempDir(), nil)
	lb.RegisterTarget("gateway", "blue", "blue:3000")
	d := NewBlueGreenDeployer(orch, lb, nil, errRate, history)
	d.sleep = func(time.Duration) {}
	return d
}

func TestDeploySucceedsAndRetiresBlue(t *testing.T) {
	orch := orchestrator.NewFake()
	orch.Images["registry.example.com/gateway:v2"] = orchestrator.ImageProbeResult{Exists: true}
	orch.HealthFunc = func(id string) bool { return true }

	d := newTestDeployer(t, orch, func(ctx context.Context, service, id string) (float64, error) { return 0.01, nil }, nil)

	result := d.Deploy(context.Background(), DeploymentRequest{Service: "gateway", Image: "registry.example.com/gateway", Tag: "v2"}, 5*time.Second)
	require.True(t, result.Success, "%+v", result)

	status := d.Status("gateway")
	assert.Equal(t, EnvState("green"), status.Current)
	assert.Equal(t, 100, status.Green.TrafficPct)
	assert.Equal(t, EnvAbsent, status.Blue.State)
}

func TestDeployRollsBackOnUnhealthyGreen(t *testing.T) {
	orch := orchestrator.NewFake()
	orch.HealthFunc = func(id string) bool { return false }

	d := newTestDeployer(t, orch, nil, nil)
	result := d.Deploy(context.Background(), DeploymentRequest{Service: "gateway", Image: "registry.example.com/gateway", Tag: "v2"}, 1*time.Second)

	assert.False(t, result.Success)
	assert.Equal(t, "health check failed", result.Reason)

	status := d.Status("gateway")
	assert.Equal(t, EnvState("blue"), status.Current)
	assert.Equal(t, 100, status.Blue.TrafficPct)
}

func TestDeployRollsBackOnHighErrorRate(t *testing.T) {
	orch := orchestrator.NewFake()
	orch.HealthFunc = func(id string) bool { return true }

	d := newTestDeployer(t, orch, func(ctx context.Context, service, id string) (float64, error) { return 0.5, nil }, nil)
	result := d.Deploy(context.Background(), DeploymentRequest{Service: "gateway", Image: "registry.example.com/gateway", Tag: "v2"}, 1*time.Second)

	assert.False(t, result.Success)
	assert.Equal(t, "high error rate", result.Reason)
}

func TestRollbackManualRestoresRecordedVersion(t *testing.T) {
	orch := orchestrator.NewFake()
	history := func(service, version string) (DeploymentRecord, bool) {
		if version == "v1" {
			return DeploymentRecord{Version: "v1", ServiceID: "gateway-v1", Image: "registry.example.com/gateway:v1"}, true
		}
		return DeploymentRecord{}, false
	}

	d := newTestDeployer(t, orch, nil, history)
	result := d.RollbackManual(context.Background(), "gateway", "v1")
	require.True(t, result.Success)

	status := d.Status("gateway")
	assert.Equal(t, "gateway-v1", status.Blue.ServiceID)
}

func TestRollbackManualFailsForUnknownVersion(t *testing.T) {
	orch := orchestrator.NewFake()
	history := func(service, version string) (DeploymentRecord, bool) { return DeploymentRecord{}, false }

	d := newTestDeployer(t, orch, nil, history)
	result := d.RollbackManual(context.Background(), "gateway", "v99")
	assert.False(t, result.Success)
}

func TestTrafficInvariantHoldsAtEveryStep(t *testing.T) {
	orch := orchestrator.NewFake()
	d := newTestDeployer(t, orch, func(ctx context.Context, service, id string) (float64, error) { return 0, nil }, nil)

	for _, pct := range ShiftSteps {
		require.NoError(t, d.lb.SetPercentage(context.Background(), "gateway", "green", pct))
		dist := d.lb.Distribution("gateway")
		assert.Equal(t, 100, dist["blue"]+dist["green"])
	}
}
