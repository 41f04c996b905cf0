package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tommy2118/tcf-platform/internal/deploy"
	"github.com/tommy2118/tcf-platform/internal/metrics"
	"github.com/tommy2118/tcf-platform/internal/orchestrator"
	"github.com/tommy2118/tcf-platform/internal/registry"
)

func allHealthy(reg *registry.Registry) map[string]orchestrator.ServiceStatus {
	out := map[string]orchestrator.ServiceStatus{}
	for _, s := range reg.Services() {
		out[s.Name] = orchestrator.ServiceStatus{State: orchestrator.StateRunning, Health: orchestrator.HealthHealthy, Port: s.Port}
	}
	return out
}

func newTestMonitor(t *testing.T, orch *orchestrator.Fake) (*Monitor, *registry.Registry) {
	t.Helper()
	reg := registry.Default()
	collector := metrics.New(func(ctx context.Context, service string) (metrics.ContainerStats, error) {
		return metrics.ContainerStats{}, nil
	}, nil)
	validator := deploy.NewValidator(orch, nil, nil, func(ctx context.Context, service string) (bool, bool) { return true, true })
	m := New(orch, reg, collector, validator, nil, nil)
	return m, reg
}

func TestStartFailsWhenAlreadyRunning(t *testing.T) {
	orch := orchestrator.NewFake()
	m, _ := newTestMonitor(t, orch)

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	err := m.Start(context.Background())
	assert.Error(t, err)
}

func TestStopIsSafeNoOpWhenNotRunning(t *testing.T) {
	orch := orchestrator.NewFake()
	m, _ := newTestMonitor(t, orch)
	m.Stop()
	assert.False(t, m.Running())
}

func TestDeploymentHealthStatusHealthyWhenEverythingHealthy(t *testing.T) {
	orch := orchestrator.NewFake()
	m, reg := newTestMonitor(t, orch)
	orch.Statuses = allHealthy(reg)
	m.security = func(ctx context.Context) (bool, []string, error) { return true, nil, nil }
	m.backup = func(ctx context.Context) (bool, error) { return true, nil }
	m.refreshSecurity(context.Background())

	status, err := m.DeploymentHealthStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, status)
}

func TestDeploymentHealthStatusUnhealthyWhenCriticalServiceDown(t *testing.T) {
	orch := orchestrator.NewFake()
	m, reg := newTestMonitor(t, orch)
	orch.Statuses = allHealthy(reg)
	orch.Statuses["gateway"] = orchestrator.ServiceStatus{State: orchestrator.StateNotRunning, Health: orchestrator.HealthUnknown}

	status, err := m.DeploymentHealthStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, status)
}

func TestDeploymentHealthStatusDegradedWhenNonCriticalServiceUnhealthy(t *testing.T) {
	orch := orchestrator.NewFake()
	m, reg := newTestMonitor(t, orch)
	orch.Statuses = allHealthy(reg)
	orch.Statuses["tokens"] = orchestrator.ServiceStatus{State: orchestrator.StateRunning, Health: orchestrator.HealthUnhealthy}

	status, err := m.DeploymentHealthStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, status)
}

func TestRealTimeAlertsFailsWhenNotRunning(t *testing.T) {
	orch := orchestrator.NewFake()
	m, _ := newTestMonitor(t, orch)

	_, err := m.RealTimeAlerts(context.Background())
	assert.Error(t, err)
}

func TestRealTimeAlertsReportsServiceDown(t *testing.T) {
	orch := orchestrator.NewFake()
	m, reg := newTestMonitor(t, orch)
	orch.Statuses = allHealthy(reg)
	orch.Statuses["workflows"] = orchestrator.ServiceStatus{State: orchestrator.StateNotRunning, Health: orchestrator.HealthUnknown}

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	alerts, err := m.RealTimeAlerts(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, alerts)
	found := false
	for _, a := range alerts {
		if a.Type == SourceServiceHealth {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateDeploymentFailsOnUnavailableExternalDependency(t *testing.T) {
	orch := orchestrator.NewFake()
	orch.Images["registry.example.com/gateway:v2"] = orchestrator.ImageProbeResult{Exists: true}
	m, _ := newTestMonitor(t, orch)
	m.SetExternalDependencies([]ExternalDependencyCheck{
		{Name: "openai", Check: func(ctx context.Context) (bool, error) { return false, nil }},
	})

	req := deploy.DeploymentRequest{
		Service: "gateway", Image: "registry.example.com/gateway", Tag: "v2",
		ReplicaCount: 1, AvailableCPU: 4, AvailableMemory: 4096,
		HealthCheckPath: "/health", HealthTimeout: 2 * time.Second, HealthRetries: 3,
	}

	outcome := m.ValidateDeployment(context.Background(), req)
	assert.False(t, outcome.Allowed)
	assert.Contains(t, outcome.Extra[0], "openai")
}

func TestMonitorDeploymentReportsUnhealthyOnAnyServiceDown(t *testing.T) {
	orch := orchestrator.NewFake()
	m, reg := newTestMonitor(t, orch)
	orch.Statuses = allHealthy(reg)
	orch.Statuses["context"] = orchestrator.ServiceStatus{State: orchestrator.StateNotRunning, Health: orchestrator.HealthUnknown}

	report, err := m.MonitorDeployment(context.Background(), "deploy-123")
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, report.OverallHealth)
	assert.Len(t, report.Services, 6)
}

func TestMonitorDeploymentReportsHealthyWhenAllServicesUp(t *testing.T) {
	orch := orchestrator.NewFake()
	m, reg := newTestMonitor(t, orch)
	orch.Statuses = allHealthy(reg)

	report, err := m.MonitorDeployment(context.Background(), "deploy-123")
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, report.OverallHealth)
}
