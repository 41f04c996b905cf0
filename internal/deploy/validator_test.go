package deploy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tommy2118/tcf-platform/internal/orchestrator"
)

func baseRequest() DeploymentRequest {
	return DeploymentRequest{
		Service:         "gateway",
		Image:           "registry.example.com/gateway",
		Tag:             "v1.2.3",
		ReplicaCount:    1,
		RequestedCPU:    1,
		RequestedMemory: 512,
		LimitCPU:        2,
		LimitMemory:     1024,
		AvailableCPU:    4,
		AvailableMemory: 4096,
		HealthCheckPath: "/health",
		HealthTimeout:   2 * time.Second,
		HealthRetries:   3,
	}
}

func TestValidatePassesWhenEverythingChecksOut(t *testing.T) {
	orch := orchestrator.NewFake()
	orch.Images["registry.example.com/gateway:v1.2.3"] = orchestrator.ImageProbeResult{Exists: true}
	orch.Statuses["auth"] = orchestrator.ServiceStatus{State: orchestrator.StateRunning, Health: orchestrator.HealthHealthy}

	v := NewValidator(orch,
		func(ctx context.Context, ref string) (int, error) { return 0, nil },
		func(ctx context.Context, path string, timeout time.Duration) (time.Duration, error) { return 10 * time.Millisecond, nil },
		func(ctx context.Context, service string) (bool, bool) { return true, true },
	)

	req := baseRequest()
	req.Dependencies = []string{"auth"}

	report := v.Validate(context.Background(), req)
	assert.True(t, report.Valid, "%+v", report.SubValidations)
}

func TestValidateFailsOnMissingImage(t *testing.T) {
	orch := orchestrator.NewFake()
	v := NewValidator(orch, nil, nil, func(ctx context.Context, service string) (bool, bool) { return true, true })

	report := v.Validate(context.Background(), baseRequest())
	assert.False(t, report.Valid)
	imageResult := findSub(report, "image")
	require.NotNil(t, imageResult)
	assert.False(t, imageResult.Valid)
}

func TestValidateFailsWhenResourcesExceedAvailable(t *testing.T) {
	orch := orchestrator.NewFake()
	orch.Images["registry.example.com/gateway:v1.2.3"] = orchestrator.ImageProbeResult{Exists: true}
	v := NewValidator(orch, nil, nil, func(ctx context.Context, service string) (bool, bool) { return true, true })

	req := baseRequest()
	req.RequestedCPU = 8

	report := v.Validate(context.Background(), req)
	assert.False(t, report.Valid)
	res := findSub(report, "resources")
	require.NotNil(t, res)
	assert.Contains(t, res.Errors[0], "CPU")
}

func TestValidateFlagsPlaintextSecretEnv(t *testing.T) {
	orch := orchestrator.NewFake()
	orch.Images["registry.example.com/gateway:v1.2.3"] = orchestrator.ImageProbeResult{Exists: true}
	v := NewValidator(orch, nil, nil, func(ctx context.Context, service string) (bool, bool) { return true, true })

	req := baseRequest()
	req.Env = map[string]string{"DB_PASSWORD": "hunter2"}

	report := v.Validate(context.Background(), req)
	assert.False(t, report.Valid)
	sec := findSub(report, "security")
	require.NotNil(t, sec)
	assert.Contains(t, sec.Errors[0], "DB_PASSWORD")
}

func TestValidateFailsOnUnhealthyDependency(t *testing.T) {
	orch := orchestrator.NewFake()
	orch.Images["registry.example.com/gateway:v1.2.3"] = orchestrator.ImageProbeResult{Exists: true}
	orch.Statuses["auth"] = orchestrator.ServiceStatus{State: orchestrator.StateRunning, Health: orchestrator.HealthUnhealthy}
	v := NewValidator(orch, nil, nil, func(ctx context.Context, service string) (bool, bool) { return true, true })

	req := baseRequest()
	req.Dependencies = []string{"auth"}

	report := v.Validate(context.Background(), req)
	assert.False(t, report.Valid)
	dep := findSub(report, "dependencies")
	require.NotNil(t, dep)
	assert.False(t, dep.Valid)
}

func TestValidateFailsRollbackReadinessWithoutPreviousDeployment(t *testing.T) {
	orch := orchestrator.NewFake()
	orch.Images["registry.example.com/gateway:v1.2.3"] = orchestrator.ImageProbeResult{Exists: true}
	v := NewValidator(orch, nil, nil, func(ctx context.Context, service string) (bool, bool) { return false, false })

	report := v.Validate(context.Background(), baseRequest())
	assert.False(t, report.Valid)
	rb := findSub(report, "rollback_readiness")
	require.NotNil(t, rb)
	assert.False(t, rb.Valid)
}

func TestValidateRejectsShapeBeforeSemanticChecks(t *testing.T) {
	v := NewValidator(orchestrator.NewFake(), nil, nil, nil)
	report := v.Validate(context.Background(), DeploymentRequest{})
	require.False(t, report.Valid)
	require.Len(t, report.SubValidations, 1)
	assert.Equal(t, "shape", report.SubValidations[0].Name)
}

func findSub(report ValidationReport, name string) *SubValidationResult {
	for i := range report.SubValidations {
		if report.SubValidations[i].Name == name {
			return &report.SubValidations[i]
		}
	}
	return nil
}
