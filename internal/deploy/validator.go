// Package deploy implements the Deployment Validator (spec §4.L), the
// Blue/Green Deployer (§4.M), and the Load-Balancer Adapter (§4.N).
package deploy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tommy2118/tcf-platform/internal/orchestrator"
)

// DeploymentRequest is the inbound request a validator checks.
type DeploymentRequest struct {
	Service          string            `validate:"required"`
	Image            string            `validate:"required"`
	Tag              string            `validate:"required"`
	ReplicaCount     int               `validate:"gte=1"`
	RequestedCPU     float64           `validate:"gte=0"`
	RequestedMemory  int64             `validate:"gte=0"`
	LimitCPU         float64           `validate:"gte=0"`
	LimitMemory      int64             `validate:"gte=0"`
	AvailableCPU     float64           `validate:"gte=0"`
	AvailableMemory  int64             `validate:"gte=0"`
	Env              map[string]string
	HealthCheckPath  string
	HealthTimeout    time.Duration
	HealthRetries    int
	Dependencies     []string
}

// SubValidationResult is one named sub-validation's outcome.
type SubValidationResult struct {
	Name   string
	Valid  bool
	Errors []string
}

// ValidationReport is the compound result of Validate().
type ValidationReport struct {
	Valid          bool
	SubValidations []SubValidationResult
}

// VulnerabilityScanner reports critical findings for an image reference.
type VulnerabilityScanner func(ctx context.Context, imageRef string) (criticalFindings int, err error)

// HealthProbe reaches a deployment's health-check endpoint, returning its
// response time.
type HealthProbe func(ctx context.Context, path string, timeout time.Duration) (responseTime time.Duration, err error)

// PreviousDeploymentLookup reports whether a previous deployment of a
// service exists and whether its image is still available.
type PreviousDeploymentLookup func(ctx context.Context, service string) (exists bool, imageAvailable bool)

// Validator runs the Deployment Validator's sub-validations (spec §4.L).
type Validator struct {
	orch      orchestrator.Orchestrator
	scan      VulnerabilityScanner
	probe     HealthProbe
	prevLookup PreviousDeploymentLookup
	structValidator *validator.Validate
}

var secretLikeKeyPattern = regexp.MustCompile(`(?i)(password|secret|token|key|credential)`)

// NewValidator builds a Validator. scan, probe, and prevLookup may be nil
// to skip the corresponding sub-validation (reported as invalid with a
// "not configured" error, never silently passed).
func NewValidator(orch orchestrator.Orchestrator, scan VulnerabilityScanner, probe HealthProbe, prevLookup PreviousDeploymentLookup) *Validator {
	return &Validator{orch: orch, scan: scan, probe: probe, prevLookup: prevLookup, structValidator: validator.New()}
}

// Validate runs every sub-validation and aggregates them into a
// ValidationReport whose Valid field is their conjunction.
func (v *Validator) Validate(ctx context.Context, req DeploymentRequest) ValidationReport {
	var subs []SubValidationResult

	if err := v.structValidator.Struct(req); err != nil {
		subs = append(subs, SubValidationResult{Name: "shape", Valid: false, Errors: []string{err.Error()}})
		return ValidationReport{Valid: false, SubValidations: subs}
	}
	subs = append(subs, SubValidationResult{Name: "shape", Valid: true})

	subs = append(subs, v.validateImage(ctx, req))
	subs = append(subs, v.validateResources(req))
	subs = append(subs, v.validateSecurity(req))
	subs = append(subs, v.validateHealthCheck(ctx, req))
	subs = append(subs, v.validateDependencies(ctx, req))
	subs = append(subs, v.validateRollbackReadiness(ctx, req))

	valid := true
	for _, s := range subs {
		if !s.Valid {
			valid = false
		}
	}
	return ValidationReport{Valid: valid, SubValidations: subs}
}

func (v *Validator) validateImage(ctx context.Context, req DeploymentRequest) SubValidationResult {
	name := "image"
	var errs []string

	ref := req.Image + ":" + req.Tag
	if !strings.Contains(ref, ":") {
		errs = append(errs, "image reference missing tag")
	}

	if v.orch != nil {
		probe, err := v.orch.ImageProbe(ctx, ref)
		if err != nil {
			errs = append(errs, "image probe failed: "+err.Error())
		} else if !probe.Exists {
			errs = append(errs, "image does not exist")
		}
	}

	if v.scan == nil {
		errs = append(errs, "vulnerability scanner not configured")
	} else {
		critical, err := v.scan(ctx, ref)
		if err != nil {
			errs = append(errs, "vulnerability scan failed: "+err.Error())
		} else if critical > 0 {
			errs = append(errs, fmt.Sprintf("%d critical vulnerabilities found", critical))
		}
	}

	return SubValidationResult{Name: name, Valid: len(errs) == 0, Errors: errs}
}

func (v *Validator) validateResources(req DeploymentRequest) SubValidationResult {
	name := "resources"
	var errs []string

	if req.RequestedCPU > req.AvailableCPU {
		errs = append(errs, "requested CPU exceeds available CPU")
	}
	if req.RequestedMemory > req.AvailableMemory {
		errs = append(errs, "requested memory exceeds available memory")
	}
	if req.LimitCPU < req.RequestedCPU {
		errs = append(errs, "CPU limit is below requested CPU")
	}
	if req.LimitMemory < req.RequestedMemory {
		errs = append(errs, "memory limit is below requested memory")
	}

	return SubValidationResult{Name: name, Valid: len(errs) == 0, Errors: errs}
}

// ProjectedUtilization returns requested/available as a percentage for CPU
// and memory, used by callers that want the projected-utilization figure
// alongside the pass/fail result.
func ProjectedUtilization(req DeploymentRequest) (cpuPercent, memPercent float64) {
	if req.AvailableCPU > 0 {
		cpuPercent = req.RequestedCPU / req.AvailableCPU * 100
	}
	if req.AvailableMemory > 0 {
		memPercent = float64(req.RequestedMemory) / float64(req.AvailableMemory) * 100
	}
	return cpuPercent, memPercent
}

func (v *Validator) validateSecurity(req DeploymentRequest) SubValidationResult {
	name := "security"
	var errs []string

	for key, value := range req.Env {
		if secretLikeKeyPattern.MatchString(key) && value != "" {
			errs = append(errs, fmt.Sprintf("env %q looks like plain-text secret material", key))
		}
	}

	return SubValidationResult{Name: name, Valid: len(errs) == 0, Errors: errs}
}

func (v *Validator) validateHealthCheck(ctx context.Context, req DeploymentRequest) SubValidationResult {
	name := "health_check"
	var errs []string

	if req.HealthTimeout <= 0 {
		errs = append(errs, "health check timeout must be positive")
	}
	if req.HealthRetries <= 0 {
		errs = append(errs, "health check retries must be positive")
	}

	if v.probe == nil {
		errs = append(errs, "health probe not configured")
	} else if len(errs) == 0 {
		if _, err := v.probe(ctx, req.HealthCheckPath, req.HealthTimeout); err != nil {
			errs = append(errs, "health check endpoint unreachable: "+err.Error())
		}
	}

	return SubValidationResult{Name: name, Valid: len(errs) == 0, Errors: errs}
}

func (v *Validator) validateDependencies(ctx context.Context, req DeploymentRequest) SubValidationResult {
	name := "dependencies"
	var errs []string

	if v.orch == nil {
		return SubValidationResult{Name: name, Valid: true}
	}

	statuses, err := v.orch.Status(ctx)
	if err != nil {
		return SubValidationResult{Name: name, Valid: false, Errors: []string{err.Error()}}
	}

	for _, dep := range req.Dependencies {
		status, ok := statuses[dep]
		if !ok || status.State != orchestrator.StateRunning || status.Health != orchestrator.HealthHealthy {
			errs = append(errs, fmt.Sprintf("dependency %q is not running and healthy", dep))
		}
	}

	return SubValidationResult{Name: name, Valid: len(errs) == 0, Errors: errs}
}

func (v *Validator) validateRollbackReadiness(ctx context.Context, req DeploymentRequest) SubValidationResult {
	name := "rollback_readiness"

	if v.prevLookup == nil {
		return SubValidationResult{Name: name, Valid: false, Errors: []string{"no previous-deployment lookup configured"}}
	}

	exists, imageAvailable := v.prevLookup(ctx, req.Service)
	if !exists || !imageAvailable {
		return SubValidationResult{Name: name, Valid: false, Errors: []string{"no previous deployment with an available image"}}
	}
	return SubValidationResult{Name: name, Valid: true}
}
