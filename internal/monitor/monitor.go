// Package monitor implements the Production Monitor (spec §4.O): a
// supervised background watcher that runs service-health and security
// loops, rolls up deployment health, and serves real-time alerts and
// deployment/monitor-by-id queries.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tommy2118/tcf-platform/internal/alertengine"
	"github.com/tommy2118/tcf-platform/internal/apperrors"
	"github.com/tommy2118/tcf-platform/internal/deploy"
	"github.com/tommy2118/tcf-platform/internal/metrics"
	"github.com/tommy2118/tcf-platform/internal/orchestrator"
	"github.com/tommy2118/tcf-platform/internal/registry"
)

// Status is the deployment_health_status() rollup (spec §4.O).
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// AlertSource distinguishes where a RealTimeAlert originated.
type AlertSource string

const (
	SourceServiceHealth AlertSource = "service_health"
	SourceSecurity      AlertSource = "security"
	SourceResource      AlertSource = "resource"
)

// RealTimeAlert is one entry of RealTimeAlerts().
type RealTimeAlert struct {
	Type      AlertSource
	Severity  alertengine.Severity
	Message   string
	Timestamp time.Time
}

// Thresholds is the Production Monitor's fixed alert-set configuration
// (spec §4.O): service-down, error-rate, resource, and security-breach.
type Thresholds struct {
	ServiceDownCount    float64 // >= this many down services is critical
	ErrorRateWarning    float64 // error rate fraction for a warning; not read — RealTimeAlerts raises no error-rate alerts
	ResourceCritical    float64 // resource utilization fraction triggering critical
	SecurityBreachCount float64 // findings count for critical; not read — every finding of a failed security pass is critical
}

// DefaultThresholds returns the spec §4.O fixed alert set.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ServiceDownCount:    1,
		ErrorRateWarning:    0.05,
		ResourceCritical:    0.90,
		SecurityBreachCount: 1,
	}
}

// SecurityValidator runs a security audit pass, returning whether it
// passed and any findings.
type SecurityValidator func(ctx context.Context) (passed bool, findings []string, err error)

// BackupHealthCheck reports whether the backup subsystem is healthy.
type BackupHealthCheck func(ctx context.Context) (healthy bool, err error)

// ExternalDependencyCheck reports whether one named external dependency
// (e.g. an upstream API) is reachable.
type ExternalDependencyCheck struct {
	Name  string
	Check func(ctx context.Context) (available bool, err error)
}

// Monitor is the Production Monitor.
type Monitor struct {
	orch       orchestrator.Orchestrator
	reg        *registry.Registry
	collector  *metrics.Collector
	validator  *deploy.Validator
	security   SecurityValidator
	backup     BackupHealthCheck
	extDeps    []ExternalDependencyCheck
	thresholds Thresholds

	// HealthInterval and SecurityInterval govern the background loops;
	// zero means the spec defaults (15s / 5m).
	HealthInterval   time.Duration
	SecurityInterval time.Duration

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu           sync.Mutex
	lastSnapshot metrics.Snapshot
	lastSecurity securitySnapshot
}

type securitySnapshot struct {
	checked  bool
	passed   bool
	findings []string
	at       time.Time
}

// New builds a Monitor. security and backup may be nil to treat those
// signals as unavailable (never silently healthy — reported as failing).
func New(orch orchestrator.Orchestrator, reg *registry.Registry, collector *metrics.Collector, validator *deploy.Validator, security SecurityValidator, backup BackupHealthCheck) *Monitor {
	return &Monitor{
		orch:       orch,
		reg:        reg,
		collector:  collector,
		validator:  validator,
		security:   security,
		backup:     backup,
		thresholds: DefaultThresholds(),
	}
}

// Start begins the background health and security loops. Starting an
// already-running monitor fails with a KindProductionDeployment error
// (idempotent-by-error, per spec §4.O).
func (m *Monitor) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return apperrors.New(apperrors.KindProductionDeployment, "production monitor already running")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	healthInterval := m.HealthInterval
	if healthInterval <= 0 {
		healthInterval = 15 * time.Second
	}
	securityInterval := m.SecurityInterval
	if securityInterval <= 0 {
		securityInterval = 5 * time.Minute
	}

	m.wg.Add(2)
	go m.healthLoop(loopCtx, healthInterval)
	go m.securityLoop(loopCtx, securityInterval)
	return nil
}

// Stop ends the background loops. Stopping a monitor that is not
// running is a safe no-op.
func (m *Monitor) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	m.cancel()
	m.wg.Wait()
}

// Running reports whether the monitor's background loops are active.
func (m *Monitor) Running() bool {
	return m.running.Load()
}

func (m *Monitor) healthLoop(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.refreshSnapshot(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refreshSnapshot(ctx)
		}
	}
}

func (m *Monitor) refreshSnapshot(ctx context.Context) {
	if m.collector == nil {
		return
	}
	snap, err := m.collector.Collect(ctx, true)
	if err != nil {
		return
	}
	m.mu.Lock()
	m.lastSnapshot = snap
	m.mu.Unlock()
}

func (m *Monitor) securityLoop(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.refreshSecurity(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refreshSecurity(ctx)
		}
	}
}

func (m *Monitor) refreshSecurity(ctx context.Context) {
	if m.security == nil {
		return
	}
	passed, findings, err := m.security(ctx)
	if err != nil {
		return
	}
	m.mu.Lock()
	m.lastSecurity = securitySnapshot{checked: true, passed: passed, findings: findings, at: time.Now()}
	m.mu.Unlock()
}

// criticalServices returns gateway plus the stateful backing stores, the
// services whose unhealthiness makes the system unhealthy rather than
// merely degraded (spec §4.O).
func (m *Monitor) criticalServices() []string {
	critical := []string{"gateway"}
	for _, s := range m.reg.Services() {
		if s.Kind == registry.KindBackingStore {
			critical = append(critical, s.Name)
		}
	}
	return critical
}

// DeploymentHealthStatus combines service readiness, service-health
// metrics, the latest security validation, and backup-system health into
// one rollup (spec §4.O).
func (m *Monitor) DeploymentHealthStatus(ctx context.Context) (Status, error) {
	statuses, err := m.orch.Status(ctx)
	if err != nil {
		return StatusUnhealthy, err
	}

	criticalHealthy := true
	for _, name := range m.criticalServices() {
		s, ok := statuses[name]
		if !ok || s.State != orchestrator.StateRunning || s.Health != orchestrator.HealthHealthy {
			criticalHealthy = false
		}
	}

	anyAppUnhealthy := false
	for _, svc := range m.reg.ApplicationServices() {
		s, ok := statuses[svc.Name]
		if !ok || s.State != orchestrator.StateRunning || s.Health != orchestrator.HealthHealthy {
			anyAppUnhealthy = true
		}
	}

	m.mu.Lock()
	securityOK := m.lastSecurity.checked && m.lastSecurity.passed
	m.mu.Unlock()

	backupOK := false
	if m.backup != nil {
		healthy, err := m.backup(ctx)
		backupOK = err == nil && healthy
	}

	switch {
	case !criticalHealthy:
		return StatusUnhealthy, nil
	case anyAppUnhealthy || !securityOK || !backupOK:
		return StatusDegraded, nil
	default:
		return StatusHealthy, nil
	}
}

// RealTimeAlerts returns alerts derived from the background loops'
// current state. Returns an error if the monitor is not running (spec
// §4.O: "returns only while running").
func (m *Monitor) RealTimeAlerts(ctx context.Context) ([]RealTimeAlert, error) {
	if !m.running.Load() {
		return nil, apperrors.New(apperrors.KindProductionDeployment, "production monitor is not running")
	}

	var alerts []RealTimeAlert
	now := time.Now()

	statuses, err := m.orch.Status(ctx)
	if err == nil {
		downCount := 0
		for _, svc := range m.reg.ApplicationServices() {
			s, ok := statuses[svc.Name]
			if !ok || s.State != orchestrator.StateRunning || s.Health != orchestrator.HealthHealthy {
				downCount++
				severity := alertengine.SeverityWarning
				if float64(downCount) >= m.thresholds.ServiceDownCount {
					severity = alertengine.SeverityCritical
				}
				alerts = append(alerts, RealTimeAlert{
					Type:      SourceServiceHealth,
					Severity:  severity,
					Message:   svc.Name + " is not running and healthy",
					Timestamp: now,
				})
			}
		}
	}

	m.mu.Lock()
	sec := m.lastSecurity
	snap := m.lastSnapshot
	m.mu.Unlock()

	if sec.checked && !sec.passed {
		for _, f := range sec.findings {
			alerts = append(alerts, RealTimeAlert{Type: SourceSecurity, Severity: alertengine.SeverityCritical, Message: f, Timestamp: sec.at})
		}
		if len(sec.findings) == 0 {
			alerts = append(alerts, RealTimeAlert{Type: SourceSecurity, Severity: alertengine.SeverityCritical, Message: "security validation failed", Timestamp: sec.at})
		}
	}

	for name, sm := range snap.Services {
		if sm.MemoryPercent/100 >= m.thresholds.ResourceCritical {
			alerts = append(alerts, RealTimeAlert{Type: SourceResource, Severity: alertengine.SeverityCritical, Message: name + " memory utilization critical", Timestamp: snap.Timestamp})
		}
		if sm.CPUPercent/100 >= m.thresholds.ResourceCritical {
			alerts = append(alerts, RealTimeAlert{Type: SourceResource, Severity: alertengine.SeverityCritical, Message: name + " CPU utilization critical", Timestamp: snap.Timestamp})
		}
	}

	return alerts, nil
}

func isCritical(name string, critical []string) bool {
	for _, c := range critical {
		if c == name {
			return true
		}
	}
	return false
}

// ValidationOutcome is the result of ValidateDeployment.
type ValidationOutcome struct {
	Allowed bool
	Report  deploy.ValidationReport
	Extra   []string // failures from the monitor's own extra checks
}

// ValidateDeployment delegates to the Deployment Validator (4.L) and then
// runs the monitor's own extra checks: resource availability and
// external-dependency availability (spec §4.O).
func (m *Monitor) ValidateDeployment(ctx context.Context, req deploy.DeploymentRequest) ValidationOutcome {
	report := m.validator.Validate(ctx, req)

	var extra []string
	cpuPct, memPct := deploy.ProjectedUtilization(req)
	if cpuPct > 100 {
		extra = append(extra, "projected CPU utilization exceeds 100%")
	}
	if memPct > 100 {
		extra = append(extra, "projected memory utilization exceeds 100%")
	}

	for _, dep := range m.extDeps {
		available, err := dep.Check(ctx)
		if err != nil || !available {
			extra = append(extra, "external dependency unavailable: "+dep.Name)
		}
	}

	return ValidationOutcome{Allowed: report.Valid && len(extra) == 0, Report: report, Extra: extra}
}

// SetExternalDependencies configures the checks ValidateDeployment runs
// for external-dependency availability.
func (m *Monitor) SetExternalDependencies(deps []ExternalDependencyCheck) {
	m.extDeps = deps
}

// ServiceHealthDetail is one service's entry in a MonitorDeploymentReport.
type ServiceHealthDetail struct {
	Service string
	State   orchestrator.State
	Health  orchestrator.Health
}

// MonitorDeploymentReport is the result of MonitorDeployment.
type MonitorDeploymentReport struct {
	DeploymentID  string
	OverallHealth Status
	Services      []ServiceHealthDetail
}

// MonitorDeployment polls health across every application service and
// reports overall_health healthy iff every one is running and healthy
// (spec §4.O).
func (m *Monitor) MonitorDeployment(ctx context.Context, deploymentID string) (MonitorDeploymentReport, error) {
	statuses, err := m.orch.Status(ctx)
	if err != nil {
		return MonitorDeploymentReport{}, err
	}

	report := MonitorDeploymentReport{DeploymentID: deploymentID, OverallHealth: StatusHealthy}
	for _, svc := range m.reg.ApplicationServices() {
		s := statuses[svc.Name]
		report.Services = append(report.Services, ServiceHealthDetail{Service: svc.Name, State: s.State, Health: s.Health})
		if s.State != orchestrator.StateRunning || s.Health != orchestrator.HealthHealthy {
			report.OverallHealth = StatusUnhealthy
		}
	}
	return report, nil
}
