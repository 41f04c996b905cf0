package deploy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tommy2118/tcf-platform/internal/orchestrator"
)

// EnvState is one environment's (blue or green) lifecycle state.
type EnvState string

const (
	EnvAbsent    EnvState = "absent"
	EnvStarting  EnvState = "starting"
	EnvHealthy   EnvState = "healthy"
	EnvUnhealthy EnvState = "unhealthy"
	EnvRetired   EnvState = "retired"
)

// ShiftSteps is the default gradual traffic-shift sequence (spec §4.M,
// configurable per the spec's open question on hard-coded defaults).
var ShiftSteps = []int{10, 25, 50, 75, 100}

// MonitorWindow is the default observation window held at each shift step.
const MonitorWindow = 30 * time.Second

// ErrorRateThreshold aborts a traffic shift when green's error rate exceeds it.
const ErrorRateThreshold = 0.10

// EnvironmentStatus is one environment's reported state.
type EnvironmentStatus struct {
	State       EnvState
	TrafficPct  int
	ServiceID   string
}

// DeployStatus is the result of Status().
type DeployStatus struct {
	Current EnvState // "blue" or "green"
	Blue    EnvironmentStatus
	Green   EnvironmentStatus
}

// DeployResult is the outcome of Deploy/Rollback.
type DeployResult struct {
	Success                 bool
	Reason                  string
	ManualInterventionNeeded bool
	Errors                  []string
}

// ErrorRateProbe reports green's current error rate during a monitor window.
type ErrorRateProbe func(ctx context.Context, service, serviceID string) (float64, error)

// DeploymentRecord is one historical deployment used for manual rollback.
type DeploymentRecord struct {
	Version   string
	ServiceID string
	Image     string
}

// HistoryLookup finds a previous deployment by version, for manual rollback.
type HistoryLookup func(service, version string) (DeploymentRecord, bool)

// BlueGreenDeployer implements the Blue/Green Deployer (spec §4.M).
type BlueGreenDeployer struct {
	orch     orchestrator.Orchestrator
	lb       *LoadBalancer
	validate *Validator
	errRate  ErrorRateProbe
	history  HistoryLookup
	sleep    func(time.Duration)

	mu    sync.Mutex // guards locks map only
	locks map[string]*sync.Mutex

	state map[string]*serviceState
}

type serviceState struct {
	mu    sync.Mutex
	blue  EnvironmentStatus
	green EnvironmentStatus
}

// NewBlueGreenDeployer builds a deployer. errRate and history may be nil;
// errRate nil means the shift proceeds without rollback-on-error-rate
// checks (useful only in tests), history nil disables manual rollback.
func NewBlueGreenDeployer(orch orchestrator.Orchestrator, lb *LoadBalancer, validate *Validator, errRate ErrorRateProbe, history HistoryLookup) *BlueGreenDeployer {
	return &BlueGreenDeployer{
		orch:     orch,
		lb:       lb,
		validate: validate,
		errRate:  errRate,
		history:  history,
		sleep:    func(time.Duration) {},
		locks:    map[string]*sync.Mutex{},
		state:    map[string]*serviceState{},
	}
}

func (d *BlueGreenDeployer) lockFor(service string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[service]
	if !ok {
		l = &sync.Mutex{}
		d.locks[service] = l
	}
	return l
}

func (d *BlueGreenDeployer) stateFor(service string) *serviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.state[service]
	if !ok {
		s = &serviceState{blue: EnvironmentStatus{State: EnvHealthy, TrafficPct: 100}, green: EnvironmentStatus{State: EnvAbsent, TrafficPct: 0}}
		d.state[service] = s
	}
	return s
}

// Deploy runs the five-step blue/green rollout for service, deploying
// image, with timeout bounding the green health wait.
func (d *BlueGreenDeployer) Deploy(ctx context.Context, req DeploymentRequest, timeout time.Duration) DeployResult {
	lock := d.lockFor(req.Service)
	lock.Lock()
	defer lock.Unlock()

	if d.validate != nil {
		report := d.validate.Validate(ctx, req)
		if !report.Valid {
			var errs []string
			for _, s := range report.SubValidations {
				errs = append(errs, s.Errors...)
			}
			return DeployResult{Success: false, Reason: "validation failed", Errors: errs}
		}
	}

	st := d.stateFor(req.Service)
	st.mu.Lock()
	st.green = EnvironmentStatus{State: EnvStarting, TrafficPct: 0}
	st.mu.Unlock()

	ref := req.Image + ":" + req.Tag
	id, err := d.orch.CreateService(ctx, req.Service, ref, "green")
	if err != nil {
		st.mu.Lock()
		st.green = EnvironmentStatus{State: EnvAbsent, TrafficPct: 0}
		st.mu.Unlock()
		return DeployResult{Success: false, Reason: "failed to create green service: " + err.Error()}
	}

	st.mu.Lock()
	st.green = EnvironmentStatus{State: EnvStarting, TrafficPct: 0, ServiceID: id}
	st.mu.Unlock()

	d.lb.RegisterTarget(req.Service, "green", id)

	healthy, err := d.orch.WaitForHealth(ctx, id, timeout)
	if err != nil || !healthy {
		return d.rollbackAutomatic(ctx, req.Service, id, "health check failed")
	}

	st.mu.Lock()
	st.green.State = EnvHealthy
	st.mu.Unlock()

	return d.shiftTraffic(ctx, req.Service, id)
}

func (d *BlueGreenDeployer) shiftTraffic(ctx context.Context, service, greenID string) DeployResult {
	st := d.stateFor(service)

	for _, pct := range ShiftSteps {
		if err := d.lb.SetPercentage(ctx, service, "green", pct); err != nil {
			return d.rollbackAutomatic(ctx, service, greenID, "load balancer error: "+err.Error())
		}
		st.mu.Lock()
		st.green.TrafficPct = pct
		st.blue.TrafficPct = 100 - pct
		st.mu.Unlock()

		d.sleep(MonitorWindow)

		if d.errRate != nil {
			rate, err := d.errRate(ctx, service, greenID)
			if err == nil && rate > ErrorRateThreshold {
				return d.rollbackAutomatic(ctx, service, greenID, "high error rate")
			}
		}
	}

	st.mu.Lock()
	st.blue = EnvironmentStatus{State: EnvAbsent, TrafficPct: 0}
	st.green.State = EnvHealthy
	st.mu.Unlock()

	return DeployResult{Success: true}
}

// SwitchInstant performs a single atomic 0->100 switch to green instead of
// the gradual shift (spec §4.M "instant switch").
func (d *BlueGreenDeployer) SwitchInstant(ctx context.Context, service, greenID string) DeployResult {
	lock := d.lockFor(service)
	lock.Lock()
	defer lock.Unlock()

	if _, err := d.lb.SwitchInstant(ctx, service, "green"); err != nil {
		return d.rollbackAutomatic(ctx, service, greenID, "load balancer error: "+err.Error())
	}

	st := d.stateFor(service)
	st.mu.Lock()
	st.blue = EnvironmentStatus{State: EnvAbsent, TrafficPct: 0}
	st.green = EnvironmentStatus{State: EnvHealthy, TrafficPct: 100, ServiceID: greenID}
	st.mu.Unlock()
	return DeployResult{Success: true}
}

func (d *BlueGreenDeployer) rollbackAutomatic(ctx context.Context, service, greenID, reason string) DeployResult {
	st := d.stateFor(service)

	if err := d.lb.Revert(ctx, service, "blue"); err != nil {
		return DeployResult{Success: false, Reason: reason, ManualInterventionNeeded: true, Errors: []string{err.Error()}}
	}

	if greenID != "" {
		_ = d.orch.RemoveService(ctx, greenID)
	}

	st.mu.Lock()
	st.green = EnvironmentStatus{State: EnvAbsent, TrafficPct: 0}
	st.blue.TrafficPct = 100
	st.blue.State = EnvHealthy
	st.mu.Unlock()

	return DeployResult{Success: false, Reason: reason}
}

// RollbackManual restores a service to a previously-deployed version,
// looked up from deployment history.
func (d *BlueGreenDeployer) RollbackManual(ctx context.Context, service, version string) DeployResult {
	lock := d.lockFor(service)
	lock.Lock()
	defer lock.Unlock()

	if d.history == nil {
		return DeployResult{Success: false, Reason: "no deployment history configured"}
	}

	record, ok := d.history(service, version)
	if !ok {
		return DeployResult{Success: false, Reason: fmt.Sprintf("no recorded deployment for version %q", version)}
	}

	if err := d.orch.RestartService(ctx, record.ServiceID); err != nil {
		return DeployResult{Success: false, Reason: "failed to restart recorded service: " + err.Error()}
	}

	if err := d.lb.Revert(ctx, service, record.ServiceID); err != nil {
		return DeployResult{Success: false, Reason: "manual rollback", ManualInterventionNeeded: true, Errors: []string{err.Error()}}
	}

	st := d.stateFor(service)
	st.mu.Lock()
	st.blue = EnvironmentStatus{State: EnvHealthy, TrafficPct: 100, ServiceID: record.ServiceID}
	st.green = EnvironmentStatus{State: EnvAbsent, TrafficPct: 0}
	st.mu.Unlock()

	return DeployResult{Success: true}
}

// Status reports a service's current blue/green state.
func (d *BlueGreenDeployer) Status(service string) DeployStatus {
	st := d.stateFor(service)
	st.mu.Lock()
	defer st.mu.Unlock()

	current := EnvState("blue")
	if st.green.TrafficPct > 50 {
		current = EnvState("green")
	}

	return DeployStatus{Current: current, Blue: st.blue, Green: st.green}
}
