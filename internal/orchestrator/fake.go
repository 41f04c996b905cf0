package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory Orchestrator used by tests across the module so that
// no package needs a live container host to exercise dependency inversion
// (spec §9's design note on replacing mock-heavy internal stubbing with
// dependency inversion at component boundaries).
type Fake struct {
	mu sync.Mutex

	Statuses map[string]ServiceStatus
	Images   map[string]ImageProbeResult
	Stats    map[string]ContainerStats
	Previous map[string]PreviousDeployment

	// HealthFunc, when set, is consulted by WaitForHealth per id.
	HealthFunc func(id string) bool

	StartCalls   [][]string
	StopCalls    [][]string
	RestartCalls [][]string
	Created      []string
	Removed      []string

	// FailStart, when non-nil, is returned by Start.
	FailStart error
}

// NewFake builds an empty Fake orchestrator.
func NewFake() *Fake {
	return &Fake{
		Statuses: map[string]ServiceStatus{},
		Images:   map[string]ImageProbeResult{},
		Stats:    map[string]ContainerStats{},
		Previous: map[string]PreviousDeployment{},
	}
}

func (f *Fake) Status(ctx context.Context) (map[string]ServiceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]ServiceStatus, len(f.Statuses))
	for k, v := range f.Statuses {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) Start(ctx context.Context, services []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StartCalls = append(f.StartCalls, services)
	if f.FailStart != nil {
		return f.FailStart
	}
	for _, s := range services {
		status := f.Statuses[s]
		status.State = StateRunning
		f.Statuses[s] = status
	}
	return nil
}

func (f *Fake) Stop(ctx context.Context, services []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StopCalls = append(f.StopCalls, services)
	for _, s := range services {
		status := f.Statuses[s]
		status.State = StateNotRunning
		f.Statuses[s] = status
	}
	return nil
}

func (f *Fake) Restart(ctx context.Context, services []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RestartCalls = append(f.RestartCalls, services)
	return nil
}

func (f *Fake) Stats(ctx context.Context, service string) (ContainerStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.Stats[service]; ok {
		return s, nil
	}
	return ContainerStats{Service: service}, nil
}

func (f *Fake) ImageProbe(ctx context.Context, ref string) (ImageProbeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.Images[ref]; ok {
		return r, nil
	}
	return ImageProbeResult{Exists: false}, nil
}

func (f *Fake) CreateService(ctx context.Context, name, image, suffix string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := name
	if suffix != "" {
		id = fmt.Sprintf("%s-%s", name, suffix)
	}
	f.Created = append(f.Created, id)
	f.Statuses[id] = ServiceStatus{State: StateRunning, Health: HealthUnknown}
	return id, nil
}

func (f *Fake) RemoveService(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Removed = append(f.Removed, id)
	delete(f.Statuses, id)
	return nil
}

func (f *Fake) WaitForHealth(ctx context.Context, id string, timeout time.Duration) (bool, error) {
	if f.HealthFunc != nil {
		return f.HealthFunc(id), nil
	}
	f.mu.Lock()
	s, ok := f.Statuses[id]
	f.mu.Unlock()
	if !ok {
		return false, nil
	}
	return s.Health == HealthHealthy, nil
}

func (f *Fake) PreviousDeployment(ctx context.Context, service string) (PreviousDeployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Previous[service], nil
}

func (f *Fake) RestartService(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.Statuses[id]
	status.State = StateRunning
	f.Statuses[id] = status
	return nil
}

var _ Orchestrator = (*Fake)(nil)
