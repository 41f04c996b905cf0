package deploy

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"text/template"
	"time"

	"github.com/tommy2118/tcf-platform/internal/apperrors"
)

// upstreamTemplate renders an nginx weighted-upstream config fragment for
// one service's blue/green split. The compose-managed proxy container
// reloads its config after every write.
var upstreamTemplate = template.Must(template.New("upstream").Parse(`upstream {{ .Service }} {
{{- range .Targets }}
    server {{ .Address }} weight={{ .Weight }};
{{- end }}
}
`))

// UpstreamTarget is one weighted backend in a generated upstream block.
type UpstreamTarget struct {
	ID      string
	Address string
	Weight  int
}

type upstreamView struct {
	Service string
	Targets []UpstreamTarget
}

// ProxyReloader reloads the compose-managed proxy container after its
// config fragment changes (e.g. `docker compose kill -s HUP proxy`).
type ProxyReloader func(ctx context.Context) error

// LoadBalancer is the Load-Balancer Adapter (spec §4.N): it owns each
// service's blue/green traffic split, persisted as generated nginx
// upstream config fragments under ConfigDir, reloaded through Reload.
type LoadBalancer struct {
	ConfigDir string
	Reload    ProxyReloader

	mu           sync.Mutex
	distribution map[string]map[string]int // service -> targetID -> percentage
	addresses    map[string]map[string]string // service -> targetID -> address
}

// NewLoadBalancer builds a LoadBalancer writing generated config under
// configDir and reloading the proxy via reload.
func NewLoadBalancer(configDir string, reload ProxyReloader) *LoadBalancer {
	return &LoadBalancer{
		ConfigDir:    configDir,
		Reload:       reload,
		distribution: map[string]map[string]int{},
		addresses:    map[string]map[string]string{},
	}
}

// CurrentTarget returns the target currently receiving the majority (>50%)
// of a service's traffic, or "" if no single target has a majority.
func (lb *LoadBalancer) CurrentTarget(service string) string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	for target, pct := range lb.distribution[service] {
		if pct > 50 {
			return target
		}
	}
	return ""
}

// Distribution returns the current target->percentage split for a service.
func (lb *LoadBalancer) Distribution(service string) map[string]int {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	out := make(map[string]int, len(lb.distribution[service]))
	for k, v := range lb.distribution[service] {
		out[k] = v
	}
	return out
}

// SetPercentage sets one target's traffic percentage and rebalances every
// other registered target for the service so percentages sum to 100.
func (lb *LoadBalancer) SetPercentage(ctx context.Context, service, target string, pct int) error {
	if pct < 0 || pct > 100 {
		return apperrors.New(apperrors.KindValidation, "percentage must be between 0 and 100")
	}

	lb.mu.Lock()
	dist, ok := lb.distribution[service]
	if !ok || len(dist) == 0 {
		lb.mu.Unlock()
		return apperrors.New(apperrors.KindValidation, "no targets registered for service").
			WithContext(map[string]any{"service": service})
	}

	others := make([]string, 0, len(dist)-1)
	for t := range dist {
		if t != target {
			others = append(others, t)
		}
	}

	dist[target] = pct
	remaining := 100 - pct
	if len(others) > 0 {
		share := remaining / len(others)
		leftover := remaining - share*len(others)
		for i, t := range others {
			dist[t] = share
			if i == 0 {
				dist[t] += leftover
			}
		}
	}
	lb.mu.Unlock()

	return lb.writeAndReload(ctx, service)
}

// RegisterTarget adds a target with an initial weight of 0 so it can be
// ramped via SetPercentage.
func (lb *LoadBalancer) RegisterTarget(service, target, address string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if lb.distribution[service] == nil {
		lb.distribution[service] = map[string]int{}
		lb.addresses[service] = map[string]string{}
	}
	lb.distribution[service][target] = 0
	lb.addresses[service][target] = address
}

// SwitchResult is the outcome of Switch/SwitchInstant.
type SwitchResult struct {
	SwitchTime time.Time
}

// Switch moves traffic from one target to another through the gradual
// shift steps the caller drives (the Blue/Green Deployer calls
// SetPercentage repeatedly); Switch itself performs the final atomic
// flip once the caller has finished ramping.
func (lb *LoadBalancer) Switch(ctx context.Context, service, from, to string) (SwitchResult, error) {
	if err := lb.SetPercentage(ctx, service, to, 100); err != nil {
		return SwitchResult{}, err
	}
	return SwitchResult{SwitchTime: time.Now()}, nil
}

// SwitchInstant performs a single atomic 0->100 switch to target,
// bypassing the gradual shift.
func (lb *LoadBalancer) SwitchInstant(ctx context.Context, service, target string) (SwitchResult, error) {
	return lb.Switch(ctx, service, "", target)
}

// Revert switches all traffic back to a previously-known target,
// used by automatic and manual rollback.
func (lb *LoadBalancer) Revert(ctx context.Context, service, to string) error {
	_, err := lb.Switch(ctx, service, "", to)
	return err
}

func (lb *LoadBalancer) writeAndReload(ctx context.Context, service string) error {
	lb.mu.Lock()
	dist := lb.distribution[service]
	addrs := lb.addresses[service]
	targets := make([]UpstreamTarget, 0, len(dist))
	for id, pct := range dist {
		targets = append(targets, UpstreamTarget{ID: id, Address: addrs[id], Weight: pct})
	}
	lb.mu.Unlock()

	if lb.ConfigDir != "" {
		var buf bytes.Buffer
		if err := upstreamTemplate.Execute(&buf, upstreamView{Service: service, Targets: targets}); err != nil {
			return apperrors.Wrap(apperrors.KindProductionDeployment, "failed to render upstream config", err)
		}
		path := filepath.Join(lb.ConfigDir, fmt.Sprintf("%s.upstream.conf", service))
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return apperrors.Wrap(apperrors.KindProductionDeployment, "failed to write upstream config", err)
		}
	}

	if lb.Reload != nil {
		if err := lb.Reload(ctx); err != nil {
			return apperrors.Wrap(apperrors.KindProductionDeployment, "failed to reload proxy", err)
		}
	}
	return nil
}
