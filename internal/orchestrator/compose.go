package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/tommy2118/tcf-platform/internal/apperrors"
	"github.com/tommy2118/tcf-platform/internal/registry"
)

// commandRunner executes an external process and captures stdout. It is the
// seam compose.go tests substitute to avoid a live container host.
type commandRunner interface {
	Run(ctx context.Context, name string, args []string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// ComposeOrchestrator implements Orchestrator by shelling out to a compose
// binary (docker compose / podman compose). No Go SDK for compose appears
// anywhere in the corpus; process invocation is the idiomatic choice here,
// matching the repository/build tooling's own process-invocation style.
type ComposeOrchestrator struct {
	reg         *registry.Registry
	composeFile string
	binary      []string // e.g. []string{"docker", "compose"} or {"podman-compose"}
	timeout     time.Duration
	runner      commandRunner
}

// NewComposeOrchestrator builds an adapter rooted at composeFile, using
// binary (e.g. []string{"docker", "compose"}) to drive it.
func NewComposeOrchestrator(reg *registry.Registry, composeFile string, binary []string) *ComposeOrchestrator {
	if len(binary) == 0 {
		binary = []string{"docker", "compose"}
	}
	return &ComposeOrchestrator{
		reg:         reg,
		composeFile: composeFile,
		binary:      binary,
		timeout:     30 * time.Second,
		runner:      execRunner{},
	}
}

// composeMissing reports whether the compose definition file is absent.
// Per spec §4.C this makes every read operation return empty results, and
// every write operation a no-op, rather than an error.
func (c *ComposeOrchestrator) composeMissing() bool {
	if c.composeFile == "" {
		return true
	}
	_, err := os.Stat(c.composeFile)
	return os.IsNotExist(err)
}

func (c *ComposeOrchestrator) run(ctx context.Context, args ...string) ([]byte, error) {
	full := append(append([]string{}, c.binary[1:]...), args...)
	full = append([]string{"-f", c.composeFile}, full...)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.runner.Run(ctx, c.binary[0], full)
}

type psEntry struct {
	Service string `json:"Service"`
	State   string `json:"State"`
	Health  string `json:"Health"`
	Publishers []struct {
		PublishedPort int `json:"PublishedPort"`
	} `json:"Publishers"`
}

func (c *ComposeOrchestrator) Status(ctx context.Context) (map[string]ServiceStatus, error) {
	result := make(map[string]ServiceStatus)
	if c.composeMissing() {
		return result, nil
	}

	out, err := c.run(ctx, "ps", "--format", "json", "--all")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStorage, "compose ps failed", err)
	}

	for _, line := range splitJSONLines(out) {
		var entry psEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		status := ServiceStatus{State: normalizeState(entry.State), Health: normalizeHealth(entry.Health)}
		if len(entry.Publishers) > 0 {
			status.Port = entry.Publishers[0].PublishedPort
		} else if port, perr := c.reg.Port(entry.Service); perr == nil {
			status.Port = port
		}
		result[entry.Service] = status
	}
	return result, nil
}

func normalizeState(s string) State {
	switch strings.ToLower(s) {
	case "running":
		return StateRunning
	case "exited", "stopped", "created":
		return StateNotRunning
	default:
		return StateUnknown
	}
}

func normalizeHealth(h string) Health {
	switch strings.ToLower(h) {
	case "healthy":
		return HealthHealthy
	case "unhealthy":
		return HealthUnhealthy
	default:
		return HealthUnknown
	}
}

// splitJSONLines splits `docker compose ps --format json` output, which may
// be one JSON object per line or a single JSON array depending on engine
// version, into individual object byte slices.
func splitJSONLines(out []byte) [][]byte {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil
		}
		lines := make([][]byte, 0, len(arr))
		for _, raw := range arr {
			lines = append(lines, raw)
		}
		return lines
	}
	var lines [][]byte
	for _, line := range bytes.Split(trimmed, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// Start resolves the dependency closure of services before issuing `up`, so
// that a service is never started ahead of what it depends on.
func (c *ComposeOrchestrator) Start(ctx context.Context, services []string) error {
	if c.composeMissing() {
		return nil
	}
	closure, err := c.reg.Resolve(services...)
	if err != nil {
		return apperrors.Wrap(apperrors.KindValidation, "failed to resolve dependencies", err)
	}
	args := append([]string{"up", "-d"}, closure...)
	if _, err := c.run(ctx, args...); err != nil {
		return apperrors.Wrap(apperrors.KindStorage, "compose up failed", err)
	}
	return nil
}

func (c *ComposeOrchestrator) Stop(ctx context.Context, services []string) error {
	if c.composeMissing() {
		return nil
	}
	args := append([]string{"stop"}, services...)
	if _, err := c.run(ctx, args...); err != nil {
		return apperrors.Wrap(apperrors.KindStorage, "compose stop failed", err)
	}
	return nil
}

func (c *ComposeOrchestrator) Restart(ctx context.Context, services []string) error {
	if c.composeMissing() {
		return nil
	}
	args := append([]string{"restart"}, services...)
	if _, err := c.run(ctx, args...); err != nil {
		return apperrors.Wrap(apperrors.KindStorage, "compose restart failed", err)
	}
	return nil
}

type statsEntry struct {
	Name      string `json:"Name"`
	CPUPerc   string `json:"CPUPerc"`
	MemUsage  string `json:"MemUsage"`
	MemPerc   string `json:"MemPerc"`
	NetIO     string `json:"NetIO"`
	BlockIO   string `json:"BlockIO"`
	PIDs      string `json:"PIDs"`
}

func (c *ComposeOrchestrator) Stats(ctx context.Context, service string) (ContainerStats, error) {
	if c.composeMissing() {
		return ContainerStats{Service: service}, nil
	}

	args := []string{"stats", "--no-stream", "--format", "json"}
	out, err := c.run(ctx, args...)
	if err != nil {
		return ContainerStats{}, apperrors.Wrap(apperrors.KindCollection, "compose stats failed", err)
	}

	for _, line := range splitJSONLines(out) {
		var e statsEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if service != "" && e.Name != service {
			continue
		}
		return parseStats(e), nil
	}
	return ContainerStats{Service: service}, nil
}

func (c *ComposeOrchestrator) ImageProbe(ctx context.Context, ref string) (ImageProbeResult, error) {
	if c.composeMissing() {
		return ImageProbeResult{Exists: false}, nil
	}
	out, err := c.run(ctx, "images", "--format", "json")
	if err != nil {
		return ImageProbeResult{}, apperrors.Wrap(apperrors.KindStorage, "compose images failed", err)
	}
	for _, line := range splitJSONLines(out) {
		var entry struct {
			Repository string `json:"Repository"`
			Tag        string `json:"Tag"`
			Size       string `json:"Size"`
		}
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if entry.Repository+":"+entry.Tag == ref {
			return ImageProbeResult{Exists: true, Registry: "local", Size: parseSize(entry.Size)}, nil
		}
	}
	return ImageProbeResult{Exists: false}, nil
}

// Build shells out to `compose build <service>`, used by the Build
// Coordinator (spec §4.E) as its Builder hook. A missing compose file is a
// no-op, consistent with every other operation's failure policy.
func (c *ComposeOrchestrator) Build(ctx context.Context, service string) error {
	if c.composeMissing() {
		return nil
	}
	if _, err := c.run(ctx, "build", service); err != nil {
		return apperrors.Wrap(apperrors.KindStorage, fmt.Sprintf("compose build failed for %s", service), err)
	}
	return nil
}

func (c *ComposeOrchestrator) CreateService(ctx context.Context, name, image, suffix string) (string, error) {
	if c.composeMissing() {
		return "", nil
	}
	id := name
	if suffix != "" {
		id = name + "-" + suffix
	}
	args := []string{"run", "-d", "--name", id, image}
	if _, err := c.run(ctx, args...); err != nil {
		return "", apperrors.Wrap(apperrors.KindStorage, "compose run failed", err)
	}
	return id, nil
}

func (c *ComposeOrchestrator) RemoveService(ctx context.Context, id string) error {
	if c.composeMissing() {
		return nil
	}
	if _, err := c.run(ctx, "rm", "-f", id); err != nil {
		return apperrors.Wrap(apperrors.KindStorage, "compose rm failed", err)
	}
	return nil
}

func (c *ComposeOrchestrator) WaitForHealth(ctx context.Context, id string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		statuses, err := c.Status(ctx)
		if err != nil {
			return false, err
		}
		if s, ok := statuses[id]; ok {
			if s.Health == HealthHealthy {
				return true, nil
			}
			if s.Health == HealthUnhealthy {
				return false, nil
			}
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return false, nil
}

func (c *ComposeOrchestrator) PreviousDeployment(ctx context.Context, service string) (PreviousDeployment, error) {
	// The compose adapter keeps no deployment history, so it always reports
	// no previous deployment; absence is not an error.
	return PreviousDeployment{}, nil
}

func (c *ComposeOrchestrator) RestartService(ctx context.Context, id string) error {
	if c.composeMissing() {
		return nil
	}
	if _, err := c.run(ctx, "restart", id); err != nil {
		return apperrors.Wrap(apperrors.KindStorage, "compose restart failed", err)
	}
	return nil
}

func parseStats(e statsEntry) ContainerStats {
	return ContainerStats{
		Service:    e.Name,
		CPUPercent: parsePercent(e.CPUPerc),
		MemoryPercent: parsePercent(e.MemPerc),
		MemoryUsed: parseMemUsage(e.MemUsage),
		ProcessCount: parseInt(e.PIDs),
	}
}

func parsePercent(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	var v float64
	fmt.Sscanf(s, "%f", &v)
	return v
}

func parseMemUsage(s string) int64 {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 0 {
		return 0
	}
	return parseSize(strings.TrimSpace(parts[0]))
}

func parseSize(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	var num float64
	var unit string
	n, _ := fmt.Sscanf(s, "%f%s", &num, &unit)
	if n < 1 {
		return 0
	}
	unit = strings.ToUpper(unit)
	unit = strings.TrimSuffix(unit, "B")
	unit = strings.TrimSuffix(unit, "I") // KiB/MiB/GiB -> K/M/G
	mult := int64(1)
	switch unit {
	case "K":
		mult = 1024
	case "M":
		mult = 1024 * 1024
	case "G":
		mult = 1024 * 1024 * 1024
	}
	return int64(num * float64(mult))
}

func parseInt(s string) int {
	var v int
	fmt.Sscanf(strings.TrimSpace(s), "%d", &v)
	return v
}
