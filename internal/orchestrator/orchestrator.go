// Package orchestrator implements the Orchestrator Adapter (spec §4.C): a
// thin, testable contract over a compose engine (docker compose / podman
// compose), consumed by the rest of the core through the Orchestrator
// interface so that tests never need a live container host.
package orchestrator

import (
	"context"
	"time"
)

// State is a container's run state.
type State string

const (
	StateRunning    State = "running"
	StateNotRunning State = "not_running"
	StateUnknown    State = "unknown"
)

// Health is a container's health-check result.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
	HealthUnknown   Health = "unknown"
)

// ServiceStatus is one entry of Status()'s result map.
type ServiceStatus struct {
	State  State
	Health Health
	Port   int
}

// ContainerStats is the result of Stats() for one service.
type ContainerStats struct {
	Service       string
	CPUPercent    float64
	MemoryUsed    int64
	MemoryPercent float64
	NetRxBytes    int64
	NetTxBytes    int64
	BlockReadBytes  int64
	BlockWriteBytes int64
	ProcessCount  int
}

// ImageProbeResult is the result of ImageProbe().
type ImageProbeResult struct {
	Exists   bool
	Registry string
	Size     int64
}

// PreviousDeployment describes the last known deployment of a service, used
// for manual rollback (spec §4.C).
type PreviousDeployment struct {
	Version         string
	Image           string
	BackupAvailable bool
}

// Orchestrator is the capability set the rest of the core consumes. Spec
// §4.C's failure policy: every operation returns a structured error; a
// missing compose definition file is a no-op producing empty results, never
// an error, so the core is testable without a live container host.
type Orchestrator interface {
	Status(ctx context.Context) (map[string]ServiceStatus, error)
	Start(ctx context.Context, services []string) error
	Stop(ctx context.Context, services []string) error
	Restart(ctx context.Context, services []string) error
	Stats(ctx context.Context, service string) (ContainerStats, error)
	ImageProbe(ctx context.Context, ref string) (ImageProbeResult, error)

	CreateService(ctx context.Context, name, image, suffix string) (id string, err error)
	RemoveService(ctx context.Context, id string) error
	WaitForHealth(ctx context.Context, id string, timeout time.Duration) (healthy bool, err error)

	PreviousDeployment(ctx context.Context, service string) (PreviousDeployment, error)
	RestartService(ctx context.Context, id string) error
}
