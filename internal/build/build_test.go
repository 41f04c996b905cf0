package build

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tommy2118/tcf-platform/internal/registry"
)

func TestBuildSequentialOrdersDependenciesFirst(t *testing.T) {
	reg := registry.Default()
	var built []string
	c := New(reg, func(ctx context.Context, service string) error {
		built = append(built, service)
		return nil
	}, nil, nil)

	results, err := c.BuildSequential(context.Background(), []string{"workflows"})
	require.NoError(t, err)
	require.Len(t, results, len(built))

	pos := map[string]int{}
	for i, s := range built {
		pos[s] = i
	}
	assert.Less(t, pos["relational-db"], pos["personas"])
	assert.Less(t, pos["personas"], pos["workflows"])
	assert.Less(t, pos["cache"], pos["workflows"])
}

func TestBuildSequentialCascadeSkipsOnFailedDependency(t *testing.T) {
	reg := registry.Default()
	c := New(reg, func(ctx context.Context, service string) error {
		if service == "personas" {
			return errors.New("build failed")
		}
		return nil
	}, nil, nil)

	results, err := c.BuildSequential(context.Background(), []string{"workflows"})
	require.NoError(t, err)

	byName := map[string]Result{}
	for _, r := range results {
		byName[r.Service] = r
	}
	assert.Equal(t, StatusFailed, byName["personas"].Status)
	assert.Equal(t, StatusSkipped, byName["workflows"].Status)
	assert.Equal(t, "dependency failed", byName["workflows"].Reason)
}

func TestBuildSequentialSkipsMissingRepository(t *testing.T) {
	reg := registry.Default()
	c := New(reg, func(ctx context.Context, service string) error { return nil },
		func(service string) bool { return service != "projects" }, nil)

	results, err := c.BuildSequential(context.Background(), []string{"projects"})
	require.NoError(t, err)

	byName := map[string]Result{}
	for _, r := range results {
		byName[r.Service] = r
	}
	assert.Equal(t, StatusSkipped, byName["projects"].Status)
	assert.Equal(t, "repository not found", byName["projects"].Reason)
}

func TestBuildParallelRespectsDependencyOrder(t *testing.T) {
	reg := registry.Default()
	var mu sync.Mutex
	var built []string
	c := New(reg, func(ctx context.Context, service string) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		built = append(built, service)
		mu.Unlock()
		return nil
	}, nil, nil)
	c.Parallelism = 3

	results, err := c.BuildParallel(context.Background(), []string{"workflows"})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, StatusSuccess, r.Status)
	}

	require.Len(t, results, len(built))
	pos := map[string]int{}
	for i, s := range built {
		pos[s] = i
	}
	assert.Less(t, pos["relational-db"], pos["personas"])
	assert.Less(t, pos["personas"], pos["workflows"])
	assert.Less(t, pos["cache"], pos["workflows"])
}

func TestStatusReportComputesAgeHours(t *testing.T) {
	reg := registry.Default()
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	createdAt := now.Add(-5 * time.Hour)

	c := New(reg, nil, nil, func(ctx context.Context, service string) (ImageInfo, error) {
		return ImageInfo{Present: true, ImageID: "sha256:abc", CreatedAt: createdAt, SizeBytes: 1024}, nil
	})

	reports, err := c.StatusReport(context.Background(), []string{"gateway"}, now)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.InDelta(t, 5.0, reports[0].AgeHours, 0.01)
}
