package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectGathersEveryTarget(t *testing.T) {
	c := New(func(ctx context.Context, service string) (ContainerStats, error) {
		return ContainerStats{CPUPercent: 12.5, MemoryPercent: 40}, nil
	}, []Target{{Service: "gateway"}, {Service: "personas"}})

	snap, err := c.Collect(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.ServicesDiscovered)
	assert.Equal(t, 12.5, snap.Services["gateway"].CPUPercent)
}

func TestCollectUsesCacheWithinTTL(t *testing.T) {
	calls := 0
	c := New(func(ctx context.Context, service string) (ContainerStats, error) {
		calls++
		return ContainerStats{}, nil
	}, []Target{{Service: "gateway"}})
	c.CacheTTL = time.Minute

	_, err := c.Collect(context.Background(), false)
	require.NoError(t, err)
	snap2, err := c.Collect(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.True(t, snap2.FromCache)
}

func TestCollectBypassCacheForcesRefresh(t *testing.T) {
	calls := 0
	c := New(func(ctx context.Context, service string) (ContainerStats, error) {
		calls++
		return ContainerStats{}, nil
	}, []Target{{Service: "gateway"}})

	_, err := c.Collect(context.Background(), false)
	require.NoError(t, err)
	_, err = c.Collect(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestProbeHealthRecordsResponseTime(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(nil, nil)
	port := serverPort(t, server)
	rt, status := c.probeHealth(context.Background(), Target{Service: "gateway", Port: port})
	assert.Equal(t, "healthy", status)
	require.NotNil(t, rt)
}

func TestProbeHealthReportsNotRespondingOnNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(nil, nil)
	port := serverPort(t, server)
	rt, status := c.probeHealth(context.Background(), Target{Service: "gateway", Port: port})
	assert.Equal(t, "not_responding", status)
	assert.Nil(t, rt)
}

func TestAggregateComputesSystemAverages(t *testing.T) {
	rt1, rt2 := 100.0, 300.0
	snap := Snapshot{Services: map[string]ServiceMetrics{
		"a": {CPUPercent: 10, MemoryPercent: 20, ResponseTimeMs: &rt1},
		"b": {CPUPercent: 30, MemoryPercent: 40, ResponseTimeMs: &rt2},
	}}
	combined := Aggregate(snap)
	assert.InDelta(t, 20, combined.AvgCPUPercent, 0.001)
	assert.InDelta(t, 30, combined.AvgMemoryPercent, 0.001)
	assert.InDelta(t, 200, combined.AvgResponseTimeMs, 0.001)
}

func TestDetectAnomaliesFlagsOutliers(t *testing.T) {
	samples := []float64{10, 11, 9, 10, 50, 10, 11, 9, 10}
	anomalies := DetectAnomalies(samples)
	require.NotEmpty(t, anomalies)
	assert.Equal(t, 4, anomalies[0].Index)
}

func TestAnalyzeTrendDetectsIncreasing(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	points := []Point{
		{Timestamp: base, Value: 10},
		{Timestamp: base.Add(time.Minute), Value: 20},
		{Timestamp: base.Add(2 * time.Minute), Value: 30},
		{Timestamp: base.Add(3 * time.Minute), Value: 40},
		{Timestamp: base.Add(4 * time.Minute), Value: 50},
	}
	trend := AnalyzeTrend(points)
	assert.Equal(t, TrendIncreasing, trend.Direction)
	assert.Greater(t, trend.Extrapolation5Min, 50.0)
}

func TestComputeHealthScoreStatusBuckets(t *testing.T) {
	rt := 50.0
	score := ComputeHealthScore("gateway", ServiceMetrics{CPUPercent: 5, MemoryPercent: 5, ResponseTimeMs: &rt}, 0)
	assert.Equal(t, "excellent", score.Status)
	assert.Empty(t, score.Recommendations)

	critical := ComputeHealthScore("gateway", ServiceMetrics{CPUPercent: 95, MemoryPercent: 95, ResponseTimeMs: &rt}, 10)
	assert.Equal(t, "critical", critical.Status)
	assert.NotEmpty(t, critical.Recommendations)
}

func serverPort(t *testing.T, server *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}
