// Package metrics implements the Metrics Collector (spec §4.F): parallel
// per-service collection of container stats and HTTP /health probes, a
// short-lived snapshot cache, system-wide aggregation, anomaly detection,
// trend analysis, and a per-service health score. Target.ScrapeMetrics is
// not read: no /metrics endpoint is scraped, and ServiceMetrics.Counters
// and Gauges stay empty.
package metrics

import (
	"context"
	"math"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tommy2118/tcf-platform/internal/apperrors"
)

// ServiceMetrics is one service's entry in a Snapshot.
type ServiceMetrics struct {
	Service          string
	CPUPercent       float64
	MemoryPercent    float64
	MemoryBytes      int64
	NetRxBytes       int64
	NetTxBytes       int64
	DiskReadBytes    int64
	DiskWriteBytes   int64
	ProcessCount     int
	ResponseTimeMs   *float64
	HealthStatus     string // "healthy" or "not_responding"
	Counters         map[string]float64
	Gauges           map[string]float64
}

// Snapshot is the result of collect().
type Snapshot struct {
	Timestamp        time.Time
	Duration         time.Duration
	Services         map[string]ServiceMetrics
	ServicesDiscovered int
	HealthyCount     int
	UnhealthyCount   int
	FromCache        bool
}

// Combined is the result of Aggregate(): the per-service views plus
// system-wide averages.
type Combined struct {
	Snapshot
	AvgCPUPercent       float64
	AvgMemoryPercent    float64
	AvgResponseTimeMs   float64
}

// StatsProvider obtains container stats for a service from the
// Orchestrator Adapter (kept as a narrow function type so this package
// has no compile-time dependency on internal/orchestrator).
type StatsProvider func(ctx context.Context, service string) (ContainerStats, error)

// ContainerStats mirrors orchestrator.ContainerStats's fields needed here.
type ContainerStats struct {
	CPUPercent      float64
	MemoryUsed      int64
	MemoryPercent   float64
	NetRxBytes      int64
	NetTxBytes      int64
	BlockReadBytes  int64
	BlockWriteBytes int64
	ProcessCount    int
}

// Target describes one service's probe target.
type Target struct {
	Service      string
	Port         int
	ScrapeMetrics bool
}

// Collector gathers metrics.Snapshot on demand, caching the result for a
// configurable TTL.
type Collector struct {
	stats      StatsProvider
	httpClient *http.Client
	targets    []Target

	// Timeout bounds each individual service's collection. Default 10s.
	Timeout time.Duration
	// Retries is the number of additional attempts after the first on
	// transient error. Default 2.
	Retries int
	// CacheTTL bounds how long a snapshot is reused. Default 30s.
	CacheTTL time.Duration

	mu       sync.Mutex
	cached   *Snapshot
	cachedAt time.Time

	now func() time.Time
}

// New builds a Collector for the given targets.
func New(stats StatsProvider, targets []Target) *Collector {
	return &Collector{
		stats:      stats,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		targets:    targets,
		Timeout:    10 * time.Second,
		Retries:    2,
		CacheTTL:   30 * time.Second,
		now:        time.Now,
	}
}

// Collect gathers a fresh Snapshot, or returns the cached one if it is
// still within CacheTTL and bypassCache is false.
func (c *Collector) Collect(ctx context.Context, bypassCache bool) (Snapshot, error) {
	c.mu.Lock()
	if !bypassCache && c.cached != nil && c.now().Sub(c.cachedAt) < c.CacheTTL {
		snap := *c.cached
		snap.FromCache = true
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()

	start := c.now()
	results := make(map[string]ServiceMetrics, len(c.targets))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, target := range c.targets {
		target := target
		wg.Add(1)
		go func() {
			defer wg.Done()
			sm := c.collectOne(ctx, target)
			mu.Lock()
			results[target.Service] = sm
			mu.Unlock()
		}()
	}
	wg.Wait()

	snap := Snapshot{
		Timestamp:          start,
		Duration:           c.now().Sub(start),
		Services:           results,
		ServicesDiscovered: len(results),
	}
	for _, sm := range results {
		if sm.HealthStatus == "healthy" {
			snap.HealthyCount++
		} else {
			snap.UnhealthyCount++
		}
	}

	c.mu.Lock()
	c.cached = &snap
	c.cachedAt = start
	c.mu.Unlock()

	return snap, nil
}

func (c *Collector) collectOne(ctx context.Context, target Target) ServiceMetrics {
	sm := ServiceMetrics{Service: target.Service, Counters: map[string]float64{}, Gauges: map[string]float64{}}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	if c.stats != nil {
		stats, err := c.withRetry(ctx, func() (ContainerStats, error) {
			return c.stats(ctx, target.Service)
		})
		if err == nil {
			sm.CPUPercent = stats.CPUPercent
			sm.MemoryPercent = stats.MemoryPercent
			sm.MemoryBytes = stats.MemoryUsed
			sm.NetRxBytes = stats.NetRxBytes
			sm.NetTxBytes = stats.NetTxBytes
			sm.DiskReadBytes = stats.BlockReadBytes
			sm.DiskWriteBytes = stats.BlockWriteBytes
			sm.ProcessCount = stats.ProcessCount
		}
	}

	rt, healthy := c.probeHealth(ctx, target)
	sm.ResponseTimeMs = rt
	sm.HealthStatus = healthy

	return sm
}

func (c *Collector) withRetry(ctx context.Context, fn func() (ContainerStats, error)) (ContainerStats, error) {
	var lastErr error
	attempts := c.Retries + 1
	for i := 0; i < attempts; i++ {
		stats, err := fn()
		if err == nil {
			return stats, nil
		}
		lastErr = err
	}
	return ContainerStats{}, apperrors.Wrap(apperrors.KindCollection, "collection exhausted retries", lastErr).
		WithContext(map[string]any{"retries": c.Retries})
}

func (c *Collector) probeHealth(ctx context.Context, target Target) (*float64, string) {
	if target.Port == 0 {
		return nil, "not_responding"
	}
	url := healthURL(target.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "not_responding"
	}

	start := c.now()
	resp, err := c.httpClient.Do(req)
	elapsed := float64(c.now().Sub(start).Milliseconds())
	if err != nil {
		return nil, "not_responding"
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "not_responding"
	}
	return &elapsed, "healthy"
}

func healthURL(port int) string {
	return "http://127.0.0.1:" + strconv.Itoa(port) + "/health"
}

// Aggregate merges a Snapshot into a Combined view carrying system-wide
// averages (spec §4.F).
func Aggregate(snap Snapshot) Combined {
	combined := Combined{Snapshot: snap}
	if len(snap.Services) == 0 {
		return combined
	}

	var cpuSum, memSum, rtSum float64
	var rtCount int
	for _, sm := range snap.Services {
		cpuSum += sm.CPUPercent
		memSum += sm.MemoryPercent
		if sm.ResponseTimeMs != nil {
			rtSum += *sm.ResponseTimeMs
			rtCount++
		}
	}

	n := float64(len(snap.Services))
	combined.AvgCPUPercent = cpuSum / n
	combined.AvgMemoryPercent = memSum / n
	if rtCount > 0 {
		combined.AvgResponseTimeMs = rtSum / float64(rtCount)
	}
	return combined
}

// Anomaly is one flagged sample from DetectAnomalies.
type Anomaly struct {
	Index     int
	Value     float64
	ZScore    float64
	Score     float64
}

// DetectAnomalies computes mean/stddev across samples and flags any whose
// |z-score| exceeds 2.0 (spec §4.F).
func DetectAnomalies(samples []float64) []Anomaly {
	if len(samples) == 0 {
		return nil
	}
	mean, stddev := meanStddev(samples)
	if stddev == 0 {
		return nil
	}

	var anomalies []Anomaly
	for i, v := range samples {
		z := (v - mean) / stddev
		if math.Abs(z) > 2.0 {
			anomalies = append(anomalies, Anomaly{Index: i, Value: v, ZScore: z, Score: math.Abs(z) / 2.0})
		}
	}
	return anomalies
}

func meanStddev(samples []float64) (mean, stddev float64) {
	n := float64(len(samples))
	var sum float64
	for _, v := range samples {
		sum += v
	}
	mean = sum / n

	var sqSum float64
	for _, v := range samples {
		d := v - mean
		sqSum += d * d
	}
	stddev = math.Sqrt(sqSum / n)
	return mean, stddev
}

// TrendDirection is the classification of a series' direction.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

// Trend is the result of AnalyzeTrend.
type Trend struct {
	Direction        TrendDirection
	AvgChangePerMin  float64
	Volatility       float64
	Extrapolation5Min float64
}

// Point is one (timestamp, value) sample for trend analysis.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// AnalyzeTrend computes direction by majority rule over successive
// differences, average change per minute, volatility (stddev/mean), and a
// 5-minute linear extrapolation from the last five points (spec §4.F).
func AnalyzeTrend(points []Point) Trend {
	if len(points) < 2 {
		return Trend{Direction: TrendStable}
	}

	sorted := append([]Point{}, points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var up, down int
	var diffSum float64
	var minutesSpan float64
	for i := 1; i < len(sorted); i++ {
		diff := sorted[i].Value - sorted[i-1].Value
		diffSum += diff
		if diff > 0 {
			up++
		} else if diff < 0 {
			down++
		}
	}
	minutesSpan = sorted[len(sorted)-1].Timestamp.Sub(sorted[0].Timestamp).Minutes()

	direction := TrendStable
	if up > down {
		direction = TrendIncreasing
	} else if down > up {
		direction = TrendDecreasing
	}

	var avgChangePerMin float64
	if minutesSpan > 0 {
		avgChangePerMin = diffSum / minutesSpan
	}

	values := make([]float64, len(sorted))
	for i, p := range sorted {
		values[i] = p.Value
	}
	mean, stddev := meanStddev(values)
	var volatility float64
	if mean != 0 {
		volatility = stddev / mean
	}

	extrapolation := lastNLinearExtrapolation(sorted, 5, 5*time.Minute)

	return Trend{
		Direction:         direction,
		AvgChangePerMin:   avgChangePerMin,
		Volatility:        volatility,
		Extrapolation5Min: extrapolation,
	}
}

func lastNLinearExtrapolation(sorted []Point, n int, horizon time.Duration) float64 {
	if len(sorted) == 0 {
		return 0
	}
	start := len(sorted) - n
	if start < 0 {
		start = 0
	}
	window := sorted[start:]
	if len(window) < 2 {
		return window[len(window)-1].Value
	}

	// Ordinary least squares over seconds-since-first-point vs value.
	base := window[0].Timestamp
	var sumX, sumY, sumXY, sumXX float64
	n2 := float64(len(window))
	for _, p := range window {
		x := p.Timestamp.Sub(base).Seconds()
		y := p.Value
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n2*sumXX - sumX*sumX
	if denom == 0 {
		return window[len(window)-1].Value
	}
	slope := (n2*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n2

	lastX := window[len(window)-1].Timestamp.Sub(base).Seconds()
	futureX := lastX + horizon.Seconds()
	return intercept + slope*futureX
}

// HealthScore is the per-service health score (spec §4.F).
type HealthScore struct {
	Service           string
	CPUScore          float64
	MemoryScore       float64
	ResponseTimeScore float64
	ErrorRateScore    float64
	Overall           float64
	Status            string // excellent, good, warning, critical
	Recommendations   []string
}

// ComputeHealthScore derives HealthScore from one service's current
// metrics and its recent error rate percentage.
func ComputeHealthScore(service string, sm ServiceMetrics, errorRatePercent float64) HealthScore {
	responseMs := 0.0
	if sm.ResponseTimeMs != nil {
		responseMs = *sm.ResponseTimeMs
	}

	cpuScore := math.Max(0, 100-sm.CPUPercent)
	memScore := math.Max(0, 100-sm.MemoryPercent)
	rtScore := math.Max(0, 100-responseMs/10)
	errScore := math.Max(0, 100-errorRatePercent*5)

	overall := 0.3*cpuScore + 0.3*memScore + 0.2*rtScore + 0.2*errScore

	status := "critical"
	switch {
	case overall >= 80:
		status = "excellent"
	case overall >= 60:
		status = "good"
	case overall >= 40:
		status = "warning"
	}

	var recs []string
	if sm.CPUPercent > 80 {
		recs = append(recs, "investigate high CPU usage")
	}
	if sm.MemoryPercent > 85 {
		recs = append(recs, "investigate high memory usage")
	}
	if responseMs > 1000 {
		recs = append(recs, "investigate elevated response times")
	}
	if errorRatePercent > 5 {
		recs = append(recs, "investigate elevated error rate")
	}

	return HealthScore{
		Service:           service,
		CPUScore:          cpuScore,
		MemoryScore:       memScore,
		ResponseTimeScore: rtScore,
		ErrorRateScore:    errScore,
		Overall:           overall,
		Status:            status,
		Recommendations:   recs,
	}
}
