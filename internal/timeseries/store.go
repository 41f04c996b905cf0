// Package timeseries implements the Time-Series Store (spec §4.G): a
// Redis-backed metric sample store keyed by service and metric name, with
// a sorted-set index per (service, metric) for range queries, batch
// writes, bucketed aggregation, and TTL-driven cleanup.
package timeseries

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tommy2118/tcf-platform/internal/apperrors"
)

const (
	defaultTTL       = 30 * 24 * time.Hour
	rawQueryLimit    = 5000
)

// Sample is one metric observation.
type Sample struct {
	Service   string    `json:"service"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Aggregation is the bucketing function applied to a query window.
type Aggregation string

const (
	AggAvg Aggregation = "avg"
	AggMin Aggregation = "min"
	AggMax Aggregation = "max"
	AggSum Aggregation = "sum"
)

// Bucket is one aggregated query result entry.
type Bucket struct {
	Timestamp   time.Time
	Value       float64
	SampleCount int
}

// Query describes a range read.
type Query struct {
	Service     string
	Metric      string
	Start       time.Time
	End         time.Time
	Aggregation Aggregation   // empty means raw samples
	Resolution  time.Duration // bucket width, required when Aggregation is set
}

// CleanupResult is the result of Cleanup().
type CleanupResult struct {
	Scanned  int
	Expired  int
	Deleted  int
	Duration time.Duration
}

// Stats is the result of Stats().
type Stats struct {
	MemoryUsedBytes int64
	TotalKeys       int64
	ClientCount     int64
	HitRate         float64
}

// Store is the Redis-backed time-series store.
type Store struct {
	client *redis.Client
	ttl    time.Duration

	hits   int64
	misses int64

	now func() time.Time
}

// New builds a Store over client with the default 30-day sample TTL.
func New(client *redis.Client) *Store {
	return &Store{client: client, ttl: defaultTTL, now: time.Now}
}

func sampleKey(service, metric string, ts time.Time) string {
	return fmt.Sprintf("metrics:%s:%s:%d", service, metric, ts.UnixMilli())
}

func indexKey(service, metric string) string {
	return fmt.Sprintf("metrics:index:%s:%s", service, metric)
}

// Store writes one sample and appends it to its (service, metric) index.
func (s *Store) Store(ctx context.Context, sample Sample) error {
	return s.storeBatch(ctx, []Sample{sample}, false)
}

// StoreBatch writes every sample atomically: all writes succeed or none do.
func (s *Store) StoreBatch(ctx context.Context, samples []Sample) error {
	return s.storeBatch(ctx, samples, true)
}

func (s *Store) storeBatch(ctx context.Context, samples []Sample, atomic bool) error {
	if len(samples) == 0 {
		return nil
	}

	exec := func(pipe redis.Pipeliner) error {
		for _, sample := range samples {
			payload, err := json.Marshal(sample)
			if err != nil {
				return apperrors.Wrap(apperrors.KindStorage, "failed to encode sample", err)
			}
			key := sampleKey(sample.Service, sample.Metric, sample.Timestamp)
			pipe.Set(ctx, key, payload, s.ttl)
			pipe.ZAdd(ctx, indexKey(sample.Service, sample.Metric), redis.Z{
				Score:  float64(sample.Timestamp.UnixMilli()),
				Member: key,
			})
		}
		return nil
	}

	var err error
	if atomic {
		_, err = s.client.TxPipelined(ctx, exec)
	} else {
		_, err = s.client.Pipelined(ctx, exec)
	}
	if err != nil {
		return apperrors.Wrap(apperrors.KindStorageConnection, "failed to write samples", err)
	}
	return nil
}

// Query returns raw samples or aggregated buckets within [Start, End].
func (s *Store) Query(ctx context.Context, q Query) ([]Sample, []Bucket, error) {
	idxKey := indexKey(q.Service, q.Metric)
	members, err := s.client.ZRangeByScore(ctx, idxKey, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", q.Start.UnixMilli()),
		Max: fmt.Sprintf("%d", q.End.UnixMilli()),
	}).Result()
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.KindStorageConnection, "failed to query index", err)
	}
	if len(members) == 0 {
		return nil, nil, nil
	}

	samples, err := s.fetchSamples(ctx, members)
	if err != nil {
		return nil, nil, err
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].Timestamp.Before(samples[j].Timestamp) })

	if q.Aggregation == "" {
		if len(samples) > rawQueryLimit {
			samples = samples[:rawQueryLimit]
		}
		return samples, nil, nil
	}

	return nil, aggregateBuckets(samples, q.Aggregation, q.Resolution), nil
}

func (s *Store) fetchSamples(ctx context.Context, keys []string) ([]Sample, error) {
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStorageConnection, "failed to fetch samples", err)
	}

	samples := make([]Sample, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			continue
		}
		var sample Sample
		if err := json.Unmarshal([]byte(str), &sample); err != nil {
			continue
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func aggregateBuckets(samples []Sample, agg Aggregation, resolution time.Duration) []Bucket {
	if resolution <= 0 {
		resolution = time.Minute
	}
	resMs := resolution.Milliseconds()

	type acc struct {
		sum   float64
		min   float64
		max   float64
		count int
	}
	buckets := map[int64]*acc{}
	var order []int64

	for _, sample := range samples {
		bucketTs := (sample.Timestamp.UnixMilli() / resMs) * resMs
		a, ok := buckets[bucketTs]
		if !ok {
			a = &acc{min: sample.Value, max: sample.Value}
			buckets[bucketTs] = a
			order = append(order, bucketTs)
		}
		a.sum += sample.Value
		a.count++
		if sample.Value < a.min {
			a.min = sample.Value
		}
		if sample.Value > a.max {
			a.max = sample.Value
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	out := make([]Bucket, 0, len(order))
	for _, bucketTs := range order {
		a := buckets[bucketTs]
		var value float64
		switch agg {
		case AggMin:
			value = a.min
		case AggMax:
			value = a.max
		case AggSum:
			value = a.sum
		default:
			value = a.sum / float64(a.count)
		}
		out = append(out, Bucket{Timestamp: time.UnixMilli(bucketTs), Value: value, SampleCount: a.count})
	}
	return out
}

// Cleanup scans every configured index for expired sample keys (ones whose
// underlying Redis key has already been evicted by TTL) and removes their
// stale index entries.
func (s *Store) Cleanup(ctx context.Context, indexKeys []string) (CleanupResult, error) {
	start := s.now()
	result := CleanupResult{}

	for _, idx := range indexKeys {
		members, err := s.client.ZRange(ctx, idx, 0, -1).Result()
		if err != nil {
			return result, apperrors.Wrap(apperrors.KindStorageConnection, "failed to scan index", err)
		}
		result.Scanned += len(members)
		if len(members) == 0 {
			continue
		}

		existing, err := s.client.MGet(ctx, members...).Result()
		if err != nil {
			return result, apperrors.Wrap(apperrors.KindStorageConnection, "failed to probe samples", err)
		}

		var stale []string
		for i, v := range existing {
			if v == nil {
				stale = append(stale, members[i])
			}
		}
		result.Expired += len(stale)
		if len(stale) > 0 {
			if _, err := s.client.ZRem(ctx, idx, toAny(stale)...).Result(); err != nil {
				return result, apperrors.Wrap(apperrors.KindStorageConnection, "failed to remove stale index entries", err)
			}
			result.Deleted += len(stale)
		}
	}

	result.Duration = s.now().Sub(start)
	return result, nil
}

func toAny(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Stats reports storage-level statistics (spec §4.G).
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	info, err := s.client.Info(ctx, "memory", "clients", "stats").Result()
	if err != nil {
		return Stats{}, apperrors.Wrap(apperrors.KindStorageConnection, "failed to read redis info", err)
	}

	dbSize, err := s.client.DBSize(ctx).Result()
	if err != nil {
		return Stats{}, apperrors.Wrap(apperrors.KindStorageConnection, "failed to read key count", err)
	}

	stats := Stats{TotalKeys: dbSize}
	fields := parseRedisInfo(info)
	stats.MemoryUsedBytes = fields.int64("used_memory")
	stats.ClientCount = fields.int64("connected_clients")

	hits := fields.int64("keyspace_hits")
	misses := fields.int64("keyspace_misses")
	if hits+misses > 0 {
		stats.HitRate = float64(hits) / float64(hits+misses)
	}
	return stats, nil
}

type infoFields map[string]string

func (f infoFields) int64(key string) int64 {
	var v int64
	fmt.Sscanf(f[key], "%d", &v)
	return v
}

func parseRedisInfo(raw string) infoFields {
	fields := infoFields{}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields[key] = value
	}
	return fields
}
