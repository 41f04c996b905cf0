package timeseries

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client), mr
}

func TestStoreAndQueryRawSamples(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		err := store.Store(ctx, Sample{Service: "gateway", Metric: "cpu", Value: float64(i), Timestamp: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}

	samples, buckets, err := store.Query(ctx, Query{Service: "gateway", Metric: "cpu", Start: base, End: base.Add(time.Hour)})
	require.NoError(t, err)
	assert.Nil(t, buckets)
	require.Len(t, samples, 3)
	assert.Equal(t, 0.0, samples[0].Value)
	assert.Equal(t, 2.0, samples[2].Value)
}

func TestStoreBatchIsAtomic(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	samples := []Sample{
		{Service: "gateway", Metric: "cpu", Value: 1, Timestamp: base},
		{Service: "gateway", Metric: "cpu", Value: 2, Timestamp: base.Add(time.Minute)},
	}
	require.NoError(t, store.StoreBatch(ctx, samples))

	raw, _, err := store.Query(ctx, Query{Service: "gateway", Metric: "cpu", Start: base, End: base.Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, raw, 2)
}

func TestQueryWithAggregationBucketsSamples(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	values := []float64{10, 20, 30, 40}
	for i, v := range values {
		require.NoError(t, store.Store(ctx, Sample{
			Service: "gateway", Metric: "cpu", Value: v,
			Timestamp: base.Add(time.Duration(i) * 10 * time.Second),
		}))
	}

	_, buckets, err := store.Query(ctx, Query{
		Service: "gateway", Metric: "cpu", Start: base, End: base.Add(time.Hour),
		Aggregation: AggAvg, Resolution: time.Minute,
	})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.InDelta(t, 25, buckets[0].Value, 0.001)
	assert.Equal(t, 4, buckets[0].SampleCount)
}

func TestQueryAggregationSumAndMax(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Store(ctx, Sample{Service: "gateway", Metric: "cpu", Value: 5, Timestamp: base}))
	require.NoError(t, store.Store(ctx, Sample{Service: "gateway", Metric: "cpu", Value: 15, Timestamp: base.Add(5 * time.Second)}))

	_, sumBuckets, err := store.Query(ctx, Query{Service: "gateway", Metric: "cpu", Start: base, End: base.Add(time.Hour), Aggregation: AggSum, Resolution: time.Minute})
	require.NoError(t, err)
	require.Len(t, sumBuckets, 1)
	assert.Equal(t, 20.0, sumBuckets[0].Value)

	_, maxBuckets, err := store.Query(ctx, Query{Service: "gateway", Metric: "cpu", Start: base, End: base.Add(time.Hour), Aggregation: AggMax, Resolution: time.Minute})
	require.NoError(t, err)
	require.Len(t, maxBuckets, 1)
	assert.Equal(t, 15.0, maxBuckets[0].Value)
}

func TestCleanupRemovesStaleIndexEntries(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Store(ctx, Sample{Service: "gateway", Metric: "cpu", Value: 1, Timestamp: base}))
	key := sampleKey("gateway", "cpu", base)
	mr.Del(key)

	result, err := store.Cleanup(ctx, []string{indexKey("gateway", "cpu")})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Expired)
	assert.Equal(t, 1, result.Deleted)
}
