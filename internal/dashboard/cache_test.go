package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/karloscodes/cartridge/cache"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"requestanalytics/internal/metrics"
)

func newTestMemoryCache(t *testing.T, ttl time.Duration, fetch fetchFunc, m *metrics.Metrics) *blobCache {
	t.Helper()
	c := newMemoryCache(slog.New(slog.DiscardHandler), ttl, fetch, m)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoryCacheCountsHitsAndMisses(t *testing.T) {
	m := metrics.New(nil)
	var builds atomic.Int32
	c := newTestMemoryCache(t, time.Minute, func(context.Context, string) (*Payload, error) {
		builds.Add(1)
		return &Payload{DateRange: 7}, nil
	}, m)

	ctx := context.Background()
	for range 3 {
		payload, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, 7, payload.DateRange)
	}

	assert.Equal(t, int32(1), builds.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("memory", "miss")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("memory", "hit")))
}

func TestMemoryCacheIsBounded(t *testing.T) {
	c := newTestMemoryCache(t, time.Minute, func(context.Context, string) (*Payload, error) {
		return &Payload{}, nil
	}, nil)

	ctx := context.Background()
	for i := range memoryCacheEntries * 2 {
		_, err := c.Get(ctx, fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
	}

	stats := c.store.(*cache.MemoryStore).Stats(ctx)
	assert.Equal(t, int64(memoryCacheEntries), stats.Entries)
}

func TestMemoryCacheDropsExpiredEntries(t *testing.T) {
	c := newTestMemoryCache(t, 10*time.Millisecond, func(context.Context, string) (*Payload, error) {
		return &Payload{}, nil
	}, nil)

	ctx := context.Background()
	for i := range 50 {
		_, err := c.Get(ctx, fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
	}

	store := c.store.(*cache.MemoryStore)
	assert.Eventually(t, func() bool {
		return store.Stats(ctx).Entries == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestMemoryCacheBuildsDistinctKeysInParallel(t *testing.T) {
	const build = 200 * time.Millisecond
	c := newTestMemoryCache(t, time.Minute, func(context.Context, string) (*Payload, error) {
		time.Sleep(build)
		return &Payload{}, nil
	}, nil)

	started := time.Now()
	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), fmt.Sprintf("key-%d", i))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Less(t, time.Since(started), 3*build)
}

func TestMemoryCacheCollapsesConcurrentMisses(t *testing.T) {
	var builds atomic.Int32
	release := make(chan struct{})
	c := newTestMemoryCache(t, time.Minute, func(context.Context, string) (*Payload, error) {
		builds.Add(1)
		<-release
		return &Payload{}, nil
	}, nil)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), "same")
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load())
}

func TestMemoryCacheCloseIsIdempotent(t *testing.T) {
	c := newMemoryCache(slog.New(slog.DiscardHandler), time.Minute, func(context.Context, string) (*Payload, error) {
		return &Payload{}, nil
	}, nil)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
