package cache

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kitchenalert/backend/internal/domain"
)

func TestReportKeyChangesWithVersion(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	assert.NotEqual(t, ReportKey("main", start, end, "1.4"), ReportKey("main", start, end, "1.5"))
	assert.Equal(t, ReportKey("main", start, end, "1.4"), ReportKey("main", start, end, "1.4"))
}

func TestNoopNeverHits(t *testing.T) {
	var c ReportCache = NoopReportCache{}
	require.NoError(t, c.Set(context.Background(), "k", &domain.AnalyticsReport{TotalOrders: 1}, time.Minute))
	_, ok, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisReportCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("KITCHENALERT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set KITCHENALERT_TEST_REDIS_ADDR to run redis cache integration test")
	}

	ctx := context.Background()
	c := NewRedisReportCache(addr, "", 0)
	defer c.Close()
	require.NoError(t, c.Ping(ctx))

	key := ReportKey("it-cache", time.Unix(0, 0), time.Unix(60, 0), strconv.FormatInt(time.Now().UnixNano(), 10))
	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, key, &domain.AnalyticsReport{Period: "today", TotalOrders: 3, Revenue: 90}, time.Minute))
	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, got.TotalOrders)
	assert.Equal(t, int64(90), got.Revenue)
}
