package cache

import (
	"context"
	"fmt"
	"time"

	"kitchenalert/backend/internal/domain"
)

// ReportCache holds analytics reports computed from the remote order
// collection. Keys embed an order sequence so a new order invalidates them.
type ReportCache interface {
	Get(ctx context.Context, key string) (*domain.AnalyticsReport, bool, error)
	Set(ctx context.Context, key string, value *domain.AnalyticsReport, ttl time.Duration) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.AnalyticsReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ *domain.AnalyticsReport, _ time.Duration) error {
	return nil
}

// ReportKey addresses a cached report. version must change whenever an
// order lands inside the range.
func ReportKey(restaurantID string, start time.Time, end time.Time, version string) string {
	return fmt.Sprintf("kitchenalert:report:%s:%d:%d:%s", restaurantID, start.UnixMilli(), end.UnixMilli(), version)
}
