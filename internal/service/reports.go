package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"kitchenalert/backend/internal/analytics"
	"kitchenalert/backend/internal/cache"
	"kitchenalert/backend/internal/domain"
	"kitchenalert/backend/internal/store"
)

const (
	sourceRemote = "remote"
	sourceLocal  = "local"
)

// Analytics builds a report for the period. Remote orders are preferred;
// local history is used when the remote store is unreachable or empty.
func (s *Service) Analytics(ctx context.Context, period string, start string, end string) (domain.AnalyticsReport, error) {
	now := s.clock()
	from, to, err := analytics.Range(period, now, s.loc, start, end)
	if err != nil {
		return domain.AnalyticsReport{}, err
	}
	if period == "" {
		period = analytics.PeriodToday
	}

	version, cacheable := s.reportVersion(ctx, from, to, now)
	key := cache.ReportKey(s.restaurantID, from, to, version)
	if cacheable {
		if cached, ok, err := s.reports.Get(ctx, key); err != nil {
			s.log.WithError(err).Warn("report cache read failed")
		} else if ok {
			return *cached, nil
		}
	}

	orders, source := s.reportOrders(ctx, from, to)

	var prices map[string]int64
	if err := s.do(ctx, func() error {
		prices = s.menuPrices()
		return nil
	}); err != nil {
		return domain.AnalyticsReport{}, err
	}

	report := analytics.BuildReport(period, from, to, orders, prices, now)
	report.Source = source
	if cacheable && source == sourceRemote && s.reportTTL > 0 {
		if err := s.reports.Set(ctx, key, &report, s.reportTTL); err != nil {
			s.log.WithError(err).Warn("report cache write failed")
		}
	}
	return report, nil
}

// reportVersion combines this process's order count with the remote
// rollup for today, so orders placed on other terminals also change the
// cache key. Earlier days only change when a queued order drains late;
// those stay stale for at most the report TTL.
func (s *Service) reportVersion(ctx context.Context, from time.Time, to time.Time, now time.Time) (string, bool) {
	local := s.orderSeq.Load()
	if now.Before(from) || now.After(to) {
		return fmt.Sprintf("%d", local), true
	}
	daily, err := s.replicator.Daily(ctx, now.Format(analytics.DateLayout))
	switch {
	case err == nil:
		return fmt.Sprintf("%d.%d", local, daily.TotalOrders), true
	case errors.Is(err, store.ErrNotFound):
		return fmt.Sprintf("%d.0", local), true
	default:
		return "", false
	}
}

func (s *Service) reportOrders(ctx context.Context, from time.Time, to time.Time) ([]domain.Order, string) {
	orders, err := s.replicator.ListOrders(ctx, from, to)
	if err == nil && len(orders) > 0 {
		return orders, sourceRemote
	}
	if err != nil && !errors.Is(err, errNoRemote) {
		s.log.WithError(err).Warn("remote orders unavailable, using local history")
	}

	history, herr := s.mirror.History(ctx)
	if herr != nil {
		s.log.WithError(herr).Warn("load local history failed")
		return nil, sourceLocal
	}
	return history, sourceLocal
}

func (s *Service) AnalyticsCSV(ctx context.Context, period string, start string, end string, w io.Writer) error {
	report, err := s.Analytics(ctx, period, start, end)
	if err != nil {
		return err
	}
	return analytics.WriteReportCSV(w, report)
}

// DailyRollup returns the remote counters for one day, or zeros when the
// day has no orders yet.
func (s *Service) DailyRollup(ctx context.Context, date string) (domain.DailyAnalytics, error) {
	if date == "" {
		date = s.clock().Format(analytics.DateLayout)
	}
	if _, err := time.ParseInLocation(analytics.DateLayout, date, s.loc); err != nil {
		return domain.DailyAnalytics{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}

	daily, err := s.replicator.Daily(ctx, date)
	if errors.Is(err, store.ErrNotFound) {
		return domain.DailyAnalytics{Date: date}, nil
	}
	if err != nil {
		return domain.DailyAnalytics{}, err
	}
	return *daily, nil
}

// DailyRevenue breaks one month down by day.
func (s *Service) DailyRevenue(ctx context.Context, year int, month time.Month) ([]domain.DailyRevenue, error) {
	if month < time.January || month > time.December || year < 1 {
		return nil, fmt.Errorf("%w: invalid month", ErrValidation)
	}
	from := time.Date(year, month, 1, 0, 0, 0, 0, s.loc)
	to := from.AddDate(0, 1, 0).Add(-time.Nanosecond)
	orders, _ := s.reportOrders(ctx, from, to)
	return analytics.DailyRevenueForMonth(orders, year, month, s.loc), nil
}
