// Package analytics reduces order history into revenue, traffic and
// top-seller reports. Every function is pure.
package analytics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"kitchenalert/backend/internal/domain"
)

const (
	PeriodToday  = "today"
	PeriodMonth  = "month"
	PeriodYear   = "year"
	PeriodCustom = "custom"

	DateLayout  = "2006-01-02"
	TopItemsMax = 10
)

var ErrInvalidRange = errors.New("invalid analytics range")

// Range resolves a period to an inclusive [start, end] window in loc.
// start and end are only read for the custom period, as YYYY-MM-DD dates.
func Range(period string, now time.Time, loc *time.Location, start string, end string) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)

	switch period {
	case "", PeriodToday:
		from := startOfDay(now)
		return from, endOfDay(from), nil
	case PeriodMonth:
		from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		return from, endOfDay(from.AddDate(0, 1, -1)), nil
	case PeriodYear:
		from := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, loc)
		return from, endOfDay(time.Date(now.Year(), time.December, 31, 0, 0, 0, 0, loc)), nil
	case PeriodCustom:
		from, err := time.ParseInLocation(DateLayout, start, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: start %q", ErrInvalidRange, start)
		}
		to, err := time.ParseInLocation(DateLayout, end, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: end %q", ErrInvalidRange, end)
		}
		if to.Before(from) {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: end before start", ErrInvalidRange)
		}
		return from, endOfDay(to), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("%w: unknown period %q", ErrInvalidRange, period)
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// ByDateRange keeps orders whose timestamp lies in [start, end].
func ByDateRange(orders []domain.Order, start time.Time, end time.Time) []domain.Order {
	out := make([]domain.Order, 0, len(orders))
	for _, order := range orders {
		if order.Timestamp.Before(start) || order.Timestamp.After(end) {
			continue
		}
		out = append(out, order)
	}
	return out
}

func Revenue(orders []domain.Order) int64 {
	var total int64
	for _, order := range orders {
		total += order.Total
	}
	return total
}

// HourlyTraffic buckets orders by the hour captured when they were placed.
func HourlyTraffic(orders []domain.Order) []domain.HourlyBucket {
	buckets := make([]domain.HourlyBucket, 24)
	for hour := range buckets {
		buckets[hour].Hour = hour
	}
	for _, order := range orders {
		if order.Hour < 0 || order.Hour > 23 {
			continue
		}
		buckets[order.Hour].Count++
		buckets[order.Hour].Revenue += order.Total
	}
	return buckets
}

// PeakHour returns the first hour with the highest count, or -1 when empty.
func PeakHour(buckets []domain.HourlyBucket) int {
	peak, best := -1, 0
	for _, bucket := range buckets {
		if bucket.Count > best {
			peak, best = bucket.Hour, bucket.Count
		}
	}
	return peak
}

// TopSellingItems prices every line at the current menu price. Items no
// longer on the menu contribute zero revenue. Ties keep first appearance.
func TopSellingItems(orders []domain.Order, prices map[string]int64) []domain.TopItem {
	index := make(map[string]int)
	items := make([]domain.TopItem, 0)
	for _, order := range orders {
		for _, line := range order.Items {
			i, ok := index[line.Name]
			if !ok {
				i = len(items)
				index[line.Name] = i
				items = append(items, domain.TopItem{Name: line.Name})
			}
			items[i].Count += line.Qty
			items[i].Revenue += int64(line.Qty) * prices[line.Name]
		}
	}
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].Count > items[b].Count
	})
	return items
}

// DailyRevenueForMonth totals each calendar day of the month in loc.
// Days without orders are omitted.
func DailyRevenueForMonth(orders []domain.Order, year int, month time.Month, loc *time.Location) []domain.DailyRevenue {
	if loc == nil {
		loc = time.UTC
	}
	from := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	to := endOfDay(from.AddDate(0, 1, -1))

	byDay := make(map[string]*domain.DailyRevenue)
	for _, order := range ByDateRange(orders, from, to) {
		day := order.Timestamp.In(loc).Format(DateLayout)
		entry, ok := byDay[day]
		if !ok {
			entry = &domain.DailyRevenue{Date: day}
			byDay[day] = entry
		}
		entry.Orders++
		entry.Revenue += order.Total
	}

	out := make([]domain.DailyRevenue, 0, len(byDay))
	for _, entry := range byDay {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// BuildReport filters orders to [start, end] and summarises them.
func BuildReport(period string, start time.Time, end time.Time, orders []domain.Order, prices map[string]int64, now time.Time) domain.AnalyticsReport {
	inRange := ByDateRange(orders, start, end)
	sort.SliceStable(inRange, func(i, j int) bool {
		return inRange[i].Timestamp.After(inRange[j].Timestamp)
	})

	hourly := HourlyTraffic(inRange)
	top := TopSellingItems(inRange, prices)
	if len(top) > TopItemsMax {
		top = top[:TopItemsMax]
	}

	revenue := Revenue(inRange)
	var average float64
	if len(inRange) > 0 {
		average = math.Round(float64(revenue)/float64(len(inRange))*100) / 100
	}

	return domain.AnalyticsReport{
		Period:            period,
		Start:             start,
		End:               end,
		GeneratedAt:       now,
		TotalOrders:       len(inRange),
		Revenue:           revenue,
		AverageOrderValue: average,
		PeakHour:          PeakHour(hourly),
		Hourly:            hourly,
		TopItems:          top,
		Orders:            inRange,
	}
}
