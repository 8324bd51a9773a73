package store

import (
	"context"
	"errors"
	"time"

	"kitchenalert/backend/internal/domain"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidDocument = errors.New("invalid document")
)

// DocumentStore is the remote store shared by every terminal of the
// restaurant. Writes to the restaurant document merge field by field;
// orders are an append-only collection keyed by order id.
type DocumentStore interface {
	GetRestaurant(ctx context.Context, restaurantID string) (*domain.RestaurantDocument, error)
	MergeRestaurant(ctx context.Context, restaurantID string, doc domain.RestaurantDocument) error
	// SubscribeRestaurant delivers the current document and then every
	// change, including this process's own writes. It blocks until ctx
	// ends or the subscription breaks.
	SubscribeRestaurant(ctx context.Context, restaurantID string, fn func(domain.RestaurantDocument)) error
	// AppendOrder reports whether the order was newly inserted.
	AppendOrder(ctx context.Context, restaurantID string, order domain.Order) (bool, error)
	ListOrders(ctx context.Context, restaurantID string, from time.Time, to time.Time) ([]domain.Order, error)
	// IncrementDaily adds delta to the daily rollup atomically and returns the new totals.
	IncrementDaily(ctx context.Context, restaurantID string, delta domain.DailyAnalytics) (domain.DailyAnalytics, error)
	GetDaily(ctx context.Context, restaurantID string, date string) (*domain.DailyAnalytics, error)
	AppendStockLog(ctx context.Context, restaurantID string, entry domain.StockLog) error
	Close() error
}

// ValidateOrder rejects records that cannot be stored.
func ValidateOrder(order domain.Order) error {
	if order.ID == "" || order.Timestamp.IsZero() || len(order.Items) == 0 {
		return ErrInvalidDocument
	}
	return nil
}

func ValidateDelta(delta domain.DailyAnalytics) error {
	if delta.Date == "" {
		return ErrInvalidDocument
	}
	return nil
}
