// Package storetest holds the behaviour every DocumentStore must share.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kitchenalert/backend/internal/domain"
	"kitchenalert/backend/internal/store"
)

// Run exercises s against a fresh restaurant id per subtest.
func Run(t *testing.T, s store.DocumentStore) {
	t.Helper()
	base := fmt.Sprintf("it-%d", time.Now().UnixNano())

	t.Run("merge keeps other fields", func(t *testing.T) { testMerge(t, s, base+"-merge") })
	t.Run("missing restaurant", func(t *testing.T) { testMissing(t, s, base+"-missing") })
	t.Run("append order is idempotent", func(t *testing.T) { testAppendOrder(t, s, base+"-orders") })
	t.Run("daily increments add up", func(t *testing.T) { testDaily(t, s, base+"-daily") })
	t.Run("subscribe sees own writes", func(t *testing.T) { testSubscribe(t, s, base+"-sub") })
	t.Run("stock log append", func(t *testing.T) {
		require.NoError(t, s.AppendStockLog(context.Background(), base+"-logs", domain.StockLog{
			ID: "log-1", ItemName: "Tea", Action: domain.StockActionAdd, Quantity: 5, NewStock: 105, User: "staff",
			Timestamp: time.Now().UTC(),
		}))
	})
}

func ptr(t time.Time) *time.Time {
	return &t
}

func testMerge(t *testing.T, s store.DocumentStore, id string) {
	ctx := context.Background()
	first := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Minute)

	require.NoError(t, s.MergeRestaurant(ctx, id, domain.RestaurantDocument{
		Name:        "Kitchen Alert Restaurant",
		LastUpdated: ptr(first),
		Inventory: domain.Inventory{
			"Tea":  {CurrentStock: 100, Unit: "cups", LowThreshold: 20, CriticalThreshold: 5, Category: "Beverages"},
			"Vada": {CurrentStock: 80, Unit: "pieces", LowThreshold: 15, CriticalThreshold: 5, Category: "Snacks"},
		},
		MenuItems: map[string]int64{"Tea": 10, "Vada": 10},
	}))
	require.NoError(t, s.MergeRestaurant(ctx, id, domain.RestaurantDocument{
		Name:        "Kitchen Alert Restaurant",
		LastUpdated: ptr(second),
		Inventory: domain.Inventory{
			"Tea": {CurrentStock: 97, Unit: "cups", LowThreshold: 20, CriticalThreshold: 5, Category: "Beverages"},
		},
		MenuItems: map[string]int64{"Lassi": 35},
	}))

	doc, err := s.GetRestaurant(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Kitchen Alert Restaurant", doc.Name)
	require.NotNil(t, doc.LastUpdated)
	assert.True(t, second.Equal(*doc.LastUpdated))
	assert.Equal(t, 97, doc.Inventory["Tea"].CurrentStock)
	assert.Equal(t, 80, doc.Inventory["Vada"].CurrentStock)
	assert.Equal(t, map[string]int64{"Tea": 10, "Vada": 10, "Lassi": 35}, doc.MenuItems)
}

func testMissing(t *testing.T, s store.DocumentStore, id string) {
	ctx := context.Background()
	_, err := s.GetRestaurant(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetDaily(ctx, id, "2024-01-01")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testAppendOrder(t *testing.T, s store.DocumentStore, id string) {
	ctx := context.Background()
	at := time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)
	order := domain.Order{
		ID: "ord-" + id, Timestamp: at, Date: "2024-03-05", Time: "09:30 AM", Hour: 9, Table: 2,
		Items: []domain.OrderLine{{Name: "Tea", Qty: 3}}, Total: 30,
	}

	inserted, err := s.AppendOrder(ctx, id, order)
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = s.AppendOrder(ctx, id, order)
	require.NoError(t, err)
	assert.False(t, inserted)

	later := order
	later.ID = "ord-late-" + id
	later.Timestamp = at.Add(48 * time.Hour)
	_, err = s.AppendOrder(ctx, id, later)
	require.NoError(t, err)

	orders, err := s.ListOrders(ctx, id, at, at.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, order.ID, orders[0].ID)
	assert.Equal(t, int64(30), orders[0].Total)
	assert.Equal(t, 9, orders[0].Hour)
	assert.Equal(t, []domain.OrderLine{{Name: "Tea", Qty: 3}}, orders[0].Items)

	_, err = s.AppendOrder(ctx, id, domain.Order{ID: ""})
	assert.ErrorIs(t, err, store.ErrInvalidDocument)
}

func testDaily(t *testing.T, s store.DocumentStore, id string) {
	ctx := context.Background()
	now := time.Now().UTC()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrementDaily(ctx, id, domain.DailyAnalytics{
				Date: "2024-03-05", TotalOrders: 1, TotalRevenue: 30, ItemsSold: 3, LastUpdated: now,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	daily, err := s.GetDaily(ctx, id, "2024-03-05")
	require.NoError(t, err)
	assert.Equal(t, int64(10), daily.TotalOrders)
	assert.Equal(t, int64(300), daily.TotalRevenue)
	assert.Equal(t, int64(30), daily.ItemsSold)
}

func testSubscribe(t *testing.T, s store.DocumentStore, id string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.MergeRestaurant(ctx, id, domain.RestaurantDocument{
		Name: "Kitchen Alert Restaurant", LastUpdated: ptr(first),
		Inventory: domain.Inventory{"Tea": {CurrentStock: 5}},
		MenuItems: map[string]int64{"Tea": 10},
	}))

	deliveries := make(chan domain.RestaurantDocument, 16)
	done := make(chan error, 1)
	go func() {
		done <- s.SubscribeRestaurant(ctx, id, func(doc domain.RestaurantDocument) {
			deliveries <- doc
		})
	}()

	select {
	case doc := <-deliveries:
		assert.Equal(t, 5, doc.Inventory["Tea"].CurrentStock)
	case <-time.After(5 * time.Second):
		t.Fatalf("no initial delivery")
	}

	require.NoError(t, s.MergeRestaurant(ctx, id, domain.RestaurantDocument{
		Name: "Kitchen Alert Restaurant", LastUpdated: ptr(first.Add(time.Second)),
		Inventory: domain.Inventory{"Tea": {CurrentStock: 4}},
	}))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case doc := <-deliveries:
			if doc.Inventory["Tea"].CurrentStock == 4 {
				cancel()
				<-done
				return
			}
		case <-deadline:
			t.Fatalf("own write was not echoed")
		}
	}
}
