package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"kitchenalert/backend/internal/domain"
	"kitchenalert/backend/internal/store"
)

const stockLogMaxLen = 5000

// Store keeps the restaurant document as hashes and announces every
// merge on a pub/sub channel.
type Store struct {
	client *goredis.Client
	prefix string
}

func New(addr string, password string, db int) *Store {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Store{client: client, prefix: "kitchenalert"}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(restaurantID string, parts ...string) string {
	k := fmt.Sprintf("%s:restaurant:%s", s.prefix, restaurantID)
	for _, part := range parts {
		k += ":" + part
	}
	return k
}

func (s *Store) GetRestaurant(ctx context.Context, restaurantID string) (*domain.RestaurantDocument, error) {
	pipe := s.client.Pipeline()
	metaCmd := pipe.HGetAll(ctx, s.key(restaurantID))
	invCmd := pipe.HGetAll(ctx, s.key(restaurantID, "inventory"))
	menuCmd := pipe.HGetAll(ctx, s.key(restaurantID, "menu"))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	meta, inv, menu := metaCmd.Val(), invCmd.Val(), menuCmd.Val()
	if len(meta) == 0 && len(inv) == 0 && len(menu) == 0 {
		return nil, store.ErrNotFound
	}

	doc := &domain.RestaurantDocument{
		Name:      meta["name"],
		Inventory: make(domain.Inventory, len(inv)),
		MenuItems: make(map[string]int64, len(menu)),
	}
	if raw := meta["lastUpdated"]; raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: lastUpdated: %v", store.ErrInvalidDocument, err)
		}
		doc.LastUpdated = &at
	}
	for name, raw := range inv {
		var rec domain.InventoryRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("%w: inventory %s: %v", store.ErrInvalidDocument, name, err)
		}
		doc.Inventory[name] = rec
	}
	for name, raw := range menu {
		price, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: menu %s: %v", store.ErrInvalidDocument, name, err)
		}
		doc.MenuItems[name] = price
	}
	return doc, nil
}

func (s *Store) MergeRestaurant(ctx context.Context, restaurantID string, doc domain.RestaurantDocument) error {
	meta := map[string]any{}
	if doc.Name != "" {
		meta["name"] = doc.Name
	}
	if doc.LastUpdated != nil {
		meta["lastUpdated"] = doc.LastUpdated.UTC().Format(time.RFC3339Nano)
	}
	inv := make(map[string]any, len(doc.Inventory))
	for name, rec := range doc.Inventory {
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		inv[name] = payload
	}
	menu := make(map[string]any, len(doc.MenuItems))
	for name, price := range doc.MenuItems {
		menu[name] = price
	}

	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if len(meta) > 0 {
			pipe.HSet(ctx, s.key(restaurantID), meta)
		}
		if len(inv) > 0 {
			pipe.HSet(ctx, s.key(restaurantID, "inventory"), inv)
		}
		if len(menu) > 0 {
			pipe.HSet(ctx, s.key(restaurantID, "menu"), menu)
		}
		pipe.Publish(ctx, s.key(restaurantID, "changes"), "merged")
		return nil
	})
	return err
}

func (s *Store) SubscribeRestaurant(ctx context.Context, restaurantID string, fn func(domain.RestaurantDocument)) error {
	pubsub := s.client.Subscribe(ctx, s.key(restaurantID, "changes"))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	deliver := func() error {
		doc, err := s.GetRestaurant(ctx, restaurantID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		fn(*doc)
		return nil
	}

	if err := deliver(); err != nil {
		return err
	}
	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-messages:
			if !ok {
				return errors.New("redis subscription closed")
			}
			if err := deliver(); err != nil {
				return err
			}
		}
	}
}

func (s *Store) AppendOrder(ctx context.Context, restaurantID string, order domain.Order) (bool, error) {
	if err := store.ValidateOrder(order); err != nil {
		return false, err
	}
	payload, err := json.Marshal(order)
	if err != nil {
		return false, err
	}

	var inserted *goredis.BoolCmd
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		inserted = pipe.HSetNX(ctx, s.key(restaurantID, "orders"), order.ID, payload)
		pipe.ZAdd(ctx, s.key(restaurantID, "orders", "by-time"), goredis.Z{
			Score:  float64(order.Timestamp.UnixMilli()),
			Member: order.ID,
		})
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted.Val(), nil
}

func (s *Store) ListOrders(ctx context.Context, restaurantID string, from time.Time, to time.Time) ([]domain.Order, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.key(restaurantID, "orders", "by-time"), &goredis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixMilli(), 10),
		Max: strconv.FormatInt(to.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.Order{}, nil
	}

	raws, err := s.client.HMGet(ctx, s.key(restaurantID, "orders"), ids...).Result()
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(raws))
	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var order domain.Order
		if err := json.Unmarshal([]byte(str), &order); err != nil {
			return nil, fmt.Errorf("%w: order: %v", store.ErrInvalidDocument, err)
		}
		if order.Timestamp.Before(from) || order.Timestamp.After(to) {
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (s *Store) IncrementDaily(ctx context.Context, restaurantID string, delta domain.DailyAnalytics) (domain.DailyAnalytics, error) {
	if err := store.ValidateDelta(delta); err != nil {
		return domain.DailyAnalytics{}, err
	}
	key := s.key(restaurantID, "daily", delta.Date)

	var orders, revenue, items *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		orders = pipe.HIncrBy(ctx, key, "totalOrders", delta.TotalOrders)
		revenue = pipe.HIncrBy(ctx, key, "totalRevenue", delta.TotalRevenue)
		items = pipe.HIncrBy(ctx, key, "itemsSold", delta.ItemsSold)
		pipe.HSet(ctx, key, "lastUpdated", delta.LastUpdated.UTC().Format(time.RFC3339Nano))
		return nil
	})
	if err != nil {
		return domain.DailyAnalytics{}, err
	}
	return domain.DailyAnalytics{
		Date:         delta.Date,
		TotalOrders:  orders.Val(),
		TotalRevenue: revenue.Val(),
		ItemsSold:    items.Val(),
		LastUpdated:  delta.LastUpdated,
	}, nil
}

func (s *Store) GetDaily(ctx context.Context, restaurantID string, date string) (*domain.DailyAnalytics, error) {
	fields, err := s.client.HGetAll(ctx, s.key(restaurantID, "daily", date)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	daily := &domain.DailyAnalytics{Date: date}
	daily.TotalOrders, _ = strconv.ParseInt(fields["totalOrders"], 10, 64)
	daily.TotalRevenue, _ = strconv.ParseInt(fields["totalRevenue"], 10, 64)
	daily.ItemsSold, _ = strconv.ParseInt(fields["itemsSold"], 10, 64)
	if raw := fields["lastUpdated"]; raw != "" {
		daily.LastUpdated, _ = time.Parse(time.RFC3339Nano, raw)
	}
	return daily, nil
}

func (s *Store) AppendStockLog(ctx context.Context, restaurantID string, entry domain.StockLog) error {
	return s.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: s.key(restaurantID, "stocklogs"),
		MaxLen: stockLogMaxLen,
		Approx: true,
		Values: map[string]any{
			"id":        entry.ID,
			"itemName":  entry.ItemName,
			"action":    entry.Action,
			"quantity":  entry.Quantity,
			"newStock":  entry.NewStock,
			"user":      entry.User,
			"timestamp": entry.Timestamp.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}
