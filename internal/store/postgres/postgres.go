package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"kitchenalert/backend/internal/domain"
	"kitchenalert/backend/internal/store"
)

const notifyChannel = "restaurant_changes"

type Store struct {
	db *sql.DB

	schemaMu    sync.Mutex
	schemaReady bool
}

// New opens the pool without dialing. The schema is created on the first
// call that reaches the server, so a database that is down at startup is
// picked up once it recovers.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(12)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Store{db: db}, nil
}

// Ping checks connectivity and creates the schema if it is still missing.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return err
	}
	return s.ready(ctx)
}

func (s *Store) ready(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaReady {
		return nil
	}
	if err := s.ensureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	s.schemaReady = true
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS restaurants (
			id TEXT PRIMARY KEY,
			doc JSONB NOT NULL DEFAULT '{}'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS restaurant_orders (
			restaurant_id TEXT NOT NULL,
			id TEXT NOT NULL,
			ordered_at TIMESTAMPTZ NOT NULL,
			doc JSONB NOT NULL,
			PRIMARY KEY (restaurant_id, id)
		);
		CREATE INDEX IF NOT EXISTS restaurant_orders_time_idx ON restaurant_orders (restaurant_id, ordered_at);
		CREATE TABLE IF NOT EXISTS daily_analytics (
			restaurant_id TEXT NOT NULL,
			date TEXT NOT NULL,
			total_orders BIGINT NOT NULL DEFAULT 0,
			total_revenue BIGINT NOT NULL DEFAULT 0,
			items_sold BIGINT NOT NULL DEFAULT 0,
			last_updated TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (restaurant_id, date)
		);
		CREATE TABLE IF NOT EXISTS stock_logs (
			id TEXT PRIMARY KEY,
			restaurant_id TEXT NOT NULL,
			item_name TEXT NOT NULL,
			action TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			new_stock INTEGER NOT NULL,
			user_name TEXT NOT NULL,
			logged_at TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

func (s *Store) GetRestaurant(ctx context.Context, restaurantID string) (*domain.RestaurantDocument, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM restaurants WHERE id = $1`, restaurantID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var doc domain.RestaurantDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidDocument, err)
	}
	if doc.Inventory == nil {
		doc.Inventory = make(domain.Inventory)
	}
	if doc.MenuItems == nil {
		doc.MenuItems = make(map[string]int64)
	}
	return &doc, nil
}

// MergeRestaurant merges inventory and menu entries key by key and
// notifies listeners in the same transaction.
func (s *Store) MergeRestaurant(ctx context.Context, restaurantID string, doc domain.RestaurantDocument) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	inventory, err := json.Marshal(nonNilInventory(doc.Inventory))
	if err != nil {
		return err
	}
	menu, err := json.Marshal(nonNilMenu(doc.MenuItems))
	if err != nil {
		return err
	}
	var lastUpdated any
	if doc.LastUpdated != nil {
		lastUpdated = doc.LastUpdated.UTC().Format(time.RFC3339Nano)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO restaurants (id, doc, updated_at)
		VALUES ($1, jsonb_build_object(
			'name', $2::text,
			'lastUpdated', $3::text,
			'inventory', $4::jsonb,
			'menuItems', $5::jsonb
		), now())
		ON CONFLICT (id) DO UPDATE SET
			doc = restaurants.doc || jsonb_strip_nulls(jsonb_build_object(
				'name', NULLIF($2::text, ''),
				'lastUpdated', $3::text
			)) || jsonb_build_object(
				'inventory', COALESCE(restaurants.doc->'inventory', '{}'::jsonb) || $4::jsonb,
				'menuItems', COALESCE(restaurants.doc->'menuItems', '{}'::jsonb) || $5::jsonb
			),
			updated_at = now()
	`, restaurantID, doc.Name, lastUpdated, string(inventory), string(menu)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, restaurantID); err != nil {
		return err
	}
	return tx.Commit()
}

// SubscribeRestaurant holds one connection in LISTEN mode for its lifetime.
func (s *Store) SubscribeRestaurant(ctx context.Context, restaurantID string, fn func(domain.RestaurantDocument)) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

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

	return conn.Raw(func(driverConn any) error {
		stdConn, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		pgxConn := stdConn.Conn()
		if _, err := pgxConn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
			return err
		}
		if err := deliver(); err != nil {
			return err
		}
		for {
			notification, err := pgxConn.WaitForNotification(ctx)
			if err != nil {
				return err
			}
			if notification.Payload != restaurantID {
				continue
			}
			if err := deliver(); err != nil {
				return err
			}
		}
	})
}

func (s *Store) AppendOrder(ctx context.Context, restaurantID string, order domain.Order) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	if err := store.ValidateOrder(order); err != nil {
		return false, err
	}
	payload, err := json.Marshal(order)
	if err != nil {
		return false, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO restaurant_orders (restaurant_id, id, ordered_at, doc)
		VALUES ($1, $2, $3, $4::jsonb)
	`, restaurantID, order.ID, order.Timestamp.UTC(), string(payload))
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ListOrders(ctx context.Context, restaurantID string, from time.Time, to time.Time) ([]domain.Order, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc
		FROM restaurant_orders
		WHERE restaurant_id = $1 AND ordered_at >= $2 AND ordered_at <= $3
		ORDER BY ordered_at
	`, restaurantID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 64)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var order domain.Order
		if err := json.Unmarshal(raw, &order); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrInvalidDocument, err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) IncrementDaily(ctx context.Context, restaurantID string, delta domain.DailyAnalytics) (domain.DailyAnalytics, error) {
	if err := s.ready(ctx); err != nil {
		return domain.DailyAnalytics{}, err
	}
	if err := store.ValidateDelta(delta); err != nil {
		return domain.DailyAnalytics{}, err
	}

	out := domain.DailyAnalytics{Date: delta.Date}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO daily_analytics (restaurant_id, date, total_orders, total_revenue, items_sold, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (restaurant_id, date) DO UPDATE SET
			total_orders = daily_analytics.total_orders + EXCLUDED.total_orders,
			total_revenue = daily_analytics.total_revenue + EXCLUDED.total_revenue,
			items_sold = daily_analytics.items_sold + EXCLUDED.items_sold,
			last_updated = EXCLUDED.last_updated
		RETURNING total_orders, total_revenue, items_sold, last_updated
	`, restaurantID, delta.Date, delta.TotalOrders, delta.TotalRevenue, delta.ItemsSold, delta.LastUpdated.UTC()).
		Scan(&out.TotalOrders, &out.TotalRevenue, &out.ItemsSold, &out.LastUpdated)
	if err != nil {
		return domain.DailyAnalytics{}, err
	}
	return out, nil
}

func (s *Store) GetDaily(ctx context.Context, restaurantID string, date string) (*domain.DailyAnalytics, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	daily := &domain.DailyAnalytics{Date: date}
	err := s.db.QueryRowContext(ctx, `
		SELECT total_orders, total_revenue, items_sold, last_updated
		FROM daily_analytics
		WHERE restaurant_id = $1 AND date = $2
	`, restaurantID, date).Scan(&daily.TotalOrders, &daily.TotalRevenue, &daily.ItemsSold, &daily.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return daily, nil
}

func (s *Store) AppendStockLog(ctx context.Context, restaurantID string, entry domain.StockLog) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_logs (id, restaurant_id, item_name, action, quantity, new_stock, user_name, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, entry.ID, restaurantID, entry.ItemName, entry.Action, entry.Quantity, entry.NewStock, entry.User, entry.Timestamp.UTC())
	return err
}

func nonNilInventory(inv domain.Inventory) domain.Inventory {
	if inv == nil {
		return domain.Inventory{}
	}
	return inv
}

func nonNilMenu(menu map[string]int64) map[string]int64 {
	if menu == nil {
		return map[string]int64{}
	}
	return menu
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
