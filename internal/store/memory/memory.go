package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"kitchenalert/backend/internal/domain"
	"kitchenalert/backend/internal/store"
)

type restaurantState struct {
	doc       *domain.RestaurantDocument
	orders    map[string]domain.Order
	daily     map[string]domain.DailyAnalytics
	stockLogs []domain.StockLog
	watchers  map[int]chan struct{}
}

// Store is an in-process DocumentStore. It stands in for the remote
// store when none is configured and in tests.
type Store struct {
	mu          sync.RWMutex
	restaurants map[string]*restaurantState
	nextWatcher int
}

func New() *Store {
	return &Store{restaurants: make(map[string]*restaurantState)}
}

func (s *Store) state(restaurantID string) *restaurantState {
	st, ok := s.restaurants[restaurantID]
	if !ok {
		st = &restaurantState{
			orders:   make(map[string]domain.Order),
			daily:    make(map[string]domain.DailyAnalytics),
			watchers: make(map[int]chan struct{}),
		}
		s.restaurants[restaurantID] = st
	}
	return st
}

func (s *Store) GetRestaurant(_ context.Context, restaurantID string) (*domain.RestaurantDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.restaurants[restaurantID]
	if !ok || st.doc == nil {
		return nil, store.ErrNotFound
	}
	doc := cloneDocument(*st.doc)
	return &doc, nil
}

func (s *Store) MergeRestaurant(_ context.Context, restaurantID string, doc domain.RestaurantDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(restaurantID)
	if st.doc == nil {
		st.doc = &domain.RestaurantDocument{
			Inventory: make(domain.Inventory),
			MenuItems: make(map[string]int64),
		}
	}
	if doc.Name != "" {
		st.doc.Name = doc.Name
	}
	if doc.LastUpdated != nil {
		at := *doc.LastUpdated
		st.doc.LastUpdated = &at
	}
	for name, rec := range doc.Inventory {
		st.doc.Inventory[name] = rec
	}
	for name, price := range doc.MenuItems {
		st.doc.MenuItems[name] = price
	}

	for _, ch := range st.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (s *Store) SubscribeRestaurant(ctx context.Context, restaurantID string, fn func(domain.RestaurantDocument)) error {
	notify := make(chan struct{}, 1)

	s.mu.Lock()
	st := s.state(restaurantID)
	id := s.nextWatcher
	s.nextWatcher++
	st.watchers[id] = notify
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(st.watchers, id)
		s.mu.Unlock()
	}()

	deliver := func() {
		doc, err := s.GetRestaurant(ctx, restaurantID)
		if err == nil {
			fn(*doc)
		}
	}

	deliver()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-notify:
			deliver()
		}
	}
}

func (s *Store) AppendOrder(_ context.Context, restaurantID string, order domain.Order) (bool, error) {
	if err := store.ValidateOrder(order); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(restaurantID)
	if _, exists := st.orders[order.ID]; exists {
		return false, nil
	}
	st.orders[order.ID] = order
	return true, nil
}

func (s *Store) ListOrders(_ context.Context, restaurantID string, from time.Time, to time.Time) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.restaurants[restaurantID]
	if !ok {
		return []domain.Order{}, nil
	}
	orders := make([]domain.Order, 0, len(st.orders))
	for _, order := range st.orders {
		if order.Timestamp.Before(from) || order.Timestamp.After(to) {
			continue
		}
		orders = append(orders, order)
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].Timestamp.Before(orders[j].Timestamp)
	})
	return orders, nil
}

func (s *Store) IncrementDaily(_ context.Context, restaurantID string, delta domain.DailyAnalytics) (domain.DailyAnalytics, error) {
	if err := store.ValidateDelta(delta); err != nil {
		return domain.DailyAnalytics{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(restaurantID)
	current := st.daily[delta.Date]
	current.Date = delta.Date
	current.TotalOrders += delta.TotalOrders
	current.TotalRevenue += delta.TotalRevenue
	current.ItemsSold += delta.ItemsSold
	current.LastUpdated = delta.LastUpdated
	st.daily[delta.Date] = current
	return current, nil
}

func (s *Store) GetDaily(_ context.Context, restaurantID string, date string) (*domain.DailyAnalytics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.restaurants[restaurantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	daily, ok := st.daily[date]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &daily, nil
}

func (s *Store) AppendStockLog(_ context.Context, restaurantID string, entry domain.StockLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(restaurantID)
	st.stockLogs = append(st.stockLogs, entry)
	return nil
}

// StockLogs returns a copy of the logged stock changes.
func (s *Store) StockLogs(restaurantID string) []domain.StockLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.restaurants[restaurantID]
	if !ok {
		return nil
	}
	return append([]domain.StockLog(nil), st.stockLogs...)
}

func (s *Store) Close() error {
	return nil
}

func cloneDocument(doc domain.RestaurantDocument) domain.RestaurantDocument {
	out := domain.RestaurantDocument{
		Name:      doc.Name,
		Inventory: doc.Inventory.Clone(),
		MenuItems: make(map[string]int64, len(doc.MenuItems)),
	}
	if doc.LastUpdated != nil {
		at := *doc.LastUpdated
		out.LastUpdated = &at
	}
	for name, price := range doc.MenuItems {
		out.MenuItems[name] = price
	}
	return out
}
