package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"kitchenalert/backend/internal/cache"
	"kitchenalert/backend/internal/cart"
	"kitchenalert/backend/internal/catalog"
	"kitchenalert/backend/internal/domain"
	"kitchenalert/backend/internal/events"
	"kitchenalert/backend/internal/inventory"
	"kitchenalert/backend/internal/localstore"
	"kitchenalert/backend/internal/metrics"
	"kitchenalert/backend/internal/store"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrDuplicateItem = errors.New("menu item already exists")
	ErrForbidden     = errors.New("manager role required")
	ErrStopped       = errors.New("service stopped")
	ErrOrderInFlight = errors.New("terminal already has an order in flight")
)

const defaultCategory = "Other"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

func requireManager(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleManager {
		return ErrForbidden
	}
	return nil
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

// Replicator carries local changes to the shared remote store.
type Replicator interface {
	SchedulePush()
	RecordOrder(ctx context.Context, order domain.Order) error
	LogStockChange(ctx context.Context, entry domain.StockLog)
	ListOrders(ctx context.Context, from time.Time, to time.Time) ([]domain.Order, error)
	Daily(ctx context.Context, date string) (*domain.DailyAnalytics, error)
	Status(ctx context.Context) domain.SyncStatus
}

type Dispatcher interface {
	Send(ctx context.Context, address string, order domain.Order) error
	TestConnection(ctx context.Context, address string) error
}

// Broadcaster refreshes connected terminals.
type Broadcaster interface {
	Broadcast(event string, data any)
}

type Options struct {
	RestaurantName string
	Location       *time.Location
	DeviceAddress  string
	ReportTTL      time.Duration
	Log            *logrus.Entry
	Metrics        *metrics.Collector
	Events         events.Publisher
	Hub            Broadcaster
	Reports        cache.ReportCache
	RestaurantID   string
	Now            func() time.Time
}

// Service owns the ledger, the menu and the carts. All of that state is
// touched only by the goroutine in Run; callers submit closures through do.
type Service struct {
	catalog catalog.Catalog
	mirror  *localstore.Mirror
	device  Dispatcher

	replicator     Replicator
	restaurantName string
	restaurantID   string
	loc            *time.Location
	reportTTL      time.Duration
	log            *logrus.Entry
	metrics        *metrics.Collector
	events         events.Publisher
	hub            Broadcaster
	reports        cache.ReportCache
	now            func() time.Time

	ops      chan func()
	stopped  chan struct{}
	stopOnce sync.Once
	orderSeq atomic.Uint64

	// Actor-owned.
	ledger          *inventory.Ledger
	menu            map[string]domain.MenuItem
	menuNames       []string
	carts           map[string]*cart.Cart
	inFlight        map[string]string
	removed         map[string]bool
	deviceAddress   string
	lastLocalUpdate time.Time
	lastPushStamp   time.Time
}

// New restores local state: saved inventory, then catalog defaults for
// anything missing, then custom items, then the removal list.
func New(ctx context.Context, cat catalog.Catalog, mirror *localstore.Mirror, dispatcher Dispatcher, opts Options) (*Service, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Events == nil {
		opts.Events = events.Noop{}
	}
	if opts.Hub == nil {
		opts.Hub = noopHub{}
	}
	if opts.Reports == nil {
		opts.Reports = cache.NoopReportCache{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RestaurantName == "" {
		opts.RestaurantName = cat.Restaurant
	}

	s := &Service{
		catalog:        cat,
		mirror:         mirror,
		device:         dispatcher,
		replicator:     offlineReplicator{},
		restaurantName: opts.RestaurantName,
		restaurantID:   opts.RestaurantID,
		loc:            opts.Location,
		reportTTL:      opts.ReportTTL,
		log:            opts.Log,
		metrics:        opts.Metrics,
		events:         opts.Events,
		hub:            opts.Hub,
		reports:        opts.Reports,
		now:            opts.Now,
		ops:            make(chan func()),
		stopped:        make(chan struct{}),
		menu:           make(map[string]domain.MenuItem),
		carts:          make(map[string]*cart.Cart),
		inFlight:       make(map[string]string),
		removed:        make(map[string]bool),
	}
	if err := s.load(ctx, opts.DeviceAddress); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) load(ctx context.Context, defaultDevice string) error {
	now := s.clock()

	for _, item := range s.catalog.Menu() {
		s.addToMenu(item)
	}
	custom, err := s.mirror.LoadCustomMenu(ctx)
	if err != nil {
		return fmt.Errorf("load custom menu: %w", err)
	}
	for _, item := range custom {
		item.Custom = true
		s.addToMenu(item)
	}

	saved, found, err := s.mirror.LoadInventory(ctx)
	if err != nil {
		return fmt.Errorf("load inventory: %w", err)
	}
	if !found {
		saved = make(domain.Inventory)
	}
	for name, rec := range s.catalog.Inventory(now) {
		if _, ok := saved[name]; !ok {
			saved[name] = rec
		}
	}
	s.ledger = inventory.NewLedger(saved)

	removed, err := s.mirror.LoadRemoved(ctx)
	if err != nil {
		return fmt.Errorf("load removed items: %w", err)
	}
	for _, name := range removed {
		s.removed[name] = true
		s.dropFromMenu(name)
		s.ledger.Delete(name)
	}

	if s.lastLocalUpdate, err = s.mirror.InventoryUpdatedAt(ctx); err != nil {
		return fmt.Errorf("load inventory timestamp: %w", err)
	}

	address, err := s.mirror.DeviceAddress(ctx)
	if err != nil {
		return fmt.Errorf("load device address: %w", err)
	}
	if address == "" {
		address = defaultDevice
	}
	s.deviceAddress = address

	s.recordStockLevels()
	return nil
}

// SetReplicator must be called before Run.
func (s *Service) SetReplicator(r Replicator) {
	if r == nil {
		r = offlineReplicator{}
	}
	s.replicator = r
}

// Run serves state operations until ctx ends.
func (s *Service) Run(ctx context.Context) {
	defer s.stopOnce.Do(func() { close(s.stopped) })
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-s.ops:
			op()
		}
	}
}

// do runs fn on the actor goroutine and waits for its result.
func (s *Service) do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	select {
	case s.ops <- func() { done <- fn() }:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) clock() time.Time {
	return s.now().In(s.loc).Truncate(time.Millisecond)
}

// touch stamps a local mutation strictly after the last pushed snapshot so
// the echo of that push cannot overwrite it.
func (s *Service) touch() time.Time {
	at := s.clock()
	if !at.After(s.lastPushStamp) {
		at = s.lastPushStamp.Add(time.Millisecond)
	}
	if !at.After(s.lastLocalUpdate) {
		at = s.lastLocalUpdate.Add(time.Millisecond)
	}
	s.lastLocalUpdate = at
	return at
}

// persistInventory saves the ledger after a local mutation and schedules a push.
func (s *Service) persistInventory(ctx context.Context) error {
	at := s.touch()
	if err := s.mirror.SaveInventory(ctx, s.ledger.Snapshot(), at); err != nil {
		return fmt.Errorf("save inventory: %w", err)
	}
	s.recordStockLevels()
	s.replicator.SchedulePush()
	return nil
}

func (s *Service) recordStockLevels() {
	if s.metrics == nil {
		return
	}
	for _, item := range s.ledger.Items() {
		s.metrics.StockLevel(item.Name, item.CurrentStock)
	}
}

func (s *Service) addToMenu(item domain.MenuItem) {
	if _, exists := s.menu[item.Name]; !exists {
		s.menuNames = append(s.menuNames, item.Name)
	}
	s.menu[item.Name] = item
}

func (s *Service) dropFromMenu(name string) {
	if _, ok := s.menu[name]; !ok {
		return
	}
	delete(s.menu, name)
	kept := s.menuNames[:0]
	for _, n := range s.menuNames {
		if n != name {
			kept = append(kept, n)
		}
	}
	s.menuNames = kept
}

func (s *Service) priceOf(name string) (int64, bool) {
	item, ok := s.menu[name]
	return item.Price, ok
}

func (s *Service) menuPrices() map[string]int64 {
	prices := make(map[string]int64, len(s.menu))
	for name, item := range s.menu {
		prices[name] = item.Price
	}
	return prices
}

func (s *Service) customItems() []domain.MenuItem {
	items := make([]domain.MenuItem, 0)
	for _, name := range s.menuNames {
		if item := s.menu[name]; item.Custom {
			items = append(items, item)
		}
	}
	return items
}

func (s *Service) removedNames() []string {
	names := make([]string, 0, len(s.removed))
	for name := range s.removed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Service) publish(ctx context.Context, key string, payload any) {
	ctx, cancel := context.WithTimeout(ctx, events.PublishTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, key, payload); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("event publish failed")
	}
}

type noopHub struct{}

func (noopHub) Broadcast(string, any) {}

// offlineReplicator is used when no remote store is configured.
type offlineReplicator struct{}

var errNoRemote = errors.New("no remote store configured")

func (offlineReplicator) SchedulePush() {}

func (offlineReplicator) RecordOrder(context.Context, domain.Order) error { return nil }

func (offlineReplicator) LogStockChange(context.Context, domain.StockLog) {}

func (offlineReplicator) ListOrders(context.Context, time.Time, time.Time) ([]domain.Order, error) {
	return nil, errNoRemote
}

func (offlineReplicator) Daily(context.Context, string) (*domain.DailyAnalytics, error) {
	return nil, store.ErrNotFound
}

func (offlineReplicator) Status(context.Context) domain.SyncStatus {
	return domain.SyncStatus{Backend: "offline"}
}
