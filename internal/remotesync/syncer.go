package remotesync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"kitchenalert/backend/internal/domain"
	"kitchenalert/backend/internal/metrics"
	"kitchenalert/backend/internal/store"
)

const (
	DefaultDebounce      = time.Second
	DefaultDrainInterval = 15 * time.Second

	remoteTimeout = 10 * time.Second
	minBackoff    = time.Second
	maxBackoff    = 30 * time.Second
)

// LocalState is the single writer that owns the ledger and menu.
type LocalState interface {
	// Snapshot returns the document to push, stamped with its push time.
	Snapshot(ctx context.Context) (domain.RestaurantDocument, error)
	ApplyRemote(ctx context.Context, doc domain.RestaurantDocument) (Result, error)
}

// Outbox is the local write-ahead queue of orders bound for the remote store.
type Outbox interface {
	EnqueueOrder(ctx context.Context, order domain.Order, at time.Time) error
	PendingOrders(ctx context.Context) ([]domain.PendingOrder, error)
	UpdatePending(ctx context.Context, entry domain.PendingOrder) error
	AckOrder(ctx context.Context, orderID string) error
}

type Options struct {
	RestaurantID  string
	Backend       string
	Debounce      time.Duration
	DrainInterval time.Duration
	Log           *logrus.Entry
	Metrics       *metrics.Collector
	Now           func() time.Time
}

// Syncer mirrors local state to the remote document store and drains the
// order outbox.
type Syncer struct {
	store        store.DocumentStore
	local        LocalState
	outbox       Outbox
	restaurantID string
	backend      string
	interval     time.Duration
	log          *logrus.Entry
	metrics      *metrics.Collector
	now          func() time.Time

	debouncer *Debouncer
	pushMu    sync.Mutex
	drainMu   sync.Mutex
	kick      chan struct{}

	statusMu      sync.Mutex
	lastPushAt    *time.Time
	lastPushError string
	lastRemoteAt  *time.Time
	lastDecision  string
	subscribed    bool

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(remote store.DocumentStore, local LocalState, outbox Outbox, opts Options) *Syncer {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = DefaultDrainInterval
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Syncer{
		store:        remote,
		local:        local,
		outbox:       outbox,
		restaurantID: opts.RestaurantID,
		backend:      opts.Backend,
		interval:     opts.DrainInterval,
		log:          opts.Log,
		metrics:      opts.Metrics,
		now:          opts.Now,
		kick:         make(chan struct{}, 1),
		runCtx:       context.Background(),
	}
	s.debouncer = NewDebouncer(opts.Debounce, s.push)
	return s
}

// Start runs the subscription and the outbox drain loop until Stop.
func (s *Syncer) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.cancel = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.subscribeLoop(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.drainLoop(runCtx)
	}()
}

// Stop pushes any pending snapshot, stops the loops and makes a final
// drain attempt bounded by ctx.
func (s *Syncer) Stop(ctx context.Context) error {
	s.debouncer.Flush()
	s.debouncer.Stop()
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return s.Drain(ctx)
}

// SchedulePush coalesces bursts of local mutations into one push.
func (s *Syncer) SchedulePush() {
	s.debouncer.Trigger()
}

// FlushPush pushes immediately if a push is pending.
func (s *Syncer) FlushPush() bool {
	return s.debouncer.Flush()
}

func (s *Syncer) push() {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()

	doc, err := s.local.Snapshot(ctx)
	if err == nil {
		err = s.store.MergeRestaurant(ctx, s.restaurantID, doc)
	}
	s.metrics.SyncPush(err)

	at := s.now().UTC()
	s.statusMu.Lock()
	s.lastPushAt = &at
	s.lastPushError = ""
	if err != nil {
		s.lastPushError = err.Error()
	}
	s.statusMu.Unlock()

	if err != nil {
		s.log.WithError(err).Warn("restaurant document push failed")
		return
	}
	s.log.WithField("items", len(doc.Inventory)).Debug("restaurant document pushed")
}

// retryPush repeats a failed push unless a newer one is already scheduled.
func (s *Syncer) retryPush() {
	s.statusMu.Lock()
	failed := s.lastPushError != ""
	s.statusMu.Unlock()
	if failed && !s.debouncer.Pending() {
		s.push()
	}
}

func (s *Syncer) subscribeLoop(ctx context.Context) {
	backoff := minBackoff
	for {
		delivered := false
		s.setSubscribed(true)
		err := s.store.SubscribeRestaurant(ctx, s.restaurantID, func(doc domain.RestaurantDocument) {
			delivered = true
			s.onRemote(ctx, doc)
		})
		s.setSubscribed(false)
		if ctx.Err() != nil {
			return
		}
		if delivered {
			backoff = minBackoff
		}
		s.log.WithError(err).WithField("retry_in", backoff.String()).Warn("restaurant subscription ended")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *Syncer) onRemote(ctx context.Context, doc domain.RestaurantDocument) {
	result, err := s.local.ApplyRemote(ctx, doc)
	if err != nil {
		s.log.WithError(err).Warn("apply remote snapshot failed")
		return
	}
	s.metrics.Reconciled(result.Decision)

	at := s.now().UTC()
	s.statusMu.Lock()
	s.lastRemoteAt = &at
	s.lastDecision = result.Decision
	s.statusMu.Unlock()
}

func (s *Syncer) setSubscribed(v bool) {
	s.statusMu.Lock()
	s.subscribed = v
	s.statusMu.Unlock()
}

// RecordOrder writes the order to the local outbox and wakes the drain
// loop. Once it returns nil the order will reach the remote store
// eventually.
func (s *Syncer) RecordOrder(ctx context.Context, order domain.Order) error {
	if err := s.outbox.EnqueueOrder(ctx, order, s.now().UTC()); err != nil {
		return err
	}
	select {
	case s.kick <- struct{}{}:
	default:
	}
	return nil
}

func (s *Syncer) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	drain := func() {
		drainCtx, cancel := context.WithTimeout(ctx, remoteTimeout)
		defer cancel()
		if err := s.Drain(drainCtx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Warn("order outbox drain incomplete")
		}
	}

	drain()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			drain()
			s.retryPush()
		case <-s.kick:
			drain()
		}
	}
}

// Drain delivers pending orders oldest first and stops at the first
// remote failure. Each order's daily rollup is applied only if this
// process inserted it.
func (s *Syncer) Drain(ctx context.Context) error {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	pending, err := s.outbox.PendingOrders(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if remaining, err := s.outbox.PendingOrders(context.Background()); err == nil {
			s.metrics.OutboxPending(len(remaining))
		}
	}()

	for _, entry := range pending {
		err := s.deliver(ctx, &entry)
		s.metrics.OutboxDrained(err)
		if errors.Is(err, store.ErrInvalidDocument) {
			s.log.WithField("order_id", entry.Order.ID).Error("dropping undeliverable order from outbox")
			if ackErr := s.outbox.AckOrder(ctx, entry.Order.ID); ackErr != nil {
				return ackErr
			}
			continue
		}
		if err != nil {
			entry.Attempts++
			entry.LastError = err.Error()
			if updateErr := s.outbox.UpdatePending(ctx, entry); updateErr != nil {
				s.log.WithError(updateErr).Warn("update outbox entry failed")
			}
			return err
		}
		if err := s.outbox.AckOrder(ctx, entry.Order.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) deliver(ctx context.Context, entry *domain.PendingOrder) error {
	if !entry.Appended {
		inserted, err := s.store.AppendOrder(ctx, s.restaurantID, entry.Order)
		if err != nil {
			return err
		}
		entry.Appended = true
		if !inserted {
			return nil
		}
		if err := s.outbox.UpdatePending(ctx, *entry); err != nil {
			return err
		}
	}

	_, err := s.store.IncrementDaily(ctx, s.restaurantID, domain.DailyAnalytics{
		Date:         entry.Order.Date,
		TotalOrders:  1,
		TotalRevenue: entry.Order.Total,
		ItemsSold:    int64(entry.Order.ItemCount()),
		LastUpdated:  s.now().UTC(),
	})
	return err
}

// LogStockChange appends a stock log remotely. Failures are only logged.
func (s *Syncer) LogStockChange(ctx context.Context, entry domain.StockLog) {
	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()
	if err := s.store.AppendStockLog(ctx, s.restaurantID, entry); err != nil {
		s.log.WithError(err).WithField("item", entry.ItemName).Warn("stock log write failed")
	}
}

func (s *Syncer) ListOrders(ctx context.Context, from time.Time, to time.Time) ([]domain.Order, error) {
	return s.store.ListOrders(ctx, s.restaurantID, from, to)
}

func (s *Syncer) Daily(ctx context.Context, date string) (*domain.DailyAnalytics, error) {
	return s.store.GetDaily(ctx, s.restaurantID, date)
}

func (s *Syncer) Status(ctx context.Context) domain.SyncStatus {
	status := domain.SyncStatus{Backend: s.backend}
	if pending, err := s.outbox.PendingOrders(ctx); err == nil {
		status.PendingOrders = len(pending)
	}

	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	status.LastPushAt = s.lastPushAt
	status.LastPushError = s.lastPushError
	status.LastRemoteAt = s.lastRemoteAt
	status.LastReconcile = s.lastDecision
	status.Subscribed = s.subscribed
	return status
}
