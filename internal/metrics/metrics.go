package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry. A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	ordersPlaced     prometheus.Counter
	orderRevenue     prometheus.Counter
	deviceDispatches *prometheus.CounterVec
	cartRejections   *prometheus.CounterVec
	syncPushes       *prometheus.CounterVec
	reconciles       *prometheus.CounterVec
	outboxPending    prometheus.Gauge
	outboxDrained    *prometheus.CounterVec
	stockLevel       *prometheus.GaugeVec
	httpDuration     *prometheus.HistogramVec
}

func New() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		ordersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kitchenalert_orders_placed_total",
			Help: "Orders accepted by the kitchen device and recorded",
		}),
		orderRevenue: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kitchenalert_order_revenue_total",
			Help: "Sum of placed order totals",
		}),
		deviceDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchenalert_device_dispatch_total",
			Help: "Kitchen device requests by outcome",
		}, []string{"outcome"}),
		cartRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchenalert_cart_rejections_total",
			Help: "Cart changes rejected by reason",
		}, []string{"reason"}),
		syncPushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchenalert_sync_push_total",
			Help: "Debounced pushes of the restaurant document by outcome",
		}, []string{"outcome"}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchenalert_sync_reconcile_total",
			Help: "Remote snapshots received by decision",
		}, []string{"decision"}),
		outboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kitchenalert_outbox_pending",
			Help: "Orders waiting to reach the remote store",
		}),
		outboxDrained: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchenalert_outbox_drained_total",
			Help: "Outbox delivery attempts by outcome",
		}, []string{"outcome"}),
		stockLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kitchenalert_stock_level",
			Help: "Current stock per tracked item",
		}, []string{"item"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kitchenalert_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.ordersPlaced,
		c.orderRevenue,
		c.deviceDispatches,
		c.cartRejections,
		c.syncPushes,
		c.reconciles,
		c.outboxPending,
		c.outboxDrained,
		c.stockLevel,
		c.httpDuration,
	)
	return c
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) OrderPlaced(total int64) {
	if c == nil {
		return
	}
	c.ordersPlaced.Inc()
	c.orderRevenue.Add(float64(total))
}

func (c *Collector) DeviceDispatch(err error) {
	if c == nil {
		return
	}
	c.deviceDispatches.WithLabelValues(outcome(err)).Inc()
}

func (c *Collector) CartRejected(reason string) {
	if c == nil {
		return
	}
	c.cartRejections.WithLabelValues(reason).Inc()
}

func (c *Collector) SyncPush(err error) {
	if c == nil {
		return
	}
	c.syncPushes.WithLabelValues(outcome(err)).Inc()
}

func (c *Collector) Reconciled(decision string) {
	if c == nil {
		return
	}
	c.reconciles.WithLabelValues(decision).Inc()
}

func (c *Collector) OutboxPending(n int) {
	if c == nil {
		return
	}
	c.outboxPending.Set(float64(n))
}

func (c *Collector) OutboxDrained(err error) {
	if c == nil {
		return
	}
	c.outboxDrained.WithLabelValues(outcome(err)).Inc()
}

func (c *Collector) StockLevel(item string, stock int) {
	if c == nil {
		return
	}
	c.stockLevel.WithLabelValues(item).Set(float64(stock))
}

// ForgetItem drops the stock series of a removed menu item.
func (c *Collector) ForgetItem(item string) {
	if c == nil {
		return
	}
	c.stockLevel.DeleteLabelValues(item)
}

func (c *Collector) ObserveHTTP(method string, route string, status string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.httpDuration.WithLabelValues(method, route, status).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
