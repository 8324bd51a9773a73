package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersTrackOutcomes(t *testing.T) {
	c := New()

	c.OrderPlaced(30)
	c.OrderPlaced(45)
	c.DeviceDispatch(nil)
	c.DeviceDispatch(errors.New("timeout"))
	c.DeviceDispatch(errors.New("refused"))
	c.OutboxPending(3)
	c.StockLevel("Tea", 97)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.ordersPlaced))
	assert.Equal(t, 75.0, testutil.ToFloat64(c.orderRevenue))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deviceDispatches.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.deviceDispatches.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.outboxPending))
	assert.Equal(t, 97.0, testutil.ToFloat64(c.stockLevel.WithLabelValues("Tea")))

	c.ForgetItem("Tea")
	assert.Equal(t, 0, testutil.CollectAndCount(c.stockLevel))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.OrderPlaced(10)
	c.SyncPush(nil)
	c.Reconciled("applied")
	c.ObserveHTTP("GET", "/healthz", "200", time.Millisecond)
}

func TestHandlerExposesRegistry(t *testing.T) {
	c := New()
	c.CartRejected("insufficient_stock")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `kitchenalert_cart_rejections_total{reason="insufficient_stock"} 1`))
}
