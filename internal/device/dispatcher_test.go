package device

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kitchenalert/backend/internal/domain"
	"kitchenalert/backend/internal/logging"
)

func newTestDispatcher(timeout time.Duration) *Dispatcher {
	return New(timeout, logging.Component(logging.Discard(), "device"))
}

func sampleOrder() domain.Order {
	return domain.Order{
		ID:    "ord-1",
		Table: 7,
		Items: []domain.OrderLine{{Name: "Tea", Qty: 2}, {Name: "Dosa", Qty: 1}},
		Total: 60,
		Time:  "09:15 AM",
	}
}

func TestSendPostsPayload(t *testing.T) {
	var got domain.DevicePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/order", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	err := newTestDispatcher(time.Second).Send(context.Background(), srv.URL, sampleOrder())
	require.NoError(t, err)
	assert.Equal(t, domain.DevicePayload{
		Table: "7",
		Items: []domain.OrderLine{{Name: "Tea", Qty: 2}, {Name: "Dosa", Qty: 1}},
		Total: 60,
		Time:  "09:15 AM",
	}, got)
}

func TestSendFailsOnNon2xxWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := newTestDispatcher(time.Second).Send(context.Background(), strings.TrimPrefix(srv.URL, "http://"), sampleOrder())
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	err := newTestDispatcher(50*time.Millisecond).Send(context.Background(), srv.URL, sampleOrder())
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestSendWithoutAddress(t *testing.T) {
	err := newTestDispatcher(time.Second).Send(context.Background(), "  ", sampleOrder())
	assert.ErrorIs(t, err, ErrNoAddress)
}

func TestTestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/test" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}))
	defer srv.Close()

	d := newTestDispatcher(time.Second)
	require.NoError(t, d.TestConnection(context.Background(), srv.URL+"/"))

	srv.Close()
	assert.ErrorIs(t, d.TestConnection(context.Background(), srv.URL), ErrUnreachable)
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "192.168.1.50", NormalizeAddress(" http://192.168.1.50/ "))
	assert.Equal(t, "kitchen.local:8080", NormalizeAddress("kitchen.local:8080"))
}
