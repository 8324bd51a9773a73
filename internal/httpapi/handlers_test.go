package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kitchenalert/backend/internal/catalog"
	"kitchenalert/backend/internal/device"
	"kitchenalert/backend/internal/domain"
	"kitchenalert/backend/internal/localstore"
	"kitchenalert/backend/internal/logging"
	"kitchenalert/backend/internal/metrics"
	"kitchenalert/backend/internal/service"
)

const testPIN = "482915"

// newTestAPI builds a full API over an in-memory mirror, a real AuthManager
// and a real Service whose kitchen device always accepts orders.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	kitchen := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(kitchen.Close)

	cat, err := catalog.Parse([]byte(`
restaurant: Test Kitchen
items:
  - {name: Tea, price: 10, category: Beverages, stock: 100, unit: cups, low: 20, critical: 5}
  - {name: Dosa, price: 40, category: Tiffin/Meals, stock: 2, unit: pieces, low: 1, critical: 1}
`))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}

	log := logging.Component(logging.Discard(), "test")
	mirror := localstore.NewMirror(localstore.NewMemoryKV())
	_, err = mirror.SeedUsers(context.Background(), []domain.UserAccount{
		{Username: "manager", Password: mustHashPassword(t, "manager123"), Role: domain.RoleManager, Active: true},
		{Username: "counter", Password: mustHashPassword(t, "counter123"), Role: domain.RoleStaff, Active: true},
	})
	if err != nil {
		t.Fatalf("seed users: %v", err)
	}

	svc, err := service.New(context.Background(), cat, mirror, device.New(time.Second, log), service.Options{
		Location:      time.UTC,
		DeviceAddress: strings.TrimPrefix(kitchen.URL, "http://"),
		Log:           log,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go svc.Run(ctx)

	auth := NewAuthManager("test-secret-key-for-handlers-0123456789", time.Hour, testPIN, mirror)
	return New(svc, auth, Options{AllowedOrigin: "*", Metrics: metrics.New(), Log: log})
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func login(t *testing.T, handler http.Handler, username string, password string) string {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("expected security headers, got %v", rec.Header())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "manager",
		"password": "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	handler := newTestAPI(t).Handler()

	payload, _ := json.Marshal(map[string]string{"username": "manager", "password": "badpass"})
	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}
	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestHandleMenu_RequiresAuth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/menu", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestPlaceOrderFlow(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "counter", "counter123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/cart/items", token, domain.CartUpdateRequest{TerminalID: "t1", Item: "Tea", Delta: 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 adding to cart, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders", token, domain.PlaceOrderRequest{TerminalID: "t1", Table: 4})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var order domain.Order
	if err := json.NewDecoder(rec.Body).Decode(&order); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if order.Total != 30 || order.Table != 4 {
		t.Fatalf("unexpected order %+v", order)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/inventory", token, nil)
	var view domain.InventoryView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode inventory: %v", err)
	}
	for _, item := range view.Items {
		if item.Name == "Tea" && item.CurrentStock != 97 {
			t.Fatalf("expected Tea stock 97, got %d", item.CurrentStock)
		}
	}
}

func TestUpdateCart_InsufficientStock(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "counter", "counter123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/cart/items", token, domain.CartUpdateRequest{TerminalID: "t1", Item: "Dosa", Delta: 3})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (%s)", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["available"] != float64(2) || body["unit"] != "pieces" {
		t.Fatalf("expected stock details, got %v", body)
	}
}

func TestManagerRoutes(t *testing.T) {
	handler := newTestAPI(t).Handler()
	staff := login(t, handler, "counter", "counter123")
	manager := login(t, handler, "manager", "manager123")

	item := domain.MenuItemCreateRequest{Name: "Juice", Price: 30, Stock: 10, Unit: "glasses", LowThreshold: 3, CriticalThreshold: 1}
	if rec := doJSON(t, handler, http.MethodPost, "/api/v1/menu", staff, item); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff, got %d", rec.Code)
	}
	if rec := doJSON(t, handler, http.MethodPost, "/api/v1/menu", manager, item); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, handler, http.MethodPost, "/api/v1/menu", manager, item); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", rec.Code)
	}

	if rec := doJSON(t, handler, http.MethodDelete, "/api/v1/menu/Juice", manager, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without pin, got %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/menu/Juice", nil)
	req.Header.Set("Authorization", "Bearer "+manager)
	req.Header.Set(managerPINHeader, testPIN)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 with pin, got %d (%s)", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/menu/Juice", nil)
	req.Header.Set("Authorization", "Bearer "+manager)
	req.Header.Set(managerPINHeader, testPIN)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 removing twice, got %d", rec.Code)
	}
}

func TestStaffAccounts(t *testing.T) {
	handler := newTestAPI(t).Handler()
	manager := login(t, handler, "manager", "manager123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/users/staff", manager, domain.StaffCreateRequest{Username: "ab", Password: "pass1234"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short username, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/users/staff", manager, domain.StaffCreateRequest{Username: "night1", Password: "pass1234"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	login(t, handler, "night1", "pass1234")

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/users/staff", manager, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 listing staff, got %d", rec.Code)
	}
	var listed struct {
		Users []domain.StaffUser `json:"users"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatalf("decode staff list: %v", err)
	}
	if len(listed.Users) != 2 {
		t.Fatalf("expected counter and night1 only, got %+v", listed.Users)
	}
	for _, user := range listed.Users {
		if user.Role != domain.RoleStaff {
			t.Fatalf("manager listed as staff: %+v", user)
		}
	}
}

func TestAnalytics(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "counter", "counter123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/analytics?period=custom&start=2024-05-10&end=2024-05-01", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted range, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/analytics?period=month", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var report domain.AnalyticsReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Source != "local" || report.PeakHour != -1 {
		t.Fatalf("unexpected empty report %+v", report)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/inventory/export.csv", token, nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("expected csv export, got %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	handler := newTestAPI(t).Handler()
	doJSON(t, handler, http.MethodGet, "/healthz", "", nil)

	rec := doJSON(t, handler, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "kitchenalert_http_request_duration_seconds") {
		t.Fatalf("expected http duration series in metrics output")
	}
}
