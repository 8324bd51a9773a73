package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"kitchenalert/backend/internal/analytics"
	"kitchenalert/backend/internal/cart"
	"kitchenalert/backend/internal/device"
	"kitchenalert/backend/internal/domain"
	"kitchenalert/backend/internal/inventory"
	"kitchenalert/backend/internal/localstore"
	"kitchenalert/backend/internal/metrics"
	"kitchenalert/backend/internal/realtime"
	"kitchenalert/backend/internal/service"
	"kitchenalert/backend/internal/store"
)

const (
	managerPINHeader = "X-Manager-PIN"
	maxBodyBytes     = 1 << 20
	actorKey         = "actor"
)

type Options struct {
	AllowedOrigin string
	Hub           *realtime.Hub
	Metrics       *metrics.Collector
	Log           *logrus.Entry
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	hub           *realtime.Hub
	metrics       *metrics.Collector
	log           *logrus.Entry
	allowedOrigin string
	loginLimiter  *ipLimiter
	pinLimiter    *ipLimiter
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &API{
		service:       svc,
		auth:          auth,
		hub:           opts.Hub,
		metrics:       opts.Metrics,
		log:           opts.Log,
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  newIPLimiter(rate.Every(12*time.Second), 5),
		pinLimiter:    newIPLimiter(rate.Every(7*time.Second), 8),
	}
}

// ipLimiter keeps one token bucket per client address.
type ipLimiter struct {
	mu       sync.Mutex
	every    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newIPLimiter(every rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{every: every, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (l *ipLimiter) Allow(key string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.every, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

func (a *API) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), a.withSecurityHeaders(), a.withRequestLog())

	router.GET("/healthz", a.handleHealth)
	router.GET("/metrics", gin.WrapH(a.metrics.Handler()))

	v1 := router.Group("/api/v1")
	v1.POST("/auth/login", a.handleLogin)
	v1.GET("/ws", a.requireAuth(domain.RoleManager, domain.RoleStaff), a.handleWebSocket)

	anyRole := v1.Group("", a.requireAuth(domain.RoleManager, domain.RoleStaff))
	manager := v1.Group("", a.requireAuth(domain.RoleManager))

	anyRole.GET("/menu", a.handleMenu)
	manager.POST("/menu", a.handleAddMenuItem)
	manager.DELETE("/menu/:name", a.requireManagerPIN(), a.handleRemoveMenuItem)

	anyRole.GET("/cart", a.handleCart)
	anyRole.POST("/cart/items", a.handleUpdateCart)
	anyRole.DELETE("/cart", a.handleClearCart)

	anyRole.POST("/orders", a.handlePlaceOrder)
	anyRole.GET("/orders", a.handleHistory)
	manager.DELETE("/orders", a.requireManagerPIN(), a.handleClearHistory)

	anyRole.GET("/inventory", a.handleInventory)
	anyRole.GET("/inventory/restock", a.handleRestockList)
	anyRole.GET("/inventory/transactions", a.handleTransactions)
	anyRole.GET("/inventory/export.csv", a.handleInventoryCSV)
	anyRole.POST("/inventory/:name/adjust", a.handleAdjustStock)
	manager.POST("/inventory/reset", a.requireManagerPIN(), a.handleResetInventory)

	anyRole.GET("/analytics", a.handleAnalytics)
	anyRole.GET("/analytics/export.csv", a.handleAnalyticsCSV)
	anyRole.GET("/analytics/daily/:date", a.handleDailyRollup)
	anyRole.GET("/analytics/daily-revenue", a.handleDailyRevenue)

	anyRole.GET("/device", a.handleDevice)
	manager.PUT("/device", a.handleSetDevice)
	anyRole.POST("/device/test", a.handleTestDevice)

	anyRole.GET("/sync/status", a.handleSyncStatus)

	manager.GET("/users/staff", a.handleListStaff)
	manager.POST("/users/staff", a.handleCreateStaff)

	return router
}

func (a *API) withSecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Access-Control-Allow-Origin", a.allowedOrigin)
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+managerPINHeader)
		h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		h.Set("Vary", "Origin")

		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (a *API) withRequestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		startedAt := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(startedAt)
		a.metrics.ObserveHTTP(c.Request.Method, route, strconv.Itoa(status), elapsed)
		a.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  status,
			"elapsed": elapsed.String(),
		}).Info("request")
	}
}

// requireAuth accepts a bearer token, or an access_token query parameter
// for WebSocket upgrades that cannot set headers.
func (a *API) requireAuth(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		authorization := strings.TrimSpace(c.GetHeader("Authorization"))
		if strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			token = strings.TrimSpace(authorization[len("Bearer "):])
		} else if c.FullPath() == "/api/v1/ws" {
			token = strings.TrimSpace(c.Query("access_token"))
		}
		if token == "" {
			writeError(c, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		actor, err := a.auth.Authenticate(token, roles...)
		if errors.Is(err, ErrRoleDenied) {
			writeError(c, http.StatusForbidden, err)
			return
		}
		if err != nil {
			writeError(c, http.StatusUnauthorized, err)
			return
		}

		c.Set(actorKey, actor)
		c.Request = c.Request.WithContext(service.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

// requireManagerPIN runs after requireAuth and steps the manager session up
// with the PIN header before a destructive operation.
func (a *API) requireManagerPIN() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.pinLimiter.Allow(c.ClientIP()) {
			writeError(c, http.StatusTooManyRequests, errors.New("too many pin attempts"))
			return
		}
		err := a.auth.StepUp(actorOf(c), c.GetHeader(managerPINHeader))
		switch {
		case errors.Is(err, ErrPINLocked):
			writeError(c, http.StatusTooManyRequests, err)
			return
		case err != nil:
			writeError(c, http.StatusForbidden, err)
			return
		}
		c.Next()
	}
}

func actorOf(c *gin.Context) domain.Actor {
	value, _ := c.Get(actorKey)
	actor, _ := value.(domain.Actor)
	return actor
}

func ctxOf(c *gin.Context) context.Context {
	return c.Request.Context()
}

func decodeJSON(c *gin.Context, dest any) error {
	decoder := json.NewDecoder(c.Request.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// errorStatus maps domain errors onto HTTP status codes.
func errorStatus(err error) int {
	var stockErr *cart.StockError
	switch {
	case errors.As(err, &stockErr), errors.Is(err, cart.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, cart.ErrEmptyCart),
		errors.Is(err, cart.ErrUnknownItem),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidTable),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, analytics.ErrInvalidRange),
		errors.Is(err, device.ErrNoAddress),
		errors.Is(err, ErrInvalidAccount):
		return http.StatusBadRequest
	case errors.Is(err, inventory.ErrNotTracked), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrDuplicateItem), errors.Is(err, service.ErrOrderInFlight),
		errors.Is(err, ErrUserExists), errors.Is(err, localstore.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, device.ErrUnreachable), errors.Is(err, device.ErrRejected):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(c *gin.Context, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		a.log.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
	}
	var stockErr *cart.StockError
	if errors.As(err, &stockErr) {
		c.AbortWithStatusJSON(status, gin.H{
			"error":     err.Error(),
			"item":      stockErr.Item,
			"available": stockErr.Available,
			"unit":      stockErr.Unit,
		})
		return
	}
	writeError(c, status, err)
}

// writeError hides 5xx details from clients; 4xx messages are user-facing.
func writeError(c *gin.Context, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = "internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func writeJSON(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}
