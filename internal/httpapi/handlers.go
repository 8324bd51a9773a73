package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"kitchenalert/backend/internal/domain"
)

func (a *API) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(c *gin.Context) {
	if !a.loginLimiter.Allow(c.ClientIP()) {
		writeError(c, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(c, &req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(ctxOf(c), req)
	if err != nil {
		writeError(c, http.StatusUnauthorized, err)
		return
	}
	writeJSON(c, http.StatusOK, resp)
}

func (a *API) handleWebSocket(c *gin.Context) {
	if a.hub == nil {
		writeError(c, http.StatusServiceUnavailable, errors.New("realtime updates disabled"))
		return
	}
	a.hub.ServeWS(c.Writer, c.Request, actorOf(c).Role)
}

func (a *API) handleMenu(c *gin.Context) {
	items, err := a.service.Menu(ctxOf(c))
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"items": items})
}

func (a *API) handleAddMenuItem(c *gin.Context) {
	var req domain.MenuItemCreateRequest
	if err := decodeJSON(c, &req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	item, err := a.service.AddMenuItem(ctxOf(c), req)
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, item)
}

func (a *API) handleRemoveMenuItem(c *gin.Context) {
	if err := a.service.RemoveMenuItem(ctxOf(c), c.Param("name")); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleCart(c *gin.Context) {
	view, err := a.service.Cart(ctxOf(c), c.Query("terminal_id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, view)
}

func (a *API) handleUpdateCart(c *gin.Context) {
	var req domain.CartUpdateRequest
	if err := decodeJSON(c, &req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.UpdateCart(ctxOf(c), req)
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, view)
}

func (a *API) handleClearCart(c *gin.Context) {
	if err := a.service.ClearCart(ctxOf(c), c.Query("terminal_id")); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handlePlaceOrder(c *gin.Context) {
	var req domain.PlaceOrderRequest
	if err := decodeJSON(c, &req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	order, err := a.service.PlaceOrder(ctxOf(c), req)
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, order)
}

func (a *API) handleHistory(c *gin.Context) {
	limit := parsePositiveLimit(c.Query("limit"), 100, 1000)
	orders, err := a.service.History(ctxOf(c), limit)
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": orders})
}

func (a *API) handleClearHistory(c *gin.Context) {
	if err := a.service.ClearHistory(ctxOf(c)); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleInventory(c *gin.Context) {
	view, err := a.service.Inventory(ctxOf(c))
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, view)
}

func (a *API) handleRestockList(c *gin.Context) {
	items, err := a.service.RestockList(ctxOf(c))
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"items": items})
}

func (a *API) handleTransactions(c *gin.Context) {
	txs, err := a.service.Transactions(ctxOf(c))
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"transactions": txs})
}

func (a *API) handleInventoryCSV(c *gin.Context) {
	var buf bytes.Buffer
	if err := a.service.ExportInventoryCSV(ctxOf(c), &buf); err != nil {
		a.fail(c, err)
		return
	}
	writeCSV(c, "inventory.csv", buf.Bytes())
}

func (a *API) handleAdjustStock(c *gin.Context) {
	var req domain.StockAdjustRequest
	if err := decodeJSON(c, &req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	item, err := a.service.AdjustStock(ctxOf(c), c.Param("name"), req)
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, item)
}

func (a *API) handleResetInventory(c *gin.Context) {
	view, err := a.service.ResetInventory(ctxOf(c))
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, view)
}

func (a *API) handleAnalytics(c *gin.Context) {
	report, err := a.service.Analytics(ctxOf(c), c.Query("period"), c.Query("start"), c.Query("end"))
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, report)
}

func (a *API) handleAnalyticsCSV(c *gin.Context) {
	period := c.DefaultQuery("period", "today")
	var buf bytes.Buffer
	if err := a.service.AnalyticsCSV(ctxOf(c), period, c.Query("start"), c.Query("end"), &buf); err != nil {
		a.fail(c, err)
		return
	}
	writeCSV(c, fmt.Sprintf("analytics-%s.csv", period), buf.Bytes())
}

func (a *API) handleDailyRollup(c *gin.Context) {
	daily, err := a.service.DailyRollup(ctxOf(c), c.Param("date"))
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, daily)
}

func (a *API) handleDailyRevenue(c *gin.Context) {
	now := time.Now()
	year, err := strconv.Atoi(c.DefaultQuery("year", strconv.Itoa(now.Year())))
	if err != nil {
		writeError(c, http.StatusBadRequest, errors.New("year must be a number"))
		return
	}
	month, err := strconv.Atoi(c.DefaultQuery("month", strconv.Itoa(int(now.Month()))))
	if err != nil {
		writeError(c, http.StatusBadRequest, errors.New("month must be a number"))
		return
	}
	days, err := a.service.DailyRevenue(ctxOf(c), year, time.Month(month))
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"year": year, "month": month, "days": days})
}

func (a *API) handleDevice(c *gin.Context) {
	cfg, err := a.service.Device(ctxOf(c))
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, cfg)
}

func (a *API) handleSetDevice(c *gin.Context) {
	var req domain.DeviceConfig
	if err := decodeJSON(c, &req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	cfg, err := a.service.SetDevice(ctxOf(c), req)
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, cfg)
}

func (a *API) handleTestDevice(c *gin.Context) {
	var req domain.DeviceConfig
	if c.Request.ContentLength > 0 {
		if err := decodeJSON(c, &req); err != nil {
			writeError(c, http.StatusBadRequest, err)
			return
		}
	}
	if err := a.service.TestDevice(ctxOf(c), req.Address); err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (a *API) handleSyncStatus(c *gin.Context) {
	status, err := a.service.SyncStatus(ctxOf(c))
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, status)
}

func (a *API) handleListStaff(c *gin.Context) {
	users, err := a.auth.ListStaff(ctxOf(c))
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"users": users})
}

func (a *API) handleCreateStaff(c *gin.Context) {
	var req domain.StaffCreateRequest
	if err := decodeJSON(c, &req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	user, err := a.auth.CreateStaff(ctxOf(c), req)
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, user)
}

func writeCSV(c *gin.Context, filename string, body []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", body)
}
