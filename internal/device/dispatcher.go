package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"kitchenalert/backend/internal/domain"
)

var (
	ErrNoAddress   = errors.New("kitchen device address is not configured")
	ErrUnreachable = errors.New("kitchen device unreachable")
	ErrRejected    = errors.New("kitchen device rejected the request")
)

const defaultTimeout = 5 * time.Second

// Dispatcher delivers orders to the kitchen display. Every call is a
// single attempt; retrying is left to the caller.
type Dispatcher struct {
	client  *http.Client
	timeout time.Duration
	log     *logrus.Entry
}

func New(timeout time.Duration, log *logrus.Entry) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		log:     log,
	}
}

func PayloadFor(order domain.Order) domain.DevicePayload {
	return domain.DevicePayload{
		Table: strconv.Itoa(order.Table),
		Items: order.Items,
		Total: order.Total,
		Time:  order.Time,
	}
}

// Send POSTs the order to http://{address}/order.
func (d *Dispatcher) Send(ctx context.Context, address string, order domain.Order) error {
	body, err := json.Marshal(PayloadFor(order))
	if err != nil {
		return err
	}
	target, err := endpoint(address, "/order")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if err := d.do(req); err != nil {
		d.log.WithError(err).WithFields(logrus.Fields{"order_id": order.ID, "address": address}).Warn("order dispatch failed")
		return err
	}
	d.log.WithFields(logrus.Fields{"order_id": order.ID, "table": order.Table}).Info("order sent to kitchen")
	return nil
}

// TestConnection issues GET http://{address}/test.
func (d *Dispatcher) TestConnection(ctx context.Context, address string) error {
	target, err := endpoint(address, "/test")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}

	if err := d.do(req); err != nil {
		d.log.WithError(err).WithField("address", address).Warn("device test failed")
		return err
	}
	return nil
}

func (d *Dispatcher) do(req *http.Request) error {
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	d.log.WithField("response", strings.TrimSpace(string(snippet))).Debug("device response")
	return nil
}

// NormalizeAddress strips any scheme and trailing slash the operator typed.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	address = strings.TrimPrefix(address, "http://")
	address = strings.TrimPrefix(address, "https://")
	return strings.TrimRight(address, "/")
}

func endpoint(address string, path string) (string, error) {
	host := NormalizeAddress(address)
	if host == "" {
		return "", ErrNoAddress
	}
	return "http://" + host + path, nil
}
