package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"kitchenalert/backend/internal/cart"
	"kitchenalert/backend/internal/device"
	"kitchenalert/backend/internal/domain"
	"kitchenalert/backend/internal/events"
	"kitchenalert/backend/internal/realtime"
	"kitchenalert/backend/internal/xid"
)

func (s *Service) cartFor(terminalID string) *cart.Cart {
	c, ok := s.carts[terminalID]
	if !ok {
		c = cart.New()
		s.carts[terminalID] = c
	}
	return c
}

func (s *Service) cartView(terminalID string) domain.CartView {
	c := s.cartFor(terminalID)
	return domain.CartView{TerminalID: terminalID, Lines: c.Lines(), Total: c.Total()}
}

func normalizeTerminal(terminalID string) (string, error) {
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		return "", fmt.Errorf("%w: terminal_id is required", ErrValidation)
	}
	return terminalID, nil
}

func (s *Service) Cart(ctx context.Context, terminalID string) (domain.CartView, error) {
	terminalID, err := normalizeTerminal(terminalID)
	if err != nil {
		return domain.CartView{}, err
	}
	var view domain.CartView
	err = s.do(ctx, func() error {
		view = s.cartView(terminalID)
		return nil
	})
	return view, err
}

// UpdateCart applies a quantity change. Increments are checked against
// the ledger using the prospective line total.
func (s *Service) UpdateCart(ctx context.Context, req domain.CartUpdateRequest) (domain.CartView, error) {
	terminalID, err := normalizeTerminal(req.TerminalID)
	if err != nil {
		return domain.CartView{}, err
	}

	var view domain.CartView
	err = s.do(ctx, func() error {
		if _, busy := s.inFlight[terminalID]; busy {
			return ErrOrderInFlight
		}
		c := s.cartFor(terminalID)
		if _, err := c.UpdateQuantity(req.Item, req.Delta, s.priceOf, s.ledger); err != nil {
			return err
		}
		view = s.cartView(terminalID)
		return nil
	})
	if errors.Is(err, cart.ErrInsufficientStock) {
		s.metrics.CartRejected("insufficient_stock")
	}
	if err != nil {
		return domain.CartView{}, err
	}

	s.hub.Broadcast(realtime.EventCartUpdate, view)
	return view, nil
}

func (s *Service) ClearCart(ctx context.Context, terminalID string) error {
	terminalID, err := normalizeTerminal(terminalID)
	if err != nil {
		return err
	}
	return s.do(ctx, func() error {
		if _, busy := s.inFlight[terminalID]; busy {
			return ErrOrderInFlight
		}
		s.cartFor(terminalID).Clear()
		return nil
	})
}

// PlaceOrder assembles the terminal's cart, sends it to the kitchen device
// and only after the device accepts it deducts stock and records the order.
// A device failure leaves the cart and the ledger untouched. The terminal's
// cart is locked from assembly until the order is committed or abandoned.
func (s *Service) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.Order, error) {
	terminalID, err := normalizeTerminal(req.TerminalID)
	if err != nil {
		return domain.Order{}, err
	}

	var (
		order   domain.Order
		address string
		orderID = xid.New("ord")
	)
	err = s.do(ctx, func() error {
		if _, busy := s.inFlight[terminalID]; busy {
			return ErrOrderInFlight
		}
		assembled, err := s.cartFor(terminalID).Assemble(orderID, req.Table, s.clock())
		if err != nil {
			return err
		}
		address = device.NormalizeAddress(req.DeviceAddress)
		if address == "" {
			address = s.deviceAddress
		}
		if address == "" {
			return device.ErrNoAddress
		}
		order = assembled
		s.inFlight[terminalID] = orderID
		return nil
	})
	if err != nil {
		// The claim may have been taken after ctx gave up waiting.
		s.release(terminalID, orderID)
		return domain.Order{}, err
	}

	sendErr := s.device.Send(ctx, address, order)
	s.metrics.DeviceDispatch(sendErr)
	if sendErr != nil {
		s.release(terminalID, orderID)
		s.log.WithError(sendErr).WithFields(logrus.Fields{"order_id": order.ID, "device": address}).Warn("order not sent to kitchen")
		return domain.Order{}, sendErr
	}

	// The kitchen has the ticket now; finish recording even if the caller goes away.
	commitCtx := context.WithoutCancel(ctx)
	var restock []domain.RestockItem
	err = s.do(commitCtx, func() error {
		delete(s.inFlight, terminalID)
		moved := s.ledger.Deduct(order.Items)
		s.cartFor(terminalID).Clear()

		if err := s.persistInventory(commitCtx); err != nil {
			return err
		}
		if err := s.mirror.AppendHistory(commitCtx, order); err != nil {
			return fmt.Errorf("append order history: %w", err)
		}
		if len(moved) > 0 {
			tx := domain.InventoryTransaction{
				ID:        xid.New("itx"),
				Timestamp: order.Timestamp,
				Type:      domain.TransactionOrder,
				Items:     moved,
			}
			if err := s.mirror.AppendTransaction(commitCtx, tx); err != nil {
				return fmt.Errorf("append inventory transaction: %w", err)
			}
		}
		restock = s.ledger.RestockList()
		return nil
	})
	if err != nil {
		s.release(terminalID, orderID)
		return domain.Order{}, err
	}

	s.orderSeq.Add(1)
	s.metrics.OrderPlaced(order.Total)
	if err := s.replicator.RecordOrder(commitCtx, order); err != nil {
		s.log.WithError(err).WithField("order_id", order.ID).Error("order could not be queued for remote store")
	}

	s.log.WithFields(logrus.Fields{
		"order_id": order.ID,
		"table":    order.Table,
		"total":    order.Total,
		"items":    order.ItemCount(),
	}).Info("order placed")

	s.publish(commitCtx, events.KeyOrderPlaced, order)
	s.hub.Broadcast(realtime.EventOrderPlaced, order)
	s.broadcastInventory(commitCtx)
	s.alertRestock(commitCtx, restock)
	return order, nil
}

// release drops the terminal's in-flight claim if orderID still holds it.
func (s *Service) release(terminalID string, orderID string) {
	_ = s.do(context.Background(), func() error {
		if s.inFlight[terminalID] == orderID {
			delete(s.inFlight, terminalID)
		}
		return nil
	})
}

// History returns the local order history, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]domain.Order, error) {
	orders, err := s.mirror.History(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(orders))
	for i := len(orders) - 1; i >= 0; i-- {
		out = append(out, orders[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Service) ClearHistory(ctx context.Context) error {
	if err := requireManager(ctx); err != nil {
		return err
	}
	if err := s.mirror.ClearHistory(ctx); err != nil {
		return err
	}
	s.orderSeq.Add(1)
	s.log.WithField("by", actorName(ctx)).Info("order history cleared")
	return nil
}
