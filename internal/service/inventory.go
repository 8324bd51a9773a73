package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"kitchenalert/backend/internal/domain"
	"kitchenalert/backend/internal/events"
	"kitchenalert/backend/internal/inventory"
	"kitchenalert/backend/internal/realtime"
	"kitchenalert/backend/internal/xid"
)

func (s *Service) inventoryView() domain.InventoryView {
	return domain.InventoryView{
		Items: s.ledger.Items(),
		Stats: s.ledger.Stats(),
		Alert: s.ledger.RestockList(),
	}
}

func (s *Service) Inventory(ctx context.Context) (domain.InventoryView, error) {
	var view domain.InventoryView
	err := s.do(ctx, func() error {
		view = s.inventoryView()
		return nil
	})
	return view, err
}

func (s *Service) RestockList(ctx context.Context) ([]domain.RestockItem, error) {
	var items []domain.RestockItem
	err := s.do(ctx, func() error {
		items = s.ledger.RestockList()
		return nil
	})
	return items, err
}

// Transactions returns the local inventory transaction log, newest last.
func (s *Service) Transactions(ctx context.Context) ([]domain.InventoryTransaction, error) {
	return s.mirror.Transactions(ctx)
}

func (s *Service) ExportInventoryCSV(ctx context.Context, w io.Writer) error {
	var items []domain.InventoryItem
	if err := s.do(ctx, func() error {
		items = s.ledger.Items()
		return nil
	}); err != nil {
		return err
	}
	return inventory.WriteCSV(w, items)
}

// AdjustStock applies add, set or remove to one item. set accepts zero;
// add and remove need a positive quantity.
func (s *Service) AdjustStock(ctx context.Context, name string, req domain.StockAdjustRequest) (domain.InventoryItem, error) {
	name = strings.TrimSpace(name)
	action := strings.ToLower(strings.TrimSpace(req.Action))
	switch action {
	case domain.StockActionAdd, domain.StockActionRemove:
		if req.Quantity < 1 {
			return domain.InventoryItem{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
		}
	case domain.StockActionSet:
		if req.Quantity < 0 {
			return domain.InventoryItem{}, fmt.Errorf("%w: quantity must not be negative", ErrValidation)
		}
	default:
		return domain.InventoryItem{}, fmt.Errorf("%w: unknown action %q", ErrValidation, req.Action)
	}

	var (
		item    domain.InventoryItem
		restock []domain.RestockItem
	)
	err := s.do(ctx, func() error {
		now := s.clock()
		var (
			rec domain.InventoryRecord
			err error
		)
		switch action {
		case domain.StockActionAdd:
			rec, err = s.ledger.Add(name, req.Quantity, now)
		case domain.StockActionSet:
			rec, err = s.ledger.Set(name, req.Quantity, now)
		default:
			rec, err = s.ledger.Remove(name, req.Quantity, now)
		}
		if err != nil {
			return err
		}

		if err := s.persistInventory(ctx); err != nil {
			return err
		}
		txType := domain.TransactionAdjustment
		if action == domain.StockActionAdd {
			txType = domain.TransactionRestock
		}
		tx := domain.InventoryTransaction{
			ID:        xid.New("itx"),
			Timestamp: now,
			Type:      txType,
			Items:     []domain.TransactionItem{{Name: name, Quantity: req.Quantity, StockAfter: rec.CurrentStock}},
		}
		if err := s.mirror.AppendTransaction(ctx, tx); err != nil {
			return fmt.Errorf("append inventory transaction: %w", err)
		}

		item = domain.InventoryItem{Name: name, InventoryRecord: rec, Status: inventory.Classify(rec)}
		restock = s.ledger.RestockList()
		return nil
	})
	if err != nil {
		return domain.InventoryItem{}, err
	}

	s.replicator.LogStockChange(ctx, domain.StockLog{
		ID:        xid.New("log"),
		ItemName:  name,
		Action:    action,
		Quantity:  req.Quantity,
		NewStock:  item.CurrentStock,
		User:      actorName(ctx),
		Timestamp: item.LastRestocked,
	})
	s.log.WithFields(logrus.Fields{
		"item":      name,
		"action":    action,
		"quantity":  req.Quantity,
		"new_stock": item.CurrentStock,
	}).Info("stock adjusted")

	s.broadcastInventory(ctx)
	if item.Status != domain.StockOK {
		s.alertRestock(ctx, restock)
	}
	return item, nil
}

// ResetInventory restores catalog defaults. Custom items keep their records.
func (s *Service) ResetInventory(ctx context.Context) (domain.InventoryView, error) {
	if err := requireManager(ctx); err != nil {
		return domain.InventoryView{}, err
	}

	var view domain.InventoryView
	err := s.do(ctx, func() error {
		for name, rec := range s.catalog.Inventory(s.clock()) {
			if s.removed[name] {
				continue
			}
			s.ledger.Track(name, rec)
		}
		if err := s.persistInventory(ctx); err != nil {
			return err
		}
		view = s.inventoryView()
		return nil
	})
	if err != nil {
		return domain.InventoryView{}, err
	}

	s.log.WithField("by", actorName(ctx)).Info("inventory reset to defaults")
	s.publish(ctx, events.KeyInventoryReset, view.Stats)
	s.hub.Broadcast(realtime.EventInventoryUpdate, view)
	return view, nil
}

func (s *Service) broadcastInventory(ctx context.Context) {
	view, err := s.Inventory(ctx)
	if err != nil {
		return
	}
	s.hub.Broadcast(realtime.EventInventoryUpdate, view)
}

// alertRestock is the alerting collaborator for items below threshold.
func (s *Service) alertRestock(ctx context.Context, items []domain.RestockItem) {
	if len(items) == 0 {
		return
	}
	s.hub.Broadcast(realtime.EventRestockAlert, items)
	s.publish(ctx, events.KeyRestockAlert, items)
}
