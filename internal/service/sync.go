package service

import (
	"context"
	"fmt"

	"kitchenalert/backend/internal/domain"
	"kitchenalert/backend/internal/realtime"
	"kitchenalert/backend/internal/remotesync"
)

// Snapshot returns the document to push. Its stamp is remembered so that
// later local writes are always stamped after it.
func (s *Service) Snapshot(ctx context.Context) (domain.RestaurantDocument, error) {
	var doc domain.RestaurantDocument
	err := s.do(ctx, func() error {
		stamp := s.clock()
		if stamp.Before(s.lastLocalUpdate) {
			stamp = s.lastLocalUpdate
		}
		s.lastPushStamp = stamp
		doc = domain.RestaurantDocument{
			Name:        s.restaurantName,
			LastUpdated: &stamp,
			Inventory:   s.ledger.Snapshot(),
			MenuItems:   s.menuPrices(),
		}
		return nil
	})
	return doc, err
}

// ApplyRemote reconciles a remote snapshot into local state. An accepted
// remote inventory is saved locally but not pushed back.
func (s *Service) ApplyRemote(ctx context.Context, doc domain.RestaurantDocument) (remotesync.Result, error) {
	var (
		result remotesync.Result
		view   domain.InventoryView
		menu   []domain.MenuItem
	)
	err := s.do(ctx, func() error {
		result = remotesync.Reconcile(s.lastLocalUpdate, s.menuPrices(), s.removed, doc)

		if result.ReplaceInventory {
			s.ledger.Replace(result.Inventory)
			if result.RemoteUpdated != nil && result.RemoteUpdated.After(s.lastLocalUpdate) {
				s.lastLocalUpdate = result.RemoteUpdated.In(s.loc)
			}
			if err := s.mirror.SaveInventory(ctx, s.ledger.Snapshot(), s.lastLocalUpdate); err != nil {
				return fmt.Errorf("save remote inventory: %w", err)
			}
			s.recordStockLevels()
		}

		if len(result.AddedMenu) > 0 {
			for name, price := range result.AddedMenu {
				category := defaultCategory
				if rec, ok := s.ledger.Record(name); ok && rec.Category != "" {
					category = rec.Category
				}
				s.addToMenu(domain.MenuItem{Name: name, Price: price, Category: category, Custom: true})
			}
			if err := s.mirror.SaveCustomMenu(ctx, s.customItems()); err != nil {
				return fmt.Errorf("save custom menu: %w", err)
			}
			menu = s.menuSnapshot()
		}

		view = s.inventoryView()
		return nil
	})
	if err != nil {
		return remotesync.Result{}, err
	}

	if result.ReplaceInventory {
		s.hub.Broadcast(realtime.EventInventoryUpdate, view)
	}
	if menu != nil {
		s.hub.Broadcast(realtime.EventMenuUpdate, menu)
	}
	return result, nil
}

// SyncStatus reports replication health plus the local update stamp.
func (s *Service) SyncStatus(ctx context.Context) (domain.SyncStatus, error) {
	status := s.replicator.Status(ctx)
	err := s.do(ctx, func() error {
		if !s.lastLocalUpdate.IsZero() {
			at := s.lastLocalUpdate
			status.LocalUpdatedAt = &at
		}
		return nil
	})
	return status, err
}
