package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"kitchenalert/backend/internal/domain"
	"kitchenalert/backend/internal/inventory"
	"kitchenalert/backend/internal/realtime"
)

func (s *Service) Menu(ctx context.Context) ([]domain.MenuItem, error) {
	var items []domain.MenuItem
	err := s.do(ctx, func() error {
		items = s.menuSnapshot()
		return nil
	})
	return items, err
}

func (s *Service) AddMenuItem(ctx context.Context, req domain.MenuItemCreateRequest) (domain.MenuItem, error) {
	if err := requireManager(ctx); err != nil {
		return domain.MenuItem{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Unit = strings.TrimSpace(req.Unit)
	if req.Category == "" {
		req.Category = defaultCategory
	}
	if req.Name == "" || req.Unit == "" {
		return domain.MenuItem{}, fmt.Errorf("%w: name and unit are required", ErrValidation)
	}
	if req.Price < 1 || req.Stock < 1 || req.LowThreshold < 1 || req.CriticalThreshold < 1 {
		return domain.MenuItem{}, fmt.Errorf("%w: price, stock and thresholds must be positive", ErrValidation)
	}

	item := domain.MenuItem{Name: req.Name, Price: req.Price, Category: req.Category, Custom: true}
	var menu []domain.MenuItem
	err := s.do(ctx, func() error {
		if _, exists := s.menu[item.Name]; exists {
			return ErrDuplicateItem
		}

		s.addToMenu(item)
		delete(s.removed, item.Name)
		s.ledger.Track(item.Name, domain.InventoryRecord{
			CurrentStock:      req.Stock,
			Unit:              req.Unit,
			LowThreshold:      req.LowThreshold,
			CriticalThreshold: req.CriticalThreshold,
			Category:          req.Category,
			LastRestocked:     s.clock(),
		})

		if err := s.mirror.SaveCustomMenu(ctx, s.customItems()); err != nil {
			return fmt.Errorf("save custom menu: %w", err)
		}
		if err := s.mirror.SaveRemoved(ctx, s.removedNames()); err != nil {
			return fmt.Errorf("save removed items: %w", err)
		}
		if err := s.persistInventory(ctx); err != nil {
			return err
		}
		menu = s.menuSnapshot()
		return nil
	})
	if err != nil {
		return domain.MenuItem{}, err
	}

	s.log.WithField("item", item.Name).Info("menu item added")
	s.hub.Broadcast(realtime.EventMenuUpdate, menu)
	s.broadcastInventory(ctx)
	return item, nil
}

// RemoveMenuItem deletes the item from the menu, the ledger and every cart.
// The removal is remembered locally so remote merges do not restore it.
func (s *Service) RemoveMenuItem(ctx context.Context, name string) error {
	if err := requireManager(ctx); err != nil {
		return err
	}
	name = strings.TrimSpace(name)

	var menu []domain.MenuItem
	err := s.do(ctx, func() error {
		if _, ok := s.menu[name]; !ok {
			return fmt.Errorf("%w: %s", inventory.ErrNotTracked, name)
		}

		s.dropFromMenu(name)
		s.ledger.Delete(name)
		for _, c := range s.carts {
			c.Remove(name)
		}
		s.removed[name] = true

		if err := s.mirror.SaveCustomMenu(ctx, s.customItems()); err != nil {
			return fmt.Errorf("save custom menu: %w", err)
		}
		if err := s.mirror.SaveRemoved(ctx, s.removedNames()); err != nil {
			return fmt.Errorf("save removed items: %w", err)
		}
		if err := s.persistInventory(ctx); err != nil {
			return err
		}
		menu = s.menuSnapshot()
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.ForgetItem(name)
	s.log.WithFields(logrus.Fields{"item": name, "by": actorName(ctx)}).Info("menu item removed")
	s.hub.Broadcast(realtime.EventMenuUpdate, menu)
	s.broadcastInventory(ctx)
	return nil
}

func (s *Service) menuSnapshot() []domain.MenuItem {
	items := make([]domain.MenuItem, 0, len(s.menuNames))
	for _, name := range s.menuNames {
		items = append(items, s.menu[name])
	}
	return items
}
