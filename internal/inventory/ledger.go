package inventory

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"kitchenalert/backend/internal/domain"
)

var (
	ErrNotTracked      = errors.New("item is not tracked in inventory")
	ErrInvalidQuantity = errors.New("quantity must not be negative")
)

// Ledger holds per-item stock. It is not safe for concurrent use; the
// service owns it from a single goroutine.
type Ledger struct {
	records domain.Inventory
}

func NewLedger(records domain.Inventory) *Ledger {
	if records == nil {
		records = make(domain.Inventory)
	}
	return &Ledger{records: records.Clone()}
}

func Classify(rec domain.InventoryRecord) domain.StockStatus {
	switch {
	case rec.CurrentStock <= 0:
		return domain.StockOut
	case rec.CurrentStock <= rec.CriticalThreshold:
		return domain.StockCritical
	case rec.CurrentStock <= rec.LowThreshold:
		return domain.StockLow
	default:
		return domain.StockOK
	}
}

// Status reports ok for untracked items.
func (l *Ledger) Status(name string) domain.StockStatus {
	rec, ok := l.records[name]
	if !ok {
		return domain.StockOK
	}
	return Classify(rec)
}

func (l *Ledger) IsAvailable(name string, qty int) bool {
	rec, ok := l.records[name]
	if !ok {
		return true
	}
	return rec.CurrentStock >= qty
}

func (l *Ledger) Record(name string) (domain.InventoryRecord, bool) {
	rec, ok := l.records[name]
	return rec, ok
}

func (l *Ledger) Tracked(name string) bool {
	_, ok := l.records[name]
	return ok
}

func (l *Ledger) Len() int {
	return len(l.records)
}

// Deduct subtracts each line from its tracked item, flooring at zero.
// Untracked items are skipped.
func (l *Ledger) Deduct(lines []domain.OrderLine) []domain.TransactionItem {
	applied := make([]domain.TransactionItem, 0, len(lines))
	for _, line := range lines {
		rec, ok := l.records[line.Name]
		if !ok || line.Qty <= 0 {
			continue
		}
		rec.CurrentStock -= line.Qty
		if rec.CurrentStock < 0 {
			rec.CurrentStock = 0
		}
		l.records[line.Name] = rec
		applied = append(applied, domain.TransactionItem{
			Name:       line.Name,
			Quantity:   line.Qty,
			StockAfter: rec.CurrentStock,
		})
	}
	return applied
}

func (l *Ledger) Add(name string, qty int, at time.Time) (domain.InventoryRecord, error) {
	if qty < 0 {
		return domain.InventoryRecord{}, ErrInvalidQuantity
	}
	rec, ok := l.records[name]
	if !ok {
		return domain.InventoryRecord{}, fmt.Errorf("%w: %s", ErrNotTracked, name)
	}
	rec.CurrentStock += qty
	rec.LastRestocked = at
	l.records[name] = rec
	return rec, nil
}

func (l *Ledger) Set(name string, qty int, at time.Time) (domain.InventoryRecord, error) {
	if qty < 0 {
		return domain.InventoryRecord{}, ErrInvalidQuantity
	}
	rec, ok := l.records[name]
	if !ok {
		return domain.InventoryRecord{}, fmt.Errorf("%w: %s", ErrNotTracked, name)
	}
	rec.CurrentStock = qty
	rec.LastRestocked = at
	l.records[name] = rec
	return rec, nil
}

// Remove takes qty off the item, flooring at zero.
func (l *Ledger) Remove(name string, qty int, at time.Time) (domain.InventoryRecord, error) {
	if qty < 0 {
		return domain.InventoryRecord{}, ErrInvalidQuantity
	}
	rec, ok := l.records[name]
	if !ok {
		return domain.InventoryRecord{}, fmt.Errorf("%w: %s", ErrNotTracked, name)
	}
	next := rec.CurrentStock - qty
	if next < 0 {
		next = 0
	}
	return l.Set(name, next, at)
}

func (l *Ledger) Track(name string, rec domain.InventoryRecord) {
	l.records[name] = rec
}

func (l *Ledger) Delete(name string) {
	delete(l.records, name)
}

// RestockList returns every item whose status is not ok, most urgent first.
func (l *Ledger) RestockList() []domain.RestockItem {
	items := make([]domain.RestockItem, 0)
	for name, rec := range l.records {
		status := Classify(rec)
		if status == domain.StockOK {
			continue
		}
		items = append(items, domain.RestockItem{
			Name:         name,
			CurrentStock: rec.CurrentStock,
			Status:       status,
			Unit:         rec.Unit,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if severityRank(items[i].Status) != severityRank(items[j].Status) {
			return severityRank(items[i].Status) < severityRank(items[j].Status)
		}
		return items[i].Name < items[j].Name
	})
	return items
}

func (l *Ledger) Stats() domain.InventoryStats {
	stats := domain.InventoryStats{TotalItems: len(l.records)}
	for _, rec := range l.records {
		switch Classify(rec) {
		case domain.StockOut:
			stats.Out++
		case domain.StockCritical:
			stats.Critical++
		case domain.StockLow:
			stats.Low++
		default:
			stats.InStock++
		}
	}
	return stats
}

// Items lists records sorted by category then name.
func (l *Ledger) Items() []domain.InventoryItem {
	items := make([]domain.InventoryItem, 0, len(l.records))
	for name, rec := range l.records {
		items = append(items, domain.InventoryItem{
			Name:            name,
			InventoryRecord: rec,
			Status:          Classify(rec),
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Category != items[j].Category {
			return items[i].Category < items[j].Category
		}
		return items[i].Name < items[j].Name
	})
	return items
}

func (l *Ledger) Snapshot() domain.Inventory {
	return l.records.Clone()
}

func (l *Ledger) Replace(records domain.Inventory) {
	if records == nil {
		records = make(domain.Inventory)
	}
	l.records = records.Clone()
}

func severityRank(status domain.StockStatus) int {
	switch status {
	case domain.StockOut:
		return 1
	case domain.StockCritical:
		return 2
	case domain.StockLow:
		return 3
	default:
		return 4
	}
}
