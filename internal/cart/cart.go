package cart

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"kitchenalert/backend/internal/domain"
)

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrUnknownItem       = errors.New("item is not on the menu")
	ErrInvalidQuantity   = errors.New("quantity change must not be zero")
	ErrInvalidTable      = errors.New("table number must be at least 1")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// DisplayTimeLayout is the hh:mm AM/PM clock shown on tickets.
const DisplayTimeLayout = "03:04 PM"

// StockError reports a rejected increment. It matches ErrInsufficientStock.
type StockError struct {
	Item      string
	Requested int
	Available int
	Unit      string
}

func (e *StockError) Error() string {
	unit := e.Unit
	if unit == "" {
		unit = "units"
	}
	return fmt.Sprintf("only %d %s of %s available", e.Available, unit, e.Item)
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

// PriceLookup resolves the current menu price of an item.
type PriceLookup func(name string) (int64, bool)

// StockChecker is the read side of the stock ledger.
type StockChecker interface {
	IsAvailable(name string, qty int) bool
	Record(name string) (domain.InventoryRecord, bool)
}

// Cart holds in-progress order lines in insertion order. Not safe for
// concurrent use.
type Cart struct {
	lines map[string]*domain.CartLine
	order []string
}

func New() *Cart {
	return &Cart{lines: make(map[string]*domain.CartLine)}
}

// UpdateQuantity applies delta to the line for name and returns the new
// quantity. An increment that would exceed available stock is rejected
// and leaves the cart unchanged.
func (c *Cart) UpdateQuantity(name string, delta int, prices PriceLookup, stock StockChecker) (int, error) {
	name = strings.TrimSpace(name)
	if delta == 0 {
		return c.Quantity(name), ErrInvalidQuantity
	}

	line, exists := c.lines[name]
	current := 0
	if exists {
		current = line.Quantity
	}
	next := current + delta

	if delta > 0 {
		price, ok := prices(name)
		if !ok {
			return current, fmt.Errorf("%w: %s", ErrUnknownItem, name)
		}
		if stock != nil && !stock.IsAvailable(name, next) {
			stockErr := &StockError{Item: name, Requested: next}
			if rec, ok := stock.Record(name); ok {
				stockErr.Available = rec.CurrentStock
				stockErr.Unit = rec.Unit
			}
			return current, stockErr
		}
		if !exists {
			line = &domain.CartLine{Name: name, Price: price}
			c.lines[name] = line
			c.order = append(c.order, name)
		}
		line.Quantity = next
		return next, nil
	}

	if !exists {
		return 0, nil
	}
	if next <= 0 {
		c.Remove(name)
		return 0, nil
	}
	line.Quantity = next
	return next, nil
}

func (c *Cart) Quantity(name string) int {
	if line, ok := c.lines[name]; ok {
		return line.Quantity
	}
	return 0
}

func (c *Cart) Remove(name string) {
	if _, ok := c.lines[name]; !ok {
		return
	}
	delete(c.lines, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Cart) Clear() {
	c.lines = make(map[string]*domain.CartLine)
	c.order = nil
}

func (c *Cart) IsEmpty() bool {
	for _, line := range c.lines {
		if line.Quantity > 0 {
			return false
		}
	}
	return true
}

func (c *Cart) Lines() []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(c.order))
	for _, name := range c.order {
		line := c.lines[name]
		if line.Quantity <= 0 {
			continue
		}
		lines = append(lines, *line)
	}
	return lines
}

func (c *Cart) Total() int64 {
	var total int64
	for _, line := range c.Lines() {
		total += int64(line.Quantity) * line.Price
	}
	return total
}

// Assemble builds the order record for table. now must already be in the
// restaurant's time zone; the ledger is not touched.
func (c *Cart) Assemble(id string, table int, now time.Time) (domain.Order, error) {
	lines := c.Lines()
	if len(lines) == 0 {
		return domain.Order{}, ErrEmptyCart
	}
	if table < 1 {
		return domain.Order{}, ErrInvalidTable
	}

	items := make([]domain.OrderLine, 0, len(lines))
	var total int64
	for _, line := range lines {
		items = append(items, domain.OrderLine{Name: line.Name, Qty: line.Quantity})
		total += int64(line.Quantity) * line.Price
	}

	return domain.Order{
		ID:        id,
		Timestamp: now,
		Date:      now.Format("2006-01-02"),
		Time:      now.Format(DisplayTimeLayout),
		Hour:      now.Hour(),
		Table:     table,
		Items:     items,
		Total:     total,
	}, nil
}
