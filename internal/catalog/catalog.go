package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"kitchenalert/backend/internal/domain"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

var ErrInvalidCatalog = errors.New("invalid catalog")

type Item struct {
	Name     string `yaml:"name"`
	Price    int64  `yaml:"price"`
	Category string `yaml:"category"`
	Stock    int    `yaml:"stock"`
	Unit     string `yaml:"unit"`
	Low      int    `yaml:"low"`
	Critical int    `yaml:"critical"`
}

// Catalog is the fixed menu the restaurant starts from.
type Catalog struct {
	Restaurant string `yaml:"restaurant"`
	Items      []Item `yaml:"items"`
}

// Load reads a catalog file, or the embedded default when path is empty.
func Load(path string) (Catalog, error) {
	raw := defaultCatalog
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Catalog{}, fmt.Errorf("read catalog: %w", err)
		}
		raw = data
	}
	return Parse(raw)
}

func Parse(raw []byte) (Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	cat.normalize()
	if err := cat.validate(); err != nil {
		return Catalog{}, err
	}
	return cat, nil
}

// normalize trims names so padded YAML entries key the same as the menu.
func (c *Catalog) normalize() {
	c.Restaurant = strings.TrimSpace(c.Restaurant)
	for i := range c.Items {
		c.Items[i].Name = strings.TrimSpace(c.Items[i].Name)
		c.Items[i].Category = strings.TrimSpace(c.Items[i].Category)
		c.Items[i].Unit = strings.TrimSpace(c.Items[i].Unit)
	}
}

func (c Catalog) validate() error {
	if len(c.Items) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidCatalog)
	}
	seen := make(map[string]bool, len(c.Items))
	for _, item := range c.Items {
		name := item.Name
		if name == "" {
			return fmt.Errorf("%w: item without name", ErrInvalidCatalog)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate item %q", ErrInvalidCatalog, name)
		}
		if item.Price < 1 || item.Stock < 0 || item.Low < 0 || item.Critical < 0 {
			return fmt.Errorf("%w: item %q has invalid numbers", ErrInvalidCatalog, name)
		}
		seen[name] = true
	}
	return nil
}

// Menu returns the catalog items in declaration order.
func (c Catalog) Menu() []domain.MenuItem {
	menu := make([]domain.MenuItem, 0, len(c.Items))
	for _, item := range c.Items {
		menu = append(menu, domain.MenuItem{
			Name:     item.Name,
			Price:    item.Price,
			Category: item.Category,
		})
	}
	return menu
}

// Inventory returns the default stock records stamped at now.
func (c Catalog) Inventory(now time.Time) domain.Inventory {
	inv := make(domain.Inventory, len(c.Items))
	for _, item := range c.Items {
		inv[item.Name] = domain.InventoryRecord{
			CurrentStock:      item.Stock,
			Unit:              item.Unit,
			LowThreshold:      item.Low,
			CriticalThreshold: item.Critical,
			Category:          item.Category,
			LastRestocked:     now,
		}
	}
	return inv
}
