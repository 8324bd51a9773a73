package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultCatalog(t *testing.T) {
	cat, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "Kitchen Alert Restaurant", cat.Restaurant)
	require.Len(t, cat.Items, 17)

	menu := cat.Menu()
	assert.Equal(t, "Tea", menu[0].Name)
	assert.Equal(t, int64(10), menu[0].Price)
	assert.Equal(t, "Meals", menu[16].Name)
	assert.Equal(t, int64(70), menu[16].Price)

	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	inv := cat.Inventory(now)
	tea := inv["Tea"]
	assert.Equal(t, 100, tea.CurrentStock)
	assert.Equal(t, "cups", tea.Unit)
	assert.Equal(t, 20, tea.LowThreshold)
	assert.Equal(t, 5, tea.CriticalThreshold)
	assert.Equal(t, now, tea.LastRestocked)
	assert.Equal(t, "plates", inv["Idly (Plate)"].Unit)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "menu.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
restaurant: Test Kitchen
items:
  - name: Lassi
    price: 35
    category: Beverages
    stock: 12
    unit: glasses
    low: 4
    critical: 1
`), 0o600))

	cat, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cat.Items, 1)
	assert.Equal(t, "Lassi", cat.Items[0].Name)
}

func TestParseRejectsDuplicates(t *testing.T) {
	_, err := Parse([]byte(`
items:
  - {name: Tea, price: 10, stock: 1}
  - {name: Tea, price: 12, stock: 1}
`))
	assert.ErrorIs(t, err, ErrInvalidCatalog)
}

func TestParseTrimsNamesBeforeDuplicateCheck(t *testing.T) {
	_, err := Parse([]byte(`
items:
  - {name: "Tea ", price: 10, stock: 1}
  - {name: Tea, price: 12, stock: 1}
`))
	assert.ErrorIs(t, err, ErrInvalidCatalog)

	cat, err := Parse([]byte(`
items:
  - {name: "  Lassi ", price: 35, category: " Beverages", stock: 4, unit: "glasses "}
`))
	require.NoError(t, err)
	assert.Equal(t, "Lassi", cat.Items[0].Name)
	assert.Equal(t, "Beverages", cat.Menu()[0].Category)
	assert.Contains(t, cat.Inventory(time.Now()), "Lassi")
	assert.Equal(t, "glasses", cat.Inventory(time.Now())["Lassi"].Unit)
}

func TestParseRejectsZeroPrice(t *testing.T) {
	_, err := Parse([]byte(`
items:
  - {name: Water, price: 0, stock: 1}
`))
	assert.ErrorIs(t, err, ErrInvalidCatalog)
}
