package inventory

import (
	"bytes"
	"encoding/csv"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kitchenalert/backend/internal/domain"
)

var restockedAt = time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)

func newTestLedger() *Ledger {
	return NewLedger(domain.Inventory{
		"Tea":    {CurrentStock: 100, Unit: "cups", LowThreshold: 20, CriticalThreshold: 5, Category: "Beverages"},
		"Vada":   {CurrentStock: 12, Unit: "pieces", LowThreshold: 15, CriticalThreshold: 5, Category: "Snacks"},
		"Dosa":   {CurrentStock: 4, Unit: "pieces", LowThreshold: 15, CriticalThreshold: 5, Category: "Tiffin/Meals"},
		"Meals":  {CurrentStock: 0, Unit: "plates", LowThreshold: 8, CriticalThreshold: 2, Category: "Tiffin/Meals"},
		"Coffee": {CurrentStock: 21, Unit: "cups", LowThreshold: 20, CriticalThreshold: 5, Category: "Beverages"},
	})
}

func TestStatusThresholds(t *testing.T) {
	ledger := newTestLedger()

	assert.Equal(t, domain.StockOK, ledger.Status("Tea"))
	assert.Equal(t, domain.StockOK, ledger.Status("Coffee"))
	assert.Equal(t, domain.StockLow, ledger.Status("Vada"))
	assert.Equal(t, domain.StockCritical, ledger.Status("Dosa"))
	assert.Equal(t, domain.StockOut, ledger.Status("Meals"))
	assert.Equal(t, domain.StockOK, ledger.Status("Biryani"))
}

func TestStatusBoundaries(t *testing.T) {
	rec := domain.InventoryRecord{LowThreshold: 10, CriticalThreshold: 3}

	rec.CurrentStock = 10
	assert.Equal(t, domain.StockLow, Classify(rec))
	rec.CurrentStock = 3
	assert.Equal(t, domain.StockCritical, Classify(rec))
	rec.CurrentStock = 11
	assert.Equal(t, domain.StockOK, Classify(rec))
	rec.CurrentStock = -2
	assert.Equal(t, domain.StockOut, Classify(rec))
}

func TestIsAvailable(t *testing.T) {
	ledger := newTestLedger()

	assert.True(t, ledger.IsAvailable("Tea", 100))
	assert.False(t, ledger.IsAvailable("Tea", 101))
	assert.False(t, ledger.IsAvailable("Meals", 1))
	assert.True(t, ledger.IsAvailable("Biryani", 1000))
}

func TestDeductClampsAtZeroAndSkipsUntracked(t *testing.T) {
	ledger := newTestLedger()

	applied := ledger.Deduct([]domain.OrderLine{
		{Name: "Tea", Qty: 3},
		{Name: "Dosa", Qty: 9},
		{Name: "Biryani", Qty: 2},
	})

	rec, _ := ledger.Record("Tea")
	assert.Equal(t, 97, rec.CurrentStock)
	rec, _ = ledger.Record("Dosa")
	assert.Equal(t, 0, rec.CurrentStock)
	assert.False(t, ledger.Tracked("Biryani"))
	require.Len(t, applied, 2)
	assert.Equal(t, domain.TransactionItem{Name: "Dosa", Quantity: 9, StockAfter: 0}, applied[1])
}

func TestDeductNeverGoesNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ledger := newTestLedger()
	for i := 0; i < 500; i++ {
		ledger.Deduct([]domain.OrderLine{
			{Name: "Tea", Qty: rng.Intn(40)},
			{Name: "Vada", Qty: rng.Intn(40)},
		})
		for _, item := range ledger.Items() {
			if item.CurrentStock < 0 {
				t.Fatalf("stock for %s went negative: %d", item.Name, item.CurrentStock)
			}
		}
	}
}

func TestAddAndSetStampRestock(t *testing.T) {
	ledger := newTestLedger()

	rec, err := ledger.Add("Dosa", 10, restockedAt)
	require.NoError(t, err)
	assert.Equal(t, 14, rec.CurrentStock)
	assert.Equal(t, restockedAt, rec.LastRestocked)

	rec, err = ledger.Set("Tea", 0, restockedAt)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.CurrentStock)
	assert.Equal(t, domain.StockOut, ledger.Status("Tea"))
}

func TestMutationsOnMissingItem(t *testing.T) {
	ledger := newTestLedger()

	_, err := ledger.Add("Biryani", 5, restockedAt)
	assert.ErrorIs(t, err, ErrNotTracked)
	_, err = ledger.Set("Biryani", 5, restockedAt)
	assert.ErrorIs(t, err, ErrNotTracked)
	_, err = ledger.Remove("Biryani", 5, restockedAt)
	assert.ErrorIs(t, err, ErrNotTracked)
	assert.False(t, ledger.Tracked("Biryani"))
}

func TestNegativeQuantitiesRejected(t *testing.T) {
	ledger := newTestLedger()

	_, err := ledger.Set("Tea", -1, restockedAt)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = ledger.Add("Tea", -1, restockedAt)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestRemoveFloorsAtZero(t *testing.T) {
	ledger := newTestLedger()

	rec, err := ledger.Remove("Vada", 50, restockedAt)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.CurrentStock)
	assert.Equal(t, restockedAt, rec.LastRestocked)
}

func TestRestockListOrdersBySeverity(t *testing.T) {
	ledger := newTestLedger()

	list := ledger.RestockList()
	require.Len(t, list, 3)
	assert.Equal(t, domain.RestockItem{Name: "Meals", CurrentStock: 0, Status: domain.StockOut, Unit: "plates"}, list[0])
	assert.Equal(t, "Dosa", list[1].Name)
	assert.Equal(t, domain.StockCritical, list[1].Status)
	assert.Equal(t, "Vada", list[2].Name)
	assert.Equal(t, domain.StockLow, list[2].Status)
}

func TestStats(t *testing.T) {
	stats := newTestLedger().Stats()
	assert.Equal(t, domain.InventoryStats{TotalItems: 5, InStock: 2, Low: 1, Critical: 1, Out: 1}, stats)
}

func TestSnapshotIsIsolated(t *testing.T) {
	ledger := newTestLedger()
	snap := ledger.Snapshot()
	snap["Tea"] = domain.InventoryRecord{CurrentStock: 1}

	rec, _ := ledger.Record("Tea")
	assert.Equal(t, 100, rec.CurrentStock)

	ledger.Replace(snap)
	rec, _ = ledger.Record("Tea")
	assert.Equal(t, 1, rec.CurrentStock)
}

func TestWriteCSV(t *testing.T) {
	ledger := NewLedger(domain.Inventory{
		`Idly, "Plate"`: {CurrentStock: 5, Unit: "plates", LowThreshold: 10, CriticalThreshold: 3, Category: "Tiffin/Meals", LastRestocked: restockedAt},
	})

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, ledger.Items()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{`Idly, "Plate"`, "5", "plates", "10", "3", "Tiffin/Meals", "2024-05-10T09:30:00Z"}, rows[1])
}
