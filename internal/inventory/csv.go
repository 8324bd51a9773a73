package inventory

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"kitchenalert/backend/internal/domain"
)

var csvHeader = []string{"item", "currentStock", "unit", "lowThreshold", "criticalThreshold", "category", "lastRestocked"}

// WriteCSV renders the inventory snapshot, one row per item.
func WriteCSV(w io.Writer, items []domain.InventoryItem) error {
	out := csv.NewWriter(w)
	if err := out.Write(csvHeader); err != nil {
		return err
	}
	for _, item := range items {
		restocked := ""
		if !item.LastRestocked.IsZero() {
			restocked = item.LastRestocked.UTC().Format(time.RFC3339)
		}
		row := []string{
			item.Name,
			strconv.Itoa(item.CurrentStock),
			item.Unit,
			strconv.Itoa(item.LowThreshold),
			strconv.Itoa(item.CriticalThreshold),
			item.Category,
			restocked,
		}
		if err := out.Write(row); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}
