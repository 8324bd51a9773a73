package analytics

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"kitchenalert/backend/internal/domain"
)

var reportHeader = []string{"period", "generatedAt", "orderId", "table", "timestamp", "time", "total", "items"}

// WriteReportCSV writes one row per order in the report.
func WriteReportCSV(w io.Writer, report domain.AnalyticsReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return err
	}

	generatedAt := report.GeneratedAt.UTC().Format(time.RFC3339)
	for _, order := range report.Orders {
		items := make([]string, 0, len(order.Items))
		for _, line := range order.Items {
			items = append(items, fmt.Sprintf("%s x%d", line.Name, line.Qty))
		}
		row := []string{
			report.Period,
			generatedAt,
			order.ID,
			strconv.Itoa(order.Table),
			order.Timestamp.UTC().Format(time.RFC3339),
			order.Time,
			strconv.FormatInt(order.Total, 10),
			strings.Join(items, "; "),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
