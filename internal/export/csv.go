package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

// csvHeader is the flat export's column order: the workbook's review columns
// prefixed with the product title.
var csvHeader = []string{"Product", "Reviewer Name", "Rating", "Date", "Review Text", "Helpful Votes"}

// FlattenCSV reads a workbook artifact and rewrites its product sheets as a
// single delimited file, one row per review. The summary sheet is skipped,
// and a malformed product sheet is skipped rather than failing the whole
// conversion. It returns the number of review rows written.
func (e *Exporter) FlattenCSV(xlsxPath, csvPath string) (int, error) {
	wb, err := excelize.OpenFile(xlsxPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer wb.Close()

	out, err := os.Create(csvPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create csv file: %w", err)
	}
	defer out.Close()

	w := csv.NewWriter(out)
	if err := w.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("failed to write csv header: %w", err)
	}

	written := 0
	for _, sheet := range wb.GetSheetList() {
		if sheet == summarySheet {
			continue
		}

		rows, err := wb.GetRows(sheet)
		if err != nil {
			e.logger.Warn("skipping unreadable sheet", "sheet", sheet, "error", err)
			continue
		}

		product, start := sheetReviews(rows)
		if start < 0 {
			e.logger.Warn("skipping malformed sheet", "sheet", sheet)
			continue
		}

		for _, row := range rows[start:] {
			if isEmptyRow(row) {
				continue
			}
			record := make([]string, 0, len(csvHeader))
			record = append(record, product)
			for i := 0; i < len(reviewHeader); i++ {
				record = append(record, cellAt(row, i))
			}
			if err := w.Write(record); err != nil {
				return written, fmt.Errorf("failed to write csv record: %w", err)
			}
			written++
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return written, fmt.Errorf("failed to flush csv: %w", err)
	}

	e.logger.Info("csv written", "path", csvPath, "rows", written)
	return written, nil
}

// sheetReviews locates the product title and the first review row. start is
// -1 when the sheet does not carry the expected header row.
func sheetReviews(rows [][]string) (product string, start int) {
	product = "Unknown Product"
	if len(rows) > 0 && len(rows[0]) > 1 && strings.TrimSpace(rows[0][1]) != "" {
		product = strings.TrimSpace(rows[0][1])
	}

	for i, row := range rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) == "Reviewer Name" {
				return product, i + 1
			}
		}
	}
	return product, -1
}

func cellAt(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
