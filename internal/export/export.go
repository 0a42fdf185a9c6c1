// Package export materializes scrape runs as multi-sheet spreadsheet
// artifacts and derives flat CSV exports from them.
package export

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/lfzhong/amazon-web-scrawler/internal/models"
)

const (
	summarySheet = "Summary"
	// headerRow is where the review header sits on a product sheet: rows 1-2
	// carry the product title and URL, row 3 is blank.
	headerRow = 4

	timestampLayout = "2006-01-02 15:04:05"
	filenameLayout  = "20060102_150405"
)

// reviewHeader is the fixed column order of every product sheet.
var reviewHeader = []string{"Reviewer Name", "Rating", "Date", "Review Text", "Helpful Votes"}

var keywordSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

// Aggregate merges per-product extraction results into a run-level report.
// TotalReviews is derived from the results so the totals invariant holds by
// construction.
func Aggregate(term string, results []models.ExtractionResult) *models.ScrapeRun {
	run := &models.ScrapeRun{
		ID:            uuid.New().String(),
		SearchTerm:    term,
		Timestamp:     time.Now(),
		Results:       results,
		TotalProducts: len(results),
	}
	for _, r := range results {
		run.TotalReviews += r.ReviewCount
	}
	return run
}

// Exporter writes run artifacts under a fixed directory.
type Exporter struct {
	dir    string
	logger *slog.Logger
}

func NewExporter(dir string, logger *slog.Logger) *Exporter {
	return &Exporter{
		dir:    dir,
		logger: logger.With("component", "export"),
	}
}

// Export materializes the run as an xlsx workbook: one summary sheet plus one
// sheet per product. The filename is derived from the search term and the
// run's timestamp so repeated runs never collide.
func (e *Exporter) Export(run *models.ScrapeRun) (*models.Artifact, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	filename := fmt.Sprintf("amazon_reviews_%s_%s.xlsx",
		sanitizeKeyword(run.SearchTerm), run.Timestamp.Format(filenameLayout))
	path := filepath.Join(e.dir, filename)

	if err := writeWorkbook(run, path); err != nil {
		return nil, err
	}

	artifact := &models.Artifact{
		ID:        uuid.New().String(),
		Path:      path,
		Filename:  filename,
		CreatedAt: run.Timestamp,
	}

	e.logger.Info("workbook written", "path", path, "products", run.TotalProducts, "reviews", run.TotalReviews)
	return artifact, nil
}

func writeWorkbook(run *models.ScrapeRun, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	setRow(f, summarySheet, 1, "Search Term", run.SearchTerm)
	setRow(f, summarySheet, 2, "Timestamp", run.Timestamp.Format(timestampLayout))
	setRow(f, summarySheet, 3, "Total Products", run.TotalProducts)
	setRow(f, summarySheet, 4, "Total Reviews", run.TotalReviews)
	setRow(f, summarySheet, 6, "Product", "Title", "URL", "Reviews", "Success")

	for i, result := range run.Results {
		setRow(f, summarySheet, 7+i,
			fmt.Sprintf("Product %d", i+1),
			result.Candidate.Title,
			result.Candidate.URL,
			result.ReviewCount,
			result.Success,
		)
	}

	for i, result := range run.Results {
		sheet := fmt.Sprintf("Product %d", i+1)
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("failed to create sheet %q: %w", sheet, err)
		}

		setRow(f, sheet, 1, "Product:", result.Candidate.Title)
		setRow(f, sheet, 2, "URL:", result.Candidate.URL)

		header := make([]interface{}, len(reviewHeader))
		for j, h := range reviewHeader {
			header[j] = h
		}
		setRow(f, sheet, headerRow, header...)

		for j, record := range result.Records {
			setRow(f, sheet, headerRow+1+j,
				record.Reviewer,
				cellOrEmpty(record.Rating),
				record.Date,
				record.Text,
				cellOrEmpty(record.HelpfulVotes),
			)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values ...interface{}) {
	cell, _ := excelize.CoordinatesToCellName(1, row)
	f.SetSheetRow(sheet, cell, &values)
}

// cellOrEmpty renders an optional integer field; absent stays a blank cell.
func cellOrEmpty(v *int) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func sanitizeKeyword(term string) string {
	s := keywordSanitizer.ReplaceAllString(strings.ToLower(strings.TrimSpace(term)), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "search"
	}
	return s
}
