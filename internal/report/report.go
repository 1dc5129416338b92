// Package report composes a document and its match result into the
// downloadable plagiarism report.
package report

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"plagiscan/internal/models"
)

// Report is the display payload for one completed document.
type Report struct {
	ReportTitle string             `json:"reportTitle"`
	GeneratedAt time.Time          `json:"generatedAt"`
	Document    Document           `json:"document"`
	Result      models.MatchResult `json:"result"`
}

type Document struct {
	Name       string    `json:"name"`
	UploadDate time.Time `json:"uploadDate"`
}

// Build composes the report for job and its result.
func Build(job models.Job, result models.MatchResult, generatedAt time.Time) Report {
	return Report{
		ReportTitle: "Plagiarism Report for " + job.Name,
		GeneratedAt: generatedAt,
		Document: Document{
			Name:       job.Name,
			UploadDate: job.UploadedAt,
		},
		Result: result.Clone(),
	}
}

const (
	summarySheet  = "Summary"
	segmentsSheet = "Segments"
)

// XLSX renders the report as a workbook with a summary sheet and one row
// per matched segment.
func (r Report) XLSX() ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	summary := [][]any{
		{"Report", r.ReportTitle},
		{"Generated", r.GeneratedAt.UTC().Format(time.RFC3339)},
		{"Document", r.Document.Name},
		{"Uploaded", r.Document.UploadDate.UTC().Format(time.RFC3339)},
		{"Similarity (%)", r.Result.Similarity},
		{"Matched segments", len(r.Result.MatchedSegments)},
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write summary: %w", err)
		}
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 20)
	_ = f.SetColWidth(summarySheet, "B", "B", 48)

	if _, err := f.NewSheet(segmentsSheet); err != nil {
		return nil, fmt.Errorf("add segments sheet: %w", err)
	}
	headers := []string{"#", "Sentence", "Similarity (%)", "Matched With"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(segmentsSheet, cell, h)
	}
	for i, seg := range r.Result.MatchedSegments {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(segmentsSheet, cell, v)
		}
		write(1, i+1)
		write(2, seg.Text)
		write(3, seg.Similarity)
		write(4, seg.MatchedWith)
	}
	_ = f.SetColWidth(segmentsSheet, "B", "B", 80)
	_ = f.SetColWidth(segmentsSheet, "D", "D", 48)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}
