// Package export renders report projections as downloadable workbooks.
package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/spec-kit/lab-status-service/internal/domain"
)

// ContentTypeXLSX is the media type of the generated workbook.
const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ReportHeader lists the exported columns in order.
var ReportHeader = []string{
	"Service Ticket",
	"Check Date",
	"Room",
	"PC",
	"Status",
	"Issues",
	"Fixed On",
	"Fixed By",
	"Recorded By",
}

var columnWidths = []float64{32, 22, 12, 8, 14, 36, 22, 22, 22}

const timeLayout = "2006-01-02 15:04:05"

// SheetName returns the worksheet title for a view.
func SheetName(view domain.ReportView) string {
	if view == domain.ReportViewAudit {
		return "Audit"
	}
	return "Current Status"
}

// ReportWorkbook renders rows into an XLSX workbook with a styled header row.
func ReportWorkbook(view domain.ReportView, rows []domain.ReportRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := SheetName(view)
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for col, header := range ReportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return nil, fmt.Errorf("set header %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("style header %s: %w", cell, err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(sheet, name, name, columnWidths[col]); err != nil {
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		values := []interface{}{
			string(row.ServiceTicketID),
			formatTime(&row.CheckDate),
			row.RoomID,
			row.PCNumber,
			row.DisplayStatus,
			strings.Join(row.Issues, ", "),
			formatTime(row.FixedOn),
			row.FixedBy,
			row.RecordedBy,
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// FileName suggests a download name such as lab-status-current-20250310.xlsx.
func FileName(view domain.ReportView, at time.Time) string {
	return fmt.Sprintf("lab-status-%s-%s.xlsx", view, at.UTC().Format("20060102"))
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}
