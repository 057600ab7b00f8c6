package tablecsv

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Content types of the export formats
const (
	ContentTypeCSV  = "text/csv; charset=utf-8"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ResultFileName names the export of a single result after its source document
func ResultFileName(sourceName string) string {
	base := strings.TrimSuffix(sourceName, extension(sourceName))
	if base == "" {
		base = "result"
	}
	return base + "_testcases.csv"
}

// CombinedFileName names the export holding every result of workflow
func CombinedFileName(workflow string, now time.Time) string {
	return fmt.Sprintf("%s_all_results_%s.csv", workflow, now.Format("20060102_150405"))
}

// XLSXName swaps the .csv extension of name for .xlsx
func XLSXName(name string) string {
	return strings.TrimSuffix(name, ".csv") + ".xlsx"
}

func extension(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[i:]
	}
	return ""
}

// Part is one CSV document of a combined export
type Part struct {
	Source string
	CSV    string
}

// Combine merges several CSV documents into one, prefixed with a Source
// column. The header is taken from the first readable part; parts that do
// not parse as CSV, such as the no-table message, are skipped.
func Combine(parts []Part) (string, error) {
	var headers []string
	var records [][]string

	for _, p := range parts {
		rows, err := Parse(p.CSV)
		if err != nil || len(rows) < 2 {
			continue
		}
		if headers == nil {
			headers = append([]string{"Source"}, rows[0]...)
		}
		for _, row := range rows[1:] {
			records = append(records, append([]string{p.Source}, row...))
		}
	}

	if headers == nil {
		return NoTableMessage, nil
	}
	return Encode(headers, records)
}

// Parse reads CSV text into rows; rows may differ in length
func Parse(text string) ([][]string, error) {
	if text == NoTableMessage {
		return nil, fmt.Errorf("no table")
	}
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	return r.ReadAll()
}

// ToXLSX re-encodes CSV text as an Excel workbook with a bold header row
func ToXLSX(text, sheet string) ([]byte, error) {
	rows, err := Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if sheet == "" {
		sheet = "Test Cases"
	}
	if len(sheet) > 31 {
		sheet = sheet[:31]
	}
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	wrap, err := f.NewStyle(&excelize.Style{Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"}})
	if err != nil {
		return nil, fmt.Errorf("failed to create style: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create style: %w", err)
	}

	width := 0
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
		if len(row) > width {
			width = len(row)
		}
	}

	if width > 0 {
		last, err := excelize.ColumnNumberToName(width)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(sheet, "A", last, 40); err != nil {
			return nil, err
		}
		end, _ := excelize.CoordinatesToCellName(width, len(rows))
		if err := f.SetCellStyle(sheet, "A1", end, wrap); err != nil {
			return nil, err
		}
		headerEnd, _ := excelize.CoordinatesToCellName(width, 1)
		if err := f.SetCellStyle(sheet, "A1", headerEnd, bold); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
