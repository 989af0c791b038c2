// File: internal/records/parsers.go
package records

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tealeg/xlsx/v3"
	"github.com/xuri/excelize/v2"
)

// ExcelizeParser is the primary workbook reader.
type ExcelizeParser struct {
	Sheet string
}

func NewExcelizeParser(sheet string) *ExcelizeParser { return &ExcelizeParser{Sheet: sheet} }

func (p *ExcelizeParser) Name() string { return "excelize" }

func (p *ExcelizeParser) Parse(path string) (Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := p.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(f.GetActiveSheetIndex())
	}
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return rows, nil
}

// XLSXParser is the secondary workbook reader.
type XLSXParser struct {
	Sheet string
}

func NewXLSXParser(sheet string) *XLSXParser { return &XLSXParser{Sheet: sheet} }

func (p *XLSXParser) Name() string { return "xlsx" }

func (p *XLSXParser) Parse(path string) (Table, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	if len(wb.Sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	if p.Sheet != "" {
		sh, ok := wb.Sheet[p.Sheet]
		if !ok {
			return nil, fmt.Errorf("sheet %q not found", p.Sheet)
		}
		return readXLSXSheet(sh)
	}

	// tealeg does not surface the active tab, so take the first sheet whose
	// header row names a whitelisted field. That is the sheet excelize would
	// have produced records from.
	var first Table
	for i, sh := range wb.Sheets {
		table, err := readXLSXSheet(sh)
		if err != nil {
			return nil, err
		}
		if hasKnownHeader(table) {
			return table, nil
		}
		if i == 0 {
			first = table
		}
	}
	return first, nil
}

func readXLSXSheet(sh *xlsx.Sheet) (Table, error) {
	defer sh.Close()

	var table Table
	err := sh.ForEachRow(func(r *xlsx.Row) error {
		var cells []string
		err := r.ForEachCell(func(c *xlsx.Cell) error {
			v, err := c.FormattedValue()
			if err != nil {
				v = c.Value
			}
			cells = append(cells, v)
			return nil
		})
		table = append(table, cells)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sh.Name, err)
	}
	return table, nil
}

// CSVParser reads delimited text. Tab separated input is detected from the
// file extension.
type CSVParser struct{}

func NewCSVParser() *CSVParser { return &CSVParser{} }

func (p *CSVParser) Name() string { return "csv" }

func (p *CSVParser) Parse(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.LazyQuotes = true
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		r.Comma = '\t'
	}

	var table Table
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		table = append(table, row)
	}
	return table, nil
}
