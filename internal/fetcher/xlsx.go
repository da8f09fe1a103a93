package fetcher

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions configures the XLSX record reader.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	HeaderRow  int    // zero-based index of the header row
}

// ReadXLSXRecords reads one sheet of an XLSX file and returns each data row
// below the header as a header-keyed map.
func ReadXLSXRecords(path string, opts XLSXOptions) ([]map[string]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	if opts.HeaderRow >= len(sheet.Rows) {
		return nil, nil
	}

	header := rowToStrings(sheet.Rows[opts.HeaderRow])
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}

	var records []map[string]string
	for _, row := range sheet.Rows[opts.HeaderRow+1:] {
		records = append(records, zipRecord(header, rowToStrings(row)))
	}

	return records, nil
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
