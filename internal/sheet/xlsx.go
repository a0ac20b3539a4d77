package sheet

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/consultator/internal/model"
)

// XLSXOptions configures the XLSX reader.
type XLSXOptions struct {
	SheetName string // default: first sheet of the workbook
}

// ReadXLSX reads one sheet of an XLSX file and returns all rows as string slices.
// Date cells are rendered as YYYY-MM-DD so they do not depend on the workbook's
// display format.
func ReadXLSX(path string, opts XLSXOptions) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		rows = append(rows, rowToStrings(row, f.Date1904))
	}

	return rows, nil
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName == "" {
		if len(f.Sheets) == 0 {
			return nil, eris.New("xlsx: workbook has no sheets")
		}
		return f.Sheets[0], nil
	}
	sheet, ok := f.Sheet[opts.SheetName]
	if !ok {
		return nil, eris.Errorf("xlsx: sheet %q not found (available: %s)",
			opts.SheetName, strings.Join(sheetNames(f), ", "))
	}
	return sheet, nil
}

// sheetNames lists the sheets of f in workbook order.
func sheetNames(f *xlsx.File) []string {
	names := make([]string, 0, len(f.Sheets))
	for _, s := range f.Sheets {
		names = append(names, s.Name)
	}
	return names
}

func rowToStrings(row *xlsx.Row, date1904 bool) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cellString(cell, date1904)
	}
	return cells
}

func cellString(cell *xlsx.Cell, date1904 bool) string {
	if cell == nil {
		return ""
	}
	if cell.Type() == xlsx.CellTypeNumeric && cell.IsTime() {
		if t, err := cell.GetTime(date1904); err == nil {
			return t.Format(model.DateLayout)
		}
	}
	if cell.Type() == xlsx.CellTypeNumeric {
		// Raw value avoids display formats such as "1 234,00 €".
		if v, err := strconv.ParseFloat(cell.Value, 64); err == nil {
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return cell.String()
}
