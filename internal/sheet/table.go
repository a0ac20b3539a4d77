// Package sheet reads tabular spreadsheet data (XLSX and CSV) into header-addressed rows.
package sheet

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Options selects what to read from a spreadsheet file.
type Options struct {
	Sheet       string // XLSX sheet name; ignored for CSV
	CSVEncoding string // charset of CSV files; default utf-8
}

// Table is a spreadsheet with its header row split off.
type Table struct {
	Header []string
	Rows   []Row
	cols   map[string]int
}

// Row is one data row addressed by header name. Line is the 1-based line
// number in the source file, header included.
type Row struct {
	Line  int
	cells []string
	cols  map[string]int
}

// Open reads path (by extension: .xlsx or .csv) and builds a Table.
func Open(ctx context.Context, path string, opts Options) (*Table, error) {
	var (
		records [][]string
		err     error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx", ".xlsm":
		records, err = ReadXLSX(path, XLSXOptions{SheetName: opts.Sheet})
	case ".csv", ".txt":
		records, err = ReadCSV(ctx, path, opts.CSVEncoding)
	default:
		return nil, eris.Errorf("sheet: unsupported file type %q", ext)
	}
	if err != nil {
		return nil, err
	}
	return NewTable(records)
}

// NewTable builds a Table from raw records; the first non-empty record is the
// header. Header names are trimmed but matched case-sensitively. Fully empty
// data rows are dropped.
func NewTable(records [][]string) (*Table, error) {
	start := 0
	for start < len(records) && isBlank(records[start]) {
		start++
	}
	if start == len(records) {
		return nil, eris.New("sheet: no header row")
	}

	header := make([]string, len(records[start]))
	cols := make(map[string]int, len(header))
	for i, h := range records[start] {
		h = strings.TrimSpace(h)
		header[i] = h
		if h == "" {
			continue
		}
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}

	t := &Table{Header: header, cols: cols}
	for i := start + 1; i < len(records); i++ {
		if isBlank(records[i]) {
			continue
		}
		t.Rows = append(t.Rows, Row{Line: i + 1, cells: records[i], cols: cols})
	}
	return t, nil
}

// Missing returns the names in want that are not columns of the table.
func (t *Table) Missing(want ...string) []string {
	var missing []string
	for _, name := range want {
		if _, ok := t.cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Get returns the cell under column name, or "" when the column is absent or
// the row is short.
func (r Row) Get(name string) string {
	idx, ok := r.cols[name]
	if !ok || idx >= len(r.cells) {
		return ""
	}
	return r.cells[idx]
}

// RowFromMap builds a standalone Row from column/value pairs.
func RowFromMap(line int, values map[string]string) Row {
	cols := make(map[string]int, len(values))
	cells := make([]string, 0, len(values))
	for name, v := range values {
		cols[name] = len(cells)
		cells = append(cells, v)
	}
	return Row{Line: line, cells: cells, cols: cols}
}

func isBlank(record []string) bool {
	for _, c := range record {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
