package engine

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/xuri/excelize/v2"
)

type (
	// Table is the in-memory form of tabular data flowing between the
	// merge, validate, and export steps. Columns preserve first-seen
	// order; rows index cell values by column name
	Table struct {
		Columns []string         `json:"columns"`
		Rows    []map[string]any `json:"rows"`
	}
)

const (
	// provenance columns stamped onto every merged row
	ColSourceFile  = "__file__"
	ColSourceSheet = "__sheet__"
)

var ErrUnsupportedTable = errors.New("unsupported table format")

// ReadTable parses file bytes into a Table based on the file extension.
// Spreadsheets contribute every sheet; each row is stamped with its
// sheet name under the provenance column
func ReadTable(name string, data []byte) (*Table, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv":
		return readCSV(data)
	case ".xlsx":
		return readXLSX(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTable, name)
	}
}

func readCSV(data []byte) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return fromRecords(records, ""), nil
}

func readXLSX(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer func() { _ = f.Close() }()

	res := &Table{}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		res.Append(fromRecords(rows, sheet), "")
	}
	return res, nil
}

// fromRecords builds a Table from raw string records. The first record
// is the header; blank header cells get positional names
func fromRecords(records [][]string, sheet string) *Table {
	res := &Table{}
	if len(records) == 0 {
		return res
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		h = normalizeColumn(h)
		if h == "" {
			h = fmt.Sprintf("col_%d", i+1)
		}
		header[i] = h
	}
	res.Columns = header
	for _, rec := range records[1:] {
		row := map[string]any{}
		for i, cell := range rec {
			if i >= len(header) {
				break
			}
			row[header[i]] = cell
		}
		if sheet != "" {
			row[ColSourceSheet] = sheet
			res.ensureColumn(ColSourceSheet)
		}
		res.Rows = append(res.Rows, row)
	}
	return res
}

func normalizeColumn(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (t *Table) ensureColumn(name string) {
	for _, c := range t.Columns {
		if c == name {
			return
		}
	}
	t.Columns = append(t.Columns, name)
}

// Append merges another table's rows into this one, unioning columns and
// stamping the source file provenance when fileName is non-empty
func (t *Table) Append(other *Table, fileName string) {
	for _, c := range other.Columns {
		t.ensureColumn(c)
	}
	if fileName != "" {
		t.ensureColumn(ColSourceFile)
	}
	for _, row := range other.Rows {
		if fileName != "" {
			copied := make(map[string]any, len(row)+1)
			for k, v := range row {
				copied[k] = v
			}
			copied[ColSourceFile] = fileName
			row = copied
		}
		t.Rows = append(t.Rows, row)
	}
}

// CSV renders the table with cells in column order
func (t *Table) CSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Columns); err != nil {
		return nil, err
	}
	rec := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, c := range t.Columns {
			rec[i] = cellString(row[c])
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// XLSX renders the table as a single-sheet spreadsheet
func (t *Table) XLSX() ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	header := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, row := range t.Rows {
		cells := make([]any, len(t.Columns))
		for j, c := range t.Columns {
			cells[j] = cellString(row[c])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return nil, err
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func cellString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
