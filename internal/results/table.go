// Package results collects per-image measurements as ordered tables and
// writes them as CSV.
package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

// Row is one ordered record. Field order is the column order used when the
// row starts a new file.
type Row struct {
	keys   []string
	values map[string]string
}

// NewRow returns a row holding the given key/value pairs in order. An odd
// trailing key gets an empty value.
func NewRow(kv ...string) Row {
	r := Row{values: make(map[string]string)}
	for i := 0; i < len(kv); i += 2 {
		v := ""
		if i+1 < len(kv) {
			v = kv[i+1]
		}
		r.Set(kv[i], v)
	}
	return r
}

// RowFromMap returns a row with the map's keys in sorted order.
func RowFromMap(m map[string]string) Row {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	r := Row{values: make(map[string]string, len(m))}
	for _, k := range keys {
		r.Set(k, m[k])
	}
	return r
}

// Set stores value under key, appending key if it is new.
func (r *Row) Set(key, value string) {
	if r.values == nil {
		r.values = make(map[string]string)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value stored under key.
func (r Row) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the row's keys in insertion order.
func (r Row) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Table is a results table with columns in first-seen order.
type Table struct {
	columns []string
	known   map[string]bool
	rows    []Row
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{known: make(map[string]bool)}
}

// AddRow appends r, adding any new columns at the end.
func (t *Table) AddRow(r Row) {
	for _, k := range r.keys {
		if !t.known[k] {
			t.known[k] = true
			t.columns = append(t.columns, k)
		}
	}
	t.rows = append(t.rows, r)
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Rows returns the rows in insertion order.
func (t *Table) Rows() []Row {
	return append([]Row(nil), t.rows...)
}

// Reset removes all rows and columns.
func (t *Table) Reset() {
	t.columns = nil
	t.known = make(map[string]bool)
	t.rows = nil
}

// Records returns the header followed by one record per row. Cells of
// columns a row does not have are empty.
func (t *Table) Records() [][]string {
	out := make([][]string, 0, len(t.rows)+1)
	out = append(out, t.Columns())
	for _, r := range t.rows {
		rec := make([]string, len(t.columns))
		for i, c := range t.columns {
			rec[i] = r.values[c]
		}
		out = append(out, rec)
	}
	return out
}

// WriteCSV writes the header and all rows to w.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(t.Records()); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return nil
}

// AppendCSV appends rows to the CSV file at path. A new or empty file gets a
// header taken from the first row's keys. Rows are written in the order of
// the file's header, so keys missing from it are dropped.
func AppendCSV(path string, rows ...Row) error {
	if len(rows) == 0 {
		return nil
	}

	writeHeader := false
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		writeHeader = true
	case err != nil:
		return fmt.Errorf("failed to stat %s: %w", path, err)
	case info.Size() == 0:
		writeHeader = true
	}

	header := rows[0].keys
	if !writeHeader {
		if header, err = readHeader(path); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if writeHeader {
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	for _, r := range rows {
		rec := make([]string, len(header))
		for i, k := range header {
			rec[i] = r.values[k]
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	return header, nil
}

// ReadCSV parses CSV data with a header line into a table.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}

	t := NewTable()
	if len(records) == 0 {
		return t, nil
	}
	header := records[0]
	for _, rec := range records[1:] {
		row := Row{values: make(map[string]string, len(header))}
		for i, k := range header {
			v := ""
			if i < len(rec) {
				v = rec[i]
			}
			row.Set(k, v)
		}
		t.AddRow(row)
	}
	// A header without rows still defines the columns.
	for _, k := range header {
		if !t.known[k] {
			t.known[k] = true
			t.columns = append(t.columns, k)
		}
	}
	return t, nil
}
