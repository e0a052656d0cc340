// Package file implements the file-backed storage backend: an in-memory
// table whose rows are periodically flushed to a CSV file on disk.
package file

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/rowdb/rowdb/database"
)

// Database is a CSV-backed table held in memory. All mutation methods mark
// the table dirty; Flush writes the dirty table back to disk and is called
// by the batched write consumer rather than after every mutation.
type Database struct {
	path string

	mu      sync.Mutex
	columns []string
	rows    []database.Row
	dirty   bool
}

// Open reads path into memory. A missing file is not an error: Init creates
// the table's column structure on first use, matching the original
// prototype's behavior of tolerating an absent CSV file until data exists.
func Open(path string) (*Database, error) {
	db := &Database{path: path}
	columns, rows, err := readCSV(path)
	if err != nil && !os.IsNotExist(err) {
		slog.Error("file: failed to read CSV", "path", path, "err", err)
		return nil, &database.BackendError{Op: "open", Err: err}
	}
	db.columns = columns
	db.rows = rows
	return db, nil
}

// Init sets the table's column structure. If the file backend already holds
// rows, they are discarded, matching "calling Init again replaces the
// schema" from the Database interface contract.
func (d *Database) Init(ctx context.Context, columns []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.columns = append([]string(nil), columns...)
	d.rows = nil
	d.dirty = true
	return nil
}

func (d *Database) Columns(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.columns...), nil
}

func (d *Database) Rows(ctx context.Context) ([]database.Row, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]database.Row, len(d.rows))
	for i, r := range d.rows {
		out[i] = cloneRow(r)
	}
	return out, nil
}

func (d *Database) Insert(ctx context.Context, values []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(values) != len(d.columns) {
		return &database.SchemaError{Reason: fmt.Sprintf("expected %d values, got %d", len(d.columns), len(values))}
	}
	row := make(database.Row, len(d.columns))
	for i, col := range d.columns {
		row[col] = values[i]
	}
	d.rows = append(d.rows, row)
	d.dirty = true
	return nil
}

func (d *Database) Delete(ctx context.Context, conditions map[string]string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.rows[:0:0]
	deleted := 0
	for _, row := range d.rows {
		if matchesAll(row, conditions) {
			deleted++
			continue
		}
		kept = append(kept, row)
	}
	d.rows = kept
	if deleted > 0 {
		d.dirty = true
	}
	return deleted, nil
}

func (d *Database) Update(ctx context.Context, conditions map[string]string, targetColumn, newValue string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	updated := 0
	for _, row := range d.rows {
		if matchesAll(row, conditions) {
			row[targetColumn] = newValue
			updated++
		}
	}
	if updated > 0 {
		d.dirty = true
	}
	return updated, nil
}

// Flush writes the in-memory table to disk if it has been modified since
// the last Flush. It is meant to be called by the batched write consumer
// under the service's write lock, not after every individual mutation.
func (d *Database) Flush(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.dirty {
		return nil
	}
	if err := writeCSV(d.path, d.columns, d.rows); err != nil {
		slog.Error("file: failed to write CSV", "path", d.path, "err", err)
		return &database.BackendError{Op: "flush", Err: err}
	}
	d.dirty = false
	return nil
}

func (d *Database) Close() error {
	return nil
}

func matchesAll(row database.Row, conditions map[string]string) bool {
	for k, v := range conditions {
		if row[k] != v {
			return false
		}
	}
	return true
}

func cloneRow(r database.Row) database.Row {
	out := make(database.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func readCSV(path string) ([]string, []database.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	var rows []database.Row
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		row := make(database.Row, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

func writeCSV(path string, columns []string, rows []database.Row) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return err
	}
	for _, row := range rows {
		record := make([]string, len(columns))
		for i, col := range columns {
			record[i] = row[col]
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
