// Package database defines the storage-backend capability set that both
// the file-backed and relational implementations satisfy, plus the
// row/config types shared across them.
package database

import "context"

// Row is a single record, keyed by column name. All values are stored as
// strings; the query language has no notion of typed columns.
type Row map[string]string

// Database is the capability set a storage backend must provide. The file
// backend (database/file) and the relational backend (database/sql) both
// implement it, and everything above this layer — the query evaluator, the
// cache decorator, the HTTP handlers — depends only on this interface, never
// on a concrete backend type.
//
// Condition evaluation is intentionally NOT part of this interface: both
// backends return full row sets and the condition package applies the
// canonical left-fold match uniformly, so query results never depend on
// which backend answered them.
type Database interface {
	// Init creates or opens the underlying storage using columns as the
	// table's column structure. Calling Init on an already-initialized
	// database replaces its schema.
	Init(ctx context.Context, columns []string) error

	// Columns returns the table's current column structure, in order.
	Columns(ctx context.Context) ([]string, error)

	// Rows returns every row currently stored.
	Rows(ctx context.Context) ([]Row, error)

	// Insert appends a new row. len(values) must equal len(Columns()).
	Insert(ctx context.Context, values []string) error

	// Delete removes every row matching conditions (column -> exact value,
	// all must match) and reports how many rows were removed.
	Delete(ctx context.Context, conditions map[string]string) (int, error)

	// Update sets targetColumn to newValue on every row matching
	// conditions and reports how many rows were changed.
	Update(ctx context.Context, conditions map[string]string, targetColumn, newValue string) (int, error)

	// Close releases any resources (file handles, connections) held by the
	// backend.
	Close() error
}

// Config holds the settings needed to open a backend, independent of which
// concrete backend is selected. Fields not relevant to a given backend are
// left zero.
type Config struct {
	// Type selects the backend: "csv" for the file backend, or one of
	// "mysql", "postgres", "sqlite", "sqlserver" for the relational
	// backend's dialects.
	Type string

	// Path is the CSV file path, used only by the file backend.
	Path string

	// DSN is the driver-specific data source name, used only by the
	// relational backend.
	DSN string

	// Table is the relational table name, used only by the relational
	// backend.
	Table string
}
