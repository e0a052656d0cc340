package sql

import (
	"context"
	dbsql "database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"github.com/rowdb/rowdb/database"
	"github.com/rowdb/rowdb/util"
)

// schemaTable is a small bookkeeping table recording the ordered column list
// for the data table, since plain "SELECT *" column order and type
// introspection vary enough across dialects to make it simpler to just
// remember what Init declared.
const schemaTable = "rowdb_schema"

// Database is the relational storage backend. It is dialect-agnostic: all
// SQL it issues goes through the Dialect for placeholder and identifier
// syntax, and the table's columns are all stored as the dialect's generic
// string column type, matching the query language's untyped values.
type Database struct {
	db      *dbsql.DB
	dialect Dialect
	table   string
}

// Open connects to a relational database using cfg.Type to select the
// dialect and cfg.DSN as the driver's data source name.
func Open(ctx context.Context, cfg database.Config) (*Database, error) {
	dialect, err := DialectByName(cfg.Type)
	if err != nil {
		return nil, err
	}
	sqlDB, err := dbsql.Open(dialect.Driver(), cfg.DSN)
	if err != nil {
		return nil, &database.BackendError{Op: "open", Err: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, &database.BackendError{Op: "ping", Err: err}
	}
	querySQLServerInfo(ctx, sqlDB, dialect)

	table := cfg.Table
	if table == "" {
		table = "rowdb_data"
	}
	d := &Database{db: sqlDB, dialect: dialect, table: table}
	if err := d.ensureSchemaTable(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return d, nil
}

// querySQLServerInfo logs the connected server's version at debug level,
// mirroring the diagnostic logging a DBA would want on connect without
// affecting normal operation if it fails.
func querySQLServerInfo(ctx context.Context, db *dbsql.DB, dialect Dialect) {
	var version string
	if err := db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		slog.Debug("sql: could not query server version", "driver", dialect.Driver(), "err", err)
		return
	}
	slog.Debug("sql: connected", "driver", dialect.Driver(), "version", version)
}

func (d *Database) ensureSchemaTable(ctx context.Context) error {
	q := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s %s)",
		d.dialect.Quote(schemaTable), d.dialect.Quote("columns"), d.dialect.ColumnType())
	_, err := d.db.ExecContext(ctx, q)
	if err != nil {
		return &database.BackendError{Op: "create schema table", Err: err}
	}
	return nil
}

// Init drops and recreates the data table with the given columns, all typed
// as the dialect's generic string column.
func (d *Database) Init(ctx context.Context, columns []string) error {
	quotedCols := make([]string, len(columns))
	colDefs := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = d.dialect.Quote(c)
		colDefs[i] = fmt.Sprintf("%s %s", d.dialect.Quote(c), d.dialect.ColumnType())
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return &database.BackendError{Op: "init: begin", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", d.dialect.Quote(d.table))); err != nil {
		return &database.BackendError{Op: "init: drop table", Err: err}
	}
	createQuery := fmt.Sprintf("CREATE TABLE %s (%s)", d.dialect.Quote(d.table), strings.Join(colDefs, ", "))
	if _, err := tx.ExecContext(ctx, createQuery); err != nil {
		return &database.BackendError{Op: "init: create table", Err: err}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", d.dialect.Quote(schemaTable))); err != nil {
		return &database.BackendError{Op: "init: clear schema", Err: err}
	}
	insertSchema := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.dialect.Quote(schemaTable), d.dialect.Quote("columns"), d.dialect.Placeholder(1))
	if _, err := tx.ExecContext(ctx, insertSchema, strings.Join(columns, ",")); err != nil {
		return &database.BackendError{Op: "init: record schema", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &database.BackendError{Op: "init: commit", Err: err}
	}
	return nil
}

func (d *Database) Columns(ctx context.Context) ([]string, error) {
	q := fmt.Sprintf("SELECT %s FROM %s", d.dialect.Quote("columns"), d.dialect.Quote(schemaTable))
	var joined string
	if err := d.db.QueryRowContext(ctx, q).Scan(&joined); err != nil {
		if err == dbsql.ErrNoRows {
			return nil, nil
		}
		return nil, &database.BackendError{Op: "columns", Err: err}
	}
	if joined == "" {
		return nil, nil
	}
	return strings.Split(joined, ","), nil
}

func (d *Database) Rows(ctx context.Context) ([]database.Row, error) {
	columns, err := d.Columns(ctx)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, nil
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.dialect.Quote(c)
	}
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), d.dialect.Quote(d.table))
	rows, err := d.db.QueryContext(ctx, q)
	if err != nil {
		return nil, &database.BackendError{Op: "rows", Err: err}
	}
	defer rows.Close()

	var out []database.Row
	scanBuf := make([]dbsql.NullString, len(columns))
	scanArgs := make([]any, len(columns))
	for i := range scanBuf {
		scanArgs[i] = &scanBuf[i]
	}
	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, &database.BackendError{Op: "rows: scan", Err: err}
		}
		row := make(database.Row, len(columns))
		for i, c := range columns {
			row[c] = scanBuf[i].String
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &database.BackendError{Op: "rows: iterate", Err: err}
	}
	return out, nil
}

func (d *Database) Insert(ctx context.Context, values []string) error {
	columns, err := d.Columns(ctx)
	if err != nil {
		return err
	}
	if len(values) != len(columns) {
		return &database.SchemaError{Reason: fmt.Sprintf("expected %d values, got %d", len(columns), len(values))}
	}
	quotedCols := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, c := range columns {
		quotedCols[i] = d.dialect.Quote(c)
		placeholders[i] = d.dialect.Placeholder(i + 1)
		args[i] = values[i]
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.dialect.Quote(d.table), strings.Join(quotedCols, ", "), strings.Join(placeholders, ", "))
	if _, err := d.db.ExecContext(ctx, q, args...); err != nil {
		return &database.BackendError{Op: "insert", Err: err}
	}
	return nil
}

func (d *Database) Delete(ctx context.Context, conditions map[string]string) (int, error) {
	where, args := d.whereClause(conditions)
	q := fmt.Sprintf("DELETE FROM %s%s", d.dialect.Quote(d.table), where)
	res, err := d.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, &database.BackendError{Op: "delete", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &database.BackendError{Op: "delete: rows affected", Err: err}
	}
	return int(n), nil
}

func (d *Database) Update(ctx context.Context, conditions map[string]string, targetColumn, newValue string) (int, error) {
	setPlaceholder := d.dialect.Placeholder(1)
	// Shift WHERE placeholders up by one slot to leave room for the SET
	// value as the first bound argument.
	shiftedWhere, shiftedArgs := d.whereClauseFrom(conditions, 2)
	q := fmt.Sprintf("UPDATE %s SET %s = %s%s",
		d.dialect.Quote(d.table), d.dialect.Quote(targetColumn), setPlaceholder, shiftedWhere)
	allArgs := append([]any{newValue}, shiftedArgs...)
	res, err := d.db.ExecContext(ctx, q, allArgs...)
	if err != nil {
		return 0, &database.BackendError{Op: "update", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &database.BackendError{Op: "update: rows affected", Err: err}
	}
	return int(n), nil
}

func (d *Database) whereClause(conditions map[string]string) (string, []any) {
	return d.whereClauseFrom(conditions, 1)
}

// whereClauseFrom builds a WHERE clause over conditions, walking them in
// sorted key order so the generated SQL (and its bound argument order) is
// deterministic across calls rather than varying with Go's map iteration.
func (d *Database) whereClauseFrom(conditions map[string]string, startIndex int) (string, []any) {
	if len(conditions) == 0 {
		return "", nil
	}
	var clauses []string
	var args []any
	i := 0
	for k, v := range util.CanonicalMapIter(conditions) {
		clauses = append(clauses, fmt.Sprintf("%s = %s", d.dialect.Quote(k), d.dialect.Placeholder(startIndex+i)))
		args = append(args, v)
		i++
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (d *Database) Close() error {
	return d.db.Close()
}

// DB exposes the underlying *sql.DB for callers that need direct access,
// such as health checks.
func (d *Database) DB() *dbsql.DB {
	return d.db
}
