// Package sql implements the relational storage backend. It supports
// multiple SQL dialects behind a single Database type: MySQL, PostgreSQL,
// SQLite, and SQL Server.
package sql

import "fmt"

// Dialect captures the handful of ways SQL drivers disagree: parameter
// placeholder syntax, identifier quoting, and the column type used for the
// table's (untyped, string-valued) columns.
type Dialect interface {
	// Driver is the database/sql driver name to pass to sql.Open.
	Driver() string
	// Placeholder returns the parameter placeholder for the i-th
	// (1-indexed) bound value in a query.
	Placeholder(i int) string
	// Quote quotes an identifier (table or column name) for safe use in
	// generated DDL and DML.
	Quote(ident string) string
	// ColumnType is the column type used when creating the table's
	// dynamic, string-valued columns.
	ColumnType() string
}

// DialectByName returns the Dialect for one of "mysql", "postgres",
// "sqlite", or "sqlserver".
func DialectByName(name string) (Dialect, error) {
	switch name {
	case "mysql":
		return mysqlDialect{}, nil
	case "postgres":
		return postgresDialect{}, nil
	case "sqlite":
		return sqliteDialect{}, nil
	case "sqlserver":
		return sqlserverDialect{}, nil
	default:
		return nil, fmt.Errorf("sql: unknown dialect %q", name)
	}
}

type mysqlDialect struct{}

func (mysqlDialect) Driver() string                { return "mysql" }
func (mysqlDialect) Placeholder(i int) string       { return "?" }
func (mysqlDialect) Quote(ident string) string      { return "`" + ident + "`" }
func (mysqlDialect) ColumnType() string             { return "VARCHAR(255)" }

type postgresDialect struct{}

func (postgresDialect) Driver() string          { return "postgres" }
func (postgresDialect) Placeholder(i int) string { return fmt.Sprintf("$%d", i) }
func (postgresDialect) Quote(ident string) string {
	return `"` + ident + `"`
}
func (postgresDialect) ColumnType() string { return "VARCHAR(255)" }

type sqliteDialect struct{}

func (sqliteDialect) Driver() string          { return "sqlite" }
func (sqliteDialect) Placeholder(i int) string { return "?" }
func (sqliteDialect) Quote(ident string) string {
	return `"` + ident + `"`
}
func (sqliteDialect) ColumnType() string { return "TEXT" }

type sqlserverDialect struct{}

func (sqlserverDialect) Driver() string          { return "sqlserver" }
func (sqlserverDialect) Placeholder(i int) string { return fmt.Sprintf("@p%d", i) }
func (sqlserverDialect) Quote(ident string) string {
	return "[" + ident + "]"
}
func (sqlserverDialect) ColumnType() string { return "NVARCHAR(255)" }
