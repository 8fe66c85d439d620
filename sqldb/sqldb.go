// Package sqldb wraps database/sql with the two operations the assistant
// needs: running a generated query and validating its syntax via a
// server-side prepare.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // mysql driver
	_ "modernc.org/sqlite"             // sqlite driver
)

// Result holds the rows returned by a query in a JSON-friendly shape.
type Result struct {
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`
}

// DB executes and validates SQL against a single backing database.
type DB struct {
	db     *sql.DB
	driver string
}

// Open connects using the given driver ("mysql" or "sqlite") and DSN and
// verifies the connection.
func Open(driver, dsn string) (*DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}
	return &DB{db: db, driver: driver}, nil
}

// Wrap adopts an existing handle opened with the given driver ("mysql" or
// "sqlite"); the caller remains responsible for closing it if Close is never
// called here.
func Wrap(driver string, db *sql.DB) *DB {
	return &DB{db: db, driver: driver}
}

// Execute runs a query and collects every row. Byte-slice columns scan back
// as strings so results serialize cleanly.
func (d *DB) Execute(ctx context.Context, query string) (Result, error) {
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("failed to read columns: %w", err)
	}

	result := Result{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("row iteration failed: %w", err)
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

// Prepare validates the query's syntax against the database without running
// it. On mysql this is a server-side prepare. The modernc sqlite driver
// defers statement compilation until execution, so a bare prepare accepts
// invalid SQL; EXPLAIN forces the full parse and name resolution while only
// producing the bytecode listing, never running the statement.
func (d *DB) Prepare(ctx context.Context, query string) error {
	if d.driver == "sqlite" {
		rows, err := d.db.QueryContext(ctx, "EXPLAIN "+query)
		if err != nil {
			return fmt.Errorf("invalid sql: %w", err)
		}
		return rows.Close()
	}

	stmt, err := d.db.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("invalid sql: %w", err)
	}
	return stmt.Close()
}

// Ping verifies the connection is alive.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close releases the connection pool.
func (d *DB) Close() error {
	return d.db.Close()
}
