// Package dbexec runs SQL either on the shared pool or on a connection whose
// search_path is pinned to one workspace schema.
package dbexec

import (
	"context"
	"database/sql"
)

// Rows is the subset of *sql.Rows the repo reads from.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// QueryExecutor runs statements. *PoolExecutor, *SchemaExecutor and
// *ScopedConn implement it.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Conn is a QueryExecutor holding one pooled connection until Close.
type Conn interface {
	QueryExecutor
	Close() error
}

// PoolExecutor runs statements on any free connection of db, with whatever
// search_path the server defaults to. Metadata tables are read through it.
type PoolExecutor struct {
	db *sql.DB
}

func NewPoolExecutor(db *sql.DB) *PoolExecutor {
	return &PoolExecutor{db: db}
}

func (e *PoolExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e == nil || e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.QueryContext(ctx, query, args...)
}

func (e *PoolExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if e == nil || e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.ExecContext(ctx, query, args...)
}

// Each runs query on exec and calls fn once per row. Iteration stops at the
// first error fn returns.
func Each(ctx context.Context, exec QueryExecutor, query string, args []any, fn func(Rows) error) error {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
