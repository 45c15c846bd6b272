package dbexec

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"

	"crm-graphql/internal/sqlutil"
)

const resetSearchPathSQL = "SET search_path TO DEFAULT"

// ScopedConn is a dedicated connection whose search_path has been set to a
// single schema. The search_path is reset before the connection goes back
// to the pool.
type ScopedConn struct {
	conn   *sql.Conn
	schema string

	closeOnce sync.Once
	closeErr  error
}

// OpenScoped acquires a connection from db and points its search_path at schema.
func OpenScoped(ctx context.Context, db *sql.DB, schema string) (*ScopedConn, error) {
	if db == nil {
		return nil, sql.ErrConnDone
	}
	if schema == "" {
		return nil, errors.New("schema name is required")
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	// SET does not accept bind parameters; the identifier is quoted instead.
	setSQL := "SET search_path TO " + sqlutil.QuoteIdentifier(schema)
	if _, err := conn.ExecContext(ctx, setSQL); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set search_path to %s: %w", schema, err)
	}

	return &ScopedConn{conn: conn, schema: schema}, nil
}

// Schema returns the schema this connection is scoped to.
func (c *ScopedConn) Schema() string {
	return c.schema
}

func (c *ScopedConn) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

func (c *ScopedConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.conn.ExecContext(ctx, query, args...)
}

// Close resets the search_path and releases the connection. When the reset
// fails the connection is discarded instead of going back to the pool. It is
// safe to call more than once.
func (c *ScopedConn) Close() error {
	c.closeOnce.Do(func() {
		if _, err := c.conn.ExecContext(context.Background(), resetSearchPathSQL); err != nil {
			// ErrBadConn makes database/sql close the driver connection.
			_ = c.conn.Raw(func(any) error { return driver.ErrBadConn })
			_ = c.conn.Close()
			c.closeErr = fmt.Errorf("failed to reset search_path: %w", err)
			return
		}
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// SchemaExecutor runs every statement on a freshly scoped connection. Use it
// for one-off statements; hold a ScopedConn when several statements must
// share a session.
type SchemaExecutor struct {
	db     *sql.DB
	schema string
}

// NewSchemaExecutor creates an executor scoped to schema.
func NewSchemaExecutor(db *sql.DB, schema string) *SchemaExecutor {
	return &SchemaExecutor{db: db, schema: schema}
}

func (e *SchemaExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	conn, err := OpenScoped(ctx, e.db, e.schema)
	if err != nil {
		return nil, err
	}

	rows, err := conn.conn.QueryContext(ctx, query, args...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &scopedRows{Rows: rows, cleanup: func() { _ = conn.Close() }}, nil
}

func (e *SchemaExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	conn, err := OpenScoped(ctx, e.db, e.schema)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return conn.ExecContext(ctx, query, args...)
}

type scopedRows struct {
	*sql.Rows
	cleanup func()
}

func (r *scopedRows) Close() error {
	defer r.cleanup()
	return r.Rows.Close()
}
