// Package datasource resolves workspace ids to their PostgreSQL schemas and
// hands out connections scoped to them.
package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"crm-graphql/internal/dbexec"

	"github.com/google/uuid"
)

// SchemaPrefix prefixes every workspace schema name.
const SchemaPrefix = "workspace_"

// SchemaName derives the schema of a workspace from its id:
// "workspace_" followed by the base36 form of the UUID.
func SchemaName(workspaceID string) (string, error) {
	id, err := uuid.Parse(workspaceID)
	if err != nil {
		return "", fmt.Errorf("invalid workspace id %q: %w", workspaceID, err)
	}
	return SchemaPrefix + new(big.Int).SetBytes(id[:]).Text(36), nil
}

// Service opens workspace-scoped database access.
type Service struct {
	db *sql.DB
}

// NewService creates a data source service over a shared pool.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// DB exposes the shared pool, used for health checks.
func (s *Service) DB() *sql.DB {
	return s.db
}

// Connect acquires a dedicated connection whose search_path is the
// workspace schema. The caller must Close it.
func (s *Service) Connect(ctx context.Context, workspaceID string) (dbexec.Conn, error) {
	schema, err := SchemaName(workspaceID)
	if err != nil {
		return nil, err
	}
	conn, err := dbexec.OpenScoped(ctx, s.db, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to workspace %s: %w", workspaceID, err)
	}
	return conn, nil
}

// Executor returns a statement-at-a-time executor for the workspace schema.
func (s *Service) Executor(workspaceID string) (dbexec.QueryExecutor, error) {
	schema, err := SchemaName(workspaceID)
	if err != nil {
		return nil, err
	}
	return dbexec.NewSchemaExecutor(s.db, schema), nil
}

// ExecuteRawQuery runs query inside the workspace schema and hands every row
// to scan.
func (s *Service) ExecuteRawQuery(ctx context.Context, workspaceID, query string, args []any, scan func(dbexec.Rows) error) error {
	exec, err := s.Executor(workspaceID)
	if err != nil {
		return err
	}
	return dbexec.Each(ctx, exec, query, args, scan)
}

// ExecuteRawStatement runs a statement that returns no rows inside the workspace schema.
func (s *Service) ExecuteRawStatement(ctx context.Context, workspaceID, query string, args ...any) (sql.Result, error) {
	exec, err := s.Executor(workspaceID)
	if err != nil {
		return nil, err
	}
	return exec.ExecContext(ctx, query, args...)
}
