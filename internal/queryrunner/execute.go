package queryrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"crm-graphql/internal/gqlerrors"
	"crm-graphql/internal/metadata"
	"crm-graphql/internal/naming"
)

// resolveSQL runs a pg_graphql document. The document is bound as a
// parameter, never spliced into the statement.
const resolveSQL = "SELECT graphql.resolve($1)"

// PGGraphQLError is one entry of the errors array of graphql.resolve.
type PGGraphQLError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// PGGraphQLResolve is the jsonb returned by graphql.resolve.
type PGGraphQLResolve struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []PGGraphQLError           `json:"errors,omitempty"`
}

// PGGraphQLResponse is one row of the resolve statement.
type PGGraphQLResponse struct {
	Resolve PGGraphQLResolve `json:"resolve"`
}

// PGGraphQLResult is every row returned by the resolve statement.
type PGGraphQLResult []PGGraphQLResponse

// Execute runs a document inside the workspace schema. The search_path is
// set on a dedicated connection acquired for this call only, so concurrent
// calls on other workspaces cannot observe it.
func (r *Runner) Execute(ctx context.Context, query, workspaceID string) (result PGGraphQLResult, err error) {
	if r.dataSource == nil {
		return nil, errors.New("query runner has no data source")
	}
	conn, err := r.dataSource.Connect(ctx, workspaceID)
	if err != nil {
		return nil, gqlerrors.FromPostgres(err, workspaceID)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			r.logger.Warn("failed to release workspace connection",
				slog.String("workspace_id", workspaceID),
				slog.String("error", closeErr.Error()),
			)
		}
	}()

	rows, err := conn.QueryContext(ctx, resolveSQL, query)
	if err != nil {
		return nil, gqlerrors.FromPostgres(err, workspaceID)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan graphql.resolve result: %w", err)
		}
		var resolve PGGraphQLResolve
		if err := json.Unmarshal(raw, &resolve); err != nil {
			return nil, fmt.Errorf("failed to decode graphql.resolve result: %w", err)
		}
		result = append(result, PGGraphQLResponse{Resolve: resolve})
	}
	if err := rows.Err(); err != nil {
		return nil, gqlerrors.FromPostgres(err, workspaceID)
	}
	return result, nil
}

// ExecuteAndParse runs query and returns the parsed payload under the entity
// key of (command, obj), or nil when the key is absent and ignored.
func (r *Runner) ExecuteAndParse(ctx context.Context, query string, obj metadata.ObjectMetadata, command naming.Command, workspaceID string) (map[string]any, error) {
	raw, err := r.Execute(ctx, query, workspaceID)
	if err != nil {
		return nil, err
	}
	return r.parseResult(ctx, raw, obj, command, workspaceID)
}
