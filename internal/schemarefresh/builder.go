package schemarefresh

import (
	"fmt"

	"crm-graphql/internal/logging"
	"crm-graphql/internal/metadata"
	"crm-graphql/internal/naming"
	"crm-graphql/internal/resolver"

	"github.com/graphql-go/graphql"
)

// BuildSchemaConfig defines inputs for assembling one workspace schema.
type BuildSchemaConfig struct {
	Runner  resolver.Runner
	Objects *metadata.Set
	Naming  naming.Config
	UserID  resolver.UserIDFunc
	Logger  *logging.Logger
}

// BuildSchema builds the GraphQL schema of the workspace described by
// cfg.Objects.
func BuildSchema(cfg BuildSchemaConfig) (graphql.Schema, error) {
	if cfg.Runner == nil {
		return graphql.Schema{}, fmt.Errorf("schema builder requires a query runner")
	}
	if cfg.Objects == nil {
		return graphql.Schema{}, fmt.Errorf("schema builder requires object metadata")
	}
	res := resolver.NewResolver(cfg.Runner, cfg.Objects, cfg.Naming, cfg.UserID, cfg.Logger)
	schema, err := res.BuildGraphQLSchema()
	if err != nil {
		return graphql.Schema{}, fmt.Errorf("failed to build GraphQL schema: %w", err)
	}
	return schema, nil
}
