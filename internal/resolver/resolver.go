// Package resolver builds the GraphQL schema of one workspace from its object
// metadata. Every root field delegates to the query runner; the resolver
// only converts arguments and results.
package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"crm-graphql/internal/logging"
	"crm-graphql/internal/metadata"
	"crm-graphql/internal/naming"
	"crm-graphql/internal/queryrunner"
	"crm-graphql/internal/record"
	"crm-graphql/internal/scalars"

	"github.com/graphql-go/graphql"
)

// Runner executes workspace operations.
type Runner interface {
	FindMany(ctx context.Context, args record.FindManyArgs, opts queryrunner.Options) (*record.Connection, error)
	FindOne(ctx context.Context, args record.FindOneArgs, opts queryrunner.Options) (record.Record, error)
	FindDuplicates(ctx context.Context, args record.FindDuplicatesArgs, opts queryrunner.Options) (*record.Connection, error)
	CreateMany(ctx context.Context, args record.CreateManyArgs, opts queryrunner.Options) ([]record.Record, error)
	CreateOne(ctx context.Context, args record.CreateOneArgs, opts queryrunner.Options) (record.Record, error)
	UpdateOne(ctx context.Context, args record.UpdateOneArgs, opts queryrunner.Options) (record.Record, error)
	UpdateMany(ctx context.Context, args record.UpdateManyArgs, opts queryrunner.Options) ([]record.Record, error)
	DeleteOne(ctx context.Context, args record.DeleteOneArgs, opts queryrunner.Options) (record.Record, error)
	DeleteMany(ctx context.Context, args record.DeleteManyArgs, opts queryrunner.Options) ([]record.Record, error)
}

// UserIDFunc returns the id of the user behind a request, or "".
type UserIDFunc func(ctx context.Context) string

// Resolver builds the schema of one workspace. It is not safe for
// concurrent builds; the built schema is.
type Resolver struct {
	runner  Runner
	objects *metadata.Set
	namer   *naming.Namer
	userID  UserIDFunc
	logger  *logging.Logger

	typeCache       map[string]*graphql.Object
	connectionCache map[string]*graphql.Object
	compositeCache  map[metadata.FieldType]*graphql.Object

	pageInfo       *graphql.Object
	jsonType       *graphql.Scalar
	dateTime       *graphql.Scalar
	uuidType       *graphql.Scalar
	nonNegativeInt *graphql.Scalar
}

// NewResolver creates a resolver for the workspace described by objects.
func NewResolver(runner Runner, objects *metadata.Set, namingConfig naming.Config, userID UserIDFunc, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	if userID == nil {
		userID = func(context.Context) string { return "" }
	}
	return &Resolver{
		runner:          runner,
		objects:         objects,
		namer:           naming.New(namingConfig, logger.Logger),
		userID:          userID,
		logger:          logger.WithWorkspace(objects.WorkspaceID),
		typeCache:       make(map[string]*graphql.Object),
		connectionCache: make(map[string]*graphql.Object),
		compositeCache:  make(map[metadata.FieldType]*graphql.Object),
		jsonType:        scalars.JSON(),
		dateTime:        scalars.DateTime(),
		uuidType:        scalars.UUID(),
		nonNegativeInt:  scalars.NonNegativeInt(),
	}
}

// BuildGraphQLSchema constructs the executable schema of the workspace.
func (r *Resolver) BuildGraphQLSchema() (graphql.Schema, error) {
	r.namer.Reset()
	r.pageInfo = r.buildPageInfoType()

	queryFields := graphql.Fields{}
	mutationFields := graphql.Fields{}
	for _, obj := range r.objects.Objects() {
		if !obj.IsActive {
			continue
		}
		names := r.namer.ResolverNames(obj)
		r.addObjectQueries(queryFields, obj, names)
		r.addObjectMutations(mutationFields, obj, names)
	}

	// A schema needs at least one query field.
	if len(queryFields) == 0 {
		queryFields["_workspace"] = &graphql.Field{
			Type:        graphql.String,
			Description: "Placeholder field when the workspace has no objects",
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return r.objects.WorkspaceID, nil
			},
		}
	}

	schemaConfig := graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{Name: "Query", Fields: queryFields}),
	}
	if len(mutationFields) > 0 {
		schemaConfig.Mutation = graphql.NewObject(graphql.ObjectConfig{Name: "Mutation", Fields: mutationFields})
	}
	schema, err := graphql.NewSchema(schemaConfig)
	if err != nil {
		return graphql.Schema{}, fmt.Errorf("failed to build schema of workspace %s: %w", r.objects.WorkspaceID, err)
	}
	schema.AddExtensions(warningsExtension{})
	return schema, nil
}

func (r *Resolver) options(ctx context.Context, obj metadata.ObjectMetadata) queryrunner.Options {
	return queryrunner.Options{
		WorkspaceID:    r.objects.WorkspaceID,
		UserID:         r.userID(ctx),
		ObjectMetadata: obj,
		Objects:        r.objects,
	}
}

func (r *Resolver) logFor(ctx context.Context) *logging.Logger {
	if id := logging.GetRequestID(ctx); id != "" {
		return r.logger.WithRequestID(id)
	}
	return r.logger
}

func (r *Resolver) logFailure(ctx context.Context, field string, err error) {
	r.logFor(ctx).Error("resolver failed",
		slog.String("field", field),
		slog.String("error", err.Error()),
	)
}
