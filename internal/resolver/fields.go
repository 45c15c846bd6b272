package resolver

import (
	"errors"
	"fmt"

	"crm-graphql/internal/gqlerrors"
	"crm-graphql/internal/metadata"
	"crm-graphql/internal/naming"
	"crm-graphql/internal/queryrunner"
	"crm-graphql/internal/record"

	"github.com/graphql-go/graphql"
)

func (r *Resolver) connectionFieldArgs() graphql.FieldConfigArgument {
	return graphql.FieldConfigArgument{
		"filter":  &graphql.ArgumentConfig{Type: r.jsonType},
		"orderBy": &graphql.ArgumentConfig{Type: r.jsonType},
		"first":   &graphql.ArgumentConfig{Type: r.nonNegativeInt},
		"last":    &graphql.ArgumentConfig{Type: r.nonNegativeInt},
		"before":  &graphql.ArgumentConfig{Type: graphql.String},
		"after":   &graphql.ArgumentConfig{Type: graphql.String},
	}
}

func (r *Resolver) addObjectQueries(fields graphql.Fields, obj metadata.ObjectMetadata, names naming.ResolverNames) {
	objType := r.objectType(obj)
	connType := r.connectionType(obj)

	fields[names.FindMany] = &graphql.Field{
		Type: connType,
		Args: r.connectionFieldArgs(),
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			args, err := findManyArgs(p.Args)
			if err != nil {
				return nil, err
			}
			conn, err := r.runner.FindMany(p.Context, args, r.options(p.Context, obj))
			if err != nil {
				return nil, r.graphQLError(p, err)
			}
			return connectionValue(conn), nil
		},
	}

	fields[names.FindOne] = &graphql.Field{
		Type: objType,
		Args: graphql.FieldConfigArgument{
			"filter": &graphql.ArgumentConfig{Type: graphql.NewNonNull(r.jsonType)},
		},
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			filter, err := filterArg(p.Args, "filter")
			if err != nil {
				return nil, err
			}
			rec, err := r.runner.FindOne(p.Context, record.FindOneArgs{Filter: filter}, r.options(p.Context, obj))
			if err != nil {
				return nil, r.graphQLError(p, err)
			}
			return recordValue(rec), nil
		},
	}

	fields[names.FindDuplicates] = &graphql.Field{
		Type: connType,
		Args: graphql.FieldConfigArgument{
			"id":   &graphql.ArgumentConfig{Type: r.uuidType},
			"data": &graphql.ArgumentConfig{Type: r.jsonType},
		},
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			var args record.FindDuplicatesArgs
			if id, ok := p.Args["id"].(string); ok {
				args.ID = &id
			}
			if raw, present := p.Args["data"]; present && raw != nil {
				data, err := recordArg(raw, "data")
				if err != nil {
					return nil, err
				}
				args.Data = data
			}
			conn, err := r.runner.FindDuplicates(p.Context, args, r.options(p.Context, obj))
			if err != nil {
				return nil, r.graphQLError(p, err)
			}
			return connectionValue(conn), nil
		},
	}
}

func (r *Resolver) addObjectMutations(fields graphql.Fields, obj metadata.ObjectMetadata, names naming.ResolverNames) {
	objType := r.objectType(obj)
	jsonNonNull := graphql.NewNonNull(r.jsonType)
	idNonNull := graphql.NewNonNull(r.uuidType)

	fields[names.CreateMany] = &graphql.Field{
		Type: graphql.NewList(objType),
		Args: graphql.FieldConfigArgument{
			"data": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.NewList(jsonNonNull))},
		},
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			items, _ := p.Args["data"].([]interface{})
			args := record.CreateManyArgs{Data: make([]record.Record, 0, len(items))}
			for i, item := range items {
				rec, err := recordArg(item, fmt.Sprintf("data[%d]", i))
				if err != nil {
					return nil, err
				}
				args.Data = append(args.Data, rec)
			}
			records, err := r.runner.CreateMany(p.Context, args, r.options(p.Context, obj))
			if err = r.committed(p, err); err != nil {
				return nil, err
			}
			return recordsValue(records), nil
		},
	}

	fields[names.CreateOne] = &graphql.Field{
		Type: objType,
		Args: graphql.FieldConfigArgument{
			"data": &graphql.ArgumentConfig{Type: jsonNonNull},
		},
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			data, err := recordArg(p.Args["data"], "data")
			if err != nil {
				return nil, err
			}
			rec, err := r.runner.CreateOne(p.Context, record.CreateOneArgs{Data: data}, r.options(p.Context, obj))
			if err = r.committed(p, err); err != nil {
				return nil, err
			}
			return recordValue(rec), nil
		},
	}

	fields[names.UpdateOne] = &graphql.Field{
		Type: objType,
		Args: graphql.FieldConfigArgument{
			"id":   &graphql.ArgumentConfig{Type: idNonNull},
			"data": &graphql.ArgumentConfig{Type: jsonNonNull},
		},
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			id, _ := p.Args["id"].(string)
			data, err := recordArg(p.Args["data"], "data")
			if err != nil {
				return nil, err
			}
			rec, err := r.runner.UpdateOne(p.Context, record.UpdateOneArgs{ID: id, Data: data}, r.options(p.Context, obj))
			if err = r.committed(p, err); err != nil {
				return nil, err
			}
			return recordValue(rec), nil
		},
	}

	fields[names.UpdateMany] = &graphql.Field{
		Type: graphql.NewList(objType),
		Args: graphql.FieldConfigArgument{
			"filter": &graphql.ArgumentConfig{Type: jsonNonNull},
			"data":   &graphql.ArgumentConfig{Type: jsonNonNull},
		},
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			filter, err := filterArg(p.Args, "filter")
			if err != nil {
				return nil, err
			}
			data, err := recordArg(p.Args["data"], "data")
			if err != nil {
				return nil, err
			}
			records, err := r.runner.UpdateMany(p.Context, record.UpdateManyArgs{Filter: filter, Data: data}, r.options(p.Context, obj))
			if err = r.committed(p, err); err != nil {
				return nil, err
			}
			return recordsValue(records), nil
		},
	}

	fields[names.DeleteOne] = &graphql.Field{
		Type: objType,
		Args: graphql.FieldConfigArgument{
			"id": &graphql.ArgumentConfig{Type: idNonNull},
		},
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			id, _ := p.Args["id"].(string)
			rec, err := r.runner.DeleteOne(p.Context, record.DeleteOneArgs{ID: id}, r.options(p.Context, obj))
			if err = r.committed(p, err); err != nil {
				return nil, err
			}
			return recordValue(rec), nil
		},
	}

	fields[names.DeleteMany] = &graphql.Field{
		Type: graphql.NewList(objType),
		Args: graphql.FieldConfigArgument{
			"filter": &graphql.ArgumentConfig{Type: jsonNonNull},
		},
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			filter, err := filterArg(p.Args, "filter")
			if err != nil {
				return nil, err
			}
			records, err := r.runner.DeleteMany(p.Context, record.DeleteManyArgs{Filter: filter}, r.options(p.Context, obj))
			if err = r.committed(p, err); err != nil {
				return nil, err
			}
			return recordsValue(records), nil
		},
	}
}

// committed keeps the result of a write whose webhook jobs could not be
// queued and reports the failure next to the data.
func (r *Resolver) committed(p graphql.ResolveParams, err error) error {
	if err == nil {
		return nil
	}
	var enqueueErr *queryrunner.WebhookEnqueueError
	if errors.As(err, &enqueueErr) {
		if w := warningsFrom(p.Context); w != nil {
			w.add(p, "Records were saved but webhooks could not be triggered")
		}
		return nil
	}
	return r.graphQLError(p, err)
}

// graphQLError keeps the client-facing message of runner errors and hides
// everything else behind a generic internal error.
func (r *Resolver) graphQLError(p graphql.ResolveParams, err error) error {
	if typed, ok := gqlerrors.As(err); ok {
		if typed.Kind == gqlerrors.Internal {
			r.logFailure(p.Context, p.Info.FieldName, err)
		}
		return &gqlerrors.Error{Kind: typed.Kind, Message: typed.Message}
	}
	r.logFailure(p.Context, p.Info.FieldName, err)
	return gqlerrors.NewInternal("Internal server error")
}
