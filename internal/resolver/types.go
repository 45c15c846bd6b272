package resolver

import (
	"crm-graphql/internal/metadata"
	"crm-graphql/internal/record"

	"github.com/graphql-go/graphql"
)

var compositeTypeNames = map[metadata.FieldType]string{
	metadata.FieldTypeLink:     "Link",
	metadata.FieldTypeCurrency: "Currency",
	metadata.FieldTypeFullName: "FullName",
}

func (r *Resolver) buildPageInfoType() *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "PageInfo",
		Fields: graphql.Fields{
			"hasNextPage":     &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"hasPreviousPage": &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"startCursor":     &graphql.Field{Type: graphql.String},
			"endCursor":       &graphql.Field{Type: graphql.String},
		},
	})
}

// objectType returns the GraphQL type of obj, building it on first use.
func (r *Resolver) objectType(obj metadata.ObjectMetadata) *graphql.Object {
	if cached, ok := r.typeCache[obj.NameSingular]; ok {
		return cached
	}

	fields := graphql.Fields{}
	for _, f := range obj.ActiveFields() {
		fields[f.Name] = &graphql.Field{
			Type:        r.fieldType(f),
			Description: f.Label,
		}
	}
	if _, ok := fields["id"]; !ok {
		fields["id"] = &graphql.Field{Type: r.uuidType}
	}
	fields["id"].Type = graphql.NewNonNull(r.uuidType)

	objType := graphql.NewObject(graphql.ObjectConfig{
		Name:        r.namer.TypeName(obj),
		Description: obj.LabelSingular,
		Fields:      fields,
	})
	r.typeCache[obj.NameSingular] = objType
	return objType
}

func (r *Resolver) fieldType(f metadata.FieldMetadata) graphql.Output {
	switch f.Type {
	case metadata.FieldTypeUUID:
		return r.uuidType
	case metadata.FieldTypeDateTime:
		return r.dateTime
	case metadata.FieldTypeBoolean:
		return graphql.Boolean
	case metadata.FieldTypeNumber, metadata.FieldTypeNumeric, metadata.FieldTypeProbability,
		metadata.FieldTypeRating, metadata.FieldTypePosition:
		return graphql.Float
	case metadata.FieldTypeMultiSelect:
		return graphql.NewList(graphql.String)
	case metadata.FieldTypeRelation:
		// Nested records and connections are returned as they come back
		// from the runner.
		return r.jsonType
	}
	if f.Type.IsComposite() {
		return r.compositeType(f.Type)
	}
	return graphql.String
}

func (r *Resolver) compositeType(t metadata.FieldType) *graphql.Object {
	if cached, ok := r.compositeCache[t]; ok {
		return cached
	}
	fields := graphql.Fields{}
	for _, sub := range t.SubFields() {
		var subType graphql.Output = graphql.String
		if sub.Type == metadata.FieldTypeNumeric {
			subType = graphql.Float
		}
		fields[sub.Name] = &graphql.Field{Type: subType}
	}
	name, ok := compositeTypeNames[t]
	if !ok {
		name = string(t)
	}
	objType := graphql.NewObject(graphql.ObjectConfig{Name: name, Fields: fields})
	r.compositeCache[t] = objType
	return objType
}

func (r *Resolver) connectionType(obj metadata.ObjectMetadata) *graphql.Object {
	if cached, ok := r.connectionCache[obj.NameSingular]; ok {
		return cached
	}
	nodeType := r.objectType(obj)
	edgeType := graphql.NewObject(graphql.ObjectConfig{
		Name: nodeType.Name() + "Edge",
		Fields: graphql.Fields{
			"node":   &graphql.Field{Type: graphql.NewNonNull(nodeType)},
			"cursor": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		},
	})
	connType := graphql.NewObject(graphql.ObjectConfig{
		Name: nodeType.Name() + "Connection",
		Fields: graphql.Fields{
			"edges":      &graphql.Field{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(edgeType)))},
			"pageInfo":   &graphql.Field{Type: graphql.NewNonNull(r.pageInfo)},
			"totalCount": &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		},
	})
	r.connectionCache[obj.NameSingular] = connType
	return connType
}

// recordValue exposes rec as the plain map graphql-go's default field
// resolver reads.
func recordValue(rec record.Record) interface{} {
	if rec == nil {
		return nil
	}
	return map[string]interface{}(rec)
}

func recordsValue(records []record.Record) []interface{} {
	out := make([]interface{}, len(records))
	for i, rec := range records {
		out[i] = recordValue(rec)
	}
	return out
}

func connectionValue(conn *record.Connection) interface{} {
	if conn == nil {
		return nil
	}
	edges := make([]interface{}, len(conn.Edges))
	for i, edge := range conn.Edges {
		edges[i] = map[string]interface{}{
			"node":   recordValue(edge.Node),
			"cursor": edge.Cursor,
		}
	}
	pageInfo := map[string]interface{}{
		"hasNextPage":     conn.PageInfo.HasNextPage,
		"hasPreviousPage": conn.PageInfo.HasPreviousPage,
		"startCursor":     nil,
		"endCursor":       nil,
	}
	if conn.PageInfo.StartCursor != nil {
		pageInfo["startCursor"] = *conn.PageInfo.StartCursor
	}
	if conn.PageInfo.EndCursor != nil {
		pageInfo["endCursor"] = *conn.PageInfo.EndCursor
	}
	return map[string]interface{}{
		"edges":      edges,
		"pageInfo":   pageInfo,
		"totalCount": conn.TotalCount,
	}
}
