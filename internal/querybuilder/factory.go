// Package querybuilder turns resolver arguments into pg_graphql documents.
//
// Documents are assembled as graphql-go AST nodes and printed with the
// graphql-go printer, so literal quoting never depends on string
// concatenation. Every builder validates its input against the object
// metadata and reports problems as BadRequest errors.
package querybuilder

import (
	"fmt"
	"strconv"

	"crm-graphql/internal/gqlerrors"
	"crm-graphql/internal/metadata"
	"crm-graphql/internal/naming"
	"crm-graphql/internal/record"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/printer"
)

// DefaultPageSize is used when a query asks for neither first nor last.
const DefaultPageSize = 60

// Options carry the object a document targets.
type Options struct {
	ObjectMetadata metadata.ObjectMetadata
	// Objects resolves relation targets. When nil, relations select only ids.
	Objects *metadata.Set
	// AtMost caps bulk mutations. Zero falls back to the factory default.
	AtMost int
}

// Factory builds one document per runner operation.
type Factory struct {
	pageSize int
	atMost   int
}

// NewFactory creates a builder. pageSize is the default page of FindMany
// and atMost the default cap of bulk mutations.
func NewFactory(pageSize, atMost int) *Factory {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if atMost <= 0 {
		atMost = 100
	}
	return &Factory{pageSize: pageSize, atMost: atMost}
}

// FindMany builds a paginated collection query.
func (f *Factory) FindMany(args record.FindManyArgs, opts Options) (string, error) {
	obj := opts.ObjectMetadata
	var arguments []*ast.Argument

	if len(args.Filter) > 0 {
		filter, err := aliasFilter(obj, args.Filter)
		if err != nil {
			return "", err
		}
		arguments = append(arguments, argument("filter", filter))
	}
	if len(args.OrderBy) > 0 {
		orderBy, err := aliasOrderBy(obj, args.OrderBy)
		if err != nil {
			return "", err
		}
		arguments = append(arguments, argument("orderBy", orderBy))
	}

	pagination, err := f.paginationArguments(args)
	if err != nil {
		return "", err
	}
	arguments = append(arguments, pagination...)

	return f.collectionQuery(obj, opts, arguments), nil
}

// FindOne builds a single-page query restricted by filter.
func (f *Factory) FindOne(args record.FindOneArgs, opts Options) (string, error) {
	obj := opts.ObjectMetadata
	if len(args.Filter) == 0 {
		return "", gqlerrors.NewBadRequest("Missing filter argument")
	}
	filter, err := aliasFilter(obj, args.Filter)
	if err != nil {
		return "", err
	}
	return f.collectionQuery(obj, opts, []*ast.Argument{
		argument("filter", filter),
		argument("first", intValue(1)),
	}), nil
}

// FindDuplicatesExistingRecord fetches the record duplicates are searched for.
func (f *Factory) FindDuplicatesExistingRecord(id string, opts Options) (string, error) {
	if id == "" {
		return "", gqlerrors.NewBadRequest("id is required")
	}
	return f.FindOne(record.FindOneArgs{Filter: idFilter(id)}, opts)
}

// FindDuplicates builds a query matching records that share the duplicate
// criteria of the object with existing (when set) or args.Data. The record
// itself is excluded when an id is given.
func (f *Factory) FindDuplicates(args record.FindDuplicatesArgs, opts Options, existing record.Record) (string, error) {
	obj := opts.ObjectMetadata

	source := args.Data
	if existing != nil {
		source = existing
	}

	var id string
	if args.ID != nil {
		id = *args.ID
	}

	filter := duplicateFilter(obj, source, id)
	aliased, err := aliasFilter(obj, filter)
	if err != nil {
		return "", err
	}
	return f.collectionQuery(obj, opts, []*ast.Argument{
		argument("filter", aliased),
		argument("first", intValue(f.pageSize)),
	}), nil
}

// CreateMany builds an insert of every record in args.Data.
func (f *Factory) CreateMany(args record.CreateManyArgs, opts Options) (string, error) {
	obj := opts.ObjectMetadata
	if len(args.Data) == 0 {
		return "", gqlerrors.NewBadRequest("Missing data argument")
	}

	objects := make([]ast.Value, 0, len(args.Data))
	for i, data := range args.Data {
		value, err := aliasData(obj, data)
		if err != nil {
			return "", gqlerrors.NewBadRequest(fmt.Sprintf("data[%d]: %s", i, messageOf(err)))
		}
		objects = append(objects, value)
	}

	return f.mutation(naming.CommandInsertInto, opts, []*ast.Argument{
		argument("objects", ast.NewListValue(&ast.ListValue{Values: objects})),
	}), nil
}

// UpdateOne builds an update of the record with args.ID.
func (f *Factory) UpdateOne(args record.UpdateOneArgs, opts Options) (string, error) {
	obj := opts.ObjectMetadata
	if args.ID == "" {
		return "", gqlerrors.NewBadRequest("id is required")
	}
	set, err := aliasData(obj, args.Data)
	if err != nil {
		return "", err
	}
	filter, err := aliasFilter(obj, idFilter(args.ID))
	if err != nil {
		return "", err
	}
	return f.mutation(naming.CommandUpdate, opts, []*ast.Argument{
		argument("set", set),
		argument("filter", filter),
		argument("atMost", intValue(1)),
	}), nil
}

// UpdateMany builds an update of every record matching args.Filter, capped at
// opts.AtMost.
func (f *Factory) UpdateMany(args record.UpdateManyArgs, opts Options) (string, error) {
	obj := opts.ObjectMetadata
	set, err := aliasData(obj, args.Data)
	if err != nil {
		return "", err
	}
	filter, err := aliasFilter(obj, args.Filter)
	if err != nil {
		return "", err
	}
	return f.mutation(naming.CommandUpdate, opts, []*ast.Argument{
		argument("set", set),
		argument("filter", filter),
		argument("atMost", intValue(f.limit(opts))),
	}), nil
}

// DeleteOne builds a delete of the record with args.ID.
func (f *Factory) DeleteOne(args record.DeleteOneArgs, opts Options) (string, error) {
	if args.ID == "" {
		return "", gqlerrors.NewBadRequest("id is required")
	}
	filter, err := aliasFilter(opts.ObjectMetadata, idFilter(args.ID))
	if err != nil {
		return "", err
	}
	return f.mutation(naming.CommandDeleteFrom, opts, []*ast.Argument{
		argument("filter", filter),
		argument("atMost", intValue(1)),
	}), nil
}

// DeleteMany builds a delete of every record matching args.Filter, capped at
// opts.AtMost.
func (f *Factory) DeleteMany(args record.DeleteManyArgs, opts Options) (string, error) {
	filter, err := aliasFilter(opts.ObjectMetadata, args.Filter)
	if err != nil {
		return "", err
	}
	return f.mutation(naming.CommandDeleteFrom, opts, []*ast.Argument{
		argument("filter", filter),
		argument("atMost", intValue(f.limit(opts))),
	}), nil
}

func (f *Factory) limit(opts Options) int {
	if opts.AtMost > 0 {
		return opts.AtMost
	}
	return f.atMost
}

func (f *Factory) paginationArguments(args record.FindManyArgs) ([]*ast.Argument, error) {
	if args.First != nil && args.Last != nil {
		return nil, gqlerrors.NewBadRequest("Cannot provide both first and last")
	}
	if args.First != nil && *args.First < 0 {
		return nil, gqlerrors.NewBadRequest("first must be a non-negative integer")
	}
	if args.Last != nil && *args.Last < 0 {
		return nil, gqlerrors.NewBadRequest("last must be a non-negative integer")
	}

	var out []*ast.Argument
	switch {
	case args.Last != nil:
		out = append(out, argument("last", intValue(*args.Last)))
	case args.First != nil:
		out = append(out, argument("first", intValue(*args.First)))
	default:
		out = append(out, argument("first", intValue(f.pageSize)))
	}
	if args.After != nil {
		out = append(out, argument("after", stringValue(*args.After)))
	}
	if args.Before != nil {
		out = append(out, argument("before", stringValue(*args.Before)))
	}
	return out, nil
}

func (f *Factory) collectionQuery(obj metadata.ObjectMetadata, opts Options, arguments []*ast.Argument) string {
	root := field(naming.EntityKey(naming.CommandQuery, obj), arguments,
		field("edges", nil,
			field("node", nil, recordSelections(obj, opts.Objects)...),
			field("cursor", nil),
		),
		field("pageInfo", nil,
			field("hasNextPage", nil),
			field("hasPreviousPage", nil),
			field("startCursor", nil),
			field("endCursor", nil),
		),
		field("totalCount", nil),
	)
	return printDocument(ast.OperationTypeQuery, root)
}

func (f *Factory) mutation(command naming.Command, opts Options, arguments []*ast.Argument) string {
	obj := opts.ObjectMetadata
	root := field(naming.EntityKey(command, obj), arguments,
		field("affectedCount", nil),
		field("records", nil, recordSelections(obj, opts.Objects)...),
	)
	return printDocument(ast.OperationTypeMutation, root)
}

func printDocument(operation string, root *ast.Field) string {
	doc := ast.NewDocument(&ast.Document{
		Definitions: []ast.Node{
			ast.NewOperationDefinition(&ast.OperationDefinition{
				Operation:    operation,
				SelectionSet: selectionSet(root),
			}),
		},
	})
	out, _ := printer.Print(doc).(string)
	return out
}

func idFilter(id string) record.Filter {
	return record.Filter{"id": map[string]any{"eq": id}}
}

func intValue(n int) *ast.IntValue {
	return ast.NewIntValue(&ast.IntValue{Value: strconv.Itoa(n)})
}

func stringValue(s string) *ast.StringValue {
	return ast.NewStringValue(&ast.StringValue{Value: s})
}

func messageOf(err error) string {
	if e, ok := gqlerrors.As(err); ok {
		return e.Message
	}
	return err.Error()
}
