package querybuilder

import (
	"crm-graphql/internal/metadata"
	"crm-graphql/internal/naming"

	"github.com/graphql-go/graphql/language/ast"
)

func name(value string) *ast.Name {
	return ast.NewName(&ast.Name{Value: value})
}

func argument(key string, value ast.Value) *ast.Argument {
	return ast.NewArgument(&ast.Argument{Name: name(key), Value: value})
}

func selectionSet(fields ...*ast.Field) *ast.SelectionSet {
	selections := make([]ast.Selection, 0, len(fields))
	for _, f := range fields {
		selections = append(selections, f)
	}
	return ast.NewSelectionSet(&ast.SelectionSet{Selections: selections})
}

func field(fieldName string, arguments []*ast.Argument, children ...*ast.Field) *ast.Field {
	f := &ast.Field{Name: name(fieldName), Arguments: arguments}
	if len(children) > 0 {
		f.SelectionSet = selectionSet(children...)
	}
	return ast.NewField(f)
}

func aliasedField(alias, fieldName string) *ast.Field {
	return ast.NewField(&ast.Field{Alias: name(alias), Name: name(fieldName)})
}

// recordSelections selects every active field of obj. Composite fields are
// selected column by column under ___field_sub aliases; relations are
// followed one level deep.
func recordSelections(obj metadata.ObjectMetadata, objects *metadata.Set) []*ast.Field {
	out := []*ast.Field{field("__typename", nil)}
	for _, f := range obj.ActiveFields() {
		switch {
		case f.Type == metadata.FieldTypeRelation:
			out = append(out, relationSelections(f, objects)...)
		case f.Type.IsComposite():
			out = append(out, compositeSelections(f)...)
		default:
			out = append(out, field(f.Name, nil))
		}
	}
	return out
}

func compositeSelections(f metadata.FieldMetadata) []*ast.Field {
	subs := f.Type.SubFields()
	out := make([]*ast.Field, 0, len(subs))
	for _, sub := range subs {
		out = append(out, aliasedField(naming.CompositeAlias(f.Name, sub.Name), naming.CompositeColumn(f.Name, sub.Name)))
	}
	return out
}

func relationSelections(f metadata.FieldMetadata, objects *metadata.Set) []*ast.Field {
	if f.Relation == nil {
		return nil
	}
	target := flatSelections(f.Relation.TargetObjectNameSingular, objects)

	switch f.Relation.Kind {
	case metadata.RelationManyToOne:
		return []*ast.Field{
			field(naming.ForeignKeyColumn(f.Name), nil),
			field(f.Name, nil, target...),
		}
	case metadata.RelationOneToMany:
		return []*ast.Field{
			field(f.Name, nil,
				field("edges", nil,
					field("node", nil, target...),
				),
			),
		}
	default:
		return nil
	}
}

// flatSelections selects the non-relation fields of a relation target.
func flatSelections(targetName string, objects *metadata.Set) []*ast.Field {
	if objects == nil {
		return []*ast.Field{field("id", nil)}
	}
	target, err := objects.Get(targetName)
	if err != nil {
		return []*ast.Field{field("id", nil)}
	}

	out := []*ast.Field{field("__typename", nil)}
	for _, f := range target.ActiveFields() {
		switch {
		case f.Type == metadata.FieldTypeRelation:
			if f.Relation != nil && f.Relation.Kind == metadata.RelationManyToOne {
				out = append(out, field(naming.ForeignKeyColumn(f.Name), nil))
			}
		case f.Type.IsComposite():
			out = append(out, compositeSelections(f)...)
		default:
			out = append(out, field(f.Name, nil))
		}
	}
	return out
}
