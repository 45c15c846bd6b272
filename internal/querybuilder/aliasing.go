package querybuilder

import (
	"fmt"
	"sort"
	"strings"

	"crm-graphql/internal/gqlerrors"
	"crm-graphql/internal/metadata"
	"crm-graphql/internal/naming"
	"crm-graphql/internal/record"

	"github.com/graphql-go/graphql/language/ast"
)

var orderByDirections = map[string]bool{
	"AscNullsFirst":  true,
	"AscNullsLast":   true,
	"DescNullsFirst": true,
	"DescNullsLast":  true,
}

var isOperands = map[string]bool{
	"NULL":     true,
	"NOT_NULL": true,
}

func unknownField(obj metadata.ObjectMetadata, key string) error {
	return gqlerrors.NewBadRequest(fmt.Sprintf("Field %q does not exist on object %q", key, obj.NameSingular))
}

// foreignKeyField reports whether key is the stored id column of a
// many-to-one relation of obj, e.g. "companyId".
func foreignKeyField(obj metadata.ObjectMetadata, key string) bool {
	base, ok := strings.CutSuffix(key, "Id")
	if !ok || base == "" {
		return false
	}
	f, ok := obj.Field(base)
	return ok && f.IsActive && f.Relation != nil && f.Relation.Kind == metadata.RelationManyToOne
}

func activeField(obj metadata.ObjectMetadata, key string) (metadata.FieldMetadata, bool) {
	f, ok := obj.Field(key)
	if !ok || !f.IsActive {
		return metadata.FieldMetadata{}, false
	}
	return f, true
}

func subFieldExists(f metadata.FieldMetadata, sub string) bool {
	for _, s := range f.Type.SubFields() {
		if s.Name == sub {
			return true
		}
	}
	return false
}

// aliasFilter maps a filter expressed on fields to one expressed on stored
// columns: composite conditions are split per sub-column and many-to-one
// conditions on id move to the foreign key column.
func aliasFilter(obj metadata.ObjectMetadata, filter record.Filter) (ast.Value, error) {
	flat, err := flattenFilter(obj, filter)
	if err != nil {
		return nil, err
	}
	return toValue(flat)
}

func flattenFilter(obj metadata.ObjectMetadata, filter map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(filter))
	for key, value := range filter {
		switch key {
		case "and", "or":
			items, ok := asList(value)
			if !ok {
				return nil, gqlerrors.NewBadRequest(fmt.Sprintf("%q expects a list of filters", key))
			}
			nested := make([]any, 0, len(items))
			for _, item := range items {
				m, ok := asMap(item)
				if !ok {
					return nil, gqlerrors.NewBadRequest(fmt.Sprintf("%q expects a list of filters", key))
				}
				flat, err := flattenFilter(obj, m)
				if err != nil {
					return nil, err
				}
				nested = append(nested, flat)
			}
			out[key] = nested
			continue
		case "not":
			m, ok := asMap(value)
			if !ok {
				return nil, gqlerrors.NewBadRequest(`"not" expects a filter`)
			}
			flat, err := flattenFilter(obj, m)
			if err != nil {
				return nil, err
			}
			out[key] = flat
			continue
		}

		f, ok := activeField(obj, key)
		if !ok {
			if !foreignKeyField(obj, key) {
				return nil, unknownField(obj, key)
			}
			cond, err := comparison(key, value)
			if err != nil {
				return nil, err
			}
			out[key] = cond
			continue
		}

		switch {
		case f.Type.IsComposite():
			m, ok := asMap(value)
			if !ok {
				return nil, gqlerrors.NewBadRequest(fmt.Sprintf("filter on %q must name its sub-fields", key))
			}
			for sub, cond := range m {
				if !subFieldExists(f, sub) {
					return nil, unknownField(obj, key+"."+sub)
				}
				c, err := comparison(key+"."+sub, cond)
				if err != nil {
					return nil, err
				}
				out[naming.CompositeColumn(key, sub)] = c
			}
		case f.Type == metadata.FieldTypeRelation:
			if f.Relation == nil || f.Relation.Kind != metadata.RelationManyToOne {
				return nil, gqlerrors.NewBadRequest(fmt.Sprintf("cannot filter on one-to-many relation %q", key))
			}
			m, ok := asMap(value)
			idCond, hasID := m["id"]
			if !ok || !hasID || len(m) != 1 {
				return nil, gqlerrors.NewBadRequest(fmt.Sprintf("filter on relation %q supports only id", key))
			}
			c, err := comparison(key+".id", idCond)
			if err != nil {
				return nil, err
			}
			out[naming.ForeignKeyColumn(key)] = c
		default:
			c, err := comparison(key, value)
			if err != nil {
				return nil, err
			}
			out[key] = c
		}
	}
	return out, nil
}

// comparison validates an operator map such as {"eq": 1} and turns the is
// operand into an enum.
func comparison(path string, value any) (map[string]any, error) {
	m, ok := asMap(value)
	if !ok || len(m) == 0 {
		return nil, gqlerrors.NewBadRequest(fmt.Sprintf("filter on %q must be an object of operators", path))
	}
	out := make(map[string]any, len(m))
	for op, operand := range m {
		if op == "is" {
			s, _ := operand.(string)
			if !isOperands[s] {
				return nil, gqlerrors.NewBadRequest(fmt.Sprintf("filter on %q: is expects NULL or NOT_NULL", path))
			}
			out[op] = enumLiteral(s)
			continue
		}
		out[op] = operand
	}
	return out, nil
}

// aliasOrderBy emits one list entry per stored column, preserving the order
// of the input entries.
func aliasOrderBy(obj metadata.ObjectMetadata, orderBy record.OrderBy) (ast.Value, error) {
	entries := make([]any, 0, len(orderBy))
	for _, entry := range orderBy {
		keys := make([]string, 0, len(entry))
		for k := range entry {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			value := entry[key]
			f, ok := activeField(obj, key)
			if !ok {
				if !foreignKeyField(obj, key) {
					return nil, unknownField(obj, key)
				}
				dir, err := direction(key, value)
				if err != nil {
					return nil, err
				}
				entries = append(entries, map[string]any{key: dir})
				continue
			}

			switch {
			case f.Type.IsComposite():
				m, ok := asMap(value)
				if !ok {
					return nil, gqlerrors.NewBadRequest(fmt.Sprintf("orderBy on %q must name its sub-fields", key))
				}
				for sub := range m {
					if !subFieldExists(f, sub) {
						return nil, unknownField(obj, key+"."+sub)
					}
				}
				for _, sub := range f.Type.SubFields() {
					raw, ok := m[sub.Name]
					if !ok {
						continue
					}
					dir, err := direction(key+"."+sub.Name, raw)
					if err != nil {
						return nil, err
					}
					entries = append(entries, map[string]any{naming.CompositeColumn(key, sub.Name): dir})
				}
			case f.Type == metadata.FieldTypeRelation:
				return nil, gqlerrors.NewBadRequest(fmt.Sprintf("cannot order by relation %q", key))
			default:
				dir, err := direction(key, value)
				if err != nil {
					return nil, err
				}
				entries = append(entries, map[string]any{key: dir})
			}
		}
	}
	return toValue(entries)
}

func direction(path string, value any) (enumLiteral, error) {
	s, _ := value.(string)
	if !orderByDirections[s] {
		return "", gqlerrors.NewBadRequest(fmt.Sprintf("invalid order direction %v for %q", value, path))
	}
	return enumLiteral(s), nil
}

// aliasData maps an input record to stored columns.
func aliasData(obj metadata.ObjectMetadata, data record.Record) (ast.Value, error) {
	if len(data) == 0 {
		return nil, gqlerrors.NewBadRequest("Missing data argument")
	}
	flat, err := flattenData(obj, data)
	if err != nil {
		return nil, err
	}
	return toValue(flat)
}

func flattenData(obj metadata.ObjectMetadata, data record.Record) (map[string]any, error) {
	out := make(map[string]any, len(data))
	for key, value := range data {
		f, ok := activeField(obj, key)
		if !ok {
			if !foreignKeyField(obj, key) {
				return nil, unknownField(obj, key)
			}
			out[key] = value
			continue
		}

		switch {
		case f.Type.IsComposite():
			if value == nil {
				for _, sub := range f.Type.SubFields() {
					out[naming.CompositeColumn(key, sub.Name)] = nil
				}
				continue
			}
			m, ok := asMap(value)
			if !ok {
				return nil, gqlerrors.NewBadRequest(fmt.Sprintf("value of %q must be an object", key))
			}
			for sub, v := range m {
				if !subFieldExists(f, sub) {
					return nil, unknownField(obj, key+"."+sub)
				}
				out[naming.CompositeColumn(key, sub)] = v
			}
		case f.Type == metadata.FieldTypeRelation:
			if f.Relation == nil || f.Relation.Kind != metadata.RelationManyToOne {
				return nil, gqlerrors.NewBadRequest(fmt.Sprintf("cannot write one-to-many relation %q", key))
			}
			if value == nil {
				out[naming.ForeignKeyColumn(key)] = nil
				continue
			}
			m, ok := asMap(value)
			id, hasID := m["id"]
			if !ok || !hasID {
				return nil, gqlerrors.NewBadRequest(fmt.Sprintf("value of relation %q must carry an id", key))
			}
			out[naming.ForeignKeyColumn(key)] = id
		default:
			out[key] = value
		}
	}
	return out, nil
}
