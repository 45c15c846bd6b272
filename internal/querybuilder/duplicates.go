package querybuilder

import (
	"strings"

	"crm-graphql/internal/metadata"
	"crm-graphql/internal/record"
)

// duplicateCriteria lists, per object, the groups of field paths that make
// two records duplicates when every path of a group matches.
var duplicateCriteria = map[string][][]string{
	"person": {
		{"email"},
		{"name.firstName", "name.lastName"},
	},
	"company": {
		{"domainName"},
		{"name"},
	},
}

// matchNothing selects no row: every record has an id.
func matchNothing() record.Filter {
	return record.Filter{"id": map[string]any{"is": "NULL"}}
}

// duplicateFilter builds a field-level filter matching records that share a
// duplicate criterion with source. Criteria with a blank value are skipped.
func duplicateFilter(obj metadata.ObjectMetadata, source record.Record, excludeID string) record.Filter {
	var alternatives []any
	for _, group := range duplicateCriteria[obj.NameSingular] {
		cond, ok := criterionFilter(group, source)
		if ok {
			alternatives = append(alternatives, cond)
		}
	}

	var filter record.Filter
	if len(alternatives) == 0 {
		filter = matchNothing()
	} else {
		filter = record.Filter{"or": alternatives}
	}

	if excludeID == "" {
		return filter
	}
	return record.Filter{"and": []any{
		map[string]any(filter),
		map[string]any{"id": map[string]any{"neq": excludeID}},
	}}
}

func criterionFilter(paths []string, source record.Record) (map[string]any, bool) {
	cond := make(map[string]any, len(paths))
	for _, path := range paths {
		value, ok := lookupPath(source, path)
		if !ok {
			return nil, false
		}
		fieldName, sub, nested := strings.Cut(path, ".")
		if !nested {
			cond[fieldName] = map[string]any{"eq": value}
			continue
		}
		subs, _ := cond[fieldName].(map[string]any)
		if subs == nil {
			subs = map[string]any{}
			cond[fieldName] = subs
		}
		subs[sub] = map[string]any{"eq": value}
	}
	return cond, true
}

// lookupPath reads a dotted path from a record, rejecting nil and blank
// strings.
func lookupPath(source record.Record, path string) (any, bool) {
	var current any = map[string]any(source)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok || current == nil {
			return nil, false
		}
	}
	if s, ok := current.(string); ok && strings.TrimSpace(s) == "" {
		return nil, false
	}
	return current, true
}
