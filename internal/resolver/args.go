package resolver

import (
	"fmt"

	"crm-graphql/internal/gqlerrors"
	"crm-graphql/internal/record"
)

func findManyArgs(args map[string]interface{}) (record.FindManyArgs, error) {
	var out record.FindManyArgs
	if raw, ok := args["filter"]; ok && raw != nil {
		filter, err := filterArg(args, "filter")
		if err != nil {
			return out, err
		}
		out.Filter = filter
	}
	if raw, ok := args["orderBy"]; ok && raw != nil {
		orderBy, err := orderByArg(raw)
		if err != nil {
			return out, err
		}
		out.OrderBy = orderBy
	}
	if n, ok := args["first"].(int); ok {
		out.First = &n
	}
	if n, ok := args["last"].(int); ok {
		out.Last = &n
	}
	if s, ok := args["before"].(string); ok {
		out.Before = &s
	}
	if s, ok := args["after"].(string); ok {
		out.After = &s
	}
	return out, nil
}

func filterArg(args map[string]interface{}, key string) (record.Filter, error) {
	m, ok := args[key].(map[string]interface{})
	if !ok {
		return nil, gqlerrors.NewBadRequest(fmt.Sprintf("%q must be an object", key))
	}
	return record.Filter(m), nil
}

func recordArg(raw interface{}, path string) (record.Record, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, gqlerrors.NewBadRequest(fmt.Sprintf("%q must be an object", path))
	}
	return record.Record(m), nil
}

// orderByArg accepts a single ordering object or a list of them.
func orderByArg(raw interface{}) (record.OrderBy, error) {
	switch v := raw.(type) {
	case map[string]interface{}:
		return record.OrderBy{v}, nil
	case []interface{}:
		out := make(record.OrderBy, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, gqlerrors.NewBadRequest(fmt.Sprintf("orderBy[%d] must be an object", i))
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, gqlerrors.NewBadRequest("orderBy must be an object or a list of objects")
	}
}
