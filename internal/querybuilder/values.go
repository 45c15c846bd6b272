package querybuilder

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"

	"crm-graphql/internal/gqlerrors"
	"crm-graphql/internal/record"

	"github.com/graphql-go/graphql/language/ast"
)

// enumLiteral is printed bare instead of quoted.
type enumLiteral string

// nullLiteral prints as the GraphQL null keyword. graphql-go's AST has no
// null node, and enum values are printed verbatim.
const nullLiteral enumLiteral = "null"

// toValue converts a decoded Go value into a GraphQL literal. Object keys are
// emitted in sorted order so documents are stable.
func toValue(v any) (ast.Value, error) {
	switch val := v.(type) {
	case nil:
		return ast.NewEnumValue(&ast.EnumValue{Value: string(nullLiteral)}), nil
	case enumLiteral:
		return ast.NewEnumValue(&ast.EnumValue{Value: string(val)}), nil
	case string:
		return stringValue(val), nil
	case bool:
		return ast.NewBooleanValue(&ast.BooleanValue{Value: val}), nil
	case int:
		return ast.NewIntValue(&ast.IntValue{Value: strconv.Itoa(val)}), nil
	case int32:
		return ast.NewIntValue(&ast.IntValue{Value: strconv.FormatInt(int64(val), 10)}), nil
	case int64:
		return ast.NewIntValue(&ast.IntValue{Value: strconv.FormatInt(val, 10)}), nil
	case float32:
		return floatValue(float64(val))
	case float64:
		return floatValue(val)
	case json.Number:
		if _, err := val.Int64(); err == nil {
			return ast.NewIntValue(&ast.IntValue{Value: val.String()}), nil
		}
		if _, err := val.Float64(); err != nil {
			return nil, gqlerrors.NewBadRequest(fmt.Sprintf("invalid number %q", val.String()))
		}
		return ast.NewFloatValue(&ast.FloatValue{Value: val.String()}), nil
	case time.Time:
		return stringValue(val.UTC().Format(time.RFC3339Nano)), nil
	case record.Record:
		return objectValue(val)
	case record.Filter:
		return objectValue(val)
	case map[string]any:
		return objectValue(val)
	case []any:
		return listValue(val)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return listValue(items)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return objectValue(m)
	case reflect.Ptr:
		if rv.IsNil() {
			return toValue(nil)
		}
		return toValue(rv.Elem().Interface())
	}
	return nil, gqlerrors.NewBadRequest(fmt.Sprintf("unsupported value of type %T", v))
}

func floatValue(f float64) (ast.Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, gqlerrors.NewBadRequest("numbers must be finite")
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return ast.NewIntValue(&ast.IntValue{Value: strconv.FormatInt(int64(f), 10)}), nil
	}
	return ast.NewFloatValue(&ast.FloatValue{Value: strconv.FormatFloat(f, 'g', -1, 64)}), nil
}

func objectValue(m map[string]any) (ast.Value, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]*ast.ObjectField, 0, len(keys))
	for _, k := range keys {
		value, err := toValue(m[k])
		if err != nil {
			return nil, err
		}
		fields = append(fields, ast.NewObjectField(&ast.ObjectField{Name: name(k), Value: value}))
	}
	return ast.NewObjectValue(&ast.ObjectValue{Fields: fields}), nil
}

func listValue(items []any) (ast.Value, error) {
	values := make([]ast.Value, 0, len(items))
	for _, item := range items {
		value, err := toValue(item)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return ast.NewListValue(&ast.ListValue{Values: values}), nil
}

// asMap accepts the map shapes resolver arguments arrive in.
func asMap(v any) (map[string]any, bool) {
	switch val := v.(type) {
	case map[string]any:
		return val, true
	case record.Record:
		return val, true
	case record.Filter:
		return val, true
	}
	return nil, false
}

// asList accepts the list shapes resolver arguments arrive in.
func asList(v any) ([]any, bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case []map[string]any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = val[i]
		}
		return out, true
	case []record.Filter:
		out := make([]any, len(val))
		for i := range val {
			out[i] = val[i]
		}
		return out, true
	case []record.Record:
		out := make([]any, len(val))
		for i := range val {
			out[i] = val[i]
		}
		return out, true
	}
	return nil, false
}
