package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
)

// maxGraphQLBody bounds how much of a request body is buffered for analysis.
const maxGraphQLBody = 1 << 20

// OperationInfo summarizes the GraphQL operation of a request.
type OperationInfo struct {
	Type          string // query, mutation, subscription or unknown
	Name          string
	RootFields    []string
	FieldCount    int
	Depth         int
	VariableCount int
}

type operationInfoKey struct{}

// OperationInfoFromContext returns the operation parsed by
// GraphQLRequestMiddleware.
func OperationInfoFromContext(ctx context.Context) (*OperationInfo, bool) {
	info, ok := ctx.Value(operationInfoKey{}).(*OperationInfo)
	return info, ok
}

// GraphQLRequestMiddleware parses the GraphQL operation once and stores it in
// the request context. The body is restored for the GraphQL handler.
func GraphQLRequestMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := &OperationInfo{Type: "unknown"}
			query, operationName := readGraphQLRequest(r)
			if parsed, err := parseOperation(query, operationName); err == nil && parsed != nil {
				info = parsed
			}
			ctx := context.WithValue(r.Context(), operationInfoKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type graphQLRequest struct {
	Query         string `json:"query"`
	OperationName string `json:"operationName"`
}

func readGraphQLRequest(r *http.Request) (string, string) {
	switch r.Method {
	case http.MethodGet:
		return r.URL.Query().Get("query"), r.URL.Query().Get("operationName")
	case http.MethodPost:
	default:
		return "", ""
	}
	if r.Body == nil {
		return "", ""
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxGraphQLBody+1))
	if err != nil {
		return "", ""
	}
	// Put back what was read, followed by whatever is left of the body.
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(body), r.Body), r.Body}
	if len(body) > maxGraphQLBody {
		return "", ""
	}

	if strings.Contains(r.Header.Get("Content-Type"), "application/graphql") {
		return string(body), ""
	}
	var payload graphQLRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ""
	}
	return payload.Query, payload.OperationName
}

// parseOperation returns nil when query is empty or operationName does not
// match any operation.
func parseOperation(query, operationName string) (*OperationInfo, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{Body: []byte(query), Name: "graphql"}),
	})
	if err != nil {
		return nil, err
	}

	fragments := make(map[string]*ast.FragmentDefinition)
	var target, first *ast.OperationDefinition
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.FragmentDefinition:
			fragments[d.Name.Value] = d
		case *ast.OperationDefinition:
			if first == nil {
				first = d
			}
			if operationName != "" && target == nil && d.Name != nil && d.Name.Value == operationName {
				target = d
			}
		}
	}
	if target == nil && operationName == "" {
		target = first
	}
	if target == nil {
		return nil, nil
	}

	info := &OperationInfo{
		Type:          string(target.Operation),
		VariableCount: len(target.VariableDefinitions),
	}
	if target.Name != nil {
		info.Name = target.Name.Value
	}
	if target.SelectionSet != nil {
		for _, sel := range target.SelectionSet.Selections {
			if field, ok := sel.(*ast.Field); ok {
				info.RootFields = append(info.RootFields, field.Name.Value)
			}
		}
		info.FieldCount, info.Depth = measureSelection(target.SelectionSet, fragments, 1, map[string]bool{})
	}
	return info, nil
}

// measureSelection counts fields and the deepest nesting level. Each fragment
// is expanded at most once per operation.
func measureSelection(set *ast.SelectionSet, fragments map[string]*ast.FragmentDefinition, depth int, expanded map[string]bool) (fields, maxDepth int) {
	if set == nil {
		return 0, depth - 1
	}
	maxDepth = depth

	visit := func(child *ast.SelectionSet, childDepth int) {
		n, d := measureSelection(child, fragments, childDepth, expanded)
		fields += n
		if d > maxDepth {
			maxDepth = d
		}
	}

	for _, selection := range set.Selections {
		switch sel := selection.(type) {
		case *ast.Field:
			fields++
			if sel.SelectionSet != nil {
				visit(sel.SelectionSet, depth+1)
			}
		case *ast.InlineFragment:
			visit(sel.SelectionSet, depth)
		case *ast.FragmentSpread:
			name := sel.Name.Value
			if expanded[name] {
				continue
			}
			expanded[name] = true
			if frag, ok := fragments[name]; ok {
				visit(frag.SelectionSet, depth)
			}
		}
	}
	return fields, maxDepth
}
