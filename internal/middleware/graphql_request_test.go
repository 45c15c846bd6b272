package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOperation(t *testing.T) {
	tests := []struct {
		name          string
		query         string
		operationName string
		want          *OperationInfo
	}{
		{
			name:  "connection query",
			query: `{ people(first: 10) { totalCount edges { node { id name { firstName } } } } }`,
			want: &OperationInfo{
				Type:       "query",
				RootFields: []string{"people"},
				FieldCount: 7, // people, totalCount, edges, node, id, name, firstName
				Depth:      5,
			},
		},
		{
			name: "named mutation with variables",
			query: `mutation CreatePerson($data: JSON!) {
				createPerson(data: $data) { id }
			}`,
			operationName: "CreatePerson",
			want: &OperationInfo{
				Type:          "mutation",
				Name:          "CreatePerson",
				RootFields:    []string{"createPerson"},
				FieldCount:    2,
				Depth:         2,
				VariableCount: 1,
			},
		},
		{
			name: "operation picked by name",
			query: `query A { people { totalCount } }
				mutation B { deletePerson(id: "x") { id } deletePeople(filter: {}) { id } }`,
			operationName: "B",
			want: &OperationInfo{
				Type:       "mutation",
				Name:       "B",
				RootFields: []string{"deletePerson", "deletePeople"},
				FieldCount: 4,
				Depth:      2,
			},
		},
		{
			name:          "unknown operation name",
			query:         `query A { people { totalCount } }`,
			operationName: "Missing",
			want:          nil,
		},
		{
			name:  "empty",
			query: "  ",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOperation(tt.query, tt.operationName)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOperation_SyntaxError(t *testing.T) {
	_, err := parseOperation(`{ people {`, "")
	require.Error(t, err)
}

func TestParseOperation_FragmentsExpandedOnce(t *testing.T) {
	query := `
		fragment A on Person { id ...B }
		fragment B on Person { email ...A }
		query { people { edges { node { ...A ...B } } } }
	`
	got, err := parseOperation(query, "")
	require.NoError(t, err)
	// people, edges, node, id, email
	assert.Equal(t, 5, got.FieldCount)
	assert.Equal(t, 4, got.Depth)
}

func TestMeasureSelection_Nil(t *testing.T) {
	fields, depth := measureSelection(nil, map[string]*ast.FragmentDefinition{}, 1, map[string]bool{})
	assert.Equal(t, 0, fields)
	assert.Equal(t, 0, depth)
}

func TestGraphQLRequestMiddleware_RestoresBody(t *testing.T) {
	body := `{"query":"mutation { createPerson(data: {}) { id } }"}`
	var seenBody string
	var seen *OperationInfo
	handler := GraphQLRequestMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = OperationInfoFromContext(r.Context())
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		seenBody = string(raw)
	}))

	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, body, seenBody)
	require.NotNil(t, seen)
	assert.Equal(t, "mutation", seen.Type)
	assert.Equal(t, []string{"createPerson"}, seen.RootFields)
}

func TestGraphQLRequestMiddleware_GetAndRawBodies(t *testing.T) {
	var seen *OperationInfo
	handler := GraphQLRequestMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = OperationInfoFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/graphql?query=%7Bpeople%7BtotalCount%7D%7D", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "query", seen.Type)

	req = httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`mutation { deletePerson(id: "x") { id } }`))
	req.Header.Set("Content-Type", "application/graphql")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "mutation", seen.Type)

	req = httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`not json`))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "unknown", seen.Type)
}
