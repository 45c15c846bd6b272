package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"crm-graphql/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func useSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(previous)
	})
	return recorder
}

func TestGraphQLTracingMiddleware_RecordsOperation(t *testing.T) {
	recorder := useSpanRecorder(t)

	var traced bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traced = logging.FromContext(r.Context()) != nil && trace.SpanFromContext(r.Context()).SpanContext().IsValid()
		w.WriteHeader(http.StatusOK)
	})
	handler := GraphQLRequestMiddleware()(GraphQLTracingMiddleware()(next))

	body := `{"query":"query ListPeople { people { edges { node { id } } } }","operationName":"ListPeople"}`
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
	req = req.WithContext(WithAuth(req.Context(), AuthContext{WorkspaceID: "ws-1"}))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "graphql.execute", spans[0].Name())
	assert.True(t, traced)

	attrs := attribute.NewSet(spans[0].Attributes()...)
	v, ok := attrs.Value("graphql.operation.name")
	require.True(t, ok)
	assert.Equal(t, "ListPeople", v.AsString())
	v, ok = attrs.Value("crm.workspace_id")
	require.True(t, ok)
	assert.Equal(t, "ws-1", v.AsString())
}

func TestGraphQLTracingMiddleware_SkipsUnparsedRequests(t *testing.T) {
	recorder := useSpanRecorder(t)
	handler := GraphQLRequestMiddleware()(GraphQLTracingMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":`)))

	assert.Empty(t, recorder.Ended())
}
