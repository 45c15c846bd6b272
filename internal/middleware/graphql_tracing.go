package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"crm-graphql/internal/logging"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const graphqlTracerName = "crm-graphql/graphql"

// GraphQLTracingMiddleware opens a graphql.execute span around operations
// that parsed, and adds trace_id and span_id to the request logger.
func GraphQLTracingMiddleware() func(http.Handler) http.Handler {
	tracer := otel.Tracer(graphqlTracerName)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := OperationInfoFromContext(r.Context())
			if !ok || info.Type == "unknown" {
				next.ServeHTTP(w, r)
				return
			}

			ctx, span := tracer.Start(r.Context(), "graphql.execute",
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(operationAttributes(r.Context(), info)...),
			)
			defer span.End()

			next.ServeHTTP(w, r.WithContext(loggerWithSpan(ctx, span)))
		})
	}
}

func operationAttributes(ctx context.Context, info *OperationInfo) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("graphql.operation.type", info.Type),
		attribute.String("graphql.operation.name", info.Name),
		attribute.StringSlice("graphql.operation.root_fields", info.RootFields),
		attribute.Int("graphql.operation.field_count", info.FieldCount),
		attribute.Int("graphql.operation.depth", info.Depth),
		attribute.Int("graphql.operation.variable_count", info.VariableCount),
	}
	if workspaceID, ok := WorkspaceFromContext(ctx); ok {
		attrs = append(attrs, attribute.String("crm.workspace_id", workspaceID))
	}
	return attrs
}

func loggerWithSpan(ctx context.Context, span trace.Span) context.Context {
	sc := span.SpanContext()
	if !sc.IsValid() {
		return ctx
	}
	return logging.WithLogger(ctx, logging.FromContext(ctx).WithFields(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	))
}
