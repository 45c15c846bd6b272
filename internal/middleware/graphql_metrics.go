package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"crm-graphql/internal/observability"
)

// maxInspectedBody bounds how much of a response is kept to look for a
// top-level "errors" member.
const maxInspectedBody = 1 << 20

// GraphQLMetricsMiddleware records the count, duration and selection depth of
// GraphQL operations. GraphiQL page loads (GET) are not counted. It reads the
// operation parsed by GraphQLRequestMiddleware.
func GraphQLMetricsMiddleware(metrics *observability.GraphQLMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			defer metrics.TrackActive(ctx)()

			opType := "unknown"
			if info, ok := OperationInfoFromContext(ctx); ok {
				opType = info.Type
				if info.Depth > 0 {
					metrics.RecordQueryDepth(ctx, int64(info.Depth), opType)
				}
			}

			var body bytes.Buffer
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK, capture: &body, limit: maxInspectedBody}
			start := time.Now()
			next.ServeHTTP(sw, r)
			metrics.RecordRequest(ctx, time.Since(start), graphqlFailed(sw.status, body.Bytes()), opType)
		})
	}
}

// graphqlFailed reports whether a response carries GraphQL errors. They are
// served with status 200, so the captured body is checked too.
func graphqlFailed(status int, body []byte) bool {
	if status >= http.StatusBadRequest {
		return true
	}
	var envelope struct {
		Errors []json.RawMessage `json:"errors"`
	}
	return json.Unmarshal(body, &envelope) == nil && len(envelope.Errors) > 0
}
