package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GraphQLMetrics instruments the /graphql endpoint. A nil *GraphQLMetrics
// records nothing.
type GraphQLMetrics struct {
	requestDuration metric.Float64Histogram
	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
	queryDepth      metric.Int64Histogram
	rateLimited     metric.Int64Counter
}

// NewGraphQLMetrics creates the endpoint instruments on the global meter provider.
func NewGraphQLMetrics() (*GraphQLMetrics, error) {
	b := newInstruments("")
	m := &GraphQLMetrics{
		requestDuration: b.millis("graphql.request.duration", "Duration of GraphQL requests in milliseconds"),
		requestCounter:  b.counter("graphql.requests.total", "Total number of GraphQL requests"),
		errorCounter:    b.counter("graphql.errors.total", "Total number of GraphQL requests answered with errors"),
		activeRequests:  b.upDownCounter("graphql.requests.active", "Number of in-flight GraphQL requests"),
		queryDepth:      b.sizes("graphql.query.depth", "Selection depth of GraphQL operations"),
		rateLimited:     b.counter("graphql.requests.rate_limited", "Requests rejected by the per-workspace rate limiter"),
	}
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

// RecordRequest records one operation. operationType is query, mutation or unknown.
func (m *GraphQLMetrics) RecordRequest(ctx context.Context, duration time.Duration, hasErrors bool, operationType string) {
	if m == nil {
		return
	}
	op := attribute.String("operation_type", operationType)
	both := metric.WithAttributes(op, attribute.Bool("has_errors", hasErrors))
	m.requestDuration.Record(ctx, float64(duration.Microseconds())/1000, both)
	m.requestCounter.Add(ctx, 1, both)
	if hasErrors {
		add(ctx, m.errorCounter, op)
	}
}

func (m *GraphQLMetrics) RecordQueryDepth(ctx context.Context, depth int64, operationType string) {
	if m == nil {
		return
	}
	m.queryDepth.Record(ctx, depth, metric.WithAttributes(attribute.String("operation_type", operationType)))
}

func (m *GraphQLMetrics) RecordRateLimited(ctx context.Context) {
	if m == nil {
		return
	}
	add(ctx, m.rateLimited)
}

// TrackActive counts a request as in flight until the returned func is called.
func (m *GraphQLMetrics) TrackActive(ctx context.Context) (done func()) {
	if m == nil {
		return func() {}
	}
	m.activeRequests.Add(ctx, 1)
	return func() { m.activeRequests.Add(ctx, -1) }
}
