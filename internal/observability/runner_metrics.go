package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RunnerMetrics instruments the workspace query runner. A nil *RunnerMetrics
// records nothing.
type RunnerMetrics struct {
	duration    metric.Float64Histogram
	operations  metric.Int64Counter
	errors      metric.Int64Counter
	webhookJobs metric.Int64Counter
	events      metric.Int64Counter
}

func NewRunnerMetrics() (*RunnerMetrics, error) {
	b := newInstruments("queryrunner")
	m := &RunnerMetrics{
		duration:    b.millis("queryrunner.operation.duration", "Duration of query runner operations in milliseconds"),
		operations:  b.counter("queryrunner.operations.total", "Total number of query runner operations"),
		errors:      b.counter("queryrunner.errors.total", "Total number of failed query runner operations"),
		webhookJobs: b.counter("queryrunner.webhook_jobs.enqueued", "Number of webhook jobs submitted to the queue"),
		events:      b.counter("queryrunner.events.emitted", "Number of domain events emitted"),
	}
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

// RecordOperation records one runner call. errKind is empty on success.
func (m *RunnerMetrics) RecordOperation(ctx context.Context, operation, object string, duration time.Duration, errKind string) {
	if m == nil {
		return
	}
	opts := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("object", object),
		attribute.Bool("has_errors", errKind != ""),
	)
	m.duration.Record(ctx, float64(duration.Microseconds())/1000, opts)
	m.operations.Add(ctx, 1, opts)
	if errKind != "" {
		add(ctx, m.errors, attribute.String("operation", operation), attribute.String("kind", errKind))
	}
}

func (m *RunnerMetrics) RecordWebhookJobs(ctx context.Context, operation string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.webhookJobs.Add(ctx, int64(count), metric.WithAttributes(attribute.String("operation", operation)))
}

func (m *RunnerMetrics) RecordEvent(ctx context.Context, event string) {
	if m != nil {
		add(ctx, m.events, attribute.String("event", event))
	}
}
