package observability

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Schema build triggers.
const (
	TriggerFirstUse       = "first_use"
	TriggerMetadataChange = "metadata_change"
)

// SchemaRefreshMetrics counts per-workspace GraphQL schema builds.
type SchemaRefreshMetrics struct {
	builds      metric.Int64Counter
	failures    metric.Int64Counter
	duration    metric.Float64Histogram
	evictions   metric.Int64Counter
	lastSuccess atomic.Int64
}

func NewSchemaRefreshMetrics() (*SchemaRefreshMetrics, error) {
	b := newInstruments("")
	m := &SchemaRefreshMetrics{
		builds:    b.counter("schema.build.total", "Total number of workspace schema builds"),
		failures:  b.counter("schema.build.errors.total", "Total number of failed workspace schema builds"),
		duration:  b.millis("schema.build.duration", "Duration of workspace schema builds in milliseconds"),
		evictions: b.counter("schema.evictions.total", "Workspace schemas dropped after sitting idle"),
	}
	lastSuccess := b.gauge("schema.build.last_success_unix", "Unix time of the last successful workspace schema build", "s")
	if b.err != nil {
		return nil, b.err
	}

	_, err := b.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		if ts := m.lastSuccess.Load(); ts > 0 {
			o.ObserveInt64(lastSuccess, ts)
		}
		return nil
	}, lastSuccess)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RecordRefresh records one schema build.
func (m *SchemaRefreshMetrics) RecordRefresh(ctx context.Context, duration time.Duration, success bool, trigger string) {
	if m == nil {
		return
	}
	reason := attribute.String("trigger", trigger)
	opts := metric.WithAttributes(reason, attribute.Bool("success", success))
	m.builds.Add(ctx, 1, opts)
	m.duration.Record(ctx, float64(duration.Microseconds())/1000, opts)
	if success {
		m.lastSuccess.Store(time.Now().Unix())
	} else {
		add(ctx, m.failures, reason)
	}
}

// RecordEviction counts schemas released by the idle sweeper.
func (m *SchemaRefreshMetrics) RecordEviction(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.evictions.Add(ctx, int64(count))
}
