package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every instrument the service creates.
const meterName = "crm-graphql"

// instruments creates instruments on one meter and keeps the first error,
// so a constructor can declare all of its instruments and check once.
type instruments struct {
	meter metric.Meter
	err   error
}

func newInstruments(scope string) *instruments {
	if scope != "" {
		scope = meterName + "/" + scope
	} else {
		scope = meterName
	}
	return &instruments{meter: otel.Meter(scope)}
}

func (b *instruments) fail(name string, err error) {
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("failed to create %s: %w", name, err)
	}
}

func (b *instruments) counter(name, description string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(description))
	b.fail(name, err)
	return c
}

func (b *instruments) upDownCounter(name, description string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(description))
	b.fail(name, err)
	return c
}

// millis is a histogram of durations in milliseconds.
func (b *instruments) millis(name, description string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name, metric.WithDescription(description), metric.WithUnit("ms"))
	b.fail(name, err)
	return h
}

func (b *instruments) sizes(name, description string) metric.Int64Histogram {
	h, err := b.meter.Int64Histogram(name, metric.WithDescription(description))
	b.fail(name, err)
	return h
}

func (b *instruments) gauge(name, description, unit string) metric.Int64ObservableGauge {
	g, err := b.meter.Int64ObservableGauge(name, metric.WithDescription(description), metric.WithUnit(unit))
	b.fail(name, err)
	return g
}

// add increments c by one with attrs.
func add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}
