package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SecurityMetrics counts authentication outcomes and signed file downloads.
// A nil *SecurityMetrics records nothing.
type SecurityMetrics struct {
	attempts     metric.Int64Counter
	failures     metric.Int64Counter
	successes    metric.Int64Counter
	unauthorized metric.Int64Counter
	tokenErrors  metric.Int64Counter
	fileAccess   metric.Int64Counter
}

func NewSecurityMetrics() (*SecurityMetrics, error) {
	b := newInstruments("security")
	m := &SecurityMetrics{
		attempts:     b.counter("security.auth.attempts.total", "Total number of authentication attempts"),
		failures:     b.counter("security.auth.failures.total", "Total number of authentication failures"),
		successes:    b.counter("security.auth.successes.total", "Total number of successful authentications"),
		unauthorized: b.counter("security.unauthorized.attempts.total", "Requests rejected for missing or foreign credentials"),
		tokenErrors:  b.counter("security.token.validation_errors.total", "Total number of token validation errors"),
		fileAccess:   b.counter("security.file_access.total", "Signed file downloads by outcome"),
	}
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

func (m *SecurityMetrics) RecordAuthAttempt(ctx context.Context, endpoint string) {
	if m != nil {
		add(ctx, m.attempts, attribute.String("endpoint", endpoint))
	}
}

func (m *SecurityMetrics) RecordAuthFailure(ctx context.Context, endpoint, reason string) {
	if m != nil {
		add(ctx, m.failures, attribute.String("endpoint", endpoint), attribute.String("reason", reason))
	}
}

// RecordAuthSuccess records a verified token; issuer is "access_token" for
// HS256 workspace tokens.
func (m *SecurityMetrics) RecordAuthSuccess(ctx context.Context, endpoint, issuer string) {
	if m != nil {
		add(ctx, m.successes, attribute.String("endpoint", endpoint), attribute.String("issuer", issuer))
	}
}

func (m *SecurityMetrics) RecordUnauthorizedAttempt(ctx context.Context, endpoint, reason string) {
	if m != nil {
		add(ctx, m.unauthorized, attribute.String("endpoint", endpoint), attribute.String("reason", reason))
	}
}

func (m *SecurityMetrics) RecordTokenValidationError(ctx context.Context, errorType string) {
	if m != nil {
		add(ctx, m.tokenErrors, attribute.String("error_type", errorType))
	}
}

// RecordFileAccess records a download outcome: served, forbidden, not_found or error.
func (m *SecurityMetrics) RecordFileAccess(ctx context.Context, outcome string) {
	if m != nil {
		add(ctx, m.fileAccess, attribute.String("outcome", outcome))
	}
}
