package infrastructure

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// TrustMetrics holds the counters of the trust protocol. A nil *TrustMetrics
// is valid and records nothing.
type TrustMetrics struct {
	httpRequests         metric.Int64Counter
	httpDuration         metric.Float64Histogram
	transfers            metric.Int64Counter
	verificationFailures metric.Int64Counter
	rateLimited          metric.Int64Counter
	certificatesIssued   metric.Int64Counter
	certificateVerdicts  metric.Int64Counter
	syncPushes           metric.Int64Counter
	auditEvents          metric.Int64Counter
}

// NewTrustMetrics registers the instruments on meter. A nil meter yields no-op instruments.
func NewTrustMetrics(meter metric.Meter) (*TrustMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(InstrumentationName)
	}

	m := &TrustMetrics{}
	var err error

	if m.httpRequests, err = meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests")); err != nil {
		return nil, err
	}
	if m.httpDuration, err = meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.transfers, err = meter.Int64Counter("license_transfers_total",
		metric.WithDescription("Transfer workflow transitions by outcome")); err != nil {
		return nil, err
	}
	if m.verificationFailures, err = meter.Int64Counter("verification_code_failures_total",
		metric.WithDescription("Rejected verification code submissions")); err != nil {
		return nil, err
	}
	if m.rateLimited, err = meter.Int64Counter("rate_limit_rejections_total",
		metric.WithDescription("Requests rejected by per-action rate limits")); err != nil {
		return nil, err
	}
	if m.certificatesIssued, err = meter.Int64Counter("certificates_issued_total",
		metric.WithDescription("Certificates issued")); err != nil {
		return nil, err
	}
	if m.certificateVerdicts, err = meter.Int64Counter("certificate_verifications_total",
		metric.WithDescription("Certificate verification verdicts")); err != nil {
		return nil, err
	}
	if m.syncPushes, err = meter.Int64Counter("certificate_sync_pushes_total",
		metric.WithDescription("Certificate sync push attempts by result")); err != nil {
		return nil, err
	}
	if m.auditEvents, err = meter.Int64Counter("audit_events_total",
		metric.WithDescription("Audit events written")); err != nil {
		return nil, err
	}

	return m, nil
}

// HTTPRequest records one served request.
func (m *TrustMetrics) HTTPRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, d.Seconds(), attrs)
}

// Transfer records a transfer workflow outcome (requested, completed, expired, cancelled, deactivated).
func (m *TrustMetrics) Transfer(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.transfers.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// VerificationFailure records a rejected code submission.
func (m *TrustMetrics) VerificationFailure(ctx context.Context, purpose, reason string) {
	if m == nil {
		return
	}
	m.verificationFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("purpose", purpose),
		attribute.String("reason", reason),
	))
}

// RateLimited records a rate limit rejection for action.
func (m *TrustMetrics) RateLimited(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// CertificateIssued records an issued certificate for module.
func (m *TrustMetrics) CertificateIssued(ctx context.Context, module string) {
	if m == nil {
		return
	}
	m.certificatesIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("module", module)))
}

// CertificateVerified records a verification verdict.
func (m *TrustMetrics) CertificateVerified(ctx context.Context, verdict string) {
	if m == nil {
		return
	}
	m.certificateVerdicts.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", verdict)))
}

// SyncPush records a sync push result (synced, retry, rejected).
func (m *TrustMetrics) SyncPush(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.syncPushes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// AuditEvent records a written audit event.
func (m *TrustMetrics) AuditEvent(ctx context.Context, action string, success bool) {
	if m == nil {
		return
	}
	m.auditEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.Bool("success", success),
	))
}
