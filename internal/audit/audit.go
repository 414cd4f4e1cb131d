// Package audit records security-relevant outcomes. Every portal decision,
// including early rejections, is written through a Log.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"licensetrust/internal/infrastructure"
	"licensetrust/internal/security"
	"licensetrust/pkg/contracts/domain"
)

// Actions recorded by the portal and certificate endpoints.
const (
	ActionVerify            = "verify"
	ActionActivate          = "activate"
	ActionTransferRequest   = "transfer_request"
	ActionTransferComplete  = "transfer_complete"
	ActionDeactivate        = "deactivate"
	ActionTransfers         = "transfer_history"
	ActionHardwareInfo      = "hardware_info"
	ActionCertificateSync   = "certificate_sync"
	ActionCertificateFetch  = "certificate_fetch"
	ActionCertificateVerify = "certificate_verify"
	ActionRateLimited       = "rate_limited"
)

// Log is an append-only sink of audit events.
type Log interface {
	Record(ctx context.Context, event domain.AuditEvent) error
}

// Appender is the persistence behind StoreLog.
type Appender interface {
	AppendAudit(ctx context.Context, e *domain.AuditEvent) error
}

// SlogLog writes events to a structured logger with the actor email and
// source address masked.
type SlogLog struct {
	logger *slog.Logger
}

// NewSlogLog creates a logger-backed sink.
func NewSlogLog(logger *slog.Logger) *SlogLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLog{logger: logger.With(slog.String("component", "audit"))}
}

// Record implements Log.
func (l *SlogLog) Record(ctx context.Context, e domain.AuditEvent) error {
	level := slog.LevelInfo
	if !e.Success {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "audit event",
		slog.String("action", e.Action),
		slog.Bool("success", e.Success),
		slog.String("actor", security.MaskEmail(e.Actor)),
		slog.String("source", security.MaskIP(e.SourceAddress)),
		slog.String("detail", e.Detail),
		slog.Time("at", e.At),
	)
	return nil
}

// StoreLog persists events in the relational store.
type StoreLog struct {
	store Appender
}

// NewStoreLog creates a database-backed sink.
func NewStoreLog(store Appender) *StoreLog {
	return &StoreLog{store: store}
}

// Record implements Log.
func (l *StoreLog) Record(ctx context.Context, e domain.AuditEvent) error {
	return l.store.AppendAudit(ctx, &e)
}

// Recorder fans an event out to several sinks, stamps missing timestamps and
// counts events. Sink failures are joined and returned, never dropped.
type Recorder struct {
	sinks   []Log
	metrics *infrastructure.TrustMetrics
	now     func() time.Time
}

// NewRecorder creates a fan-out recorder. metrics may be nil.
func NewRecorder(metrics *infrastructure.TrustMetrics, sinks ...Log) *Recorder {
	return &Recorder{sinks: sinks, metrics: metrics, now: time.Now}
}

// Record implements Log.
func (r *Recorder) Record(ctx context.Context, e domain.AuditEvent) error {
	if e.At.IsZero() {
		e.At = r.now().UTC()
	}
	r.metrics.AuditEvent(ctx, e.Action, e.Success)

	var errs []error
	for _, s := range r.sinks {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Event is a convenience constructor.
func Event(actor, action, source string, success bool, detail string) domain.AuditEvent {
	return domain.AuditEvent{
		Actor:         actor,
		Action:        action,
		Success:       success,
		SourceAddress: source,
		Detail:        detail,
	}
}
