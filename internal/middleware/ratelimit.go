package middleware

import (
	"log/slog"
	"net/http"

	"licensetrust/internal/audit"
	apperrors "licensetrust/internal/errors"
	"licensetrust/internal/infrastructure"
	"licensetrust/internal/ratelimit"
)

// ActionLimiter applies a per-action sliding-window budget keyed by the
// client address. Rejections happen before the handler runs and are audited.
type ActionLimiter struct {
	limiter ratelimit.Limiter
	audit   audit.Log
	metrics *infrastructure.TrustMetrics
	errors  *apperrors.ErrorHandler
	logger  *slog.Logger
}

// NewActionLimiter creates the per-action middleware factory.
func NewActionLimiter(limiter ratelimit.Limiter, auditLog audit.Log, metrics *infrastructure.TrustMetrics, errs *apperrors.ErrorHandler, logger *slog.Logger) *ActionLimiter {
	return &ActionLimiter{
		limiter: limiter,
		audit:   auditLog,
		metrics: metrics,
		errors:  errs,
		logger:  logger.With(slog.String("component", "action_limiter")),
	}
}

// Limit returns middleware enforcing policy for action. A limiter backend
// failure rejects the request.
func (l *ActionLimiter) Limit(action string, policy ratelimit.Policy) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			source := SourceAddress(ctx)

			decision, err := l.limiter.Allow(ctx, ratelimit.Key{Client: source, Action: action}, policy)
			if err != nil {
				l.errors.HandleError(w, r, apperrors.Internal("rate limiter unavailable", err))
				return
			}
			if !decision.Allowed {
				l.metrics.RateLimited(ctx, action)
				if aerr := l.audit.Record(ctx, audit.Event("", audit.ActionRateLimited, source, false, action)); aerr != nil {
					l.logger.ErrorContext(ctx, "failed to write audit event",
						slog.String("action", action),
						slog.String("error", aerr.Error()),
					)
				}
				l.errors.HandleError(w, r, apperrors.RateLimited(decision.RetryAfter))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
