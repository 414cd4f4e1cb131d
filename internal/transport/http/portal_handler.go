package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"licensetrust/internal/audit"
	"licensetrust/internal/config"
	apperrors "licensetrust/internal/errors"
	"licensetrust/internal/middleware"
	"licensetrust/internal/ratelimit"
	api "licensetrust/pkg/contracts/api/v1"
)

var tracer = otel.Tracer("licensetrust/transport/http")

// PortalHandler handles the customer portal endpoints
type PortalHandler struct {
	service   PortalService
	validator *middleware.Validator
	errors    *apperrors.ErrorHandler
	logger    *slog.Logger
}

// NewPortalHandler creates a new portal handler
func NewPortalHandler(service PortalService, validator *middleware.Validator, errs *apperrors.ErrorHandler, logger *slog.Logger) *PortalHandler {
	return &PortalHandler{
		service:   service,
		validator: validator,
		errors:    errs,
		logger:    logger.With(slog.String("handler", "portal")),
	}
}

// Routes sets up the portal routes, each behind its own rate-limit budget
func (h *PortalHandler) Routes(limiter *middleware.ActionLimiter, limits config.LimitsConfig) chi.Router {
	r := chi.NewRouter()

	r.With(limiter.Limit(audit.ActionVerify, Policy(limits.Verify))).Post("/verify", h.Verify)
	r.With(limiter.Limit(audit.ActionTransferRequest, Policy(limits.TransferRequest))).Post("/transfer/request", h.RequestTransfer)
	r.With(limiter.Limit(audit.ActionTransferComplete, Policy(limits.TransferComplete))).Post("/transfer/complete", h.CompleteTransfer)
	r.With(limiter.Limit(audit.ActionDeactivate, Policy(limits.Deactivate))).Post("/deactivate", h.Deactivate)
	r.With(limiter.Limit(audit.ActionActivate, Policy(limits.Activate))).Post("/activate", h.Activate)
	r.With(limiter.Limit(audit.ActionTransfers, Policy(limits.Transfers))).Get("/transfers", h.Transfers)
	r.With(limiter.Limit(audit.ActionHardwareInfo, Policy(limits.HardwareInfo))).Get("/hardware-info", h.HardwareInfo)

	return r
}

// Policy converts a configured budget to a limiter policy.
func Policy(p config.Policy) ratelimit.Policy {
	return ratelimit.Policy{Limit: p.Limit, Window: p.Window}
}

// Verify handles POST /api/v1/verify
func (h *PortalHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "portal.verify")
	defer span.End()

	var req api.VerifyRequest
	if err := h.validator.Bind(w, r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	resp, err := h.service.Verify(ctx, req, middleware.SourceAddress(ctx))
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.JSON(w, r, resp)
}

// RequestTransfer handles POST /api/v1/transfer/request
func (h *PortalHandler) RequestTransfer(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "portal.transfer_request")
	defer span.End()

	var req api.TransferRequest
	if err := h.validator.Bind(w, r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("license_id", req.LicenseID))

	resp, err := h.service.RequestTransfer(ctx, req, middleware.SourceAddress(ctx))
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, resp)
}

// CompleteTransfer handles POST /api/v1/transfer/complete
func (h *PortalHandler) CompleteTransfer(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "portal.transfer_complete")
	defer span.End()

	var req api.TransferCompleteRequest
	if err := h.validator.Bind(w, r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	resp, err := h.service.CompleteTransfer(ctx, req, middleware.SourceAddress(ctx))
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.JSON(w, r, resp)
}

// Deactivate handles POST /api/v1/deactivate
func (h *PortalHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "portal.deactivate")
	defer span.End()

	var req api.DeactivateRequest
	if err := h.validator.Bind(w, r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("license_id", req.LicenseID))

	resp, err := h.service.Deactivate(ctx, req, middleware.SourceAddress(ctx))
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.JSON(w, r, resp)
}

// Activate handles POST /api/v1/activate
func (h *PortalHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "portal.activate")
	defer span.End()

	var req api.ActivateRequest
	if err := h.validator.Bind(w, r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	resp, err := h.service.Activate(ctx, req, middleware.SourceAddress(ctx))
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	if !resp.Reactivated {
		render.Status(r, http.StatusCreated)
	}
	render.JSON(w, r, resp)
}

// Transfers handles GET /api/v1/transfers
func (h *PortalHandler) Transfers(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "portal.transfers")
	defer span.End()

	q, err := h.sessionQuery(r)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	resp, err := h.service.Transfers(ctx, q, middleware.SourceAddress(ctx))
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.JSON(w, r, resp)
}

// HardwareInfo handles GET /api/v1/hardware-info
func (h *PortalHandler) HardwareInfo(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "portal.hardware_info")
	defer span.End()

	q, err := h.sessionQuery(r)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	resp, err := h.service.HardwareInfo(ctx, q, middleware.SourceAddress(ctx))
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	render.JSON(w, r, resp)
}

// sessionQuery reads the session parameters of the GET endpoints. Both the
// camelCase names used by the portal and snake_case are accepted.
func (h *PortalHandler) sessionQuery(r *http.Request) (api.SessionQuery, error) {
	values := r.URL.Query()
	get := func(names ...string) string {
		for _, n := range names {
			if v := values.Get(n); v != "" {
				return v
			}
		}
		return ""
	}

	q := api.SessionQuery{
		LicenseID:    get("licenseId", "license_id"),
		SessionToken: get("sessionToken", "session_token"),
		Email:        get("email"),
	}
	if raw := get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, apperrors.Validation("limit must be an integer").WithField("limit", raw)
		}
		q.Limit = n
	}
	return q, h.validator.Struct(q)
}

func (h *PortalHandler) fail(w http.ResponseWriter, r *http.Request, span trace.Span, err error) {
	span.SetAttributes(attribute.String("error.kind", string(apperrors.KindOf(err))))
	h.errors.HandleError(w, r, err)
}
