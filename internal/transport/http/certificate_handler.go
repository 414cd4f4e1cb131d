package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"

	"licensetrust/internal/audit"
	"licensetrust/internal/certificate"
	"licensetrust/internal/config"
	apperrors "licensetrust/internal/errors"
	"licensetrust/internal/middleware"
	api "licensetrust/pkg/contracts/api/v1"
)

// CertificateHandler handles certificate sync, lookup and verification
type CertificateHandler struct {
	service   CertificateService
	validator *middleware.Validator
	errors    *apperrors.ErrorHandler
	logger    *slog.Logger
}

// NewCertificateHandler creates a new certificate handler
func NewCertificateHandler(service CertificateService, validator *middleware.Validator, errs *apperrors.ErrorHandler, logger *slog.Logger) *CertificateHandler {
	return &CertificateHandler{
		service:   service,
		validator: validator,
		errors:    errs,
		logger:    logger.With(slog.String("handler", "certificate")),
	}
}

// Routes sets up the certificate routes
func (h *CertificateHandler) Routes(limiter *middleware.ActionLimiter, limits config.LimitsConfig) chi.Router {
	r := chi.NewRouter()

	r.With(limiter.Limit(audit.ActionCertificateSync, Policy(limits.CertificateSync))).Post("/sync", h.Sync)
	r.Group(func(r chi.Router) {
		r.Use(limiter.Limit(audit.ActionCertificateFetch, Policy(limits.CertificateFetch)))
		r.Get("/{id}", h.Get)
		r.Get("/{id}/verify", h.Verify)
	})

	return r
}

// Sync handles POST /api/v1/certificates/sync
func (h *CertificateHandler) Sync(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "certificate.sync")
	defer span.End()

	var req api.CertificateSyncRequest
	if err := h.validator.Bind(w, r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("certificate_id", req.ID))

	resp, err := h.service.Sync(ctx, &req, middleware.SourceAddress(ctx))
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if resp.Status == certificate.SyncStatusCreated {
		render.Status(r, http.StatusCreated)
	}
	render.JSON(w, r, resp)
}

// Get handles GET /api/v1/certificates/{id}
func (h *CertificateHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "certificate.get")
	defer span.End()

	id := chi.URLParam(r, "id")
	span.SetAttributes(attribute.String("certificate_id", id))

	cert, err := h.service.Get(ctx, id, middleware.SourceAddress(ctx))
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, cert)
}

// Verify handles GET /api/v1/certificates/{id}/verify
func (h *CertificateHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "certificate.verify")
	defer span.End()

	id := chi.URLParam(r, "id")
	span.SetAttributes(attribute.String("certificate_id", id))

	resp, err := h.service.Verify(ctx, id, middleware.SourceAddress(ctx))
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("verdict", resp.Verdict))
	render.JSON(w, r, resp)
}
