package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"licensetrust/pkg/contracts"
	api "licensetrust/pkg/contracts/api/v1"
)

// HealthHandler handles liveness and readiness probes
type HealthHandler struct {
	checks map[string]Pinger
	logger *slog.Logger
	now    func() time.Time
}

// NewHealthHandler creates a health handler. Readiness pings every check.
func NewHealthHandler(checks map[string]Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checks: checks,
		logger: logger.With(slog.String("handler", "health")),
		now:    time.Now,
	}
}

// Routes sets up the health routes
func (h *HealthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Live)
	r.Get("/ready", h.Ready)
	return r
}

// Live handles GET /health
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, api.HealthResponse{
		Status:    "ok",
		Version:   contracts.Version,
		Timestamp: h.now().UTC(),
	})
}

// Ready handles GET /health/ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := api.HealthResponse{
		Status:    "ok",
		Version:   contracts.Version,
		Checks:    make(map[string]string, len(h.checks)),
		Timestamp: h.now().UTC(),
	}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "readiness check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			resp.Checks[name] = "unavailable"
			resp.Status = "unavailable"
			continue
		}
		resp.Checks[name] = "ok"
	}

	if resp.Status != "ok" {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, resp)
}
