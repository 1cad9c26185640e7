package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/notifyhub/platform/internal/health"
)

// HealthHandler serves /health and /health/services (C8).
type HealthHandler struct {
	aggregator *health.Aggregator
	logger     *slog.Logger
}

// NewHealthHandler wires an Aggregator into a HealthHandler.
func NewHealthHandler(aggregator *health.Aggregator, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{aggregator: aggregator, logger: logger}
}

// Liveness handles GET /health: a bare process-is-up check with no
// dependency probing, so it never reports down because of something the
// process itself doesn't own.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// Services handles GET /health/services: the full composite probe.
func (h *HealthHandler) Services(w http.ResponseWriter, r *http.Request) {
	report := h.aggregator.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(health.HTTPStatusFor(report.Status))
	if err := json.NewEncoder(w).Encode(report); err != nil {
		h.logger.Error("failed to encode health report", "error", err)
	}
}
