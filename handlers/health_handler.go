package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-provider-manager/services/providers"
	"github.com/upb/llm-provider-manager/utils"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string             `json:"status"`
	Timestamp string             `json:"timestamp"`
	Checks    map[string]string  `json:"checks,omitempty"`
	Backends  []providers.Health `json:"backends,omitempty"`
}

// BackendHealth reports backend liveness for readiness checks
type BackendHealth interface {
	HealthyCount(ctx context.Context) int
	Backends() []providers.Health
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db       *sql.DB
	backends BackendHealth
	logger   *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db may be nil.
func NewHealthHandler(db *sql.DB, backends BackendHealth, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:       db,
		backends: backends,
		logger:   logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Ready when at least one backend is healthy and the database, if any, answers
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.db == nil {
		checks["database"] = "disabled"
	} else if err := h.checkDatabase(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	} else {
		checks["database"] = "healthy"
	}

	var backends []providers.Health
	if h.backends == nil || h.backends.HealthyCount(ctx) == 0 {
		h.logger.Warn("no healthy backend")
		checks["backends"] = "unhealthy"
		allHealthy = false
	} else {
		checks["backends"] = "healthy"
	}
	if h.backends != nil {
		backends = h.backends.Backends()
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		Backends:  backends,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}
