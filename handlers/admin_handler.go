package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/llm-provider-manager/middleware"
	"github.com/upb/llm-provider-manager/models"
	"github.com/upb/llm-provider-manager/services"
	"github.com/upb/llm-provider-manager/services/budget"
	"github.com/upb/llm-provider-manager/services/providers"
	"github.com/upb/llm-provider-manager/services/tracker"
	"github.com/upb/llm-provider-manager/utils"
)

// ProviderAdmin is the administrative surface of the provider manager
type ProviderAdmin interface {
	GetStatus(ctx context.Context) map[string]tracker.BackendStatus
	GetCostAnalytics() tracker.CostAnalytics
	Budget() budget.BudgetCheckResult
	Preferences() []providers.RoutingPreference
	SwitchPrimary(task providers.TaskType, backend string) error
}

// SpendHistory reads persisted spend
type SpendHistory interface {
	SpendByBackend(ctx context.Context, since time.Time) ([]*models.BackendSpend, error)
}

// SwitchPrimaryRequest is the body of PUT /api/v1/routing/{taskType}/primary
type SwitchPrimaryRequest struct {
	Backend string `json:"backend" validate:"required,backend"`
}

// CostsResponse combines in-memory analytics with the daily budget
type CostsResponse struct {
	tracker.CostAnalytics
	Budget budget.BudgetCheckResult `json:"budget"`
}

// SpendHistoryResponse is the persisted spend per backend over a window
type SpendHistoryResponse struct {
	Since    time.Time              `json:"since"`
	Backends []*models.BackendSpend `json:"backends"`
}

// AdminHandler handles the administrative endpoints
type AdminHandler struct {
	admin   ProviderAdmin
	history SpendHistory
	logger  *zap.Logger
}

// NewAdminHandler creates a new AdminHandler. history may be nil when no
// database is configured.
func NewAdminHandler(admin ProviderAdmin, history SpendHistory, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		admin:   admin,
		history: history,
		logger:  logger,
	}
}

// HandleStatus handles GET /api/v1/providers/status
func (h *AdminHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status := h.admin.GetStatus(r.Context())
	if err := utils.WriteOK(w, status); err != nil {
		h.logger.Error("failed to write status response", zap.Error(err))
	}
}

// HandleCosts handles GET /api/v1/providers/costs
func (h *AdminHandler) HandleCosts(w http.ResponseWriter, r *http.Request) {
	response := CostsResponse{
		CostAnalytics: h.admin.GetCostAnalytics(),
		Budget:        h.admin.Budget(),
	}
	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write costs response", zap.Error(err))
	}
}

// HandleCostHistory handles GET /api/v1/providers/costs/history?window=24h
func (h *AdminHandler) HandleCostHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		_ = utils.WriteServiceUnavailable(w, "Cost history requires a database", nil)
		return
	}

	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			_ = utils.WriteBadRequest(w, "window must be a positive duration", map[string]interface{}{"window": raw})
			return
		}
		window = parsed
	}

	since := time.Now().UTC().Add(-window)
	spend, err := h.history.SpendByBackend(r.Context(), since)
	if err != nil {
		HandleServiceError(w, services.WrapError(services.ErrorTypeInternal, "failed to read cost history", err), h.logger)
		return
	}
	if spend == nil {
		spend = []*models.BackendSpend{}
	}

	if err := utils.WriteOK(w, SpendHistoryResponse{Since: since, Backends: spend}); err != nil {
		h.logger.Error("failed to write cost history response", zap.Error(err))
	}
}

// HandlePreferences handles GET /api/v1/routing/preferences
func (h *AdminHandler) HandlePreferences(w http.ResponseWriter, r *http.Request) {
	if err := utils.WriteOK(w, h.admin.Preferences()); err != nil {
		h.logger.Error("failed to write preferences response", zap.Error(err))
	}
}

// HandleSwitchPrimary handles PUT /api/v1/routing/{taskType}/primary
func (h *AdminHandler) HandleSwitchPrimary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	task, err := providers.ParseTaskType(chi.URLParam(r, "taskType"))
	if err != nil {
		HandleServiceError(w, services.NewDomainError(services.ErrorTypeValidation, "unknown task type", err).
			WithDetail("task_type", chi.URLParam(r, "taskType")), h.logger)
		return
	}

	var req SwitchPrimaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if err := h.admin.SwitchPrimary(task, req.Backend); err != nil {
		h.logger.Warn("switch primary failed",
			zap.String("request_id", requestID),
			zap.String("task_type", string(task)),
			zap.String("backend", req.Backend),
			zap.Error(err))
		HandleServiceError(w, services.FromRegistryError(err), h.logger)
		return
	}

	actor := ""
	if claims := middleware.GetClaimsFromContext(ctx); claims != nil {
		actor = claims.Subject
	}
	h.logger.Info("primary backend switched",
		zap.String("request_id", requestID),
		zap.String("task_type", string(task)),
		zap.String("backend", req.Backend),
		zap.String("actor", actor))

	for _, pref := range h.admin.Preferences() {
		if pref.TaskType == task {
			_ = utils.WriteOK(w, pref)
			return
		}
	}
	utils.WriteNoContent(w)
}
