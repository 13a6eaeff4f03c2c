package routes

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/upb/llm-provider-manager/app"
	"github.com/upb/llm-provider-manager/handlers"
	"github.com/upb/llm-provider-manager/internal/observability"
	"github.com/upb/llm-provider-manager/utils"
)

// DefaultRequestTimeout bounds every request. It covers a full fallback walk.
const DefaultRequestTimeout = 120 * time.Second

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(DefaultRequestTimeout))

	// CORS middleware
	origins := deps.Config.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	var db *sql.DB
	if deps.DB != nil {
		db = deps.DB.DB
	}
	health := handlers.NewHealthHandler(db, deps.Manager, deps.Logger)
	completions := handlers.NewCompletionHandler(deps.Manager, deps.Logger)

	var history handlers.SpendHistory
	if deps.CostRecords != nil {
		history = deps.CostRecords
	}
	admin := handlers.NewAdminHandler(deps.Manager, history, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	// OpenAI-compatible completion endpoint
	r.Post("/v1/chat/completions", completions.HandleChatCompletion)

	// Admin routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAdmin)

		r.Route("/providers", func(r chi.Router) {
			r.Get("/status", admin.HandleStatus)
			r.Get("/costs", admin.HandleCosts)
			r.Get("/costs/history", admin.HandleCostHistory)
		})

		r.Route("/routing", func(r chi.Router) {
			r.Get("/preferences", admin.HandlePreferences)
			r.Put("/{taskType}/primary", admin.HandleSwitchPrimary)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}

// requestLogger logs one line per request with the chi request ID
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			observability.WithRequestID(r.Context(), logger).Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
