package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/findoc/internal/api/middleware"
	"github.com/kiranshivaraju/findoc/internal/api/response"
	"go.uber.org/zap"
)

// Dependencies holds all handler and middleware dependencies for the router.
// Nil Auth or RateLimit disables that middleware.
type Dependencies struct {
	Logger    *zap.Logger
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	RootHandler    http.HandlerFunc
	HealthHandler  http.HandlerFunc
	AnalyzeHandler http.HandlerFunc
	ResultHandler  http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger(logger))
	r.Use(mw.Recovery(logger))

	r.Get("/", orNotImplemented(deps.RootHandler))
	r.Get("/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)

		r.With(deps.RateLimit.Limit).Post("/analyze", orNotImplemented(deps.AnalyzeHandler))
		r.Get("/result/{task_id}", orNotImplemented(deps.ResultHandler))
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.NotFound(w, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "Endpoint not yet implemented")
	}
}
