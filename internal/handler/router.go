package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/segyhp/installment-engine/internal/ratelimit"
	"github.com/segyhp/installment-engine/pkg/response"
)

// RouterDeps are the handlers and middleware collaborators of the HTTP API.
type RouterDeps struct {
	Plans    *PlanHandler
	Webhooks *WebhookHandler
	Health   *HealthHandler
	Auth     Authenticator
	// Limiter may be nil to disable rate limiting.
	Limiter ratelimit.Limiter
	Logger  logrus.FieldLogger
}

func NewRouter(d RouterDeps) *mux.Router {
	router := mux.NewRouter()
	router.Use(response.LoggingMiddleware(d.Logger))
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, "route not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.MethodNotAllowed(w)
	})

	// Health check
	router.HandleFunc("/health", d.Health.Health).Methods("GET")
	router.HandleFunc("/health/ready", d.Health.Ready).Methods("GET")

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()

	// Authenticated by signature, not bearer token.
	api.HandleFunc("/webhooks/processor", d.Webhooks.Processor).Methods("POST")

	secured := api.NewRoute().Subrouter()
	secured.Use(AuthMiddleware(d.Auth, d.Logger))

	limited := func(next http.Handler) http.Handler { return next }
	if d.Limiter != nil {
		limited = RateLimitMiddleware(d.Limiter, d.Logger)
	}
	d.Plans.RegisterRoutes(secured, limited)

	return router
}
