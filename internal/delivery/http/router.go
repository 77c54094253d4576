package http

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	httpSwagger "github.com/swaggo/http-swagger"

	"eventregistry/internal/delivery/http/controllers"
	"eventregistry/internal/delivery/http/middleware"
	"eventregistry/internal/domain"
	"eventregistry/internal/metrics"
)

// RouterDeps bundles everything the router needs to wire routes.
type RouterDeps struct {
	Logger                 *slog.Logger
	DB                     *sql.DB
	TokenVerifier          domain.TokenVerifier
	MetricsRegistry        *prometheus.Registry
	AuthController         *controllers.AuthController
	UserController         *controllers.UserController
	EventController        *controllers.EventController
	RegistrationController *controllers.RegistrationController
}

// NewRouter initializes the HTTP router with all application routes.
func NewRouter(deps RouterDeps) *http.ServeMux {
	mux := http.NewServeMux()
	authed := middleware.RequireAuth(deps.TokenVerifier, deps.Logger)

	// Auth
	mux.HandleFunc("POST /auth/signup", deps.AuthController.SignUp)
	mux.HandleFunc("POST /auth/login", deps.AuthController.Login)

	// Users
	mux.HandleFunc("GET /me", authed(deps.UserController.GetMe))
	mux.HandleFunc("GET /me/registrations", authed(deps.RegistrationController.ListMyRegistrations))

	// Events
	mux.HandleFunc("POST /events", authed(deps.EventController.CreateEvent))
	mux.HandleFunc("GET /events", deps.EventController.ListEvents)
	mux.HandleFunc("GET /events/{eventID}", deps.EventController.GetEvent)
	mux.HandleFunc("DELETE /events/{eventID}", authed(deps.EventController.DeleteEvent))

	// Registrations
	mux.HandleFunc("POST /events/{eventID}/registrations", authed(deps.RegistrationController.Register))
	mux.HandleFunc("DELETE /events/{eventID}/registrations", authed(deps.RegistrationController.Unregister))
	mux.HandleFunc("POST /events/{eventID}/registrations/bulk", authed(deps.RegistrationController.BulkRegister))

	// Operational
	mux.HandleFunc("GET /healthz", healthHandler(deps.DB))
	if deps.MetricsRegistry != nil {
		mux.Handle("GET /metrics", metrics.SetupMetricsRoute(deps.MetricsRegistry))
	}

	// Swagger
	mux.Handle("/swagger/", httpSwagger.WrapHandler)

	return mux
}

// healthHandler reports liveness and database reachability.
func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				http.Error(w, `{"status":"degraded"}`, http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}
