package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/example/bellgate/internal/auth"
	"github.com/example/bellgate/internal/bus"
	"github.com/example/bellgate/internal/config"
	"github.com/example/bellgate/internal/http/api"
	"github.com/example/bellgate/internal/http/csrf"
	httperrors "github.com/example/bellgate/internal/http/errors"
	"github.com/example/bellgate/internal/http/ratelimit"
	"github.com/example/bellgate/internal/metrics"
	"github.com/example/bellgate/internal/store"
)

// NewRouter wires all HTTP routes for the dashboard API and appliance pull
// path.
func NewRouter(cfg *config.Config, stor *store.Store, busClient *bus.Client, authService *auth.Service, apiHandler *api.Handler) http.Handler {
	r := chi.NewRouter()

	// Auth endpoints: 5 requests per second, burst of 10
	authRateLimiter := ratelimit.NewIPRateLimiter(rate.Limit(5), 10, 5*time.Minute, cfg.TrustedProxies)
	// API endpoints: 20 requests per second, burst of 50 (the appliance polls here)
	apiRateLimiter := ratelimit.NewIPRateLimiter(rate.Limit(20), 50, 5*time.Minute, cfg.TrustedProxies)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := stor.HealthCheck(ctx); err != nil {
			httperrors.JSON(w, http.StatusServiceUnavailable, "Service Unavailable", "database unreachable")
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Broker reachability probe for external monitors. Separate from readyz:
	// the service stays up and queues deliveries when the broker is down.
	r.Get("/healthz/bus", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := busClient.HealthCheck(ctx); err != nil {
			httperrors.JSON(w, http.StatusServiceUnavailable, "Service Unavailable", "message bus unreachable")
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	r.Route("/auth", func(r chi.Router) {
		r.Use(authRateLimiter.Middleware())
		r.Get("/login", authService.BeginOAuth)
		r.Get("/callback", authService.HandleOAuthCallback)
	})
	r.With(authService.RequireUser).Post("/auth/logout", authService.Logout)

	// The appliance pulls its schedule without credentials.
	r.With(apiRateLimiter.Middleware()).Get("/api/schedule", apiHandler.GetSchedule)

	r.Group(func(r chi.Router) {
		r.Use(apiRateLimiter.Middleware())
		r.Use(authService.RequireUser)
		r.Use(csrf.Middleware(cfg))

		r.Post("/api/schedule", apiHandler.StoreSchedule)
		r.Get("/api/schedule/mine", apiHandler.MySchedules)
		r.Post("/api/schedule/day/clear", apiHandler.ClearDay)
		r.Post("/api/schedule/clear", apiHandler.ClearAll)
		r.Post("/api/schedule/deliver", apiHandler.Reconcile)
		r.Post("/api/ring", apiHandler.RingNow)
		r.Post("/api/time/sync", apiHandler.SyncTime)
	})

	return r
}
