package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/phbpx/leadsvc"
	"github.com/phbpx/leadsvc/auth"
	"github.com/phbpx/leadsvc/pkg/metrics"
	"github.com/riandyrn/otelchi"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
)

// Config wires the API router.
type Config struct {
	ServiceName string
	Log         *otelzap.SugaredLogger
	Leads       leadsvc.LeadService
	Events      leadsvc.EventPublisher
	Auth        *auth.Authenticator
	Throttle    *auth.Throttle
	Metrics     *metrics.Metrics
	Location    *time.Location
	CORSOrigins []string
	Sentry      bool
	Tracing     bool

	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable it only behind a proxy that overwrites them.
	TrustProxyHeaders bool
}

// NewRouter builds the public, auth and admin routes.
func NewRouter(cfg Config) http.Handler {
	leadHandler := NewLeadHandler(cfg.Leads, cfg.Events, cfg.Metrics, cfg.Location, cfg.Log)
	authHandler := NewAuthHandler(cfg.Auth, cfg.Throttle, cfg.Metrics, cfg.Log)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	if cfg.Sentry {
		r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	}
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	if cfg.Tracing {
		r.Use(otelchi.Middleware(cfg.ServiceName, otelchi.WithChiRoutes(r)))
	}
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/api/meta", Meta)

	r.Route("/api/leads", func(r chi.Router) {
		r.Post("/", leadHandler.Submit)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)

		r.Group(func(r chi.Router) {
			r.Use(authHandler.RequireSession)

			r.Get("/me", authHandler.Me)
			r.Get("/leads", leadHandler.List)
			r.Get("/leads/{id}", leadHandler.GetByID)
			r.Patch("/leads/{id}", leadHandler.Update)
			r.Delete("/leads/{id}", leadHandler.Delete)
			r.Get("/analytics", leadHandler.Analytics)
			r.Get("/export", leadHandler.Export)
		})
	})

	return r
}

// Meta returns the sector and status label tables for the intake form and
// the dashboard.
func Meta(rw http.ResponseWriter, r *http.Request) {
	respond(r.Context(), rw, http.StatusOK, map[string]interface{}{
		"sectors":  leadsvc.SectorLabels(),
		"statuses": leadsvc.StatusLabels(),
	})
}
