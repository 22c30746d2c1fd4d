package handler

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phbpx/leadsvc/pkg/metrics"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
)

const readinessTimeout = time.Second

// DebugConfig wires the operator endpoints. Ready reports whether the
// service's dependencies can take traffic.
type DebugConfig struct {
	Build   string
	Log     *otelzap.SugaredLogger
	Metrics *metrics.Metrics
	Ready   func(ctx context.Context) error
}

// NewDebugRouter serves /metrics, /readiness and /liveness. It is meant for
// a separate, non-public listener.
func NewDebugRouter(cfg DebugConfig) http.Handler {
	r := chi.NewRouter()

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	r.Get("/readiness", func(rw http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		if cfg.Ready != nil {
			if err := cfg.Ready(ctx); err != nil {
				cfg.Log.Ctx(ctx).Infow("readiness failure", "error", err.Error())
				respond(ctx, rw, http.StatusServiceUnavailable, map[string]string{"status": "db not ready"})
				return
			}
		}
		respond(ctx, rw, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/liveness", func(rw http.ResponseWriter, r *http.Request) {
		host, err := os.Hostname()
		if err != nil {
			host = "unavailable"
		}
		respond(r.Context(), rw, http.StatusOK, map[string]string{
			"status": "up",
			"build":  cfg.Build,
			"host":   host,
		})
	})

	return r
}
