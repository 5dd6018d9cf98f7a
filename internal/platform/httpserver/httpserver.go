// Package httpserver builds the HTTP server and its root router.
package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"verigate/internal/platform/metrics"
	"verigate/pkg/platform/httputil"
	"verigate/pkg/platform/middleware/metadata"
	"verigate/pkg/platform/middleware/request"
	"verigate/pkg/platform/middleware/requesttime"
)

// New builds an HTTP server with sane defaults for this project. There is no
// write timeout because event streams stay open.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// NewRouter returns the root router with the shared middleware stack,
// /healthz and /metrics. Callers mount their routes on it.
func NewRouter(logger *slog.Logger, m *metrics.Metrics, checks map[string]HealthCheck) chi.Router {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recover(logger))
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(request.Logger(logger))
	if m != nil {
		r.Use(m.Middleware)
		r.Handle("/metrics", m.Handler())
	}
	r.Get("/healthz", healthz(checks))
	return r
}

func healthz(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		httputil.WriteJSON(w, status, map[string]any{"checks": results})
	}
}
