package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"datavault/internal/platform/metrics"
	"datavault/internal/platform/middleware"
	respond "datavault/internal/transport/http/shared/json"
)

// Deps gathers everything the router wires together. Handlers stay thin and
// delegate to domain services.
type Deps struct {
	Auth     *AuthHandler
	Data     *DataHandler
	Consents *ConsentHandler
	Audit    *AuditHandler

	Verifier middleware.TokenVerifier
	Metrics  *metrics.Metrics
	Health   func(ctx context.Context) error
	Logger   *slog.Logger
}

// NewRouter wires all endpoints with the middleware stack. Account routes are
// public; everything under /api requires a verified token.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Metadata)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(latency(deps.Metrics))

	r.Get("/health", handleHealth(deps.Health))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.ContentTypeJSON)

		deps.Auth.RegisterPublic(api)

		api.Group(func(protected chi.Router) {
			protected.Use(middleware.Auth(deps.Verifier, deps.Logger))

			deps.Auth.RegisterProtected(protected)
			deps.Data.Register(protected)
			deps.Consents.Register(protected)
			deps.Audit.Register(protected)
		})
	})

	return r
}

func handleHealth(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				respond.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
				return
			}
		}
		respond.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// latency records per-route request durations using the chi route pattern so
// /api/data/{id} stays one series.
func latency(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			next.ServeHTTP(w, r)
			pattern := chi.RouteContext(r.Context()).RoutePattern()
			if pattern == "" {
				pattern = r.URL.Path
			}
			m.ObserveEndpointLatency(pattern, time.Since(start).Seconds())
		})
	}
}
