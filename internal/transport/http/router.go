package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"proofshare/internal/platform/middleware"
	"proofshare/internal/transport/http/json"
)

// RouterConfig carries the handlers and cross-cutting dependencies the
// router wires together.
type RouterConfig struct {
	Sessions *SessionHandler
	Payloads *PayloadHandler
	Consents *ConsentHandler
	Logger   *slog.Logger
	// Registry receives the HTTP latency histogram and backs /metrics. When
	// nil the default Prometheus registry is used.
	Registry *prometheus.Registry
}

// NewRouter wires all public endpoints with the middleware stack.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ContentTypeJSON)

	var metricsHandler http.Handler
	if cfg.Registry != nil {
		latency := promauto.With(cfg.Registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proofshare_http_request_duration_seconds",
			Help:    "HTTP request latency by method and path.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"})
		r.Use(middleware.Latency(latency))
		metricsHandler = promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})
	} else {
		metricsHandler = promhttp.Handler()
	}

	r.Get("/healthz", handleHealth)
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	cfg.Sessions.Register(r)
	cfg.Payloads.Register(r)
	cfg.Consents.Register(r)

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	json.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
