package coordinatorapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Dash83/cluster/internal/coordinator"
)

// Config holds the dependencies needed to build the coordinator's HTTP
// router.
type Config struct {
	Registry *coordinator.Registry
	LogDir   string
	Logger   *zap.Logger
}

// NewRouter builds the coordinator's chi router: the registry-backed API
// surface the agents drive, plus the /metrics and / dashboard routes for
// whoever operates the cluster.
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	h := &handler{registry: cfg.Registry, logDir: cfg.LogDir, logger: cfg.Logger.Named("api")}

	r.Route("/api", func(r chi.Router) {
		r.Get("/host/register/{hostname}", h.registerHost)
		r.Get("/host/{id}", h.getHost)
		r.Get("/host/status/{id}/idle", h.statusIdle)
		r.Get("/host/status/{id}/{state}/{inv}", h.statusWithInvocation)
		r.Get("/hosts", h.listHosts)
		r.Get("/current", h.current)
		r.Get("/invocation/{id}", h.getInvocation)
		r.Get("/invocations", h.listInvocations)
		r.Get("/invoke/*", h.invoke)
		r.Get("/reinvoke/{id}", h.reinvoke)
		r.Post("/upload/{inv}/{host}", h.upload)
	})

	r.Get("/metrics", promhttp.HandlerFor(newMetricsRegistry(cfg.Registry), promhttp.HandlerOpts{}).ServeHTTP)
	r.Get("/", h.dashboard)

	return r
}

// requestLogger logs method, path and status for every request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
			)
		})
	}
}
