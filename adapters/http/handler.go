// Package http provides HTTP handlers for the insights API.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/marketlens/insightgate/adapters/metrics"
	"github.com/marketlens/insightgate/app"
	"github.com/marketlens/insightgate/domain/b2b"
	"github.com/marketlens/insightgate/pkg/envelope"
	"github.com/marketlens/insightgate/ports"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/marketlens/insightgate/docs/openapi"
)

// Handler handles B2B insight requests. Implemented by app.InsightService.
type Handler interface {
	Handle(ctx context.Context, req b2b.Request) app.HandleResult
}

// InsightHandler adapts the insight service to HTTP.
type InsightHandler struct {
	service Handler
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// NewInsightHandler creates a new HTTP insight handler.
func NewInsightHandler(service Handler, logger zerolog.Logger, m *metrics.Collector) *InsightHandler {
	return &InsightHandler{
		service: service,
		logger:  logger,
		metrics: m,
	}
}

// ServeHTTP handles GET /insights/{categories,trends}.
func (h *InsightHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := b2b.Request{
		APIKey:    extractAPIKey(r),
		Endpoint:  r.URL.Path,
		Params:    extractParams(r),
		RemoteIP:  extractIP(r),
		UserAgent: r.UserAgent(),
		TraceID:   middleware.GetReqID(ctx),
	}

	result := h.service.Handle(ctx, req)

	status := result.Response.Status
	if result.Error != nil {
		status = result.Error.Status
	}
	if h.metrics != nil {
		h.metrics.RequestsTotal.WithLabelValues(endpointLabel(req.Endpoint), metrics.StatusClass(status)).Inc()
	}

	// Rate limit headers go out on 429 as well as 200.
	for k, v := range result.Response.Headers {
		w.Header().Set(k, v)
	}

	if result.Error != nil {
		writeError(w, result.Error)
		return
	}

	envelope.Write(w, result.Response.Status, result.Response.Body)
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
	}
	return r.Header.Get("X-API-Key")
}

// extractParams keeps the first value of each query parameter.
func extractParams(r *http.Request) map[string]string {
	q := r.URL.Query()
	params := make(map[string]string, len(q))
	for k, vs := range q {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}
	return params
}

func extractIP(r *http.Request) string {
	// RealIP middleware has already applied X-Forwarded-For / X-Real-IP.
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

func writeError(w http.ResponseWriter, e *b2b.ErrorResponse) {
	b := envelope.NewError(e.Status, e.Code).Detail(e.Message)
	if e.Param != "" {
		b.Parameter(e.Param)
	}
	if e.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="insights"`)
	}
	envelope.WriteErrors(w, b.Build())
}

// -----------------------------------------------------------------------------
// Operational endpoints
// -----------------------------------------------------------------------------

// HealthHandler serves liveness and readiness checks.
type HealthHandler struct {
	checks map[string]ports.Pinger
}

// NewHealthHandler creates a health handler. Readiness pings every check.
func NewHealthHandler(checks map[string]ports.Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Liveness returns a simple liveness check.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness checks that every backing store is reachable.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"checks": failed,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// VersionResponse represents the version endpoint response.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// VersionHandler returns a handler reporting version.
func VersionHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, VersionResponse{Version: version, Service: "insightgate"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// -----------------------------------------------------------------------------
// Router
// -----------------------------------------------------------------------------

// RouterConfig holds optional configuration for the router.
type RouterConfig struct {
	Metrics        *metrics.Collector
	MetricsHandler http.Handler  // defaults to promhttp.Handler() when Metrics is set
	Version        string
	RequestTimeout time.Duration // default 30s
	EnableOpenAPI  bool          // serve /.well-known/openapi.json and /swagger/
}

// NewRouter creates the main HTTP router.
func NewRouter(insights *InsightHandler, health *HealthHandler, logger zerolog.Logger, cfg RouterConfig) chi.Router {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics))
	}

	r.Get("/health", health.Liveness)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Get("/version", VersionHandler(cfg.Version))

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	} else if cfg.Metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}

	if cfg.EnableOpenAPI {
		r.Get("/.well-known/openapi.json", func(w http.ResponseWriter, r *http.Request) {
			doc := openapi.SwaggerInfo.ReadDoc()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Write([]byte(doc))
		})
		r.Get("/swagger/*", httpSwagger.Handler(
			httpSwagger.URL("/.well-known/openapi.json"),
		))
	}

	// Every /insights path goes to the service so unknown ones get the
	// API's own 404 envelope.
	r.Get("/insights/*", insights.ServeHTTP)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, &b2b.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		envelope.WriteErrors(w, envelope.NewError(http.StatusMethodNotAllowed, "method_not_allowed").
			Detail("Only GET is supported").Build())
	})

	return r
}

// NewMetricsMiddleware creates middleware that records request metrics.
func NewMetricsMiddleware(m *metrics.Collector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/insights/") {
				next.ServeHTTP(w, r)
				return
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			next.ServeHTTP(w, r)

			m.RequestDuration.WithLabelValues(endpointLabel(r.URL.Path)).Observe(time.Since(start).Seconds())
		})
	}
}

// endpointLabel bounds label cardinality to the known endpoints.
func endpointLabel(path string) string {
	if _, ok := b2b.KindOf(path); ok {
		return path
	}
	return "other"
}

// NewLoggingMiddleware creates middleware that logs HTTP requests at debug level.
func NewLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
