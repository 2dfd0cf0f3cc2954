package handlers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/pbeaudequin/exporter-meteo-chamois/internal/collector"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/logging"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/metrics"
)

// ServiceName is reported by the liveness endpoint
const ServiceName = "meteo-chamois-exporter"

// ServiceInfo describes the running exporter on the index page
type ServiceInfo struct {
	Name    string
	Version string
	Station string
}

// WeatherHandler serves the exporter endpoints
type WeatherHandler struct {
	source         collector.ReadingSource
	metricsHandler http.Handler
	info           ServiceInfo
	logger         *logging.StructuredLogger
	metrics        *metrics.Collector
}

// NewWeatherHandler creates a new weather handler. metricsHandler serves
// /metrics, usually promhttp over the exporter registry.
func NewWeatherHandler(
	source collector.ReadingSource,
	metricsHandler http.Handler,
	info ServiceInfo,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *WeatherHandler {
	return &WeatherHandler{
		source:         source,
		metricsHandler: metricsHandler,
		info:           info,
		logger:         logger,
		metrics:        metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HealthResponse is the liveness body
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ReadyResponse is the readiness body
type ReadyResponse struct {
	Status            string   `json:"status"`
	Reason            string   `json:"reason,omitempty"`
	CacheAgeSeconds   *float64 `json:"cache_age_seconds,omitempty"`
	LastScrapeSuccess bool     `json:"last_scrape_success"`
}

// IndexResponse is the service description served on /
type IndexResponse struct {
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Station   string            `json:"station"`
	Endpoints map[string]string `json:"endpoints"`
	Status    IndexStatus       `json:"status"`
}

// IndexStatus summarises the scrape state. CacheAgeSeconds is null until
// the cache is first populated.
type IndexStatus struct {
	LastScrapeSuccess  bool     `json:"last_scrape_success"`
	CacheAgeSeconds    *float64 `json:"cache_age_seconds"`
	LastScrapeDuration float64  `json:"last_scrape_duration"`
	Snapshots          string   `json:"snapshots,omitempty"`
}

// snapshotReporter is implemented by sources backed by a snapshot store
type snapshotReporter interface {
	SnapshotStatus(ctx context.Context) string
}

// Health handles GET /health and /healthz. It never touches the station.
func (h *WeatherHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug(r.Context(), "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, HealthResponse{Status: "healthy", Service: ServiceName}, http.StatusOK)
}

// Ready handles GET /ready and /readiness. It is ready when a valid
// reading, fresh or stale, can be served.
func (h *WeatherHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reading := h.source.Scrape(ctx, false)
	success := h.source.LastScrapeSuccess()

	if !reading.IsValid() {
		h.logger.Warn(ctx, "[READY_CHECK] Not ready, no valid reading", logging.Fields{
			"station":             h.info.Station,
			"last_scrape_success": success,
		})
		h.metrics.RecordAPIError("not_ready", r.URL.Path)
		h.sendJSON(w, ReadyResponse{
			Status:            "not_ready",
			Reason:            "Unable to scrape weather data",
			LastScrapeSuccess: success,
		}, http.StatusServiceUnavailable)
		return
	}

	h.sendJSON(w, ReadyResponse{
		Status:            "ready",
		CacheAgeSeconds:   finite(h.source.CacheAge()),
		LastScrapeSuccess: success,
	}, http.StatusOK)
}

// Index handles GET /
func (h *WeatherHandler) Index(w http.ResponseWriter, r *http.Request) {
	var age *float64
	if v := finite(h.source.CacheAge()); v != nil {
		rounded := math.Round(*v*100) / 100
		age = &rounded
	}

	var snapshots string
	if reporter, ok := h.source.(snapshotReporter); ok {
		snapshots = reporter.SnapshotStatus(r.Context())
	}

	h.sendJSON(w, IndexResponse{
		Service: h.info.Name,
		Version: h.info.Version,
		Station: h.info.Station,
		Endpoints: map[string]string{
			"metrics":   "/metrics",
			"health":    "/health",
			"readiness": "/ready",
			"docs":      "/api/docs",
		},
		Status: IndexStatus{
			LastScrapeSuccess:  h.source.LastScrapeSuccess(),
			CacheAgeSeconds:    age,
			LastScrapeDuration: math.Round(h.source.LastScrapeDuration().Seconds()*1000) / 1000,
			Snapshots:          snapshots,
		},
	}, http.StatusOK)
}

// NotFound answers unknown routes with a JSON error
func (h *WeatherHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.metrics.RecordAPIError("not_found", "unknown")
	h.sendError(w, "no such endpoint: "+r.URL.Path, http.StatusNotFound)
}

// finite returns nil for infinite or NaN values
func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

// sendJSON sends a JSON response
func (h *WeatherHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn(context.Background(), "[API_ENCODE_ERROR] Failed to write response", logging.Fields{
			"error": err.Error(),
		})
	}
}

// sendError sends an error response
func (h *WeatherHandler) sendError(w http.ResponseWriter, message string, statusCode int) {
	h.sendJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records request count and duration under endpoint and
// propagates the caller's X-Request-ID into the log context
func (h *WeatherHandler) instrument(endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		if id := r.Header.Get("X-Request-ID"); id != "" {
			r = r.WithContext(logging.WithRequestID(r.Context(), id))
		}

		defer func() {
			duration := time.Since(startTime)
			h.metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
			h.metrics.RecordAPIRequest(endpoint, r.Method, strconv.Itoa(rec.status))

			h.logger.Debug(r.Context(), "[API_REQUEST] Request served", logging.Fields{
				"endpoint":    endpoint,
				"method":      r.Method,
				"status":      rec.status,
				"duration_ms": duration.Milliseconds(),
			})
		}()

		next.ServeHTTP(rec, r)
	})
}

// RegisterRoutes registers all exporter routes
func (h *WeatherHandler) RegisterRoutes(router *mux.Router) {
	routes := []struct {
		paths   []string
		handler http.Handler
	}{
		{[]string{"/metrics"}, h.metricsHandler},
		{[]string{"/health", "/healthz"}, http.HandlerFunc(h.Health)},
		{[]string{"/ready", "/readiness"}, http.HandlerFunc(h.Ready)},
		{[]string{"/api/docs/openapi.json"}, http.HandlerFunc(OpenAPISpec)},
		{[]string{"/api/docs"}, http.HandlerFunc(SwaggerUI)},
		{[]string{"/"}, http.HandlerFunc(h.Index)},
	}

	for _, route := range routes {
		for _, path := range route.paths {
			router.Handle(path, h.instrument(path, route.handler)).Methods(http.MethodGet)
		}
	}

	router.NotFoundHandler = h.instrument("not_found", http.HandlerFunc(h.NotFound))
}
