package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	postingsTotal   *prometheus.CounterVec
	shortageQty     prometheus.Counter
	lowStockSKUs    prometheus.Gauge
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bookhaul_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bookhaul_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bookhaul_postings_total",
		Help: "Posting pipeline invocations by kind and outcome.",
	}, []string{"kind", "outcome"})
	shortage := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bookhaul_shortage_qty_total",
		Help: "Total unallocated quantity reported by the sale pipeline.",
	})
	lowStock := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bookhaul_low_stock_skus",
		Help: "SKUs below the configured on-hand threshold, per last scan.",
	})
	registry.MustRegister(requests, duration, postings, shortage, lowStock)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		postingsTotal:   postings,
		shortageQty:     shortage,
		lowStockSKUs:    lowStock,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObservePosting counts one pipeline invocation.
func (m *Metrics) ObservePosting(kind, outcome string) {
	if m == nil {
		return
	}
	m.postingsTotal.WithLabelValues(kind, outcome).Inc()
}

// AddShortage accumulates unallocated quantity.
func (m *Metrics) AddShortage(qty int64) {
	if m == nil || qty <= 0 {
		return
	}
	m.shortageQty.Add(float64(qty))
}

// SetLowStockSKUs records the latest low-stock scan result.
func (m *Metrics) SetLowStockSKUs(n int) {
	if m == nil {
		return
	}
	m.lowStockSKUs.Set(float64(n))
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
