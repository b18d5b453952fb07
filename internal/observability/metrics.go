package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus registry and the collectors the backend reports.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	salesTotal       *prometheus.CounterVec
	salesAmount      *prometheus.CounterVec
	checkoutRejected *prometheus.CounterVec
	salesVoided      prometheus.Counter
	alertItems       *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "minimarket_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "minimarket_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	sales := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "minimarket_sales_total",
		Help: "Completed sales by payment method.",
	}, []string{"payment_method"})
	amount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "minimarket_sales_amount_cents_total",
		Help: "Completed sales amount in cents by payment method.",
	}, []string{"payment_method"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "minimarket_checkout_rejected_total",
		Help: "Rejected checkouts by reason.",
	}, []string{"reason"})
	voided := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "minimarket_sales_voided_total",
		Help: "Voided sales.",
	})
	alerts := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "minimarket_inventory_alert_items",
		Help: "Items in the latest inventory alert scan by kind.",
	}, []string{"kind"})
	registry.MustRegister(requests, duration, sales, amount, rejected, voided, alerts)

	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		salesTotal:       sales,
		salesAmount:      amount,
		checkoutRejected: rejected,
		salesVoided:      voided,
		alertItems:       alerts,
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) ObserveSale(paymentMethod string, totalCents int64) {
	if m == nil {
		return
	}
	m.salesTotal.WithLabelValues(paymentMethod).Inc()
	m.salesAmount.WithLabelValues(paymentMethod).Add(float64(totalCents))
}

func (m *Metrics) CheckoutRejected(reason string) {
	if m == nil {
		return
	}
	m.checkoutRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) SaleVoided() {
	if m == nil {
		return
	}
	m.salesVoided.Inc()
}

func (m *Metrics) ObserveAlerts(lowStock, expiring, expired int) {
	if m == nil {
		return
	}
	m.alertItems.WithLabelValues("low_stock").Set(float64(lowStock))
	m.alertItems.WithLabelValues("expiring").Set(float64(expiring))
	m.alertItems.WithLabelValues("expired").Set(float64(expired))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
