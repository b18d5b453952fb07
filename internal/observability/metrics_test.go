package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	metrics := NewMetrics()
	router := chi.NewRouter()
	router.Use(metrics.Middleware)
	router.Get("/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	router.Handle("/metrics", metrics.Handler())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/abc", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	metrics.ObserveSale("yape", 3000)
	metrics.CheckoutRejected("insufficient_stock")
	metrics.ObserveAlerts(2, 1, 0)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `minimarket_http_requests_total{code="418",route="/products/{id}"} 1`)
	require.Contains(t, string(body), `minimarket_sales_amount_cents_total{payment_method="yape"} 3000`)
	require.Contains(t, string(body), `minimarket_checkout_rejected_total{reason="insufficient_stock"} 1`)
	require.Contains(t, string(body), `minimarket_inventory_alert_items{kind="low_stock"} 2`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveSale("cash", 100)
	metrics.CheckoutRejected("x")
	metrics.SaleVoided()
	metrics.ObserveAlerts(1, 1, 1)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
