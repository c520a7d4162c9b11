package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/cardpos/stockledger/internal/jobs"
)

func TestMetricsHandlerExposesLedgerMetrics(t *testing.T) {
	metrics := NewMetrics()
	anomalies := jobmetrics.NewMetrics(metrics.Registerer())
	anomalies.AddAnomalies("lot_exhaustion", 2, 1)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `stockledger_ledger_anomalies_total{kind="lot_exhaustion",store="2"} 1`)
	require.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/api/v1/products/{productID}/movements")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/7/movements", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusConflict, rr.Code)

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := metricsRR.Body.String()
	require.Contains(t, body, `stockledger_http_requests_total{code="409",route="/api/v1/products/{productID}/movements"} 1`)
	require.Contains(t, body, `stockledger_http_request_duration_seconds_bucket{route="/api/v1/products/{productID}/movements"`)
}
