package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stayledger/internal/accruals"
	"github.com/odyssey-erp/stayledger/internal/bookings"
	"github.com/odyssey-erp/stayledger/internal/observability"
	"github.com/odyssey-erp/stayledger/jobs"
)

func testRouter() http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(RouterParams{
		Logger:          logger,
		Config:          &Config{AppEnv: "production"},
		BookingsHandler: bookings.NewHandler(logger, nil),
		AccrualsHandler: accruals.NewHandler(logger, nil, nil),
		JobHandler:      jobs.NewHandler(nil, logger),
		Metrics:         observability.NewMetrics(),
	})
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthAndHeaders(t *testing.T) {
	rr := serve(testRouter(), http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
}

func TestRouterMountsModules(t *testing.T) {
	router := testRouter()

	require.Equal(t, http.StatusMethodNotAllowed, serve(router, http.MethodGet, "/api/accruals/run").Code)
	require.Equal(t, http.StatusMethodNotAllowed, serve(router, http.MethodGet, "/api/bookings/records/abc").Code)
	require.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/api/unknown").Code)
	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/jobs/health").Code)

	metrics := serve(router, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, metrics.Code)
	require.Contains(t, metrics.Body.String(), "stayledger_http_requests_total")
}
