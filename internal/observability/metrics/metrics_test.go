package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"MonadSwap-Engine/internal/calldata"
	xerrors "MonadSwap-Engine/internal/errors"
	"MonadSwap-Engine/internal/swap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestObserveSwapCountsStatusAndNotes(t *testing.T) {
	m := New()

	m.ObserveSwap(&swap.Outcome{Direction: calldata.Buy, Status: "success", Notes: []string{swap.NoteGasFallback}}, nil, 2*time.Second)
	m.ObserveSwap(&swap.Outcome{Direction: calldata.Sell, Status: "reverted"}, xerrors.New(xerrors.CodeReverted, "boom"), time.Second)

	body := scrape(t, m)
	assert.Contains(t, body, `swapd_swaps_total{code="",direction="buy",status="success"} 1`)
	assert.Contains(t, body, `swapd_swaps_total{code="REVERTED",direction="sell",status="reverted"} 1`)
	assert.Contains(t, body, "swapd_gas_estimate_fallbacks_total 1")
	assert.Contains(t, body, "swapd_router_discovery_degraded_total 0")
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	m := New()
	h := m.Middleware("/api/swap/execute", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/swap/execute", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	body := scrape(t, m)
	assert.Contains(t, body, `swapd_http_requests_total{code="500",handler="/api/swap/execute",method="POST"} 1`)
	assert.Contains(t, body, `swapd_http_request_errors_total{handler="/api/swap/execute",method="POST"} 1`)
}

func TestMonitorGauge(t *testing.T) {
	m := New()
	m.SetActiveMonitors(3)
	m.ObserveMonitorEvent()
	m.ObserveMonitorError()

	body := scrape(t, m)
	assert.Contains(t, body, "swapd_monitors_active 3")
	assert.Contains(t, body, "swapd_monitor_events_total 1")
	assert.Contains(t, body, "swapd_monitor_check_errors_total 1")
}

func TestStartServerRequiresAddress(t *testing.T) {
	err := New().StartServer(t.Context(), "")
	require.Error(t, err)
}
