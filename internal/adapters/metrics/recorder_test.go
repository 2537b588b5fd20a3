package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	r := NewRecorder()

	r.SetBalance(1050)
	r.SetProfit(50, 0.05)
	r.SetOpenPositions(2)
	r.IncSignal("BTCUSDT", "BUY", false)
	r.IncSignal("BTCUSDT", "BUY", false)
	r.IncSignal("BTCUSDT", "SELL", true)
	r.IncOrder("open", true)
	r.IncOrder("close", false)
	r.IncTick("strategy", true)

	assert.Equal(t, 1050.0, testutil.ToFloat64(r.balance))
	assert.Equal(t, 50.0, testutil.ToFloat64(r.profit))
	assert.Equal(t, 0.05, testutil.ToFloat64(r.profitPct))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.openPositions))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.signals.WithLabelValues("BTCUSDT", "BUY", "emitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.signals.WithLabelValues("BTCUSDT", "SELL", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.orders.WithLabelValues("close", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ticks.WithLabelValues("strategy", "ok")))
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.SetOpenPositions(3)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fractal_trader_open_positions 3")
}
