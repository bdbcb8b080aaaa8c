package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ExitsTotal.WithLabelValues("stop_loss").Inc()
	m.OpenPositions.Set(1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExitsTotal.WithLabelValues("stop_loss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OpenPositions))

	// a second set on a fresh registry must not panic
	assert.NotPanics(t, func() { NewMetrics(prometheus.NewRegistry()) })
}

func healthz(t *testing.T, h *HealthStatus) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealth_States(t *testing.T) {
	now := time.Date(2025, 3, 20, 5, 0, 0, 0, time.UTC)
	h := NewHealthStatus("PAPER", 5*time.Minute)
	h.now = func() time.Time { return now }

	code, body := healthz(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body["status"])

	h.SetBrokerOK(true)
	h.SetMarketOpen(true)
	h.RecordCycle(now.Add(-time.Minute), 0, nil)
	code, body = healthz(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "PAPER", body["mode"])

	h.RecordCycle(now.Add(-time.Minute), 1, errors.New("balance: timeout"))
	code, body = healthz(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "balance: timeout", body["last_error"])

	h.SetBrokerOK(false)
	h.RecordCycle(now.Add(-time.Hour), 1, nil)
	_, body = healthz(t, h)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestHealth_OptionalDependencies(t *testing.T) {
	h := NewHealthStatus("LIVE", 0)
	h.SetBrokerOK(true)
	h.EnableSQLite()

	code, _ := healthz(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	h.mu.Lock()
	h.SQLiteOK = true
	h.mu.Unlock()
	code, _ = healthz(t, h)
	assert.Equal(t, http.StatusOK, code)
}
