package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.WSReconnects.Inc()
	a.CandleUpserts.WithLabelValues("stream").Add(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.WSReconnects))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.WSReconnects))
	assert.Equal(t, 3.0, testutil.ToFloat64(a.CandleUpserts.WithLabelValues("stream")))
}

func TestServer_ExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.RollupBuckets.WithLabelValues("1w").Add(2)
	srv := NewServer(":0", m, NewHealthStatus())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `marketdata_rollup_buckets_total{tf="1w"} 2`), "missing rollup counter in:\n%s", body)
	assert.Contains(t, body, "go_goroutines")
}

func healthBody(t *testing.T, h *HealthStatus) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec.Code, out
}

func TestHealthStatus_States(t *testing.T) {
	h := NewHealthStatus()

	code, body := healthBody(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body["status"])

	h.SetSQLiteOK(true)
	code, body = healthBody(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", body["status"], "not streaming yet")

	h.SetWSState("streaming")
	h.SetLastFrameTime(time.Now())
	code, body = healthBody(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["frame_age"])

	h.SetRedisEnabled(true)
	_, body = healthBody(t, h)
	assert.Equal(t, "degraded", body["status"], "redis enabled but never reached")

	h.SetRollup(time.Now(), errors.New("BTCUSD 1d→1w: disk I/O error"))
	_, body = healthBody(t, h)
	assert.Equal(t, "BTCUSD 1d→1w: disk I/O error", body["last_rollup_err"])
	assert.NotEmpty(t, body["last_rollup_at"])
}
