package scrape

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFamilies() []Family {
	return []Family{
		{
			Name: "tcf_cpu_percent",
			Help: "CPU utilization percent",
			Type: prometheus.GaugeValue,
			Samples: []FamilySample{
				{Service: "gateway", Value: 12.5, Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
			},
		},
	}
}

func TestServeMetricsWritesTextExposition(t *testing.T) {
	h := New(Config{}, func() ([]Family, error) { return testFamilies(), nil }, nil)
	mux := http.NewServeMux()
	h.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "# HELP tcf_cpu_percent")
	assert.Contains(t, body, "# TYPE tcf_cpu_percent gauge")
	assert.Contains(t, body, `service="gateway"`)
}

func TestServeMetricsReturns503WhenStorageDegraded(t *testing.T) {
	h := New(Config{}, func() ([]Family, error) { return testFamilies(), nil }, func() bool { return true })
	mux := http.NewServeMux()
	h.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestBasicAuthGating(t *testing.T) {
	h := New(Config{BasicAuthUser: "admin", BasicAuthPass: "secret"}, func() ([]Family, error) { return nil, nil }, nil)
	mux := http.NewServeMux()
	h.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req2.SetBasicAuth("admin", "secret")
	w2 := httptest.NewRecorder()
	mux.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestHealthEndpoint(t *testing.T) {
	h := New(Config{}, func() ([]Family, error) { return nil, nil }, func() bool { return false })
	mux := http.NewServeMux()
	h.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "healthy"))
}

func TestInfoEndpointReportsPortAndVersion(t *testing.T) {
	h := New(Config{Version: "1.2.3", Port: 9100, StartedAt: time.Now().Add(-time.Minute)}, func() ([]Family, error) { return nil, nil }, nil)
	mux := http.NewServeMux()
	h.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version":"1.2.3"`)
	assert.Contains(t, w.Body.String(), `"port":9100`)
}

func TestSlowRequestLogCapturesOverLimitRequests(t *testing.T) {
	h := New(Config{SlowRequestLimit: time.Millisecond}, func() ([]Family, error) {
		time.Sleep(5 * time.Millisecond)
		return nil, nil
	}, nil)
	mux := http.NewServeMux()
	h.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	slow := h.SlowRequests()
	require.Len(t, slow, 1)
	assert.Equal(t, "/metrics", slow[0].Path)
}
