package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func get(t *testing.T, s *Server, path string) (int, HealthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func TestHealth(t *testing.T) {
	s := NewServer("0", zaptest.NewLogger(t))
	code, resp := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "UP", resp.Status)
}

func TestReady(t *testing.T) {
	s := NewServer("0", zaptest.NewLogger(t))
	s.RegisterCheck("postgres", func(context.Context) error { return nil })

	code, resp := get(t, s, "/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "READY", resp.Status)
	assert.Equal(t, "ok", resp.Details["postgres"])

	s.RegisterCheck("nats", func(context.Context) error { return errors.New("nats disconnected") })

	code, resp = get(t, s, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "NOT_READY", resp.Status)
	assert.Equal(t, "nats disconnected", resp.Details["nats"])
	assert.Equal(t, "ok", resp.Details["postgres"])
}

func TestMetricsHandler(t *testing.T) {
	s := NewServer("0", zaptest.NewLogger(t))
	s.RegisterMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "# metrics", rec.Body.String())
}
