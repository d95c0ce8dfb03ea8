package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stretchr/testify/require"

	logx "giveawaybot/pkg/logx"
)

func newTestService(health HealthFunc) *Service {
	reg := prometheus.NewRegistry()
	promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "probe_total", Help: "probe"}).Inc()
	return New(Config{}, reg, health, logx.Nop())
}

func get(t *testing.T, h http.Handler, target, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := newTestService(func(context.Context) (any, error) {
		return map[string]int{"armed": 3}, nil
	})
	rec := get(t, s.Handler(Config{}), "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string         `json:"status"`
		Detail map[string]int `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body.Status)
	require.Equal(t, 3, body.Detail["armed"])
}

func TestHealthzDegraded(t *testing.T) {
	s := newTestService(func(context.Context) (any, error) { return nil, errors.New("store down") })
	rec := get(t, s.Handler(Config{}), "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "store down")
}

func TestMetrics(t *testing.T) {
	s := newTestService(nil)
	rec := get(t, s.Handler(Config{}), "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "probe_total 1")
}

func TestTokenGuard(t *testing.T) {
	s := newTestService(nil)
	h := s.Handler(Config{Token: "s3cret"})

	require.Equal(t, http.StatusUnauthorized, get(t, h, "/metrics", "").Code)
	require.Equal(t, http.StatusUnauthorized, get(t, h, "/metrics", "wrong").Code)
	require.Equal(t, http.StatusUnauthorized, get(t, h, "/metrics?token=wrong", "s3cret").Code)
	require.Equal(t, http.StatusOK, get(t, h, "/metrics", "s3cret").Code)
	require.Equal(t, http.StatusOK, get(t, h, "/healthz?token=s3cret", "").Code)
}

func TestPprofOptIn(t *testing.T) {
	s := newTestService(nil)
	require.Equal(t, http.StatusNotFound, get(t, s.Handler(Config{}), "/debug/pprof/", "").Code)

	rec := get(t, s.Handler(Config{Pprof: true}), "/debug/pprof/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "goroutine"))
}

func TestStartServesAndStops(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, nil, nil, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	require.NotNil(t, s.Supervisor())
	s.Stop(ctx)
	require.Nil(t, s.Supervisor())
}

func TestRefusesPublicBindWithoutToken(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, nil, logx.Nop())
	require.NoError(t, s.serveOnce(context.Background()))
}
