package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/abcflow/internal/bootstrap"
	"github.com/turtacn/abcflow/internal/config"
)

type fakeHealth struct {
	health map[string]error
}

func (f fakeHealth) Health(context.Context) map[string]error { return f.health }

func (f fakeHealth) MetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthMux(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		mux := newHealthMux(fakeHealth{health: map[string]error{"redis": nil}}, "/metrics")

		rec := get(t, mux, "/healthz")
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = get(t, mux, "/readyz")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ready", rec.Body.String())

		rec = get(t, mux, "/metrics")
		assert.Equal(t, "# metrics", rec.Body.String())
	})

	t.Run("unhealthy backends are listed", func(t *testing.T) {
		mux := newHealthMux(fakeHealth{health: map[string]error{
			"redis":    errors.New("connection refused"),
			"postgres": errors.New("timeout"),
			"minio":    nil,
		}}, "")

		rec := get(t, mux, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "postgres: timeout\nredis: connection refused\n", rec.Body.String())

		rec = get(t, mux, config.DefaultMetricsPath)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestHealthMux_Infrastructure(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Metrics.Namespace = "worker_test"

	infra, err := bootstrap.Init(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer infra.Close()

	mux := newHealthMux(infra, cfg.Metrics.Path)
	assert.Equal(t, http.StatusOK, get(t, mux, "/readyz").Code)
	assert.Contains(t, get(t, mux, "/metrics").Body.String(), "go_goroutines")
}

func TestRun_RequiresKafka(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	err := run(cfg, "", nil)
	assert.Error(t, err)
}

//Personal.AI order the ending
