package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/config"
)

func newHealthMux(check StoreCheck, driver string) *http.ServeMux {
	cfg := &config.Config{Version: "test-version", Env: "test"}
	cfg.Store.Driver = driver

	mux := http.NewServeMux()
	NewHealthHandler(cfg, check, zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestHealthHandler_HealthAndPing(t *testing.T) {
	mux := newHealthMux(nil, config.StoreDriverMemory)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test-version", resp.Version)
	assert.Equal(t, "ekaya-reconcile", resp.Service)
	assert.Equal(t, "test", resp.Environment)
	assert.Equal(t, "memory", resp.StoreDriver)
}

func TestHealthHandler_Ready(t *testing.T) {
	t.Run("in-process store", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newHealthMux(nil, config.StoreDriverMemory).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ready","store":"memory"}`, rec.Body.String())
	})

	t.Run("store reachable", func(t *testing.T) {
		called := false
		check := func(ctx context.Context) error {
			called = true
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			return nil
		}
		rec := httptest.NewRecorder()
		newHealthMux(check, config.StoreDriverPostgres).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, called)
	})

	t.Run("store down", func(t *testing.T) {
		check := func(context.Context) error {
			return errors.New(`dial "postgres://ekaya:hunter2@db/shop": connection refused`)
		}
		rec := httptest.NewRecorder()
		newHealthMux(check, config.StoreDriverPostgres).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var resp ReadyResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "unavailable", resp.Status)
		assert.Contains(t, resp.Error, "connection refused")
		assert.NotContains(t, resp.Error, "hunter2")
	})
}
