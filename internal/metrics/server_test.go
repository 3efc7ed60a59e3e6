package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/mfafarm/internal/model"
)

func serve(t *testing.T, srv *http.Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	srv := NewServer(":0", nil)
	rec := serve(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestServer_FarmAbsentWithoutStatus(t *testing.T) {
	srv := NewServer(":0", nil)
	assert.Equal(t, http.StatusNotFound, serve(t, srv, "/farm").Code)
}

func TestServer_Farm(t *testing.T) {
	srv := NewServer(":0", func(context.Context) (any, error) {
		return []map[string]string{{"fqdn": "adfs1.corp.local", "mfa": "running"}}, nil
	})
	rec := serve(t, srv, "/farm")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `[{"fqdn":"adfs1.corp.local","mfa":"running"}]`, rec.Body.String())
}

func TestServer_FarmError(t *testing.T) {
	srv := NewServer(":0", func(context.Context) (any, error) {
		return nil, errors.New("farm not initialized")
	})
	rec := serve(t, srv, "/farm")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"farm not initialized"}`, rec.Body.String())
}

func TestServer_MetricsExposesFarmGauges(t *testing.T) {
	ObserveTopology(3)
	ObserveConfigState(model.ConfigSaved)
	NotificationSent(model.NotifyConfigReload, "ok")

	rec := serve(t, NewServer(":0", nil), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mfafarm_topology_nodes 3")
	assert.Contains(t, rec.Body.String(), "mfafarm_config_state 3")
}

func TestObserveServiceState(t *testing.T) {
	ObserveServiceState(model.ServiceMFA, "adfs2.corp.local", model.ServiceRunning)
	got := testutil.ToFloat64(serviceState.WithLabelValues("mfa", "adfs2.corp.local"))
	assert.Equal(t, float64(model.ServiceRunning), got)
}
