package httpserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ruteri/nexus-storage-gateway/common"
	"github.com/ruteri/nexus-storage-gateway/kvstore"
	"github.com/ruteri/nexus-storage-gateway/registry"
	"github.com/ruteri/nexus-storage-gateway/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_HealthEndpoints(t *testing.T) {
	_, _, ts := newMockEnv(t, nil)

	code, body := get(t, ts.URL+"/livez")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"alive"}`, body)

	code, body = get(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ready"}`, body)

	code, body = get(t, ts.URL+"/drain")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"draining"}`, body)

	code, body = get(t, ts.URL+"/drain")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"already draining"}`, body)

	code, _ = get(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, body = get(t, ts.URL+"/undrain")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ready"}`, body)

	code, body = get(t, ts.URL+"/undrain")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"already ready"}`, body)
}

func TestServer_Pprof(t *testing.T) {
	gw := new(MockGateway)
	reg := registry.NewFileRegistry(kvstore.NewMemoryStore(), common.DiscardLogger())
	handler := newTestHandler(gw, reg, upload.DefaultPolicy(), nil)

	for _, enabled := range []bool{false, true} {
		srv, err := New(&HTTPServerConfig{Log: common.DiscardLogger(), EnablePprof: enabled}, handler)
		require.NoError(t, err)

		ts := httptest.NewServer(srv.Handler())
		code, _ := get(t, ts.URL+"/debug/pprof/")
		ts.Close()

		if enabled {
			assert.Equal(t, http.StatusOK, code)
		} else {
			assert.Equal(t, http.StatusNotFound, code)
		}
	}
}

func TestServer_RequiresHandler(t *testing.T) {
	_, err := New(&HTTPServerConfig{Log: common.DiscardLogger()}, nil)
	assert.Error(t, err)
}
