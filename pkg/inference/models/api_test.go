package models

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/docker/protein-runner/pkg/errdefs"
	"github.com/docker/protein-runner/pkg/logging"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHTTPHandler(t *testing.T) {
	r, _ := newTestRegistry(t, 3*gib, 0, map[string]uint64{"a": 2 * gib, "b": 2 * gib, "big": 4 * gib})
	h := NewHTTPHandler(logging.Discard(), r)
	require.Equal(t, []string{
		"GET /models/status",
		"GET /models/{name}/info",
		"POST /models/{name}/load",
		"POST /models/{name}/unload",
	}, h.GetRoutes())

	rec := serve(t, h, http.MethodPost, "/models/A/load")
	require.Equal(t, http.StatusOK, rec.Code)
	var d Descriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	require.Equal(t, "a", d.Name)
	require.True(t, d.Loaded)

	rec = serve(t, h, http.MethodGet, "/models/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Len(t, status.Models, 3)
	require.Equal(t, []string{"a"}, status.Health.LoadedModels)

	rec = serve(t, h, http.MethodPost, "/models/b/load")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve(t, h, http.MethodGet, "/models/a/info")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	require.False(t, d.Loaded)

	rec = serve(t, h, http.MethodPost, "/models/b/unload")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	require.Equal(t, StateUnloaded, d.State)

	rec = serve(t, h, http.MethodGet, "/models/nope/info")
	require.Equal(t, http.StatusNotFound, rec.Code)
	var payload errdefs.Payload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, errdefs.KindUnknownModel, payload.Kind)

	rec = serve(t, h, http.MethodPost, "/models/big/load")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(t, h, http.MethodGet, "/models/a/load")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
