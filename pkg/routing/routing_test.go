package routing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type provider struct {
	routes []string
}

func (p provider) GetRoutes() []string { return p.routes }

func (p provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Pattern", r.Pattern)
	w.WriteHeader(http.StatusTeapot)
}

func TestMountAndNormalize(t *testing.T) {
	mux := NewNormalizedServeMux()
	mux.Mount(provider{routes: []string{"POST /generate", "GET /models/{name}/info"}})

	for _, tc := range []struct {
		method, path, pattern string
		status                int
	}{
		{http.MethodPost, "/generate", "POST /generate", http.StatusTeapot},
		{http.MethodPost, "//generate", "POST /generate", http.StatusTeapot},
		{http.MethodGet, "/models//protgpt2/info", "GET /models/{name}/info", http.StatusTeapot},
		{http.MethodGet, "/generate", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/unknown", "", http.StatusNotFound},
	} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
		require.Equal(t, tc.status, w.Code, tc.path)
		require.Equal(t, tc.pattern, w.Header().Get("X-Pattern"), tc.path)
	}
}
