package scheduling

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/docker/protein-runner/pkg/errdefs"
	"github.com/docker/protein-runner/pkg/gpuinfo"
	"github.com/docker/protein-runner/pkg/inference"
	"github.com/docker/protein-runner/pkg/inference/memory"
	"github.com/docker/protein-runner/pkg/logging"
	"github.com/docker/protein-runner/pkg/tailbuffer"
	"github.com/stretchr/testify/require"
)

// fixedMemory reports a fixed memory snapshot.
type fixedMemory struct {
	usage *memory.Usage
	err   error
}

func (f fixedMemory) HaveSufficientMemory(size uint64) (bool, error) {
	return size <= f.GetTotalMemory(), nil
}

func (f fixedMemory) GetTotalMemory() uint64 {
	if f.usage == nil {
		return 0
	}
	return f.usage.Total
}

func (f fixedMemory) Usage() (*memory.Usage, error) {
	return f.usage, f.err
}

var testUsage = &memory.Usage{Resident: 64 << 20, Virtual: 1 << 30, Percent: 0.4, Available: 8 << 30, Total: 16 << 30}

func newTestHandler(t *testing.T) (*HTTPHandler, *tailbuffer.Buffer) {
	t.Helper()
	return newTestHandlerWithMemory(t, fixedMemory{usage: testUsage})
}

func newTestHandlerWithMemory(t *testing.T, info memory.SystemMemoryInfo) (*HTTPHandler, *tailbuffer.Buffer) {
	t.Helper()
	d, registry := newTestDispatcher(t, testSetup{})
	c := NewCoordinator(logging.Discard(), d, nil, CoordinatorConfig{})
	logs := tailbuffer.New(10)
	accelerators := []gpuinfo.Accelerator{{Index: 0, Vendor: "NVIDIA Corporation"}}
	return NewHTTPHandler(logging.Discard(), d, c, registry, accelerators, info, logs), logs
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestGenerateEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)

	w := do(t, h, http.MethodPost, "/generate", `{"model":"nonexistent","length":10}`)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[inference.GenerationResult](t, w)
	require.Equal(t, SyntheticModel, res.ModelUsed)
	require.Len(t, res.Proteins, 1)
	require.Len(t, res.Proteins[0].Sequence, 10)

	w = do(t, h, http.MethodPost, "/generate", `{"model":"nonexistent","length":10,"strict":true}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, errdefs.KindModelUnavailable, decode[errdefs.Payload](t, w).Kind)

	w = do(t, h, http.MethodPost, "/generate", `{"length":0}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, errdefs.KindInvalidParameters, decode[errdefs.Payload](t, w).Kind)

	w = do(t, h, http.MethodPost, "/generate", `{"length":`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodGet, "/generate", "")
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestSequenceEndpoints(t *testing.T) {
	h, _ := newTestHandler(t)
	const body = `{"sequence":"MKTAYIAKQRQISFVKSHFSRQLEERLGLIEVQ"}`
	for _, path := range []string{
		"/validate-sequence",
		"/analyze-properties",
		"/predict-function",
		"/analyze-stability",
		"/predict-structure",
		"/predict-interactions",
		"/optimize-sequence",
		"/mutate-sequence",
	} {
		t.Run(path, func(t *testing.T) {
			w := do(t, h, http.MethodPost, path, body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		})
	}

	w := do(t, h, http.MethodPost, "/predict-function", `{"sequence":""}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, errdefs.KindInvalidSequence, decode[errdefs.Payload](t, w).Kind)

	w = do(t, h, http.MethodPost, "/compare-sequences", `{"sequences":["MKTAYIAKQR","MKTAYLAKQR"]}`)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestBatchEndpoints(t *testing.T) {
	h, _ := newTestHandler(t)
	w := do(t, h, http.MethodPost, "/batch-generate", `{"requests":[{"model":"protgpt2","length":12},{"length":-1}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[BatchResult](t, w)
	require.Equal(t, 2, res.Total)
	require.Equal(t, 1, res.Successful)
	require.Equal(t, 1, res.Failed)
	require.Equal(t, errdefs.KindInvalidParameters, res.Items[1].Error.Kind)

	w = do(t, h, http.MethodPost, "/batch-generate", `{"requests":[]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/batch-process", `{"sequences":["MKTAYIAKQR","AAAA"],"operations":["validate"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[BatchResult](t, w)
	require.Equal(t, 2, res.Successful)
}

func TestHealthAndLogs(t *testing.T) {
	h, logs := newTestHandler(t)
	w := do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[HealthResponse](t, w)
	require.Equal(t, "healthy", health.Status)
	require.Equal(t, []string{"protflash", "protgpt2", "geneverse"}, health.Models.Available)
	require.Len(t, health.Accelerators, 1)

	_, err := logs.Write([]byte("one\ntwo\nthree\n"))
	require.NoError(t, err)
	w = do(t, h, http.MethodGet, "/logs?lines=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"two", "three"}, decode[LogsResponse](t, w).Lines)

	w = do(t, h, http.MethodGet, "/logs?lines=many", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSystemMemory(t *testing.T) {
	h, _ := newTestHandler(t)
	w := do(t, h, http.MethodGet, "/system/memory", "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[MemoryResponse](t, w)
	require.Equal(t, *testUsage, got.Usage)
	require.Positive(t, got.Models.MemoryBudget)
	require.Contains(t, w.Body.String(), `"rss_bytes":67108864`)

	h, _ = newTestHandlerWithMemory(t, fixedMemory{err: errors.New("no procfs")})
	w = do(t, h, http.MethodGet, "/system/memory", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, errdefs.KindInternal, decode[errdefs.Payload](t, w).Kind)
}

func TestGetRoutes(t *testing.T) {
	h, _ := newTestHandler(t)
	routes := h.GetRoutes()
	require.Len(t, routes, 16)
	require.Contains(t, routes, "POST /generate")
	require.Contains(t, routes, "GET /health")
	require.IsNonDecreasing(t, routes)
}
