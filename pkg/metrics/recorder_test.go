package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/docker/protein-runner/pkg/errdefs"
	"github.com/docker/protein-runner/pkg/logging"
	"github.com/stretchr/testify/require"
)

// echoGeneration answers with the given body and records the request body
// it saw.
func echoGeneration(status int, body string, seen *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		*seen = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return w
}

func TestRecorderWrap(t *testing.T) {
	r := NewGenerationRecorder(logging.Discard())
	var seen string
	const resp = `{"model_used":"protgpt2","sequences":[{"sequence":"MKT"},{"sequence":"MAL"}]}`
	h := r.Wrap(echoGeneration(http.StatusOK, resp, &seen))

	request := `{"model":"protgpt2","length":3,"note":"` + strings.Repeat("x", 2*maxRecordedRequest) + `"}`
	w := post(h, "/generate", request)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, resp, w.Body.String())
	require.Equal(t, request, seen, "the handler reads the full body")

	records := r.GetRecordsByModel("protgpt2")
	require.Len(t, records, 1)
	require.Equal(t, []string{"MKT", "MAL"}, records[0].Sequences)
	require.Len(t, records[0].Request, maxRecordedRequest)

	// Failures and other endpoints are not recorded.
	post(r.Wrap(echoGeneration(http.StatusBadRequest, `{"kind":"invalid_parameters"}`, &seen)), "/generate", `{}`)
	post(h, "/validate-sequence", `{"sequence":"MKT"}`)
	require.Len(t, r.GetRecordsByModel("protgpt2"), 1)
}

func TestRecorderBatchAndHistory(t *testing.T) {
	r := NewGenerationRecorder(logging.Discard())
	r.RecordResponse("/generate", "", []byte(`{"model_used":"protflash","sequences":[{"sequence":"AAA"}]}`))
	r.RecordResponse("/batch-generate", "", []byte(`{"results":[
		{"success":true,"result":{"model_used":"protgpt2","sequences":[{"sequence":"CCC"},{"sequence":"DDD"}]}},
		{"success":false,"error":{"kind":"invalid_parameters"}},
		{"success":true,"result":{"model_used":"synthetic-fallback","sequences":[{"sequence":"EEE"}]}}
	]}`))
	r.RecordResponse("/generate", "", []byte(`not json`))

	got, err := r.RecentSequences(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, []string{"EEE", "CCC", "DDD"}, got)

	got, err = r.RecentSequences(context.Background(), 20)
	require.NoError(t, err)
	require.Equal(t, []string{"EEE", "CCC", "DDD", "AAA"}, got)
}

func TestRecorderKeepsRecentRecords(t *testing.T) {
	r := NewGenerationRecorder(logging.Discard())
	for range maxRecordsPerModel + 3 {
		r.RecordResponse("/generate", "", []byte(`{"model_used":"protgpt2","sequences":[{"sequence":"MKT"}]}`))
	}
	records := r.GetRecordsByModel("protgpt2")
	require.Len(t, records, maxRecordsPerModel)
	require.Equal(t, "protgpt2_4", records[0].ID)
}

func TestRecordsHandler(t *testing.T) {
	r := NewGenerationRecorder(logging.Discard())
	r.RecordResponse("/design", "", []byte(`{"model_used":"geneverse","sequences":[{"sequence":"MKT"}]}`))
	h := r.GetRecordsByModelHandler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/records?model=geneverse", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Count   int                 `json:"count"`
		Records []*GenerationRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	require.Equal(t, "/design", body.Records[0].URL)

	var payload errdefs.Payload
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/records", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Equal(t, errdefs.KindInvalidParameters, payload.Kind)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/records?model=protgpt2", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Equal(t, errdefs.KindUnknownModel, payload.Kind)
	require.Contains(t, payload.Message, "protgpt2")
}

func TestRecorderUnreadableBody(t *testing.T) {
	r := NewGenerationRecorder(logging.Discard())
	var seen string
	h := r.Wrap(echoGeneration(http.StatusOK, `{}`, &seen))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/generate", iotest.ErrReader(errors.New("reset"))))
	require.Equal(t, http.StatusBadRequest, w.Code)
	var payload errdefs.Payload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Equal(t, errdefs.KindInvalidParameters, payload.Kind)
	require.Empty(t, seen)
}
