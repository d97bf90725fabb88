package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/docker/protein-runner/pkg/errdefs"
	"github.com/docker/protein-runner/pkg/inference"
	"github.com/docker/protein-runner/pkg/logging"
)

const (
	// maxRecordsPerModel bounds the records kept for each model.
	maxRecordsPerModel = 10
	// maxRecordedRequest bounds the request body kept in a record.
	maxRecordedRequest = 1024
)

// recordedPaths are the generation endpoints whose responses are recorded.
var recordedPaths = []string{"/generate", "/design", "/batch-generate"}

type responseRecorder struct {
	http.ResponseWriter
	body       *bytes.Buffer
	statusCode int
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	rr.body.Write(b)
	return rr.ResponseWriter.Write(b)
}

func (rr *responseRecorder) WriteHeader(statusCode int) {
	rr.statusCode = statusCode
	rr.ResponseWriter.WriteHeader(statusCode)
}

// GenerationRecord is one recorded generation call.
type GenerationRecord struct {
	ID         string    `json:"id"`
	Model      string    `json:"model"`
	URL        string    `json:"url"`
	Request    string    `json:"request"`
	Sequences  []string  `json:"sequences"`
	Timestamp  time.Time `json:"timestamp"`
	StatusCode int       `json:"status_code"`

	seq uint64
}

// generated is the part of a generation response the recorder reads. Batch
// responses nest one per item under results.
type generated struct {
	ModelUsed string `json:"model_used"`
	Sequences []struct {
		Sequence string `json:"sequence"`
	} `json:"sequences"`
	Results []struct {
		Result *generated `json:"result"`
	} `json:"results"`
}

// GenerationRecorder keeps the most recent generation calls per model. It
// is the service's sequence history: RecentSequences feeds comparisons
// that ask for stored sequences.
type GenerationRecorder struct {
	log     logging.Logger
	records map[string][]*GenerationRecord
	next    uint64
	m       sync.RWMutex
}

func NewGenerationRecorder(log logging.Logger) *GenerationRecorder {
	return &GenerationRecorder{
		log:     log,
		records: make(map[string][]*GenerationRecord),
	}
}

// Wrap records successful POSTs to the generation endpoints served by next.
func (r *GenerationRecorder) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost || !slices.Contains(recordedPaths, req.URL.Path) {
			next.ServeHTTP(w, req)
			return
		}

		head, err := io.ReadAll(io.LimitReader(req.Body, maxRecordedRequest))
		if err != nil {
			inference.WriteError(r.log, w, errdefs.Wrap(errdefs.KindInvalidParameters, "record", err, "reading request body"))
			return
		}
		req.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(head), req.Body), req.Body}

		rr := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
		next.ServeHTTP(rr, req)
		if rr.statusCode != http.StatusOK {
			return
		}
		r.RecordResponse(req.URL.Path, string(head), rr.body.Bytes())
	})
}

// RecordResponse records the sequences of a generation response body.
func (r *GenerationRecorder) RecordResponse(url, request string, body []byte) {
	var resp generated
	if err := json.Unmarshal(body, &resp); err != nil {
		r.log.Warnf("Unrecordable response from %s: %v", url, err)
		return
	}

	items := []*generated{&resp}
	if len(resp.Results) > 0 {
		items = items[:0]
		for _, res := range resp.Results {
			if res.Result != nil {
				items = append(items, res.Result)
			}
		}
	}

	r.m.Lock()
	defer r.m.Unlock()
	for _, item := range items {
		if item.ModelUsed == "" {
			continue
		}
		r.next++
		record := &GenerationRecord{
			ID:         fmt.Sprintf("%s_%d", item.ModelUsed, r.next),
			Model:      item.ModelUsed,
			URL:        url,
			Request:    request,
			Sequences:  make([]string, 0, len(item.Sequences)),
			Timestamp:  time.Now(),
			StatusCode: http.StatusOK,
			seq:        r.next,
		}
		for _, s := range item.Sequences {
			record.Sequences = append(record.Sequences, s.Sequence)
		}
		records := append(r.records[item.ModelUsed], record)
		if len(records) > maxRecordsPerModel {
			records = records[1:]
		}
		r.records[item.ModelUsed] = records
	}
}

// RecentSequences returns up to limit recorded sequences, newest first.
func (r *GenerationRecorder) RecentSequences(_ context.Context, limit int) ([]string, error) {
	r.m.RLock()
	var all []*GenerationRecord
	for _, records := range r.records {
		all = append(all, records...)
	}
	r.m.RUnlock()

	slices.SortFunc(all, func(a, b *GenerationRecord) int {
		switch {
		case a.seq > b.seq:
			return -1
		case a.seq < b.seq:
			return 1
		}
		return 0
	})
	var out []string
	for _, record := range all {
		for _, s := range record.Sequences {
			if len(out) == limit {
				return out, nil
			}
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *GenerationRecorder) GetRecordsByModelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		model := req.URL.Query().Get("model")
		if model == "" {
			inference.WriteError(r.log, w, errdefs.InvalidParameters("records", "a 'model' query parameter is required"))
			return
		}

		records := r.GetRecordsByModel(model)
		if records == nil {
			inference.WriteError(r.log, w, errdefs.New(errdefs.KindUnknownModel, "records", "no records found for model %q", model))
			return
		}

		inference.WriteJSON(r.log, w, http.StatusOK, map[string]any{
			"model":   model,
			"records": records,
			"count":   len(records),
		})
	}
}

func (r *GenerationRecorder) GetRecordsByModel(model string) []*GenerationRecord {
	r.m.RLock()
	defer r.m.RUnlock()

	if modelRecords, exists := r.records[model]; exists {
		return slices.Clone(modelRecords)
	}
	return nil
}
