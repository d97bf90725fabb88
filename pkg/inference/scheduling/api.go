package scheduling

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strconv"

	"github.com/docker/protein-runner/pkg/errdefs"
	"github.com/docker/protein-runner/pkg/gpuinfo"
	"github.com/docker/protein-runner/pkg/inference"
	"github.com/docker/protein-runner/pkg/inference/memory"
	"github.com/docker/protein-runner/pkg/inference/models"
	"github.com/docker/protein-runner/pkg/logging"
	"github.com/docker/protein-runner/pkg/tailbuffer"
)

// defaultLogLines is the number of lines GET /logs returns by default.
const defaultLogLines = 100

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string                `json:"status"`
	Models       models.Health         `json:"models"`
	Accelerators []gpuinfo.Accelerator `json:"accelerators"`
	Fallback     string                `json:"fallback_model"`
}

// MemoryResponse is the body of GET /system/memory.
type MemoryResponse struct {
	memory.Usage
	Models models.Health `json:"models"`
}

// LogsResponse is the body of GET /logs.
type LogsResponse struct {
	Lines []string `json:"lines"`
}

// HTTPHandler serves the protein operation endpoints.
type HTTPHandler struct {
	// log is the associated logger.
	log logging.Logger
	// dispatcher serves single requests.
	dispatcher *Dispatcher
	// coordinator serves batches.
	coordinator *Coordinator
	// registry reports model health.
	registry *models.Registry
	// accelerators are the detected graphics cards.
	accelerators []gpuinfo.Accelerator
	// sysMemInfo reads process and host memory.
	sysMemInfo memory.SystemMemoryInfo
	// logs holds recent log lines. It may be nil.
	logs *tailbuffer.Buffer
	// router is the HTTP request router.
	router *http.ServeMux
}

// NewHTTPHandler creates the operation endpoints.
func NewHTTPHandler(
	log logging.Logger,
	dispatcher *Dispatcher,
	coordinator *Coordinator,
	registry *models.Registry,
	accelerators []gpuinfo.Accelerator,
	sysMemInfo memory.SystemMemoryInfo,
	logs *tailbuffer.Buffer,
) *HTTPHandler {
	h := &HTTPHandler{
		log:          log,
		dispatcher:   dispatcher,
		coordinator:  coordinator,
		registry:     registry,
		accelerators: accelerators,
		sysMemInfo:   sysMemInfo,
		logs:         logs,
		router:       http.NewServeMux(),
	}
	if h.accelerators == nil {
		h.accelerators = []gpuinfo.Accelerator{}
	}
	for route, handler := range h.routeHandlers() {
		h.router.HandleFunc(route, handler)
	}
	return h
}

func (h *HTTPHandler) routeHandlers() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"POST /generate":             h.handleGenerate,
		"POST /design":               h.handleDesign,
		"POST /validate-sequence":    h.handleValidate,
		"POST /analyze-properties":   h.handleAnalyzeProperties,
		"POST /predict-function":     h.handlePredictFunction,
		"POST /analyze-stability":    h.handleAnalyzeStability,
		"POST /predict-structure":    h.handlePredictStructure,
		"POST /predict-interactions": h.handlePredictInteractions,
		"POST /optimize-sequence":    h.handleOptimize,
		"POST /mutate-sequence":      h.handleMutate,
		"POST /compare-sequences":    h.handleCompare,
		"POST /batch-generate":       h.handleBatchGenerate,
		"POST /batch-process":        h.handleBatchProcess,
		"GET /health":                h.handleHealth,
		"GET /logs":                  h.handleLogs,
		"GET /system/memory":         h.handleSystemMemory,
	}
}

// GetRoutes returns the patterns served by the handler.
func (h *HTTPHandler) GetRoutes() []string {
	routes := make([]string, 0, len(h.routeHandlers()))
	for route := range h.routeHandlers() {
		routes = append(routes, route)
	}
	slices.Sort(routes)
	return routes
}

// ServeHTTP implements net/http.Handler.ServeHTTP.
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// serve decodes a request into req, runs op and writes its result.
func serve[Req, Resp any](h *HTTPHandler, w http.ResponseWriter, r *http.Request, req Req, op func(context.Context, Req) (Resp, error)) {
	if err := inference.DecodeJSON(w, r, &req); err != nil {
		inference.WriteError(h.log, w, err)
		return
	}
	resp, err := op(r.Context(), req)
	if err != nil {
		inference.WriteError(h.log, w, err)
		return
	}
	inference.WriteJSON(h.log, w, http.StatusOK, resp)
}

// newGenerationRequest returns a request carrying the defaults applied to
// fields a client omits.
func newGenerationRequest() inference.GenerationRequest {
	return inference.GenerationRequest{
		Length:       inference.DefaultLength,
		Temperature:  inference.DefaultTemperature,
		NumSequences: 1,
	}
}

// handleGenerate handles POST /generate requests.
func (h *HTTPHandler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, newGenerationRequest(), h.dispatcher.Generate)
}

// handleDesign handles POST /design requests.
func (h *HTTPHandler) handleDesign(w http.ResponseWriter, r *http.Request) {
	req := inference.DesignRequest{
		TargetFunction: "enzyme",
		Length:         inference.DefaultLength,
		Temperature:    inference.DefaultTemperature,
		NumDesigns:     1,
	}
	serve(h, w, r, req, h.dispatcher.Design)
}

// handleValidate handles POST /validate-sequence requests.
func (h *HTTPHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, SequenceRequest{}, h.dispatcher.Validate)
}

// handleAnalyzeProperties handles POST /analyze-properties requests.
func (h *HTTPHandler) handleAnalyzeProperties(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, SequenceRequest{}, h.dispatcher.AnalyzeProperties)
}

// handlePredictFunction handles POST /predict-function requests.
func (h *HTTPHandler) handlePredictFunction(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, SequenceRequest{}, h.dispatcher.PredictFunction)
}

// handleAnalyzeStability handles POST /analyze-stability requests.
func (h *HTTPHandler) handleAnalyzeStability(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, StabilityRequest{}, h.dispatcher.AnalyzeStability)
}

// handlePredictStructure handles POST /predict-structure requests.
func (h *HTTPHandler) handlePredictStructure(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, SequenceRequest{}, h.dispatcher.PredictStructure)
}

// handlePredictInteractions handles POST /predict-interactions requests.
func (h *HTTPHandler) handlePredictInteractions(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, InteractionRequest{}, h.dispatcher.PredictInteractions)
}

// handleOptimize handles POST /optimize-sequence requests.
func (h *HTTPHandler) handleOptimize(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, OptimizeRequest{}, h.dispatcher.Optimize)
}

// handleMutate handles POST /mutate-sequence requests.
func (h *HTTPHandler) handleMutate(w http.ResponseWriter, r *http.Request) {
	req := MutateRequest{NumMutations: 1, NumVariants: 1}
	serve(h, w, r, req, h.dispatcher.Mutate)
}

// handleCompare handles POST /compare-sequences requests.
func (h *HTTPHandler) handleCompare(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, CompareRequest{}, h.dispatcher.Compare)
}

// handleBatchGenerate handles POST /batch-generate requests. Omitted
// fields of each request take the single-request defaults.
func (h *HTTPHandler) handleBatchGenerate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Requests []json.RawMessage `json:"requests"`
	}
	if err := inference.DecodeJSON(w, r, &body); err != nil {
		inference.WriteError(h.log, w, err)
		return
	}
	reqs := make([]inference.GenerationRequest, len(body.Requests))
	for i, raw := range body.Requests {
		reqs[i] = newGenerationRequest()
		if err := json.Unmarshal(raw, &reqs[i]); err != nil {
			inference.WriteError(h.log, w, errdefs.InvalidParameters("batch_generate", "invalid request %d: %v", i, err))
			return
		}
	}
	res, err := h.coordinator.BatchGenerate(r.Context(), reqs)
	if err != nil {
		inference.WriteError(h.log, w, err)
		return
	}
	inference.WriteJSON(h.log, w, http.StatusOK, res)
}

// handleBatchProcess handles POST /batch-process requests.
func (h *HTTPHandler) handleBatchProcess(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, BatchProcessRequest{}, h.coordinator.BatchProcess)
}

// handleHealth handles GET /health requests.
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	inference.WriteJSON(h.log, w, http.StatusOK, HealthResponse{
		Status:       "healthy",
		Models:       h.registry.Health(),
		Accelerators: h.accelerators,
		Fallback:     SyntheticModel,
	})
}

// handleSystemMemory handles GET /system/memory requests.
func (h *HTTPHandler) handleSystemMemory(w http.ResponseWriter, _ *http.Request) {
	usage, err := h.sysMemInfo.Usage()
	if err != nil {
		inference.WriteError(h.log, w, errdefs.Wrap(errdefs.KindInternal, "system_memory", err, "reading memory usage"))
		return
	}
	inference.WriteJSON(h.log, w, http.StatusOK, MemoryResponse{
		Usage:  *usage,
		Models: h.registry.Health(),
	})
}

// handleLogs handles GET /logs requests. The optional lines query
// parameter limits the number of lines returned.
func (h *HTTPHandler) handleLogs(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		inference.WriteJSON(h.log, w, http.StatusOK, LogsResponse{Lines: []string{}})
		return
	}
	n := defaultLogLines
	if q := r.URL.Query().Get("lines"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v < 0 {
			inference.WriteError(h.log, w, errdefs.InvalidParameters("logs", "lines must be a non-negative integer, got %q", q))
			return
		}
		n = v
	}
	inference.WriteJSON(h.log, w, http.StatusOK, LogsResponse{Lines: h.logs.Tail(n)})
}
