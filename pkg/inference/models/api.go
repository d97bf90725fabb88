package models

import (
	"net/http"
	"slices"
	"strings"

	"github.com/docker/protein-runner/pkg/inference"
	"github.com/docker/protein-runner/pkg/internal/utils"
	"github.com/docker/protein-runner/pkg/logging"
)

// StatusResponse is the body of GET /models/status.
type StatusResponse struct {
	Models []Descriptor `json:"models"`
	Health Health       `json:"health"`
}

// HTTPHandler serves the model lifecycle endpoints.
type HTTPHandler struct {
	// log is the associated logger.
	log logging.Logger
	// registry is the shared model registry.
	registry *Registry
	// router is the HTTP request router.
	router *http.ServeMux
}

// NewHTTPHandler creates the lifecycle endpoints for registry.
func NewHTTPHandler(log logging.Logger, registry *Registry) *HTTPHandler {
	h := &HTTPHandler{
		log:      log,
		registry: registry,
		router:   http.NewServeMux(),
	}
	for route, handler := range h.routeHandlers() {
		h.router.HandleFunc(route, handler)
	}
	return h
}

func (h *HTTPHandler) routeHandlers() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"GET /models/status":         h.handleStatus,
		"GET /models/{name}/info":    h.handleInfo,
		"POST /models/{name}/load":   h.handleLoad,
		"POST /models/{name}/unload": h.handleUnload,
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

func modelName(r *http.Request) string {
	return strings.ToLower(r.PathValue("name"))
}

// handleStatus handles GET /models/status requests.
func (h *HTTPHandler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	inference.WriteJSON(h.log, w, http.StatusOK, StatusResponse{
		Models: h.registry.Status(),
		Health: h.registry.Health(),
	})
}

// handleInfo handles GET /models/{name}/info requests.
func (h *HTTPHandler) handleInfo(w http.ResponseWriter, r *http.Request) {
	d, err := h.registry.Info(modelName(r))
	if err != nil {
		inference.WriteError(h.log, w, err)
		return
	}
	inference.WriteJSON(h.log, w, http.StatusOK, d)
}

// handleLoad handles POST /models/{name}/load requests.
func (h *HTTPHandler) handleLoad(w http.ResponseWriter, r *http.Request) {
	name := modelName(r)
	h.log.Infof("Load requested for model %s", utils.SanitizeForLog(name))
	if err := h.registry.Load(r.Context(), name); err != nil {
		inference.WriteError(h.log, w, err)
		return
	}
	d, err := h.registry.Info(name)
	if err != nil {
		inference.WriteError(h.log, w, err)
		return
	}
	inference.WriteJSON(h.log, w, http.StatusOK, d)
}

// handleUnload handles POST /models/{name}/unload requests.
func (h *HTTPHandler) handleUnload(w http.ResponseWriter, r *http.Request) {
	name := modelName(r)
	h.log.Infof("Unload requested for model %s", utils.SanitizeForLog(name))
	if err := h.registry.Unload(r.Context(), name); err != nil {
		inference.WriteError(h.log, w, err)
		return
	}
	d, err := h.registry.Info(name)
	if err != nil {
		inference.WriteError(h.log, w, err)
		return
	}
	inference.WriteJSON(h.log, w, http.StatusOK, d)
}
