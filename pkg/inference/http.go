package inference

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/docker/protein-runner/pkg/errdefs"
	"github.com/docker/protein-runner/pkg/logging"
)

// maximumRequestBodySize bounds JSON request bodies.
const maximumRequestBodySize = 8 << 20

// StatusFor maps an error kind to an HTTP status code.
func StatusFor(kind errdefs.Kind) int {
	switch kind {
	case errdefs.KindInvalidSequence, errdefs.KindInvalidParameters:
		return http.StatusBadRequest
	case errdefs.KindUnknownModel:
		return http.StatusNotFound
	case errdefs.KindModelUnavailable, errdefs.KindMemoryBudgetExceeded:
		return http.StatusServiceUnavailable
	case errdefs.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(log logging.Logger, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnln("Error while encoding response:", err)
	}
}

// WriteError writes err as a {kind, message} payload. Internal errors are
// logged since their details are not meaningful to clients.
func WriteError(log logging.Logger, w http.ResponseWriter, err error) {
	payload := errdefs.ToPayload(err)
	if payload.Kind == errdefs.KindInternal {
		log.Errorf("Internal error: %v", err)
	}
	WriteJSON(log, w, StatusFor(payload.Kind), payload)
}

// DecodeJSON decodes a request body into v. Malformed bodies are reported
// as invalid parameters.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maximumRequestBodySize))
	if err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			return errdefs.InvalidParameters("decode", "request body exceeds %d bytes", maximumRequestBodySize)
		}
		return errdefs.Wrap(errdefs.KindInternal, "decode", err, "reading request body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errdefs.InvalidParameters("decode", "invalid request body: %v", err)
	}
	return nil
}
