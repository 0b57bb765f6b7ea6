// Package marshaller turns service results into HTTP payloads and stream frames.
package marshaller

import (
	"encoding/json"
	"net/http"

	"github.com/juju/errors"

	"github.com/webitel/im-forum-delivery/infra/store"
)

// ErrorBody is the structured error payload returned to HTTP callers.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Classify maps the error taxonomy to an HTTP status and a stable code.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, errors.NotValid):
		return http.StatusBadRequest, "invalid"
	case errors.Is(err, errors.NotFound):
		return http.StatusNotFound, "not_found"
	case store.IsUnavailable(err):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// WriteError renders err. Internal failures never leak their message.
func WriteError(w http.ResponseWriter, err error) {
	status, code := Classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	WriteJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: msg}})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
