package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"custodyledger/internal/adapters/exports"
	"custodyledger/internal/core"
	"custodyledger/pkg/domain"
)

// statusClientClosedRequest reports a request whose caller went away before
// the answer was ready. Nothing reads the body; the code shows up in logs and
// metrics.
const statusClientClosedRequest = 499

// errorBody is the JSON envelope of every failed request.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps an error to its HTTP status and stable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnauthorizedCaller):
		return http.StatusForbidden, "unauthorized_caller"
	case errors.Is(err, domain.ErrUnknownProduct):
		return http.StatusNotFound, "unknown_product"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, "client_closed_request"
	case errors.Is(err, core.ErrProcessorStopped),
		errors.Is(err, exports.ErrQueueFull),
		errors.Is(err, exports.ErrStopped),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError hides internal error text from clients.
func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}
