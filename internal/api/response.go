package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Rainbow-0328/dianping/internal/domain"
	"github.com/Rainbow-0328/dianping/internal/logging"
	"github.com/Rainbow-0328/dianping/internal/observability"
)

// Result is the response envelope for every endpoint.
type Result struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg,omitempty"`
	Data     any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Result{Success: true, Data: data})
}

func writeFail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Result{Success: false, ErrorMsg: msg})
}

// writeError maps the error taxonomy onto status codes. Infrastructure
// failures are logged and reported without their cause.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.Op().Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"trace_id", observability.GetTraceID(r.Context()),
			"error", err,
		)
	}
	writeFail(w, status, msg)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrSoldOut):
		return http.StatusConflict, "sold out"
	case errors.Is(err, domain.ErrAlreadyClaimed):
		return http.StatusConflict, "already claimed"
	case errors.Is(err, domain.ErrWindowClosed):
		return http.StatusConflict, "seckill is not open"
	case errors.Is(err, domain.ErrLockUnavailable):
		return http.StatusServiceUnavailable, "busy, please retry"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "service unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// RateLimitedBody is written with 429 responses.
var RateLimitedBody = mustJSON(Result{Success: false, ErrorMsg: "too many requests"})

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
