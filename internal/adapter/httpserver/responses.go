package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sarangn19/exam-assistant/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy onto an HTTP status and a stable code.
// Provider faults surface as 502 (bad upstream answer or credentials) or 503
// (transient, worth retrying later).
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errInvalidArgument):
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, domain.ErrInputRejected):
		return http.StatusBadRequest, "INPUT_REJECTED"
	case errors.Is(err, domain.ErrInvalidMode):
		return http.StatusBadRequest, "INVALID_MODE"
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrAuth):
		return http.StatusBadGateway, "UPSTREAM_AUTH"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadGateway, "UPSTREAM_INVALID_RESPONSE"
	case errors.Is(err, domain.ErrRateLimit):
		return http.StatusServiceUnavailable, "UPSTREAM_RATE_LIMIT"
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusServiceUnavailable, "UPSTREAM_TIMEOUT"
	case errors.Is(err, domain.ErrServer):
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"
	case errors.Is(err, domain.ErrNetwork):
		return http.StatusServiceUnavailable, "UPSTREAM_UNREACHABLE"
	}
	return http.StatusInternalServerError, "INTERNAL"
}

func writeError(w http.ResponseWriter, r *http.Request, err error, details any) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		LoggerFrom(r).Error("request failed", slog.Any("error", err))
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorEnvelope{Error: apiError{
		Code:      code,
		Message:   msg,
		Details:   details,
		RequestID: r.Header.Get(RequestIDHeader),
	}})
}
