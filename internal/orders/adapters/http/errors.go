package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
)

// Error codes returned in the code field of error responses.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeGateway          = "gateway_error"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func fail(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		RequestID: w.Header().Get(HeaderRequestID),
		Code:      code,
		Message:   message,
	})
}

// classify maps an error kind to its HTTP status and code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, ErrCodeUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, ErrCodeForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, domain.ErrExternal):
		return http.StatusBadGateway, ErrCodeGateway
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeError answers with the status of err's kind. Server-side failures are
// logged in full and reported to the client without detail.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, code := classify(err)
	message := err.Error()

	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "api error",
			"error", err,
			"status", status,
			"code", code,
			"method", r.Method,
			"path", r.URL.Path,
		)
		if status == http.StatusInternalServerError {
			message = "internal server error"
		} else {
			message = "payment gateway unavailable"
		}
	}

	fail(w, status, code, message)
}
