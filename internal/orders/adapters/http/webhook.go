package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
)

const (
	HeaderSignature         = "X-Signature"
	HeaderRazorpaySignature = "X-Razorpay-Signature"
)

// handleWebhook passes the raw body to the reconciler; the signature covers
// the exact bytes so the body is never re-encoded. Any 5xx makes the gateway
// redeliver, which is safe because processing is idempotent.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		fail(w, http.StatusBadRequest, ErrCodeBadRequest, "unreadable webhook body")
		return
	}

	signature := r.Header.Get(HeaderSignature)
	if signature == "" {
		signature = r.Header.Get(HeaderRazorpaySignature)
	}

	result, err := h.service.HandleWebhook(r.Context(), body, signature)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, domain.ErrUnauthenticated):
		fail(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid signature")
	case errors.Is(err, domain.ErrValidation):
		fail(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	default:
		// Unknown orders and storage failures alike are retried by the gateway.
		status, code := http.StatusInternalServerError, ErrCodeInternal
		h.logger.ErrorContext(r.Context(), "webhook processing failed",
			"error", err,
		)
		fail(w, status, code, "webhook processing failed")
	}
}
