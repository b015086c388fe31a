package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/app"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"

	maxBodyBytes = 1 << 20
)

var idempotencyKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]{1,128}$`)

// Handler exposes HTTP endpoints for orders, carts and subscriptions.
type Handler struct {
	service *app.Service
	auth    *Authenticator
	logger  *slog.Logger
}

func NewHandler(service *app.Service, auth *Authenticator, logger *slog.Logger) *Handler {
	return &Handler{service: service, auth: auth, logger: logger}
}

// Register binds all routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/gateway", h.handleWebhook)

	mux.Handle("GET /v1/cart/validate", h.auth.Require(h.validateCart))

	mux.Handle("POST /v1/orders", h.auth.Require(h.createOrder))
	mux.Handle("GET /v1/orders", h.auth.Require(h.listOwnOrders))
	mux.Handle("GET /v1/orders/{id}", h.auth.Require(h.getOrder))
	mux.Handle("POST /v1/orders/{id}/payment", h.auth.Require(h.initiatePayment))

	mux.Handle("GET /v1/admin/orders", h.auth.RequireRole(domain.RoleOwner, h.listAllOrders))
	mux.Handle("PATCH /v1/admin/orders/{id}/status", h.auth.RequireRole(domain.RoleOwner, h.updateOrderStatus))
	mux.Handle("POST /v1/admin/orders/{id}/refund", h.auth.RequireRole(domain.RoleOwner, h.refundOrder))

	mux.Handle("POST /v1/subscriptions", h.auth.Require(h.createSubscription))
	mux.Handle("GET /v1/subscriptions", h.auth.Require(h.listSubscriptions))
	mux.Handle("POST /v1/subscriptions/{id}/{action}", h.auth.Require(h.transitionSubscription))
}

func (h *Handler) validateCart(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ValidateCart(r.Context(), principalFrom(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := principalFrom(ctx)

	idemKey := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if idemKey != "" && !idempotencyKeyPattern.MatchString(idemKey) {
		fail(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid Idempotency-Key header")
		return
	}
	// Keys are scoped to the caller so two users cannot collide.
	scopedKey := p.UserID + ":" + idemKey

	if idemKey != "" {
		stored, err := h.service.GetIdempotentResponse(ctx, scopedKey)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		if stored != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(HeaderReplayed, "true")
			w.WriteHeader(stored.StatusCode)
			_, _ = w.Write(stored.Body)
			return
		}
	}

	var input app.CreateOrderInput
	if !h.decode(w, r, &input) {
		return
	}

	checkout, err := h.service.CreateOrder(ctx, p, input)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	body, err := json.Marshal(checkout)
	if err != nil {
		writeError(w, r, h.logger, fmt.Errorf("encode checkout: %w", err))
		return
	}

	if idemKey != "" {
		stored := ports.StoredResponse{StatusCode: http.StatusCreated, Body: body, OrderID: checkout.Order.ID}
		if err := h.service.SaveIdempotentResponse(ctx, scopedKey, stored); err != nil {
			// The order exists; losing the replay record is not worth failing the request.
			h.logger.WarnContext(ctx, "failed to store idempotent response", "error", err, "order_id", checkout.Order.ID)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

func (h *Handler) listOwnOrders(w http.ResponseWriter, r *http.Request) {
	h.listOrders(w, r, true)
}

func (h *Handler) listAllOrders(w http.ResponseWriter, r *http.Request) {
	h.listOrders(w, r, false)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request, own bool) {
	filter, err := parseListFilter(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if own {
		filter.UserID = principalFrom(r.Context()).UserID
	}

	orders, err := h.service.ListOrders(r.Context(), principalFrom(r.Context()), filter)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	normalized := filter.Normalized()
	writeJSON(w, http.StatusOK, map[string]any{
		"orders":    orders,
		"page":      normalized.Page,
		"page_size": normalized.PageSize,
	})
}

func parseListFilter(r *http.Request) (ports.ListFilter, error) {
	var filter ports.ListFilter
	query := r.URL.Query()

	if raw := query.Get("status"); raw != "" {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.Status = &status
	}
	if raw := query.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return filter, fmt.Errorf("%w: page must be a number", domain.ErrValidation)
		}
		filter.Page = page
	}
	if raw := query.Get("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return filter, fmt.Errorf("%w: page_size must be a number", domain.ErrValidation)
		}
		filter.PageSize = size
	}
	return filter, nil
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), principalFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (h *Handler) initiatePayment(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.InitiatePayment(r.Context(), principalFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment": session})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.service.UpdateOrderStatus(r.Context(), principalFrom(r.Context()), r.PathValue("id"), req.Status)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (h *Handler) refundOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.RefundOrder(r.Context(), principalFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	var input app.CreateSubscriptionInput
	if !h.decode(w, r, &input) {
		return
	}

	sub, err := h.service.CreateSubscription(r.Context(), principalFrom(r.Context()), input)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"subscription": sub})
}

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.service.ListSubscriptions(r.Context(), principalFrom(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

func (h *Handler) transitionSubscription(w http.ResponseWriter, r *http.Request) {
	action := domain.SubscriptionAction(r.PathValue("action"))
	switch action {
	case domain.ActionPause, domain.ActionResume, domain.ActionCancel:
	default:
		fail(w, http.StatusNotFound, ErrCodeNotFound, "unknown subscription action")
		return
	}

	sub, err := h.service.TransitionSubscription(r.Context(), principalFrom(r.Context()), r.PathValue("id"), action)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscription": sub})
}

// decode reads a JSON body into v. It answers 400 itself and reports false
// when the body is unusable.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return false
		}
		if errors.Is(err, io.EOF) {
			fail(w, http.StatusBadRequest, ErrCodeBadRequest, "request body is required")
			return false
		}
		fail(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON payload")
		return false
	}
	return true
}
