package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

type InitiatePaymentCommand struct {
	OrderID string
	UserID  string
}

func (c InitiatePaymentCommand) Validate() error {
	if strings.TrimSpace(c.OrderID) == "" {
		return fmt.Errorf("%w: order_id is required", domain.ErrValidation)
	}
	return nil
}

// PaymentSession is what a client needs to open the gateway checkout.
type PaymentSession struct {
	OrderID        string `json:"order_id"`
	OrderNumber    string `json:"order_number"`
	GatewayOrderID string `json:"gateway_order_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

// InitiatePaymentCommandHandler registers a PENDING order with the gateway.
// It is safe to call again after a payment failure or a gateway outage.
type InitiatePaymentCommandHandler struct {
	repo    ports.Repository
	gateway ports.PaymentGateway
}

func NewInitiatePaymentCommandHandler(repo ports.Repository, gateway ports.PaymentGateway) *InitiatePaymentCommandHandler {
	return &InitiatePaymentCommandHandler{repo: repo, gateway: gateway}
}

func (h *InitiatePaymentCommandHandler) Handle(ctx context.Context, cmd InitiatePaymentCommand) (*PaymentSession, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	order, err := h.repo.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if cmd.UserID != "" && order.UserID != cmd.UserID {
		return nil, domain.ErrOrderNotFound
	}
	if order.OrderStatus != domain.OrderPending {
		return nil, fmt.Errorf("%w: order is %s", domain.ErrInvalidTransition, order.OrderStatus)
	}
	if order.PaymentStatus == domain.PaymentPaid || order.PaymentStatus == domain.PaymentRefunded {
		return nil, fmt.Errorf("%w: order payment is %s", domain.ErrConflict, order.PaymentStatus)
	}

	amount := domain.ToMinorUnits(order.FinalAmount)
	remote, err := h.gateway.CreateOrder(ctx, amount, domain.Currency, order.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: create gateway order: %v", domain.ErrExternal, err)
	}

	if err := h.repo.SetGatewayOrderID(ctx, order.ID, remote.ID); err != nil {
		return nil, err
	}

	return &PaymentSession{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		GatewayOrderID: remote.ID,
		Amount:         remote.Amount,
		Currency:       remote.Currency,
	}, nil
}
