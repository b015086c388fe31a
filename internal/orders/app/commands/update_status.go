package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

type UpdateOrderStatusCommand struct {
	OrderID string
	ActorID string
	Status  domain.OrderStatus
}

func (c UpdateOrderStatusCommand) Validate() error {
	if strings.TrimSpace(c.OrderID) == "" {
		return fmt.Errorf("%w: order_id is required", domain.ErrValidation)
	}
	if _, err := domain.ParseOrderStatus(string(c.Status)); err != nil {
		return err
	}
	return nil
}

// UpdateOrderStatusCommandHandler applies owner-driven fulfilment transitions.
// Cancelling an order that has not shipped returns its stock.
type UpdateOrderStatusCommandHandler struct {
	repo     ports.Repository
	notifier ports.Dispatcher
	now      func() time.Time
}

func NewUpdateOrderStatusCommandHandler(repo ports.Repository, notifier ports.Dispatcher) *UpdateOrderStatusCommandHandler {
	return &UpdateOrderStatusCommandHandler{
		repo:     repo,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (h *UpdateOrderStatusCommandHandler) Handle(ctx context.Context, cmd UpdateOrderStatusCommand) (*domain.Order, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var order *domain.Order
	err := h.repo.WithinTx(ctx, func(ctx context.Context, tx ports.Repository) error {
		var err error
		order, err = tx.LockOrder(ctx, cmd.OrderID)
		if err != nil {
			return err
		}

		if cmd.Status == domain.OrderRefunded {
			return fmt.Errorf("%w: refunds go through the refund endpoint", domain.ErrInvalidTransition)
		}
		if !domain.CanTransition(order.OrderStatus, cmd.Status) {
			return fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, order.OrderStatus, cmd.Status)
		}

		from := order.OrderStatus
		if cmd.Status == domain.OrderCancelled && order.RestocksOnCancel() {
			for _, item := range order.Items {
				if err := tx.IncrementStock(ctx, item.ProductID, item.Quantity); err != nil {
					return err
				}
			}
		}

		if err := tx.UpdateOrderStatus(ctx, order.ID, cmd.Status, order.PaymentStatus); err != nil {
			return err
		}

		now := h.now()
		order.OrderStatus = cmd.Status
		order.UpdatedAt = now

		return tx.AppendAudit(ctx, domain.NewAuditEntry(cmd.ActorID, domain.AuditOrderStatusUpdated, "order", order.ID, map[string]any{
			"from": string(from),
			"to":   string(cmd.Status),
		}, now))
	})
	if err != nil {
		return nil, err
	}

	h.notifier.Dispatch(orderNotification(ports.NotifyOrderStatusChanged, *order, map[string]string{
		"status": string(order.OrderStatus),
	}))

	return order, nil
}
