package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

type RefundOrderCommand struct {
	OrderID string
	ActorID string
}

func (c RefundOrderCommand) Validate() error {
	if strings.TrimSpace(c.OrderID) == "" {
		return fmt.Errorf("%w: order_id is required", domain.ErrValidation)
	}
	return nil
}

// RefundOrderCommandHandler flips a paid order to REFUNDED and puts its units
// back on the shelf in one transaction. A paid order cancelled by the owner
// is refunded without restocking a second time.
type RefundOrderCommandHandler struct {
	repo     ports.Repository
	notifier ports.Dispatcher
	now      func() time.Time
}

func NewRefundOrderCommandHandler(repo ports.Repository, notifier ports.Dispatcher) *RefundOrderCommandHandler {
	return &RefundOrderCommandHandler{
		repo:     repo,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (h *RefundOrderCommandHandler) Handle(ctx context.Context, cmd RefundOrderCommand) (*domain.Order, error) {
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

		if order.OrderStatus == domain.OrderRefunded {
			return domain.ErrAlreadyRefunded
		}
		if order.PaymentStatus != domain.PaymentPaid {
			return domain.ErrNotPaid
		}

		before := map[string]any{
			"order_status":   string(order.OrderStatus),
			"payment_status": string(order.PaymentStatus),
		}

		if err := tx.UpdateOrderStatus(ctx, order.ID, domain.OrderRefunded, domain.PaymentRefunded); err != nil {
			return err
		}
		// Cancelling already put the units back; only a live order still holds them.
		restock := order.OrderStatus != domain.OrderCancelled
		if restock {
			for _, item := range order.Items {
				if err := tx.IncrementStock(ctx, item.ProductID, item.Quantity); err != nil {
					return err
				}
			}
		}

		now := h.now()
		order.OrderStatus = domain.OrderRefunded
		order.PaymentStatus = domain.PaymentRefunded
		order.UpdatedAt = now

		return tx.AppendAudit(ctx, domain.NewAuditEntry(cmd.ActorID, domain.AuditOrderRefunded, "order", order.ID, map[string]any{
			"refund_amount":  order.FinalAmount.StringFixed(2),
			"stock_restored": restock,
			"before":         before,
			"after": map[string]any{
				"order_status":   string(order.OrderStatus),
				"payment_status": string(order.PaymentStatus),
			},
		}, now))
	})
	if err != nil {
		return nil, err
	}

	h.notifier.Dispatch(orderNotification(ports.NotifyOrderRefunded, *order, nil))

	return order, nil
}
