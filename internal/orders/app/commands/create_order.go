package commands

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

type CreateOrderCommand struct {
	UserID    string
	AddressID string
}

func (c CreateOrderCommand) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(c.AddressID) == "" {
		return fmt.Errorf("%w: address_id is required", domain.ErrValidation)
	}
	return nil
}

type CreateOrderHandler interface {
	Handle(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, error)
}

// CreateOrderCommandHandler turns a user's cart into a PENDING order. Every
// read that the order depends on happens inside the same transaction as the
// writes.
type CreateOrderCommandHandler struct {
	repo     ports.Repository
	notifier ports.Dispatcher
	now      func() time.Time
}

func NewCreateOrderCommandHandler(repo ports.Repository, notifier ports.Dispatcher) *CreateOrderCommandHandler {
	return &CreateOrderCommandHandler{
		repo:     repo,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (h *CreateOrderCommandHandler) Handle(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var order domain.Order
	err := h.repo.WithinTx(ctx, func(ctx context.Context, tx ports.Repository) error {
		user, err := tx.GetUser(ctx, cmd.UserID)
		if err != nil {
			return err
		}

		owned, err := tx.AddressBelongsTo(ctx, cmd.AddressID, cmd.UserID)
		if err != nil {
			return err
		}
		if !owned {
			return domain.ErrAddressNotOwned
		}

		cart, err := tx.GetCart(ctx, cmd.UserID)
		if err != nil {
			return err
		}

		items, err := lockCartProducts(ctx, tx, cart.Items)
		if err != nil {
			return err
		}
		if err := domain.ValidateCart(items).Err(); err != nil {
			return err
		}

		lines := make([]domain.OrderItem, 0, len(items))
		for _, item := range items {
			lines = append(lines, domain.NewOrderItem(item.ProductID, item.Product.CategoryID, item.Quantity, item.UnitPrice))
		}

		discount := cart.DiscountAmount
		if user.Role == domain.RoleDistributor {
			rules, err := tx.ListDiscountRules(ctx)
			if err != nil {
				return err
			}
			discount = discount.Add(domain.ApplyBulkDiscounts(user.Role, lines, rules))
		}

		order, err = domain.NewOrder(user.ID, cmd.AddressID, lines, discount, h.now())
		if err != nil {
			return err
		}

		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		for _, line := range order.Items {
			if err := tx.DecrementStock(ctx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}
		if err := tx.ClearCart(ctx, cart.ID); err != nil {
			return err
		}

		return tx.AppendAudit(ctx, domain.NewAuditEntry(user.ID, domain.AuditOrderCreated, "order", order.ID, map[string]any{
			"order_number":    order.OrderNumber,
			"total_amount":    order.TotalAmount.StringFixed(2),
			"discount_amount": order.DiscountAmount.StringFixed(2),
			"final_amount":    order.FinalAmount.StringFixed(2),
			"items":           len(order.Items),
		}, order.CreatedAt))
	})
	if err != nil {
		return nil, err
	}

	h.notifier.Dispatch(orderNotification(ports.NotifyOrderPlaced, order, nil))

	return &order, nil
}

// lockCartProducts re-reads every product under a row lock, in id order so
// concurrent checkouts sharing products cannot deadlock. The cart's locked
// unit prices are kept.
func lockCartProducts(ctx context.Context, tx ports.Repository, items []domain.CartItem) ([]domain.CartItem, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	products := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		p, err := tx.LockProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		products[id] = *p
	}

	fresh := make([]domain.CartItem, len(items))
	for i, item := range items {
		item.Product = products[item.ProductID]
		fresh[i] = item
	}
	return fresh, nil
}

// orderNotification is the template data shared by order notifications.
func orderNotification(kind ports.NotificationKind, order domain.Order, extra map[string]string) ports.Notification {
	data := map[string]string{
		"order_number": order.OrderNumber,
		"amount":       order.FinalAmount.StringFixed(2),
	}
	for k, v := range extra {
		data[k] = v
	}
	return ports.Notification{Kind: kind, UserID: order.UserID, EntityID: order.ID, Data: data}
}
