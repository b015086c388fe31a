package queries

import (
	"context"
	"fmt"
	"strings"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

// GetOrderQuery represents a request to retrieve an order by its ID on behalf
// of a user. Owners may read any order.
type GetOrderQuery struct {
	OrderID string
	UserID  string
	Role    domain.Role
}

// GetOrderQueryHandler executes GetOrderQuery and returns the order if found.
type GetOrderQueryHandler struct {
	repo ports.OrderRepository
}

// NewGetOrderQueryHandler constructs a GetOrderQueryHandler.
func NewGetOrderQueryHandler(repo ports.OrderRepository) *GetOrderQueryHandler {
	return &GetOrderQueryHandler{repo: repo}
}

// Handle executes the query. Orders belonging to someone else are reported
// as not found.
func (h *GetOrderQueryHandler) Handle(ctx context.Context, query GetOrderQuery) (*domain.Order, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	order, err := h.repo.GetOrder(ctx, query.OrderID)
	if err != nil {
		return nil, err
	}

	if query.Role != domain.RoleOwner && order.UserID != query.UserID {
		return nil, domain.ErrOrderNotFound
	}

	return order, nil
}

// Validate ensures the query has valid parameters.
func (q GetOrderQuery) Validate() error {
	if strings.TrimSpace(q.OrderID) == "" {
		return fmt.Errorf("%w: order_id is required", domain.ErrValidation)
	}
	return nil
}
