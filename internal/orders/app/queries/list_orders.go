package queries

import (
	"context"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

type ListOrdersQuery struct {
	Filter ports.ListFilter
	UserID string
	Role   domain.Role
}

type ListOrdersQueryHandler struct {
	repo ports.OrderRepository
}

func NewListOrdersQueryHandler(repo ports.OrderRepository) *ListOrdersQueryHandler {
	return &ListOrdersQueryHandler{repo: repo}
}

// Handle lists orders newest first. Non-owners only ever see their own.
func (h *ListOrdersQueryHandler) Handle(ctx context.Context, query ListOrdersQuery) ([]domain.Order, error) {
	filter := query.Filter.Normalized()
	if query.Role != domain.RoleOwner {
		filter.UserID = query.UserID
	}
	return h.repo.ListOrders(ctx, filter)
}
