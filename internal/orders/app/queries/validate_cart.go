package queries

import (
	"context"
	"fmt"
	"strings"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

type ValidateCartQuery struct {
	UserID string
}

// ValidateCartQueryHandler reports every problem with a user's cart without
// changing anything.
type ValidateCartQueryHandler struct {
	repo ports.CartRepository
}

func NewValidateCartQueryHandler(repo ports.CartRepository) *ValidateCartQueryHandler {
	return &ValidateCartQueryHandler{repo: repo}
}

func (h *ValidateCartQueryHandler) Handle(ctx context.Context, query ValidateCartQuery) (*domain.CartValidation, error) {
	if strings.TrimSpace(query.UserID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}

	cart, err := h.repo.GetCart(ctx, query.UserID)
	if err != nil {
		return nil, err
	}

	result := domain.ValidateCart(cart.Items)
	return &result, nil
}
