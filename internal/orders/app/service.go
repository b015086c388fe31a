package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/app/commands"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/app/queries"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/app/subscriptions"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/app/webhooks"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/metrics"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

// Service bundles the order, payment and subscription use cases for the API.
type Service struct {
	idemStore ports.IdempotencyStore
	logger    *slog.Logger

	createOrderHandler     commands.CreateOrderHandler
	initiatePaymentHandler *commands.InitiatePaymentCommandHandler
	refundHandler          commands.RefundHandler
	updateStatusHandler    *commands.UpdateOrderStatusCommandHandler

	getOrderHandler     *queries.GetOrderQueryHandler
	listOrdersHandler   *queries.ListOrdersQueryHandler
	validateCartHandler *queries.ValidateCartQueryHandler

	subscriptions *subscriptions.StateMachine
	reconciler    *webhooks.Reconciler
}

// NewService wires required dependencies. location is the calendar the
// delivery scheduler runs in.
func NewService(
	repo ports.Repository,
	gateway ports.PaymentGateway,
	notifier ports.Dispatcher,
	idem ports.IdempotencyStore,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	location *time.Location,
) (*Service, error) {
	reconciler, err := webhooks.NewReconciler(repo, gateway, notifier, logger, metrics, location)
	if err != nil {
		return nil, err
	}

	createOrder := commands.NewCreateOrderCommandHandler(repo, notifier)
	refund := commands.NewRefundOrderCommandHandler(repo, notifier)

	return &Service{
		idemStore: idem,
		logger:    logger,

		createOrderHandler:     commands.NewObservableCreateOrderHandler(createOrder, logger, metrics),
		initiatePaymentHandler: commands.NewInitiatePaymentCommandHandler(repo, gateway),
		refundHandler:          commands.NewObservableRefundHandler(refund, logger, metrics),
		updateStatusHandler:    commands.NewUpdateOrderStatusCommandHandler(repo, notifier),

		getOrderHandler:     queries.NewGetOrderQueryHandler(repo),
		listOrdersHandler:   queries.NewListOrdersQueryHandler(repo),
		validateCartHandler: queries.NewValidateCartQueryHandler(repo),

		subscriptions: subscriptions.NewStateMachine(repo, gateway, notifier, logger, metrics),
		reconciler:    reconciler,
	}, nil
}

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Role   domain.Role
}

// CreateOrderInput captures payload for creating an order.
type CreateOrderInput struct {
	AddressID string `json:"address_id"`
}

// Checkout is the result of placing an order. Payment is nil when the
// gateway could not be reached; the client retries it separately.
type Checkout struct {
	Order   *domain.Order            `json:"order"`
	Payment *commands.PaymentSession `json:"payment,omitempty"`
}

// CreateOrder places an order from the caller's cart and opens a gateway
// payment for it. A gateway failure does not undo the order.
func (s *Service) CreateOrder(ctx context.Context, p Principal, input CreateOrderInput) (*Checkout, error) {
	order, err := s.createOrderHandler.Handle(ctx, commands.CreateOrderCommand{
		UserID:    p.UserID,
		AddressID: input.AddressID,
	})
	if err != nil {
		return nil, err
	}

	checkout := &Checkout{Order: order}
	session, err := s.initiatePaymentHandler.Handle(ctx, commands.InitiatePaymentCommand{OrderID: order.ID, UserID: p.UserID})
	if err != nil {
		s.logger.WarnContext(ctx, "order placed without gateway payment", "error", err, "order_id", order.ID)
		return checkout, nil
	}
	checkout.Order.GatewayOrderID = session.GatewayOrderID
	checkout.Payment = session
	return checkout, nil
}

// InitiatePayment opens (or reopens) a gateway payment for a pending order.
func (s *Service) InitiatePayment(ctx context.Context, p Principal, orderID string) (*commands.PaymentSession, error) {
	return s.initiatePaymentHandler.Handle(ctx, commands.InitiatePaymentCommand{OrderID: orderID, UserID: p.UserID})
}

// GetOrder retrieves an order visible to the caller.
func (s *Service) GetOrder(ctx context.Context, p Principal, id string) (*domain.Order, error) {
	return s.getOrderHandler.Handle(ctx, queries.GetOrderQuery{OrderID: id, UserID: p.UserID, Role: p.Role})
}

// ListOrders returns orders using a filter. Non-owners only see their own.
func (s *Service) ListOrders(ctx context.Context, p Principal, filter ports.ListFilter) ([]domain.Order, error) {
	return s.listOrdersHandler.Handle(ctx, queries.ListOrdersQuery{Filter: filter, UserID: p.UserID, Role: p.Role})
}

// UpdateOrderStatus applies an owner's fulfilment transition.
func (s *Service) UpdateOrderStatus(ctx context.Context, p Principal, id, status string) (*domain.Order, error) {
	parsed, err := domain.ParseOrderStatus(status)
	if err != nil {
		return nil, err
	}
	return s.updateStatusHandler.Handle(ctx, commands.UpdateOrderStatusCommand{OrderID: id, ActorID: p.UserID, Status: parsed})
}

// RefundOrder refunds a paid order and restocks its items.
func (s *Service) RefundOrder(ctx context.Context, p Principal, id string) (*domain.Order, error) {
	return s.refundHandler.Handle(ctx, commands.RefundOrderCommand{OrderID: id, ActorID: p.UserID})
}

// ValidateCart reports every problem with the caller's cart.
func (s *Service) ValidateCart(ctx context.Context, p Principal) (*domain.CartValidation, error) {
	return s.validateCartHandler.Handle(ctx, queries.ValidateCartQuery{UserID: p.UserID})
}

// CreateSubscriptionInput captures payload for starting a subscription.
type CreateSubscriptionInput struct {
	ProductID     string `json:"product_id"`
	AddressID     string `json:"address_id"`
	PlanFrequency string `json:"plan_frequency"`
	StartDate     string `json:"start_date,omitempty"`
}

// CreateSubscription starts a recurring delivery. StartDate is YYYY-MM-DD.
func (s *Service) CreateSubscription(ctx context.Context, p Principal, input CreateSubscriptionInput) (*domain.Subscription, error) {
	var startDate *time.Time
	if input.StartDate != "" {
		parsed, err := time.Parse(time.DateOnly, input.StartDate)
		if err != nil {
			return nil, fmt.Errorf("%w: start_date must be YYYY-MM-DD", domain.ErrValidation)
		}
		startDate = &parsed
	}
	return s.subscriptions.Create(ctx, subscriptions.CreateCommand{
		UserID:        p.UserID,
		ProductID:     input.ProductID,
		AddressID:     input.AddressID,
		PlanFrequency: input.PlanFrequency,
		StartDate:     startDate,
	})
}

func (s *Service) ListSubscriptions(ctx context.Context, p Principal) ([]domain.Subscription, error) {
	return s.subscriptions.List(ctx, p.UserID)
}

// TransitionSubscription pauses, resumes or cancels one of the caller's subscriptions.
func (s *Service) TransitionSubscription(ctx context.Context, p Principal, id string, action domain.SubscriptionAction) (*domain.Subscription, error) {
	return s.subscriptions.Transition(ctx, subscriptions.TransitionCommand{SubscriptionID: id, UserID: p.UserID, Action: action})
}

// HandleWebhook applies a signed gateway callback.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (webhooks.Result, error) {
	return s.reconciler.Handle(ctx, body, signature)
}

// SaveIdempotentResponse writes response details for a key.
func (s *Service) SaveIdempotentResponse(ctx context.Context, key string, response ports.StoredResponse) error {
	return s.idemStore.Save(ctx, key, response)
}

// GetIdempotentResponse retrieves previously stored response data.
func (s *Service) GetIdempotentResponse(ctx context.Context, key string) (*ports.StoredResponse, error) {
	return s.idemStore.Get(ctx, key)
}
