package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	idempotency "github.com/aspect2729/indostarnaturals-sub000/internal/idempotency/postgres"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

const uniqueViolation = "23505"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Repository implements ports.Repository on Postgres. A Repository returned
// to a WithinTx callback runs every statement on that transaction.
type Repository struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

var _ ports.Repository = (*Repository)(nil)

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, q: pool}
}

func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ports.Repository) error) error {
	if r.inTx {
		return fn(ctx, r)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Repository{pool: r.pool, q: tx, inTx: true})
	})
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (r *Repository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	query := `
		SELECT id, role, COALESCE(email, ''), COALESCE(phone, '')
		FROM users
		WHERE id = $1
	`

	var u domain.User
	err := r.q.QueryRow(ctx, query, id).Scan(&u.ID, &u.Role, &u.Email, &u.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("select user: %w", err)
	}

	return &u, nil
}

func (r *Repository) AddressBelongsTo(ctx context.Context, addressID, userID string) (bool, error) {
	var owned bool
	err := r.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM addresses WHERE id = $1 AND user_id = $2)`,
		addressID, userID,
	).Scan(&owned)
	if err != nil {
		return false, fmt.Errorf("check address owner: %w", err)
	}
	return owned, nil
}

const productColumns = `
	id, name, sku, COALESCE(category_id, ''), consumer_price, distributor_price, stock_quantity, is_active
`

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.SKU,
		&p.CategoryID,
		&p.ConsumerPrice,
		&p.DistributorPrice,
		&p.StockQuantity,
		&p.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProductNotFound
		}
		return nil, fmt.Errorf("select product: %w", err)
	}
	return &p, nil
}

func (r *Repository) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return scanProduct(r.q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (r *Repository) LockProduct(ctx context.Context, id string) (*domain.Product, error) {
	return scanProduct(r.q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
}

// DecrementStock is a single conditional UPDATE, so two writers can never
// both pass the stock check for the same units.
func (r *Repository) DecrementStock(ctx context.Context, productID string, qty int) error {
	query := `
		UPDATE products
		SET stock_quantity = stock_quantity - $1, updated_at = NOW()
		WHERE id = $2 AND stock_quantity >= $1
	`

	tag, err := r.q.Exec(ctx, query, qty, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	if tag.RowsAffected() == 0 {
		p, err := r.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		return &domain.StockError{
			ProductID: productID,
			Requested: qty,
			Available: p.StockQuantity,
			Err:       domain.ErrInsufficientStock,
		}
	}

	return nil
}

func (r *Repository) IncrementStock(ctx context.Context, productID string, qty int) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE products SET stock_quantity = stock_quantity + $1, updated_at = NOW() WHERE id = $2`,
		qty, productID,
	)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (r *Repository) ListDiscountRules(ctx context.Context) ([]domain.BulkDiscountRule, error) {
	query := `
		SELECT id, COALESCE(product_id, ''), COALESCE(category_id, ''), min_quantity, discount_percentage, is_active
		FROM bulk_discount_rules
		WHERE is_active
		ORDER BY id
	`

	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query discount rules: %w", err)
	}

	rules, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.BulkDiscountRule, error) {
		var rule domain.BulkDiscountRule
		err := row.Scan(&rule.ID, &rule.ProductID, &rule.CategoryID, &rule.MinQuantity, &rule.DiscountPercentage, &rule.IsActive)
		return rule, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan discount rules: %w", err)
	}

	return rules, nil
}

func (r *Repository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var cart domain.Cart
	err := r.q.QueryRow(ctx,
		`SELECT id, user_id, discount_amount FROM carts WHERE user_id = $1`,
		userID,
	).Scan(&cart.ID, &cart.UserID, &cart.DiscountAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEmptyCart
		}
		return nil, fmt.Errorf("select cart: %w", err)
	}

	query := `
		SELECT ci.product_id, ci.quantity, ci.unit_price,
		       p.id, p.name, p.sku, COALESCE(p.category_id, ''), p.consumer_price, p.distributor_price,
		       p.stock_quantity, p.is_active
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.created_at, ci.product_id
	`

	rows, err := r.q.Query(ctx, query, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}

	cart.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CartItem, error) {
		var item domain.CartItem
		err := row.Scan(
			&item.ProductID,
			&item.Quantity,
			&item.UnitPrice,
			&item.Product.ID,
			&item.Product.Name,
			&item.Product.SKU,
			&item.Product.CategoryID,
			&item.Product.ConsumerPrice,
			&item.Product.DistributorPrice,
			&item.Product.StockQuantity,
			&item.Product.IsActive,
		)
		return item, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan cart items: %w", err)
	}

	if len(cart.Items) == 0 {
		return nil, domain.ErrEmptyCart
	}

	return &cart, nil
}

func (r *Repository) ClearCart(ctx context.Context, cartID string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("delete cart items: %w", err)
	}
	if _, err := r.q.Exec(ctx, `UPDATE carts SET discount_amount = 0, updated_at = NOW() WHERE id = $1`, cartID); err != nil {
		return fmt.Errorf("reset cart discount: %w", err)
	}
	return nil
}

func (r *Repository) CreateOrder(ctx context.Context, order domain.Order) error {
	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO orders (
			id, order_number, user_id, address_id, subscription_id, delivery_date,
			total_amount, discount_amount, final_amount, order_status, payment_status,
			gateway_order_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		order.ID,
		order.OrderNumber,
		order.UserID,
		order.AddressID,
		nullable(order.SubscriptionID),
		order.DeliveryDate,
		order.TotalAmount,
		order.DiscountAmount,
		order.FinalAmount,
		order.OrderStatus,
		order.PaymentStatus,
		nullable(order.GatewayOrderID),
		order.CreatedAt,
		order.UpdatedAt,
	)
	for _, item := range order.Items {
		batch.Queue(`
			INSERT INTO order_items (order_id, product_id, category_id, quantity, unit_price, total_price)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			order.ID, item.ProductID, nullable(item.CategoryID), item.Quantity, item.UnitPrice, item.TotalPrice,
		)
	}

	if err := r.q.SendBatch(ctx, batch).Close(); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order %s already exists", domain.ErrConflict, order.OrderNumber)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}

const orderColumns = `
	id, order_number, user_id, address_id, COALESCE(subscription_id, ''), delivery_date,
	total_amount, discount_amount, final_amount, order_status, payment_status,
	COALESCE(gateway_order_id, ''), created_at, updated_at
`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.UserID,
		&o.AddressID,
		&o.SubscriptionID,
		&o.DeliveryDate,
		&o.TotalAmount,
		&o.DiscountAmount,
		&o.FinalAmount,
		&o.OrderStatus,
		&o.PaymentStatus,
		&o.GatewayOrderID,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	return o, err
}

func (r *Repository) getOrder(ctx context.Context, query, id string) (*domain.Order, error) {
	order, err := scanOrder(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	items, err := r.orderItems(ctx, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]

	return &order, nil
}

func (r *Repository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return r.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *Repository) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	return r.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *Repository) orderItems(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	query := `
		SELECT order_id, product_id, COALESCE(category_id, ''), quantity, unit_price, total_price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id
	`

	rows, err := r.q.Query(ctx, query, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := rows.Scan(&orderID, &item.ProductID, &item.CategoryID, &item.Quantity, &item.UnitPrice, &item.TotalPrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items[orderID] = append(items[orderID], item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

func (r *Repository) ListOrders(ctx context.Context, filter ports.ListFilter) ([]domain.Order, error) {
	filter = filter.Normalized()

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1::text IS NULL OR user_id = $1)
		  AND ($2::text IS NULL OR order_status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`

	var statusFilter *string
	if filter.Status != nil {
		s := string(*filter.Status)
		statusFilter = &s
	}

	offset := (filter.Page - 1) * filter.PageSize

	rows, err := r.q.Query(ctx, query, nullable(filter.UserID), statusFilter, filter.PageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}

	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan orders: %w", err)
	}
	if len(orders) == 0 {
		return []domain.Order{}, nil
	}

	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	items, err := r.orderItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}

	return orders, nil
}

func (r *Repository) UpdateOrderStatus(ctx context.Context, id string, orderStatus domain.OrderStatus, paymentStatus domain.PaymentStatus) error {
	query := `
		UPDATE orders
		SET order_status = $1, payment_status = $2, updated_at = $3
		WHERE id = $4
	`

	tag, err := r.q.Exec(ctx, query, orderStatus, paymentStatus, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}

	return nil
}

func (r *Repository) SetGatewayOrderID(ctx context.Context, id, gatewayOrderID string) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE orders SET gateway_order_id = $1, updated_at = $2 WHERE id = $3`,
		gatewayOrderID, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update gateway order id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *Repository) CreatePayment(ctx context.Context, p domain.Payment) (bool, error) {
	query := `
		INSERT INTO payments (
			id, order_id, subscription_id, razorpay_payment_id, razorpay_order_id,
			amount, currency, status, method, error_reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (razorpay_payment_id) DO NOTHING
	`

	tag, err := r.q.Exec(ctx, query,
		p.ID,
		nullable(p.OrderID),
		nullable(p.SubscriptionID),
		p.GatewayPaymentID,
		nullable(p.GatewayOrderID),
		p.Amount,
		p.Currency,
		p.Status,
		nullable(p.Method),
		nullable(p.ErrorReason),
		p.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert payment: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *Repository) CreateSubscription(ctx context.Context, s domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			id, user_id, product_id, address_id, plan_frequency, status,
			next_delivery_date, gateway_subscription_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.q.Exec(ctx, query,
		s.ID,
		s.UserID,
		s.ProductID,
		s.AddressID,
		s.PlanFrequency,
		s.Status,
		s.NextDeliveryDate,
		nullable(s.GatewaySubscriptionID),
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: subscription %s already exists", domain.ErrConflict, s.ID)
		}
		return fmt.Errorf("insert subscription: %w", err)
	}

	return nil
}

const subscriptionColumns = `
	id, user_id, product_id, address_id, plan_frequency, status,
	next_delivery_date, COALESCE(gateway_subscription_id, ''), created_at, updated_at
`

func scanSubscription(row pgx.Row) (domain.Subscription, error) {
	var s domain.Subscription
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.ProductID,
		&s.AddressID,
		&s.PlanFrequency,
		&s.Status,
		&s.NextDeliveryDate,
		&s.GatewaySubscriptionID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	return s, err
}

func (r *Repository) getSubscription(ctx context.Context, query string, arg string) (*domain.Subscription, error) {
	s, err := scanSubscription(r.q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("select subscription: %w", err)
	}
	return &s, nil
}

func (r *Repository) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	return r.getSubscription(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
}

func (r *Repository) GetSubscriptionByGatewayID(ctx context.Context, gatewayID string) (*domain.Subscription, error) {
	return r.getSubscription(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE gateway_subscription_id = $1`, gatewayID)
}

func (r *Repository) LockSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	return r.getSubscription(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1 FOR UPDATE`, id)
}

func (r *Repository) listSubscriptions(ctx context.Context, query string, args ...any) ([]domain.Subscription, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}

	subs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Subscription, error) {
		return scanSubscription(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan subscriptions: %w", err)
	}

	return subs, nil
}

func (r *Repository) ListSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error) {
	return r.listSubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
}

func (r *Repository) ListDueSubscriptions(ctx context.Context, day time.Time) ([]domain.Subscription, error) {
	return r.listSubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = $1 AND next_delivery_date <= $2
		 ORDER BY id`,
		domain.SubscriptionActive, domain.Day(day),
	)
}

func (r *Repository) UpdateSubscription(ctx context.Context, s domain.Subscription) error {
	query := `
		UPDATE subscriptions
		SET status = $1, next_delivery_date = $2, gateway_subscription_id = $3, updated_at = $4
		WHERE id = $5
	`

	tag, err := r.q.Exec(ctx, query,
		s.Status,
		s.NextDeliveryDate,
		nullable(s.GatewaySubscriptionID),
		time.Now().UTC(),
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound
	}

	return nil
}

func (r *Repository) AppendAudit(ctx context.Context, e domain.AuditEntry) error {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	query := `
		INSERT INTO audit_logs (id, actor_id, action, entity_type, entity_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	if _, err := r.q.Exec(ctx, query, e.ID, nullable(e.ActorID), e.Action, e.EntityType, e.EntityID, payload, e.CreatedAt); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}

	return nil
}

func (r *Repository) ClaimEvent(ctx context.Context, key domain.EventKey) (bool, error) {
	return idempotency.NewStore(r.q, 0).Claim(ctx, key)
}

func (r *Repository) CreateIntent(ctx context.Context, in domain.GatewayIntent) error {
	query := `
		INSERT INTO gateway_intents (id, subscription_id, actor_id, action, status, attempts, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.q.Exec(ctx, query,
		in.ID, in.SubscriptionID, nullable(in.ActorID), in.Action, in.Status,
		in.Attempts, nullable(in.LastError), in.CreatedAt, in.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert gateway intent: %w", err)
	}

	return nil
}

func (r *Repository) UpdateIntent(ctx context.Context, in domain.GatewayIntent) error {
	query := `
		UPDATE gateway_intents
		SET status = $1, attempts = $2, last_error = $3, updated_at = $4
		WHERE id = $5
	`

	tag, err := r.q.Exec(ctx, query, in.Status, in.Attempts, nullable(in.LastError), in.UpdatedAt, in.ID)
	if err != nil {
		return fmt.Errorf("update gateway intent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: intent %s", domain.ErrNotFound, in.ID)
	}

	return nil
}

func (r *Repository) ListStaleIntents(ctx context.Context, cutoff time.Time, limit int) ([]domain.GatewayIntent, error) {
	query := `
		SELECT id, subscription_id, COALESCE(actor_id, ''), action, status, attempts,
		       COALESCE(last_error, ''), created_at, updated_at
		FROM gateway_intents
		WHERE status = $1 AND updated_at < $2
		ORDER BY created_at
		LIMIT NULLIF($3, 0)
	`

	rows, err := r.q.Query(ctx, query, domain.IntentPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query gateway intents: %w", err)
	}

	intents, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.GatewayIntent, error) {
		var in domain.GatewayIntent
		err := row.Scan(&in.ID, &in.SubscriptionID, &in.ActorID, &in.Action, &in.Status,
			&in.Attempts, &in.LastError, &in.CreatedAt, &in.UpdatedAt)
		return in, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan gateway intents: %w", err)
	}

	return intents, nil
}
