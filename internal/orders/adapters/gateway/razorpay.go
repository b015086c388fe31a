// Package gateway implements ports.PaymentGateway against the Razorpay REST API.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

type Config struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Timeout       time.Duration
	// RatePerSecond and Burst bound outbound calls. Zero disables limiting.
	RatePerSecond float64
	Burst         int
	// PlanIDs maps a delivery frequency to the gateway plan billed for it.
	PlanIDs map[domain.Frequency]string
	// TotalCount is the number of billing cycles requested for a new subscription.
	TotalCount int
	// MaxAttempts bounds retries of idempotent subscription calls.
	MaxAttempts uint
}

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d %s: %s", e.StatusCode, e.Code, e.Description)
}

func (e *APIError) temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client talks to the gateway over HTTPS with basic auth.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

var _ ports.PaymentGateway = (*Client)(nil)

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.TotalCount <= 0 {
		cfg.TotalCount = 120
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(cfg.Burst, 1))
	}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: limiter,
	}
}

type orderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// CreateOrder opens a remote order. reference is the local order id; it is
// echoed back in webhooks through notes.order_id.
func (c *Client) CreateOrder(ctx context.Context, amountMinor int64, currency, reference string) (*ports.GatewayOrder, error) {
	req := orderRequest{
		Amount:   amountMinor,
		Currency: currency,
		Receipt:  receipt(reference),
		Notes:    map[string]string{"order_id": reference},
	}
	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/v1/orders", req, &resp); err != nil {
		return nil, err
	}
	return &ports.GatewayOrder{ID: resp.ID, Amount: resp.Amount, Currency: resp.Currency}, nil
}

type subscriptionRequest struct {
	PlanID         string            `json:"plan_id"`
	TotalCount     int               `json:"total_count"`
	CustomerNotify int               `json:"customer_notify"`
	Notes          map[string]string `json:"notes"`
}

type subscriptionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *Client) CreateSubscription(ctx context.Context, plan ports.SubscriptionPlan) (*ports.GatewaySubscription, error) {
	planID, ok := c.cfg.PlanIDs[plan.Frequency]
	if !ok || planID == "" {
		return nil, fmt.Errorf("%w: no gateway plan configured for %s", domain.ErrValidation, plan.Frequency)
	}
	req := subscriptionRequest{
		PlanID:         planID,
		TotalCount:     c.cfg.TotalCount,
		CustomerNotify: 1,
		Notes: map[string]string{
			"subscription_id": plan.Reference,
			"user_id":         plan.CustomerRef,
		},
	}
	var resp subscriptionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/subscriptions", req, &resp); err != nil {
		return nil, err
	}
	return &ports.GatewaySubscription{ID: resp.ID, Status: resp.Status}, nil
}

func (c *Client) PauseSubscription(ctx context.Context, id string) error {
	return c.subscriptionAction(ctx, id, "pause", map[string]any{"pause_at": "now"})
}

func (c *Client) ResumeSubscription(ctx context.Context, id string) error {
	return c.subscriptionAction(ctx, id, "resume", map[string]any{"resume_at": "now"})
}

func (c *Client) CancelSubscription(ctx context.Context, id string) error {
	return c.subscriptionAction(ctx, id, "cancel", map[string]any{"cancel_at_cycle_end": 0})
}

// subscriptionAction retries transient failures: repeating a pause, resume
// or cancel only ever yields ErrAlreadyInState.
func (c *Client) subscriptionAction(ctx context.Context, id, action string, body map[string]any) error {
	if id == "" {
		return fmt.Errorf("%w: gateway subscription id is required", domain.ErrValidation)
	}
	path := "/v1/subscriptions/" + id + "/" + action

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.do(ctx, http.MethodPost, path, body, nil)
		var apiErr *APIError
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.As(err, &apiErr) && alreadyInState(apiErr):
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: %s", ports.ErrAlreadyInState, apiErr.Description))
		case errors.As(err, &apiErr) && !apiErr.temporary():
			return struct{}{}, backoff.Permanent(err)
		default:
			return struct{}{}, err
		}
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(c.cfg.MaxAttempts))
	return err
}

func alreadyInState(err *APIError) bool {
	if err.StatusCode != http.StatusBadRequest {
		return false
	}
	desc := strings.ToLower(err.Description)
	return strings.Contains(desc, "already") || strings.Contains(desc, "not cancellable in cancelled")
}

// VerifySignature checks the hex HMAC-SHA256 of payload under the webhook secret.
func (c *Client) VerifySignature(payload []byte, signature string) bool {
	if c.cfg.WebhookSecret == "" || signature == "" {
		return false
	}
	expected := Sign(payload, c.cfg.WebhookSecret)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// Sign returns the signature the gateway sends for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for gateway rate limit: %w", err)
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode gateway request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call gateway %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e errorResponse
		if json.Unmarshal(raw, &e) == nil {
			apiErr.Code = e.Error.Code
			apiErr.Description = e.Error.Description
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

// receipt fits the reference into the 40 characters the gateway accepts.
func receipt(reference string) string {
	if len(reference) > 40 {
		return reference[:40]
	}
	return reference
}
