package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// DefaultRazorpayBaseURL — адрес публичного API Razorpay.
const DefaultRazorpayBaseURL = "https://api.razorpay.com"

// RazorpayConfig — учётные данные и адрес API.
type RazorpayConfig struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// RazorpayGateway — клиент Orders API Razorpay.
type RazorpayGateway struct {
	client *resty.Client
	keyID  string
}

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type razorpayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// NewRazorpayGateway создаёт клиента с basic auth key_id:key_secret.
func NewRazorpayGateway(cfg RazorpayConfig) *RazorpayGateway {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultRazorpayBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetBasicAuth(cfg.KeyID, cfg.KeySecret).
		SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}

	return &RazorpayGateway{client: client, keyID: cfg.KeyID}
}

// KeyID возвращает публичный ключ для checkout-виджета.
func (g *RazorpayGateway) KeyID() string {
	return g.keyID
}

// CreateOrder создаёт заказ в Razorpay (POST /v1/orders).
func (g *RazorpayGateway) CreateOrder(ctx context.Context, req domain.GatewayOrderRequest) (domain.GatewayOrder, error) {
	body := map[string]any{
		"amount":   req.AmountMinor,
		"currency": req.Currency,
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/v1/orders")
	if err != nil {
		return domain.GatewayOrder{}, fmt.Errorf("%w: create order: %v", domain.ErrGatewayUnavailable, err)
	}
	return decodeOrder(resp)
}

// FetchOrder читает заказ из Razorpay (GET /v1/orders/{id}).
func (g *RazorpayGateway) FetchOrder(ctx context.Context, gatewayOrderID string) (domain.GatewayOrder, error) {
	resp, err := g.client.R().
		SetContext(ctx).
		SetPathParam("id", gatewayOrderID).
		Get("/v1/orders/{id}")
	if err != nil {
		return domain.GatewayOrder{}, fmt.Errorf("%w: fetch order: %v", domain.ErrGatewayUnavailable, err)
	}
	return decodeOrder(resp)
}

func decodeOrder(resp *resty.Response) (domain.GatewayOrder, error) {
	status := resp.StatusCode()
	switch {
	case status >= http.StatusInternalServerError || status == http.StatusTooManyRequests:
		return domain.GatewayOrder{}, fmt.Errorf("%w: status %d", domain.ErrGatewayUnavailable, status)
	case status != http.StatusOK:
		var apiErr razorpayError
		_ = json.Unmarshal(resp.Body(), &apiErr)
		return domain.GatewayOrder{}, fmt.Errorf("%w: status %d: %s %s",
			domain.ErrGatewayRejected, status, apiErr.Error.Code, apiErr.Error.Description)
	}

	var order razorpayOrder
	if err := json.Unmarshal(resp.Body(), &order); err != nil {
		return domain.GatewayOrder{}, fmt.Errorf("%w: decode order: %v", domain.ErrGatewayUnavailable, err)
	}
	if order.ID == "" {
		return domain.GatewayOrder{}, fmt.Errorf("%w: order id missing in response", domain.ErrGatewayRejected)
	}
	return domain.GatewayOrder{
		ID:          order.ID,
		AmountMinor: order.Amount,
		Currency:    order.Currency,
		Receipt:     order.Receipt,
		Status:      order.Status,
	}, nil
}

var _ domain.PaymentGateway = (*RazorpayGateway)(nil)
