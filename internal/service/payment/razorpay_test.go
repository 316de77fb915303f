package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/payment"
)

func TestRazorpayGateway_CreateOrder(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_test_key", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"order_ABC","amount":110000,"currency":"INR","receipt":"o-1","status":"created"}`))
	}))
	defer srv.Close()

	gw := payment.NewRazorpayGateway(payment.RazorpayConfig{KeyID: "rzp_test_key", KeySecret: "secret", BaseURL: srv.URL})
	order, err := gw.CreateOrder(context.Background(), domain.GatewayOrderRequest{
		AmountMinor: 110000,
		Currency:    "INR",
		Receipt:     "o-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "order_ABC", order.ID)
	assert.Equal(t, int64(110000), order.AmountMinor)
	assert.Equal(t, domain.GatewayOrderCreated, order.Status)
	assert.Equal(t, float64(110000), received["amount"])
	assert.Equal(t, "INR", received["currency"])
	assert.Equal(t, "o-1", received["receipt"])
	assert.Equal(t, "rzp_test_key", gw.KeyID())
}

func TestRazorpayGateway_FetchOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/orders/order_ABC", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"order_ABC","amount":500,"currency":"INR","status":"paid"}`))
	}))
	defer srv.Close()

	gw := payment.NewRazorpayGateway(payment.RazorpayConfig{BaseURL: srv.URL})
	order, err := gw.FetchOrder(context.Background(), "order_ABC")
	require.NoError(t, err)
	assert.Equal(t, domain.GatewayOrderPaid, order.Status)
}

func TestRazorpayGateway_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":{"code":"BAD_REQUEST_ERROR","description":"amount invalid"}}`, want: domain.ErrGatewayRejected},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{}`, want: domain.ErrGatewayRejected},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`, want: domain.ErrGatewayUnavailable},
		{name: "server error", status: http.StatusBadGateway, body: ``, want: domain.ErrGatewayUnavailable},
		{name: "missing id", status: http.StatusOK, body: `{"status":"created"}`, want: domain.ErrGatewayRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			gw := payment.NewRazorpayGateway(payment.RazorpayConfig{BaseURL: srv.URL})
			_, err := gw.CreateOrder(context.Background(), domain.GatewayOrderRequest{AmountMinor: 100, Currency: "INR", Receipt: "r"})
			require.ErrorIs(t, err, tt.want)
			assert.True(t, domain.IsExternalService(err))
		})
	}
}

func TestRazorpayGateway_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	gw := payment.NewRazorpayGateway(payment.RazorpayConfig{BaseURL: url})
	_, err := gw.FetchOrder(context.Background(), "order_X")
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}
