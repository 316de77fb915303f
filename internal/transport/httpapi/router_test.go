package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/cart"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/coupon"
	"github.com/vladislavdragonenkov/checkout/internal/service/ordering"
	"github.com/vladislavdragonenkov/checkout/internal/service/payment"
	"github.com/vladislavdragonenkov/checkout/internal/service/pricing"
	"github.com/vladislavdragonenkov/checkout/internal/service/reconcile"
	"github.com/vladislavdragonenkov/checkout/internal/service/reservation"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

const (
	testSecret     = "whsec_api"
	testAdminToken = "admin-secret"
)

type apiEnv struct {
	store  *memory.Store
	router *gin.Engine
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	store := memory.NewStore()
	engine := pricing.NewEngine(pricing.DefaultConfig())
	coordinator := payment.NewCoordinator(payment.NewMockGateway(), store, "INR", nil)
	reservations := reservation.NewManager(nil, nil)
	orders := ordering.NewService(store)

	svc := Services{
		Checkout: checkout.NewService(store, engine, reservations, orders, coordinator,
			checkout.WithIdempotency(memory.NewIdempotencyRepository(), 0)),
		Cart:      cart.NewService(store, engine, nil),
		Orders:    orders,
		Coupons:   coupon.NewService(store, nil),
		Reconcile: reconcile.NewHandler(store, coordinator, reservations, testSecret),
	}

	couponID := "c-10"
	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		require.NoError(t, tx.Products().Save(ctx, domain.Product{ID: "p-1", Name: "Widget", Price: decimal.NewFromInt(500), Stock: 10, Active: true}))
		require.NoError(t, tx.Coupons().Save(ctx, domain.Coupon{
			ID:            couponID,
			Code:          "SAVE10",
			DiscountType:  domain.DiscountPercent,
			DiscountValue: decimal.NewFromInt(10),
			Active:        true,
		}))
		return tx.Users().Save(ctx, domain.User{
			ID:      "u-1",
			Email:   "buyer@example.com",
			Address: &domain.Address{FullName: "Asha Rao", Line1: "12 MG Road", City: "Pune", Country: "IN"},
		})
	}))

	return &apiEnv{
		store:  store,
		router: NewRouter(svc, Config{AdminToken: testAdminToken, Mode: gin.TestMode}),
	}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func asUser(extra ...string) map[string]string {
	h := map[string]string{HeaderUserID: "u-1"}
	for i := 0; i+1 < len(extra); i += 2 {
		h[extra[i]] = extra[i+1]
	}
	return h
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func capturedEvent(gatewayOrderID string) []byte {
	return []byte(fmt.Sprintf(`{"event":"payment.captured","payload":{"payment":{"entity":{"order_id":%q,"id":"pay_1"}}}}`, gatewayOrderID))
}

func TestCheckoutFlowOverHTTP(t *testing.T) {
	e := newAPIEnv(t)

	w := e.do(t, http.MethodPost, "/cart/items", gin.H{"productId": "p-1", "quantity": 2}, asUser())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, http.MethodPost, "/cart/coupon", gin.H{"code": "SAVE10"}, asUser())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "1100", decodeBody(t, w)["total"])

	w = e.do(t, http.MethodPost, "/checkout/verify", nil, asUser())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, checkout.VerifiedDetail, decodeBody(t, w)["detail"])

	w = e.do(t, http.MethodPost, "/checkout/payment-request", nil, asUser(HeaderIdempotencyKey, "key-1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var pr checkout.PaymentRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pr))
	assert.Equal(t, "1250", pr.OrderNumber)
	assert.Equal(t, int64(110000), pr.Amount)
	assert.Equal(t, "INR", pr.Currency)
	assert.NotEmpty(t, pr.GatewayOrderID)

	replay := e.do(t, http.MethodPost, "/checkout/payment-request", nil, asUser(HeaderIdempotencyKey, "key-1"))
	require.Equal(t, http.StatusOK, replay.Code)
	assert.JSONEq(t, w.Body.String(), replay.Body.String())

	w = e.do(t, http.MethodGet, "/transaction/"+pr.GatewayOrderID+"/verify", nil, asUser())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, transactionPending, decodeBody(t, w)["detail"])

	// чужая транзакция не видна
	w = e.do(t, http.MethodGet, "/transaction/"+pr.GatewayOrderID+"/verify", nil, map[string]string{HeaderUserID: "u-2"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	body := capturedEvent(pr.GatewayOrderID)
	w = e.do(t, http.MethodPost, "/webhook", body, map[string]string{HeaderSignature: sign(body)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	// повторная доставка ничего не меняет
	w = e.do(t, http.MethodPost, "/webhook", body, map[string]string{HeaderSignature: sign(body)})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/transaction/"+pr.GatewayOrderID+"/verify", nil, asUser())
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, transactionVerified, decodeBody(t, w)["detail"])

	w = e.do(t, http.MethodGet, "/orders", nil, asUser())
	require.Equal(t, http.StatusOK, w.Code)
	var page orderPageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, string(domain.OrderStatusPaymentPaid), page.Items[0].Status)

	w = e.do(t, http.MethodGet, "/orders/"+pr.OrderID, nil, asUser())
	require.Equal(t, http.StatusOK, w.Code)
	details := decodeBody(t, w)
	assert.Equal(t, "1250", details["orderNumber"])
	assert.Len(t, details["timeline"], 2)
	assert.Equal(t, "paid", details["transaction"].(map[string]any)["status"])

	w = e.do(t, http.MethodGet, "/orders/"+pr.OrderID, nil, map[string]string{HeaderUserID: "u-2"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPatch, "/admin/orders/"+pr.OrderID,
		gin.H{"status": "shipped", "deliveryPartner": "BlueDart", "trackingId": "BD-1"},
		map[string]string{HeaderAdminToken: testAdminToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "BD-1", decodeBody(t, w)["trackingId"])

	w = e.do(t, http.MethodGet, "/admin/orders", nil, map[string]string{HeaderAdminToken: testAdminToken})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody(t, w)["total"])
}

func TestCheckoutErrorsOverHTTP(t *testing.T) {
	e := newAPIEnv(t)

	w := e.do(t, http.MethodPost, "/checkout/payment-request", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPost, "/checkout/payment-request", nil, asUser())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Cart is empty", decodeBody(t, w)["detail"])

	w = e.do(t, http.MethodPost, "/cart/items", gin.H{"productId": "p-1", "quantity": 11}, asUser())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/cart/items", gin.H{"productId": "missing", "quantity": 1}, asUser())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPost, "/cart/items", []byte("{"), asUser())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodDelete, "/cart/items/nope", nil, asUser())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPost, "/cart/coupon", gin.H{"code": "NOPE"}, asUser())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodGet, "/transaction/order_missing/verify", nil, asUser())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFailedPaymentOverHTTP(t *testing.T) {
	e := newAPIEnv(t)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/cart/items", gin.H{"productId": "p-1", "quantity": 3}, asUser()).Code)
	w := e.do(t, http.MethodPost, "/checkout/payment-request", nil, asUser())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var pr checkout.PaymentRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pr))

	body := []byte(fmt.Sprintf(`{"event":"payment.failed","payload":{"payment":{"entity":{"order_id":%q}}}}`, pr.GatewayOrderID))
	w = e.do(t, http.MethodPost, "/webhook", body, map[string]string{HeaderSignature: sign(body)})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/transaction/"+pr.GatewayOrderID+"/verify", nil, asUser())
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	require.NoError(t, e.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		p, err := tx.Products().Get(ctx, "p-1")
		require.NoError(t, err)
		assert.Equal(t, 10, p.Stock)
		return nil
	}))
}

func TestWebhookRejections(t *testing.T) {
	e := newAPIEnv(t)
	body := capturedEvent("order_x")

	w := e.do(t, http.MethodPost, "/webhook", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/webhook", body, map[string]string{HeaderSignature: "deadbeef"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	malformed := []byte(`{"event":`)
	w = e.do(t, http.MethodPost, "/webhook", malformed, map[string]string{HeaderSignature: sign(malformed)})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// неизвестная транзакция подтверждается
	w = e.do(t, http.MethodPost, "/webhook", body, map[string]string{HeaderSignature: sign(body)})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	e := newAPIEnv(t)

	w := e.do(t, http.MethodPost, "/transaction/order_x/status", gin.H{"status": "paid"}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPost, "/transaction/order_x/status", gin.H{"status": "created"}, map[string]string{HeaderAdminToken: testAdminToken})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/transaction/order_x/status", gin.H{"status": "paid"}, map[string]string{HeaderAdminToken: testAdminToken})
	assert.Equal(t, http.StatusNotFound, w.Code)

	disabled := NewRouter(Services{}, Config{Mode: gin.TestMode})
	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	rec := httptest.NewRecorder()
	disabled.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{domain.ErrCartEmpty, http.StatusBadRequest, "Cart is empty"},
		{domain.ErrInsufficientStock, http.StatusBadRequest, "One or more products in your cart are out of stock or unavailable"},
		{domain.ErrOrderNotFound, http.StatusNotFound, "Order not found"},
		{domain.ErrSignatureMismatch, http.StatusUnauthorized, "Webhook signature mismatch"},
		{fmt.Errorf("%w: timeout", domain.ErrGatewayUnavailable), http.StatusBadGateway, "Payment gateway unavailable: timeout"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, statusFor(tc.err), tc.err.Error())
		assert.Equal(t, tc.msg, publicMessage(tc.err))
	}
}

func admin() map[string]string {
	return map[string]string{HeaderAdminToken: testAdminToken}
}

func TestAdminCouponsOverHTTP(t *testing.T) {
	e := newAPIEnv(t)

	w := e.do(t, http.MethodPost, "/admin/coupons", gin.H{"code": "FLAT50", "discountType": "fixed", "discountValue": 50, "maxUses": 2}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPost, "/admin/coupons", gin.H{"code": "FLAT50", "discountType": "bogus", "discountValue": 50}, admin())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/admin/coupons", gin.H{"code": "FLAT50", "discountType": "fixed", "discountValue": 50, "maxUses": 2}, admin())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created adminCouponResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.Active)
	assert.Equal(t, 0, created.UsedCount)

	w = e.do(t, http.MethodPost, "/admin/coupons", gin.H{"code": "flat50", "discountType": "fixed", "discountValue": 10}, admin())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/admin/coupons?search=flat", nil, admin())
	require.Equal(t, http.StatusOK, w.Code)
	var page couponPageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "FLAT50", page.Items[0].Code)

	w = e.do(t, http.MethodPatch, "/admin/coupons/"+created.ID, gin.H{"minOrder": 300, "clearMaxUses": true}, admin())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated adminCouponResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, "300", updated.MinOrder.String())
	assert.Nil(t, updated.MaxUses)

	// созданный купон сразу применим к корзине
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/cart/items", gin.H{"productId": "p-1", "quantity": 1}, asUser()).Code)
	w = e.do(t, http.MethodPost, "/cart/coupon", gin.H{"code": "FLAT50"}, asUser())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "50", decodeBody(t, w)["discount"])

	w = e.do(t, http.MethodDelete, "/admin/coupons/"+created.ID, nil, admin())
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, http.MethodGet, "/cart", nil, asUser())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decodeBody(t, w)["coupon"])

	w = e.do(t, http.MethodDelete, "/admin/coupons/"+created.ID, nil, admin())
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(t, http.MethodPatch, "/admin/coupons/missing", gin.H{"active": false}, admin())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminDeleteOrderOverHTTP(t *testing.T) {
	e := newAPIEnv(t)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/cart/items", gin.H{"productId": "p-1", "quantity": 1}, asUser()).Code)
	w := e.do(t, http.MethodPost, "/checkout/payment-request", nil, asUser())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var pr checkout.PaymentRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pr))

	// пока удержание не снято, заказ не удаляется
	w = e.do(t, http.MethodDelete, "/admin/orders/"+pr.OrderID, nil, admin())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := capturedEvent(pr.GatewayOrderID)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/webhook", body, map[string]string{HeaderSignature: sign(body)}).Code)

	w = e.do(t, http.MethodDelete, "/admin/orders/"+pr.OrderID, nil, admin())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, http.MethodGet, "/orders/"+pr.OrderID, nil, asUser())
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(t, http.MethodGet, "/transaction/"+pr.GatewayOrderID+"/verify", nil, asUser())
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(t, http.MethodDelete, "/admin/orders/"+pr.OrderID, nil, admin())
	assert.Equal(t, http.StatusNotFound, w.Code)
}
