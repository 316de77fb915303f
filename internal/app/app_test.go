package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/service/notification"
	"github.com/vladislavdragonenkov/checkout/internal/transport/httpapi"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.GinMode = gin.TestMode
	cfg.AdminToken = "admin-token"
	return cfg
}

func newTestApp(t *testing.T, cfg Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg,
		WithRegistry(prometheus.NewRegistry()),
		WithLogger(log.WithField("component", "app-test")),
	)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func serve(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.HoldTTL = 0

	_, err := New(context.Background(), cfg, WithRegistry(prometheus.NewRegistry()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestApp_DemoCheckoutFlow(t *testing.T) {
	a := newTestApp(t, testConfig())
	h := a.Handler()
	user := map[string]string{httpapi.HeaderUserID: DemoUserID}

	w := serve(t, h, http.MethodPost, "/cart/items", `{"productId":"prod-lamp","quantity":2}`, user)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = serve(t, h, http.MethodPost, "/cart/coupon", `{"code":"`+DemoCouponCode+`"}`, user)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = serve(t, h, http.MethodPost, "/checkout/verify", "", user)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	withKey := map[string]string{httpapi.HeaderUserID: DemoUserID, httpapi.HeaderIdempotencyKey: "demo-key"}
	w = serve(t, h, http.MethodPost, "/checkout/payment-request", "", withKey)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var payment struct {
		OrderID        string `json:"orderId"`
		GatewayOrderID string `json:"gatewayOrderId"`
		Amount         int64  `json:"amount"`
		Currency       string `json:"currency"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payment))
	assert.NotEmpty(t, payment.OrderID)
	assert.NotEmpty(t, payment.GatewayOrderID)
	assert.Positive(t, payment.Amount)
	assert.Equal(t, "INR", payment.Currency)

	w = serve(t, h, http.MethodGet, "/orders/"+payment.OrderID, "", user)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = serve(t, h, http.MethodPost, "/transaction/"+payment.GatewayOrderID+"/status", `{"status":"paid"}`,
		map[string]string{httpapi.HeaderAdminToken: "admin-token"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = serve(t, h, http.MethodGet, "/transaction/"+payment.GatewayOrderID+"/verify", "", user)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestApp_WebhookRejectionIsCounted(t *testing.T) {
	registry := prometheus.NewRegistry()
	a, err := New(context.Background(), testConfig(), WithRegistry(registry))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	w := serve(t, a.Handler(), http.MethodPost, "/webhook", `{"event":"payment.captured"}`,
		map[string]string{httpapi.HeaderSignature: "deadbeef"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	count, err := testutil.GatherAndCount(registry, "checkout_webhook_rejected_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestApp_OpsEndpoints(t *testing.T) {
	a := newTestApp(t, testConfig())
	ops := a.OpsHandler()

	for _, path := range []string{"/healthz", "/livez", "/readyz", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			w := serve(t, ops, http.MethodGet, path, "", nil)
			assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
		})
	}

	w := serve(t, ops, http.MethodGet, "/healthz", "", nil)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(healthcheck.StatusHealthy), body["status"])
}

func TestApp_StartStopsWorkersOnCancel(t *testing.T) {
	a := newTestApp(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	wait, err := a.Start(ctx)
	require.NoError(t, err)

	cancel()
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not stop after cancel")
	}
}

func TestInitStorage_UnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.StorageDriver = "sqlite"

	_, err := initStorage(context.Background(), cfg, log.WithField("component", "test"))
	require.Error(t, err)
}

func TestInitStorage_MemoryWithoutSeed(t *testing.T) {
	cfg := testConfig()
	cfg.SeedDemoData = false

	rt, err := initStorage(context.Background(), cfg, log.WithField("component", "test"))
	require.NoError(t, err)
	require.NoError(t, rt.ping(context.Background()))

	err = rt.txm.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Products().Get(ctx, "prod-lamp")
		return err
	})
	assert.True(t, errors.Is(err, domain.ErrProductNotFound))
	require.NoError(t, rt.close())
}

func TestInitDelivery_WithoutBrokersUsesDirectSender(t *testing.T) {
	logger := log.WithField("component", "test")
	d, err := initDelivery(testConfig(), notification.NewLogSender(logger), logger)
	require.NoError(t, err)

	assert.IsType(t, &notification.OutboxPublisher{}, d.publisher)
	assert.Nil(t, d.dlq)
	assert.Nil(t, d.consumer)
	d.close(logger)
}

func TestBuildSender(t *testing.T) {
	logger := log.WithField("component", "test")

	assert.IsType(t, &notification.LogSender{}, buildSender(testConfig(), logger))

	cfg := testConfig()
	cfg.ResendAPIKey = "re_test"
	assert.IsType(t, &notification.ResendSender{}, buildSender(cfg, logger))
}

func TestWebhookSecret(t *testing.T) {
	logger := log.WithField("component", "test")

	assert.Equal(t, devWebhookSecret, webhookSecret(testConfig(), logger))

	cfg := testConfig()
	cfg.RazorpayWebhookSecret = "whsec"
	assert.Equal(t, "whsec", webhookSecret(cfg, logger))
}

func TestGRPCHealth_FollowsReadiness(t *testing.T) {
	registry := prometheus.NewRegistry()
	logger := log.WithField("component", "test")
	g := newGRPCHealth(registry, logger)
	// повторная регистрация метрик в том же реестре не ломает сборку
	_ = newGRPCHealth(registry, logger)

	checks := healthcheck.NewHandler("test")
	checks.RegisterChecker("storage", healthcheck.NewChecker("storage", func(context.Context) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.followReadiness(ctx, checks)

	require.Eventually(t, func() bool {
		resp, err := g.health.Check(context.Background(), &healthpb.HealthCheckRequest{})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 10*time.Millisecond)

	g.stop(logger)
}
