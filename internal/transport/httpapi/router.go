// Package httpapi — HTTP API сервиса оформления заказа на gin.
package httpapi

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/service/cart"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/coupon"
	"github.com/vladislavdragonenkov/checkout/internal/service/ordering"
	"github.com/vladislavdragonenkov/checkout/internal/service/reconcile"
)

// Заголовки запроса.
const (
	HeaderUserID         = "X-User-ID"
	HeaderAdminToken     = "X-Admin-Token"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderSignature      = "X-Razorpay-Signature"
	HeaderRequestID      = "X-Request-ID"
)

const userIDKey = "user_id"

// Services — зависимости обработчиков.
type Services struct {
	Checkout  *checkout.Service
	Cart      *cart.Service
	Orders    *ordering.Service
	Coupons   *coupon.Service
	Reconcile *reconcile.Handler
}

// Config — параметры роутера.
type Config struct {
	// AdminToken включает административные маршруты; пустое значение их не монтирует.
	AdminToken string
	Mode       string
	Logger     *log.Entry
}

// Handler содержит обработчики HTTP API.
type Handler struct {
	svc    Services
	logger *log.Entry
}

// NewRouter собирает gin.Engine со всеми маршрутами.
func NewRouter(svc Services, cfg Config) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	h := &Handler{svc: svc, logger: logger}

	r := gin.New()
	r.Use(requestLogger(logger), gin.Recovery())
	r.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Шлюз вызывает webhook без пользователя.
	r.POST("/webhook", h.webhook)

	user := r.Group("/", requireUser())
	{
		user.POST("/checkout/verify", h.verifyCheckout)
		user.POST("/checkout/payment-request", h.createPaymentRequest)
		user.GET("/transaction/:id/verify", h.verifyTransaction)

		user.GET("/cart", h.getCart)
		user.POST("/cart/items", h.addCartItem)
		user.DELETE("/cart/items/:itemId", h.removeCartItem)
		user.POST("/cart/coupon", h.applyCoupon)

		user.GET("/orders", h.listOrders)
		user.GET("/orders/:id", h.getOrder)
	}

	if cfg.AdminToken != "" {
		admin := r.Group("/", requireAdmin(cfg.AdminToken))
		{
			admin.POST("/transaction/:id/status", h.setTransactionStatus)
			admin.GET("/admin/orders", h.listAllOrders)
			admin.GET("/admin/orders/:id", h.getAnyOrder)
			admin.PATCH("/admin/orders/:id", h.updateFulfillment)
			admin.DELETE("/admin/orders/:id", h.deleteOrder)

			admin.POST("/admin/coupons", h.createCoupon)
			admin.GET("/admin/coupons", h.listCoupons)
			admin.PATCH("/admin/coupons/:id", h.updateCoupon)
			admin.DELETE("/admin/coupons/:id", h.deleteCoupon)
		}
	} else {
		logger.Warn("ADMIN_TOKEN is not set, admin routes are disabled")
	}

	return r
}

func requestLogger(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(HeaderRequestID, requestID)

		c.Next()

		entry := logger.WithFields(log.Fields{
			"request_id":  requestID,
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("request failed")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Info("request rejected")
		default:
			entry.Debug("request served")
		}
	}
}

// requireUser берёт пользователя из X-User-ID. Аутентификацию выполняет шлюз перед сервисом.
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(HeaderUserID)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, detail("Missing user identity"))
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func requireAdmin(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(HeaderAdminToken))
		if subtle.ConstantTimeCompare(got, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, detail("Admin access required"))
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func detail(msg string) gin.H {
	return gin.H{"detail": msg}
}
