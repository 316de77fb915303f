package httpapi

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/reconcile"
)

// Тексты ответов опроса транзакции.
const (
	transactionVerified = "Transaction Verified"
	transactionPending  = "Transaction waiting for verification"
	transactionFailed   = "Transaction payment failed"
)

const maxWebhookBody = 1 << 20

func (h *Handler) verifyCheckout(c *gin.Context) {
	msg, err := h.svc.Checkout.Verify(c.Request.Context(), currentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail(msg))
}

func (h *Handler) createPaymentRequest(c *gin.Context) {
	resp, err := h.svc.Checkout.CreatePaymentRequest(c.Request.Context(), currentUser(c), c.GetHeader(HeaderIdempotencyKey))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) verifyTransaction(c *gin.Context) {
	result, err := h.svc.Reconcile.VerifyStatus(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	switch result {
	case reconcile.VerifyConfirmed:
		c.JSON(http.StatusOK, detail(transactionVerified))
	case reconcile.VerifyRejected:
		c.JSON(http.StatusPaymentRequired, detail(transactionFailed))
	default:
		c.JSON(http.StatusBadRequest, detail(transactionPending))
	}
}

type transactionStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) setTransactionStatus(c *gin.Context) {
	var req transactionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, detail("Invalid request body"))
		return
	}
	outcome, err := h.svc.Reconcile.SetStatus(c.Request.Context(), c.Param("id"), domain.TransactionStatus(req.Status))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detail": transactionVerified, "outcome": outcome})
}

// webhook подтверждает 200 всё, что обработано или не требует действий. 5xx
// заставляет шлюз повторить доставку.
func (h *Handler) webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, detail("Unable to read request body"))
		return
	}

	outcome, err := h.svc.Reconcile.HandleWebhook(c.Request.Context(), body, c.GetHeader(HeaderSignature))
	if err != nil {
		if domain.IsAuthentication(err) || domain.IsValidation(err) {
			c.AbortWithStatusJSON(http.StatusBadRequest, detail("Webhook handling failed: "+publicMessage(err)))
			return
		}
		h.logger.WithError(err).Error("webhook processing failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, detail("Webhook handling failed"))
		return
	}

	h.logger.WithFields(log.Fields{"outcome": outcome}).Debug("webhook processed")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
