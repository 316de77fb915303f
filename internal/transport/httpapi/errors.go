package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// statusFor отображает вид ошибки в HTTP-статус. Конфликты отдаются как 400:
// клиенту нужно исправить корзину, а не повторять запрос.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.ErrValidation, domain.ErrConflict:
		return http.StatusBadRequest
	case domain.ErrNotFound:
		return http.StatusNotFound
	case domain.ErrAuthentication:
		return http.StatusUnauthorized
	case domain.ErrExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage убирает префикс вида ошибки ("conflict: ...") из текста.
func publicMessage(err error) string {
	kind := domain.KindOf(err)
	if kind == nil {
		return "Internal server error"
	}
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, kind.Error()+": "); ok {
		msg = rest
	}
	if msg == "" {
		return kind.Error()
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError || errors.Is(err, domain.ErrExternalService) {
		h.logger.WithError(err).WithFields(log.Fields{
			"path":   c.FullPath(),
			"status": status,
		}).Error("request failed")
	}
	c.AbortWithStatusJSON(status, detail(publicMessage(err)))
}
