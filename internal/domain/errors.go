package domain

import (
	"errors"
	"fmt"
)

// Базовые виды ошибок. Конкретные ошибки оборачивают один из них,
// транспортный слой отображает вид ошибки в код ответа.
var (
	// ErrValidation — некорректный ввод.
	ErrValidation = errors.New("validation error")
	// ErrNotFound — сущность не найдена.
	ErrNotFound = errors.New("not found")
	// ErrConflict — состояние не позволяет выполнить операцию.
	ErrConflict = errors.New("conflict")
	// ErrAuthentication — подпись или учётные данные не прошли проверку.
	ErrAuthentication = errors.New("authentication failed")
	// ErrExternalService — ошибка внешнего сервиса (платёжный шлюз, почта).
	ErrExternalService = errors.New("external service error")
)

var (
	ErrUserRequired                   = fmt.Errorf("%w: user id is required", ErrValidation)
	ErrAddressRequired                = fmt.Errorf("%w: shipping address is required", ErrValidation)
	ErrCartEmpty                      = fmt.Errorf("%w: cart is empty", ErrValidation)
	ErrQuantityInvalid                = fmt.Errorf("%w: quantity must be greater than zero", ErrValidation)
	ErrQuantityExceeds                = fmt.Errorf("%w: requested quantity exceeds available stock", ErrValidation)
	ErrCouponCodeRequired             = fmt.Errorf("%w: coupon code is required", ErrValidation)
	ErrCouponDiscountType             = fmt.Errorf("%w: discount type must be percent or fixed", ErrValidation)
	ErrCouponValue                    = fmt.Errorf("%w: coupon values are out of range", ErrValidation)
	ErrTransactionStatus              = fmt.Errorf("%w: transaction status must be paid or failed", ErrValidation)
	ErrFulfillmentStatus              = fmt.Errorf("%w: unsupported order status transition", ErrValidation)
	ErrWebhookPayload                 = fmt.Errorf("%w: malformed webhook payload", ErrValidation)
	ErrIdempotencyKeyRequired         = fmt.Errorf("%w: idempotency key is required", ErrValidation)
	ErrIdempotencyRequestHashRequired = fmt.Errorf("%w: idempotency request hash is required", ErrValidation)

	ErrProductNotFound        = fmt.Errorf("%w: product not found", ErrNotFound)
	ErrCartNotFound           = fmt.Errorf("%w: cart not found", ErrNotFound)
	ErrCartItemNotFound       = fmt.Errorf("%w: cart item not found", ErrNotFound)
	ErrCouponNotFound         = fmt.Errorf("%w: coupon not found", ErrNotFound)
	ErrUserNotFound           = fmt.Errorf("%w: user not found", ErrNotFound)
	ErrOrderNotFound          = fmt.Errorf("%w: order not found", ErrNotFound)
	ErrTransactionNotFound    = fmt.Errorf("%w: transaction not found", ErrNotFound)
	ErrIdempotencyKeyNotFound = fmt.Errorf("%w: idempotency key not found", ErrNotFound)

	ErrInsufficientStock           = fmt.Errorf("%w: one or more products in your cart are out of stock or unavailable", ErrConflict)
	ErrCouponExpired               = fmt.Errorf("%w: coupon has expired", ErrConflict)
	ErrCouponExhausted             = fmt.Errorf("%w: coupon usage limit reached", ErrConflict)
	ErrCouponInactive              = fmt.Errorf("%w: coupon is not active", ErrConflict)
	ErrCouponMinOrder              = fmt.Errorf("%w: cart total is below the coupon minimum", ErrConflict)
	ErrCartChanged                 = fmt.Errorf("%w: cart changed during checkout", ErrConflict)
	ErrOrderPaymentPending         = fmt.Errorf("%w: order payment is still pending", ErrConflict)
	ErrOrderNumberTaken            = fmt.Errorf("%w: order number already allocated", ErrConflict)
	ErrTransactionExists           = fmt.Errorf("%w: transaction already recorded", ErrConflict)
	ErrIdempotencyKeyAlreadyExists = fmt.Errorf("%w: idempotency key already exists", ErrConflict)
	ErrIdempotencyHashMismatch     = fmt.Errorf("%w: idempotency key reused with another request", ErrConflict)
	ErrIdempotencyInProgress       = fmt.Errorf("%w: request with this idempotency key is still processing", ErrConflict)

	ErrSignatureMissing  = fmt.Errorf("%w: webhook signature header is missing", ErrAuthentication)
	ErrSignatureMismatch = fmt.Errorf("%w: webhook signature mismatch", ErrAuthentication)

	ErrGatewayUnavailable = fmt.Errorf("%w: payment gateway unavailable", ErrExternalService)
	ErrGatewayRejected    = fmt.Errorf("%w: payment gateway rejected the request", ErrExternalService)
	ErrNotificationFailed = fmt.Errorf("%w: notification delivery failed", ErrExternalService)
	ErrOutboxPublish      = fmt.Errorf("%w: outbox publish failed", ErrExternalService)
)

// IsValidation проверяет, относится ли ошибка к некорректному вводу.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound проверяет, что сущность не найдена.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict проверяет конфликт состояния.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsAuthentication проверяет ошибку подписи.
func IsAuthentication(err error) bool { return errors.Is(err, ErrAuthentication) }

// IsExternalService проверяет ошибку внешнего сервиса.
func IsExternalService(err error) bool { return errors.Is(err, ErrExternalService) }

var kinds = []error{ErrValidation, ErrNotFound, ErrConflict, ErrAuthentication, ErrExternalService}

// KindOf возвращает базовый вид ошибки или nil, если вид не определён.
func KindOf(err error) error {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// KindByName — обратная операция к Error() базового вида.
func KindByName(name string) error {
	for _, kind := range kinds {
		if kind.Error() == name {
			return kind
		}
	}
	return nil
}
