package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

type idempotencyErrorPayload struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func (s *Service) withIdempotency(ctx context.Context, userID, key string) (PaymentRequest, error) {
	hash := requestHash(userID)
	record, err := s.idem.CreateProcessing(ctx, key, hash, s.now().Add(s.idemTTL))
	if err != nil {
		return s.replay(key, err, record)
	}

	resp, runErr := s.createPaymentRequest(ctx, userID)
	if runErr != nil {
		s.cacheFailure(ctx, key, runErr)
		return PaymentRequest{}, runErr
	}

	body, err := json.Marshal(resp)
	if err == nil {
		err = s.idem.MarkDone(ctx, key, body, http.StatusOK)
	}
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent success response")
	}
	return resp, nil
}

func (s *Service) replay(key string, createErr error, record domain.IdempotencyRecord) (PaymentRequest, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return PaymentRequest{}, createErr
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
	default:
		s.logger.WithError(createErr).WithField("idempotency_key", key).Warn("failed to create idempotency record")
		return PaymentRequest{}, fmt.Errorf("initialize idempotency request: %w", createErr)
	}

	switch record.Status {
	case domain.IdempotencyStatusDone:
		var resp PaymentRequest
		if err := json.Unmarshal(record.ResponseBody, &resp); err != nil {
			s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to decode cached idempotency response")
			return PaymentRequest{}, fmt.Errorf("decode cached response: %w", err)
		}
		s.metrics.CheckoutStarted()(metrics.CheckoutReplayed)
		return resp, nil
	case domain.IdempotencyStatusProcessing:
		return PaymentRequest{}, domain.ErrIdempotencyInProgress
	case domain.IdempotencyStatusFailed:
		return PaymentRequest{}, decodeFailure(record)
	default:
		return PaymentRequest{}, fmt.Errorf("unknown idempotency record status %q", record.Status)
	}
}

func (s *Service) cacheFailure(ctx context.Context, key string, runErr error) {
	payload := idempotencyErrorPayload{Detail: runErr.Error()}
	if kind := domain.KindOf(runErr); kind != nil {
		payload.Kind = kind.Error()
		payload.Detail = strings.TrimPrefix(payload.Detail, payload.Kind+": ")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		body = nil
	}
	if err := s.idem.MarkFailed(ctx, key, body, failureStatus(runErr)); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"idempotency_key": key,
		}).Warn("failed to store idempotency failure response")
	}
}

// decodeFailure восстанавливает ошибку того же вида, что и в первом запросе.
func decodeFailure(record domain.IdempotencyRecord) error {
	var payload idempotencyErrorPayload
	if err := json.Unmarshal(record.ResponseBody, &payload); err == nil {
		if kind := domain.KindByName(payload.Kind); kind != nil {
			return fmt.Errorf("%w: %s", kind, payload.Detail)
		}
	}
	return errors.New("previous request with the same idempotency key failed")
}

func failureStatus(err error) int {
	switch {
	case domain.IsValidation(err), domain.IsConflict(err):
		return http.StatusBadRequest
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsExternalService(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func requestHash(userID string) string {
	sum := sha256.Sum256([]byte("checkout.payment-request:" + userID))
	return hex.EncodeToString(sum[:])
}
