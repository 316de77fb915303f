package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// MockGateway — шлюз в памяти для локальной разработки и тестов.
// Заказы создаются со статусом created; MarkPaid имитирует оплату.
type MockGateway struct {
	mu     sync.Mutex
	orders map[string]domain.GatewayOrder

	CreateErr error
	FetchErr  error

	CreateCalls int
	FetchCalls  int
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{orders: make(map[string]domain.GatewayOrder)}
}

// KeyID возвращает фиктивный публичный ключ.
func (m *MockGateway) KeyID() string {
	return "rzp_test_mock"
}

// CreateOrder запоминает заказ или возвращает CreateErr.
func (m *MockGateway) CreateOrder(_ context.Context, req domain.GatewayOrderRequest) (domain.GatewayOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateCalls++
	if m.CreateErr != nil {
		return domain.GatewayOrder{}, m.CreateErr
	}
	order := domain.GatewayOrder{
		ID:          "order_" + uuid.NewString()[:14],
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Receipt:     req.Receipt,
		Status:      domain.GatewayOrderCreated,
	}
	m.orders[order.ID] = order
	return order, nil
}

// FetchOrder возвращает сохранённый заказ.
func (m *MockGateway) FetchOrder(_ context.Context, gatewayOrderID string) (domain.GatewayOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FetchCalls++
	if m.FetchErr != nil {
		return domain.GatewayOrder{}, m.FetchErr
	}
	order, ok := m.orders[gatewayOrderID]
	if !ok {
		return domain.GatewayOrder{}, fmt.Errorf("%w: unknown order %s", domain.ErrGatewayRejected, gatewayOrderID)
	}
	return order, nil
}

// MarkPaid переводит заказ шлюза в paid.
func (m *MockGateway) MarkPaid(gatewayOrderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if order, ok := m.orders[gatewayOrderID]; ok {
		order.Status = domain.GatewayOrderPaid
		m.orders[gatewayOrderID] = order
	}
}

// Orders возвращает копию созданных заказов.
func (m *MockGateway) Orders() []domain.GatewayOrder {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.GatewayOrder, 0, len(m.orders))
	for _, order := range m.orders {
		out = append(out, order)
	}
	return out
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
