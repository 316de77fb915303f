package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus — состояние платёжной транзакции.
// created -> paid и created -> failed терминальны и взаимоисключающи.
type TransactionStatus string

const (
	TransactionStatusCreated TransactionStatus = "created"
	TransactionStatusPaid    TransactionStatus = "paid"
	TransactionStatusFailed  TransactionStatus = "failed"
)

// Terminal сообщает, что из статуса нет переходов.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusPaid || s == TransactionStatusFailed
}

// Settable — статусы, которые можно выставить снаружи.
func (s TransactionStatus) Settable() bool {
	return s.Terminal()
}

// OrderTransaction связана с заказом один к одному. TransactionID выдаёт шлюз,
// по нему webhook находит транзакцию.
type OrderTransaction struct {
	ID            string
	TransactionID string
	OrderID       string
	UserID        string
	Status        TransactionStatus
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string
	Metadata      map[string]string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Clone копирует транзакцию вместе с metadata.
func (t OrderTransaction) Clone() OrderTransaction {
	out := t
	if t.Metadata != nil {
		out.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
