package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type transactionRepository struct {
	st  *state
	now func() time.Time
}

func (r transactionRepository) Create(_ context.Context, txn domain.OrderTransaction) error {
	if _, exists := r.st.transactions[txn.TransactionID]; exists {
		return domain.ErrTransactionExists
	}
	for _, existing := range r.st.transactions {
		if existing.OrderID == txn.OrderID {
			return domain.ErrTransactionExists
		}
	}
	r.st.transactions[txn.TransactionID] = txn.Clone()
	return nil
}

func (r transactionRepository) GetForUpdate(_ context.Context, transactionID string) (domain.OrderTransaction, error) {
	txn, ok := r.st.transactions[transactionID]
	if !ok {
		return domain.OrderTransaction{}, domain.ErrTransactionNotFound
	}
	return txn.Clone(), nil
}

func (r transactionRepository) GetByOrder(_ context.Context, orderID string) (domain.OrderTransaction, error) {
	for _, txn := range r.st.transactions {
		if txn.OrderID == orderID {
			return txn.Clone(), nil
		}
	}
	return domain.OrderTransaction{}, domain.ErrTransactionNotFound
}

func (r transactionRepository) UpdateStatus(_ context.Context, transactionID string, status domain.TransactionStatus, metadata map[string]string) error {
	txn, ok := r.st.transactions[transactionID]
	if !ok {
		return domain.ErrTransactionNotFound
	}
	txn.Status = status
	txn.UpdatedAt = r.now()
	if len(metadata) > 0 {
		if txn.Metadata == nil {
			txn.Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			txn.Metadata[k] = v
		}
	}
	r.st.transactions[transactionID] = txn
	return nil
}

func (r transactionRepository) ListStale(_ context.Context, before time.Time, limit int) ([]domain.OrderTransaction, error) {
	stale := make([]domain.OrderTransaction, 0)
	for _, txn := range r.st.transactions {
		if txn.Status == domain.TransactionStatusCreated && txn.CreatedAt.Before(before) {
			stale = append(stale, txn.Clone())
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

var _ domain.TransactionRepository = transactionRepository{}
