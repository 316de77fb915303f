package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const transactionColumns = `id, transaction_id, order_id, user_id, status, amount, currency,
	payment_method, metadata, created_at, updated_at`

type transactionRepository struct {
	q querier
}

func (r transactionRepository) Create(ctx context.Context, txn domain.OrderTransaction) error {
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = utcNow()
	}
	if txn.UpdatedAt.IsZero() {
		txn.UpdatedAt = txn.CreatedAt
	}
	metadata, err := encodeMetadata(txn.Metadata)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO order_transactions (`+transactionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		txn.ID, txn.TransactionID, txn.OrderID, txn.UserID, string(txn.Status),
		txn.Amount, txn.Currency, txn.PaymentMethod, string(metadata), txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrTransactionExists
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetForUpdate блокирует строку транзакции: webhook, опрос статуса и sweeper
// применяют переход строго по очереди.
func (r transactionRepository) GetForUpdate(ctx context.Context, transactionID string) (domain.OrderTransaction, error) {
	txn, err := scanTransaction(r.q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM order_transactions WHERE transaction_id = $1 FOR UPDATE`, transactionID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OrderTransaction{}, domain.ErrTransactionNotFound
	}
	if err != nil {
		return domain.OrderTransaction{}, fmt.Errorf("select transaction: %w", err)
	}
	return txn, nil
}

func (r transactionRepository) GetByOrder(ctx context.Context, orderID string) (domain.OrderTransaction, error) {
	txn, err := scanTransaction(r.q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM order_transactions WHERE order_id = $1`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OrderTransaction{}, domain.ErrTransactionNotFound
	}
	if err != nil {
		return domain.OrderTransaction{}, fmt.Errorf("select transaction by order: %w", err)
	}
	return txn, nil
}

// UpdateStatus меняет статус и дописывает metadata поверх существующей.
func (r transactionRepository) UpdateStatus(ctx context.Context, transactionID string, status domain.TransactionStatus, metadata map[string]string) error {
	patch, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE order_transactions
		SET status = $2, metadata = metadata || $3::jsonb, updated_at = NOW()
		WHERE transaction_id = $1
	`, transactionID, string(status), string(patch))
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	return expectOneRow(res, domain.ErrTransactionNotFound)
}

func (r transactionRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.OrderTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM order_transactions
		WHERE status = 'created' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale transactions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OrderTransaction, 0)
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale transaction: %w", err)
		}
		result = append(result, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale transactions: %w", err)
	}
	return result, nil
}

func scanTransaction(row interface{ Scan(...any) error }) (domain.OrderTransaction, error) {
	var (
		txn      domain.OrderTransaction
		status   string
		metadata []byte
	)
	if err := row.Scan(
		&txn.ID, &txn.TransactionID, &txn.OrderID, &txn.UserID, &status,
		&txn.Amount, &txn.Currency, &txn.PaymentMethod, &metadata, &txn.CreatedAt, &txn.UpdatedAt,
	); err != nil {
		return domain.OrderTransaction{}, err
	}
	txn.Status = domain.TransactionStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &txn.Metadata); err != nil {
			return domain.OrderTransaction{}, fmt.Errorf("decode transaction metadata: %w", err)
		}
	}
	return txn, nil
}

func encodeMetadata(metadata map[string]string) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode transaction metadata: %w", err)
	}
	return raw, nil
}

var _ domain.TransactionRepository = transactionRepository{}
