package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

var errNotInitialized = errors.New("postgres store is not initialized")

// querier — общее подмножество *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store держит пул подключений к PostgreSQL и открывает транзакции для сервисов.
type Store struct {
	db *sql.DB
}

// Open открывает пул и проверяет доступность базы.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	store := &Store{db: db}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// DB возвращает пул для низкоуровневого доступа (тесты, утилиты).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность базы.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close закрывает пул.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithinTx выполняет fn в транзакции READ COMMITTED. Изоляцию между конкурирующими
// оформлениями дают блокировки строк (FOR UPDATE) и условные UPDATE в репозиториях.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	if s == nil || s.db == nil {
		return errNotInitialized
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, &pgTx{q: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// OutboxRepository возвращает репозиторий outbox для воркера публикации.
func (s *Store) OutboxRepository() domain.OutboxRepository {
	return &outboxRepository{q: s.db}
}

// IdempotencyRepository возвращает репозиторий ключей идемпотентности.
func (s *Store) IdempotencyRepository() domain.IdempotencyRepository {
	return &idempotencyRepository{q: s.db}
}

type pgTx struct {
	q querier
}

func (t *pgTx) Products() domain.ProductRepository         { return productRepository{q: t.q} }
func (t *pgTx) Coupons() domain.CouponRepository           { return couponRepository{q: t.q} }
func (t *pgTx) Carts() domain.CartRepository               { return cartRepository{q: t.q} }
func (t *pgTx) Users() domain.UserRepository               { return userRepository{q: t.q} }
func (t *pgTx) Orders() domain.OrderRepository             { return orderRepository{q: t.q} }
func (t *pgTx) Transactions() domain.TransactionRepository { return transactionRepository{q: t.q} }
func (t *pgTx) Timeline() domain.TimelineRepository        { return timelineRepository{q: t.q} }
func (t *pgTx) Outbox() domain.OutboxWriter                { return outboxWriter{q: t.q} }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

var (
	_ domain.TxManager = (*Store)(nil)
	_ domain.Tx        = (*pgTx)(nil)
)
