package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Store — in-memory хранилище для локальной разработки и тестов.
// Транзакции сериализуются одним мьютексом: fn работает с копией состояния,
// которая заменяет исходное только при успешном завершении.
// Вложенный вызов WithinTx из fn приведёт к взаимной блокировке.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		state: newState(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет источник времени (для тестов sweeper и outbox).
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// WithinTx выполняет fn атомарно относительно других транзакций.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &memTx{st: work, now: s.now}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Ping всегда успешен; нужен для health-проверки.
func (s *Store) Ping(context.Context) error {
	return nil
}

type state struct {
	products     map[string]domain.Product
	coupons      map[string]domain.Coupon
	carts        map[string]domain.Cart
	users        map[string]domain.User
	orders       map[string]domain.Order
	transactions map[string]domain.OrderTransaction
	timeline     map[string][]domain.TimelineEvent
	outbox       map[string]outboxRecord
}

func newState() *state {
	return &state{
		products:     make(map[string]domain.Product),
		coupons:      make(map[string]domain.Coupon),
		carts:        make(map[string]domain.Cart),
		users:        make(map[string]domain.User),
		orders:       make(map[string]domain.Order),
		transactions: make(map[string]domain.OrderTransaction),
		timeline:     make(map[string][]domain.TimelineEvent),
		outbox:       make(map[string]outboxRecord),
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.products {
		out.products[k] = v
	}
	for k, v := range s.coupons {
		out.coupons[k] = cloneCoupon(v)
	}
	for k, v := range s.carts {
		out.carts[k] = v.Clone()
	}
	for k, v := range s.users {
		out.users[k] = cloneUser(v)
	}
	for k, v := range s.orders {
		out.orders[k] = cloneOrder(v)
	}
	for k, v := range s.transactions {
		out.transactions[k] = v.Clone()
	}
	for k, v := range s.timeline {
		out.timeline[k] = append([]domain.TimelineEvent(nil), v...)
	}
	for k, v := range s.outbox {
		out.outbox[k] = v
	}
	return out
}

type memTx struct {
	st  *state
	now func() time.Time
}

func (t *memTx) Products() domain.ProductRepository         { return productRepository{st: t.st} }
func (t *memTx) Coupons() domain.CouponRepository           { return couponRepository{st: t.st, now: t.now} }
func (t *memTx) Carts() domain.CartRepository               { return cartRepository{st: t.st, now: t.now} }
func (t *memTx) Users() domain.UserRepository               { return userRepository{st: t.st} }
func (t *memTx) Orders() domain.OrderRepository             { return orderRepository{st: t.st, now: t.now} }
func (t *memTx) Transactions() domain.TransactionRepository { return transactionRepository{st: t.st, now: t.now} }
func (t *memTx) Timeline() domain.TimelineRepository        { return timelineRepository{st: t.st, now: t.now} }
func (t *memTx) Outbox() domain.OutboxWriter                { return outboxWriter{st: t.st, now: t.now} }

func cloneCoupon(c domain.Coupon) domain.Coupon {
	if c.MaxUses != nil {
		v := *c.MaxUses
		c.MaxUses = &v
	}
	if c.ExpiresAt != nil {
		v := *c.ExpiresAt
		c.ExpiresAt = &v
	}
	return c
}

func cloneUser(u domain.User) domain.User {
	if u.Address != nil {
		addr := *u.Address
		u.Address = &addr
	}
	return u
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	if o.CouponID != nil {
		id := *o.CouponID
		o.CouponID = &id
	}
	return o
}

var (
	_ domain.TxManager = (*Store)(nil)
	_ domain.Tx        = (*memTx)(nil)
)
