package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	firstOrderNumber = 1250

	// orderNumberLockKey — transaction-scoped advisory lock на выдачу номеров заказов.
	orderNumberLockKey = int64(72044914)

	orderColumns = `id, order_number, user_id, status, subtotal, tax, discount, shipping, total,
		currency, coupon_id, shipping_address, delivery_partner, tracking_id, created_at, updated_at`
)

type orderRepository struct {
	q querier
}

func (r orderRepository) Create(ctx context.Context, order domain.Order) error {
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("encode shipping address: %w", err)
	}
	var couponID sql.NullString
	if order.CouponID != nil {
		couponID = sql.NullString{String: *order.CouponID, Valid: true}
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		order.ID, order.OrderNumber, order.UserID, string(order.Status),
		order.Subtotal, order.Tax, order.Discount, order.Shipping, order.Total,
		order.Currency, couponID, string(address), order.DeliveryPartner, order.TrackingID,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderNumberTaken
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, name, quantity, unit_price, total_price, position)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, item.ID, order.ID, item.ProductID, item.Name, item.Quantity, item.UnitPrice, item.TotalPrice, i); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (r orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	order, err := scanOrder(r.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	if order.Items, err = r.loadItems(ctx, order.ID); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r orderRepository) List(ctx context.Context, query domain.OrderQuery) (domain.OrderPage, error) {
	query = query.Normalize()

	var (
		where []string
		args  []any
	)
	if query.UserID != "" {
		args = append(args, query.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if search := strings.TrimSpace(query.Search); search != "" {
		args = append(args, "%"+search+"%")
		where = append(where, fmt.Sprintf("order_number ILIKE $%d", len(args)))
	}
	filter := ""
	if len(where) > 0 {
		filter = " WHERE " + strings.Join(where, " AND ")
	}

	page := domain.OrderPage{Page: query.Page, Size: query.Size, Items: []domain.Order{}}
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+filter, args...).Scan(&page.Total); err != nil {
		return domain.OrderPage{}, fmt.Errorf("count orders: %w", err)
	}

	direction := "ASC"
	if query.SortDesc {
		direction = "DESC"
	}
	args = append(args, query.Size, query.Offset())
	rows, err := r.q.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM orders%s ORDER BY created_at %s, order_number %s LIMIT $%d OFFSET $%d`,
		orderColumns, filter, direction, direction, len(args)-1, len(args),
	), args...)
	if err != nil {
		return domain.OrderPage{}, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.OrderPage{}, fmt.Errorf("scan order: %w", err)
		}
		page.Items = append(page.Items, order)
	}
	if err := rows.Err(); err != nil {
		return domain.OrderPage{}, fmt.Errorf("iterate orders: %w", err)
	}
	rows.Close()

	for i := range page.Items {
		if page.Items[i].Items, err = r.loadItems(ctx, page.Items[i].ID); err != nil {
			return domain.OrderPage{}, err
		}
	}

	page.HasPrev = query.Page > 1
	page.HasNext = query.Offset()+query.Size < page.Total
	return page, nil
}

func (r orderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, string(status))
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return expectOneRow(res, domain.ErrOrderNotFound)
}

func (r orderRepository) UpdateFulfillment(ctx context.Context, id string, status domain.OrderStatus, partner, trackingID string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, delivery_partner = $3, tracking_id = $4, updated_at = NOW()
		WHERE id = $1
	`, id, string(status), partner, trackingID)
	if err != nil {
		return fmt.Errorf("update order fulfillment: %w", err)
	}
	return expectOneRow(res, domain.ErrOrderNotFound)
}

// Delete удаляет историю явно: у timeline_events нет внешнего ключа на orders.
// Позиции и транзакция удаляются каскадом.
func (r orderRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM timeline_events WHERE order_id = $1`, id); err != nil {
		return fmt.Errorf("delete order timeline: %w", err)
	}
	res, err := r.q.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return expectOneRow(res, domain.ErrOrderNotFound)
}

// NextOrderNumber берёт advisory lock до конца транзакции, поэтому два оформления
// не получат один и тот же номер. Нечисловые номера игнорируются.
func (r orderRepository) NextOrderNumber(ctx context.Context) (string, error) {
	if _, err := r.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, orderNumberLockKey); err != nil {
		return "", fmt.Errorf("lock order numbers: %w", err)
	}

	var highest sql.NullInt64
	err := r.q.QueryRowContext(ctx, `
		SELECT MAX(CASE WHEN order_number ~ '^[0-9]+$' THEN order_number::bigint END)
		FROM orders
	`).Scan(&highest)
	if err != nil {
		return "", fmt.Errorf("select last order number: %w", err)
	}
	if !highest.Valid {
		return strconv.Itoa(firstOrderNumber), nil
	}
	return strconv.FormatInt(highest.Int64+1, 10), nil
}

func (r orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, product_id, name, quantity, unit_price, total_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY position, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Name, &item.Quantity, &item.UnitPrice, &item.TotalPrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func scanOrder(row interface{ Scan(...any) error }) (domain.Order, error) {
	var (
		order    domain.Order
		status   string
		couponID sql.NullString
		address  []byte
	)
	if err := row.Scan(
		&order.ID, &order.OrderNumber, &order.UserID, &status,
		&order.Subtotal, &order.Tax, &order.Discount, &order.Shipping, &order.Total,
		&order.Currency, &couponID, &address, &order.DeliveryPartner, &order.TrackingID,
		&order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	if couponID.Valid {
		order.CouponID = &couponID.String
	}
	if err := json.Unmarshal(address, &order.ShippingAddress); err != nil {
		return domain.Order{}, fmt.Errorf("decode shipping address: %w", err)
	}
	return order, nil
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

var _ domain.OrderRepository = orderRepository{}
