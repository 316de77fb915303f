package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// firstOrderNumber — номер первого заказа, пока ни одного ещё нет.
const firstOrderNumber = 1250

type orderRepository struct {
	st  *state
	now func() time.Time
}

func (r orderRepository) Create(_ context.Context, order domain.Order) error {
	if _, exists := r.st.orders[order.ID]; exists {
		return domain.ErrConflict
	}
	for _, existing := range r.st.orders {
		if existing.OrderNumber == order.OrderNumber {
			return domain.ErrOrderNumberTaken
		}
	}
	r.st.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	order, ok := r.st.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (r orderRepository) List(_ context.Context, query domain.OrderQuery) (domain.OrderPage, error) {
	query = query.Normalize()
	search := strings.ToLower(strings.TrimSpace(query.Search))

	matched := make([]domain.Order, 0)
	for _, order := range r.st.orders {
		if query.UserID != "" && order.UserID != query.UserID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(order.OrderNumber), search) {
			continue
		}
		matched = append(matched, order)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].OrderNumber < matched[j].OrderNumber
		}
		if query.SortDesc {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	page := domain.OrderPage{
		Page:    query.Page,
		Size:    query.Size,
		Total:   len(matched),
		HasPrev: query.Page > 1,
		HasNext: query.Offset()+query.Size < len(matched),
		Items:   []domain.Order{},
	}
	if start := query.Offset(); start < len(matched) {
		end := start + query.Size
		if end > len(matched) {
			end = len(matched)
		}
		for _, order := range matched[start:end] {
			page.Items = append(page.Items, cloneOrder(order))
		}
	}
	return page, nil
}

func (r orderRepository) UpdateStatus(_ context.Context, id string, status domain.OrderStatus) error {
	order, ok := r.st.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.Status = status
	order.UpdatedAt = r.now()
	r.st.orders[id] = order
	return nil
}

func (r orderRepository) UpdateFulfillment(_ context.Context, id string, status domain.OrderStatus, partner, trackingID string) error {
	order, ok := r.st.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.Status = status
	order.DeliveryPartner = partner
	order.TrackingID = trackingID
	order.UpdatedAt = r.now()
	r.st.orders[id] = order
	return nil
}

func (r orderRepository) Delete(_ context.Context, id string) error {
	if _, ok := r.st.orders[id]; !ok {
		return domain.ErrOrderNotFound
	}
	delete(r.st.orders, id)
	delete(r.st.timeline, id)
	for key, txn := range r.st.transactions {
		if txn.OrderID == id {
			delete(r.st.transactions, key)
		}
	}
	return nil
}

// NextOrderNumber берёт максимальный числовой номер и прибавляет единицу.
// Транзакции хранилища сериализованы, поэтому гонки между вызовами нет.
func (r orderRepository) NextOrderNumber(context.Context) (string, error) {
	found := false
	highest := 0
	for _, order := range r.st.orders {
		n, err := strconv.Atoi(order.OrderNumber)
		if err != nil {
			continue
		}
		if !found || n > highest {
			highest = n
			found = true
		}
	}
	if !found {
		return strconv.Itoa(firstOrderNumber), nil
	}
	return strconv.Itoa(highest + 1), nil
}

var _ domain.OrderRepository = orderRepository{}
