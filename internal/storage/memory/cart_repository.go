package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type cartRepository struct {
	st  *state
	now func() time.Time
}

func (r cartRepository) Get(_ context.Context, userID string) (domain.Cart, error) {
	cart, ok := r.st.carts[userID]
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return cart.Clone(), nil
}

func (r cartRepository) Save(_ context.Context, cart domain.Cart) error {
	if cart.UserID == "" {
		return domain.ErrUserRequired
	}
	now := r.now()
	if cart.ID == "" {
		cart.ID = uuid.NewString()
	}
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	cart.UpdatedAt = now
	for i := range cart.Items {
		if cart.Items[i].ID == "" {
			cart.Items[i].ID = uuid.NewString()
		}
	}
	r.st.carts[cart.UserID] = cart.Clone()
	return nil
}

func (r cartRepository) Delete(_ context.Context, userID string) error {
	delete(r.st.carts, userID)
	return nil
}

var _ domain.CartRepository = cartRepository{}
