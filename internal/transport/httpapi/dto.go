package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/cart"
	"github.com/vladislavdragonenkov/checkout/internal/service/ordering"
)

type cartItemResponse struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type couponResponse struct {
	Code          string          `json:"code"`
	DiscountType  string          `json:"discountType"`
	DiscountValue decimal.Decimal `json:"discountValue"`
}

type cartResponse struct {
	ID       string             `json:"id"`
	Items    []cartItemResponse `json:"items"`
	Coupon   *couponResponse    `json:"coupon,omitempty"`
	Subtotal decimal.Decimal    `json:"subtotal"`
	Tax      decimal.Decimal    `json:"tax"`
	Discount decimal.Decimal    `json:"discount"`
	Shipping decimal.Decimal    `json:"shipping"`
	Total    decimal.Decimal    `json:"total"`
}

func newCartResponse(view cart.View) cartResponse {
	items := make([]cartItemResponse, 0, len(view.Cart.Items))
	for _, item := range view.Cart.Items {
		items = append(items, cartItemResponse{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}
	resp := cartResponse{
		ID:       view.Cart.ID,
		Items:    items,
		Subtotal: view.Totals.Subtotal,
		Tax:      view.Totals.Tax,
		Discount: view.Totals.Discount,
		Shipping: view.Totals.Shipping,
		Total:    view.Totals.Total,
	}
	if view.Coupon != nil {
		resp.Coupon = &couponResponse{
			Code:          view.Coupon.Code,
			DiscountType:  string(view.Coupon.DiscountType),
			DiscountValue: view.Coupon.DiscountValue,
		}
	}
	return resp
}

type orderItemResponse struct {
	ProductID  string          `json:"productId"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

type orderResponse struct {
	ID              string              `json:"id"`
	OrderNumber     string              `json:"orderNumber"`
	UserID          string              `json:"userId"`
	Status          string              `json:"status"`
	Subtotal        decimal.Decimal     `json:"subtotal"`
	Tax             decimal.Decimal     `json:"tax"`
	Discount        decimal.Decimal     `json:"discount"`
	Shipping        decimal.Decimal     `json:"shipping"`
	Total           decimal.Decimal     `json:"total"`
	Currency        string              `json:"currency"`
	ShippingAddress domain.Address      `json:"shippingAddress"`
	Items           []orderItemResponse `json:"items"`
	DeliveryPartner string              `json:"deliveryPartner,omitempty"`
	TrackingID      string              `json:"trackingId,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

func newOrderResponse(order domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ProductID:  item.ProductID,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.TotalPrice,
		})
	}
	return orderResponse{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		Status:          string(order.Status),
		Subtotal:        order.Subtotal,
		Tax:             order.Tax,
		Discount:        order.Discount,
		Shipping:        order.Shipping,
		Total:           order.Total,
		Currency:        order.Currency,
		ShippingAddress: order.ShippingAddress,
		Items:           items,
		DeliveryPartner: order.DeliveryPartner,
		TrackingID:      order.TrackingID,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}

type transactionResponse struct {
	TransactionID string            `json:"transactionId"`
	Status        string            `json:"status"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	PaymentMethod string            `json:"paymentMethod"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

type timelineResponse struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type orderDetailsResponse struct {
	orderResponse
	Transaction *transactionResponse `json:"transaction,omitempty"`
	Timeline    []timelineResponse   `json:"timeline"`
}

func newOrderDetailsResponse(details ordering.OrderDetails) orderDetailsResponse {
	resp := orderDetailsResponse{
		orderResponse: newOrderResponse(details.Order),
		Timeline:      make([]timelineResponse, 0, len(details.Timeline)),
	}
	if txn := details.Transaction; txn != nil {
		resp.Transaction = &transactionResponse{
			TransactionID: txn.TransactionID,
			Status:        string(txn.Status),
			Amount:        txn.Amount,
			Currency:      txn.Currency,
			PaymentMethod: txn.PaymentMethod,
			Metadata:      txn.Metadata,
			UpdatedAt:     txn.UpdatedAt,
		}
	}
	for _, event := range details.Timeline {
		resp.Timeline = append(resp.Timeline, timelineResponse{
			Type:     event.Type,
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}
	return resp
}

type orderPageResponse struct {
	Items   []orderResponse `json:"items"`
	Page    int             `json:"page"`
	Size    int             `json:"size"`
	Total   int             `json:"total"`
	HasNext bool            `json:"hasNext"`
	HasPrev bool            `json:"hasPrev"`
}

func newOrderPageResponse(page domain.OrderPage) orderPageResponse {
	items := make([]orderResponse, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, newOrderResponse(order))
	}
	return orderPageResponse{
		Items:   items,
		Page:    page.Page,
		Size:    page.Size,
		Total:   page.Total,
		HasNext: page.HasNext,
		HasPrev: page.HasPrev,
	}
}
