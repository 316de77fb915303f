package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/coupon"
)

type adminCouponResponse struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"`
	DiscountType  string          `json:"discountType"`
	DiscountValue decimal.Decimal `json:"discountValue"`
	MinOrder      decimal.Decimal `json:"minOrder"`
	MaxUses       *int            `json:"maxUses"`
	UsedCount     int             `json:"usedCount"`
	ExpiresAt     *time.Time      `json:"expiresAt"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"createdAt"`
}

func newAdminCouponResponse(c domain.Coupon) adminCouponResponse {
	return adminCouponResponse{
		ID:            c.ID,
		Code:          c.Code,
		DiscountType:  string(c.DiscountType),
		DiscountValue: c.DiscountValue,
		MinOrder:      c.MinOrder,
		MaxUses:       c.MaxUses,
		UsedCount:     c.UsedCount,
		ExpiresAt:     c.ExpiresAt,
		Active:        c.Active,
		CreatedAt:     c.CreatedAt,
	}
}

type couponPageResponse struct {
	Items   []adminCouponResponse `json:"items"`
	Page    int                   `json:"page"`
	Size    int                   `json:"size"`
	Total   int                   `json:"total"`
	HasNext bool                  `json:"hasNext"`
	HasPrev bool                  `json:"hasPrev"`
}

type createCouponRequest struct {
	Code          string          `json:"code" binding:"required"`
	DiscountType  string          `json:"discountType" binding:"required"`
	DiscountValue decimal.Decimal `json:"discountValue"`
	MinOrder      decimal.Decimal `json:"minOrder"`
	MaxUses       *int            `json:"maxUses"`
	ExpiresAt     *time.Time      `json:"expiresAt"`
}

// updateCouponRequest: отсутствующее поле не меняется. clearMaxUses и
// clearExpiresAt снимают лимит и срок.
type updateCouponRequest struct {
	Code           *string          `json:"code"`
	DiscountType   *string          `json:"discountType"`
	DiscountValue  *decimal.Decimal `json:"discountValue"`
	MinOrder       *decimal.Decimal `json:"minOrder"`
	MaxUses        *int             `json:"maxUses"`
	ClearMaxUses   bool             `json:"clearMaxUses"`
	ExpiresAt      *time.Time       `json:"expiresAt"`
	ClearExpiresAt bool             `json:"clearExpiresAt"`
	Active         *bool            `json:"active"`
}

func (h *Handler) createCoupon(c *gin.Context) {
	var req createCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, detail("Invalid request body"))
		return
	}
	created, err := h.svc.Coupons.Create(c.Request.Context(), coupon.Input{
		Code:          req.Code,
		DiscountType:  domain.DiscountType(req.DiscountType),
		DiscountValue: req.DiscountValue,
		MinOrder:      req.MinOrder,
		MaxUses:       req.MaxUses,
		ExpiresAt:     req.ExpiresAt,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newAdminCouponResponse(created))
}

func (h *Handler) listCoupons(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("size"))
	result, err := h.svc.Coupons.List(c.Request.Context(), domain.CouponQuery{
		Search: c.Query("search"),
		Page:   page,
		Size:   size,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := couponPageResponse{
		Items:   make([]adminCouponResponse, 0, len(result.Items)),
		Page:    result.Page,
		Size:    result.Size,
		Total:   result.Total,
		HasNext: result.HasNext,
		HasPrev: result.HasPrev,
	}
	for _, item := range result.Items {
		resp.Items = append(resp.Items, newAdminCouponResponse(item))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) updateCoupon(c *gin.Context) {
	var req updateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, detail("Invalid request body"))
		return
	}
	patch := coupon.Patch{
		Code:          req.Code,
		DiscountValue: req.DiscountValue,
		MinOrder:      req.MinOrder,
		MaxUses:       req.MaxUses,
		ClearMaxUses:  req.ClearMaxUses,
		ExpiresAt:     req.ExpiresAt,
		ClearExpiry:   req.ClearExpiresAt,
		Active:        req.Active,
	}
	if req.DiscountType != nil {
		kind := domain.DiscountType(*req.DiscountType)
		patch.DiscountType = &kind
	}
	updated, err := h.svc.Coupons.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newAdminCouponResponse(updated))
}

func (h *Handler) deleteCoupon(c *gin.Context) {
	if err := h.svc.Coupons.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
