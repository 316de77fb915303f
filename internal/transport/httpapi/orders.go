package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func orderQuery(c *gin.Context) domain.OrderQuery {
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("size"))
	return domain.OrderQuery{
		Search:   c.Query("search"),
		Page:     page,
		Size:     size,
		SortDesc: c.DefaultQuery("sort", "desc") != "asc",
	}
}

func (h *Handler) listOrders(c *gin.Context) {
	page, err := h.svc.Orders.ListOrders(c.Request.Context(), currentUser(c), orderQuery(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderPageResponse(page))
}

func (h *Handler) getOrder(c *gin.Context) {
	details, err := h.svc.Orders.GetOrder(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderDetailsResponse(details))
}

func (h *Handler) listAllOrders(c *gin.Context) {
	page, err := h.svc.Orders.ListAllOrders(c.Request.Context(), orderQuery(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderPageResponse(page))
}

func (h *Handler) getAnyOrder(c *gin.Context) {
	details, err := h.svc.Orders.GetOrder(c.Request.Context(), "", c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderDetailsResponse(details))
}

type fulfillmentRequest struct {
	Status          string `json:"status" binding:"required"`
	DeliveryPartner string `json:"deliveryPartner"`
	TrackingID      string `json:"trackingId"`
}

func (h *Handler) updateFulfillment(c *gin.Context) {
	var req fulfillmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, detail("Invalid request body"))
		return
	}
	order, err := h.svc.Orders.UpdateFulfillment(
		c.Request.Context(),
		c.Param("id"),
		domain.OrderStatus(req.Status),
		req.DeliveryPartner,
		req.TrackingID,
	)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *Handler) deleteOrder(c *gin.Context) {
	if err := h.svc.Orders.DeleteOrder(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail("Deleted Successfully"))
}
