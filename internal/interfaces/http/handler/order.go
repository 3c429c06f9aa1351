package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	payoutapp "github.com/marketplace/payouts/internal/application/payout"
)

// OrderHandler handles order intake
type OrderHandler struct {
	BaseHandler
	orders *payoutapp.OrderService
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(orders *payoutapp.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// Create handles POST /orders
func (h *OrderHandler) Create(c *gin.Context) {
	var req payoutapp.RecordOrderRequest
	if !h.BindJSON(c, &req) {
		return
	}

	resp, err := h.orders.RecordOrder(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, resp)
}

// UpdateStatus handles PATCH /orders/:order_id/status
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("order_id"))
	if err != nil {
		h.BadRequest(c, "Invalid order ID format")
		return
	}

	var req payoutapp.UpdateOrderStatusRequest
	if !h.BindJSON(c, &req) {
		return
	}

	resp, err := h.orders.UpdateOrderStatus(c.Request.Context(), orderID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}
