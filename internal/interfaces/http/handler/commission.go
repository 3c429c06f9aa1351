package handler

import (
	"github.com/gin-gonic/gin"
	payoutapp "github.com/marketplace/payouts/internal/application/payout"
	"github.com/marketplace/payouts/internal/interfaces/http/middleware"
)

// CommissionHandler manages the commission configuration
type CommissionHandler struct {
	BaseHandler
	commission *payoutapp.CommissionService
}

// NewCommissionHandler creates a new CommissionHandler
func NewCommissionHandler(commission *payoutapp.CommissionService) *CommissionHandler {
	return &CommissionHandler{commission: commission}
}

// GetConfig handles GET /commission/config
func (h *CommissionHandler) GetConfig(c *gin.Context) {
	resp, err := h.commission.GetConfig(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// UpdateConfig handles PUT /commission/config
func (h *CommissionHandler) UpdateConfig(c *gin.Context) {
	var req payoutapp.UpdateCommissionConfigRequest
	if !h.BindJSON(c, &req) {
		return
	}

	resp, err := h.commission.UpdateConfig(c.Request.Context(), req, middleware.GetActor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// SetSellerOverrides handles PUT /commission/overrides
func (h *CommissionHandler) SetSellerOverrides(c *gin.Context) {
	var req payoutapp.UpdateSellerOverridesRequest
	if !h.BindJSON(c, &req) {
		return
	}

	resp, err := h.commission.SetSellerOverrides(c.Request.Context(), req, middleware.GetActor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}
