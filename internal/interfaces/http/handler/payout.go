package handler

import (
	"github.com/gin-gonic/gin"
	payoutapp "github.com/marketplace/payouts/internal/application/payout"
	"github.com/marketplace/payouts/internal/interfaces/http/middleware"
)

// PayoutHandler drives the payout lifecycle of a seller period
type PayoutHandler struct {
	BaseHandler
	lifecycle *payoutapp.PayoutLifecycleService
}

// NewPayoutHandler creates a new PayoutHandler
func NewPayoutHandler(lifecycle *payoutapp.PayoutLifecycleService) *PayoutHandler {
	return &PayoutHandler{lifecycle: lifecycle}
}

// MarkProcessing handles POST /payouts/:seller_id/:period/processing
func (h *PayoutHandler) MarkProcessing(c *gin.Context) {
	resp, err := h.lifecycle.MarkProcessing(c.Request.Context(), c.Param("seller_id"), c.Param("period"), middleware.GetActor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// MarkTransferred handles POST /payouts/:seller_id/:period/transfer.
// Replaying the same transfer reference answers 200 with the stored record.
func (h *PayoutHandler) MarkTransferred(c *gin.Context) {
	var req payoutapp.MarkTransferredRequest
	if !h.BindJSON(c, &req) {
		return
	}

	resp, err := h.lifecycle.MarkTransferred(c.Request.Context(), c.Param("seller_id"), c.Param("period"), req, middleware.GetActor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Get handles GET /payouts/:seller_id/:period
func (h *PayoutHandler) Get(c *gin.Context) {
	record, err := h.lifecycle.GetPayout(c.Request.Context(), c.Param("seller_id"), c.Param("period"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if record == nil {
		h.NotFound(c, "No payout has been started for this seller period")
		return
	}
	h.Success(c, payoutapp.ToPayoutResponse(record))
}
