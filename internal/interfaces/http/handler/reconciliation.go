package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	payoutapp "github.com/marketplace/payouts/internal/application/payout"
	"github.com/marketplace/payouts/internal/interfaces/http/dto"
	"github.com/marketplace/payouts/internal/interfaces/http/middleware"
)

// ReconciliationHandler serves read-only reconciliation reports
type ReconciliationHandler struct {
	BaseHandler
	reports *payoutapp.ReconciliationService
}

// NewReconciliationHandler creates a new ReconciliationHandler
func NewReconciliationHandler(reports *payoutapp.ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{reports: reports}
}

// GlobalSummary handles GET /reconciliation/summary?period=
func (h *ReconciliationHandler) GlobalSummary(c *gin.Context) {
	var q dto.PeriodQuery
	if !h.BindQuery(c, &q) {
		return
	}

	resp, err := h.reports.GlobalSummary(c.Request.Context(), q.Period)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// SellerSummary handles GET /reconciliation/sellers/:seller_id?period=
func (h *ReconciliationHandler) SellerSummary(c *gin.Context) {
	var q dto.PeriodQuery
	if !h.BindQuery(c, &q) {
		return
	}

	resp, err := h.reports.SellerSummary(c.Request.Context(), c.Param("seller_id"), q.Period)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// TransferHistory handles GET /reconciliation/sellers/:seller_id/history
func (h *ReconciliationHandler) TransferHistory(c *gin.Context) {
	resp, err := h.reports.SellerTransferHistory(c.Request.Context(), c.Param("seller_id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// CreateTransferBatch handles POST /transfer-batches. A dry run answers 200
// with the plan; otherwise 201 with the outcome of every seller.
func (h *ReconciliationHandler) CreateTransferBatch(c *gin.Context) {
	var req payoutapp.CreateTransferBatchRequest
	if !h.BindJSON(c, &req) {
		return
	}

	resp, err := h.reports.CreateTransferBatch(c.Request.Context(), req, middleware.GetActor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if resp.DryRun {
		h.Success(c, resp)
		return
	}
	h.Created(c, resp)
}

// OrderBreakdown handles GET /reconciliation/orders/:order_id
func (h *ReconciliationHandler) OrderBreakdown(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("order_id"))
	if err != nil {
		h.BadRequest(c, "Invalid order ID format")
		return
	}

	resp, err := h.reports.OrderBreakdown(c.Request.Context(), orderID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Export handles POST /reconciliation/exports?period=
func (h *ReconciliationHandler) Export(c *gin.Context) {
	var q dto.PeriodQuery
	if !h.BindQuery(c, &q) {
		return
	}

	resp, err := h.reports.ExportPeriod(c.Request.Context(), q.Period)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, resp)
}

// CommissionStats handles GET /commission/stats
func (h *ReconciliationHandler) CommissionStats(c *gin.Context) {
	resp, err := h.reports.CommissionStats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}
