package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/marketplace/payouts/internal/infrastructure/logger"
	"github.com/marketplace/payouts/internal/interfaces/http/dto"
	"github.com/marketplace/payouts/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// BindJSON binds the request body, writing a validation error on failure
func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		middleware.HandleValidationError(c, err)
		return false
	}
	return true
}

// BindQuery binds query parameters, writing a validation error on failure
func (h *BaseHandler) BindQuery(c *gin.Context, obj any) bool {
	if err := c.ShouldBindQuery(obj); err != nil {
		middleware.HandleValidationError(c, err)
		return false
	}
	return true
}

// HandleError converts domain errors to HTTP responses. Amount mismatches and
// invalid transitions carry structured details for operators.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	requestID := middleware.GetRequestID(c)
	log := logger.L(c.Request.Context())

	var mismatch *payout.AmountMismatchError
	if errors.As(err, &mismatch) {
		c.JSON(http.StatusUnprocessableEntity, dto.NewErrorResponseWithDetails(
			payout.CodeAmountMismatch, mismatch.Error(), requestID,
			dto.AmountMismatchDetails{
				SellerID:  mismatch.SellerID,
				Period:    mismatch.PeriodKey,
				Expected:  mismatch.Expected.StringFixed(2),
				Actual:    mismatch.Actual.StringFixed(2),
				Tolerance: mismatch.Tolerance.String(),
			},
		))
		return
	}

	var transition *payout.InvalidTransitionError
	if errors.As(err, &transition) {
		c.JSON(http.StatusConflict, dto.NewErrorResponseWithDetails(
			payout.CodeInvalidTransition, transition.Error(), requestID,
			dto.TransitionDetails{
				SellerID: transition.SellerID,
				Period:   transition.PeriodKey,
				From:     string(transition.From),
				To:       string(transition.To),
			},
		))
		return
	}

	var inconsistent *payout.InconsistentLedgerError
	if errors.As(err, &inconsistent) {
		log.Error("Ledger source data is inconsistent",
			zap.String("seller_id", inconsistent.SellerID),
			zap.String("period", inconsistent.PeriodKey),
			zap.String("order_id", inconsistent.OrderID.String()),
		)
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		code := dto.NormalizeErrorCode(domainErr.Code)
		c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, domainErr.Message, requestID))
		return
	}

	log.Error("Unhandled error", zap.Error(err))
	c.JSON(http.StatusInternalServerError, dto.NewErrorResponseWithRequestID(
		dto.ErrCodeInternal,
		"An unexpected error occurred",
		requestID,
	))
}
