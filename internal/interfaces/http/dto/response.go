package dto

// Response represents a standard API response
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo represents error details
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// ValidationDetail describes one rejected request field
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data any) Response {
	return Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code, message string) Response {
	return Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	}
}

// NewErrorResponseWithRequestID creates an error response carrying the request ID
func NewErrorResponseWithRequestID(code, message, requestID string) Response {
	resp := NewErrorResponse(code, message)
	resp.Error.RequestID = requestID
	return resp
}

// NewErrorResponseWithDetails creates an error response with structured details
func NewErrorResponseWithDetails(code, message, requestID string, details any) Response {
	resp := NewErrorResponseWithRequestID(code, message, requestID)
	resp.Error.Details = details
	return resp
}

// NewValidationErrorResponse creates a validation error response
func NewValidationErrorResponse(message, requestID string, details []ValidationDetail) Response {
	return NewErrorResponseWithDetails(ErrCodeValidation, message, requestID, details)
}

// PeriodQuery is the period selector accepted by reporting endpoints
type PeriodQuery struct {
	Period string `form:"period" binding:"required,max=10"`
}

// AmountMismatchDetails accompanies an AMOUNT_MISMATCH error
type AmountMismatchDetails struct {
	SellerID  string `json:"seller_id"`
	Period    string `json:"period"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
	Tolerance string `json:"tolerance"`
}

// TransitionDetails accompanies an INVALID_TRANSITION error
type TransitionDetails struct {
	SellerID string `json:"seller_id"`
	Period   string `json:"period"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// HealthResponse reports service health
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version,omitempty"`
	Checks   map[string]string `json:"checks"`
	Uptime   string            `json:"uptime"`
	Instance string            `json:"instance,omitempty"`
}
