package payout

import (
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Event type names
const (
	EventTypeOrderRecorded          = "OrderRecorded"
	EventTypeOrderStatusChanged     = "OrderStatusChanged"
	EventTypePayoutProcessing       = "PayoutProcessingStarted"
	EventTypePayoutTransferred      = "PayoutTransferred"
	EventTypeCommissionRateChanged  = "CommissionRateChanged"
	AggregateTypeOrder              = "Order"
	AggregateTypePayoutRecord       = "PayoutRecord"
	AggregateTypeCommissionSettings = "CommissionSettings"
)

// OrderRecordedEvent is raised when a new order enters the ledger
type OrderRecordedEvent struct {
	shared.BaseDomainEvent
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	SellerID    string    `json:"seller_id"`
	PlacedAt    time.Time `json:"placed_at"`
}

// NewOrderRecordedEvent creates a new OrderRecordedEvent
func NewOrderRecordedEvent(o *Order) *OrderRecordedEvent {
	return &OrderRecordedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeOrderRecorded, AggregateTypeOrder, o.ID),
		OrderID:         o.ID,
		OrderNumber:     o.OrderNumber,
		SellerID:        o.SellerID,
		PlacedAt:        o.PlacedAt,
	}
}

// OrderStatusChangedEvent is raised when an order's fulfilment status changes
type OrderStatusChangedEvent struct {
	shared.BaseDomainEvent
	OrderID        uuid.UUID   `json:"order_id"`
	SellerID       string      `json:"seller_id"`
	PreviousStatus OrderStatus `json:"previous_status"`
	Status         OrderStatus `json:"status"`
	PlacedAt       time.Time   `json:"placed_at"`
}

// NewOrderStatusChangedEvent creates a new OrderStatusChangedEvent
func NewOrderStatusChangedEvent(o *Order, previous OrderStatus) *OrderStatusChangedEvent {
	return &OrderStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeOrderStatusChanged, AggregateTypeOrder, o.ID),
		OrderID:         o.ID,
		SellerID:        o.SellerID,
		PreviousStatus:  previous,
		Status:          o.Status,
		PlacedAt:        o.PlacedAt,
	}
}

// CommissionRateChangedEvent is raised when commission settings change
type CommissionRateChangedEvent struct {
	shared.BaseDomainEvent
	PreviousRate decimal.Decimal `json:"previous_rate"`
	Rate         decimal.Decimal `json:"rate"`
	Active       bool            `json:"active"`
	ChangedBy    string          `json:"changed_by"`
}

// NewCommissionRateChangedEvent creates a new CommissionRateChangedEvent
func NewCommissionRateChangedEvent(s *CommissionSettings, previous decimal.Decimal) *CommissionRateChangedEvent {
	return &CommissionRateChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeCommissionRateChanged, AggregateTypeCommissionSettings, s.ID),
		PreviousRate:    previous,
		Rate:            s.Rate,
		Active:          s.Active,
		ChangedBy:       s.UpdatedBy,
	}
}
