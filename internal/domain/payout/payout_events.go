package payout

import (
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// PayoutProcessingStartedEvent is raised when a payout moves to PROCESSING
type PayoutProcessingStartedEvent struct {
	shared.BaseDomainEvent
	PayoutID  uuid.UUID       `json:"payout_id"`
	SellerID  string          `json:"seller_id"`
	PeriodKey string          `json:"period_key"`
	Amount    decimal.Decimal `json:"amount"`
	Actor     string          `json:"actor"`
	StartedAt time.Time       `json:"started_at"`
}

// NewPayoutProcessingStartedEvent creates a new PayoutProcessingStartedEvent
func NewPayoutProcessingStartedEvent(r *PayoutRecord) *PayoutProcessingStartedEvent {
	return &PayoutProcessingStartedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePayoutProcessing, AggregateTypePayoutRecord, r.ID),
		PayoutID:        r.ID,
		SellerID:        r.SellerID,
		PeriodKey:       r.PeriodKey,
		Amount:          r.Amount,
		Actor:           r.LastActor,
		StartedAt:       r.UpdatedAt,
	}
}

// PayoutTransferredEvent is raised when a payout reaches TRANSFERRED
type PayoutTransferredEvent struct {
	shared.BaseDomainEvent
	PayoutID          uuid.UUID       `json:"payout_id"`
	SellerID          string          `json:"seller_id"`
	PeriodKey         string          `json:"period_key"`
	Amount            decimal.Decimal `json:"amount"`
	TransferReference string          `json:"transfer_reference"`
	PreviousStatus    PayoutStatus    `json:"previous_status"`
	Actor             string          `json:"actor"`
	TransferredAt     time.Time       `json:"transferred_at"`
}

// NewPayoutTransferredEvent creates a new PayoutTransferredEvent
func NewPayoutTransferredEvent(r *PayoutRecord, from PayoutStatus) *PayoutTransferredEvent {
	return &PayoutTransferredEvent{
		BaseDomainEvent:   shared.NewBaseDomainEvent(EventTypePayoutTransferred, AggregateTypePayoutRecord, r.ID),
		PayoutID:          r.ID,
		SellerID:          r.SellerID,
		PeriodKey:         r.PeriodKey,
		Amount:            r.Amount,
		TransferReference: r.TransferReference,
		PreviousStatus:    from,
		Actor:             r.LastActor,
		TransferredAt:     r.UpdatedAt,
	}
}
