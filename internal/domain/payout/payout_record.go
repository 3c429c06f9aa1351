package payout

import (
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// PayoutStatus is the lifecycle state of a seller-period payout
type PayoutStatus string

const (
	// PayoutStatusNone is reported when there is no record and nothing is owed
	PayoutStatusNone PayoutStatus = "NONE"
	// PayoutStatusOwed is implicit: net total > 0 and no record exists
	PayoutStatusOwed        PayoutStatus = "OWED"
	PayoutStatusProcessing  PayoutStatus = "PROCESSING"
	PayoutStatusTransferred PayoutStatus = "TRANSFERRED"
)

// CanTransitionTo reports whether the state machine allows s -> to
func (s PayoutStatus) CanTransitionTo(to PayoutStatus) bool {
	switch s {
	case PayoutStatusOwed:
		return to == PayoutStatusProcessing || to == PayoutStatusTransferred
	case PayoutStatusProcessing:
		return to == PayoutStatusTransferred
	}
	return false
}

// IsTerminal returns true for TRANSFERRED
func (s PayoutStatus) IsTerminal() bool {
	return s == PayoutStatusTransferred
}

// ImplicitPayoutStatus is the status of a ledger that has no payout record
func ImplicitPayoutStatus(totalNet decimal.Decimal) PayoutStatus {
	if totalNet.IsPositive() {
		return PayoutStatusOwed
	}
	return PayoutStatusNone
}

// PayoutTransition is an immutable audit entry for one status change
type PayoutTransition struct {
	ID         uuid.UUID
	PayoutID   uuid.UUID
	Sequence   int
	From       PayoutStatus
	To         PayoutStatus
	Actor      string
	Amount     decimal.Decimal
	Reference  string
	OccurredAt time.Time
}

// PayoutRecord tracks the payout of one seller for one period.
// At most one record exists per (SellerID, PeriodKey).
type PayoutRecord struct {
	shared.BaseAggregateRoot
	SellerID          string
	PeriodKey         string
	Status            PayoutStatus
	Amount            decimal.Decimal
	TransferReference string
	ProcessingAt      *time.Time
	TransferredAt     *time.Time
	LastActor         string
	History           []PayoutTransition
}

// Key returns the ledger key the record belongs to
func (r *PayoutRecord) Key() LedgerKey {
	return LedgerKey{SellerID: r.SellerID, PeriodKey: r.PeriodKey}
}

// LastTransition returns the most recent audit entry, or nil
func (r *PayoutRecord) LastTransition() *PayoutTransition {
	if len(r.History) == 0 {
		return nil
	}
	return &r.History[len(r.History)-1]
}

// HasTransition reports whether the audit history contains transition id
func (r *PayoutRecord) HasTransition(id uuid.UUID) bool {
	for i := range r.History {
		if r.History[i].ID == id {
			return true
		}
	}
	return false
}

// newPayoutRecord creates a record leaving the implicit OWED state
func newPayoutRecord(key LedgerKey, to PayoutStatus, amount decimal.Decimal, reference, actor string, now time.Time) *PayoutRecord {
	r := &PayoutRecord{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		SellerID:          key.SellerID,
		PeriodKey:         key.PeriodKey,
		Status:            PayoutStatusOwed,
		History:           make([]PayoutTransition, 0, 2),
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	r.apply(to, amount, reference, actor, now)
	return r
}

// apply moves the record to status `to` and appends the audit entry.
// Callers have already checked the transition is allowed.
func (r *PayoutRecord) apply(to PayoutStatus, amount decimal.Decimal, reference, actor string, now time.Time) {
	from := r.Status
	r.History = append(r.History, PayoutTransition{
		ID:         uuid.New(),
		PayoutID:   r.ID,
		Sequence:   len(r.History) + 1,
		From:       from,
		To:         to,
		Actor:      actor,
		Amount:     amount,
		Reference:  reference,
		OccurredAt: now,
	})

	r.Status = to
	r.Amount = amount
	r.LastActor = actor
	r.UpdatedAt = now
	switch to {
	case PayoutStatusProcessing:
		r.ProcessingAt = &now
		r.AddDomainEvent(NewPayoutProcessingStartedEvent(r))
	case PayoutStatusTransferred:
		r.TransferReference = reference
		r.TransferredAt = &now
		r.AddDomainEvent(NewPayoutTransferredEvent(r, from))
	}
}
