package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/shopspring/decimal"
)

// PayoutRecordModel is the persistence model for the PayoutRecord aggregate root.
// The unique (seller_id, period_key) index enforces one record per ledger.
type PayoutRecordModel struct {
	AggregateModel
	SellerID          string                  `gorm:"type:varchar(100);not null;uniqueIndex:idx_payout_records_seller_period,priority:1"`
	PeriodKey         string                  `gorm:"type:varchar(20);not null;uniqueIndex:idx_payout_records_seller_period,priority:2;index"`
	Status            payout.PayoutStatus     `gorm:"type:varchar(20);not null"`
	Amount            decimal.Decimal         `gorm:"type:decimal(18,2);not null;default:0"`
	TransferReference string                  `gorm:"type:varchar(100)"`
	ProcessingAt      *time.Time
	TransferredAt     *time.Time
	LastActor         string                  `gorm:"type:varchar(100);not null"`
	Transitions       []PayoutTransitionModel `gorm:"foreignKey:PayoutID;references:ID"`
}

// TableName returns the table name for GORM
func (PayoutRecordModel) TableName() string {
	return "payout_records"
}

// ToDomain converts the persistence model to a domain PayoutRecord.
// Transitions must be loaded ordered by sequence.
func (m *PayoutRecordModel) ToDomain() *payout.PayoutRecord {
	r := &payout.PayoutRecord{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		SellerID:          m.SellerID,
		PeriodKey:         m.PeriodKey,
		Status:            m.Status,
		Amount:            m.Amount,
		TransferReference: m.TransferReference,
		ProcessingAt:      m.ProcessingAt,
		TransferredAt:     m.TransferredAt,
		LastActor:         m.LastActor,
		History:           make([]payout.PayoutTransition, len(m.Transitions)),
	}
	for i := range m.Transitions {
		r.History[i] = m.Transitions[i].ToDomain()
	}
	return r
}

// FromDomain populates the persistence model, including the full history.
func (m *PayoutRecordModel) FromDomain(r *payout.PayoutRecord) {
	m.FromDomainAggregateRoot(r.BaseAggregateRoot)
	m.SellerID = r.SellerID
	m.PeriodKey = r.PeriodKey
	m.Status = r.Status
	m.Amount = r.Amount
	m.TransferReference = r.TransferReference
	m.ProcessingAt = utcPtr(r.ProcessingAt)
	m.TransferredAt = utcPtr(r.TransferredAt)
	m.LastActor = r.LastActor
	m.Transitions = make([]PayoutTransitionModel, len(r.History))
	for i := range r.History {
		m.Transitions[i] = PayoutTransitionModelFromDomain(r.History[i])
	}
}

// PayoutRecordModelFromDomain creates a new persistence model from a domain PayoutRecord.
func PayoutRecordModelFromDomain(r *payout.PayoutRecord) *PayoutRecordModel {
	m := &PayoutRecordModel{}
	m.FromDomain(r)
	return m
}

// PayoutTransitionModel is one row of the append-only payout audit trail.
type PayoutTransitionModel struct {
	ID         uuid.UUID           `gorm:"type:uuid;primaryKey"`
	PayoutID   uuid.UUID           `gorm:"type:uuid;not null;uniqueIndex:idx_payout_transitions_sequence,priority:1"`
	Sequence   int                 `gorm:"not null;uniqueIndex:idx_payout_transitions_sequence,priority:2"`
	FromStatus payout.PayoutStatus `gorm:"type:varchar(20);not null"`
	ToStatus   payout.PayoutStatus `gorm:"type:varchar(20);not null"`
	Actor      string              `gorm:"type:varchar(100);not null"`
	Amount     decimal.Decimal     `gorm:"type:decimal(18,2);not null"`
	Reference  string              `gorm:"type:varchar(100)"`
	OccurredAt time.Time           `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PayoutTransitionModel) TableName() string {
	return "payout_transitions"
}

// ToDomain converts the row to a domain PayoutTransition.
func (m *PayoutTransitionModel) ToDomain() payout.PayoutTransition {
	return payout.PayoutTransition{
		ID:         m.ID,
		PayoutID:   m.PayoutID,
		Sequence:   m.Sequence,
		From:       m.FromStatus,
		To:         m.ToStatus,
		Actor:      m.Actor,
		Amount:     m.Amount,
		Reference:  m.Reference,
		OccurredAt: m.OccurredAt,
	}
}

// PayoutTransitionModelFromDomain maps a domain transition to its row.
func PayoutTransitionModelFromDomain(t payout.PayoutTransition) PayoutTransitionModel {
	return PayoutTransitionModel{
		ID:         t.ID,
		PayoutID:   t.PayoutID,
		Sequence:   t.Sequence,
		FromStatus: t.From,
		ToStatus:   t.To,
		Actor:      t.Actor,
		Amount:     t.Amount,
		Reference:  t.Reference,
		OccurredAt: t.OccurredAt.UTC(),
	}
}
