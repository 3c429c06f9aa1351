package payout

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Error codes surfaced to callers. Each typed error below unwraps to a
// shared.DomainError carrying one of these codes.
const (
	CodeInvalidOrder       = "INVALID_ORDER"
	CodeInconsistentLedger = "INCONSISTENT_LEDGER"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeAmountMismatch     = "AMOUNT_MISMATCH"
	CodeInvalidPeriod      = "INVALID_PERIOD"
	CodeInvalidRate        = "INVALID_COMMISSION_RATE"
	CodePayoutExists       = "PAYOUT_EXISTS"
)

// ErrPayoutExists is returned by PayoutRepository.Create when a record for
// the same seller and period is already stored.
var ErrPayoutExists = shared.NewDomainError(CodePayoutExists, "payout record already exists for seller period")

// InvalidOrderError reports an order that cannot produce a ledger entry.
type InvalidOrderError struct {
	OrderID  uuid.UUID
	SellerID string
	Reason   string
}

func (e *InvalidOrderError) Error() string {
	if e.OrderID == uuid.Nil {
		return fmt.Sprintf("invalid order: %s", e.Reason)
	}
	return fmt.Sprintf("invalid order %s: %s", e.OrderID, e.Reason)
}

func (e *InvalidOrderError) Unwrap() error {
	return shared.NewDomainError(CodeInvalidOrder, e.Error())
}

// InconsistentLedgerError reports the same order contributing different
// amounts to one ledger. It indicates corrupted source data.
type InconsistentLedgerError struct {
	OrderID          uuid.UUID
	SellerID         string
	PeriodKey        string
	ExistingGross    decimal.Decimal
	ConflictingGross decimal.Decimal
	Reason           string
}

func (e *InconsistentLedgerError) Error() string {
	return fmt.Sprintf(
		"inconsistent ledger for seller %s period %s: order %s %s (existing gross %s, conflicting gross %s)",
		e.SellerID, e.PeriodKey, e.OrderID, e.Reason, e.ExistingGross.StringFixed(2), e.ConflictingGross.StringFixed(2),
	)
}

func (e *InconsistentLedgerError) Unwrap() error {
	return shared.NewDomainError(CodeInconsistentLedger, e.Error())
}

// InvalidTransitionError reports a lifecycle move the payout state machine forbids.
type InvalidTransitionError struct {
	SellerID  string
	PeriodKey string
	From      PayoutStatus
	To        PayoutStatus
	Reason    string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("cannot move payout for seller %s period %s from %s to %s", e.SellerID, e.PeriodKey, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Unwrap() error {
	return shared.NewDomainError(CodeInvalidTransition, e.Error())
}

// AmountMismatchError reports a transfer amount that does not match the
// seller's net total for the period.
type AmountMismatchError struct {
	SellerID  string
	PeriodKey string
	Expected  decimal.Decimal
	Actual    decimal.Decimal
	Tolerance decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf(
		"transfer amount %s for seller %s period %s does not match net total %s",
		e.Actual.StringFixed(2), e.SellerID, e.PeriodKey, e.Expected.StringFixed(2),
	)
}

func (e *AmountMismatchError) Unwrap() error {
	return shared.NewDomainError(CodeAmountMismatch, e.Error())
}

func newInvalidPeriodError(key, reason string) error {
	return shared.NewDomainError(CodeInvalidPeriod, fmt.Sprintf("invalid period %q: %s", key, reason))
}
