package payout

import (
	"strings"
	"time"

	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// MaxReferenceLength is the longest transfer reference a payout record stores
const MaxReferenceLength = 100

var (
	errActorRequired     = shared.NewDomainError("INVALID_INPUT", "actor is required")
	errReferenceRequired = shared.NewDomainError("INVALID_INPUT", "transfer reference is required")
	errReferenceTooLong  = shared.NewDomainError("INVALID_INPUT", "transfer reference exceeds 100 characters")
)

// ProcessingRequest asks to move an owed payout to PROCESSING
type ProcessingRequest struct {
	Key      LedgerKey
	TotalNet decimal.Decimal
	Actor    string
	Now      time.Time
}

// StartProcessing returns a new PROCESSING record for an owed ledger.
// existing is the stored record for req.Key, or nil. Any stored record means
// the payout has already left OWED and the request is rejected.
func StartProcessing(existing *PayoutRecord, req ProcessingRequest) (*PayoutRecord, error) {
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		return nil, errActorRequired
	}
	if existing != nil {
		return nil, &InvalidTransitionError{
			SellerID:  req.Key.SellerID,
			PeriodKey: req.Key.PeriodKey,
			From:      existing.Status,
			To:        PayoutStatusProcessing,
		}
	}
	if !req.TotalNet.IsPositive() {
		return nil, &InvalidTransitionError{
			SellerID:  req.Key.SellerID,
			PeriodKey: req.Key.PeriodKey,
			From:      PayoutStatusNone,
			To:        PayoutStatusProcessing,
			Reason:    "nothing is owed for this period",
		}
	}
	return newPayoutRecord(req.Key, PayoutStatusProcessing, RoundMoney(req.TotalNet), "", actor, nowOr(req.Now)), nil
}

// TransferRequest records that an external transfer completed
type TransferRequest struct {
	Key       LedgerKey
	TotalNet  decimal.Decimal
	Amount    decimal.Decimal
	Reference string
	Actor     string
	// Tolerance of zero requires an exact match; negative uses DefaultAmountTolerance
	Tolerance decimal.Decimal
	Now       time.Time
}

// Transfer applies a TRANSFERRED transition. existing is the stored record
// for req.Key, or nil when the payout is still implicitly OWED.
//
// The returned bool is false when nothing changed: a replay of a transfer
// already recorded with the same reference returns the stored record as is.
// On error existing is never modified.
func Transfer(existing *PayoutRecord, req TransferRequest) (*PayoutRecord, bool, error) {
	reference := strings.TrimSpace(req.Reference)
	actor := strings.TrimSpace(req.Actor)
	if reference == "" {
		return nil, false, errReferenceRequired
	}
	if len(reference) > MaxReferenceLength {
		return nil, false, errReferenceTooLong
	}

	if existing != nil && existing.Status == PayoutStatusTransferred {
		if existing.TransferReference == reference {
			return existing, false, nil
		}
		return nil, false, &InvalidTransitionError{
			SellerID:  req.Key.SellerID,
			PeriodKey: req.Key.PeriodKey,
			From:      existing.Status,
			To:        PayoutStatusTransferred,
			Reason:    "already transferred with reference " + existing.TransferReference,
		}
	}

	if actor == "" {
		return nil, false, errActorRequired
	}

	from := PayoutStatusOwed
	if existing != nil {
		from = existing.Status
	} else if !req.TotalNet.IsPositive() {
		from = PayoutStatusNone
	}
	if !from.CanTransitionTo(PayoutStatusTransferred) {
		return nil, false, &InvalidTransitionError{
			SellerID:  req.Key.SellerID,
			PeriodKey: req.Key.PeriodKey,
			From:      from,
			To:        PayoutStatusTransferred,
			Reason:    "nothing is owed for this period",
		}
	}

	tolerance := req.Tolerance
	if tolerance.IsNegative() {
		tolerance = DefaultAmountTolerance
	}
	if !WithinTolerance(req.Amount, req.TotalNet, tolerance) {
		return nil, false, &AmountMismatchError{
			SellerID:  req.Key.SellerID,
			PeriodKey: req.Key.PeriodKey,
			Expected:  req.TotalNet,
			Actual:    req.Amount,
			Tolerance: tolerance,
		}
	}

	now := nowOr(req.Now)
	amount := RoundMoney(req.Amount)
	if existing == nil {
		return newPayoutRecord(req.Key, PayoutStatusTransferred, amount, reference, actor, now), true, nil
	}

	existing.apply(PayoutStatusTransferred, amount, reference, actor, now)
	existing.IncrementVersion()
	return existing, true, nil
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
