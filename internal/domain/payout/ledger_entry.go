package payout

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerEntry is the financial split of a single order.
// CommissionAmount + NetAmount == GrossAmount holds exactly.
type LedgerEntry struct {
	OrderID          uuid.UUID
	OrderNumber      string
	SellerID         string
	OrderStatus      OrderStatus
	Period           Period
	PlacedAt         time.Time
	GrossAmount      decimal.Decimal
	CommissionRate   decimal.Decimal
	CommissionAmount decimal.Decimal
	NetAmount        decimal.Decimal
}

// BuildEntry computes the ledger split for order under policy. The entry is
// tagged with the all-time period; use LedgerBuilder to assign a bounded one.
func BuildEntry(order *Order, policy CommissionPolicy) (LedgerEntry, error) {
	if order == nil {
		return LedgerEntry{}, &InvalidOrderError{Reason: "order is nil"}
	}
	if err := order.Validate(); err != nil {
		return LedgerEntry{}, err
	}

	gross := decimal.Zero
	for _, li := range order.LineItems {
		gross = gross.Add(li.Subtotal())
	}
	gross = RoundMoney(gross)

	rate := policy.RateFor(order)
	if err := ValidateRate(rate); err != nil {
		return LedgerEntry{}, &InvalidOrderError{
			OrderID:  order.ID,
			SellerID: order.SellerID,
			Reason:   fmt.Sprintf("commission rate %s is outside [0, 1]", rate.String()),
		}
	}

	commission := RoundMoney(gross.Mul(rate))
	return LedgerEntry{
		OrderID:          order.ID,
		OrderNumber:      order.OrderNumber,
		SellerID:         order.SellerID,
		OrderStatus:      order.Status,
		Period:           AllTime(),
		PlacedAt:         order.PlacedAt,
		GrossAmount:      gross,
		CommissionRate:   rate,
		CommissionAmount: commission,
		NetAmount:        gross.Sub(commission),
	}, nil
}

// LedgerBuilder builds entries for one computation batch. Policy is read
// once by the caller and shared by every entry the builder produces.
type LedgerBuilder struct {
	Policy      CommissionPolicy
	Granularity Granularity
	Location    *time.Location
}

// Build computes the entry for order and assigns the period containing PlacedAt
func (b LedgerBuilder) Build(order *Order) (LedgerEntry, error) {
	entry, err := BuildEntry(order, b.Policy)
	if err != nil {
		return LedgerEntry{}, err
	}
	entry.Period = PeriodOf(b.Granularity, order.PlacedAt, b.Location)
	return entry, nil
}

// BuildAll builds entries for orders, stopping at the first invalid order
func (b LedgerBuilder) BuildAll(orders []*Order) ([]LedgerEntry, error) {
	entries := make([]LedgerEntry, 0, len(orders))
	for _, o := range orders {
		entry, err := b.Build(o)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
