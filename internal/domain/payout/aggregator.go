package payout

import (
	"cmp"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerKey identifies one seller's ledger for one period
type LedgerKey struct {
	SellerID  string
	PeriodKey string
}

// SellerLedgerSummary accumulates the ledger entries of one seller and period.
// Totals are exact decimal sums, so the fold order does not affect the result.
type SellerLedgerSummary struct {
	SellerID        string
	Period          Period
	OrderCount      int
	TotalGross      decimal.Decimal
	TotalCommission decimal.Decimal
	TotalNet        decimal.Decimal

	grossByOrder map[uuid.UUID]decimal.Decimal
}

// NewSellerLedgerSummary returns an empty summary
func NewSellerLedgerSummary(sellerID string, period Period) *SellerLedgerSummary {
	return &SellerLedgerSummary{
		SellerID:        sellerID,
		Period:          period,
		TotalGross:      decimal.Zero,
		TotalCommission: decimal.Zero,
		TotalNet:        decimal.Zero,
		grossByOrder:    make(map[uuid.UUID]decimal.Decimal),
	}
}

// Key returns the summary's ledger key
func (s *SellerLedgerSummary) Key() LedgerKey {
	return LedgerKey{SellerID: s.SellerID, PeriodKey: s.Period.Key}
}

// Includes reports whether orderID has been folded into the summary
func (s *SellerLedgerSummary) Includes(orderID uuid.UUID) bool {
	_, ok := s.grossByOrder[orderID]
	return ok
}

// FoldEntry adds entry to summary. A nil summary starts a new one.
// An order already folded with the same gross is ignored; with a different
// gross the summary is returned unchanged alongside an InconsistentLedgerError.
func FoldEntry(summary *SellerLedgerSummary, entry LedgerEntry) (*SellerLedgerSummary, error) {
	if summary == nil {
		summary = NewSellerLedgerSummary(entry.SellerID, entry.Period)
	}
	if summary.grossByOrder == nil {
		summary.grossByOrder = make(map[uuid.UUID]decimal.Decimal)
	}

	if entry.SellerID != summary.SellerID || entry.Period.Key != summary.Period.Key {
		return summary, &InconsistentLedgerError{
			OrderID:          entry.OrderID,
			SellerID:         summary.SellerID,
			PeriodKey:        summary.Period.Key,
			ConflictingGross: entry.GrossAmount,
			Reason:           "belongs to seller " + entry.SellerID + " period " + entry.Period.Key,
		}
	}

	if existing, ok := summary.grossByOrder[entry.OrderID]; ok {
		if existing.Equal(entry.GrossAmount) {
			return summary, nil
		}
		return summary, &InconsistentLedgerError{
			OrderID:          entry.OrderID,
			SellerID:         summary.SellerID,
			PeriodKey:        summary.Period.Key,
			ExistingGross:    existing,
			ConflictingGross: entry.GrossAmount,
			Reason:           "appears twice with different gross amounts",
		}
	}

	summary.grossByOrder[entry.OrderID] = entry.GrossAmount
	summary.OrderCount++
	summary.TotalGross = summary.TotalGross.Add(entry.GrossAmount)
	summary.TotalCommission = summary.TotalCommission.Add(entry.CommissionAmount)
	summary.TotalNet = summary.TotalNet.Add(entry.NetAmount)
	return summary, nil
}

// Aggregate groups entries by seller and period. Duplicate entries for an
// order are counted once; an order that shows up with a different gross or
// under two sellers within a period fails with InconsistentLedgerError.
func Aggregate(entries []LedgerEntry) (map[LedgerKey]*SellerLedgerSummary, error) {
	summaries := make(map[LedgerKey]*SellerLedgerSummary)
	owners := make(map[string]map[uuid.UUID]LedgerEntry)

	for _, entry := range entries {
		seen := owners[entry.Period.Key]
		if seen == nil {
			seen = make(map[uuid.UUID]LedgerEntry)
			owners[entry.Period.Key] = seen
		}
		if first, ok := seen[entry.OrderID]; ok && first.SellerID != entry.SellerID {
			return nil, &InconsistentLedgerError{
				OrderID:          entry.OrderID,
				SellerID:         first.SellerID,
				PeriodKey:        entry.Period.Key,
				ExistingGross:    first.GrossAmount,
				ConflictingGross: entry.GrossAmount,
				Reason:           "is also attributed to seller " + entry.SellerID,
			}
		}
		seen[entry.OrderID] = entry

		key := LedgerKey{SellerID: entry.SellerID, PeriodKey: entry.Period.Key}
		summary, err := FoldEntry(summaries[key], entry)
		if err != nil {
			return nil, err
		}
		summaries[key] = summary
	}
	return summaries, nil
}

// SortedSummaries returns the summaries ordered by period then seller
func SortedSummaries(summaries map[LedgerKey]*SellerLedgerSummary) []*SellerLedgerSummary {
	out := make([]*SellerLedgerSummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *SellerLedgerSummary) int {
		if c := cmp.Compare(a.Period.Key, b.Period.Key); c != 0 {
			return c
		}
		return cmp.Compare(a.SellerID, b.SellerID)
	})
	return out
}

// LedgerTotals is the sum of many seller summaries
type LedgerTotals struct {
	SellerCount     int
	OrderCount      int
	TotalGross      decimal.Decimal
	TotalCommission decimal.Decimal
	TotalNet        decimal.Decimal
}

// Totals folds summaries into platform-wide totals
func Totals(summaries []*SellerLedgerSummary) LedgerTotals {
	totals := LedgerTotals{
		TotalGross:      decimal.Zero,
		TotalCommission: decimal.Zero,
		TotalNet:        decimal.Zero,
	}
	sellers := make(map[string]struct{}, len(summaries))
	for _, s := range summaries {
		sellers[s.SellerID] = struct{}{}
		totals.OrderCount += s.OrderCount
		totals.TotalGross = totals.TotalGross.Add(s.TotalGross)
		totals.TotalCommission = totals.TotalCommission.Add(s.TotalCommission)
		totals.TotalNet = totals.TotalNet.Add(s.TotalNet)
	}
	totals.SellerCount = len(sellers)
	return totals
}
