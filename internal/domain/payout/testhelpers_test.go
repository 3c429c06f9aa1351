package payout

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func item(price string, qty int) LineItem {
	return LineItem{ProductID: uuid.NewString(), ProductName: "Item", UnitPrice: d(price), Quantity: qty}
}

func testOrder(t *testing.T, sellerID string, placedAt time.Time, items ...LineItem) *Order {
	t.Helper()
	o, err := NewOrder(sellerID, "buyer-1", DefaultCurrency, items, placedAt)
	require.NoError(t, err)
	return o
}

// entryWithGross builds an entry directly, bypassing order validation
func entryWithGross(t *testing.T, sellerID string, period Period, gross string) LedgerEntry {
	t.Helper()
	o := &Order{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		SellerID:          sellerID,
		Status:            OrderStatusConfirmed,
		LineItems:         []LineItem{item(gross, 1)},
		PlacedAt:          period.Start,
	}
	e, err := BuildEntry(o, FlatRatePolicy{Rate: d("0.10")})
	require.NoError(t, err)
	e.Period = period
	return e
}

var june2024 = Period{
	Granularity: GranularityMonth,
	Key:         "2024-06",
	Start:       time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	End:         time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
}
