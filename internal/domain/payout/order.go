package payout

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// OrderStatus is the fulfilment status of an order. It has no bearing on
// payout amounts.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// AllOrderStatuses returns every fulfilment status in lifecycle order
func AllOrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusPending,
		OrderStatusConfirmed,
		OrderStatusPreparing,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusCancelled,
	}
}

// IsValid checks if the status is known
func (s OrderStatus) IsValid() bool {
	for _, st := range AllOrderStatuses() {
		if s == st {
			return true
		}
	}
	return false
}

// LineItem is a single product line within an order
type LineItem struct {
	ProductID   string
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
}

// Subtotal returns unit price times quantity, unrounded
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Order is a buyer's purchase from exactly one seller.
// CommissionRate holds the rate in effect when the order was recorded;
// nil means the order predates rate capture and the current policy applies.
type Order struct {
	shared.BaseAggregateRoot
	OrderNumber    string
	SellerID       string
	BuyerID        string
	Status         OrderStatus
	Currency       string
	LineItems      []LineItem
	CommissionRate *decimal.Decimal
	PlacedAt       time.Time
}

// NewOrder creates a confirmed order and records an OrderRecorded event.
func NewOrder(sellerID, buyerID, currency string, items []LineItem, placedAt time.Time) (*Order, error) {
	if placedAt.IsZero() {
		placedAt = time.Now()
	}
	o := &Order{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		OrderNumber:       GenerateOrderNumber(placedAt),
		SellerID:          strings.TrimSpace(sellerID),
		BuyerID:           strings.TrimSpace(buyerID),
		Status:            OrderStatusConfirmed,
		Currency:          currency,
		LineItems:         items,
		PlacedAt:          placedAt,
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}

	o.AddDomainEvent(NewOrderRecordedEvent(o))
	return o, nil
}

// Validate checks the invariants a ledger entry depends on.
func (o *Order) Validate() error {
	if o.SellerID == "" {
		return &InvalidOrderError{OrderID: o.ID, Reason: "seller id is required"}
	}
	if len(o.LineItems) == 0 {
		return &InvalidOrderError{OrderID: o.ID, SellerID: o.SellerID, Reason: "order has no line items"}
	}
	for i, li := range o.LineItems {
		if li.UnitPrice.IsNegative() {
			return &InvalidOrderError{
				OrderID:  o.ID,
				SellerID: o.SellerID,
				Reason:   fmt.Sprintf("line item %d has negative unit price %s", i+1, li.UnitPrice.String()),
			}
		}
		if !FitsScale(li.UnitPrice, PriceScale) {
			return &InvalidOrderError{
				OrderID:  o.ID,
				SellerID: o.SellerID,
				Reason:   fmt.Sprintf("line item %d unit price %s has more than %d decimal places", i+1, li.UnitPrice.String(), PriceScale),
			}
		}
		if li.Quantity < 1 {
			return &InvalidOrderError{
				OrderID:  o.ID,
				SellerID: o.SellerID,
				Reason:   fmt.Sprintf("line item %d has quantity %d, must be at least 1", i+1, li.Quantity),
			}
		}
	}
	return nil
}

// CaptureCommissionRate pins the rate that will be used for this order's ledger entry
func (o *Order) CaptureCommissionRate(rate decimal.Decimal) error {
	if err := ValidateRate(rate); err != nil {
		return err
	}
	o.CommissionRate = &rate
	return nil
}

// UpdateStatus changes the fulfilment status. Ledger amounts are unaffected.
func (o *Order) UpdateStatus(status OrderStatus) error {
	if !status.IsValid() {
		return shared.NewDomainError("INVALID_ORDER_STATUS", fmt.Sprintf("unknown order status %q", status))
	}
	if o.Status == status {
		return nil
	}
	previous := o.Status
	o.Status = status
	o.UpdatedAt = time.Now()
	o.IncrementVersion()

	o.AddDomainEvent(NewOrderStatusChangedEvent(o, previous))
	return nil
}

const orderNumberAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GenerateOrderNumber returns ORD-<unix millis>-<9 random base36 chars>
func GenerateOrderNumber(at time.Time) string {
	var sb strings.Builder
	sb.WriteString("ORD-")
	sb.WriteString(strconv.FormatInt(at.UnixMilli(), 10))
	sb.WriteByte('-')
	for range 9 {
		sb.WriteByte(orderNumberAlphabet[rand.IntN(len(orderNumberAlphabet))])
	}
	return sb.String()
}
