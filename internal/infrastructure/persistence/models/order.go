package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/shopspring/decimal"
)

// OrderModel is the persistence model for the Order aggregate root.
type OrderModel struct {
	AggregateModel
	OrderNumber    string             `gorm:"type:varchar(50);not null;uniqueIndex"`
	SellerID       string             `gorm:"type:varchar(100);not null;index:idx_orders_seller_placed,priority:1"`
	BuyerID        string             `gorm:"type:varchar(100)"`
	Status         payout.OrderStatus `gorm:"type:varchar(20);not null;default:'confirmed'"`
	Currency       string             `gorm:"type:varchar(3);not null"`
	CommissionRate *decimal.Decimal   `gorm:"type:decimal(7,6)"`
	PlacedAt       time.Time          `gorm:"not null;index;index:idx_orders_seller_placed,priority:2"`
	Items          []OrderItemModel   `gorm:"foreignKey:OrderID;references:ID"`
}

// TableName returns the table name for GORM
func (OrderModel) TableName() string {
	return "orders"
}

// ToDomain converts the persistence model to a domain Order.
func (m *OrderModel) ToDomain() *payout.Order {
	o := &payout.Order{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		OrderNumber:       m.OrderNumber,
		SellerID:          m.SellerID,
		BuyerID:           m.BuyerID,
		Status:            m.Status,
		Currency:          m.Currency,
		CommissionRate:    m.CommissionRate,
		PlacedAt:          m.PlacedAt,
		LineItems:         make([]payout.LineItem, len(m.Items)),
	}
	for i, item := range m.Items {
		o.LineItems[i] = item.ToDomain()
	}
	return o
}

// FromDomain populates the persistence model from a domain Order.
func (m *OrderModel) FromDomain(o *payout.Order) {
	m.FromDomainAggregateRoot(o.BaseAggregateRoot)
	m.OrderNumber = o.OrderNumber
	m.SellerID = o.SellerID
	m.BuyerID = o.BuyerID
	m.Status = o.Status
	m.Currency = o.Currency
	m.CommissionRate = o.CommissionRate
	m.PlacedAt = o.PlacedAt.UTC()
	m.Items = make([]OrderItemModel, len(o.LineItems))
	for i, li := range o.LineItems {
		m.Items[i] = OrderItemModel{
			ID:          uuid.New(),
			OrderID:     o.ID,
			Position:    i + 1,
			ProductID:   li.ProductID,
			ProductName: li.ProductName,
			UnitPrice:   li.UnitPrice,
			Quantity:    li.Quantity,
		}
	}
}

// OrderModelFromDomain creates a new persistence model from a domain Order.
func OrderModelFromDomain(o *payout.Order) *OrderModel {
	m := &OrderModel{}
	m.FromDomain(o)
	return m
}

// OrderItemModel is the persistence model for an order line item.
type OrderItemModel struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey"`
	OrderID     uuid.UUID       `gorm:"type:uuid;not null;index"`
	Position    int             `gorm:"not null"`
	ProductID   string          `gorm:"type:varchar(100)"`
	ProductName string          `gorm:"type:varchar(200)"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Quantity    int             `gorm:"not null"`
}

// TableName returns the table name for GORM
func (OrderItemModel) TableName() string {
	return "order_items"
}

// ToDomain converts the persistence model to a domain LineItem.
func (m *OrderItemModel) ToDomain() payout.LineItem {
	return payout.LineItem{
		ProductID:   m.ProductID,
		ProductName: m.ProductName,
		UnitPrice:   m.UnitPrice,
		Quantity:    m.Quantity,
	}
}
