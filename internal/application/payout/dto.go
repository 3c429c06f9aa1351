package payout

import (
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/shopspring/decimal"
)

// ==================== Order DTOs ====================

// LineItemInput is one product line of an order intake request
type LineItemInput struct {
	ProductID   string          `json:"product_id" binding:"required,max=100"`
	ProductName string          `json:"product_name" binding:"max=200"`
	UnitPrice   decimal.Decimal `json:"unit_price" binding:"required"`
	Quantity    int             `json:"quantity" binding:"required,min=1"`
}

// RecordOrderRequest records a new order
type RecordOrderRequest struct {
	SellerID string          `json:"seller_id" binding:"required,max=100"`
	BuyerID  string          `json:"buyer_id" binding:"max=100"`
	Currency string          `json:"currency" binding:"omitempty,len=3"`
	Items    []LineItemInput `json:"items" binding:"required,min=1,dive"`
	PlacedAt *time.Time      `json:"placed_at"`
}

// UpdateOrderStatusRequest changes an order's fulfilment status
type UpdateOrderStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=pending confirmed preparing shipped delivered cancelled"`
}

// LineItemResponse is a line item in API responses
type LineItemResponse struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	UnitPrice   string `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	Subtotal    string `json:"subtotal"`
}

// OrderResponse is an order with its ledger split
type OrderResponse struct {
	ID                  uuid.UUID           `json:"id"`
	OrderNumber         string              `json:"order_number"`
	SellerID            string              `json:"seller_id"`
	BuyerID             string              `json:"buyer_id,omitempty"`
	Status              string              `json:"status"`
	Currency            string              `json:"currency"`
	Items               []LineItemResponse  `json:"items"`
	CapturedRatePercent string              `json:"captured_rate_percent,omitempty"`
	PlacedAt            time.Time           `json:"placed_at"`
	Version             int                 `json:"version"`
	Ledger              LedgerEntryResponse `json:"ledger"`
}

// LedgerEntryResponse is the financial split of one order
type LedgerEntryResponse struct {
	OrderID           uuid.UUID `json:"order_id"`
	OrderNumber       string    `json:"order_number"`
	SellerID          string    `json:"seller_id"`
	OrderStatus       string    `json:"order_status"`
	Period            string    `json:"period"`
	PlacedAt          time.Time `json:"placed_at"`
	GrossAmount       string    `json:"gross_amount"`
	CommissionPercent string    `json:"commission_percent"`
	CommissionAmount  string    `json:"commission_amount"`
	NetAmount         string    `json:"net_amount"`
}

// ==================== Payout DTOs ====================

// MarkTransferredRequest records a completed external transfer
type MarkTransferredRequest struct {
	Amount            decimal.Decimal `json:"amount" binding:"required"`
	TransferReference string          `json:"transfer_reference" binding:"required,max=100"`
}

// PayoutTransitionResponse is one audit entry
type PayoutTransitionResponse struct {
	Sequence   int       `json:"sequence"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Actor      string    `json:"actor"`
	Amount     string    `json:"amount"`
	Reference  string    `json:"reference,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PayoutResponse is a payout record in API responses
type PayoutResponse struct {
	SellerID          string                     `json:"seller_id"`
	Period            string                     `json:"period"`
	Status            string                     `json:"status"`
	Amount            string                     `json:"amount"`
	TransferReference string                     `json:"transfer_reference,omitempty"`
	ProcessingAt      *time.Time                 `json:"processing_at,omitempty"`
	TransferredAt     *time.Time                 `json:"transferred_at,omitempty"`
	LastActor         string                     `json:"last_actor,omitempty"`
	Version           int                        `json:"version"`
	History           []PayoutTransitionResponse `json:"history"`
}

// ==================== Reconciliation DTOs ====================

// SellerLedgerResponse is one seller's totals within a global summary
type SellerLedgerResponse struct {
	SellerID        string `json:"seller_id"`
	OrderCount      int    `json:"order_count"`
	TotalGross      string `json:"total_gross"`
	TotalCommission string `json:"total_commission"`
	TotalNet        string `json:"total_net"`
	PayoutStatus    string `json:"payout_status"`
	PayoutAmount    string `json:"payout_amount,omitempty"`
}

// GlobalSummaryResponse aggregates every seller of a period
type GlobalSummaryResponse struct {
	Period          string                 `json:"period"`
	SellerCount     int                    `json:"seller_count"`
	OrderCount      int                    `json:"order_count"`
	TotalGross      string                 `json:"total_gross"`
	TotalCommission string                 `json:"total_commission"`
	TotalNet        string                 `json:"total_net"`
	PayoutCounts    map[string]int         `json:"payout_counts"`
	Sellers         []SellerLedgerResponse `json:"sellers"`
}

// SellerSummaryResponse is the full reconciliation view of one seller and period
type SellerSummaryResponse struct {
	SellerID          string                     `json:"seller_id"`
	Period            string                     `json:"period"`
	OrderCount        int                        `json:"order_count"`
	TotalGross        string                     `json:"total_gross"`
	TotalCommission   string                     `json:"total_commission"`
	TotalNet          string                     `json:"total_net"`
	PayoutStatus      string                     `json:"payout_status"`
	PayoutAmount      string                     `json:"payout_amount,omitempty"`
	TransferReference string                     `json:"transfer_reference,omitempty"`
	History           []PayoutTransitionResponse `json:"history"`
	OrderStatusCounts map[string]int             `json:"order_status_counts"`
	Entries           []LedgerEntryResponse      `json:"entries"`
}

// ExportResponse points at an uploaded reconciliation file
type ExportResponse struct {
	Period      string    `json:"period"`
	ObjectKey   string    `json:"object_key"`
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
	SellerCount int       `json:"seller_count"`
	SizeBytes   int       `json:"size_bytes"`
}

// PeriodTransferResponse is one month of a seller's transfer history
type PeriodTransferResponse struct {
	Period            string     `json:"period"`
	OrderCount        int        `json:"order_count"`
	TotalGross        string     `json:"total_gross"`
	TotalCommission   string     `json:"total_commission"`
	TotalNet          string     `json:"total_net"`
	PayoutStatus      string     `json:"payout_status"`
	PayoutAmount      string     `json:"payout_amount,omitempty"`
	TransferReference string     `json:"transfer_reference,omitempty"`
	TransferredAt     *time.Time `json:"transferred_at,omitempty"`
}

// SellerTransferHistoryResponse lists a seller's payouts month by month,
// newest first. Payouts recorded for days, weeks or years are listed apart.
type SellerTransferHistoryResponse struct {
	SellerID         string                   `json:"seller_id"`
	OrderCount       int                      `json:"order_count"`
	TotalGross       string                   `json:"total_gross"`
	TotalCommission  string                   `json:"total_commission"`
	TotalNet         string                   `json:"total_net"`
	TotalTransferred string                   `json:"total_transferred"`
	Months           []PeriodTransferResponse `json:"months"`
	OtherPayouts     []PayoutResponse         `json:"other_payouts"`
}

// ==================== Transfer batch DTOs ====================

// CreateTransferBatchRequest pays several sellers for one period
type CreateTransferBatchRequest struct {
	Period         string   `json:"period" binding:"required,max=20"`
	SellerIDs      []string `json:"seller_ids" binding:"required,min=1,max=500,dive,required,max=100"`
	BatchReference string   `json:"batch_reference" binding:"omitempty,max=50"`
	// DryRun plans the batch without recording any transfer
	DryRun bool `json:"dry_run"`
}

// Transfer batch item outcomes
const (
	BatchItemPlanned            = "planned"
	BatchItemTransferred        = "transferred"
	BatchItemNothingOwed        = "nothing_owed"
	BatchItemAlreadyTransferred = "already_transferred"
	BatchItemFailed             = "failed"
)

// TransferBatchItemResponse is one seller's line of a transfer batch
type TransferBatchItemResponse struct {
	SellerID          string          `json:"seller_id"`
	OrderCount        int             `json:"order_count"`
	TotalNet          string          `json:"total_net"`
	Amount            string          `json:"amount"`
	TransferReference string          `json:"transfer_reference,omitempty"`
	Outcome           string          `json:"outcome"`
	Error             string          `json:"error,omitempty"`
	Payout            *PayoutResponse `json:"payout,omitempty"`
}

// TransferBatchResponse is the result of a transfer batch
type TransferBatchResponse struct {
	BatchReference   string                      `json:"batch_reference"`
	Period           string                      `json:"period"`
	DryRun           bool                        `json:"dry_run"`
	TransfersCount   int                         `json:"transfers_count"`
	BatchTotal       string                      `json:"batch_total"`
	TransferredCount int                         `json:"transferred_count"`
	TransferredTotal string                      `json:"transferred_total"`
	FailedCount      int                         `json:"failed_count"`
	Items            []TransferBatchItemResponse `json:"items"`
}

// ==================== Commission DTOs ====================

// UpdateCommissionConfigRequest replaces the flat commission rate
type UpdateCommissionConfigRequest struct {
	RatePercent decimal.Decimal `json:"rate_percent" binding:"required"`
	Active      *bool           `json:"active"`
	Description string          `json:"description" binding:"max=500"`
}

// UpdateSellerOverridesRequest replaces all per-seller rates, given in percent
type UpdateSellerOverridesRequest struct {
	Overrides map[string]decimal.Decimal `json:"overrides"`
}

// CommissionConfigResponse is the stored commission configuration
type CommissionConfigResponse struct {
	RatePercent          string            `json:"rate_percent"`
	EffectiveRatePercent string            `json:"effective_rate_percent"`
	Currency             string            `json:"currency"`
	Active               bool              `json:"active"`
	Description          string            `json:"description"`
	SellerOverrides      map[string]string `json:"seller_overrides"`
	UpdatedBy            string            `json:"updated_by"`
	UpdatedAt            time.Time         `json:"updated_at"`
	Version              int               `json:"version"`
}

// CommissionPeriodStats is the commission taken within one period
type CommissionPeriodStats struct {
	Granularity       string `json:"granularity"`
	Period            string `json:"period"`
	OrderCount        int    `json:"order_count"`
	TotalRevenue      string `json:"total_revenue"`
	TotalCommission   string `json:"total_commission"`
	TotalNet          string `json:"total_net"`
	AverageCommission string `json:"average_commission"`
}

// CommissionStatsResponse reports commission for the current day, week, month and all time
type CommissionStatsResponse struct {
	RatePercent string                  `json:"rate_percent"`
	Active      bool                    `json:"active"`
	Currency    string                  `json:"currency"`
	Periods     []CommissionPeriodStats `json:"periods"`
}

// ==================== Mapping ====================

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func percent(rate decimal.Decimal) string {
	return payout.RateToPercent(rate).StringFixed(2)
}

// ToLedgerEntryResponse maps a ledger entry
func ToLedgerEntryResponse(e payout.LedgerEntry) LedgerEntryResponse {
	return LedgerEntryResponse{
		OrderID:           e.OrderID,
		OrderNumber:       e.OrderNumber,
		SellerID:          e.SellerID,
		OrderStatus:       string(e.OrderStatus),
		Period:            e.Period.Key,
		PlacedAt:          e.PlacedAt,
		GrossAmount:       money(e.GrossAmount),
		CommissionPercent: percent(e.CommissionRate),
		CommissionAmount:  money(e.CommissionAmount),
		NetAmount:         money(e.NetAmount),
	}
}

// ToLedgerEntryResponses maps a slice of ledger entries
func ToLedgerEntryResponses(entries []payout.LedgerEntry) []LedgerEntryResponse {
	out := make([]LedgerEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = ToLedgerEntryResponse(e)
	}
	return out
}

// ToOrderResponse maps an order and its ledger entry
func ToOrderResponse(o *payout.Order, entry payout.LedgerEntry) OrderResponse {
	items := make([]LineItemResponse, len(o.LineItems))
	for i, li := range o.LineItems {
		items[i] = LineItemResponse{
			ProductID:   li.ProductID,
			ProductName: li.ProductName,
			UnitPrice:   money(li.UnitPrice),
			Quantity:    li.Quantity,
			Subtotal:    money(payout.RoundMoney(li.Subtotal())),
		}
	}
	resp := OrderResponse{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		SellerID:    o.SellerID,
		BuyerID:     o.BuyerID,
		Status:      string(o.Status),
		Currency:    o.Currency,
		Items:       items,
		PlacedAt:    o.PlacedAt,
		Version:     o.Version,
		Ledger:      ToLedgerEntryResponse(entry),
	}
	if o.CommissionRate != nil {
		resp.CapturedRatePercent = percent(*o.CommissionRate)
	}
	return resp
}

// ToPayoutTransitionResponses maps an audit history
func ToPayoutTransitionResponses(history []payout.PayoutTransition) []PayoutTransitionResponse {
	out := make([]PayoutTransitionResponse, len(history))
	for i, t := range history {
		out[i] = PayoutTransitionResponse{
			Sequence:   t.Sequence,
			From:       string(t.From),
			To:         string(t.To),
			Actor:      t.Actor,
			Amount:     money(t.Amount),
			Reference:  t.Reference,
			OccurredAt: t.OccurredAt,
		}
	}
	return out
}

// ToPayoutResponse maps a payout record
func ToPayoutResponse(r *payout.PayoutRecord) PayoutResponse {
	return PayoutResponse{
		SellerID:          r.SellerID,
		Period:            r.PeriodKey,
		Status:            string(r.Status),
		Amount:            money(r.Amount),
		TransferReference: r.TransferReference,
		ProcessingAt:      r.ProcessingAt,
		TransferredAt:     r.TransferredAt,
		LastActor:         r.LastActor,
		Version:           r.Version,
		History:           ToPayoutTransitionResponses(r.History),
	}
}

// ToCommissionConfigResponse maps stored commission settings
func ToCommissionConfigResponse(s *payout.CommissionSettings) CommissionConfigResponse {
	overrides := make(map[string]string, len(s.SellerOverrides))
	for sellerID, rate := range s.SellerOverrides {
		overrides[sellerID] = percent(rate)
	}
	return CommissionConfigResponse{
		RatePercent:          percent(s.Rate),
		EffectiveRatePercent: percent(s.EffectiveRate()),
		Currency:             s.Currency,
		Active:               s.Active,
		Description:          s.Description,
		SellerOverrides:      overrides,
		UpdatedBy:            s.UpdatedBy,
		UpdatedAt:            s.UpdatedAt,
		Version:              s.Version,
	}
}
